package main

import (
	"io"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/taxid-cli/internal/checkpoint"
	"github.com/sells-group/taxid-cli/internal/model"
)

var statusCheckpoint string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-status record counts of a checkpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := cfg.Lookup.CheckpointPath
		if cmd.Flags().Changed("checkpoint") {
			path = statusCheckpoint
		}
		if path == "" {
			return eris.New("status: --checkpoint is required")
		}

		batch, err := checkpoint.ReadFile(path)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		formatCounts(os.Stdout, checkpoint.Summarize(batch))
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusCheckpoint, "checkpoint", "", "checkpoint spreadsheet to summarize")
	rootCmd.AddCommand(statusCmd)
}

// formatCounts renders one row per status plus a total.
func formatCounts(out io.Writer, counts map[model.Status]int) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"Status", "Records"})
	total := 0
	for _, st := range model.AllStatuses {
		n := counts[st]
		total += n
		t.AppendRow(table.Row{st.String(), n})
	}
	t.AppendFooter(table.Row{"Total", total})
	t.SetStyle(table.StyleRounded)
	t.Render()
}
