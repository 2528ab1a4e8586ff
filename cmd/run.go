package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/browser"
	"github.com/sells-group/taxid-cli/internal/checkpoint"
	"github.com/sells-group/taxid-cli/internal/config"
	"github.com/sells-group/taxid-cli/internal/lookup"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/orchestrator"
)

var (
	runInput      string
	runCheckpoint string
	runHeadless   bool
	runBatchSize  int
	runRest       int
	runDelay      int
	runProfile    string
	runEngine     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Look up tax ids for every record that still needs one",
	Long:  "Loads the checkpoint (or the input file on a fresh start), looks up every pending or failed record in order and saves the checkpoint after each one.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyRunFlags(cmd, cfg)
		if err := cfg.Validate(); err != nil {
			return err
		}

		profile, err := lookup.LoadProfile(cfg.Site.Profile)
		if err != nil {
			return eris.Wrap(err, "load site profile")
		}

		launcher, err := browser.NewLauncher(cfg.Browser.Engine, browser.Options{
			Headless:      cfg.Lookup.Headless,
			Bin:           cfg.Browser.Bin,
			ActionTimeout: time.Duration(cfg.Browser.ActionTimeoutSecs) * time.Second,
		})
		if err != nil {
			return eris.Wrap(err, "init browser")
		}

		log := zap.L()
		snap := lookup.NewSnapshotter(cfg.Lookup.DiagnosticsDir, log)
		machine := lookup.NewMachine(lookupOptions(cfg.Lookup), profile, snap, log, logLines(log.Named("lookup")))

		deps := orchestrator.Deps{
			Launcher: launcher,
			Looker:   machine,
			Store: checkpoint.Store{
				CheckpointPath: cfg.Lookup.CheckpointPath,
				InputPath:      cfg.Lookup.InputPath,
			},
			Logger:     log,
			OnProgress: logProgress(log),
		}

		if cfg.Journal.Path != "" {
			jr, err := openJournal(ctx)
			if err != nil {
				return err
			}
			defer jr.Close() //nolint:errcheck
			deps.Journal = jr
		}

		orch := orchestrator.New(orchestrator.Config{
			Input:          cfg.Lookup.InputPath,
			Checkpoint:     cfg.Lookup.CheckpointPath,
			BatchSize:      cfg.Lookup.BatchSize,
			Rest:           cfg.Lookup.Rest(),
			PerRecordDelay: cfg.Lookup.PerRecordDelay(),
			StartAttempts:  cfg.Browser.StartAttempts,
		}, deps)

		summary, err := orch.Run(ctx)
		if summary != nil {
			formatCounts(os.Stdout, summary.Counts)
		}
		if err != nil {
			return eris.Wrap(err, "run")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runInput, "input", "", "input spreadsheet (.xlsx or .csv) used when no checkpoint exists")
	runCmd.Flags().StringVar(&runCheckpoint, "checkpoint", "", "checkpoint spreadsheet, rewritten after every record")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "run the browser without a window")
	runCmd.Flags().IntVar(&runBatchSize, "batch-size", 120, "processed records between long rests (0 disables resting)")
	runCmd.Flags().IntVar(&runRest, "rest-seconds", 120, "length of the rest taken every batch-size records")
	runCmd.Flags().IntVar(&runDelay, "delay-seconds", 2, "pause after every processed record")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "site profile YAML (default: built-in masothue.com profile)")
	runCmd.Flags().StringVar(&runEngine, "engine", "rod", "browser engine: rod or playwright")
	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overrides configuration with the flags set on cmd.
func applyRunFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input") {
		c.Lookup.InputPath = runInput
	}
	if flags.Changed("checkpoint") {
		c.Lookup.CheckpointPath = runCheckpoint
	}
	if flags.Changed("headless") {
		c.Lookup.Headless = runHeadless
	}
	if flags.Changed("batch-size") {
		c.Lookup.BatchSize = runBatchSize
	}
	if flags.Changed("rest-seconds") {
		c.Lookup.RestSeconds = runRest
	}
	if flags.Changed("delay-seconds") {
		c.Lookup.PerRecordDelaySeconds = runDelay
	}
	if flags.Changed("profile") {
		c.Site.Profile = runProfile
	}
	if flags.Changed("engine") {
		c.Browser.Engine = runEngine
	}
}

// lookupOptions converts the configured waits into machine options.
func lookupOptions(c config.LookupConfig) lookup.Options {
	opts := lookup.DefaultOptions()
	opts.ReadyPolls = c.ReadyPolls
	opts.ReadyPollInterval = time.Duration(c.ReadyPollIntervalMS) * time.Millisecond
	opts.RefreshEvery = c.RefreshEvery
	opts.ElementTimeout = time.Duration(c.ElementTimeoutSecs) * time.Second
	opts.ResultTimeout = time.Duration(c.ResultTimeoutSecs) * time.Second
	opts.StaleRetries = c.StaleRetries
	opts.Debounce = time.Duration(c.DebounceMS) * time.Millisecond
	return opts
}

func logProgress(log *zap.Logger) orchestrator.ProgressFunc {
	return func(seen, total int) {
		log.Info("progress", zap.Int("seen", seen), zap.Int("total", total))
	}
}

// logLines renders lookup state transitions at info level.
func logLines(log *zap.Logger) model.LogFunc {
	return func(msg string) {
		log.Info(msg)
	}
}
