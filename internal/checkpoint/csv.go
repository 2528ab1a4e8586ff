package checkpoint

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// utf8BOM prefixes CSV checkpoints so spreadsheet tools read Vietnamese
// text as UTF-8.
const utf8BOM = "\ufeff"

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: open csv %s", path)
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // allow ragged rows
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "checkpoint: read csv %s", path)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], utf8BOM)
	}
	return rows, nil
}

func writeCSV(w io.Writer, b *Batch) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return eris.Wrap(err, "checkpoint: write csv")
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(b.Header); err != nil {
		return eris.Wrap(err, "checkpoint: write csv header")
	}
	if err := cw.WriteAll(b.Rows); err != nil {
		return eris.Wrap(err, "checkpoint: write csv rows")
	}
	return nil
}
