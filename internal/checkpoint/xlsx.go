package checkpoint

import (
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

const defaultSheet = "Sheet1"

// readXLSX returns the rows of the first worksheet and its name.
func readXLSX(path string) ([][]string, string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, "", eris.Wrapf(err, "checkpoint: open xlsx %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, "", eris.Errorf("checkpoint: %s has no worksheets", path)
	}

	sheet := f.Sheets[0]
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cellText(cell)
		}
		rows = append(rows, cells)
	}
	return rows, sheet.Name, nil
}

// cellText returns the text of a cell as it would be typed. Numeric cells
// with a general or integer format are written out in full, so long ids
// never turn into scientific notation.
func cellText(cell *xlsx.Cell) string {
	if cell == nil {
		return ""
	}
	if cell.Type() == xlsx.CellTypeNumeric && plainNumberFormat(cell.NumFmt) {
		if v, err := strconv.ParseFloat(strings.TrimSpace(cell.Value), 64); err == nil {
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return cell.String()
}

func plainNumberFormat(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "general", "0", "@":
		return true
	}
	return false
}

func writeXLSX(w io.Writer, b *Batch) error {
	name := b.Sheet
	if name == "" {
		name = defaultSheet
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet(name)
	if err != nil {
		return eris.Wrapf(err, "checkpoint: add sheet %q", name)
	}
	addRow(sheet, b.Header)
	for _, row := range b.Rows {
		addRow(sheet, row)
	}
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "checkpoint: write xlsx")
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, values []string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
