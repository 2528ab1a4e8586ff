// Package checkpoint loads and persists the batch of records a run works
// through. The checkpoint file is the only durable state of a run.
package checkpoint

import (
	"strings"

	"github.com/sells-group/taxid-cli/internal/model"
)

// Source says which file a batch was loaded from.
type Source string

const (
	SourceCheckpoint Source = "checkpoint"
	SourceInput      Source = "input"
)

// Batch is the full table of one run. Cells are strings; rows are never
// reordered, so a record's identity is its row index.
type Batch struct {
	Header []string
	Rows   [][]string
	// Sheet is the worksheet name kept across XLSX round trips.
	Sheet string

	cols [numFields]int
}

// NewBatch normalizes header and rows into a batch: canonical columns are
// located and relabelled, missing ones appended, short rows padded and
// trailing blank rows dropped. Cell text is otherwise kept as is.
func NewBatch(header []string, rows [][]string) *Batch {
	end := len(rows)
	for end > 0 && blank(rows[end-1]) {
		end--
	}
	rows = rows[:end]

	// Cells beyond the header get unnamed columns of their own.
	width := len(header)
	for _, row := range rows {
		width = max(width, len(row))
	}
	b := &Batch{Header: make([]string, width)}
	copy(b.Header, header)
	b.cols = resolveColumns(b.Header)
	for f := Field(0); f < numFields; f++ {
		if b.cols[f] >= 0 {
			b.Header[b.cols[f]] = f.Label()
			continue
		}
		b.Header = append(b.Header, f.Label())
		b.cols[f] = len(b.Header) - 1
	}

	b.Rows = make([][]string, len(rows))
	for i, row := range rows {
		padded := make([]string, len(b.Header))
		copy(padded, row)
		b.Rows[i] = padded
	}
	return b
}

// Len returns the number of records.
func (b *Batch) Len() int { return len(b.Rows) }

// Column returns the header position of f.
func (b *Batch) Column(f Field) int { return b.cols[f] }

// Record reads row i as a record. A Success status without a tax id reads
// as Pending.
func (b *Batch) Record(i int) model.Record {
	row := b.Rows[i]
	r := model.Record{
		Index:  i,
		ID:     strings.TrimSpace(row[b.cols[FieldID]]),
		TaxID:  strings.TrimSpace(row[b.cols[FieldTaxID]]),
		Name:   strings.TrimSpace(row[b.cols[FieldName]]),
		Status: model.ParseStatus(row[b.cols[FieldStatus]]),
	}
	if r.Status == model.StatusSuccess && r.TaxID == "" {
		r.Status = model.StatusPending
	}
	return r
}

// Apply writes an outcome into row i. Result fields are overwritten even
// when empty so a failed retry never leaves stale values behind.
func (b *Batch) Apply(i int, out model.Outcome) {
	row := b.Rows[i]
	row[b.cols[FieldTaxID]] = out.TaxID
	row[b.cols[FieldName]] = out.Name
	row[b.cols[FieldStatus]] = out.Status.String()
}

// Summarize counts records with a non-empty id by status.
func Summarize(b *Batch) map[model.Status]int {
	counts := make(map[model.Status]int)
	for i := range b.Rows {
		r := b.Record(i)
		if r.ID == "" {
			continue
		}
		counts[r.Status]++
	}
	return counts
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
