// Package journal keeps an optional audit log of runs and lookup attempts.
// The checkpoint file stays the source of truth; the journal only answers
// "what happened" questions after the fact.
package journal

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxid-cli/internal/model"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = eris.New("journal: run not found")

// Store persists runs and their attempts.
type Store interface {
	CreateRun(ctx context.Context, input, checkpoint string, total int) (*model.LookupRun, error)
	RecordAttempt(ctx context.Context, a *model.Attempt) error
	CompleteRun(ctx context.Context, runID string, status model.LookupRunStatus, summary *model.RunSummary) error
	GetRun(ctx context.Context, runID string) (*model.LookupRun, error)
	ListRuns(ctx context.Context, limit int) ([]model.LookupRun, error)
	ListAttempts(ctx context.Context, runID string) ([]model.Attempt, error)

	Migrate(ctx context.Context) error
	Close() error
}
