package model

import "time"

// LogFunc receives human-readable progress messages.
type LogFunc func(msg string)

// Record is one subject of a batch: a national id and its lookup result.
type Record struct {
	Index  int    `json:"index"`
	ID     string `json:"id"`
	TaxID  string `json:"tax_id"`
	Name   string `json:"name"`
	Status Status `json:"status"`
}

// Outcome is the classified result of one lookup attempt.
type Outcome struct {
	Status Status `json:"status"`
	TaxID  string `json:"tax_id,omitempty"`
	Name   string `json:"name,omitempty"`
	// Detail carries diagnostics such as the failing step or snapshot path.
	Detail string `json:"detail,omitempty"`
}

// Succeeded builds a Success outcome.
func Succeeded(taxID, name string) Outcome {
	return Outcome{Status: StatusSuccess, TaxID: taxID, Name: name}
}

// Failed builds a not-found or error outcome. Result fields stay empty.
func Failed(status Status, detail string) Outcome {
	return Outcome{Status: status, Detail: detail}
}

// Attempt is one lookup of one record within a run, as journaled.
type Attempt struct {
	ID        string        `json:"id"`
	RunID     string        `json:"run_id"`
	RowIndex  int           `json:"row_index"`
	SubjectID string        `json:"subject_id"`
	Number    int           `json:"number"`
	Outcome   Outcome       `json:"outcome"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// LookupRunStatus is the lifecycle state of a journaled run.
type LookupRunStatus string

const (
	LookupRunRunning  LookupRunStatus = "running"
	LookupRunComplete LookupRunStatus = "complete"
	LookupRunFailed   LookupRunStatus = "failed"
)

// LookupRun is one invocation of the batch orchestrator, as journaled.
type LookupRun struct {
	ID         string          `json:"id"`
	Input      string          `json:"input"`
	Checkpoint string          `json:"checkpoint"`
	Total      int             `json:"total"`
	Status     LookupRunStatus `json:"status"`
	Summary    *RunSummary     `json:"summary,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// RunSummary aggregates the results of one orchestrator run.
type RunSummary struct {
	Total     int            `json:"total"`
	Seen      int            `json:"seen"`
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Retries   int            `json:"retries"`
	Counts    map[Status]int `json:"counts"`
	Elapsed   time.Duration  `json:"elapsed"`
	Error     string         `json:"error,omitempty"`
}
