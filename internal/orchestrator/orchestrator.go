// Package orchestrator runs a batch: it walks the records in order, looks up
// the ones that still need it, retries session failures once on a fresh
// browser, checkpoints after every record and paces itself between lookups.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/browser"
	"github.com/sells-group/taxid-cli/internal/checkpoint"
	"github.com/sells-group/taxid-cli/internal/journal"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/resilience"
)

// Looker performs one lookup attempt on a live session.
type Looker interface {
	Lookup(ctx context.Context, drv browser.Driver, id string) model.Outcome
}

// Store loads and persists the batch.
type Store interface {
	Load() (*checkpoint.Batch, checkpoint.Source, error)
	Save(b *checkpoint.Batch) error
}

// ProgressFunc receives (records seen, total records) after every row.
type ProgressFunc func(seen, total int)

// Config controls pacing and session start-up.
type Config struct {
	// Input and Checkpoint are recorded in the journal only.
	Input      string
	Checkpoint string

	// BatchSize is how many processed records trigger a Rest. Zero
	// disables resting.
	BatchSize      int
	Rest           time.Duration
	PerRecordDelay time.Duration

	StartAttempts int
	StartBackoff  time.Duration
}

// Deps are the orchestrator's collaborators. Journal, Logger, OnLog,
// OnProgress and Sleep are optional.
type Deps struct {
	Launcher browser.Launcher
	Looker   Looker
	Store    Store
	Journal  journal.Store

	Logger     *zap.Logger
	OnLog      model.LogFunc
	OnProgress ProgressFunc
	Sleep      resilience.SleepFunc
}

// Orchestrator owns the batch and the browser session for one run.
type Orchestrator struct {
	cfg  Config
	deps Deps
	log  *zap.Logger

	drv   browser.Driver
	runID string
}

// New creates an orchestrator.
func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.StartAttempts <= 0 {
		cfg.StartAttempts = 3
	}
	if cfg.StartBackoff <= 0 {
		cfg.StartBackoff = 2 * time.Second
	}
	if cfg.BatchSize < 0 {
		cfg.BatchSize = 0
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Sleep == nil {
		deps.Sleep = resilience.Sleep
	}
	return &Orchestrator{cfg: cfg, deps: deps, log: deps.Logger}
}

// Run processes the batch once. Per-record failures end up in the record's
// status; an error is returned only when the run cannot continue: the batch
// cannot be loaded or saved, no browser session can be started, or ctx ends.
// The returned summary is non-nil whenever the batch was loaded.
func (o *Orchestrator) Run(ctx context.Context) (*model.RunSummary, error) {
	start := time.Now()

	batch, src, err := o.deps.Store.Load()
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: load batch")
	}
	total := batch.Len()
	summary := &model.RunSummary{Total: total}
	o.note(fmt.Sprintf("loaded %d records from %s", total, src))
	o.openRun(ctx, total)

	err = o.process(ctx, batch, summary)
	o.closeSession()

	summary.Counts = checkpoint.Summarize(batch)
	summary.Elapsed = time.Since(start).Round(time.Millisecond)
	if err != nil {
		summary.Error = err.Error()
	}
	o.closeRun(ctx, summary, err)
	o.report(summary)
	return summary, err
}

func (o *Orchestrator) process(ctx context.Context, batch *checkpoint.Batch, summary *model.RunSummary) error {
	if err := o.startSession(ctx); err != nil {
		return err
	}

	total := batch.Len()
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec := batch.Record(i)
		switch {
		case rec.ID == "":
			summary.Skipped++
			o.log.Debug("orchestrator: skipping row without id", zap.Int("row", i))
		case !rec.Status.Eligible():
			summary.Skipped++
			o.note(fmt.Sprintf("row %d: %s already %s, skipping", i, rec.ID, rec.Status))
		default:
			out, retried, err := o.lookup(ctx, rec)
			if err != nil {
				return err
			}
			if retried {
				summary.Retries++
			}

			batch.Apply(i, out)
			if err := o.deps.Store.Save(batch); err != nil {
				return eris.Wrapf(err, "orchestrator: save after row %d", i)
			}
			summary.Processed++
			msg := fmt.Sprintf("row %d: %s -> %s", i, rec.ID, out.Status)
			if out.TaxID != "" {
				msg += fmt.Sprintf(" (%s, %s)", out.TaxID, out.Name)
			}
			o.note(msg)

			if err := o.pace(ctx, summary.Processed); err != nil {
				return err
			}
		}

		summary.Seen++
		if o.deps.OnProgress != nil {
			o.deps.OnProgress(summary.Seen, total)
		}
	}
	return nil
}

// lookup runs up to two attempts for rec. A session error on the first
// attempt replaces the browser session before the second; the second
// outcome is final whatever it is.
func (o *Orchestrator) lookup(ctx context.Context, rec model.Record) (model.Outcome, bool, error) {
	out := o.attempt(ctx, rec, 1)
	if err := ctx.Err(); err != nil {
		return model.Outcome{}, false, err
	}
	if !out.Status.SessionError() {
		return out, false, nil
	}

	o.note(fmt.Sprintf("row %d: %s hit %s, restarting browser and retrying once", rec.Index, rec.ID, out.Status))
	o.closeSession()
	if err := o.startSession(ctx); err != nil {
		return model.Outcome{}, true, err
	}

	out = o.attempt(ctx, rec, 2)
	if err := ctx.Err(); err != nil {
		return model.Outcome{}, true, err
	}
	return out, true, nil
}

func (o *Orchestrator) attempt(ctx context.Context, rec model.Record, n int) model.Outcome {
	start := time.Now()
	out := o.deps.Looker.Lookup(ctx, o.drv, rec.ID)
	o.journalAttempt(ctx, &model.Attempt{
		RunID:     o.runID,
		RowIndex:  rec.Index,
		SubjectID: rec.ID,
		Number:    n,
		Outcome:   out,
		Duration:  time.Since(start),
	})
	return out
}

// pace applies the polite delay and, every BatchSize records, the rest.
func (o *Orchestrator) pace(ctx context.Context, processed int) error {
	if err := o.deps.Sleep(ctx, o.cfg.PerRecordDelay); err != nil {
		return err
	}
	if o.cfg.BatchSize > 0 && processed%o.cfg.BatchSize == 0 {
		o.note(fmt.Sprintf("processed %d records, resting %s", processed, o.cfg.Rest))
		if err := o.deps.Sleep(ctx, o.cfg.Rest); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) startSession(ctx context.Context) error {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = o.cfg.StartAttempts
	cfg.InitialBackoff = o.cfg.StartBackoff
	cfg.Sleep = o.deps.Sleep
	cfg.OnRetry = resilience.RetryLogger(o.log, "orchestrator: start browser session")
	drv, err := resilience.DoVal(ctx, cfg, o.deps.Launcher.Launch)
	if err != nil {
		return eris.Wrap(err, "orchestrator: start browser session")
	}
	o.drv = drv
	o.note("browser session started")
	return nil
}

func (o *Orchestrator) closeSession() {
	if o.drv == nil {
		return
	}
	if err := o.drv.Close(); err != nil {
		o.log.Warn("orchestrator: close browser session", zap.Error(err))
	}
	o.drv = nil
}

func (o *Orchestrator) openRun(ctx context.Context, total int) {
	if o.deps.Journal == nil {
		return
	}
	run, err := o.deps.Journal.CreateRun(context.WithoutCancel(ctx), o.cfg.Input, o.cfg.Checkpoint, total)
	if err != nil {
		o.log.Warn("orchestrator: journal run", zap.Error(err))
		return
	}
	o.runID = run.ID
	o.log.Info("orchestrator: journaling run", zap.String("run_id", run.ID))
}

func (o *Orchestrator) journalAttempt(ctx context.Context, a *model.Attempt) {
	if o.deps.Journal == nil || o.runID == "" {
		return
	}
	if err := o.deps.Journal.RecordAttempt(context.WithoutCancel(ctx), a); err != nil {
		o.log.Warn("orchestrator: journal attempt", zap.String("id", a.SubjectID), zap.Error(err))
	}
}

func (o *Orchestrator) closeRun(ctx context.Context, summary *model.RunSummary, runErr error) {
	if o.deps.Journal == nil || o.runID == "" {
		return
	}
	status := model.LookupRunComplete
	if runErr != nil {
		status = model.LookupRunFailed
	}
	if err := o.deps.Journal.CompleteRun(context.WithoutCancel(ctx), o.runID, status, summary); err != nil {
		o.log.Warn("orchestrator: journal completion", zap.String("run_id", o.runID), zap.Error(err))
	}
}

func (o *Orchestrator) report(s *model.RunSummary) {
	fields := []zap.Field{
		zap.Int("total", s.Total),
		zap.Int("seen", s.Seen),
		zap.Int("processed", s.Processed),
		zap.Int("skipped", s.Skipped),
		zap.Int("retries", s.Retries),
		zap.Duration("elapsed", s.Elapsed),
	}
	for _, st := range model.AllStatuses {
		if n := s.Counts[st]; n > 0 {
			fields = append(fields, zap.Int(st.String(), n))
		}
	}
	o.log.Info("orchestrator: run finished", fields...)
	o.note(fmt.Sprintf("done: %d processed, %d skipped, %d retries in %s", s.Processed, s.Skipped, s.Retries, s.Elapsed))
}

// RunID returns the journal id of the current run, or "" when not journaled.
func (o *Orchestrator) RunID() string { return o.runID }

func (o *Orchestrator) note(msg string) {
	o.log.Info(msg)
	if o.deps.OnLog != nil {
		o.deps.OnLog(msg)
	}
}
