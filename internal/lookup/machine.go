// Package lookup drives one tax id search against the registry site and
// classifies what comes back.
package lookup

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/browser"
	"github.com/sells-group/taxid-cli/internal/model"
	"github.com/sells-group/taxid-cli/internal/obstacle"
)

var (
	errNotInteractive = eris.New("lookup: search input never became interactive")
	errScriptNoMatch  = eris.New("lookup: script matched no element")
)

// Machine runs the navigate, await-interactive, submit, await-result and
// parse steps of a lookup. Each step either advances or ends the attempt
// with a terminal status; there is no going back.
type Machine struct {
	opts       Options
	profile    Profile
	classifier *Classifier
	snap       *Snapshotter
	log        *zap.Logger
	onLog      model.LogFunc
}

// NewMachine builds a machine. snap, log and onLog may be nil.
func NewMachine(opts Options, profile Profile, snap *Snapshotter, log *zap.Logger, onLog model.LogFunc) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		opts:       opts.withDefaults(),
		profile:    profile,
		classifier: NewClassifier(profile, snap, log),
		snap:       snap,
		log:        log,
		onLog:      onLog,
	}
}

// Lookup searches for id on drv's session. It always returns an outcome;
// failures are reported through its status.
func (m *Machine) Lookup(ctx context.Context, drv browser.Driver, id string) (out model.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("lookup: panic", zap.String("id", id), zap.Any("panic", r))
			out = model.Failed(model.StatusSystemError, fmt.Sprintf("panic: %v", r))
		}
	}()

	m.note(id, "navigating to "+m.profile.BaseURL)
	if err := drv.Navigate(ctx, m.profile.BaseURL); err != nil {
		return m.fail(id, model.StatusSystemError, eris.Wrap(err, "lookup: navigate"))
	}

	if err := m.awaitInteractive(ctx, drv, id); err != nil {
		if errors.Is(err, errNotInteractive) {
			return m.fail(id, model.StatusObstacleTimeout, err)
		}
		return m.fail(id, model.StatusSystemError, err)
	}

	if err := m.submit(ctx, drv, id); err != nil {
		if ctx.Err() != nil {
			return m.fail(id, model.StatusSystemError, err)
		}
		return m.fail(id, model.StatusInteractionError, err)
	}

	if _, err := drv.FindPresent(ctx, m.profile.Heading, m.opts.ResultTimeout); err != nil {
		if errors.Is(err, browser.ErrNotFound) && ctx.Err() == nil {
			res := m.fail(id, model.StatusTimeoutError, eris.Wrap(err, "lookup: await result"))
			if path := m.snap.Capture(ctx, drv, SnapshotTimeout, id); path != "" {
				res.Detail = path
			}
			return res
		}
		return m.fail(id, model.StatusSystemError, eris.Wrap(err, "lookup: await result"))
	}

	out = m.classifier.Classify(ctx, drv, id)
	m.note(id, "classified as "+out.Status.String())
	return out
}

// awaitInteractive polls until the search input accepts a click.
func (m *Machine) awaitInteractive(ctx context.Context, drv browser.Driver, id string) error {
	polls := m.opts.ReadyPolls
	for attempt := 1; attempt <= polls; attempt++ {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "lookup: await search input")
		}
		obstacle.DismissOverlays(ctx, drv, m.profile.Overlays, m.log)

		el, err := drv.FindClickable(ctx, m.profile.SearchInput, m.opts.ReadyPollTimeout)
		if err == nil {
			err = drv.Click(ctx, el)
		}
		if err == nil {
			m.note(id, "search input ready")
			return nil
		}

		m.note(id, fmt.Sprintf("waiting for search input (%d/%d)", attempt, polls))
		if attempt == polls {
			break
		}
		if m.opts.RefreshEvery > 0 && attempt%m.opts.RefreshEvery == 0 {
			m.note(id, "refreshing page")
			if err := drv.Refresh(ctx); err != nil {
				m.log.Warn("lookup: refresh failed", zap.String("id", id), zap.Error(err))
			}
		}
		if err := m.opts.Sleep(ctx, m.opts.ReadyPollInterval); err != nil {
			return eris.Wrap(err, "lookup: await search input")
		}
	}
	return eris.Wrapf(errNotInteractive, "after %d polls", polls)
}

// submit types id and sends the search, falling back to a scripted path
// when the standard one fails.
func (m *Machine) submit(ctx context.Context, drv browser.Driver, id string) error {
	err := m.submitStandard(ctx, drv, id)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	m.note(id, "standard interaction failed, trying scripted fallback: "+err.Error())
	if ferr := m.submitScripted(ctx, drv, id); ferr != nil {
		m.note(id, "scripted fallback failed: "+ferr.Error())
		return eris.Wrap(ferr, "lookup: submit")
	}
	return nil
}

func (m *Machine) submitStandard(ctx context.Context, drv browser.Driver, id string) error {
	box, err := drv.FindPresent(ctx, m.profile.SearchInput, m.opts.ElementTimeout)
	if err != nil {
		return eris.Wrap(err, "lookup: locate search input")
	}
	if err := drv.Clear(ctx, box); err != nil {
		return eris.Wrap(err, "lookup: clear search input")
	}
	if err := drv.TypeText(ctx, box, id); err != nil {
		return eris.Wrap(err, "lookup: type id")
	}
	if err := m.opts.Sleep(ctx, m.opts.Debounce); err != nil {
		return eris.Wrap(err, "lookup: debounce")
	}

	err = obstacle.ClickWithStaleRetry(ctx, drv, m.profile.Submit, m.opts.StaleRetries, m.opts.ElementTimeout)
	if err == nil {
		m.note(id, "clicked submit")
		m.logURL(ctx, drv, id)
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	m.note(id, "submit control unavailable, pressing Enter")
	box, err = drv.FindPresent(ctx, m.profile.SearchInput, m.opts.ElementTimeout)
	if err != nil {
		return eris.Wrap(err, "lookup: relocate search input")
	}
	if err := drv.PressEnter(ctx, box); err != nil {
		return eris.Wrap(err, "lookup: press enter")
	}
	m.logURL(ctx, drv, id)
	return nil
}

func (m *Machine) submitScripted(ctx context.Context, drv browser.Driver, id string) error {
	box, err := drv.FindPresent(ctx, m.profile.SearchInput, m.opts.ElementTimeout)
	if err != nil {
		return eris.Wrap(err, "lookup: locate search input")
	}
	if err := runScript(ctx, drv, m.profile.ClearScript, m.profile.SearchInput); err != nil {
		return eris.Wrap(err, "lookup: clear via script")
	}
	if err := drv.TypeText(ctx, box, id); err != nil {
		return eris.Wrap(err, "lookup: type id")
	}
	if err := runScript(ctx, drv, m.profile.ClickScript, m.profile.Submit); err != nil {
		return eris.Wrap(err, "lookup: click via script")
	}
	m.note(id, "submitted via script")
	return nil
}

// runScript runs js against loc. A script returning false means it found
// nothing to act on.
func runScript(ctx context.Context, drv browser.Driver, js string, loc browser.Locator) error {
	res, err := drv.RunScript(ctx, js, loc.String())
	if err != nil {
		return err
	}
	if ok, isBool := res.(bool); isBool && !ok {
		return eris.Wrapf(errScriptNoMatch, "%s", loc)
	}
	return nil
}

func (m *Machine) logURL(ctx context.Context, drv browser.Driver, id string) {
	if url, err := drv.CurrentURL(ctx); err == nil {
		m.note(id, "url after submit: "+url)
	}
}

func (m *Machine) fail(id string, status model.Status, err error) model.Outcome {
	m.note(id, fmt.Sprintf("%s: %v", status, err))
	return model.Failed(status, err.Error())
}

func (m *Machine) note(id, msg string) {
	m.log.Debug(msg, zap.String("id", id))
	if m.onLog != nil {
		m.onLog(fmt.Sprintf("[%s] %s", id, msg))
	}
}
