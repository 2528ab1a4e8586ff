// Package obstacle clears transient overlays and retries clicks on elements
// that re-render underneath us.
package obstacle

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/browser"
)

// ErrInteraction means an element could not be clicked after all retries.
var ErrInteraction = eris.New("obstacle: element stayed stale after retries")

// DefaultOverlays are the consent and ad close buttons seen on the target
// site, in the order they are tried.
var DefaultOverlays = []browser.Locator{
	browser.CSS("button[aria-label='Close']"),
	browser.CSS("button.close"),
	browser.CSS("div.modal.show button.close"),
	browser.CSS("div[role='dialog'] button[aria-label='Close']"),
	browser.CSS("#qc-cmp2-ui button[mode='primary']"),
	browser.CSS(".qc-cmp2-summary-buttons button"),
}

// DismissOverlays clicks the first candidate that is clickable right now and
// reports whether anything was dismissed. Candidates that are present but
// covered are skipped. It never fails: lookup and click errors move on to the
// next candidate.
func DismissOverlays(ctx context.Context, drv browser.Driver, candidates []browser.Locator, log *zap.Logger) bool {
	if log == nil {
		log = zap.NewNop()
	}
	for _, loc := range candidates {
		if ctx.Err() != nil {
			return false
		}
		el, err := drv.FindClickable(ctx, loc, 0)
		if err != nil {
			continue
		}
		if err := drv.Click(ctx, el); err != nil {
			log.Debug("obstacle: overlay click failed", zap.Stringer("locator", loc), zap.Error(err))
			continue
		}
		log.Debug("obstacle: overlay dismissed", zap.Stringer("locator", loc))
		return true
	}
	return false
}

// ClickWithStaleRetry locates loc as clickable and clicks it, locating it
// again whenever the handle goes stale between the two steps. Any other
// failure is returned at once. After maxRetries consecutive stale attempts it
// returns an error wrapping ErrInteraction.
func ClickWithStaleRetry(ctx context.Context, drv browser.Driver, loc browser.Locator, maxRetries int, timeout time.Duration) error {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	for attempt := 1; attempt <= maxRetries; attempt++ {
		el, err := drv.FindClickable(ctx, loc, timeout)
		if err != nil {
			if errors.Is(err, browser.ErrStaleReference) {
				continue
			}
			return eris.Wrapf(err, "obstacle: locate %s", loc)
		}
		err = drv.Click(ctx, el)
		if err == nil {
			return nil
		}
		if !errors.Is(err, browser.ErrStaleReference) {
			return eris.Wrapf(err, "obstacle: click %s", loc)
		}
	}
	return eris.Wrapf(ErrInteraction, "%s after %d attempts", loc, maxRetries)
}
