package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/taxid-cli/internal/resilience"
)

// PlaywrightLauncher starts Chromium sessions through playwright-go.
type PlaywrightLauncher struct {
	opts Options
}

// NewPlaywrightLauncher creates a playwright launcher. The playwright driver
// and browsers must already be installed (playwright install chromium).
func NewPlaywrightLauncher(opts Options) *PlaywrightLauncher {
	return &PlaywrightLauncher{opts: opts.withDefaults()}
}

// Launch starts the playwright driver, a Chromium instance and one page.
func (l *PlaywrightLauncher) Launch(ctx context.Context) (Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "browser: launch playwright")
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, resilience.Permanent(eris.Wrap(err, "browser: start playwright"))
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
			"--disable-blink-features=AutomationControlled",
		},
	}
	bin := ResolveBinary(l.opts.Bin)
	if bin != "" {
		launchOpts.ExecutablePath = playwright.String(bin)
	}
	zap.L().Debug("browser: launching playwright session",
		zap.String("bin", bin),
		zap.Bool("headless", l.opts.Headless),
	)

	br, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		_ = pw.Stop()
		return nil, eris.Wrap(err, "browser: launch chromium")
	}

	page, err := br.NewPage()
	if err != nil {
		_ = br.Close()
		_ = pw.Stop()
		return nil, eris.Wrap(err, "browser: create page")
	}

	return &PlaywrightDriver{pw: pw, browser: br, page: page, opts: l.opts}, nil
}

type playwrightElement struct {
	loc playwright.Locator
	ref Locator
}

func (e *playwrightElement) Locator() Locator { return e.ref }

// PlaywrightDriver implements Driver on a single playwright page. Playwright
// locators re-resolve on every action, so stale handles are rare.
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	opts    Options
}

func (d *PlaywrightDriver) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "browser: navigate")
	}
	_, err := d.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   millis(d.opts.NavigationTimeout),
	})
	if err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	return nil
}

func (d *PlaywrightDriver) FindClickable(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	pl, err := d.find(ctx, loc, timeout, playwright.WaitForSelectorStateVisible)
	if err != nil {
		return nil, err
	}
	enabled, err := pl.IsEnabled()
	if err != nil {
		return nil, playwrightActionErr(err, "check enabled", loc)
	}
	if !enabled {
		return nil, eris.Wrapf(ErrNotFound, "%s disabled", loc)
	}
	return &playwrightElement{loc: pl, ref: loc}, nil
}

func (d *PlaywrightDriver) FindPresent(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	pl, err := d.find(ctx, loc, timeout, playwright.WaitForSelectorStateAttached)
	if err != nil {
		return nil, err
	}
	return &playwrightElement{loc: pl, ref: loc}, nil
}

func (d *PlaywrightDriver) Click(ctx context.Context, el Element) error {
	pe, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	if err := pe.loc.Click(playwright.LocatorClickOptions{Timeout: millis(d.opts.ActionTimeout)}); err != nil {
		return playwrightActionErr(err, "click", pe.ref)
	}
	return nil
}

func (d *PlaywrightDriver) Clear(ctx context.Context, el Element) error {
	pe, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	if err := pe.loc.Clear(playwright.LocatorClearOptions{Timeout: millis(d.opts.ActionTimeout)}); err != nil {
		return playwrightActionErr(err, "clear", pe.ref)
	}
	return nil
}

func (d *PlaywrightDriver) TypeText(ctx context.Context, el Element, text string) error {
	pe, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	if err := pe.loc.PressSequentially(text, playwright.LocatorPressSequentiallyOptions{Timeout: millis(d.opts.ActionTimeout)}); err != nil {
		return playwrightActionErr(err, "type", pe.ref)
	}
	return nil
}

func (d *PlaywrightDriver) PressEnter(ctx context.Context, el Element) error {
	pe, err := d.element(ctx, el)
	if err != nil {
		return err
	}
	if err := pe.loc.Press("Enter", playwright.LocatorPressOptions{Timeout: millis(d.opts.ActionTimeout)}); err != nil {
		return playwrightActionErr(err, "press enter", pe.ref)
	}
	return nil
}

func (d *PlaywrightDriver) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "browser: current url")
	}
	return d.page.URL(), nil
}

func (d *PlaywrightDriver) PageText(ctx context.Context, loc Locator) (string, error) {
	pl, err := d.find(ctx, loc, 0, playwright.WaitForSelectorStateAttached)
	if err != nil {
		return "", err
	}
	text, err := pl.InnerText()
	if err != nil {
		return "", playwrightActionErr(err, "read text", loc)
	}
	return text, nil
}

func (d *PlaywrightDriver) RunScript(ctx context.Context, js string, arg string) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "browser: run script")
	}
	res, err := d.page.Evaluate(js, arg)
	if err != nil {
		return nil, eris.Wrap(err, "browser: run script")
	}
	return res, nil
}

func (d *PlaywrightDriver) DumpSource(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", eris.Wrap(err, "browser: page content")
	}
	html, err := d.page.Content()
	if err != nil {
		return "", eris.Wrap(err, "browser: page content")
	}
	return html, nil
}

func (d *PlaywrightDriver) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "browser: reload")
	}
	_, err := d.page.Reload(playwright.PageReloadOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   millis(d.opts.NavigationTimeout),
	})
	if err != nil {
		return eris.Wrap(err, "browser: reload")
	}
	return nil
}

// Close shuts down the browser and the playwright driver process.
func (d *PlaywrightDriver) Close() error {
	closeErr := d.browser.Close()
	stopErr := d.pw.Stop()
	if closeErr != nil {
		return eris.Wrap(closeErr, "browser: close")
	}
	if stopErr != nil {
		return eris.Wrap(stopErr, "browser: stop playwright")
	}
	return nil
}

func (d *PlaywrightDriver) find(ctx context.Context, loc Locator, timeout time.Duration, state *playwright.WaitForSelectorState) (playwright.Locator, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrapf(err, "browser: locate %s", loc)
	}
	pl := d.page.Locator(playwrightSelector(loc)).First()

	// Playwright treats a zero timeout as "wait forever".
	if timeout <= 0 {
		n, err := pl.Count()
		if err != nil {
			return nil, eris.Wrapf(err, "browser: locate %s", loc)
		}
		if n == 0 {
			return nil, eris.Wrapf(ErrNotFound, "%s", loc)
		}
		if state == playwright.WaitForSelectorStateVisible {
			visible, err := pl.IsVisible()
			if err != nil || !visible {
				return nil, eris.Wrapf(ErrNotFound, "%s not visible", loc)
			}
		}
		return pl, nil
	}

	err := pl.WaitFor(playwright.LocatorWaitForOptions{
		State:   state,
		Timeout: millis(timeout),
	})
	if err != nil {
		if errors.Is(err, playwright.ErrTimeout) {
			return nil, eris.Wrapf(ErrNotFound, "%s", loc)
		}
		return nil, eris.Wrapf(err, "browser: locate %s", loc)
	}
	return pl, nil
}

func (d *PlaywrightDriver) element(ctx context.Context, el Element) (*playwrightElement, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "browser: element action")
	}
	pe, ok := el.(*playwrightElement)
	if !ok || pe == nil {
		return nil, eris.Errorf("browser: foreign element handle %T", el)
	}
	return pe, nil
}

func playwrightSelector(loc Locator) string {
	if loc.Strategy == StrategyXPath {
		return "xpath=" + loc.Value
	}
	return "css=" + loc.Value
}

func playwrightActionErr(err error, action string, loc Locator) error {
	if strings.Contains(strings.ToLower(err.Error()), "not attached to the dom") {
		return eris.Wrapf(ErrStaleReference, "%s %s", action, loc)
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return eris.Wrapf(err, "browser: %s %s timed out", action, loc)
	}
	return eris.Wrapf(err, "browser: %s %s", action, loc)
}

func millis(d time.Duration) *float64 {
	return playwright.Float(float64(d.Milliseconds()))
}
