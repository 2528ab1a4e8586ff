package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const clearValueJS = `() => {
	this.value = '';
	this.dispatchEvent(new Event('input', { bubbles: true }));
}`

// RodLauncher starts Chromium sessions driven over CDP by go-rod.
type RodLauncher struct {
	opts Options
}

// NewRodLauncher creates a go-rod launcher.
func NewRodLauncher(opts Options) *RodLauncher {
	return &RodLauncher{opts: opts.withDefaults()}
}

// Launch starts a browser process and opens a blank page.
func (l *RodLauncher) Launch(ctx context.Context) (Driver, error) {
	ln := launcher.New().
		Headless(l.opts.Headless).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("disable-software-rasterizer").
		Set("disable-blink-features", "AutomationControlled")

	bin := ResolveBinary(l.opts.Bin)
	if bin != "" {
		ln = ln.Bin(bin)
	}
	zap.L().Debug("browser: launching rod session",
		zap.String("bin", bin),
		zap.Bool("headless", l.opts.Headless),
	)

	controlURL, err := ln.Launch()
	if err != nil {
		return nil, eris.Wrap(err, "browser: launch chromium")
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		ln.Kill()
		ln.Cleanup()
		return nil, eris.Wrap(err, "browser: connect to chromium")
	}

	page, err := b.Context(ctx).Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = b.Close()
		ln.Kill()
		ln.Cleanup()
		return nil, eris.Wrap(err, "browser: create page")
	}

	return &RodDriver{
		browser:  b,
		page:     page,
		launcher: ln,
		opts:     l.opts,
	}, nil
}

type rodElement struct {
	el  *rod.Element
	loc Locator
}

func (e *rodElement) Locator() Locator { return e.loc }

// RodDriver implements Driver on a single go-rod page.
type RodDriver struct {
	browser  *rod.Browser
	page     *rod.Page
	launcher *launcher.Launcher
	opts     Options
}

func (d *RodDriver) Navigate(ctx context.Context, url string) error {
	nctx, cancel := context.WithTimeout(ctx, d.opts.NavigationTimeout)
	defer cancel()

	p := d.page.Context(nctx)
	if err := p.Navigate(url); err != nil {
		return eris.Wrapf(err, "browser: navigate %s", url)
	}
	if err := p.WaitLoad(); err != nil {
		return eris.Wrapf(err, "browser: wait load %s", url)
	}
	return nil
}

func (d *RodDriver) FindClickable(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	fctx, cancel := d.findContext(ctx, timeout)
	defer cancel()

	el, err := d.locate(fctx, loc, timeout)
	if err != nil {
		return nil, d.locateErr(ctx, loc, err)
	}
	if timeout > 0 {
		_, err = el.WaitInteractable()
	} else {
		_, err = el.Interactable()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "browser: find clickable")
		}
		return nil, eris.Wrapf(ErrNotFound, "%s not clickable: %v", loc, err)
	}
	return &rodElement{el: el.Context(ctx), loc: loc}, nil
}

func (d *RodDriver) FindPresent(ctx context.Context, loc Locator, timeout time.Duration) (Element, error) {
	fctx, cancel := d.findContext(ctx, timeout)
	defer cancel()

	el, err := d.locate(fctx, loc, timeout)
	if err != nil {
		return nil, d.locateErr(ctx, loc, err)
	}
	return &rodElement{el: el.Context(ctx), loc: loc}, nil
}

func (d *RodDriver) Click(ctx context.Context, el Element) error {
	re, err := asRod(el)
	if err != nil {
		return err
	}
	actx, cancel := context.WithTimeout(ctx, d.opts.ActionTimeout)
	defer cancel()
	if err := re.el.Context(actx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return boundedActionErr(ctx, err, "click", re.loc)
	}
	return nil
}

func (d *RodDriver) Clear(ctx context.Context, el Element) error {
	re, err := asRod(el)
	if err != nil {
		return err
	}
	actx, cancel := context.WithTimeout(ctx, d.opts.ActionTimeout)
	defer cancel()
	if _, err := re.el.Context(actx).Eval(clearValueJS); err != nil {
		return boundedActionErr(ctx, err, "clear", re.loc)
	}
	return nil
}

func (d *RodDriver) TypeText(ctx context.Context, el Element, text string) error {
	re, err := asRod(el)
	if err != nil {
		return err
	}
	actx, cancel := context.WithTimeout(ctx, d.opts.ActionTimeout)
	defer cancel()
	if err := re.el.Context(actx).Input(text); err != nil {
		return boundedActionErr(ctx, err, "type", re.loc)
	}
	return nil
}

func (d *RodDriver) PressEnter(ctx context.Context, el Element) error {
	re, err := asRod(el)
	if err != nil {
		return err
	}
	actx, cancel := context.WithTimeout(ctx, d.opts.ActionTimeout)
	defer cancel()
	if err := re.el.Context(actx).Focus(); err != nil {
		return boundedActionErr(ctx, err, "focus", re.loc)
	}
	if err := d.page.Context(actx).Keyboard.Press(input.Enter); err != nil {
		return boundedActionErr(ctx, err, "press enter", re.loc)
	}
	return nil
}

func (d *RodDriver) CurrentURL(ctx context.Context) (string, error) {
	info, err := d.page.Context(ctx).Info()
	if err != nil {
		return "", eris.Wrap(err, "browser: page info")
	}
	return info.URL, nil
}

func (d *RodDriver) PageText(ctx context.Context, loc Locator) (string, error) {
	el, err := d.locate(ctx, loc, 0)
	if err != nil {
		return "", d.locateErr(ctx, loc, err)
	}
	text, err := el.Text()
	if err != nil {
		return "", rodActionErr(err, "read text", loc)
	}
	return text, nil
}

func (d *RodDriver) RunScript(ctx context.Context, js string, arg string) (any, error) {
	res, err := d.page.Context(ctx).Eval(js, arg)
	if err != nil {
		return nil, eris.Wrap(err, "browser: run script")
	}
	return res.Value.Val(), nil
}

func (d *RodDriver) DumpSource(ctx context.Context) (string, error) {
	html, err := d.page.Context(ctx).HTML()
	if err != nil {
		return "", eris.Wrap(err, "browser: page html")
	}
	return html, nil
}

func (d *RodDriver) Refresh(ctx context.Context) error {
	nctx, cancel := context.WithTimeout(ctx, d.opts.NavigationTimeout)
	defer cancel()

	p := d.page.Context(nctx)
	if err := p.Reload(); err != nil {
		return eris.Wrap(err, "browser: reload")
	}
	if err := p.WaitLoad(); err != nil {
		return eris.Wrap(err, "browser: wait load after reload")
	}
	return nil
}

// Close shuts the browser down and removes its temporary profile.
func (d *RodDriver) Close() error {
	err := d.browser.Close()
	d.launcher.Kill()
	d.launcher.Cleanup()
	if err != nil {
		return eris.Wrap(err, "browser: close")
	}
	return nil
}

func (d *RodDriver) findContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// locate finds the first match. A zero timeout checks once.
func (d *RodDriver) locate(ctx context.Context, loc Locator, timeout time.Duration) (*rod.Element, error) {
	p := d.page.Context(ctx)
	if timeout <= 0 {
		p = p.Sleeper(rod.NotFoundSleeper)
	}
	if loc.Strategy == StrategyXPath {
		return p.ElementX(loc.Value)
	}
	return p.Element(loc.Value)
}

func (d *RodDriver) locateErr(ctx context.Context, loc Locator, err error) error {
	if ctx.Err() != nil {
		return eris.Wrapf(ctx.Err(), "browser: locate %s", loc)
	}
	var nf *rod.ElementNotFoundError
	if errors.As(err, &nf) || errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrapf(ErrNotFound, "%s", loc)
	}
	return eris.Wrapf(err, "browser: locate %s", loc)
}

func asRod(el Element) (*rodElement, error) {
	re, ok := el.(*rodElement)
	if !ok || re == nil {
		return nil, eris.Errorf("browser: foreign element handle %T", el)
	}
	return re, nil
}

// staleMarkers are CDP error fragments returned when a node handle outlived
// its document.
var staleMarkers = []string{
	"could not find node with given id",
	"node with given id does not belong to the document",
	"node is detached from document",
	"cannot find context with specified id",
	"cannot find object with id",
}

func isStaleCDPError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range staleMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// boundedActionErr classifies an action that ran under an ActionTimeout
// derived from parent. Running out of that budget while parent is still live
// means the element never became usable, which is reported as ErrNotFound.
func boundedActionErr(parent context.Context, err error, action string, loc Locator) error {
	if perr := parent.Err(); perr != nil {
		return eris.Wrapf(perr, "browser: %s %s", action, loc)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrapf(ErrNotFound, "%s %s: not interactable in time", action, loc)
	}
	return rodActionErr(err, action, loc)
}

func rodActionErr(err error, action string, loc Locator) error {
	if isStaleCDPError(err) {
		return eris.Wrapf(ErrStaleReference, "%s %s", action, loc)
	}
	return eris.Wrapf(err, "browser: %s %s", action, loc)
}
