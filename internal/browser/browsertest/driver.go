// Package browsertest provides a scripted browser.Driver for tests.
package browsertest

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/taxid-cli/internal/browser"
)

// Method names recorded in Driver.Calls and used to script results.
const (
	MethodNavigate      = "Navigate"
	MethodFindClickable = "FindClickable"
	MethodFindPresent   = "FindPresent"
	MethodClick         = "Click"
	MethodClear         = "Clear"
	MethodTypeText      = "TypeText"
	MethodPressEnter    = "PressEnter"
	MethodCurrentURL    = "CurrentURL"
	MethodPageText      = "PageText"
	MethodRunScript     = "RunScript"
	MethodDumpSource    = "DumpSource"
	MethodRefresh       = "Refresh"
	MethodClose         = "Close"
)

// Element is the handle returned by Driver.
type Element struct {
	Loc browser.Locator
}

func (e *Element) Locator() browser.Locator { return e.Loc }

// Call is one recorded driver invocation.
type Call struct {
	Method string
	Target string
	Text   string
}

// Driver is a scripted, in-memory browser.Driver.
//
// Find and element actions consume per-(method, locator) result queues set
// with Script: each call pops the head, and the last entry repeats. Finds
// with no script fail with browser.ErrNotFound; actions with no script succeed.
type Driver struct {
	mu      sync.Mutex
	results map[string][]error
	texts   map[string]string

	URL         string
	Source      string
	SourceErr   error
	NavigateErr error
	RefreshErr  error
	CloseErr    error
	// ScriptFunc answers RunScript. Nil returns (true, nil).
	ScriptFunc func(js, arg string) (any, error)
	// OnCall runs after each call is recorded, with the lock released.
	OnCall func(c Call)

	Calls  []Call
	Closed bool
}

// New returns an empty scripted driver.
func New() *Driver {
	return &Driver{
		results: make(map[string][]error),
		texts:   make(map[string]string),
	}
}

// Script queues results for method calls targeting loc.
func (d *Driver) Script(method string, loc browser.Locator, results ...error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(results) == 0 {
		results = []error{nil}
	}
	d.results[key(method, loc)] = append(d.results[key(method, loc)], results...)
	return d
}

// Found makes loc always locatable, both present and clickable.
func (d *Driver) Found(loc browser.Locator) *Driver {
	d.Script(MethodFindPresent, loc, nil)
	return d.Script(MethodFindClickable, loc, nil)
}

// SetText sets the text PageText returns for loc.
func (d *Driver) SetText(loc browser.Locator, text string) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts[loc.String()] = text
	return d
}

// Count returns how many times method was called.
func (d *Driver) Count(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// CountFor returns how many times method was called against loc.
func (d *Driver) CountFor(method string, loc browser.Locator) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.Calls {
		if c.Method == method && c.Target == loc.String() {
			n++
		}
	}
	return n
}

// Methods returns the recorded method names in call order.
func (d *Driver) Methods() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.Calls))
	for i, c := range d.Calls {
		out[i] = c.Method
	}
	return out
}

// Typed returns every text passed to TypeText.
func (d *Driver) Typed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, c := range d.Calls {
		if c.Method == MethodTypeText {
			out = append(out, c.Text)
		}
	}
	return out
}

func (d *Driver) Navigate(ctx context.Context, url string) error {
	d.record(Call{Method: MethodNavigate, Target: url})
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.NavigateErr != nil {
		return d.NavigateErr
	}
	d.mu.Lock()
	if d.URL == "" {
		d.URL = url
	}
	d.mu.Unlock()
	return nil
}

func (d *Driver) FindClickable(ctx context.Context, loc browser.Locator, _ time.Duration) (browser.Element, error) {
	return d.find(ctx, MethodFindClickable, loc)
}

func (d *Driver) FindPresent(ctx context.Context, loc browser.Locator, _ time.Duration) (browser.Element, error) {
	return d.find(ctx, MethodFindPresent, loc)
}

func (d *Driver) Click(ctx context.Context, el browser.Element) error {
	return d.act(ctx, MethodClick, el, "")
}

func (d *Driver) Clear(ctx context.Context, el browser.Element) error {
	return d.act(ctx, MethodClear, el, "")
}

func (d *Driver) TypeText(ctx context.Context, el browser.Element, text string) error {
	return d.act(ctx, MethodTypeText, el, text)
}

func (d *Driver) PressEnter(ctx context.Context, el browser.Element) error {
	return d.act(ctx, MethodPressEnter, el, "")
}

func (d *Driver) CurrentURL(ctx context.Context) (string, error) {
	d.record(Call{Method: MethodCurrentURL})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.URL, nil
}

func (d *Driver) PageText(ctx context.Context, loc browser.Locator) (string, error) {
	d.record(Call{Method: MethodPageText, Target: loc.String()})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	text, ok := d.texts[loc.String()]
	if !ok {
		return "", eris.Wrapf(browser.ErrNotFound, "%s", loc)
	}
	return text, nil
}

func (d *Driver) RunScript(ctx context.Context, js string, arg string) (any, error) {
	d.record(Call{Method: MethodRunScript, Target: arg, Text: js})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.ScriptFunc != nil {
		return d.ScriptFunc(js, arg)
	}
	return true, nil
}

func (d *Driver) DumpSource(ctx context.Context) (string, error) {
	d.record(Call{Method: MethodDumpSource})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.SourceErr != nil {
		return "", d.SourceErr
	}
	return d.Source, nil
}

func (d *Driver) Refresh(ctx context.Context) error {
	d.record(Call{Method: MethodRefresh})
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.RefreshErr
}

func (d *Driver) Close() error {
	d.record(Call{Method: MethodClose})
	d.mu.Lock()
	d.Closed = true
	d.mu.Unlock()
	return d.CloseErr
}

func (d *Driver) find(ctx context.Context, method string, loc browser.Locator) (browser.Element, error) {
	d.record(Call{Method: method, Target: loc.String()})
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ok, err := d.next(key(method, loc))
	if !ok {
		return nil, eris.Wrapf(browser.ErrNotFound, "%s", loc)
	}
	if err != nil {
		return nil, err
	}
	return &Element{Loc: loc}, nil
}

func (d *Driver) act(ctx context.Context, method string, el browser.Element, text string) error {
	loc := el.Locator()
	d.record(Call{Method: method, Target: loc.String(), Text: text})
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := d.next(key(method, loc))
	return err
}

// next pops the scripted result for k; scripted is false when none exists.
func (d *Driver) next(k string) (scripted bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.results[k]
	if !ok || len(q) == 0 {
		return false, nil
	}
	head := q[0]
	if len(q) > 1 {
		d.results[k] = q[1:]
	}
	return true, head
}

func (d *Driver) record(c Call) {
	d.mu.Lock()
	d.Calls = append(d.Calls, c)
	hook := d.OnCall
	d.mu.Unlock()
	if hook != nil {
		hook(c)
	}
}

func key(method string, loc browser.Locator) string {
	return method + "|" + loc.String()
}

// Launcher hands out scripted drivers in order. Once Drivers is exhausted it
// keeps returning fresh empty drivers.
type Launcher struct {
	mu       sync.Mutex
	Drivers  []*Driver
	Errs     []error
	Launched []*Driver
}

// Launch returns the next queued error, or else the next queued driver.
func (l *Launcher) Launch(ctx context.Context) (browser.Driver, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.Errs) > 0 {
		err := l.Errs[0]
		l.Errs = l.Errs[1:]
		if err != nil {
			return nil, err
		}
	}
	var d *Driver
	if len(l.Drivers) > 0 {
		d = l.Drivers[0]
		l.Drivers = l.Drivers[1:]
	} else {
		d = New()
	}
	l.Launched = append(l.Launched, d)
	return d, nil
}

// Count returns how many sessions were launched.
func (l *Launcher) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Launched)
}
