// Package browser defines the automation capabilities the lookup engine needs
// from a live browser session, with go-rod and playwright implementations.
package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when a locator matches nothing usable before
	// its timeout. It is an expected outcome, not a crash.
	ErrNotFound = eris.New("browser: element not found")

	// ErrStaleReference is returned when an element handle no longer points
	// at a node in the current document.
	ErrStaleReference = eris.New("browser: stale element reference")
)

// Strategy selects how a Locator value is interpreted.
type Strategy string

const (
	StrategyCSS   Strategy = "css"
	StrategyXPath Strategy = "xpath"
)

// Locator identifies an element on the page.
type Locator struct {
	Strategy Strategy `yaml:"strategy" json:"strategy"`
	Value    string   `yaml:"value" json:"value"`
}

// CSS returns a CSS selector locator.
func CSS(selector string) Locator {
	return Locator{Strategy: StrategyCSS, Value: selector}
}

// XPath returns an XPath locator.
func XPath(expr string) Locator {
	return Locator{Strategy: StrategyXPath, Value: expr}
}

func (l Locator) String() string {
	if l.Strategy == "" {
		return string(StrategyCSS) + ":" + l.Value
	}
	return fmt.Sprintf("%s:%s", l.Strategy, l.Value)
}

// ParseLocator reads the String form of a locator ("css:..." or
// "xpath:..."). Text without a known strategy prefix is a CSS selector.
func ParseLocator(s string) Locator {
	s = strings.TrimSpace(s)
	for _, st := range []Strategy{StrategyCSS, StrategyXPath} {
		if rest, ok := strings.CutPrefix(s, string(st)+":"); ok {
			return Locator{Strategy: st, Value: strings.TrimSpace(rest)}
		}
	}
	return CSS(s)
}

// UnmarshalYAML accepts either a {strategy, value} mapping or a plain
// string in ParseLocator form.
func (l *Locator) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var s string
		if err := node.Decode(&s); err != nil {
			return eris.Wrap(err, "browser: decode locator")
		}
		*l = ParseLocator(s)
		return nil
	}

	type plain Locator
	raw := plain(*l)
	if err := node.Decode(&raw); err != nil {
		return eris.Wrap(err, "browser: decode locator")
	}
	if raw.Strategy == "" {
		raw.Strategy = StrategyCSS
	}
	if raw.Strategy != StrategyCSS && raw.Strategy != StrategyXPath {
		return eris.Errorf("browser: unknown locator strategy %q", raw.Strategy)
	}
	*l = Locator(raw)
	return nil
}

// Element is an opaque handle to a located element. Handles may go stale
// when the page re-renders.
type Element interface {
	Locator() Locator
}

// Driver is one live browser session. Locating operations return
// ErrNotFound instead of a generic failure; a zero timeout checks once
// without waiting.
type Driver interface {
	Navigate(ctx context.Context, url string) error
	FindClickable(ctx context.Context, loc Locator, timeout time.Duration) (Element, error)
	FindPresent(ctx context.Context, loc Locator, timeout time.Duration) (Element, error)
	Click(ctx context.Context, el Element) error
	Clear(ctx context.Context, el Element) error
	TypeText(ctx context.Context, el Element, text string) error
	PressEnter(ctx context.Context, el Element) error
	CurrentURL(ctx context.Context) (string, error)
	PageText(ctx context.Context, loc Locator) (string, error)
	// RunScript evaluates a JavaScript function expression such as
	// "(sel) => document.querySelector(sel).click()" with one string argument.
	RunScript(ctx context.Context, js string, arg string) (any, error)
	DumpSource(ctx context.Context) (string, error)
	Refresh(ctx context.Context) error
	Close() error
}

// Launcher starts new driver sessions.
type Launcher interface {
	Launch(ctx context.Context) (Driver, error)
}

// Options configures a browser engine.
type Options struct {
	Headless bool
	// Bin is an explicit browser binary. Empty means ResolveBinary.
	Bin string
	// NavigationTimeout bounds page loads. Default 60s.
	NavigationTimeout time.Duration
	// ActionTimeout bounds each element action (click, clear, type, key
	// press), including the engine's wait for the element to become
	// interactable. Default 10s.
	ActionTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.NavigationTimeout <= 0 {
		o.NavigationTimeout = 60 * time.Second
	}
	if o.ActionTimeout <= 0 {
		o.ActionTimeout = 10 * time.Second
	}
	return o
}

// NewLauncher returns the launcher for the named engine ("rod" or "playwright").
func NewLauncher(engine string, opts Options) (Launcher, error) {
	switch engine {
	case "", "rod":
		return NewRodLauncher(opts), nil
	case "playwright":
		return NewPlaywrightLauncher(opts), nil
	default:
		return nil, eris.Errorf("browser: unknown engine %q", engine)
	}
}
