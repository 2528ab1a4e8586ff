package lookup

import (
	"time"

	"github.com/sells-group/taxid-cli/internal/resilience"
)

// Options bounds every wait in one lookup attempt.
type Options struct {
	// ReadyPolls is how many times the search input is looked for before
	// giving up with ObstacleTimeout.
	ReadyPolls int
	// ReadyPollTimeout is the wait for the input on each poll.
	ReadyPollTimeout time.Duration
	// ReadyPollInterval is the pause after a failed poll.
	ReadyPollInterval time.Duration
	// RefreshEvery reloads the page after every n-th failed poll. Zero
	// disables refreshes.
	RefreshEvery int

	ElementTimeout time.Duration
	ResultTimeout  time.Duration
	StaleRetries   int
	Debounce       time.Duration

	// Sleep replaces resilience.Sleep in tests.
	Sleep resilience.SleepFunc
}

// DefaultOptions returns the pacing tuned for masothue.com.
func DefaultOptions() Options {
	return Options{
		ReadyPolls:        30,
		ReadyPollTimeout:  2 * time.Second,
		ReadyPollInterval: 2 * time.Second,
		RefreshEvery:      10,
		ElementTimeout:    10 * time.Second,
		ResultTimeout:     10 * time.Second,
		StaleRetries:      3,
		Debounce:          500 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.ReadyPolls <= 0 {
		o.ReadyPolls = def.ReadyPolls
	}
	if o.ReadyPollTimeout <= 0 {
		o.ReadyPollTimeout = def.ReadyPollTimeout
	}
	if o.ReadyPollInterval < 0 {
		o.ReadyPollInterval = 0
	}
	if o.RefreshEvery < 0 {
		o.RefreshEvery = 0
	}
	if o.ElementTimeout <= 0 {
		o.ElementTimeout = def.ElementTimeout
	}
	if o.ResultTimeout <= 0 {
		o.ResultTimeout = def.ResultTimeout
	}
	if o.StaleRetries <= 0 {
		o.StaleRetries = def.StaleRetries
	}
	if o.Debounce < 0 {
		o.Debounce = 0
	}
	if o.Sleep == nil {
		o.Sleep = resilience.Sleep
	}
	return o
}
