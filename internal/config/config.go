package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Lookup  LookupConfig  `yaml:"lookup" mapstructure:"lookup"`
	Site    SiteConfig    `yaml:"site" mapstructure:"site"`
	Browser BrowserConfig `yaml:"browser" mapstructure:"browser"`
	Journal JournalConfig `yaml:"journal" mapstructure:"journal"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// LookupConfig configures a batch run and the pacing of each lookup.
type LookupConfig struct {
	InputPath             string `yaml:"input_path" mapstructure:"input_path"`
	CheckpointPath        string `yaml:"checkpoint_path" mapstructure:"checkpoint_path"`
	Headless              bool   `yaml:"headless" mapstructure:"headless"`
	BatchSize             int    `yaml:"batch_size" mapstructure:"batch_size"`
	RestSeconds           int    `yaml:"rest_seconds" mapstructure:"rest_seconds"`
	PerRecordDelaySeconds int    `yaml:"per_record_delay_seconds" mapstructure:"per_record_delay_seconds"`
	DiagnosticsDir        string `yaml:"diagnostics_dir" mapstructure:"diagnostics_dir"`
	ReadyPolls            int    `yaml:"ready_polls" mapstructure:"ready_polls"`
	ReadyPollIntervalMS   int    `yaml:"ready_poll_interval_ms" mapstructure:"ready_poll_interval_ms"`
	RefreshEvery          int    `yaml:"refresh_every" mapstructure:"refresh_every"`
	ElementTimeoutSecs    int    `yaml:"element_timeout_secs" mapstructure:"element_timeout_secs"`
	ResultTimeoutSecs     int    `yaml:"result_timeout_secs" mapstructure:"result_timeout_secs"`
	StaleRetries          int    `yaml:"stale_retries" mapstructure:"stale_retries"`
	DebounceMS            int    `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

// Rest returns the pause taken every BatchSize records.
func (c LookupConfig) Rest() time.Duration {
	return time.Duration(c.RestSeconds) * time.Second
}

// PerRecordDelay returns the pause after every processed record.
func (c LookupConfig) PerRecordDelay() time.Duration {
	return time.Duration(c.PerRecordDelaySeconds) * time.Second
}

// SiteConfig selects the registry site profile.
type SiteConfig struct {
	// Profile is a YAML site profile path. Empty uses the built-in profile.
	Profile string `yaml:"profile" mapstructure:"profile"`
}

// BrowserConfig configures the automation engine.
type BrowserConfig struct {
	Engine        string `yaml:"engine" mapstructure:"engine"`
	Bin           string `yaml:"bin" mapstructure:"bin"`
	StartAttempts int    `yaml:"start_attempts" mapstructure:"start_attempts"`
	// ActionTimeoutSecs bounds every click, clear, type and key press.
	ActionTimeoutSecs int `yaml:"action_timeout_secs" mapstructure:"action_timeout_secs"`
}

// JournalConfig configures the optional SQLite attempt journal.
type JournalConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TAXID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("browser.bin", "TAXID_BROWSER_BIN", "CHROME_BIN"); err != nil {
		return nil, eris.Wrap(err, "config: bind env")
	}

	// Defaults
	v.SetDefault("lookup.input_path", "data/data.xlsx")
	v.SetDefault("lookup.checkpoint_path", "result/result.xlsx")
	v.SetDefault("lookup.headless", false)
	v.SetDefault("lookup.batch_size", 120)
	v.SetDefault("lookup.rest_seconds", 120)
	v.SetDefault("lookup.per_record_delay_seconds", 2)
	v.SetDefault("lookup.diagnostics_dir", "diagnostics")
	v.SetDefault("lookup.ready_polls", 30)
	v.SetDefault("lookup.ready_poll_interval_ms", 2000)
	v.SetDefault("lookup.refresh_every", 10)
	v.SetDefault("lookup.element_timeout_secs", 10)
	v.SetDefault("lookup.result_timeout_secs", 10)
	v.SetDefault("lookup.stale_retries", 3)
	v.SetDefault("lookup.debounce_ms", 500)
	v.SetDefault("site.profile", "")
	v.SetDefault("browser.engine", "rod")
	v.SetDefault("browser.bin", "")
	v.SetDefault("browser.start_attempts", 3)
	v.SetDefault("browser.action_timeout_secs", 10)
	v.SetDefault("journal.path", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a run cannot start without.
func (c *Config) Validate() error {
	var problems []string
	if c.Lookup.CheckpointPath == "" {
		problems = append(problems, "lookup.checkpoint_path is required")
	}
	if c.Lookup.BatchSize < 0 {
		problems = append(problems, "lookup.batch_size must be >= 0")
	}
	if c.Lookup.RestSeconds < 0 || c.Lookup.PerRecordDelaySeconds < 0 {
		problems = append(problems, "lookup rest and delay seconds must be >= 0")
	}
	switch c.Browser.Engine {
	case "", "rod", "playwright":
	default:
		problems = append(problems, "browser.engine must be rod or playwright")
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
