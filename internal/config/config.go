// Package config loads and validates docscrape configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/docscrape/internal/logging"
	"github.com/JakeFAU/docscrape/internal/scrape"
)

// EnvPrefix prefixes every environment override, e.g. DOCSCRAPE_SCRAPE_WORKERS.
const EnvPrefix = "DOCSCRAPE"

// Config captures every knob of a scrape run.
type Config struct {
	Scrape   ScrapeConfig   `mapstructure:"scrape"`
	Report   ReportConfig   `mapstructure:"report"`
	Output   OutputConfig   `mapstructure:"output"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  logging.Config `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
}

// ScrapeConfig governs the worker pool and document handling.
type ScrapeConfig struct {
	// Workers of 0 means one per logical CPU.
	Workers         int    `mapstructure:"workers"`
	QueueDepth      int    `mapstructure:"queue_depth"`
	Glob            string `mapstructure:"glob"`
	Strain          string `mapstructure:"strain"`
	PluralSeparator string `mapstructure:"plural_separator"`
	Encoding        string `mapstructure:"encoding"`
	MaxBytes        int64  `mapstructure:"max_bytes"`
	Total           int    `mapstructure:"total"`
}

// ReportConfig names the columns of a CSV report input.
type ReportConfig struct {
	// Select lists the report columns echoed ahead of the scraped fields in
	// tabular output. Empty echoes every column.
	Select         []string `mapstructure:"select"`
	InputDir       string   `mapstructure:"input_dir"`
	PathColumn     string   `mapstructure:"path_column"`
	ContentColumn  string   `mapstructure:"content_column"`
	EncodingColumn string   `mapstructure:"encoding_column"`
	URLColumn      string   `mapstructure:"url_column"`
}

// OutputConfig selects where and how records are written.
type OutputConfig struct {
	Format       string `mapstructure:"format"`
	Path         string `mapstructure:"path"`
	ErrorsReport string `mapstructure:"errors_report"`
}

// ProgressConfig controls the live progress line and event batching.
type ProgressConfig struct {
	Disabled        bool          `mapstructure:"disabled"`
	UpdateFrequency time.Duration `mapstructure:"update_frequency"`
	BufferSize      int           `mapstructure:"buffer_size"`
	BatchEvents     int           `mapstructure:"batch_events"`
	BatchWait       time.Duration `mapstructure:"batch_wait"`
}

// MetricsConfig enables the status HTTP listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig controls the optional Postgres run ledger.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds the run-summary topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"processes":        "scrape.workers",
	"glob":             "scrape.glob",
	"strain":           "scrape.strain",
	"plural-separator": "scrape.plural_separator",
	"encoding":         "scrape.encoding",
	"total":            "scrape.total",
	"input-dir":        "report.input_dir",
	"select":           "report.select",
	"path-column":      "report.path_column",
	"content-column":   "report.content_column",
	"encoding-column":  "report.encoding_column",
	"url-column":       "report.url_column",
	"format":           "output.format",
	"output":           "output.path",
	"errors-report":    "output.errors_report",
	"no-progress":      "progress.disabled",
	"metrics-addr":     "metrics.addr",
}

// Load builds a Config from defaults, an optional file, the environment and
// flags, in increasing precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scrape.workers", 0)
	v.SetDefault("scrape.queue_depth", 0)
	v.SetDefault("scrape.plural_separator", "|")
	v.SetDefault("scrape.encoding", "utf-8")
	v.SetDefault("scrape.max_bytes", 64<<20)
	v.SetDefault("report.path_column", "filename")
	v.SetDefault("output.format", string(scrape.ModeTabular))
	v.SetDefault("output.path", "-")
	v.SetDefault("progress.update_frequency", 100*time.Millisecond)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_events", 256)
	v.SetDefault("progress.batch_wait", 500*time.Millisecond)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("database.max_conns", 4)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if _, err := scrape.ParseOutputMode(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if c.Scrape.Workers < 0 {
		return errors.New("scrape.workers must be >= 0")
	}
	if c.Scrape.QueueDepth < 0 {
		return errors.New("scrape.queue_depth must be >= 0")
	}
	if c.Scrape.PluralSeparator == "" {
		return errors.New("scrape.plural_separator must not be empty")
	}
	if c.Scrape.Total < 0 {
		return errors.New("scrape.total must be >= 0")
	}
	if c.Progress.UpdateFrequency <= 0 {
		return errors.New("progress.update_frequency must be > 0")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return errors.New("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Mode returns the parsed output mode.
func (c Config) Mode() scrape.OutputMode {
	mode, _ := scrape.ParseOutputMode(c.Output.Format)
	return mode
}
