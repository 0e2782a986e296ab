// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML file -> environment variables.
package config

import (
	"os"
	"time"

	configloader "github.com/GabrielNunesIT/go-libs/config-loader"
)

// Config is the root configuration structure for wardrobe-ingest.
type Config struct {
	LogLevel string         `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	Ingest   IngestConfig   `koanf:"ingest"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Watch    WatchConfig    `koanf:"watch"`
	Sinks    SinkConfig     `koanf:"sinks"`
}

// IngestConfig controls the batch ingestion behavior. These settings are
// fixed at construction time and ignored by hot reload.
type IngestConfig struct {
	// MaxImages caps the batch length for one wardrobe item.
	MaxImages int `koanf:"maximages" yaml:"max_images" json:"max_images"`

	// EncodeTimeout bounds one file's read-and-encode step so a stalled
	// read fails that slot instead of holding the whole batch open.
	EncodeTimeout time.Duration `koanf:"encodetimeout" yaml:"encode_timeout" json:"encode_timeout"`

	// AcceptQueueSize is the number of accept calls that may wait for the
	// single accept worker.
	AcceptQueueSize int `koanf:"acceptqueuesize" yaml:"accept_queue_size" json:"accept_queue_size"`
}

// PipelineConfig controls publishing and shutdown behavior.
type PipelineConfig struct {
	PublishBuffer   int           `koanf:"publishbuffer" yaml:"publish_buffer" json:"publish_buffer"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// ReloadDebounce is how long the config watcher waits after the last
	// file event before reloading. Editors tend to fire several writes
	// per save.
	ReloadDebounce time.Duration `koanf:"reloaddebounce" yaml:"reload_debounce" json:"reload_debounce"`
}

// WatchConfig configures the drop-folder import source.
type WatchConfig struct {
	Enabled bool   `koanf:"enabled"`
	Dir     string `koanf:"dir"`

	// Patterns match base file names; defaults cover common image types.
	Patterns []string `koanf:"patterns"`
	Exclude  []string `koanf:"exclude"`

	// SettleDelay is how long the source waits after the last file event
	// before handing the collected group to the ingester.
	SettleDelay time.Duration `koanf:"settledelay" yaml:"settle_delay" json:"settle_delay"`
}

// SinkConfig holds configuration for all sinks.
type SinkConfig struct {
	Stdout        StdoutSinkConfig        `koanf:"stdout"`
	File          FileSinkConfig          `koanf:"file"`
	Elasticsearch ElasticsearchSinkConfig `koanf:"elasticsearch"`
	HTTP          HTTPSinkConfig          `koanf:"http"`
}

// StdoutSinkConfig configures the stdout sink.
type StdoutSinkConfig struct {
	Enabled bool   `koanf:"enabled"`
	Format  string `koanf:"format"` // "json" or "text"
}

// FileSinkConfig configures the rotating batch-manifest sink.
type FileSinkConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"maxagedays" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// ElasticsearchSinkConfig configures the Elasticsearch sink.
type ElasticsearchSinkConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Addresses     []string      `koanf:"addresses"`
	Index         string        `koanf:"index"`
	Username      string        `koanf:"username"`
	Password      string        `koanf:"password"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
}

// HTTPSinkConfig configures the backend API sink. With a zero FlushInterval
// every snapshot is pushed as it arrives; otherwise snapshots are coalesced
// per item and pushed on the interval.
type HTTPSinkConfig struct {
	Enabled       bool          `koanf:"enabled"`
	URL           string        `koanf:"url"`
	AuthToken     string        `koanf:"authtoken" yaml:"auth_token" json:"auth_token"`
	FlushInterval time.Duration `koanf:"flushinterval" yaml:"flush_interval" json:"flush_interval"`
	Timeout       time.Duration `koanf:"timeout"`
}

// defaults returns the default configuration values.
func defaults() Config {
	return Config{
		LogLevel: "info",
		Ingest: IngestConfig{
			MaxImages:       10,
			EncodeTimeout:   10 * time.Second,
			AcceptQueueSize: 16,
		},
		Pipeline: PipelineConfig{
			PublishBuffer:   64,
			ShutdownTimeout: 30 * time.Second,
			ReloadDebounce:  250 * time.Millisecond,
		},
		Watch: WatchConfig{
			Enabled:     false,
			Patterns:    []string{"*.jpg", "*.jpeg", "*.png", "*.gif", "*.webp"},
			SettleDelay: 500 * time.Millisecond,
		},
		Sinks: SinkConfig{
			Stdout: StdoutSinkConfig{
				Enabled: true,
				Format:  "json",
			},
			File: FileSinkConfig{
				Enabled:    false,
				MaxSizeMB:  100,
				MaxBackups: 3,
				MaxAgeDays: 7,
				Compress:   true,
			},
			Elasticsearch: ElasticsearchSinkConfig{
				Enabled:       false,
				Index:         "wardrobe-items",
				FlushInterval: 5 * time.Second,
			},
			HTTP: HTTPSinkConfig{
				Enabled: false,
				Timeout: 10 * time.Second,
			},
		},
	}
}

// Load reads configuration from all sources with proper override order.
// Order: defaults -> config file -> environment variables.
func Load(configPath string) (*Config, error) {
	opts := []configloader.Option[Config]{
		configloader.WithDefaults[Config](defaults()),
	}

	// Add file source if path provided or if default config exists
	if configPath != "" {
		opts = append(opts, configloader.WithFile[Config](configPath))
	} else {
		// Try default config locations
		for _, path := range []string{"./config.yaml", "/etc/wardrobe-ingest/config.yaml"} {
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, configloader.WithFile[Config](path))
				break
			}
		}
	}

	// Add environment variable support
	opts = append(opts, configloader.WithEnv[Config]("WARDROBE_INGEST_"))

	// Load configuration
	loader := configloader.NewConfigLoader[Config](opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
