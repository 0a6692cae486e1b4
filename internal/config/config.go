// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Portal   PortalConfig   `mapstructure:"portal"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Render   RenderConfig   `mapstructure:"render"`
	Detector DetectorConfig `mapstructure:"detector"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Store    StoreConfig    `mapstructure:"store"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// PortalConfig governs how judgment pages are requested from the portal.
type PortalConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
}

// RetryConfig bounds the fetch retry loop.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RenderConfig configures the headless rendering fallback.
type RenderConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	QPS            float64       `mapstructure:"qps"`
}

// DetectorConfig tunes the JS-shell heuristics that trigger rendering.
type DetectorConfig struct {
	MinHTMLBytes int      `mapstructure:"min_html_bytes"`
	Selectors    []string `mapstructure:"selectors"`
	Keywords     []string `mapstructure:"keywords"`
}

// ArchiveConfig controls the raw-page snapshot written before extraction.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// StoreConfig selects and configures the case store backend.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// APIConfig controls the read-only HTTP surface.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LAWNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.lawnet-ingest")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
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
	v.SetDefault("portal.base_url", "https://www.lawnet.sg")
	v.SetDefault("portal.user_agent",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36 lawnet-ingest/1.0")
	v.SetDefault("portal.request_timeout", "15s")
	v.SetDefault("portal.max_body_bytes", 5*1024*1024)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "250ms")
	v.SetDefault("retry.max_delay", "5s")

	v.SetDefault("render.enabled", false)
	v.SetDefault("render.timeout", "20s")
	v.SetDefault("render.max_concurrency", 2)
	v.SetDefault("render.qps", 0.5)

	v.SetDefault("detector.min_html_bytes", 2048)
	v.SetDefault("detector.selectors", []string{})
	v.SetDefault("detector.keywords", []string{
		"window.__APOLLO_STATE__",
		"data-reactroot",
		"ng-app",
	})

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.dir", "data/pages")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "data/cases.db")
	v.SetDefault("store.postgres_dsn", "")

	v.SetDefault("api.listen_addr", ":8089")

	v.SetDefault("logging.development", false)
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url must be set")
	}
	if c.Portal.UserAgent == "" {
		return fmt.Errorf("portal.user_agent must be set")
	}
	if c.Portal.RequestTimeout <= 0 {
		return fmt.Errorf("portal.request_timeout must be > 0")
	}
	if c.Portal.MaxBodyBytes <= 0 {
		return fmt.Errorf("portal.max_body_bytes must be > 0")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be > 0")
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays must satisfy 0 < base_delay <= max_delay")
	}
	if c.Render.Enabled {
		if c.Render.Timeout <= 0 {
			return fmt.Errorf("render.timeout must be > 0")
		}
		if c.Render.MaxConcurrency <= 0 {
			return fmt.Errorf("render.max_concurrency must be > 0 when rendering is enabled")
		}
		if c.Render.QPS < 0 {
			return fmt.Errorf("render.qps must be >= 0")
		}
	}
	if c.Archive.Enabled && c.Archive.Dir == "" {
		return fmt.Errorf("archive.dir must be set when archiving is enabled")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path must be set")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return fmt.Errorf("store.postgres_dsn must be set")
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr must be set")
	}
	return nil
}
