package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all hublinks configuration.
type Config struct {
	Listen    string         `yaml:"listen" env:"LISTEN"`
	DBPath    string         `yaml:"db_path" env:"DB_PATH"`
	AdminPath string         `yaml:"admin_path" env:"ADMIN_PATH"`
	Site      SiteConfig     `yaml:"site" envPrefix:"SITE_"`
	Upstream  UpstreamConfig `yaml:"upstream" envPrefix:"UPSTREAM_"`
	Links     LinksConfig    `yaml:"links" envPrefix:"LINKS_"`
	Cache     CacheConfig    `yaml:"cache" envPrefix:"CACHE_"`
	Pages     PagesConfig    `yaml:"pages" envPrefix:"PAGES_"`
	Metrics   MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`
	Tracing   TracingConfig  `yaml:"tracing" envPrefix:"TRACING_"`
}

// SiteConfig describes the public site the links point at.
type SiteConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
}

// UpstreamConfig defines the web server whose pages are rewritten.
type UpstreamConfig struct {
	URL           string   `yaml:"url" env:"URL"`
	ContentClass  string   `yaml:"content_class" env:"CONTENT_CLASS"`
	AdminPrefixes []string `yaml:"admin_prefixes" env:"ADMIN_PREFIXES"`
}

// LinksConfig tunes the link fragment.
type LinksConfig struct {
	Enabled   bool          `yaml:"enabled" env:"ENABLED"`
	Limit     int           `yaml:"limit" env:"LIMIT"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	ClassName string        `yaml:"class_name" env:"CLASS_NAME"`
	Comment   bool          `yaml:"comment" env:"COMMENT"`
}

// CacheConfig controls the fragment cache.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" env:"ENABLED"`
	PurgeInterval time.Duration `yaml:"purge_interval" env:"PURGE_INTERVAL"`
}

// PagesConfig points at an optional page manifest kept in sync with the store.
type PagesConfig struct {
	Manifest string `yaml:"manifest" env:"MANIFEST"`
	Watch    bool   `yaml:"watch" env:"WATCH"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// TracingConfig enables OTLP trace export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "HUBLINKS_"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		DBPath:    "hublinks.db",
		AdminPath: "/_hublinks",
		Site: SiteConfig{
			BaseURL: "http://localhost:8080",
		},
		Upstream: UpstreamConfig{
			ContentClass:  "entry-content",
			AdminPrefixes: []string{"/wp-admin", "/wp-login.php"},
		},
		Links: LinksConfig{
			Enabled:   true,
			Limit:     50,
			TTL:       12 * time.Hour,
			KeyPrefix: "internal_links:",
			ClassName: "seo-internal-links",
		},
		Cache: CacheConfig{
			Enabled:       true,
			PurgeInterval: time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			ServiceName: "hublinks",
		},
	}
}

// Load reads a YAML config file, expands environment variables and applies
// HUBLINKS_* overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values the server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.Links.Limit <= 0 {
		errs = append(errs, fmt.Errorf("links.limit must be positive, got %d", c.Links.Limit))
	}
	if c.Links.TTL <= 0 {
		errs = append(errs, fmt.Errorf("links.ttl must be positive, got %s", c.Links.TTL))
	}
	if c.Links.ClassName == "" {
		errs = append(errs, errors.New("links.class_name is required"))
	}
	if _, err := url.Parse(c.Site.BaseURL); err != nil {
		errs = append(errs, fmt.Errorf("site.base_url: %w", err))
	}
	if c.Upstream.URL != "" {
		if u, err := url.Parse(c.Upstream.URL); err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("upstream.url %q is not an absolute URL", c.Upstream.URL))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
