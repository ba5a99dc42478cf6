package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL   string
	CommandDBPath string
	LogLevel      string
	MetricsAddr   string
	Scheduler     SchedulerConfig
	Ingest        IngestConfig
	Scoring       ScoringConfig
	Proxy         ProxyConfig
	RateLimit     RateLimitConfig
	Browser       BrowserConfig
	Sources       map[string]*SourceConfig
}

type SchedulerConfig struct {
	StaggerOffset   time.Duration
	DefaultInterval time.Duration
}

type IngestConfig struct {
	MinRecordInterval time.Duration
	HistoryWindowDays int
	StaleAfter        time.Duration
}

type ScoringConfig struct {
	DefaultThreshold float64
	HotThreshold     float64
	SuperThreshold   float64
}

type ProxyConfig struct {
	Entries  []string
	Strategy string
	Cooldown time.Duration
}

type RateLimitConfig struct {
	DefaultRate  float64
	DefaultBurst float64
}

type BrowserConfig struct {
	Headless bool
	Locale   string
	Timezone string
}

// SourceConfig describes one storefront integration, loaded from
// config/sources/*.yaml.
type SourceConfig struct {
	ID              string            `yaml:"id"`
	Name            string            `yaml:"name"`
	Adapter         string            `yaml:"adapter"` // api, html or browser
	Active          bool              `yaml:"active"`
	Interval        string            `yaml:"interval"` // Go duration string, e.g. "45m"
	CategoryHint    string            `yaml:"category_hint"`
	BaseURL         string            `yaml:"base_url"`
	DealsURL        string            `yaml:"deals_url"`
	ProductURL      string            `yaml:"product_url"`
	Endpoints       map[string]string `yaml:"endpoints"`
	MaxPages        int               `yaml:"max_pages"`
	UseProxy        bool              `yaml:"use_proxy"`
	RatePerSec      float64           `yaml:"rate_per_sec"`
	Burst           float64           `yaml:"burst"`
	Currency        string            `yaml:"currency"`
	DefaultDealType string            `yaml:"default_deal_type"`
	Selectors       SelectorConfig    `yaml:"selectors"`
}

// SelectorConfig carries the CSS selectors a config-driven adapter extracts
// with. List selects one element per deal; the rest are evaluated inside it.
type SelectorConfig struct {
	List           string `yaml:"list"`
	Title          string `yaml:"title"`
	Price          string `yaml:"price"`
	OriginalPrice  string `yaml:"original_price"`
	URL            string `yaml:"url"`
	Image          string `yaml:"image"`
	Brand          string `yaml:"brand"`
	DealType       string `yaml:"deal_type"`
	ExternalIDAttr string `yaml:"external_id_attr"`
	ProductTitle   string `yaml:"product_title"`
	ProductPrice   string `yaml:"product_price"`
	ProductImage   string `yaml:"product_image"`
}

// RunInterval parses the configured interval, falling back to def.
func (s *SourceConfig) RunInterval(def time.Duration) time.Duration {
	if s.Interval != "" {
		if d, err := time.ParseDuration(s.Interval); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// Domain returns the destination host used for rate-limit bucketing.
func (s *SourceConfig) Domain() string {
	for _, raw := range []string{s.BaseURL, s.DealsURL} {
		if raw == "" {
			continue
		}
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return s.ID
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		CommandDBPath: getEnv("COMMAND_DB_PATH", "dealhound.db"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		Scheduler: SchedulerConfig{
			StaggerOffset:   getEnvDuration("SCHEDULE_STAGGER_OFFSET", 30*time.Second),
			DefaultInterval: getEnvDuration("SCHEDULE_DEFAULT_INTERVAL", time.Hour),
		},
		Ingest: IngestConfig{
			MinRecordInterval: getEnvDuration("PRICE_RECORD_MIN_INTERVAL", 6*time.Hour),
			HistoryWindowDays: getEnvInt("SCORE_HISTORY_WINDOW_DAYS", 90),
			StaleAfter:        getEnvDuration("PRODUCT_STALE_AFTER", 72*time.Hour),
		},
		Scoring: ScoringConfig{
			DefaultThreshold: getEnvFloat("SCORE_THRESHOLD", 50),
			HotThreshold:     getEnvFloat("SCORE_HOT_THRESHOLD", 70),
			SuperThreshold:   getEnvFloat("SCORE_SUPER_THRESHOLD", 85),
		},
		Proxy: ProxyConfig{
			Entries:  splitList(os.Getenv("PROXY_URLS")),
			Strategy: getEnv("PROXY_STRATEGY", "round_robin"),
			Cooldown: getEnvDuration("PROXY_COOLDOWN", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			DefaultRate:  getEnvFloat("RATE_LIMIT_DEFAULT", 1),
			DefaultBurst: getEnvFloat("RATE_LIMIT_BURST", 3),
		},
		Browser: BrowserConfig{
			Headless: getEnv("BROWSER_HEADLESS", "true") == "true",
			Locale:   getEnv("BROWSER_LOCALE", "en-US"),
			Timezone: getEnv("BROWSER_TIMEZONE", "America/Toronto"),
		},
		Sources: make(map[string]*SourceConfig),
	}

	if err := cfg.loadSourceConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadSourceConfigs() error {
	configDir := "config/sources"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var src SourceConfig
		if err := yaml.Unmarshal(data, &src); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if src.ID == "" {
			return fmt.Errorf("%s: source id is required", path)
		}

		c.Sources[src.ID] = &src
	}

	return nil
}

func splitList(val string) []string {
	var out []string
	for _, item := range strings.Split(val, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
