package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"skyfare/models"
)

type Config struct {
	ExpressVPN ExpressVPNConfig
	Postgres   PostgresConfig
	Scheduler  SchedulerConfig
	Tracker    TrackerConfig
	Archive    ArchiveConfig
	Proxy      ProxyConfig
	Metrics    MetricsConfig
	DBPath     string
	LogPath    string
	LogLevel   string
	Providers  map[string]*ProviderConfig
	Routes     RoutesConfig
}

type ExpressVPNConfig struct {
	ActivationCode string
	AutoConnect    bool
	Region         string
}

type PostgresConfig struct {
	URL string
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type TrackerConfig struct {
	FreshnessWindow     time.Duration
	ProviderTimeout     time.Duration
	MaxConcurrentRoutes int
	RouteDelay          time.Duration
	DateDelay           time.Duration
	DaysAhead           int
}

type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type ProxyConfig struct {
	URL string
}

type MetricsConfig struct {
	Addr string
}

type ProviderConfig struct {
	ID          string            `yaml:"id"`
	Name        string            `yaml:"name"`
	Kind        string            `yaml:"kind"` // json_api, html_embedded
	Enabled     bool              `yaml:"enabled"`
	RateLimitMS int               `yaml:"rate_limit_ms"`
	Endpoints   map[string]string `yaml:"endpoints"`
	Headers     map[string]string `yaml:"headers"`
}

type RoutesConfig struct {
	DaysAhead       int       `yaml:"days_ahead"`
	IntervalMinutes int       `yaml:"interval_minutes"`
	Airports        []Airport `yaml:"airports"`
}

type Airport struct {
	Code string `yaml:"code"`
	City string `yaml:"city"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ExpressVPN: ExpressVPNConfig{
			ActivationCode: os.Getenv("EXPRESSVPN_ACTIVATION_CODE"),
			AutoConnect:    os.Getenv("EXPRESSVPN_AUTOCONNECT") == "true",
			Region:         getEnv("EXPRESSVPN_REGION", "smart"),
		},
		Postgres: PostgresConfig{
			URL: os.Getenv("DATABASE_URL"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("TRACKING_CRON"),
		},
		Tracker: TrackerConfig{
			FreshnessWindow:     time.Duration(getEnvInt("FRESHNESS_WINDOW_MINUTES", 60)) * time.Minute,
			ProviderTimeout:     time.Duration(getEnvInt("PROVIDER_TIMEOUT_SEC", 30)) * time.Second,
			MaxConcurrentRoutes: getEnvInt("MAX_CONCURRENT_ROUTES", 2),
			RouteDelay:          time.Duration(getEnvInt("ROUTE_DELAY_MS", 3000)) * time.Millisecond,
			DateDelay:           time.Duration(getEnvInt("DATE_DELAY_MS", 2000)) * time.Millisecond,
			DaysAhead:           getEnvInt("TRACKING_DAYS_AHEAD", 7),
		},
		Archive: ArchiveConfig{
			Enabled:         os.Getenv("ARCHIVE_ENABLED") == "true",
			Bucket:          os.Getenv("ARCHIVE_BUCKET"),
			Region:          getEnv("ARCHIVE_REGION", "us-east-1"),
			Endpoint:        os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("ARCHIVE_SECRET_ACCESS_KEY"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ""),
		},
		DBPath:    getEnv("DB_PATH", "skyfare.db"),
		LogPath:   getEnv("LOG_PATH", "skyfare.log"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Providers: make(map[string]*ProviderConfig),
	}

	if interval := os.Getenv("TRACKING_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}
	if cfg.Scheduler.Cron == "" && cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = time.Hour
	}

	if err := cfg.loadProviderConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.loadRoutesConfig(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadProviderConfigs() error {
	configDir := "config/providers"
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

		var provider ProviderConfig
		if err := yaml.Unmarshal(data, &provider); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		c.Providers[provider.ID] = &provider
	}

	return nil
}

func (c *Config) loadRoutesConfig() error {
	data, err := os.ReadFile("config/routes.yaml")
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, &c.Routes)
}

// DefaultRoutes expands the airport list into every ordered
// origin/destination pair.
func (c *Config) DefaultRoutes() []models.TrackedRoute {
	daysAhead := c.Routes.DaysAhead
	if daysAhead <= 0 {
		daysAhead = c.Tracker.DaysAhead
	}
	interval := c.Routes.IntervalMinutes
	if interval <= 0 {
		interval = 60
	}

	var routes []models.TrackedRoute
	for _, from := range c.Routes.Airports {
		for _, to := range c.Routes.Airports {
			if from.Code == to.Code {
				continue
			}
			routes = append(routes, models.TrackedRoute{
				Origin:          from.Code,
				Destination:     to.Code,
				OriginCity:      from.City,
				DestinationCity: to.City,
				IsActive:        true,
				DaysAhead:       daysAhead,
				IntervalMinutes: interval,
			})
		}
	}
	return routes
}

// EnabledProviders returns the configured provider IDs that are
// switched on, in a stable order.
func (c *Config) EnabledProviders() []string {
	order := []string{"alibaba", "mrbilit", "safar366", "safarmarket"}

	var ids []string
	for _, id := range order {
		if p, ok := c.Providers[id]; ok && p.Enabled {
			ids = append(ids, id)
		}
	}
	for id, p := range c.Providers {
		if !p.Enabled {
			continue
		}
		known := false
		for _, o := range order {
			if o == id {
				known = true
				break
			}
		}
		if !known {
			ids = append(ids, id)
		}
	}
	return ids
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
