package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"freightdash/pkg/validation"

	"gopkg.in/yaml.v2"
)

// Empty-live policies for the reconciliation store.
const (
	EmptyLiveFallback      = "fallback"
	EmptyLiveAuthoritative = "authoritative"
)

// Snapshot cache backends.
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Backend struct {
		BaseURL     string        `yaml:"base_url"`
		Timeout     time.Duration `yaml:"timeout"`
		Credentials struct {
			Name     string `yaml:"name"`
			Password string `yaml:"password"`
		} `yaml:"credentials"`
	} `yaml:"backend"`

	Feed struct {
		URL                 string        `yaml:"url"`
		HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
		PingInterval        time.Duration `yaml:"ping_interval"`
		PongTimeout         time.Duration `yaml:"pong_timeout"`
		WriteTimeout        time.Duration `yaml:"write_timeout"`
		MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		MessagesPerSecond   float64       `yaml:"messages_per_second"`
		Burst               int           `yaml:"burst"`

		Reconnect struct {
			Enabled      bool          `yaml:"enabled"`
			InitialDelay time.Duration `yaml:"initial_delay"`
			MaxDelay     time.Duration `yaml:"max_delay"`
			Multiplier   float64       `yaml:"multiplier"`
			MaxAttempts  int           `yaml:"max_attempts"` // 0 = unlimited
		} `yaml:"reconnect"`
	} `yaml:"feed"`

	Polling struct {
		Interval  time.Duration `yaml:"interval"`
		Resources []string      `yaml:"resources"`
	} `yaml:"polling"`

	Store struct {
		EmptyLivePolicy string `yaml:"empty_live_policy"`
	} `yaml:"store"`

	Cache struct {
		Backend string        `yaml:"backend"`
		TTL     time.Duration `yaml:"ttl"`
	} `yaml:"cache"`

	Redis struct {
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Retry struct {
		Enabled      bool          `yaml:"enabled"`
		MaxAttempts  int           `yaml:"max_attempts"`
		InitialDelay time.Duration `yaml:"initial_delay"`
		MaxDelay     time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`

	CircuitBreaker struct {
		FailureThreshold    int           `yaml:"failure_threshold"`
		SuccessThreshold    int           `yaml:"success_threshold"`
		Timeout             time.Duration `yaml:"timeout"`
		MaxRequestsHalfOpen int           `yaml:"max_requests_half_open"`
	} `yaml:"circuit_breaker"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`
		HTTP    struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // 0 = unlimited
		} `yaml:"http"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Polled resources known to the dashboard session.
var knownResources = map[string]bool{
	"active-users": true,
	"shipments":    true,
	"schedules":    true,
	"matches":      true,
	"orders":       true,
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if err := validation.ValidateNonEmptyString(c.Server.Address, "server.address"); err != nil {
		return err
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Backend
	if err := validation.ValidateURL(c.Backend.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be > 0")
	}
	if err := validation.ValidateNonEmptyString(c.Backend.Credentials.Name, "backend.credentials.name"); err != nil {
		return err
	}

	// Feed
	if c.Feed.URL != "" {
		if err := validation.ValidateURL(c.Feed.URL, "ws", "wss"); err != nil {
			return fmt.Errorf("feed.url: %w", err)
		}
	}
	if c.Feed.PingInterval <= 0 {
		return fmt.Errorf("feed.ping_interval must be > 0")
	}
	if c.Feed.PongTimeout <= c.Feed.PingInterval {
		return fmt.Errorf("feed.pong_timeout must be > feed.ping_interval")
	}
	if c.Feed.WriteTimeout <= 0 {
		return fmt.Errorf("feed.write_timeout must be > 0")
	}
	if c.Feed.MaxMessageSizeBytes < 0 {
		return fmt.Errorf("feed.max_message_size_bytes must be >= 0")
	}
	if c.Feed.MessagesPerSecond <= 0 {
		return fmt.Errorf("feed.messages_per_second must be > 0")
	}
	if c.Feed.Burst <= 0 {
		return fmt.Errorf("feed.burst must be > 0")
	}
	if c.Feed.Reconnect.Enabled {
		if c.Feed.Reconnect.InitialDelay <= 0 {
			return fmt.Errorf("feed.reconnect.initial_delay must be > 0 when reconnect is enabled")
		}
		if c.Feed.Reconnect.MaxDelay < c.Feed.Reconnect.InitialDelay {
			return fmt.Errorf("feed.reconnect.max_delay must be >= initial_delay")
		}
		if c.Feed.Reconnect.Multiplier < 1 {
			return fmt.Errorf("feed.reconnect.multiplier must be >= 1")
		}
		if c.Feed.Reconnect.MaxAttempts < 0 {
			return fmt.Errorf("feed.reconnect.max_attempts must be >= 0")
		}
	}

	// Polling
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling.interval must be > 0")
	}
	for _, r := range c.Polling.Resources {
		if !knownResources[r] {
			return fmt.Errorf("polling.resources: unknown resource %q", r)
		}
	}

	// Store
	switch c.Store.EmptyLivePolicy {
	case EmptyLiveFallback, EmptyLiveAuthoritative:
	default:
		return fmt.Errorf("store.empty_live_policy must be %q or %q", EmptyLiveFallback, EmptyLiveAuthoritative)
	}

	// Cache
	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when cache.backend=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when cache.backend=redis")
		}
	default:
		return fmt.Errorf("cache.backend must be %q or %q", CacheBackendMemory, CacheBackendRedis)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}

	// Retry
	if c.Retry.Enabled && c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("retry.max_attempts must be >= 0")
	}

	// Circuit breaker
	if c.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be > 0")
	}
	if c.CircuitBreaker.SuccessThreshold <= 0 {
		return fmt.Errorf("circuit_breaker.success_threshold must be > 0")
	}
	if c.CircuitBreaker.Timeout <= 0 {
		return fmt.Errorf("circuit_breaker.timeout must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0")
		}
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be in (0, 1] when tracing is enabled")
	}

	// Logging
	if err := validation.ValidateNonEmptyString(c.Logging.Level, "logging.level"); err != nil {
		return err
	}

	return nil
}

// FeedURL returns the configured live feed URL, deriving it from the backend
// base URL (http→ws, https→wss, path /ws) when none is set.
func (c *Config) FeedURL() string {
	if c.Feed.URL != "" {
		return c.Feed.URL
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil {
		return "ws://localhost:8000/ws"
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String()
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8090"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 0 // event stream responses are long-lived
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Backend.BaseURL = "http://localhost:8000"
	cfg.Backend.Timeout = 10 * time.Second
	cfg.Backend.Credentials.Name = "Peter"
	cfg.Backend.Credentials.Password = "enter"

	cfg.Feed.HandshakeTimeout = 10 * time.Second
	cfg.Feed.PingInterval = 30 * time.Second
	cfg.Feed.PongTimeout = 60 * time.Second
	cfg.Feed.WriteTimeout = 10 * time.Second
	cfg.Feed.MaxMessageSizeBytes = 4 * 1024 * 1024
	cfg.Feed.MessagesPerSecond = 20
	cfg.Feed.Burst = 40
	cfg.Feed.Reconnect.Enabled = true
	cfg.Feed.Reconnect.InitialDelay = 500 * time.Millisecond
	cfg.Feed.Reconnect.MaxDelay = 30 * time.Second
	cfg.Feed.Reconnect.Multiplier = 2.0
	cfg.Feed.Reconnect.MaxAttempts = 0

	cfg.Polling.Interval = 5000 * time.Millisecond
	cfg.Polling.Resources = []string{"active-users", "shipments", "schedules", "matches", "orders"}

	cfg.Store.EmptyLivePolicy = EmptyLiveFallback

	cfg.Cache.Backend = CacheBackendMemory
	cfg.Cache.TTL = 5 * time.Second

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "freightdash:snapshot:"

	cfg.Retry.Enabled = true
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.InitialDelay = 200 * time.Millisecond
	cfg.Retry.MaxDelay = 2 * time.Second

	cfg.CircuitBreaker.FailureThreshold = 5
	cfg.CircuitBreaker.SuccessThreshold = 1
	cfg.CircuitBreaker.Timeout = 15 * time.Second
	cfg.CircuitBreaker.MaxRequestsHalfOpen = 1

	cfg.RateLimiting.Enabled = true
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("FREIGHTDASH_API_URL"); v != "" {
		c.Backend.BaseURL = v
	}
	if v := os.Getenv("FREIGHTDASH_FEED_URL"); v != "" {
		c.Feed.URL = v
	}
	if v := os.Getenv("FREIGHTDASH_SERVER_ADDRESS"); v != "" {
		c.Server.Address = v
	}
	if v := os.Getenv("FREIGHTDASH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("FREIGHTDASH_LOGIN_NAME"); v != "" {
		c.Backend.Credentials.Name = v
	}
	if v := os.Getenv("FREIGHTDASH_LOGIN_PASSWORD"); v != "" {
		c.Backend.Credentials.Password = v
	}
}
