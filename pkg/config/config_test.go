package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 5000*time.Millisecond, cfg.Polling.Interval)
	assert.Equal(t, EmptyLiveFallback, cfg.Store.EmptyLivePolicy)
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":8090", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9100"
backend:
  base_url: "http://broker.internal:8000"
  timeout: 3s
feed:
  ping_interval: 5s
  pong_timeout: 12s
  reconnect:
    enabled: true
    initial_delay: 1s
    max_delay: 10s
    multiplier: 1.5
polling:
  interval: 2s
  resources: ["shipments", "schedules"]
store:
  empty_live_policy: authoritative
logging:
  level: warn
`)

	t.Setenv("FREIGHTDASH_LOG_LEVEL", "debug")
	t.Setenv("FREIGHTDASH_LOGIN_NAME", "Dispatcher")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Address)
	assert.Equal(t, "http://broker.internal:8000", cfg.Backend.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, 5*time.Second, cfg.Feed.PingInterval)
	assert.Equal(t, 1.5, cfg.Feed.Reconnect.Multiplier)
	assert.Equal(t, 2*time.Second, cfg.Polling.Interval)
	assert.Equal(t, []string{"shipments", "schedules"}, cfg.Polling.Resources)
	assert.Equal(t, EmptyLiveAuthoritative, cfg.Store.EmptyLivePolicy)

	// env overrides win over the file
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "Dispatcher", cfg.Backend.Credentials.Name)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestFeedURL(t *testing.T) {
	cases := []struct {
		name    string
		baseURL string
		feedURL string
		want    string
	}{
		{"derived from http", "http://localhost:8000", "", "ws://localhost:8000/ws"},
		{"derived from https with path", "https://broker.example.com/api/", "", "wss://broker.example.com/api/ws"},
		{"explicit wins", "http://localhost:8000", "ws://feed.example.com/live", "ws://feed.example.com/live"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Backend.BaseURL = tc.baseURL
			cfg.Feed.URL = tc.feedURL
			assert.Equal(t, tc.want, cfg.FeedURL())
		})
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty server address", func(c *Config) { c.Server.Address = "" }},
		{"backend url without scheme", func(c *Config) { c.Backend.BaseURL = "localhost:8000" }},
		{"backend url with ws scheme", func(c *Config) { c.Backend.BaseURL = "ws://localhost:8000" }},
		{"feed url with http scheme", func(c *Config) { c.Feed.URL = "http://localhost:8000/ws" }},
		{"empty login name", func(c *Config) { c.Backend.Credentials.Name = "" }},
		{"blank login name", func(c *Config) { c.Backend.Credentials.Name = "   " }},
		{"backend url without host", func(c *Config) { c.Backend.BaseURL = "http://" }},
		{"blank logging level", func(c *Config) { c.Logging.Level = " " }},
		{"pong timeout not above ping interval", func(c *Config) { c.Feed.PongTimeout = c.Feed.PingInterval }},
		{"zero messages per second", func(c *Config) { c.Feed.MessagesPerSecond = 0 }},
		{"reconnect multiplier below one", func(c *Config) { c.Feed.Reconnect.Multiplier = 0.5 }},
		{"reconnect max delay below initial", func(c *Config) { c.Feed.Reconnect.MaxDelay = time.Millisecond }},
		{"zero poll interval", func(c *Config) { c.Polling.Interval = 0 }},
		{"unknown poll resource", func(c *Config) { c.Polling.Resources = []string{"invoices"} }},
		{"unknown empty live policy", func(c *Config) { c.Store.EmptyLivePolicy = "sometimes" }},
		{"unknown cache backend", func(c *Config) { c.Cache.Backend = "memcached" }},
		{"redis backend without address", func(c *Config) {
			c.Cache.Backend = CacheBackendRedis
			c.Redis.Address = ""
		}},
		{"zero breaker threshold", func(c *Config) { c.CircuitBreaker.FailureThreshold = 0 }},
		{"rate limiting without burst", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.Burst = 0
		}},
		{"tracing sample rate out of range", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_ReconnectDisabledIgnoresBackoffValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feed.Reconnect.Enabled = false
	cfg.Feed.Reconnect.InitialDelay = 0
	cfg.Feed.Reconnect.Multiplier = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_URLErrorNamesField(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Feed.URL = "http://localhost:8000/ws"
	assert.EqualError(t, cfg.Validate(), "feed.url: invalid URL scheme (must be ws, wss)")

	cfg = DefaultConfig()
	cfg.Backend.Credentials.Name = " "
	assert.EqualError(t, cfg.Validate(), "backend.credentials.name is required")
}
