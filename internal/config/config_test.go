package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 4, cfg.Sessions.MaxSessions)
	assert.Equal(t, 2*time.Second, cfg.Sessions.StopTimeout)
	assert.Equal(t, 2, cfg.Sessions.RelayDepth)
	assert.Equal(t, 20, cfg.Sessions.FPSWindow)
	assert.Equal(t, 0.3, cfg.Sessions.DefaultConfidence)
	assert.Equal(t, 640, cfg.Sessions.DefaultImageSize)
	assert.Equal(t, 300*time.Millisecond, cfg.Source.SettleDelay)
	assert.Equal(t, []string{"youtube.com", "youtu.be"}, cfg.Source.PlatformHosts)
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.History.Enabled)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
sessions:
  max_sessions: 8
  stop_timeout: 5s
tracker:
  iou_threshold: 0.5
`)
	t.Setenv("VEHICLECOUNT_SESSIONS_MODELS_DIR", "/opt/models")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 8, cfg.Sessions.MaxSessions)
	assert.Equal(t, 5*time.Second, cfg.Sessions.StopTimeout)
	assert.Equal(t, 0.5, cfg.Tracker.IOUThreshold)
	assert.Equal(t, "/opt/models", cfg.Sessions.ModelsDir)
}

func TestLoadInvalid(t *testing.T) {
	cfg, err := Load(writeConfig(t, "sessions:\n  max_sessions: 0\n"))
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "max_sessions")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestServerConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  ServerConfig
		wantErr string
	}{
		{
			name:   "valid plain http",
			config: ServerConfig{HTTPPort: 8080},
		},
		{
			name:    "invalid port",
			config:  ServerConfig{HTTPPort: 70000},
			wantErr: "invalid HTTP port",
		},
		{
			name:    "http3 without tls",
			config:  ServerConfig{HTTPPort: 8080, HTTP3Port: 8443},
			wantErr: "TLS certificate and key are required",
		},
		{
			name: "http3 cert missing",
			config: ServerConfig{
				HTTPPort:    8080,
				HTTP3Port:   8443,
				TLSCertFile: "/nonexistent/cert.pem",
				TLSKeyFile:  "/nonexistent/key.pem",
			},
			wantErr: "TLS certificate file not found",
		},
		{
			name:    "rate limit without burst",
			config:  ServerConfig{HTTPPort: 8080, RateLimit: 5},
			wantErr: "rate_burst",
		},
		{
			name:   "trusted proxies",
			config: ServerConfig{HTTPPort: 8080, TrustedProxies: []string{"10.0.0.0/8", "127.0.0.1"}},
		},
		{
			name:    "bad trusted proxy",
			config:  ServerConfig{HTTPPort: 8080, TrustedProxies: []string{"10.0.0.0/40"}},
			wantErr: "invalid trusted proxy",
		},
		{
			name:    "trusted proxy not an ip",
			config:  ServerConfig{HTTPPort: 8080, TrustedProxies: []string{"proxy.local"}},
			wantErr: "invalid trusted proxy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedisConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		config  RedisConfig
		wantErr string
	}{
		{
			name:   "disabled skips validation",
			config: RedisConfig{},
		},
		{
			name: "valid",
			config: RedisConfig{
				Enabled:      true,
				Addresses:    []string{"localhost:6379"},
				PoolSize:     10,
				MinIdleConns: 2,
			},
		},
		{
			name:    "missing addresses",
			config:  RedisConfig{Enabled: true, PoolSize: 10},
			wantErr: "at least one Redis address is required",
		},
		{
			name: "min idle conns greater than pool size",
			config: RedisConfig{
				Enabled:      true,
				Addresses:    []string{"localhost:6379"},
				PoolSize:     2,
				MinIdleConns: 5,
			},
			wantErr: "min_idle_conns cannot be greater than pool_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSessionsConfigValidation(t *testing.T) {
	valid := SessionsConfig{
		MaxSessions:       4,
		StopTimeout:       2 * time.Second,
		RelayDepth:        2,
		FPSWindow:         20,
		ModelsDir:         "models",
		DefaultConfidence: 0.3,
		DefaultImageSize:  640,
		DefaultInterval:   1,
		JPEGQuality:       80,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*SessionsConfig)
		wantErr string
	}{
		{"zero slots", func(c *SessionsConfig) { c.MaxSessions = 0 }, "max_sessions"},
		{"zero stop timeout", func(c *SessionsConfig) { c.StopTimeout = 0 }, "stop_timeout"},
		{"zero relay depth", func(c *SessionsConfig) { c.RelayDepth = 0 }, "relay_depth"},
		{"confidence out of range", func(c *SessionsConfig) { c.DefaultConfidence = 1.5 }, "default_confidence"},
		{"zero interval", func(c *SessionsConfig) { c.DefaultInterval = 0 }, "default_interval"},
		{"bad jpeg quality", func(c *SessionsConfig) { c.JPEGQuality = 101 }, "jpeg_quality"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegistryConfigValidation(t *testing.T) {
	assert.NoError(t, (&RegistryConfig{Prefix: "p:", TTL: time.Minute, HeartbeatInterval: time.Second}).Validate())
	assert.Error(t, (&RegistryConfig{Prefix: "p:", TTL: time.Second, HeartbeatInterval: time.Minute}).Validate())
	assert.Error(t, (&RegistryConfig{TTL: time.Minute, HeartbeatInterval: time.Second}).Validate())
}

func TestTrackerAndDetectorValidation(t *testing.T) {
	assert.NoError(t, (&TrackerConfig{IOUThreshold: 0.3, MaxAge: 30, MinHits: 1}).Validate())
	assert.Error(t, (&TrackerConfig{IOUThreshold: 0, MaxAge: 30, MinHits: 1}).Validate())

	d := DetectorConfig{
		Endpoint:     "http://localhost:8500",
		Timeout:      time.Second,
		RetryInitial: 100 * time.Millisecond,
		RetryMax:     time.Second,
	}
	assert.NoError(t, d.Validate())
	d.RetryMax = 10 * time.Millisecond
	assert.Error(t, d.Validate())
}
