package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Sessions.Validate(); err != nil {
		return fmt.Errorf("sessions config: %w", err)
	}

	if err := c.Source.Validate(); err != nil {
		return fmt.Errorf("source config: %w", err)
	}

	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("detector config: %w", err)
	}

	if err := c.Tracker.Validate(); err != nil {
		return fmt.Errorf("tracker config: %w", err)
	}

	if err := c.History.Validate(); err != nil {
		return fmt.Errorf("history config: %w", err)
	}

	if err := c.Uploads.Validate(); err != nil {
		return fmt.Errorf("uploads config: %w", err)
	}

	if c.Redis.Enabled {
		if err := c.Registry.Validate(); err != nil {
			return fmt.Errorf("registry config: %w", err)
		}
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if s.HTTP3Port != 0 {
		if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
			return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
		}
		if s.TLSCertFile == "" || s.TLSKeyFile == "" {
			return fmt.Errorf("TLS certificate and key are required for HTTP/3")
		}
		if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
		}
		if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
			return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
		}
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}

	if s.RateLimit > 0 && s.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be positive when rate limiting is enabled")
	}

	for _, p := range s.TrustedProxies {
		if strings.Contains(p, "/") {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("invalid trusted proxy %q: %w", p, err)
			}
		} else if net.ParseIP(p) == nil {
			return fmt.Errorf("invalid trusted proxy %q", p)
		}
	}

	if s.MaxViewersPerSession < 0 || s.MaxViewers < 0 {
		return fmt.Errorf("viewer limits cannot be negative")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.MinIdleConns < 0 {
		return fmt.Errorf("min_idle_conns cannot be negative")
	}

	if r.MinIdleConns > r.PoolSize {
		return fmt.Errorf("min_idle_conns cannot be greater than pool_size")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (s *SessionsConfig) Validate() error {
	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1")
	}

	if s.StopTimeout <= 0 {
		return fmt.Errorf("stop_timeout must be positive")
	}

	if s.RelayDepth < 1 {
		return fmt.Errorf("relay_depth must be at least 1")
	}

	if s.FPSWindow < 1 {
		return fmt.Errorf("fps_window must be at least 1")
	}

	if s.ModelsDir == "" {
		return fmt.Errorf("models_dir cannot be empty")
	}

	if s.DefaultConfidence <= 0 || s.DefaultConfidence >= 1 {
		return fmt.Errorf("default_confidence must be in (0, 1): %v", s.DefaultConfidence)
	}

	if s.DefaultImageSize < 32 {
		return fmt.Errorf("default_image_size too small: %d", s.DefaultImageSize)
	}

	if s.DefaultInterval < 1 {
		return fmt.Errorf("default_interval must be at least 1")
	}

	if s.JPEGQuality < 1 || s.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be in [1, 100]: %d", s.JPEGQuality)
	}

	return nil
}

func (s *SourceConfig) Validate() error {
	if s.FFmpegPath == "" {
		return fmt.Errorf("ffmpeg_path cannot be empty")
	}

	if s.SettleDelay < 0 {
		return fmt.Errorf("settle_delay cannot be negative")
	}

	if s.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive")
	}

	if s.ResolveTimeout <= 0 {
		return fmt.Errorf("resolve_timeout must be positive")
	}

	if s.DefaultFPS <= 0 {
		return fmt.Errorf("default_fps must be positive")
	}

	return nil
}

func (d *DetectorConfig) Validate() error {
	if d.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if d.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}

	if d.LoadRetries < 0 {
		return fmt.Errorf("load_retries cannot be negative")
	}

	if d.RetryInitial <= 0 || d.RetryMax < d.RetryInitial {
		return fmt.Errorf("retry_initial must be positive and not exceed retry_max")
	}

	return nil
}

func (t *TrackerConfig) Validate() error {
	if t.IOUThreshold <= 0 || t.IOUThreshold >= 1 {
		return fmt.Errorf("iou_threshold must be in (0, 1): %v", t.IOUThreshold)
	}

	if t.MaxAge < 1 {
		return fmt.Errorf("max_age must be at least 1")
	}

	if t.MinHits < 1 {
		return fmt.Errorf("min_hits must be at least 1")
	}

	return nil
}

func (h *HistoryConfig) Validate() error {
	if !h.Enabled {
		return nil
	}

	if h.DBPath == "" {
		return fmt.Errorf("db_path cannot be empty")
	}

	if h.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1")
	}

	if h.WriteRate <= 0 {
		return fmt.Errorf("write_rate must be positive")
	}

	return nil
}

func (u *UploadsConfig) Validate() error {
	if u.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if u.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be positive")
	}

	return nil
}

func (r *RegistryConfig) Validate() error {
	if r.Prefix == "" {
		return fmt.Errorf("prefix cannot be empty")
	}

	if r.TTL <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	if r.HeartbeatInterval <= 0 || r.HeartbeatInterval >= r.TTL {
		return fmt.Errorf("heartbeat_interval must be positive and shorter than ttl")
	}

	return nil
}
