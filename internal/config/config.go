package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Sessions SessionsConfig `mapstructure:"sessions"`
	Source   SourceConfig   `mapstructure:"source"`
	Detector DetectorConfig `mapstructure:"detector"`
	Tracker  TrackerConfig  `mapstructure:"tracker"`
	History  HistoryConfig  `mapstructure:"history"`
	Uploads  UploadsConfig  `mapstructure:"uploads"`
	Registry RegistryConfig `mapstructure:"registry"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`

	// HTTP/3 listener, disabled when the port is zero
	HTTP3Port   int    `mapstructure:"http3_port"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	// Per-client request limiting
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second, 0 disables
	RateBurst int     `mapstructure:"rate_burst"`
	// Peers whose X-Forwarded-For / X-Real-IP are believed (IPs or CIDRs)
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// MJPEG viewer caps
	MaxViewersPerSession int `mapstructure:"max_viewers_per_session"`
	MaxViewers           int `mapstructure:"max_viewers"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// SessionsConfig sizes the slot pool and the per-session pipeline.
type SessionsConfig struct {
	MaxSessions       int           `mapstructure:"max_sessions"`
	StopTimeout       time.Duration `mapstructure:"stop_timeout"`
	RelayDepth        int           `mapstructure:"relay_depth"`
	FPSWindow         int           `mapstructure:"fps_window"` // processed frames between fps updates
	ModelsDir         string        `mapstructure:"models_dir"`
	DefaultConfidence float64       `mapstructure:"default_confidence"`
	DefaultImageSize  int           `mapstructure:"default_image_size"`
	DefaultInterval   int           `mapstructure:"default_interval"`
	JPEGQuality       int           `mapstructure:"jpeg_quality"`
}

type SourceConfig struct {
	FFmpegPath     string        `mapstructure:"ffmpeg_path"`
	FFprobePath    string        `mapstructure:"ffprobe_path"`
	YTDLPPath      string        `mapstructure:"ytdlp_path"`
	StreamlinkPath string        `mapstructure:"streamlink_path"`
	SettleDelay    time.Duration `mapstructure:"settle_delay"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	ResolveTimeout time.Duration `mapstructure:"resolve_timeout"`
	PlatformHosts  []string      `mapstructure:"platform_hosts"`
	DefaultFPS     float64       `mapstructure:"default_fps"`
}

type DetectorConfig struct {
	Endpoint     string        `mapstructure:"endpoint"`
	Timeout      time.Duration `mapstructure:"timeout"`
	LoadRetries  int           `mapstructure:"load_retries"`
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	RetryMax     time.Duration `mapstructure:"retry_max"`
}

type TrackerConfig struct {
	IOUThreshold float64 `mapstructure:"iou_threshold"`
	MaxAge       int     `mapstructure:"max_age"`  // missed frames before a track expires
	MinHits      int     `mapstructure:"min_hits"` // matches before a track gets an identity
}

type HistoryConfig struct {
	Enabled   bool    `mapstructure:"enabled"`
	DBPath    string  `mapstructure:"db_path"`
	QueueSize int     `mapstructure:"queue_size"`
	WriteRate float64 `mapstructure:"write_rate"` // records per second
}

type UploadsConfig struct {
	Dir       string `mapstructure:"dir"`
	MaxSizeMB int64  `mapstructure:"max_size_mb"`
}

type RegistryConfig struct {
	Instance          string        `mapstructure:"instance"` // defaults to the hostname
	Prefix            string        `mapstructure:"prefix"`
	TTL               time.Duration `mapstructure:"ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// Environment variable override
	v.SetEnvPrefix("VEHICLECOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.debug_endpoints", false)
	v.SetDefault("server.http3_port", 0)
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.max_viewers_per_session", 4)
	v.SetDefault("server.max_viewers", 16)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Session pool defaults
	v.SetDefault("sessions.max_sessions", 4)
	v.SetDefault("sessions.stop_timeout", "2s")
	v.SetDefault("sessions.relay_depth", 2)
	v.SetDefault("sessions.fps_window", 20)
	v.SetDefault("sessions.models_dir", "models")
	v.SetDefault("sessions.default_confidence", 0.3)
	v.SetDefault("sessions.default_image_size", 640)
	v.SetDefault("sessions.default_interval", 1)
	v.SetDefault("sessions.jpeg_quality", 80)

	// Source resolution defaults
	v.SetDefault("source.ffmpeg_path", "ffmpeg")
	v.SetDefault("source.ffprobe_path", "ffprobe")
	v.SetDefault("source.ytdlp_path", "yt-dlp")
	v.SetDefault("source.streamlink_path", "streamlink")
	v.SetDefault("source.settle_delay", "300ms")
	v.SetDefault("source.probe_timeout", "10s")
	v.SetDefault("source.resolve_timeout", "30s")
	v.SetDefault("source.platform_hosts", []string{"youtube.com", "youtu.be"})
	v.SetDefault("source.default_fps", 25.0)

	// Detector defaults
	v.SetDefault("detector.endpoint", "http://localhost:8500")
	v.SetDefault("detector.timeout", "10s")
	v.SetDefault("detector.load_retries", 3)
	v.SetDefault("detector.retry_initial", "500ms")
	v.SetDefault("detector.retry_max", "5s")

	// Tracker defaults
	v.SetDefault("tracker.iou_threshold", 0.3)
	v.SetDefault("tracker.max_age", 30)
	v.SetDefault("tracker.min_hits", 1)

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.db_path", "data/history.db")
	v.SetDefault("history.queue_size", 32)
	v.SetDefault("history.write_rate", 10.0)

	// Upload defaults
	v.SetDefault("uploads.dir", "uploads")
	v.SetDefault("uploads.max_size_mb", 2048)

	// Registry defaults
	v.SetDefault("registry.instance", "")
	v.SetDefault("registry.prefix", "vehiclecount:sessions:")
	v.SetDefault("registry.ttl", "2m")
	v.SetDefault("registry.heartbeat_interval", "5s")
}
