package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Realtime  RealtimeConfig
	Presence  PresenceConfig
	Cache     CacheConfig
	Delivery  DeliveryConfig
	Push      PushConfig
	Storage   StorageConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level     string // debug, info, warn, error
	Format    string // json, console
	Output    string // stdout, stderr, or file path
	GormLevel string // silent, error, warn, info
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	MigrationsPath  string
}

// RedisConfig holds Redis connection settings. When Enabled is false the
// presence store, history cache and fan-out run in-process.
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig holds token verification settings
type JWTConfig struct {
	Secret                string
	Issuer                string
	AccessTokenExpiration time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	MaxBodySize      int64
	CORSAllowOrigins []string
	CORSAllowMethods []string
	CORSAllowHeaders []string
	TrustedProxies   []string
	// RateLimit requests per RateWindow per user or client IP on the REST API
	RateLimit  int
	RateWindow time.Duration
}

// RealtimeConfig holds websocket gateway settings
type RealtimeConfig struct {
	NodeID          string
	ReadTimeout     time.Duration // pong wait
	WriteTimeout    time.Duration
	PingPeriod      time.Duration
	MaxMessageSize  int64
	SendBuffer      int
	EventsPerSecond float64
	EventBurst      int
	AllowedOrigins  []string
	FanoutChannel   string
}

// PresenceConfig holds TTLs for the ephemeral presence state
type PresenceConfig struct {
	OnlineTTL time.Duration
	TypingTTL time.Duration
}

// CacheConfig holds the conversation history cache settings
type CacheConfig struct {
	HistoryTTL      time.Duration
	DefaultPageSize int
	MaxPageSize     int
}

// DeliveryConfig holds delivery pipeline limits
type DeliveryConfig struct {
	PersistTimeout time.Duration
	PushWorkers    int
	PushQueueSize  int
	PushTimeout    time.Duration
}

// StorageConfig holds the S3-compatible object store for message attachments
type StorageConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool

	// PresignExpiration bounds how long an upload URL stays valid
	PresignExpiration time.Duration
	// DownloadExpiration bounds presigned download URLs; S3 caps it at 7 days
	DownloadExpiration time.Duration
	// PublicBaseURL, when set, serves attachments from a public bucket or CDN
	// instead of presigned download URLs
	PublicBaseURL string
	MaxUploadSize int64
}

// PushConfig holds the outbound push gateway settings
type PushConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	MetricsInterval   time.Duration
	DBTraceEnabled    bool
}

// Load reads config.toml and CHAT_* environment overrides.
// Priority: environment, config file, built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("CHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
			MigrationsPath:  v.GetString("database.migrations_path"),
		},
		Redis: RedisConfig{
			Enabled:  v.GetBool("redis.enabled"),
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:                v.GetString("jwt.secret"),
			Issuer:                v.GetString("jwt.issuer"),
			AccessTokenExpiration: v.GetDuration("jwt.access_token_expiration"),
		},
		Log: LogConfig{
			Level:     v.GetString("log.level"),
			Format:    v.GetString("log.format"),
			Output:    v.GetString("log.output"),
			GormLevel: v.GetString("log.gorm_level"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			MaxBodySize:      v.GetInt64("http.max_body_size"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
			CORSAllowMethods: v.GetStringSlice("http.cors_allow_methods"),
			CORSAllowHeaders: v.GetStringSlice("http.cors_allow_headers"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			RateLimit:        v.GetInt("http.rate_limit"),
			RateWindow:       v.GetDuration("http.rate_window"),
		},
		Realtime: RealtimeConfig{
			NodeID:          v.GetString("realtime.node_id"),
			ReadTimeout:     v.GetDuration("realtime.read_timeout"),
			WriteTimeout:    v.GetDuration("realtime.write_timeout"),
			PingPeriod:      v.GetDuration("realtime.ping_period"),
			MaxMessageSize:  v.GetInt64("realtime.max_message_size"),
			SendBuffer:      v.GetInt("realtime.send_buffer"),
			EventsPerSecond: v.GetFloat64("realtime.events_per_second"),
			EventBurst:      v.GetInt("realtime.event_burst"),
			AllowedOrigins:  v.GetStringSlice("realtime.allowed_origins"),
			FanoutChannel:   v.GetString("realtime.fanout_channel"),
		},
		Presence: PresenceConfig{
			OnlineTTL: v.GetDuration("presence.online_ttl"),
			TypingTTL: v.GetDuration("presence.typing_ttl"),
		},
		Cache: CacheConfig{
			HistoryTTL:      v.GetDuration("cache.history_ttl"),
			DefaultPageSize: v.GetInt("cache.default_page_size"),
			MaxPageSize:     v.GetInt("cache.max_page_size"),
		},
		Delivery: DeliveryConfig{
			PersistTimeout: v.GetDuration("delivery.persist_timeout"),
			PushWorkers:    v.GetInt("delivery.push_workers"),
			PushQueueSize:  v.GetInt("delivery.push_queue_size"),
			PushTimeout:    v.GetDuration("delivery.push_timeout"),
		},
		Push: PushConfig{
			Enabled:  v.GetBool("push.enabled"),
			Endpoint: v.GetString("push.endpoint"),
			APIKey:   v.GetString("push.api_key"),
			Timeout:  v.GetDuration("push.timeout"),
		},
		Storage: StorageConfig{
			Enabled:            v.GetBool("storage.enabled"),
			Endpoint:           v.GetString("storage.endpoint"),
			Region:             v.GetString("storage.region"),
			Bucket:             v.GetString("storage.bucket"),
			AccessKey:          v.GetString("storage.access_key"),
			SecretKey:          v.GetString("storage.secret_key"),
			UseSSL:             v.GetBool("storage.use_ssl"),
			UsePathStyle:       v.GetBool("storage.use_path_style"),
			PresignExpiration:  v.GetDuration("storage.presign_expiration"),
			DownloadExpiration: v.GetDuration("storage.download_expiration"),
			PublicBaseURL:      v.GetString("storage.public_base_url"),
			MaxUploadSize:      v.GetInt64("storage.max_upload_size"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// devJWTSecret lets a local gateway start without configuration. Production
// validation rejects it by length.
const devJWTSecret = "dev-only-secret"

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "campus-chat"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "campus_chat"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.MigrationsPath == "" {
		cfg.Database.MigrationsPath = "migrations"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.JWT.Secret == "" && cfg.App.Env != "production" {
		cfg.JWT.Secret = devJWTSecret
	}
	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "campus-auth"
	}
	if cfg.JWT.AccessTokenExpiration == 0 {
		cfg.JWT.AccessTokenExpiration = 24 * time.Hour
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Log.GormLevel == "" {
		cfg.Log.GormLevel = "warn"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20
	}
	// no CORS origin default: cross-origin calls stay disabled until configured
	if len(cfg.HTTP.CORSAllowMethods) == 0 {
		cfg.HTTP.CORSAllowMethods = []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"}
	}
	if len(cfg.HTTP.CORSAllowHeaders) == 0 {
		cfg.HTTP.CORSAllowHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
	}
	if cfg.HTTP.RateLimit == 0 {
		cfg.HTTP.RateLimit = 300
	}
	if cfg.HTTP.RateWindow == 0 {
		cfg.HTTP.RateWindow = time.Minute
	}

	if cfg.Realtime.NodeID == "" {
		cfg.Realtime.NodeID = "node-1"
	}
	if cfg.Realtime.ReadTimeout == 0 {
		cfg.Realtime.ReadTimeout = 60 * time.Second
	}
	if cfg.Realtime.WriteTimeout == 0 {
		cfg.Realtime.WriteTimeout = 10 * time.Second
	}
	if cfg.Realtime.PingPeriod == 0 {
		cfg.Realtime.PingPeriod = cfg.Realtime.ReadTimeout * 9 / 10
	}
	if cfg.Realtime.MaxMessageSize == 0 {
		cfg.Realtime.MaxMessageSize = 64 << 10
	}
	if cfg.Realtime.SendBuffer == 0 {
		cfg.Realtime.SendBuffer = 64
	}
	if cfg.Realtime.EventsPerSecond == 0 {
		cfg.Realtime.EventsPerSecond = 20
	}
	if cfg.Realtime.EventBurst == 0 {
		cfg.Realtime.EventBurst = 40
	}
	if cfg.Realtime.FanoutChannel == "" {
		cfg.Realtime.FanoutChannel = "chat:fanout"
	}

	if cfg.Presence.OnlineTTL == 0 {
		cfg.Presence.OnlineTTL = time.Hour
	}
	if cfg.Presence.TypingTTL == 0 {
		cfg.Presence.TypingTTL = 5 * time.Second
	}

	if cfg.Cache.HistoryTTL == 0 {
		cfg.Cache.HistoryTTL = 10 * time.Minute
	}
	if cfg.Cache.DefaultPageSize == 0 {
		cfg.Cache.DefaultPageSize = 50
	}
	if cfg.Cache.MaxPageSize == 0 {
		cfg.Cache.MaxPageSize = 100
	}

	if cfg.Delivery.PersistTimeout == 0 {
		cfg.Delivery.PersistTimeout = 5 * time.Second
	}
	if cfg.Delivery.PushWorkers == 0 {
		cfg.Delivery.PushWorkers = 4
	}
	if cfg.Delivery.PushQueueSize == 0 {
		cfg.Delivery.PushQueueSize = 256
	}
	if cfg.Delivery.PushTimeout == 0 {
		cfg.Delivery.PushTimeout = 10 * time.Second
	}

	if cfg.Push.Timeout == 0 {
		cfg.Push.Timeout = 5 * time.Second
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "chat-attachments"
	}
	if cfg.Storage.PresignExpiration == 0 {
		cfg.Storage.PresignExpiration = 15 * time.Minute
	}
	if cfg.Storage.DownloadExpiration == 0 {
		cfg.Storage.DownloadExpiration = 7 * 24 * time.Hour
	}
	if cfg.Storage.MaxUploadSize == 0 {
		cfg.Storage.MaxUploadSize = 25 << 20
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Cache.DefaultPageSize > c.Cache.MaxPageSize {
		return fmt.Errorf("cache.default_page_size (%d) cannot exceed cache.max_page_size (%d)",
			c.Cache.DefaultPageSize, c.Cache.MaxPageSize)
	}
	if c.Presence.TypingTTL >= c.Presence.OnlineTTL {
		return fmt.Errorf("presence.typing_ttl must be shorter than presence.online_ttl")
	}
	if c.Realtime.PingPeriod >= c.Realtime.ReadTimeout {
		return fmt.Errorf("realtime.ping_period must be shorter than realtime.read_timeout")
	}
	if c.Push.Enabled && c.Push.Endpoint == "" {
		return fmt.Errorf("push.endpoint is required when push.enabled is true")
	}
	if c.Storage.Enabled && (c.Storage.AccessKey == "" || c.Storage.SecretKey == "") {
		return fmt.Errorf("storage.access_key and storage.secret_key are required when storage.enabled is true")
	}
	if c.Storage.DownloadExpiration > 7*24*time.Hour {
		return fmt.Errorf("storage.download_expiration cannot exceed 7 days")
	}

	if c.App.Env == "production" {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("jwt.secret must be at least 32 characters in production")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if !c.Redis.Enabled {
			return fmt.Errorf("redis.enabled must be true in production (presence must be shared across nodes)")
		}
		for _, origin := range append(c.HTTP.CORSAllowOrigins, c.Realtime.AllowedOrigins...) {
			if origin == "*" {
				return fmt.Errorf("allowed origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// DSN returns the postgres connection URL with escaped credentials
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns host:port for the redis client
func (r *RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}
