package config

import (
	"encoding/base64"
	"fmt"
	"net/url"
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
	Telemetry TelemetryConfig
	Upstream  UpstreamConfig
	RateLimit RateLimitConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Webhook   WebhookConfig
	Lease     LeaseConfig
	Security  SecurityConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
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
	LogLevel        string
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// JWTConfig holds admin API token settings
type JWTConfig struct {
	Secret          string
	Issuer          string
	TokenExpiration time.Duration
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	TrustedProxies []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
	DBTraceEnabled    bool
	MetricsInterval   time.Duration
	// LogsEnabled exports zap entries at or above LogsLevel over OTLP
	LogsEnabled bool
	LogsLevel   string

	ProfilingEnabled bool
	PyroscopeAddress string
	ProfileTypes     []string
	SpanProfiles     bool
}

// UpstreamConfig holds catalog API client settings
type UpstreamConfig struct {
	// BaseURLTemplate is expanded per tenant; "{cluster}" is replaced with the tenant's cluster id.
	BaseURLTemplate string
	RequestTimeout  time.Duration
	MaxRateWait     time.Duration
	PageSize        int
	UserAgent       string
}

// RateLimitConfig holds the per-tenant bucket ceilings
type RateLimitConfig struct {
	PerSecond      int
	PerFiveMinutes int
	PerHour        int
	PerDay         int
	IdleEviction   time.Duration
}

// SyncConfig holds orchestrator settings
type SyncConfig struct {
	Workers        int
	QueueSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	TaskTimeout    time.Duration
	HistorySize    int
}

// SchedulerConfig holds reconcile trigger settings
type SchedulerConfig struct {
	Enabled           bool
	ReconcileInterval time.Duration
	CheckInterval     time.Duration
	// SearchRefreshInterval is how often dirty search vectors are recomputed
	SearchRefreshInterval time.Duration
}

// WebhookConfig holds webhook receiver settings
type WebhookConfig struct {
	CallbackBaseURL string
	SigningKey      string
	MaxPayloadBytes int64
}

// LeaseConfig selects the per-tenant sync lease backend
type LeaseConfig struct {
	Backend string // memory, redis
	TTL     time.Duration
}

// SecurityConfig holds app-store and credential encryption secrets
type SecurityConfig struct {
	AppSecret      string
	CredentialKey  string // base64, 32 bytes
	InstallMaxSkew time.Duration
}

// CredentialKeyBytes decodes CredentialKey
func (s SecurityConfig) CredentialKeyBytes() ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s.CredentialKey)
	if err != nil {
		return nil, fmt.Errorf("security.credential_key is not valid base64: %w", err)
	}
	return key, nil
}

// Load loads configuration from config.toml and environment variables.
// Priority (highest to lowest):
// 1. Environment variables with SHOPSYNC_ prefix (e.g., SHOPSYNC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/app")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("SHOPSYNC")
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
			LogLevel:        v.GetString("database.log_level"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:          v.GetString("jwt.secret"),
			Issuer:          v.GetString("jwt.issuer"),
			TokenExpiration: v.GetDuration("jwt.token_expiration"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			LogsLevel:         v.GetString("telemetry.logs_level"),
			ProfilingEnabled:  v.GetBool("telemetry.profiling_enabled"),
			PyroscopeAddress:  v.GetString("telemetry.pyroscope_address"),
			ProfileTypes:      v.GetStringSlice("telemetry.profile_types"),
			SpanProfiles:      v.GetBool("telemetry.span_profiles"),
		},
		Upstream: UpstreamConfig{
			BaseURLTemplate: v.GetString("upstream.base_url_template"),
			RequestTimeout:  v.GetDuration("upstream.request_timeout"),
			MaxRateWait:     v.GetDuration("upstream.max_rate_wait"),
			PageSize:        v.GetInt("upstream.page_size"),
			UserAgent:       v.GetString("upstream.user_agent"),
		},
		RateLimit: RateLimitConfig{
			PerSecond:      v.GetInt("rate_limit.per_second"),
			PerFiveMinutes: v.GetInt("rate_limit.per_five_minutes"),
			PerHour:        v.GetInt("rate_limit.per_hour"),
			PerDay:         v.GetInt("rate_limit.per_day"),
			IdleEviction:   v.GetDuration("rate_limit.idle_eviction"),
		},
		Sync: SyncConfig{
			Workers:        v.GetInt("sync.workers"),
			QueueSize:      v.GetInt("sync.queue_size"),
			MaxAttempts:    v.GetInt("sync.max_attempts"),
			RetryBaseDelay: v.GetDuration("sync.retry_base_delay"),
			RetryMaxDelay:  v.GetDuration("sync.retry_max_delay"),
			TaskTimeout:    v.GetDuration("sync.task_timeout"),
			HistorySize:    v.GetInt("sync.history_size"),
		},
		Scheduler: SchedulerConfig{
			Enabled:               !v.IsSet("scheduler.enabled") || v.GetBool("scheduler.enabled"),
			ReconcileInterval:     v.GetDuration("scheduler.reconcile_interval"),
			CheckInterval:         v.GetDuration("scheduler.check_interval"),
			SearchRefreshInterval: v.GetDuration("scheduler.search_refresh_interval"),
		},
		Webhook: WebhookConfig{
			CallbackBaseURL: v.GetString("webhook.callback_base_url"),
			SigningKey:      v.GetString("webhook.signing_key"),
			MaxPayloadBytes: v.GetInt64("webhook.max_payload_bytes"),
		},
		Lease: LeaseConfig{
			Backend: v.GetString("lease.backend"),
			TTL:     v.GetDuration("lease.ttl"),
		},
		Security: SecurityConfig{
			AppSecret:      v.GetString("security.app_secret"),
			CredentialKey:  v.GetString("security.credential_key"),
			InstallMaxSkew: v.GetDuration("security.install_max_skew"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "shopsync"
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
		cfg.Database.DBName = "shopsync"
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
	if cfg.Database.LogLevel == "" {
		cfg.Database.LogLevel = "warn"
	}

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}

	if cfg.JWT.Issuer == "" {
		cfg.JWT.Issuer = "shopsync"
	}
	if cfg.JWT.TokenExpiration == 0 {
		cfg.JWT.TokenExpiration = time.Hour
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 10 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 30 * time.Second
	}
	if cfg.Telemetry.LogsLevel == "" {
		cfg.Telemetry.LogsLevel = "info"
	}

	if cfg.Upstream.BaseURLTemplate == "" {
		cfg.Upstream.BaseURLTemplate = "https://{cluster}.api.shopplatform.io"
	}
	if cfg.Upstream.RequestTimeout == 0 {
		cfg.Upstream.RequestTimeout = 30 * time.Second
	}
	if cfg.Upstream.MaxRateWait == 0 {
		cfg.Upstream.MaxRateWait = 10 * time.Second
	}
	if cfg.Upstream.PageSize == 0 {
		cfg.Upstream.PageSize = 50
	}
	if cfg.Upstream.UserAgent == "" {
		cfg.Upstream.UserAgent = "shopsync/1.0"
	}

	if cfg.RateLimit.PerSecond == 0 {
		cfg.RateLimit.PerSecond = 20
	}
	if cfg.RateLimit.PerFiveMinutes == 0 {
		cfg.RateLimit.PerFiveMinutes = 300
	}
	if cfg.RateLimit.PerHour == 0 {
		cfg.RateLimit.PerHour = 3000
	}
	if cfg.RateLimit.PerDay == 0 {
		cfg.RateLimit.PerDay = 12000
	}
	if cfg.RateLimit.IdleEviction == 0 {
		cfg.RateLimit.IdleEviction = 24 * time.Hour
	}

	if cfg.Sync.Workers == 0 {
		cfg.Sync.Workers = 8
	}
	if cfg.Sync.QueueSize == 0 {
		cfg.Sync.QueueSize = 1024
	}
	if cfg.Sync.MaxAttempts == 0 {
		cfg.Sync.MaxAttempts = 5
	}
	if cfg.Sync.RetryBaseDelay == 0 {
		cfg.Sync.RetryBaseDelay = 30 * time.Second
	}
	if cfg.Sync.RetryMaxDelay == 0 {
		cfg.Sync.RetryMaxDelay = 30 * time.Minute
	}
	if cfg.Sync.TaskTimeout == 0 {
		cfg.Sync.TaskTimeout = 2 * time.Hour
	}
	if cfg.Sync.HistorySize == 0 {
		cfg.Sync.HistorySize = 100
	}

	if cfg.Scheduler.ReconcileInterval == 0 {
		cfg.Scheduler.ReconcileInterval = 6 * time.Hour
	}
	if cfg.Scheduler.CheckInterval == 0 {
		cfg.Scheduler.CheckInterval = 5 * time.Minute
	}
	if cfg.Scheduler.SearchRefreshInterval == 0 {
		cfg.Scheduler.SearchRefreshInterval = time.Minute
	}

	if cfg.Webhook.MaxPayloadBytes == 0 {
		cfg.Webhook.MaxPayloadBytes = 1 << 20
	}

	if cfg.Lease.Backend == "" {
		cfg.Lease.Backend = "memory"
	}
	if cfg.Lease.TTL == 0 {
		cfg.Lease.TTL = 3 * time.Hour
	}

	if cfg.Security.InstallMaxSkew == 0 {
		cfg.Security.InstallMaxSkew = 15 * time.Minute
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

	if !strings.Contains(c.Upstream.BaseURLTemplate, "{cluster}") {
		return fmt.Errorf("upstream.base_url_template must contain the {cluster} placeholder")
	}
	if c.Upstream.PageSize < 1 || c.Upstream.PageSize > 250 {
		return fmt.Errorf("upstream.page_size must be between 1 and 250, got %d", c.Upstream.PageSize)
	}
	if c.RateLimit.PerSecond < 0 || c.RateLimit.PerFiveMinutes < 0 || c.RateLimit.PerHour < 0 || c.RateLimit.PerDay < 0 {
		return fmt.Errorf("rate_limit ceilings cannot be negative")
	}
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be positive")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}
	if c.Sync.RetryBaseDelay > c.Sync.RetryMaxDelay {
		return fmt.Errorf("sync.retry_base_delay (%s) cannot exceed sync.retry_max_delay (%s)",
			c.Sync.RetryBaseDelay, c.Sync.RetryMaxDelay)
	}
	if c.Lease.Backend != "memory" && c.Lease.Backend != "redis" {
		return fmt.Errorf("lease.backend must be memory or redis, got %q", c.Lease.Backend)
	}
	if c.Telemetry.ProfilingEnabled && c.Telemetry.PyroscopeAddress == "" {
		return fmt.Errorf("telemetry.pyroscope_address is required when profiling is enabled")
	}
	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	if c.Security.CredentialKey != "" {
		key, err := c.Security.CredentialKeyBytes()
		if err != nil {
			return err
		}
		if len(key) != 32 {
			return fmt.Errorf("security.credential_key must decode to 32 bytes, got %d", len(key))
		}
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
		if c.Security.AppSecret == "" {
			return fmt.Errorf("security.app_secret is required in production")
		}
		if c.Security.CredentialKey == "" {
			return fmt.Errorf("security.credential_key is required in production")
		}
		if c.Webhook.SigningKey == "" {
			return fmt.Errorf("webhook.signing_key is required in production")
		}
		if c.Webhook.CallbackBaseURL == "" {
			return fmt.Errorf("webhook.callback_base_url is required in production")
		}
	}
	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
