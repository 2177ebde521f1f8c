package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        AppConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Log        LogConfig
	Scanner    ScannerConfig
	Mapping    MappingConfig
	Validation ValidationConfig
	Ingestion  IngestionConfig
	Refresh    RefreshConfig
	Storage    StorageConfig
	Telemetry  TelemetryConfig
	Profiler   ProfilerConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json console"`
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name    string
	Env     string `validate:"oneof=development test staging production"`
	Version string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int `validate:"min=1,max=65535"`
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
	// SlowQuery is the GORM slow-statement threshold; zero disables it
	SlowQuery time.Duration
}

// RedisConfig holds Redis connection settings. An empty Host disables the
// seen-hash cache.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// SeenTTL bounds how long a registered file hash is remembered
	SeenTTL time.Duration
	// Required fails startup when Redis is unreachable instead of
	// falling back to an in-memory cache
	Required bool
}

// Enabled reports whether a Redis host is configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ScannerConfig controls the catalog scanner
type ScannerConfig struct {
	Root        string `validate:"required"`
	RootMarker  string
	FastMode    bool
	HashWorkers int `validate:"min=1,max=64"`
	// Watch registers new files as they appear under Root
	Watch bool
}

// MappingConfig controls field mapping
type MappingConfig struct {
	RulesFile            string `validate:"required"`
	HistoryFile          string
	HistoryBackend       string  `validate:"oneof=file db"`
	FuzzyThreshold       float64 `validate:"gt=0,lte=1"`
	AutoConfirmThreshold float64 `validate:"gt=0,lte=1"`
}

// ValidationConfig controls row validation
type ValidationConfig struct {
	FKCheck   bool
	FKTimeout time.Duration
}

// IngestionConfig controls the ingestion worker pool
type IngestionConfig struct {
	BatchSize  int `validate:"min=1"`
	Workers    int `validate:"min=1"`
	QueueSize  int `validate:"min=1"`
	JobTimeout time.Duration
	MaxRetries int `validate:"min=0"`
	RetryDelay time.Duration
}

// RefreshConfig controls materialized view refresh
type RefreshConfig struct {
	Enabled  bool
	Schedule string // "m h * * *"
	Views    []string
	Timeout  time.Duration
}

// StorageConfig holds S3-compatible object storage settings used to archive
// curated and quarantined files.
type StorageConfig struct {
	Enabled           bool
	Endpoint          string
	Region            string
	Bucket            string
	Prefix            string
	AccessKey         string
	SecretKey         string
	UseSSL            bool
	UsePathStyle      bool
	PresignExpiration time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool
	MetricsInterval   time.Duration
	LogsEnabled       bool
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only, disable in prod for security)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
	DBMetricsEnabled  bool
	DBPoolInterval    time.Duration
}

// ProfilerConfig holds Pyroscope settings
type ProfilerConfig struct {
	Enabled              bool
	ServerAddress        string
	ApplicationName      string
	BasicAuthUser        string
	BasicAuthPassword    string
	ProfileTypes         []string
	MutexProfileFraction int
	BlockProfileRate     int
	SpanProfiles         bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ERP_ prefix (e.g., ERP_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches
// ".", "./config" and "/app" for config.toml.
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
		// Config file not found is OK, we'll use defaults and env vars
	}

	// Booleans that default to true cannot be detected as empty later
	v.SetDefault("scanner.fast_mode", true)
	v.SetDefault("database.slow_query", "500ms")
	v.SetDefault("validation.fk_check", true)
	v.SetDefault("refresh.enabled", true)

	v.SetEnvPrefix("ERP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := fromViper(v)
	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		App: AppConfig{
			Name:    v.GetString("app.name"),
			Env:     v.GetString("app.env"),
			Version: v.GetString("app.version"),
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
			SlowQuery:       v.GetDuration("database.slow_query"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			SeenTTL:  v.GetDuration("redis.seen_ttl"),
			Required: v.GetBool("redis.required"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Scanner: ScannerConfig{
			Root:        v.GetString("scanner.root"),
			RootMarker:  v.GetString("scanner.root_marker"),
			FastMode:    v.GetBool("scanner.fast_mode"),
			HashWorkers: v.GetInt("scanner.hash_workers"),
			Watch:       v.GetBool("scanner.watch"),
		},
		Mapping: MappingConfig{
			RulesFile:            v.GetString("mapping.rules_file"),
			HistoryFile:          v.GetString("mapping.history_file"),
			HistoryBackend:       v.GetString("mapping.history_backend"),
			FuzzyThreshold:       v.GetFloat64("mapping.fuzzy_threshold"),
			AutoConfirmThreshold: v.GetFloat64("mapping.auto_confirm_threshold"),
		},
		Validation: ValidationConfig{
			FKCheck:   v.GetBool("validation.fk_check"),
			FKTimeout: v.GetDuration("validation.fk_timeout"),
		},
		Ingestion: IngestionConfig{
			BatchSize:  v.GetInt("ingestion.batch_size"),
			Workers:    v.GetInt("ingestion.workers"),
			QueueSize:  v.GetInt("ingestion.queue_size"),
			JobTimeout: v.GetDuration("ingestion.job_timeout"),
			MaxRetries: v.GetInt("ingestion.max_retries"),
			RetryDelay: v.GetDuration("ingestion.retry_delay"),
		},
		Refresh: RefreshConfig{
			Enabled:  v.GetBool("refresh.enabled"),
			Schedule: v.GetString("refresh.schedule"),
			Views:    v.GetStringSlice("refresh.views"),
			Timeout:  v.GetDuration("refresh.timeout"),
		},
		Storage: StorageConfig{
			Enabled:           v.GetBool("storage.enabled"),
			Endpoint:          v.GetString("storage.endpoint"),
			Region:            v.GetString("storage.region"),
			Bucket:            v.GetString("storage.bucket"),
			Prefix:            v.GetString("storage.prefix"),
			AccessKey:         v.GetString("storage.access_key"),
			SecretKey:         v.GetString("storage.secret_key"),
			UseSSL:            v.GetBool("storage.use_ssl"),
			UsePathStyle:      v.GetBool("storage.use_path_style"),
			PresignExpiration: v.GetDuration("storage.presign_expiration"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			MetricsInterval:   v.GetDuration("telemetry.metrics_interval"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
			DBMetricsEnabled:  v.GetBool("telemetry.db_metrics_enabled"),
			DBPoolInterval:    v.GetDuration("telemetry.db_pool_interval"),
		},
		Profiler: ProfilerConfig{
			Enabled:              v.GetBool("profiler.enabled"),
			ServerAddress:        v.GetString("profiler.server_address"),
			ApplicationName:      v.GetString("profiler.application_name"),
			BasicAuthUser:        v.GetString("profiler.basic_auth_user"),
			BasicAuthPassword:    v.GetString("profiler.basic_auth_password"),
			ProfileTypes:         v.GetStringSlice("profiler.profile_types"),
			MutexProfileFraction: v.GetInt("profiler.mutex_profile_fraction"),
			BlockProfileRate:     v.GetInt("profiler.block_profile_rate"),
			SpanProfiles:         v.GetBool("profiler.span_profiles"),
		},
	}
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "erp-ingestion"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Version == "" {
		cfg.App.Version = "dev"
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
		cfg.Database.DBName = "erp"
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
	if cfg.Redis.Host != "" && cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.SeenTTL == 0 {
		cfg.Redis.SeenTTL = 30 * 24 * time.Hour
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

	if cfg.Scanner.Root == "" {
		cfg.Scanner.Root = "temp/outputs"
	}
	if cfg.Scanner.RootMarker == "" {
		cfg.Scanner.RootMarker = cfg.Scanner.Root
	}
	if cfg.Scanner.HashWorkers == 0 {
		cfg.Scanner.HashWorkers = 4
	}

	if cfg.Mapping.RulesFile == "" {
		cfg.Mapping.RulesFile = "config/field_mappings_v2.yaml"
	}
	if cfg.Mapping.HistoryFile == "" {
		cfg.Mapping.HistoryFile = "config/mapping_history.json"
	}
	if cfg.Mapping.HistoryBackend == "" {
		cfg.Mapping.HistoryBackend = "file"
	}
	if cfg.Mapping.FuzzyThreshold == 0 {
		cfg.Mapping.FuzzyThreshold = 0.6
	}
	if cfg.Mapping.AutoConfirmThreshold == 0 {
		cfg.Mapping.AutoConfirmThreshold = 0.9
	}

	if cfg.Validation.FKTimeout == 0 {
		cfg.Validation.FKTimeout = 5 * time.Second
	}

	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = 500
	}
	if cfg.Ingestion.Workers == 0 {
		cfg.Ingestion.Workers = 3
	}
	if cfg.Ingestion.QueueSize == 0 {
		cfg.Ingestion.QueueSize = 100
	}
	if cfg.Ingestion.JobTimeout == 0 {
		cfg.Ingestion.JobTimeout = 30 * time.Minute
	}
	if cfg.Ingestion.MaxRetries == 0 {
		cfg.Ingestion.MaxRetries = 3
	}
	if cfg.Ingestion.RetryDelay == 0 {
		cfg.Ingestion.RetryDelay = time.Minute
	}

	if cfg.Refresh.Schedule == "" {
		cfg.Refresh.Schedule = "0 2 * * *"
	}
	if cfg.Refresh.Timeout == 0 {
		cfg.Refresh.Timeout = 10 * time.Minute
	}

	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.Prefix == "" {
		cfg.Storage.Prefix = "ingestion"
	}
	if cfg.Storage.PresignExpiration == 0 {
		cfg.Storage.PresignExpiration = 15 * time.Minute
	}

	// Telemetry defaults
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0 // 100% in development
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = cfg.App.Name
	}
	if cfg.Telemetry.MetricsInterval == 0 {
		cfg.Telemetry.MetricsInterval = 60 * time.Second
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Telemetry.DBPoolInterval == 0 {
		cfg.Telemetry.DBPoolInterval = 15 * time.Second
	}

	if cfg.Profiler.ServerAddress == "" {
		cfg.Profiler.ServerAddress = "http://localhost:4040"
	}
	if cfg.Profiler.ApplicationName == "" {
		cfg.Profiler.ApplicationName = cfg.App.Name
	}
}

var structValidator = validator.New()

// validate performs validation on the configuration
func (c *Config) validate() error {
	if err := structValidator.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// Validate connection pool settings
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

	if c.Mapping.AutoConfirmThreshold < c.Mapping.FuzzyThreshold {
		return fmt.Errorf("mapping.auto_confirm_threshold (%.2f) cannot be below mapping.fuzzy_threshold (%.2f)",
			c.Mapping.AutoConfirmThreshold, c.Mapping.FuzzyThreshold)
	}
	if c.Mapping.HistoryBackend == "file" && c.Mapping.HistoryFile == "" {
		return fmt.Errorf("mapping.history_file is required for the file history backend")
	}
	if c.Validation.FKTimeout < 0 {
		return fmt.Errorf("validation.fk_timeout cannot be negative")
	}
	if c.Ingestion.JobTimeout <= 0 {
		return fmt.Errorf("ingestion.job_timeout must be positive")
	}
	if c.Refresh.Timeout <= 0 {
		return fmt.Errorf("refresh.timeout must be positive")
	}

	if c.Storage.Enabled {
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required when storage is enabled")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return fmt.Errorf("storage.access_key and storage.secret_key are required when storage is enabled")
		}
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
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
