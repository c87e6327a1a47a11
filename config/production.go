package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type ProductionConfig struct {
	Database     DatabaseConfig     `json:"database"`
	Server       ServerConfig       `json:"server"`
	Security     SecurityConfig     `json:"security"`
	JWT          JWTConfig          `json:"jwt"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Cache        CacheConfig        `json:"cache"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	WhatsApp     WhatsAppConfig     `json:"whatsapp"`
	Oracle       OracleConfig       `json:"oracle"`
	Extraction   ExtractionConfig   `json:"extraction"`
	Storage      StorageConfig      `json:"storage"`
	Conversation ConversationConfig `json:"conversation"`
}

type DatabaseConfig struct {
	Host            string        `json:"host" env:"DB_HOST" envDefault:"localhost"`
	Port            int           `json:"port" env:"DB_PORT" envDefault:"5432"`
	Name            string        `json:"name" env:"DB_NAME" envDefault:"postgres"`
	User            string        `json:"user" env:"DB_USER" envDefault:"postgres"`
	Password        string        `json:"password" env:"DB_PASSWORD"`
	SSLMode         string        `json:"ssl_mode" env:"DB_SSL_MODE" envDefault:"require"`
	MaxOpenConns    int           `json:"max_open_conns" env:"DB_MAX_OPEN_CONNS" envDefault:"50"`
	MaxIdleConns    int           `json:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time" env:"DB_CONN_MAX_IDLE_TIME" envDefault:"15m"`
	SlowQueryTime   time.Duration `json:"slow_query_time" env:"DB_SLOW_QUERY_TIME" envDefault:"1s"`
	AutoMigrate     bool          `json:"auto_migrate" env:"DB_AUTO_MIGRATE" envDefault:"false"`
}

type ServerConfig struct {
	Host            string        `json:"host" env:"SERVER_HOST" envDefault:"0.0.0.0"`
	Port            int           `json:"port" env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `json:"read_timeout" env:"SERVER_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `json:"write_timeout" env:"SERVER_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout     time.Duration `json:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	BodyLimit       int           `json:"body_limit" env:"SERVER_BODY_LIMIT" envDefault:"20971520"` // 20MB, contact sheets
	EnableMetrics   bool          `json:"enable_metrics" env:"SERVER_ENABLE_METRICS" envDefault:"true"`
	ProxyHeader     string        `json:"proxy_header" env:"SERVER_PROXY_HEADER" envDefault:"X-Real-IP"`
}

type SecurityConfig struct {
	AllowedOrigins   []string      `json:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	AllowedMethods   []string      `json:"allowed_methods" env:"CORS_ALLOWED_METHODS" envSeparator:"," envDefault:"GET,POST,PUT,DELETE,OPTIONS"`
	AllowedHeaders   []string      `json:"allowed_headers" env:"CORS_ALLOWED_HEADERS" envSeparator:"," envDefault:"Origin,Content-Type,Accept,Authorization,X-Requested-With"`
	AllowCredentials bool          `json:"allow_credentials" env:"CORS_ALLOW_CREDENTIALS" envDefault:"true"`
	GlobalRateLimit  int           `json:"global_rate_limit" env:"GLOBAL_RATE_LIMIT" envDefault:"2000"`
	RateLimitWindow  time.Duration `json:"rate_limit_window" env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

type JWTConfig struct {
	SecretKey       string        `json:"secret_key" env:"JWT_SECRET_KEY"`
	PrivateKey      string        `json:"private_key" env:"JWT_PRIVATE_KEY"`                         // RSA private key in PEM format
	PublicKey       string        `json:"public_key" env:"JWT_PUBLIC_KEY"`                           // RSA public key in PEM format
	UseRSAKeys      bool          `json:"use_rsa_keys" env:"JWT_USE_RSA_KEYS" envDefault:"false"` // Whether to use RSA keys instead of secret key
	AccessTokenTTL  time.Duration `json:"access_token_ttl" env:"JWT_ACCESS_TOKEN_TTL" envDefault:"24h"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl" env:"JWT_REFRESH_TOKEN_TTL" envDefault:"168h"`
	Issuer          string        `json:"issuer" env:"JWT_ISSUER" envDefault:"event-rsvp-engine"`
	Audience        string        `json:"audience" env:"JWT_AUDIENCE" envDefault:"event-rsvp-operators"`
}

type LoggingConfig struct {
	Level        string `json:"level" env:"LOG_LEVEL" envDefault:"info"`      // debug, info, warn, error
	Format       string `json:"format" env:"LOG_FORMAT" envDefault:"json"`    // json, text
	Output       string `json:"output" env:"LOG_OUTPUT" envDefault:"stdout"`  // stdout, file, both
	FilePath     string `json:"file_path" env:"LOG_FILE_PATH" envDefault:"logs/app.log"`
	MaxSize      int    `json:"max_size" env:"LOG_MAX_SIZE" envDefault:"100"` // MB
	MaxBackups   int    `json:"max_backups" env:"LOG_MAX_BACKUPS" envDefault:"10"`
	MaxAge       int    `json:"max_age" env:"LOG_MAX_AGE" envDefault:"30"` // days
	Compress     bool   `json:"compress" env:"LOG_COMPRESS" envDefault:"true"`
	EnableCaller bool   `json:"enable_caller" env:"LOG_ENABLE_CALLER" envDefault:"false"`

	EnableAccessLog bool `json:"enable_access_log" env:"LOG_ENABLE_ACCESS_LOG" envDefault:"true"`
}

type MetricsConfig struct {
	Enabled        bool   `json:"enabled" env:"METRICS_ENABLED" envDefault:"true"`
	PrometheusPath string `json:"prometheus_path" env:"METRICS_PROMETHEUS_PATH" envDefault:"/metrics"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled" env:"CACHE_ENABLED" envDefault:"false"`
	RedisURL    string        `json:"redis_url" env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	RedisDB     int           `json:"redis_db" env:"REDIS_DB" envDefault:"0"`
	RedisPrefix string        `json:"redis_prefix" env:"REDIS_PREFIX" envDefault:"rsvp:"`
	DefaultTTL  time.Duration `json:"default_ttl" env:"CACHE_DEFAULT_TTL" envDefault:"10m"`
	LockTTL     time.Duration `json:"lock_ttl" env:"CACHE_LOCK_TTL" envDefault:"2m"`
}

type SchedulerConfig struct {
	Enabled        bool          `json:"enabled" env:"SCHEDULER_ENABLED" envDefault:"true"`
	Interval       time.Duration `json:"interval" env:"SCHEDULER_INTERVAL" envDefault:"1m"`
	Throttle       time.Duration `json:"throttle" env:"SCHEDULER_THROTTLE" envDefault:"1s"`
	SendTimeout    time.Duration `json:"send_timeout" env:"SCHEDULER_SEND_TIMEOUT" envDefault:"30s"`
	BatchSize      int           `json:"batch_size" env:"SCHEDULER_BATCH_SIZE" envDefault:"20"`
	DefaultCountry string        `json:"default_country" env:"DEFAULT_COUNTRY_CODE" envDefault:"91"`
}

type WhatsAppConfig struct {
	APIBaseURL    string        `json:"api_base_url" env:"WHATSAPP_API_BASE_URL" envDefault:"https://graph.facebook.com"`
	APIVersion    string        `json:"api_version" env:"WHATSAPP_API_VERSION" envDefault:"v21.0"`
	PhoneNumberID string        `json:"phone_number_id" env:"WHATSAPP_PHONE_NUMBER_ID"`
	AccessToken   string        `json:"access_token" env:"WHATSAPP_ACCESS_TOKEN"`
	VerifyToken   string        `json:"verify_token" env:"WHATSAPP_VERIFY_TOKEN"`
	AppSecret     string        `json:"app_secret" env:"WHATSAPP_APP_SECRET"`
	Timeout       time.Duration `json:"timeout" env:"WHATSAPP_TIMEOUT" envDefault:"30s"`
	MockMode      bool          `json:"mock_mode" env:"WHATSAPP_MOCK_MODE" envDefault:"false"`
}

type OracleConfig struct {
	BaseURL     string        `json:"base_url" env:"ORACLE_BASE_URL" envDefault:"https://api.openai.com/v1"`
	APIKey      string        `json:"api_key" env:"ORACLE_API_KEY"`
	Model       string        `json:"model" env:"ORACLE_MODEL" envDefault:"gpt-4o-mini"`
	Timeout     time.Duration `json:"timeout" env:"ORACLE_TIMEOUT" envDefault:"30s"`
	MaxAttempts int           `json:"max_attempts" env:"ORACLE_MAX_ATTEMPTS" envDefault:"3"`
	MaxBackoff  time.Duration `json:"max_backoff" env:"ORACLE_MAX_BACKOFF" envDefault:"10s"`
	PromptFile  string        `json:"prompt_file" env:"ORACLE_PROMPT_FILE"`
}

type ExtractionConfig struct {
	Enabled     bool          `json:"enabled" env:"EXTRACTION_ENABLED" envDefault:"false"`
	Endpoint    string        `json:"endpoint" env:"EXTRACTION_ENDPOINT"`
	APIKey      string        `json:"api_key" env:"EXTRACTION_API_KEY"`
	Timeout     time.Duration `json:"timeout" env:"EXTRACTION_TIMEOUT" envDefault:"45s"`
	MaxAttempts int           `json:"max_attempts" env:"EXTRACTION_MAX_ATTEMPTS" envDefault:"3"`
}

type StorageConfig struct {
	UploadDir     string `json:"upload_dir" env:"STORAGE_UPLOAD_DIR" envDefault:"data/uploads"`
	MaxMediaBytes int64  `json:"max_media_bytes" env:"STORAGE_MAX_MEDIA_BYTES" envDefault:"16777216"`
	ThumbnailSize int    `json:"thumbnail_size" env:"STORAGE_THUMBNAIL_SIZE" envDefault:"512"`
}

type ConversationConfig struct {
	LockTimeout time.Duration `json:"lock_timeout" env:"CONVERSATION_LOCK_TIMEOUT" envDefault:"90s"`
	HistorySize int           `json:"history_size" env:"CONVERSATION_HISTORY_SIZE" envDefault:"10"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// A missing .env is fine; the process environment still applies
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}

	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func ValidateProductionConfig(cfg *ProductionConfig) error {
	var errors []string

	// Validate database configuration
	if cfg.Database.Host == "" {
		errors = append(errors, "DB_HOST is required")
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errors = append(errors, "DB_PORT must be between 1 and 65535")
	}
	if cfg.Database.Name == "" {
		errors = append(errors, "DB_NAME is required")
	}
	if cfg.Database.User == "" {
		errors = append(errors, "DB_USER is required")
	}

	// Validate JWT configuration
	if cfg.JWT.UseRSAKeys {
		if cfg.JWT.PrivateKey == "" || cfg.JWT.PublicKey == "" {
			errors = append(errors, "JWT_PRIVATE_KEY and JWT_PUBLIC_KEY are required when JWT_USE_RSA_KEYS is set")
		}
	} else if len(cfg.JWT.SecretKey) < 32 {
		errors = append(errors, "JWT_SECRET_KEY must be at least 32 characters long")
	}
	if cfg.JWT.AccessTokenTTL <= 0 {
		errors = append(errors, "JWT_ACCESS_TOKEN_TTL must be positive")
	}

	// Validate server configuration
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errors = append(errors, "SERVER_PORT must be between 1 and 65535")
	}
	if cfg.Server.ReadTimeout <= 0 || cfg.Server.WriteTimeout <= 0 {
		errors = append(errors, "SERVER_READ_TIMEOUT and SERVER_WRITE_TIMEOUT must be positive")
	}

	// Validate logging configuration
	switch cfg.Logging.Output {
	case "stdout", "file", "both":
	default:
		errors = append(errors, "LOG_OUTPUT must be one of stdout, file, both")
	}

	// Validate scheduler configuration
	if cfg.Scheduler.Enabled && cfg.Scheduler.Interval <= 0 {
		errors = append(errors, "SCHEDULER_INTERVAL must be positive")
	}
	if cfg.Scheduler.SendTimeout <= 0 {
		errors = append(errors, "SCHEDULER_SEND_TIMEOUT must be positive")
	}

	// Validate provider configuration
	if !cfg.WhatsApp.MockMode {
		if cfg.WhatsApp.PhoneNumberID == "" {
			errors = append(errors, "WHATSAPP_PHONE_NUMBER_ID is required")
		}
		if cfg.WhatsApp.AccessToken == "" {
			errors = append(errors, "WHATSAPP_ACCESS_TOKEN is required")
		}
	}
	if cfg.WhatsApp.VerifyToken == "" {
		errors = append(errors, "WHATSAPP_VERIFY_TOKEN is required")
	}
	if cfg.Oracle.APIKey == "" {
		errors = append(errors, "ORACLE_API_KEY is required")
	}
	if cfg.Oracle.MaxAttempts < 1 {
		errors = append(errors, "ORACLE_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Extraction.Enabled && cfg.Extraction.Endpoint == "" {
		errors = append(errors, "EXTRACTION_ENDPOINT is required when extraction is enabled")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
