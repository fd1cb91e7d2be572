package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the personalization service. It is
// constructed once at startup and passed into each component's constructor;
// nothing reads the environment after LoadConfig returns.
type Config struct {
	General         GeneralConfig         `mapstructure:"general"`
	Server          ServerConfig          `mapstructure:"server"`
	LLM             LLMConfig             `mapstructure:"llm"`
	CMS             CMSConfig             `mapstructure:"cms"`
	CDP             CDPConfig             `mapstructure:"cdp"`
	Segment         SegmentConfig         `mapstructure:"segment"`
	Personalization PersonalizationConfig `mapstructure:"personalization"`
	Storage         StorageConfig         `mapstructure:"storage"`
	Telemetry       TelemetryConfig       `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	MaxProcessingTime time.Duration `mapstructure:"max_processing_time"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	AuthUsername string `mapstructure:"auth_username"`
	AuthPassword string `mapstructure:"auth_password"`
	// AuthPasswordHash, when set, takes precedence over AuthPassword and is
	// compared with bcrypt.
	AuthPasswordHash string        `mapstructure:"auth_password_hash"`
	JWTSecret        string        `mapstructure:"jwt_secret"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.AuthUsername) == "" {
		return fmt.Errorf("server.auth_username is required")
	}
	if strings.TrimSpace(s.AuthPassword) == "" && strings.TrimSpace(s.AuthPasswordHash) == "" {
		return fmt.Errorf("server.auth_password or server.auth_password_hash is required")
	}
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	return nil
}

// LLMConfig contains the LLM backend settings. BaseURL points at any
// OpenAI-compatible endpoint (direct or a router deployment).
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if strings.TrimSpace(l.Model) == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// CMSConfig contains the headless CMS delivery endpoint settings.
type CMSConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	DeliveryToken string        `mapstructure:"delivery_token"`
	Environment   string        `mapstructure:"environment"`
	ContentType   string        `mapstructure:"content_type"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
}

func (c CMSConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("cms.base_url is required")
	}
	if strings.TrimSpace(c.DeliveryToken) == "" {
		return fmt.Errorf("cms.delivery_token is required")
	}
	return nil
}

// CDPConfig contains the customer-data platform endpoint settings.
type CDPConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

func (c CDPConfig) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("cdp.base_url is required")
	}
	return nil
}

// SegmentConfig controls segment resolution behaviour.
type SegmentConfig struct {
	// SessionTTL bounds how long a resolved segment is reused for a visitor
	// without consulting the CDP again.
	SessionTTL time.Duration `mapstructure:"session_ttl"`
	// ClassifyEmailDomains enables LLM classification of business email
	// domains when the CDP profile has no explicit segment.
	ClassifyEmailDomains bool `mapstructure:"classify_email_domains"`
}

// PersonalizationConfig controls the orchestrator.
type PersonalizationConfig struct {
	DefaultSegment string        `mapstructure:"default_segment"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryBackoff   time.Duration `mapstructure:"retry_backoff"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	// ClaimTTL bounds how long a crashed run can hold a (page, segment) claim.
	ClaimTTL time.Duration `mapstructure:"claim_ttl"`
}

// Normalize applies defaults for unset personalization values.
func (p PersonalizationConfig) Normalize() PersonalizationConfig {
	if strings.TrimSpace(p.DefaultSegment) == "" {
		p.DefaultSegment = "general"
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = 2
	}
	if p.RetryBackoff <= 0 {
		p.RetryBackoff = 300 * time.Millisecond
	}
	if p.MaxConcurrent <= 0 {
		p.MaxConcurrent = 8
	}
	if p.ClaimTTL <= 0 {
		p.ClaimTTL = 2 * time.Minute
	}
	return p
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds a postgres connection string from the configured fields.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	host := p.Host
	port := p.Port
	ssl := p.SSLMode
	if host == "" {
		host = "localhost"
	}
	if port == "" {
		port = "5432"
	}
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, host, port, p.DBName, ssl)
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig loads config from file. Environment variables with the TAILOR_
// prefix override file values (TAILOR_LLM_API_KEY, TAILOR_CMS_BASE_URL, ...).
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.max_processing_time", "3m")
	viper.SetDefault("general.default_timeout", "15s")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("server.token_ttl", "24h")
	viper.SetDefault("llm.temperature", 0.4)
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("cms.content_type", "page")
	viper.SetDefault("cms.timeout", "15s")
	viper.SetDefault("cms.max_retries", 2)
	viper.SetDefault("cdp.timeout", "10s")
	viper.SetDefault("cdp.max_retries", 2)
	viper.SetDefault("segment.session_ttl", "30m")
	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("TAILOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	config.Personalization = config.Personalization.Normalize()

	if err := config.Server.Validate(); err != nil {
		return nil, err
	}
	if err := config.LLM.Validate(); err != nil {
		return nil, err
	}
	if err := config.CMS.Validate(); err != nil {
		return nil, err
	}
	if err := config.CDP.Validate(); err != nil {
		return nil, err
	}
	if err := config.Storage.Redis.Validate(); err != nil {
		return nil, err
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
