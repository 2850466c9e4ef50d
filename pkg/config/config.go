// Package config loads server configuration from an optional YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config is the root configuration for the engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	SQLEngine SQLEngineConfig `yaml:"sql_engine"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Approval  ApprovalConfig  `yaml:"approval"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port            int           `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"120s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	URL             string        `yaml:"-" env:"DATABASE_URL"`
	MaxConnections  int32         `yaml:"max_connections" env:"DATABASE_MAX_CONNECTIONS" env-default:"25"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" env:"DATABASE_MAX_CONN_LIFETIME" env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"DATABASE_MAX_CONN_IDLE_TIME" env-default:"30m"`
	MigrationsPath  string        `yaml:"migrations_path" env:"DATABASE_MIGRATIONS_PATH" env-default:"migrations"`
}

// AuthConfig holds bearer-token validation settings.
type AuthConfig struct {
	JWTSecret string `yaml:"-" env:"AUTH_JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"AUTH_ISSUER" env-default:"retailai-engine"`
}

// LLMConfig holds chat-completion settings.
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"` // openai or anthropic
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:"gpt-4o"`
	NLPModel    string  `yaml:"nlp_model" env:"LLM_NLP_MODEL" env-default:"gpt-4o-mini"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"`
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
}

// EmbeddingConfig holds embedding-endpoint settings.
type EmbeddingConfig struct {
	Endpoint   string `yaml:"endpoint" env:"EMBEDDING_ENDPOINT" env-default:"https://api.openai.com/v1"`
	Model      string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey     string `yaml:"-" env:"EMBEDDING_API_KEY"`
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIMENSIONS" env-default:"1536"`
	// Transient failures retried with backoff before surfacing a hard error.
	MaxRetries   int           `yaml:"max_retries" env:"EMBEDDING_MAX_RETRIES" env-default:"3"`
	RetryDelay   time.Duration `yaml:"retry_delay" env:"EMBEDDING_RETRY_DELAY" env-default:"1s"`
	BatchWorkers int           `yaml:"batch_workers" env:"EMBEDDING_BATCH_WORKERS" env-default:"3"`
}

// RetrievalConfig holds similarity-search settings.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k" env:"RETRIEVAL_TOP_K" env-default:"5"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"RETRIEVAL_SIMILARITY_THRESHOLD" env-default:"0.3"`
}

// SQLEngineConfig holds generation/self-correction settings.
type SQLEngineConfig struct {
	MaxRetries    int `yaml:"max_retries" env:"SQL_ENGINE_MAX_RETRIES" env-default:"2"`
	SampleRowsCap int `yaml:"sample_rows_cap" env:"SQL_ENGINE_SAMPLE_ROWS_CAP" env-default:"10"`
}

// WorkflowConfig holds PO workflow settings.
type WorkflowConfig struct {
	// POs at or above this amount require finance approval before dispatch.
	ApprovalThreshold float64 `yaml:"approval_threshold" env:"PO_APPROVAL_THRESHOLD" env-default:"10000"`
	ApproverEmail     string  `yaml:"approver_email" env:"PO_APPROVER_EMAIL"`
	// PO-number collision suffixes -01..-N before falling back to a random
	// suffix.
	SuffixCeiling int    `yaml:"suffix_ceiling" env:"PO_SUFFIX_CEILING" env-default:"99"`
	CompanyName   string `yaml:"company_name" env:"COMPANY_NAME" env-default:"Retail AI"`
}

// ApprovalConfig holds approval-token settings.
type ApprovalConfig struct {
	TokenTTL   time.Duration `yaml:"token_ttl" env:"APPROVAL_TOKEN_TTL" env-default:"48h"`
	PublicBase string        `yaml:"public_base" env:"APPROVAL_PUBLIC_BASE" env-default:"http://localhost:8080"`
}

// SMTPConfig holds outbound email settings.
type SMTPConfig struct {
	Host     string `yaml:"host" env:"SMTP_HOST"`
	Port     int    `yaml:"port" env:"SMTP_PORT" env-default:"587"`
	Username string `yaml:"username" env:"SMTP_USERNAME"`
	Password string `yaml:"-" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SMTP_FROM"`
}

// StorageConfig holds document/object storage settings. With an empty
// bucket, objects are stored on the local filesystem under LocalDir.
type StorageConfig struct {
	GCSBucket string `yaml:"gcs_bucket" env:"GCS_BUCKET"`
	LocalDir  string `yaml:"local_dir" env:"STORAGE_LOCAL_DIR" env-default:"data/objects"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Development bool   `yaml:"development" env:"LOG_DEVELOPMENT" env-default:"false"`
}

// Load reads configuration from the given YAML file (optional) and applies
// environment-variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := cleanenv.ReadConfig(path, cfg); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
			if err := cfg.Validate(); err != nil {
				return nil, err
			}
			return cfg, nil
		}
	}

	if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("read config from environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("AUTH_JWT_SECRET is required")
	}
	if c.LLM.Provider != "openai" && c.LLM.Provider != "anthropic" {
		return fmt.Errorf("unsupported LLM provider %q", c.LLM.Provider)
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive")
	}
	if c.SQLEngine.MaxRetries < 0 {
		return fmt.Errorf("sql engine max_retries must be >= 0")
	}
	if c.Workflow.SuffixCeiling < 1 {
		return fmt.Errorf("po suffix ceiling must be >= 1")
	}
	return nil
}

// Addr returns the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
