package common

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/joseph-ayodele/docextract/constants"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	LLM        LLMConfig
	Extraction ExtractionConfig
	Document   DocumentConfig
	Cache      CacheConfig
	Ingest     IngestConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
	HTTPAddr string
}

// LLMConfig holds model backend configuration
type LLMConfig struct {
	Provider       string // openai | anthropic | gemini | http | mock
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	Timeout        time.Duration
	RequestsPerSec float64
}

// ExtractionConfig holds pipeline policy knobs
type ExtractionConfig struct {
	RequestTimeout    time.Duration
	MaxRepairAttempts int
	ChunkSize         int
	ChunkOverlap      int
	MaxConcurrency    int
	RecordRuns        bool
}

// DocumentConfig holds document conversion configuration
type DocumentConfig struct {
	Pdftotext string
	MaxPages  int
	MaxBytes  int64
}

// CacheConfig holds the optional model response cache configuration
type CacheConfig struct {
	RedisAddr string
	TTL       time.Duration
}

// IngestConfig holds watch-folder configuration
type IngestConfig struct {
	WatchDir    string
	OutputDir   string
	ExtractorID string
	Workers     int
	QueueSize   int
	Debounce    time.Duration
}

var defaults = map[string]any{
	"db_url":                "",
	"db_max_conns":          20,
	"db_min_conns":          2,
	"db_max_conn_lifetime":  30 * time.Minute,
	"db_max_conn_idle_time": 5 * time.Minute,
	"db_dial_timeout":       3 * time.Second,
	"db_statement_timeout":  0,
	"db_auto_migrate":       true,
	"grpc_addr":             ":8080",
	"http_addr":             ":8081",
	"llm_provider":          "openai",
	"llm_model":             "gpt-4o-mini",
	"llm_api_key":           "",
	"llm_base_url":          "",
	"llm_temperature":       0.0,
	"llm_max_tokens":        4096,
	"llm_timeout":           constants.DefaultModelTimeout,
	"llm_rps":               0.0,
	"request_timeout":       constants.DefaultRequestTimeout,
	"max_repair_attempts":   constants.MaxRepairAttempts,
	"chunk_size":            0,
	"chunk_overlap":         0,
	"max_concurrency":       1,
	"record_runs":           true,
	"pdftotext":             "pdftotext",
	"max_pages":             0,
	"max_document_bytes":    int64(32 << 20),
	"redis_addr":            "",
	"cache_ttl":             24 * time.Hour,
	"watch_dir":             "",
	"watch_output_dir":      "",
	"watch_extractor_id":    "",
	"watch_workers":         2,
	"watch_queue_size":      256,
	"watch_debounce":        500 * time.Millisecond,
}

// LoadConfig loads configuration from environment variables (and a local .env if present)
func LoadConfig() *Config {
	_ = godotenv.Load()
	return fromViper(newViper())
}

// LoadConfigFile loads configuration from a YAML/TOML/JSON file with
// environment variables taking precedence over file values.
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return LoadConfig(), nil
	}
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}
	return fromViper(v), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Database: DatabaseConfig{
			DSN:              v.GetString("db_url"),
			MaxConns:         v.GetInt32("db_max_conns"),
			MinConns:         v.GetInt32("db_min_conns"),
			MaxConnLifetime:  v.GetDuration("db_max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("db_max_conn_idle_time"),
			DialTimeout:      v.GetDuration("db_dial_timeout"),
			StatementTimeout: v.GetDuration("db_statement_timeout"),
			AutoMigrate:      v.GetBool("db_auto_migrate"),
		},
		Server: ServerConfig{
			GRPCAddr: v.GetString("grpc_addr"),
			HTTPAddr: v.GetString("http_addr"),
		},
		LLM: LLMConfig{
			Provider:       strings.ToLower(v.GetString("llm_provider")),
			Model:          v.GetString("llm_model"),
			APIKey:         v.GetString("llm_api_key"),
			BaseURL:        v.GetString("llm_base_url"),
			Temperature:    float32(v.GetFloat64("llm_temperature")),
			MaxTokens:      v.GetInt("llm_max_tokens"),
			Timeout:        v.GetDuration("llm_timeout"),
			RequestsPerSec: v.GetFloat64("llm_rps"),
		},
		Extraction: ExtractionConfig{
			RequestTimeout:    v.GetDuration("request_timeout"),
			MaxRepairAttempts: v.GetInt("max_repair_attempts"),
			ChunkSize:         v.GetInt("chunk_size"),
			ChunkOverlap:      v.GetInt("chunk_overlap"),
			MaxConcurrency:    v.GetInt("max_concurrency"),
			RecordRuns:        v.GetBool("record_runs"),
		},
		Document: DocumentConfig{
			Pdftotext: v.GetString("pdftotext"),
			MaxPages:  v.GetInt("max_pages"),
			MaxBytes:  v.GetInt64("max_document_bytes"),
		},
		Cache: CacheConfig{
			RedisAddr: v.GetString("redis_addr"),
			TTL:       v.GetDuration("cache_ttl"),
		},
		Ingest: IngestConfig{
			WatchDir:    v.GetString("watch_dir"),
			OutputDir:   v.GetString("watch_output_dir"),
			ExtractorID: v.GetString("watch_extractor_id"),
			Workers:     v.GetInt("watch_workers"),
			QueueSize:   v.GetInt("watch_queue_size"),
			Debounce:    v.GetDuration("watch_debounce"),
		},
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	switch c.LLM.Provider {
	case "openai", "azure", "anthropic", "gemini", "http":
		if c.LLM.APIKey == "" && c.LLM.Provider != "http" {
			return NewAppError("CONFIG_ERROR", "LLM_API_KEY is required", ErrInvalidInput)
		}
	case "mock":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown LLM_PROVIDER %q", c.LLM.Provider), ErrInvalidInput)
	}
	if c.LLM.Provider == "http" && c.LLM.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "LLM_BASE_URL is required for the http provider", ErrInvalidInput)
	}
	if c.Server.GRPCAddr == "" && c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "GRPC_ADDR or HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Extraction.MaxRepairAttempts < 0 {
		return NewAppError("CONFIG_ERROR", "MAX_REPAIR_ATTEMPTS must be >= 0", ErrInvalidInput)
	}
	if c.Extraction.ChunkSize > 0 && c.Extraction.ChunkOverlap >= c.Extraction.ChunkSize {
		return NewAppError("CONFIG_ERROR", "CHUNK_OVERLAP must be smaller than CHUNK_SIZE", ErrInvalidInput)
	}
	return nil
}
