// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (QUARRY_ prefix, runtime override)
//  2. Config file (quarry.yaml in the working directory or ~/.quarry/)
//  3. Default values
//
// Main categories:
//   - Notebooks: corpus location and context window
//   - Catalog: database/table selectors, optional assumed-role token
//   - Models: embedding, generation and offline model identifiers
//   - Processing: worker counts, batch size, rate limit, retry budget
//   - Search: similarity threshold, hybrid text weight
//   - Storage: PostgreSQL connection (see storage.go)
//
// Sensitive values (API key, database password) are never logged.
// Validation lives in validation.go and uses sentinel errors so callers can
// match with errors.Is().
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates the provider API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidNotebookSource indicates the notebook source is unset or unusable.
	ErrInvalidNotebookSource = errors.New("invalid notebook source")

	// ErrNoCatalogSelectors indicates neither databases nor tables were configured.
	ErrNoCatalogSelectors = errors.New("no catalog selectors")

	// ErrInvalidIndexName indicates the index name is empty or malformed.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrInvalidMaxWorkers indicates the worker count is out of range.
	ErrInvalidMaxWorkers = errors.New("invalid max workers")

	// ErrInvalidBatchSize indicates the batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidSimilarityThreshold indicates the threshold is outside [0,1].
	ErrInvalidSimilarityThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidTextWeight indicates the hybrid text weight is outside [0,1].
	ErrInvalidTextWeight = errors.New("invalid text weight")

	// ErrInvalidEmbeddingDim indicates the embedding dimension is unsupported.
	ErrInvalidEmbeddingDim = errors.New("invalid embedding dimension")

	// ErrInvalidRateLimit indicates the requests-per-second limit is out of range.
	ErrInvalidRateLimit = errors.New("invalid rate limit")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// Default model identifiers.
const (
	// DefaultEmbeddingModel outputs 3072 dimensions natively but supports
	// truncation via OutputDimensionality; the documents schema stores 768.
	DefaultEmbeddingModel = "gemini-embedding-001"

	// DefaultGenerationModel is used for online SQL synthesis.
	DefaultGenerationModel = "gemini-2.5-flash"

	// DefaultOfflineModel is used for build-time enrichment tasks.
	DefaultOfflineModel = "gemini-2.5-flash-lite"
)

// DefaultEmbeddingDim is the vector dimension persisted by the documents
// schema. Must match db/migrations.
const DefaultEmbeddingDim = 768

// CatalogConfig selects which catalog objects feed the knowledge base.
type CatalogConfig struct {
	// Databases lists whole databases; every table in each is fetched.
	Databases []string `mapstructure:"databases"`

	// Tables lists explicit "database.table" pairs.
	Tables []string `mapstructure:"tables"`

	// AssumeRoleToken is forwarded opaquely to the catalog provider for
	// cross-account access. Empty means same-account.
	AssumeRoleToken string `mapstructure:"assume_role_token"`
}

// RetryConfig bounds the retry budget for provider calls.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// Config stores application configuration.
type Config struct {
	// Notebook corpus
	NotebookSource string `mapstructure:"notebook_source"`
	ContextWindow  int    `mapstructure:"context_window"` // markdown cells each side of a SQL cell

	// Catalog selectors
	Catalog CatalogConfig `mapstructure:"catalog"`

	// Index
	IndexName string `mapstructure:"index_name"`

	// Models
	EmbeddingModel  string `mapstructure:"embedding_model"`
	GenerationModel string `mapstructure:"generation_model"`
	OfflineModel    string `mapstructure:"offline_model"`
	EmbeddingDim    int32  `mapstructure:"embedding_dim"`
	GeminiAPIKey    string `mapstructure:"gemini_api_key"`

	// Processing
	MaxWorkers        int           `mapstructure:"max_workers"`
	BatchSize         int           `mapstructure:"batch_size"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	Retry             RetryConfig   `mapstructure:"retry"`

	// Retrieval
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	MaxSimilar          int     `mapstructure:"max_similar"`
	TextWeight          float64 `mapstructure:"text_weight"`

	// Generated-SQL policy
	AllowMutations bool `mapstructure:"allow_mutations"`

	// PostgreSQL (hybrid index backing store)
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDBName   string `mapstructure:"postgres_dbname"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// setDefaults registers default values on v.
func setDefaults(v *viper.Viper) {
	v.SetDefault("context_window", 3)
	v.SetDefault("index_name", "quarry-knowledge")

	v.SetDefault("embedding_model", DefaultEmbeddingModel)
	v.SetDefault("generation_model", DefaultGenerationModel)
	v.SetDefault("offline_model", DefaultOfflineModel)
	v.SetDefault("embedding_dim", DefaultEmbeddingDim)

	v.SetDefault("max_workers", 10)
	v.SetDefault("batch_size", 100)
	v.SetDefault("requests_per_second", 10.0)
	v.SetDefault("call_timeout", 30*time.Second)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 500*time.Millisecond)
	v.SetDefault("retry.max_delay", 10*time.Second)

	v.SetDefault("similarity_threshold", 0.7)
	v.SetDefault("max_similar", 5)
	v.SetDefault("text_weight", 0.3)

	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "quarry")
	v.SetDefault("postgres_dbname", "quarry")
	v.SetDefault("postgres_sslmode", "disable")

	v.SetDefault("log_level", "info")
}

// Load reads configuration from file and environment and validates it.
func Load() (*Config, error) {
	return LoadFrom("")
}

// LoadFrom reads configuration from an explicit file path. An empty path
// falls back to the default search locations.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("QUARRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("quarry")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".quarry"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			// No file is fine: defaults plus environment.
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// GEMINI_API_KEY without the prefix is the conventional variable for
	// Gemini tooling; honor it when the prefixed form is absent.
	if cfg.GeminiAPIKey == "" {
		cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	}

	if err := cfg.parseDatabaseURL(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
