package config

import (
	"fmt"
	"strings"
)

// validSSLModes are the PostgreSQL sslmode values accepted by pgx.
var validSSLModes = map[string]bool{
	"disable":     true,
	"allow":       true,
	"prefer":      true,
	"require":     true,
	"verify-ca":   true,
	"verify-full": true,
}

// Validate checks the configuration for structural and range errors.
// It returns the first violation found, wrapped around a sentinel error.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if strings.TrimSpace(c.NotebookSource) == "" {
		return fmt.Errorf("%w: notebook_source is required", ErrInvalidNotebookSource)
	}

	if len(c.Catalog.Databases) == 0 && len(c.Catalog.Tables) == 0 {
		return fmt.Errorf("%w: configure catalog.databases or catalog.tables", ErrNoCatalogSelectors)
	}
	for _, t := range c.Catalog.Tables {
		if !strings.Contains(t, ".") {
			return fmt.Errorf("%w: table selector %q must be database.table", ErrNoCatalogSelectors, t)
		}
	}

	if strings.TrimSpace(c.IndexName) == "" {
		return fmt.Errorf("%w: index_name is required", ErrInvalidIndexName)
	}

	if c.MaxWorkers < 1 || c.MaxWorkers > 128 {
		return fmt.Errorf("%w: max_workers %d must be in [1,128]", ErrInvalidMaxWorkers, c.MaxWorkers)
	}
	if c.BatchSize < 1 || c.BatchSize > 10000 {
		return fmt.Errorf("%w: batch_size %d must be in [1,10000]", ErrInvalidBatchSize, c.BatchSize)
	}
	if c.RequestsPerSecond <= 0 || c.RequestsPerSecond > 1000 {
		return fmt.Errorf("%w: requests_per_second %g must be in (0,1000]", ErrInvalidRateLimit, c.RequestsPerSecond)
	}

	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold %g must be in [0,1]", ErrInvalidSimilarityThreshold, c.SimilarityThreshold)
	}
	if c.TextWeight < 0 || c.TextWeight > 1 {
		return fmt.Errorf("%w: text_weight %g must be in [0,1]", ErrInvalidTextWeight, c.TextWeight)
	}

	if c.EmbeddingDim < 1 || c.EmbeddingDim > 4096 {
		return fmt.Errorf("%w: embedding_dim %d must be in [1,4096]", ErrInvalidEmbeddingDim, c.EmbeddingDim)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: postgres_host is required", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: postgres_port %d must be in [1,65535]", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: postgres_dbname is required", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	return nil
}

// RequireAPIKey validates that a provider API key is present. Split from
// Validate so offline commands (stats, validate) work without credentials.
func (c *Config) RequireAPIKey() error {
	if strings.TrimSpace(c.GeminiAPIKey) == "" {
		return fmt.Errorf("%w: set QUARRY_GEMINI_API_KEY or GEMINI_API_KEY", ErrMissingAPIKey)
	}
	return nil
}
