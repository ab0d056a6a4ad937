// Package config handles configuration loading and validation.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete configuration.
type Config struct {
	Embedding EmbeddingConfig `mapstructure:"embedding" yaml:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking" yaml:"chunking"`
	Search    SearchConfig    `mapstructure:"search" yaml:"search"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Index     IndexConfig     `mapstructure:"index" yaml:"index"`
	Limits    LimitsConfig    `mapstructure:"limits" yaml:"limits"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider" yaml:"provider"`     // ollama, openai
	Model     string `mapstructure:"model" yaml:"model"`           // model name
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`     // API endpoint
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`       // API key
	BatchSize int    `mapstructure:"batch_size" yaml:"batch_size"` // documents per batch
}

// ChunkingConfig contains chunking configuration.
type ChunkingConfig struct {
	Strategy  string `mapstructure:"strategy" yaml:"strategy"`     // window
	ChunkSize int    `mapstructure:"chunk_size" yaml:"chunk_size"` // characters per chunk
	Overlap   int    `mapstructure:"overlap" yaml:"overlap"`       // characters shared between chunks
}

// SearchConfig contains search configuration.
type SearchConfig struct {
	TopK          int     `mapstructure:"top_k" yaml:"top_k"`                   // default result limit
	MinSimilarity float64 `mapstructure:"min_similarity" yaml:"min_similarity"` // minimum cosine similarity
}

// StoreConfig contains vector store configuration.
type StoreConfig struct {
	Provider string `mapstructure:"provider" yaml:"provider"` // sqlite, memory
	Path     string `mapstructure:"path" yaml:"path"`         // database path, empty = default
}

// IndexConfig contains indexing configuration.
type IndexConfig struct {
	Include []string `mapstructure:"include" yaml:"include"` // glob patterns to include
	Exclude []string `mapstructure:"exclude" yaml:"exclude"` // glob patterns to exclude
}

// LimitsConfig contains resource limits.
type LimitsConfig struct {
	MaxFileSize int64         `mapstructure:"max_file_size" yaml:"max_file_size"` // bytes, 0 = unlimited
	Workers     int           `mapstructure:"workers" yaml:"workers"`             // parallel workers, 0 = NumCPU
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`             // indexing timeout
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:  "ollama",
			Model:     "nomic-embed-text",
			Endpoint:  "http://localhost:11434",
			BatchSize: 32,
		},
		Chunking: ChunkingConfig{
			Strategy:  "window",
			ChunkSize: 1000,
			Overlap:   200,
		},
		Search: SearchConfig{
			TopK:          5,
			MinSimilarity: 0,
		},
		Store: StoreConfig{
			Provider: "sqlite",
		},
		Index: IndexConfig{
			Include: []string{
				"**/*.md", "**/*.txt", "**/*.rst", "**/*.adoc",
				"**/*.html", "**/*.htm",
				"**/*.yaml", "**/*.yml", "**/*.toml", "**/*.json",
				"**/*.csv",
			},
			Exclude: []string{
				"**/vendor/**", "**/node_modules/**", "**/.git/**",
				"**/dist/**", "**/build/**", "**/target/**",
				"**/package-lock.json", "**/yarn.lock", "**/pnpm-lock.yaml",
				"**/go.sum",
			},
		},
		Limits: LimitsConfig{
			MaxFileSize: 1 << 20, // 1MB
			Workers:     0,       // 0 = use runtime.NumCPU()
			Timeout:     30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ConfigDir returns the path to the .docvec directory.
func ConfigDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".docvec")
}

// ConfigPath returns the path to config.yaml.
func ConfigPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "config.yaml")
}

// IndexDBPath returns the path to index.db.
func IndexDBPath(projectRoot string) string {
	return filepath.Join(ConfigDir(projectRoot), "index.db")
}

// Load loads configuration from file, falling back to defaults.
func Load(projectRoot string) (*Config, []string, error) {
	cfg := DefaultConfig()
	warnings := []string{}

	configPath := ConfigPath(projectRoot)

	// Check if config exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		warnings = append(warnings, "No config file found, using defaults")
		return cfg, warnings, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply defaults for missing values
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "ollama"
		warnings = append(warnings, "Using default embedding provider: ollama")
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Embedding.Endpoint == "" {
		cfg.Embedding.Endpoint = "http://localhost:11434"
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 32
	}

	if cfg.Chunking.Strategy == "" {
		cfg.Chunking.Strategy = "window"
	}
	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.Overlap == 0 && cfg.Chunking.ChunkSize > 200 {
		cfg.Chunking.Overlap = 200
	}

	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 5
	}

	if cfg.Store.Provider == "" {
		cfg.Store.Provider = "sqlite"
	}

	return cfg, warnings, nil
}

// Save saves configuration to file.
func Save(projectRoot string, cfg *Config) error {
	configDir := ConfigDir(projectRoot)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(ConfigPath(projectRoot))
	v.SetConfigType("yaml")

	// Set all values
	v.Set("embedding", cfg.Embedding)
	v.Set("chunking", cfg.Chunking)
	v.Set("search", cfg.Search)
	v.Set("store", cfg.Store)
	v.Set("index", cfg.Index)
	v.Set("limits", cfg.Limits)
	v.Set("logging", cfg.Logging)

	return v.WriteConfig()
}

// Validate validates the configuration.
func Validate(cfg *Config) []error {
	var errs []error

	// Validate embedding
	validEmbeddingProviders := map[string]bool{
		"ollama": true, "openai": true,
	}
	if !validEmbeddingProviders[cfg.Embedding.Provider] {
		errs = append(errs, fmt.Errorf("invalid embedding provider: %s", cfg.Embedding.Provider))
	}

	// Validate chunking
	if cfg.Chunking.Strategy != "window" {
		errs = append(errs, fmt.Errorf("invalid chunking strategy: %s", cfg.Chunking.Strategy))
	}
	if cfg.Chunking.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("chunk size must be positive: %d", cfg.Chunking.ChunkSize))
	}
	if cfg.Chunking.Overlap < 0 || (cfg.Chunking.ChunkSize > 0 && cfg.Chunking.Overlap >= cfg.Chunking.ChunkSize) {
		errs = append(errs, fmt.Errorf("overlap must be in [0, chunk_size): %d", cfg.Chunking.Overlap))
	}

	// Validate search
	if cfg.Search.MinSimilarity < -1 || cfg.Search.MinSimilarity > 1 {
		errs = append(errs, fmt.Errorf("min_similarity must be in [-1, 1]: %f", cfg.Search.MinSimilarity))
	}

	// Validate store
	validStoreProviders := map[string]bool{
		"sqlite": true, "memory": true,
	}
	if !validStoreProviders[cfg.Store.Provider] {
		errs = append(errs, fmt.Errorf("invalid store provider: %s", cfg.Store.Provider))
	}

	return errs
}

// Hash returns a hash of configuration that affects indexing.
// Used for detecting when reindexing is needed.
func (c *Config) Hash() string {
	data := fmt.Sprintf("%s:%s:%s:%d:%d",
		c.Embedding.Provider,
		c.Embedding.Model,
		c.Chunking.Strategy,
		c.Chunking.ChunkSize,
		c.Chunking.Overlap,
	)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:])
}

// Copy creates a deep copy of the config.
// Used for runtime modifications without affecting the original.
func (c *Config) Copy() *Config {
	copy := *c

	// Deep copy slices
	if c.Index.Include != nil {
		copy.Index.Include = make([]string, len(c.Index.Include))
		for i, v := range c.Index.Include {
			copy.Index.Include[i] = v
		}
	}
	if c.Index.Exclude != nil {
		copy.Index.Exclude = make([]string, len(c.Index.Exclude))
		for i, v := range c.Index.Exclude {
			copy.Index.Exclude[i] = v
		}
	}

	return &copy
}
