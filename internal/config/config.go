// Package config provides configuration loading for lmaudit.
//
// Configuration is assembled from an optional YAML file and LMAUDIT_*
// environment variables, then defaulted and validated. Sections owned by
// other packages (logging, telemetry) are decoded on demand with Decode.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config holds the complete lmaudit configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Audit       AuditConfig       `koanf:"audit"`
	Rules       RulesConfig       `koanf:"rules"`
	Generation  GenerationConfig  `koanf:"generation"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	OCR         OCRConfig         `koanf:"ocr"`
	Scraper     ScraperConfig     `koanf:"scraper"`
	Store       StoreConfig       `koanf:"store"`
	Events      EventsConfig      `koanf:"events"`

	k *koanf.Koanf
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxBulkURLs     int      `koanf:"max_bulk_urls"`
}

// AuditConfig tunes the audit pipeline and the bulk task orchestrator.
type AuditConfig struct {
	Workers         int      `koanf:"workers"`
	ProductTimeout  Duration `koanf:"product_timeout"`
	ErrorDisplayCap int      `koanf:"error_display_cap"`
	RetrievalK      int      `koanf:"retrieval_k"`
	MaxProducts     int      `koanf:"max_products"`
	TaskRetention   Duration `koanf:"task_retention"`
}

// RulesConfig points at an optional rule book file.
type RulesConfig struct {
	Path  string `koanf:"path"`
	Watch bool   `koanf:"watch"`
}

// GenerationConfig configures the OpenAI-compatible text generation backend.
type GenerationConfig struct {
	Provider          string   `koanf:"provider"`
	BaseURL           string   `koanf:"base_url"`
	Model             string   `koanf:"model"`
	APIKey            Secret   `koanf:"api_key"`
	Temperature       float64  `koanf:"temperature"`
	Timeout           Duration `koanf:"timeout"`
	RequestsPerMinute int      `koanf:"requests_per_minute"`
	ScrubPrompts      *bool    `koanf:"scrub_prompts"`
}

// EmbeddingsConfig configures the embedding provider used for clause retrieval.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"`
}

// VectorStoreConfig selects and configures the clause index.
type VectorStoreConfig struct {
	Provider   string        `koanf:"provider"`
	Collection string        `koanf:"collection"`
	VectorSize int           `koanf:"vector_size"`
	CorpusPath string        `koanf:"corpus_path"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
}

// ChromemConfig holds embedded chromem-go settings.
type ChromemConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// QdrantConfig holds Qdrant gRPC settings.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
}

// OCRConfig configures the image-to-text sidecar.
type OCRConfig struct {
	Enabled       bool     `koanf:"enabled"`
	BaseURL       string   `koanf:"base_url"`
	Timeout       Duration `koanf:"timeout"`
	MinConfidence float64  `koanf:"min_confidence"`
}

// ScraperConfig configures product page fetching and discovery.
type ScraperConfig struct {
	Timeout           Duration `koanf:"timeout"`
	UserAgent         string   `koanf:"user_agent"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	MaxImages         int      `koanf:"max_images"`
}

// StoreConfig selects the report store backend.
type StoreConfig struct {
	Driver string `koanf:"driver"`
	DSN    string `koanf:"dsn"`
}

// EventsConfig configures NATS task progress events. An empty URL disables them.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ScrubEnabled reports whether prompts are scrubbed before leaving the process.
func (g GenerationConfig) ScrubEnabled() bool {
	return g.ScrubPrompts == nil || *g.ScrubPrompts
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Decode unmarshals the raw section at path into out. Values absent from the
// loaded sources leave out untouched, so callers pass a defaulted struct.
func (c *Config) Decode(path string, out interface{}) error {
	if c.k == nil || !c.k.Exists(path) {
		return nil
	}
	if err := c.k.Unmarshal(path, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Audit.Workers < 1 {
		return fmt.Errorf("audit workers must be >= 1, got %d", c.Audit.Workers)
	}
	if c.Audit.ProductTimeout <= 0 {
		return errors.New("audit product_timeout must be positive")
	}
	if c.Audit.RetrievalK < 1 {
		return fmt.Errorf("audit retrieval_k must be >= 1, got %d", c.Audit.RetrievalK)
	}
	if c.Audit.MaxProducts < 1 {
		return fmt.Errorf("audit max_products must be >= 1, got %d", c.Audit.MaxProducts)
	}
	switch c.Generation.Provider {
	case "openai", "noop":
	default:
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation temperature out of range: %v", c.Generation.Temperature)
	}
	switch c.Embeddings.Provider {
	case "openai", "fastembed":
	default:
		return fmt.Errorf("unknown embeddings provider %q", c.Embeddings.Provider)
	}
	switch c.VectorStore.Provider {
	case "chromem", "qdrant", "none":
	default:
		return fmt.Errorf("unknown vectorstore provider %q", c.VectorStore.Provider)
	}
	if c.OCR.Enabled && c.OCR.BaseURL == "" {
		return errors.New("ocr base_url is required when ocr is enabled")
	}
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		return errors.New("store dsn is required for sqlite")
	}
	return nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.MaxBulkURLs == 0 {
		cfg.Server.MaxBulkURLs = 50
	}

	if cfg.Audit.Workers == 0 {
		cfg.Audit.Workers = 5
	}
	if cfg.Audit.ProductTimeout == 0 {
		cfg.Audit.ProductTimeout = Duration(90 * time.Second)
	}
	if cfg.Audit.ErrorDisplayCap == 0 {
		cfg.Audit.ErrorDisplayCap = 20
	}
	if cfg.Audit.RetrievalK == 0 {
		cfg.Audit.RetrievalK = 3
	}
	if cfg.Audit.MaxProducts == 0 {
		cfg.Audit.MaxProducts = 100
	}
	if cfg.Audit.TaskRetention == 0 {
		cfg.Audit.TaskRetention = Duration(24 * time.Hour)
	}

	if cfg.Generation.BaseURL == "" {
		cfg.Generation.BaseURL = "https://api.groq.com/openai/v1"
	}
	if cfg.Generation.Model == "" {
		cfg.Generation.Model = "llama-3.1-8b-instant"
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "noop"
		if cfg.Generation.APIKey.IsSet() {
			cfg.Generation.Provider = "openai"
		}
	}
	if cfg.Generation.Temperature == 0 {
		cfg.Generation.Temperature = 0.2
	}
	if cfg.Generation.Timeout == 0 {
		cfg.Generation.Timeout = Duration(30 * time.Second)
	}
	if cfg.Generation.RequestsPerMinute == 0 {
		cfg.Generation.RequestsPerMinute = 30
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080/v1"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "legal_clauses"
	}
	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 384 // bge-small-en-v1.5
	}
	if cfg.VectorStore.Qdrant.Host == "" {
		cfg.VectorStore.Qdrant.Host = "localhost"
	}
	if cfg.VectorStore.Qdrant.Port == 0 {
		cfg.VectorStore.Qdrant.Port = 6334
	}

	if cfg.OCR.Timeout == 0 {
		cfg.OCR.Timeout = Duration(20 * time.Second)
	}

	if cfg.Scraper.Timeout == 0 {
		cfg.Scraper.Timeout = Duration(15 * time.Second)
	}
	if cfg.Scraper.UserAgent == "" {
		cfg.Scraper.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	}
	if cfg.Scraper.RequestsPerSecond == 0 {
		cfg.Scraper.RequestsPerSecond = 2
	}
	if cfg.Scraper.MaxImages == 0 {
		cfg.Scraper.MaxImages = 3
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.DSN == "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = "file:lmaudit.db?_busy_timeout=5000"
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "lmaudit.tasks"
	}
}
