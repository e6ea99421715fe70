// Package config loads the application configuration from a YAML file,
// applying defaults for anything unset. Secrets (API keys) come from the
// environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// AnthropicConfig configures the chat model and the secondary summarizer model.
type AnthropicConfig struct {
	APIKeyEnv    string `yaml:"api_key_env"`
	Model        string `yaml:"model"`
	SummaryModel string `yaml:"summary_model"`
	MaxTokens    int64  `yaml:"max_tokens"`
	MaxTurns     int    `yaml:"max_turns"`
}

// EmbedderConfig configures the OpenAI-compatible embeddings client.
type EmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`

	// CacheEntries bounds the embedding memoization cache. 0 disables it.
	CacheEntries int64 `yaml:"cache_entries"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// IndexConfig configures the vector index manager.
type IndexConfig struct {
	// Dir holds the serialized index and its id->content mapping.
	Dir string `yaml:"dir"`

	// TopK is the default number of results per search.
	TopK int `yaml:"top_k"`

	// BatchSize is the number of chunks vectorized per add batch.
	BatchSize int `yaml:"batch_size"`

	// TrustPersisted gates loading the persisted index. Deserializing an
	// index is equivalent to deserializing arbitrary data; only enable
	// this for directories the process itself writes. Defaults to true,
	// which covers the app-owned data directory.
	TrustPersisted *bool `yaml:"trust_persisted"`
}

// Trusted reports whether the persisted index may be deserialized.
func (c IndexConfig) Trusted() bool {
	return c.TrustPersisted == nil || *c.TrustPersisted
}

// MemoryConfig configures the long-term conversation memory store.
type MemoryConfig struct {
	Dir       string `yaml:"dir"`
	RecallTop int    `yaml:"recall_top"`
}

// SummaryConfig configures the summarization gate.
type SummaryConfig struct {
	// TokenThreshold triggers summarization once the estimated token
	// count of persisted history exceeds it.
	TokenThreshold int `yaml:"token_threshold"`

	// KeepMessages is how many trailing messages survive a summarization.
	KeepMessages int `yaml:"keep_messages"`
}

// Config is the root application configuration.
type Config struct {
	// DataDir is the root for everything the assistant persists.
	DataDir string `yaml:"data_dir"`

	// DocumentsDir stores saved copies of uploaded files.
	DocumentsDir string `yaml:"documents_dir"`

	// ProcessedRecord is the newline-delimited processed-document record.
	ProcessedRecord string `yaml:"processed_record"`

	// CheckpointDir holds the per-thread conversation checkpoints.
	CheckpointDir string `yaml:"checkpoint_dir"`

	ListenAddr string          `yaml:"listen_addr"`
	Anthropic  AnthropicConfig `yaml:"anthropic"`
	Embedder   EmbedderConfig  `yaml:"embedder"`
	Chunker    ChunkerConfig   `yaml:"chunker"`
	Index      IndexConfig     `yaml:"index"`
	Memory     MemoryConfig    `yaml:"memory"`
	Summary    SummaryConfig   `yaml:"summary"`
	Debug      bool            `yaml:"debug"`
}

// Load reads the config at path. A missing file returns defaults.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			return cfg, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Save writes the config to path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.DataDir == "" {
		cfg.DataDir = "data"
	}
	if cfg.DocumentsDir == "" {
		cfg.DocumentsDir = filepath.Join(cfg.DataDir, "documents")
	}
	if cfg.ProcessedRecord == "" {
		cfg.ProcessedRecord = filepath.Join(cfg.DataDir, "processed_docs.txt")
	}
	if cfg.CheckpointDir == "" {
		cfg.CheckpointDir = filepath.Join(cfg.DataDir, "checkpoints")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}

	if cfg.Anthropic.APIKeyEnv == "" {
		cfg.Anthropic.APIKeyEnv = "ANTHROPIC_API_KEY"
	}
	if cfg.Anthropic.Model == "" {
		cfg.Anthropic.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Anthropic.SummaryModel == "" {
		cfg.Anthropic.SummaryModel = cfg.Anthropic.Model
	}
	if cfg.Anthropic.MaxTokens == 0 {
		cfg.Anthropic.MaxTokens = 4096
	}
	if cfg.Anthropic.MaxTurns == 0 {
		cfg.Anthropic.MaxTurns = 10
	}

	if cfg.Embedder.BaseURL == "" {
		cfg.Embedder.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Embedder.APIKeyEnv == "" {
		cfg.Embedder.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedder.Model == "" {
		cfg.Embedder.Model = "text-embedding-3-small"
	}
	if cfg.Embedder.TimeoutSecs == 0 {
		cfg.Embedder.TimeoutSecs = 30
	}
	if cfg.Embedder.CacheEntries == 0 {
		cfg.Embedder.CacheEntries = 4096
	}

	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Chunker.ChunkOverlap == 0 {
		cfg.Chunker.ChunkOverlap = 50
	}

	if cfg.Index.Dir == "" {
		cfg.Index.Dir = filepath.Join(cfg.DataDir, "index")
	}
	if cfg.Index.TopK == 0 {
		cfg.Index.TopK = 4
	}
	if cfg.Index.BatchSize == 0 {
		cfg.Index.BatchSize = 10
	}

	if cfg.Memory.Dir == "" {
		cfg.Memory.Dir = filepath.Join(cfg.DataDir, "long_term_memory")
	}
	if cfg.Memory.RecallTop == 0 {
		cfg.Memory.RecallTop = 3
	}

	if cfg.Summary.TokenThreshold == 0 {
		cfg.Summary.TokenThreshold = 4000
	}
	if cfg.Summary.KeepMessages == 0 {
		cfg.Summary.KeepMessages = 20
	}
}
