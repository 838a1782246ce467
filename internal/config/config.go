package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Data       DataConfig
	Auth       AuthConfig
	Embedding  ProviderConfig
	Generation ProviderConfig
	Limits     LimitsConfig
	Ollama     OllamaConfig
	Chunk      ChunkConfig
	Retrieval  RetrievalConfig
	Session    SessionConfig
}

type ServerConfig struct {
	Port       int
	AdminToken string
}

type LogConfig struct {
	Level string
}

type DataConfig struct {
	DocsDir  string
	IndexDir string
	StateDir string
}

type AuthConfig struct {
	UsersFile string
}

// ProviderConfig selects a model backend. Provider is "openai" or "ollama".
type ProviderConfig struct {
	Provider  string
	Model     string
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	BatchSize int // embedding only

	// Temperature is the sampling temperature; generation only.
	Temperature float64
}

type LimitsConfig struct {
	RequestsPerSecond float64
	MaxRetries        int
}

type OllamaConfig struct {
	BaseURL string
}

type ChunkConfig struct {
	Size    int
	Overlap int
}

type RetrievalConfig struct {
	TopK int
}

type SessionConfig struct {
	MaxTurns int
	IdleTTL  time.Duration
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 8000,
		},
		Log: LogConfig{
			Level: "info",
		},
		Data: DataConfig{
			DocsDir:  filepath.Join("resources", "data"),
			IndexDir: "db_stores",
			StateDir: defaultStateDir(),
		},
		Embedding: ProviderConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			Timeout:   30 * time.Second,
			BatchSize: 32,
		},
		Generation: ProviderConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Limits: LimitsConfig{
			RequestsPerSecond: 5,
			MaxRetries:        3,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		Chunk: ChunkConfig{
			Size:    500,
			Overlap: 100,
		},
		Retrieval: RetrievalConfig{
			TopK: 4,
		},
		Session: SessionConfig{
			MaxTurns: 20,
			IdleTTL:  24 * time.Hour,
		},
	}
}

// Load reads configuration from the TOML config file, a .env file in the
// working directory, and ROLECHAT_* environment variables, in increasing
// order of precedence.
//
// The config file lives at $ROLECHAT_CONFIG if set, otherwise at
// $XDG_CONFIG_HOME/rolechat/config.toml. Secrets are read from the
// environment only.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not read .env file: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()))
}

func loadFromPath(path string) (Config, error) {
	return loadWith(newFileBackend(path))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Both providers fall back to the conventional OpenAI variable.
	if shared := os.Getenv("OPENAI_API_KEY"); shared != "" {
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = shared
		}
		if cfg.Generation.APIKey == "" {
			cfg.Generation.APIKey = shared
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Chunk.Size <= 0 {
		return fmt.Errorf("invalid config: chunk.size must be positive, got %d", c.Chunk.Size)
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		return fmt.Errorf("invalid config: chunk.overlap must be in [0, %d), got %d", c.Chunk.Size, c.Chunk.Overlap)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("invalid config: retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("invalid config: embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("invalid config: generation.temperature must be in [0, 2], got %g", c.Generation.Temperature)
	}
	for _, p := range []struct {
		name string
		cfg  ProviderConfig
	}{{"embedding", c.Embedding}, {"generation", c.Generation}} {
		if p.cfg.Provider != "openai" && p.cfg.Provider != "ollama" {
			return fmt.Errorf("invalid config: %s.provider must be openai or ollama, got %q", p.name, p.cfg.Provider)
		}
	}
	return nil
}

// RequireAPIKeys reports a clear error when an OpenAI-backed provider has no
// credentials. Commands that never call a provider skip this check.
func (c Config) RequireAPIKeys() error {
	if err := c.RequireEmbeddingAPIKey(); err != nil {
		return err
	}
	if c.Generation.Provider == "openai" && c.Generation.APIKey == "" {
		return errors.New("missing required config: generation API key. " +
			"Set it via environment variable ROLECHAT_GENERATION_API_KEY or OPENAI_API_KEY")
	}
	return nil
}

// RequireEmbeddingAPIKey is RequireAPIKeys for commands that only embed.
func (c Config) RequireEmbeddingAPIKey() error {
	if c.Embedding.Provider == "openai" && c.Embedding.APIKey == "" {
		return errors.New("missing required config: embedding API key. " +
			"Set it via environment variable ROLECHAT_EMBEDDING_API_KEY or OPENAI_API_KEY")
	}
	return nil
}

// RoleDocsDir returns the folder holding a role's source documents.
func (c Config) RoleDocsDir(role string) string {
	return filepath.Join(c.Data.DocsDir, role)
}

func defaultStateDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "rolechat-data"
		}
	}
	return filepath.Join(dir, "rolechat")
}

func configFilePath() string {
	if p := os.Getenv("ROLECHAT_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "rolechat", "config.toml")
}
