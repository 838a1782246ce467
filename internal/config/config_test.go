package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "ROLECHAT_EMBEDDING_API_KEY", "ROLECHAT_GENERATION_API_KEY", "ROLECHAT_CHUNK_SIZE", "ROLECHAT_CHUNK_OVERLAP", "ROLECHAT_GENERATION_TEMPERATURE"} {
		t.Setenv(k, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, `# empty config`)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("Server.Port = %d, want 8000", cfg.Server.Port)
	}
	if cfg.Chunk.Size != 500 || cfg.Chunk.Overlap != 100 {
		t.Errorf("Chunk = %+v, want size 500 overlap 100", cfg.Chunk)
	}
	if cfg.Retrieval.TopK != 4 {
		t.Errorf("Retrieval.TopK = %d, want 4", cfg.Retrieval.TopK)
	}
	if cfg.Generation.Model != "gpt-4o-mini" {
		t.Errorf("Generation.Model = %q, want %q", cfg.Generation.Model, "gpt-4o-mini")
	}
	if cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Embedding.Model = %q", cfg.Embedding.Model)
	}
	if cfg.Session.MaxTurns != 20 {
		t.Errorf("Session.MaxTurns = %d, want 20", cfg.Session.MaxTurns)
	}
	if cfg.Data.IndexDir != "db_stores" {
		t.Errorf("Data.IndexDir = %q, want db_stores", cfg.Data.IndexDir)
	}
	if cfg.Generation.Temperature != 0 {
		t.Errorf("Generation.Temperature = %g, want 0", cfg.Generation.Temperature)
	}
}

// TestTOMLParsing verifies that nested tables are read from a TOML file.
func TestTOMLParsing(t *testing.T) {
	clearProviderEnv(t)
	content := `
[server]
port = 9000

[embedding]
provider = "ollama"
model = "nomic-embed-text"
timeout = "5s"

[provider]
requests_per_second = 2.5

[chunk]
size = 800
overlap = 200

[session]
idle_ttl = "1h"
`
	path := writeTempConfig(t, content)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Embedding.Provider != "ollama" || cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
	if cfg.Embedding.Timeout != 5*time.Second {
		t.Errorf("Embedding.Timeout = %v, want 5s", cfg.Embedding.Timeout)
	}
	if cfg.Limits.RequestsPerSecond != 2.5 {
		t.Errorf("Limits.RequestsPerSecond = %v, want 2.5", cfg.Limits.RequestsPerSecond)
	}
	if cfg.Chunk.Size != 800 || cfg.Chunk.Overlap != 200 {
		t.Errorf("Chunk = %+v", cfg.Chunk)
	}
	if cfg.Session.IdleTTL != time.Hour {
		t.Errorf("Session.IdleTTL = %v, want 1h", cfg.Session.IdleTTL)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, "[retrieval]\ntop_k = 3\n")

	t.Setenv("ROLECHAT_RETRIEVAL_TOP_K", "7")
	t.Setenv("ROLECHAT_GENERATION_API_KEY", "gen-key")
	t.Setenv("ROLECHAT_GENERATION_TEMPERATURE", "0.2")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Retrieval.TopK != 7 {
		t.Errorf("Retrieval.TopK = %d, want 7", cfg.Retrieval.TopK)
	}
	if cfg.Generation.APIKey != "gen-key" {
		t.Errorf("Generation.APIKey = %q, want gen-key", cfg.Generation.APIKey)
	}
	if cfg.Generation.Temperature != 0.2 {
		t.Errorf("Generation.Temperature = %g, want 0.2", cfg.Generation.Temperature)
	}
}

func TestSharedAPIKeyFallback(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, "")
	t.Setenv("OPENAI_API_KEY", "shared")
	t.Setenv("ROLECHAT_EMBEDDING_API_KEY", "embed-only")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Embedding.APIKey != "embed-only" {
		t.Errorf("Embedding.APIKey = %q, want embed-only", cfg.Embedding.APIKey)
	}
	if cfg.Generation.APIKey != "shared" {
		t.Errorf("Generation.APIKey = %q, want shared", cfg.Generation.APIKey)
	}
}

func TestSecretsIgnoredInFile(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, "[embedding]\napi_key = \"from-file\"\n")

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Embedding.APIKey != "" {
		t.Errorf("Embedding.APIKey = %q, secrets must come from env only", cfg.Embedding.APIKey)
	}
}

// TestRequireAPIKeys verifies a clear error when an OpenAI key is missing everywhere.
func TestRequireAPIKeys(t *testing.T) {
	clearProviderEnv(t)
	path := writeTempConfig(t, `# empty config`)

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = cfg.RequireAPIKeys()
	if err == nil {
		t.Fatal("expected error for missing API key, got nil")
	}
	if !strings.Contains(err.Error(), "missing required config") {
		t.Errorf("error = %q, want it to contain %q", err, "missing required config")
	}

	cfg.Embedding.Provider = "ollama"
	cfg.Generation.Provider = "ollama"
	if err := cfg.RequireAPIKeys(); err != nil {
		t.Errorf("ollama providers need no key, got %v", err)
	}
}

func TestRequireEmbeddingAPIKey(t *testing.T) {
	cfg := defaults()
	cfg.Generation.Provider = "openai"
	cfg.Embedding.Provider = "ollama"
	if err := cfg.RequireEmbeddingAPIKey(); err != nil {
		t.Errorf("ollama embedding needs no key, got %v", err)
	}
	if err := cfg.RequireAPIKeys(); err == nil || !strings.Contains(err.Error(), "generation") {
		t.Errorf("RequireAPIKeys = %v, want generation key error", err)
	}

	cfg.Embedding.Provider = "openai"
	if err := cfg.RequireEmbeddingAPIKey(); err == nil || !strings.Contains(err.Error(), "embedding") {
		t.Errorf("RequireEmbeddingAPIKey = %v, want embedding key error", err)
	}
}

func TestValidation(t *testing.T) {
	clearProviderEnv(t)
	tests := []struct {
		name    string
		content string
	}{
		{"overlap not below size", "[chunk]\nsize = 100\noverlap = 100\n"},
		{"zero top_k", "[retrieval]\ntop_k = 0\n"},
		{"unknown provider", "[generation]\nprovider = \"cohere\"\n"},
		{"temperature out of range", "[generation]\ntemperature = 2.5\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := loadFromPath(writeTempConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestSetKey_RoundTrip(t *testing.T) {
	clearProviderEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	b := newFileBackend(path)

	if err := setKey(b, "server.port", "9100"); err != nil {
		t.Fatalf("setKey port: %v", err)
	}
	if err := setKey(b, "session.idle_ttl", "2h"); err != nil {
		t.Fatalf("setKey ttl: %v", err)
	}
	if err := setKey(b, "server.port", "abc"); err == nil {
		t.Error("expected error for non-integer port")
	}
	if err := setKey(b, "embedding.api_key", "x"); err == nil {
		t.Error("expected error for secret key")
	}
	if err := setKey(b, "no.such", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	cfg, err := loadFromPath(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Session.IdleTTL != 2*time.Hour {
		t.Errorf("Session.IdleTTL = %v, want 2h", cfg.Session.IdleTTL)
	}
}

func TestShowAll_HidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Embedding.APIKey = "sk-secret"
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Key, "api_key") || ki.Value == "sk-secret" {
			t.Errorf("ShowAll exposed secret %s", ki.Key)
		}
	}
	if len(ValidKeys()) != len(ShowAll(cfg)) {
		t.Errorf("ValidKeys and ShowAll disagree")
	}
}

func TestPaths(t *testing.T) {
	cfg := defaults()
	cfg.Data.DocsDir = "/srv/docs"
	if got := cfg.RoleDocsDir("hr"); got != filepath.Join("/srv/docs", "hr") {
		t.Errorf("RoleDocsDir = %q", got)
	}
}
