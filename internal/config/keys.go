package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "ROLECHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.admin_token", typ: kString, env: "ROLECHAT_ADMIN_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Server.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.AdminToken },
	},
	{
		key: "log.level", typ: kString, env: "ROLECHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "data.docs_dir", typ: kString, env: "ROLECHAT_DATA_DOCS_DIR",
		apply:   func(cfg *Config, v any) { cfg.Data.DocsDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.DocsDir },
	},
	{
		key: "data.index_dir", typ: kString, env: "ROLECHAT_DATA_INDEX_DIR",
		apply:   func(cfg *Config, v any) { cfg.Data.IndexDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.IndexDir },
	},
	{
		key: "data.state_dir", typ: kString, env: "ROLECHAT_DATA_STATE_DIR",
		apply:   func(cfg *Config, v any) { cfg.Data.StateDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Data.StateDir },
	},
	{
		key: "auth.users_file", typ: kString, env: "ROLECHAT_AUTH_USERS_FILE",
		apply:   func(cfg *Config, v any) { cfg.Auth.UsersFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.UsersFile },
	},
	{
		key: "embedding.provider", typ: kString, env: "ROLECHAT_EMBEDDING_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Provider },
	},
	{
		key: "embedding.model", typ: kString, env: "ROLECHAT_EMBEDDING_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.Model },
	},
	{
		key: "embedding.base_url", typ: kString, env: "ROLECHAT_EMBEDDING_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.BaseURL },
	},
	{
		key: "embedding.api_key", typ: kString, env: "ROLECHAT_EMBEDDING_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Embedding.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Embedding.APIKey },
	},
	{
		key: "embedding.batch_size", typ: kInt, env: "ROLECHAT_EMBEDDING_BATCH_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Embedding.BatchSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.BatchSize },
	},
	{
		key: "embedding.timeout", typ: kDuration, env: "ROLECHAT_EMBEDDING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Embedding.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Embedding.Timeout },
	},
	{
		key: "generation.provider", typ: kString, env: "ROLECHAT_GENERATION_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Generation.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Provider },
	},
	{
		key: "generation.model", typ: kString, env: "ROLECHAT_GENERATION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Generation.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.Model },
	},
	{
		key: "generation.base_url", typ: kString, env: "ROLECHAT_GENERATION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Generation.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.BaseURL },
	},
	{
		key: "generation.api_key", typ: kString, env: "ROLECHAT_GENERATION_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Generation.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Generation.APIKey },
	},
	{
		key: "generation.timeout", typ: kDuration, env: "ROLECHAT_GENERATION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Generation.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Generation.Timeout },
	},
	{
		key: "generation.temperature", typ: kFloat, env: "ROLECHAT_GENERATION_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Generation.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Generation.Temperature },
	},
	{
		key: "provider.requests_per_second", typ: kFloat, env: "ROLECHAT_PROVIDER_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Limits.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Limits.RequestsPerSecond },
	},
	{
		key: "provider.max_retries", typ: kInt, env: "ROLECHAT_PROVIDER_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Limits.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Limits.MaxRetries },
	},
	{
		key: "ollama.base_url", typ: kString, env: "ROLECHAT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "chunk.size", typ: kInt, env: "ROLECHAT_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunk.Size = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunk.Size },
	},
	{
		key: "chunk.overlap", typ: kInt, env: "ROLECHAT_CHUNK_OVERLAP",
		apply:   func(cfg *Config, v any) { cfg.Chunk.Overlap = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunk.Overlap },
	},
	{
		key: "retrieval.top_k", typ: kInt, env: "ROLECHAT_RETRIEVAL_TOP_K",
		apply:   func(cfg *Config, v any) { cfg.Retrieval.TopK = v.(int) },
		extract: func(cfg Config) any { return cfg.Retrieval.TopK },
	},
	{
		key: "session.max_turns", typ: kInt, env: "ROLECHAT_SESSION_MAX_TURNS",
		apply:   func(cfg *Config, v any) { cfg.Session.MaxTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.Session.MaxTurns },
	},
	{
		key: "session.idle_ttl", typ: kDuration, env: "ROLECHAT_SESSION_IDLE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Session.IdleTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Session.IdleTTL },
	},
}

// parse converts a raw string into the Go type expected by s.apply.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func (s keySpec) typeName() string {
	switch s.typ {
	case kInt:
		return "integer"
	case kBool:
		return "bool"
	case kFloat:
		return "float"
	case kDuration:
		return "duration"
	default:
		return "string"
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		default:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if !ok || v == "" {
				continue
			}
			parsed, err := s.parse(v)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from config key %s=%q: %v. Using default value.\n", s.typeName(), s.key, v, err)
				continue
			}
			s.apply(cfg, parsed)
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse %s from env var %s=%q: %v. Using default value.\n", s.typeName(), s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
