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
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	alias   string // consulted when env is unset
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TUTORGRAPH_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "TUTORGRAPH_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TUTORGRAPH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "providers.groq_api_key", typ: kString, env: "TUTORGRAPH_GROQ_API_KEY", alias: "GROQ_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.GroqAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.GroqAPIKey },
	},
	{
		key: "providers.groq_model", typ: kString, env: "TUTORGRAPH_GROQ_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.GroqModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.GroqModel },
	},
	{
		key: "providers.gemini_api_key", typ: kString, env: "TUTORGRAPH_GEMINI_API_KEY", alias: "GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.GeminiAPIKey },
	},
	{
		key: "providers.gemini_model", typ: kString, env: "TUTORGRAPH_GEMINI_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.GeminiModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.GeminiModel },
	},
	{
		key: "providers.perplexity_api_key", typ: kString, env: "TUTORGRAPH_PERPLEXITY_API_KEY", alias: "PERPLEXITY_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Providers.PerplexityAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.PerplexityAPIKey },
	},
	{
		key: "providers.perplexity_model", typ: kString, env: "TUTORGRAPH_PERPLEXITY_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.PerplexityModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.PerplexityModel },
	},
	{
		key: "providers.ollama_base_url", typ: kString, env: "TUTORGRAPH_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Providers.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OllamaBaseURL },
	},
	{
		key: "providers.ollama_model", typ: kString, env: "TUTORGRAPH_OLLAMA_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Providers.OllamaModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Providers.OllamaModel },
	},
	{
		key: "routing.simple", typ: kString, env: "TUTORGRAPH_ROUTING_SIMPLE",
		apply:   func(cfg *Config, v any) { cfg.Routing.Simple = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.Simple },
	},
	{
		key: "routing.complex", typ: kString, env: "TUTORGRAPH_ROUTING_COMPLEX",
		apply:   func(cfg *Config, v any) { cfg.Routing.Complex = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.Complex },
	},
	{
		key: "routing.search", typ: kString, env: "TUTORGRAPH_ROUTING_SEARCH",
		apply:   func(cfg *Config, v any) { cfg.Routing.Search = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.Search },
	},
	{
		key: "routing.classifier", typ: kString, env: "TUTORGRAPH_ROUTING_CLASSIFIER",
		apply:   func(cfg *Config, v any) { cfg.Routing.Classifier = v.(string) },
		extract: func(cfg Config) any { return cfg.Routing.Classifier },
	},
	{
		key: "graph.max_tool_rounds", typ: kInt, env: "TUTORGRAPH_GRAPH_MAX_TOOL_ROUNDS",
		apply:   func(cfg *Config, v any) { cfg.Graph.MaxToolRounds = v.(int) },
		extract: func(cfg Config) any { return cfg.Graph.MaxToolRounds },
	},
	{
		key: "graph.history_window", typ: kInt, env: "TUTORGRAPH_GRAPH_HISTORY_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Graph.HistoryWindow = v.(int) },
		extract: func(cfg Config) any { return cfg.Graph.HistoryWindow },
	},
	{
		key: "graph.max_context_tokens", typ: kInt, env: "TUTORGRAPH_GRAPH_MAX_CONTEXT_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Graph.MaxContextTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Graph.MaxContextTokens },
	},
	{
		key: "graph.provider_timeout", typ: kDuration, env: "TUTORGRAPH_GRAPH_PROVIDER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Graph.ProviderTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Graph.ProviderTimeout },
	},
	{
		key: "graph.tool_timeout", typ: kDuration, env: "TUTORGRAPH_GRAPH_TOOL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Graph.ToolTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Graph.ToolTimeout },
	},
	{
		key: "graph.storage_timeout", typ: kDuration, env: "TUTORGRAPH_GRAPH_STORAGE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Graph.StorageTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Graph.StorageTimeout },
	},
	{
		key: "tools.artifact_dir", typ: kString, env: "TUTORGRAPH_TOOLS_ARTIFACT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Tools.ArtifactDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Tools.ArtifactDir },
	},
	{
		key: "tools.document_path", typ: kString, env: "TUTORGRAPH_TOOLS_DOCUMENT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Tools.DocumentPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Tools.DocumentPath },
	},
	{
		key: "log.level", typ: kString, env: "TUTORGRAPH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func findSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
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
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if parsed, err := parseValue(s.typ, v); err == nil {
					s.apply(cfg, parsed)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name, raw := s.env, os.Getenv(s.env)
		if raw == "" && s.alias != "" {
			name, raw = s.alias, os.Getenv(s.alias)
		}
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets still empty after env from the secrets file.
func applySecrets(cfg *Config, secrets secretReader) {
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}

func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}
