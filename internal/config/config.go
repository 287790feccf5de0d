package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const appName = "tutorgraph"

// Provider names understood by the routing keys.
const (
	ProviderGroq       = "groq"
	ProviderGemini     = "gemini"
	ProviderPerplexity = "perplexity"
	ProviderOllama     = "ollama"
)

// KnownProviders lists every provider the routing keys may name.
var KnownProviders = []string{ProviderGroq, ProviderGemini, ProviderPerplexity, ProviderOllama}

var ErrMissingCredentials = errors.New("missing provider credentials")

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Providers ProvidersConfig
	Routing   RoutingConfig
	Graph     GraphConfig
	Tools     ToolsConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken guards the HTTP API. Empty disables auth.
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type ProvidersConfig struct {
	GroqAPIKey       string
	GroqModel        string
	GeminiAPIKey     string
	GeminiModel      string
	PerplexityAPIKey string
	PerplexityModel  string
	OllamaBaseURL    string
	OllamaModel      string
}

type RoutingConfig struct {
	Simple     string
	Complex    string
	Search     string
	Classifier string
}

type GraphConfig struct {
	MaxToolRounds    int
	HistoryWindow    int
	MaxContextTokens int
	ProviderTimeout  time.Duration
	ToolTimeout      time.Duration
	StorageTimeout   time.Duration
}

type ToolsConfig struct {
	// ArtifactDir defaults to <data_dir>/artifacts.
	ArtifactDir  string
	DocumentPath string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Providers: ProvidersConfig{
			GroqModel:       "llama-3.3-70b-versatile",
			GeminiModel:     "gemini-2.5-flash",
			PerplexityModel: "sonar-pro",
			OllamaModel:     "llama3.1",
		},
		Routing: RoutingConfig{
			Simple:     ProviderGroq,
			Complex:    ProviderGemini,
			Search:     ProviderPerplexity,
			Classifier: ProviderGroq,
		},
		Graph: GraphConfig{
			MaxToolRounds:    5,
			HistoryWindow:    1000,
			MaxContextTokens: 24000,
			ProviderTimeout:  60 * time.Second,
			ToolTimeout:      120 * time.Second,
			StorageTimeout:   5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration and checks that the classifier and simple-route
// providers have credentials.
//
// Sources, lowest precedence first: built-in defaults, the JSON file at
// $XDG_CONFIG_HOME/tutorgraph/config.json, TUTORGRAPH_* environment variables.
// API keys also honour the bare GROQ_API_KEY, GEMINI_API_KEY and
// PERPLEXITY_API_KEY variables and fall back to the secrets file at
// $XDG_DATA_HOME/tutorgraph/secrets.json.
func Load() (Config, error) {
	cfg, err := Read()
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Read is Load without credential validation, for commands that only need
// addresses and paths.
func Read() (Config, error) {
	return loadWith(newPlatformBackend(), newSecretsFile(secretsFilePath()))
}

// secretReader abstracts the secrets file for testing.
type secretReader interface {
	Get(account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if cfg.Tools.ArtifactDir == "" {
		cfg.Tools.ArtifactDir = filepath.Join(cfg.Storage.DataDir, "artifacts")
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	return cfg, nil
}

// Validate checks routing names and that the classifier and simple-route
// providers can be called.
func (c Config) Validate() error {
	for key, name := range map[string]string{
		"routing.simple":     c.Routing.Simple,
		"routing.complex":    c.Routing.Complex,
		"routing.search":     c.Routing.Search,
		"routing.classifier": c.Routing.Classifier,
	} {
		if !isKnownProvider(name) {
			return fmt.Errorf("invalid %s %q: must be one of %s", key, name, strings.Join(KnownProviders, ", "))
		}
	}
	if c.Graph.MaxToolRounds <= 0 {
		return fmt.Errorf("invalid graph.max_tool_rounds %d: must be positive", c.Graph.MaxToolRounds)
	}

	for _, name := range []string{c.Routing.Classifier, c.Routing.Simple} {
		if !c.ProviderConfigured(name) {
			return fmt.Errorf("%w: provider %q is required for routing. Set it via %s", ErrMissingCredentials, name, credentialHint(name))
		}
	}
	return nil
}

// ProviderConfigured reports whether name has the credentials or address it
// needs.
func (c Config) ProviderConfigured(name string) bool {
	switch strings.ToLower(name) {
	case ProviderGroq:
		return c.Providers.GroqAPIKey != ""
	case ProviderGemini:
		return c.Providers.GeminiAPIKey != ""
	case ProviderPerplexity:
		return c.Providers.PerplexityAPIKey != ""
	case ProviderOllama:
		return c.Providers.OllamaBaseURL != ""
	}
	return false
}

func isKnownProvider(name string) bool {
	for _, p := range KnownProviders {
		if strings.EqualFold(p, name) {
			return true
		}
	}
	return false
}

func credentialHint(name string) string {
	switch strings.ToLower(name) {
	case ProviderOllama:
		return "TUTORGRAPH_OLLAMA_BASE_URL"
	default:
		up := strings.ToUpper(name)
		return fmt.Sprintf("environment variable %s_API_KEY or TUTORGRAPH_%s_API_KEY", up, up)
	}
}
