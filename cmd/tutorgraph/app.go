package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/kalambet/tutorgraph/internal/composer"
	"github.com/kalambet/tutorgraph/internal/config"
	"github.com/kalambet/tutorgraph/internal/correction"
	"github.com/kalambet/tutorgraph/internal/graph"
	"github.com/kalambet/tutorgraph/internal/intent"
	"github.com/kalambet/tutorgraph/internal/metrics"
	"github.com/kalambet/tutorgraph/internal/ollama"
	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/selector"
	"github.com/kalambet/tutorgraph/internal/storage"
	"github.com/kalambet/tutorgraph/internal/tools"
)

// app holds everything built once at startup and shared by every turn.
type app struct {
	cfg       config.Config
	store     *storage.Store
	providers *provider.Registry
	tools     *tools.Registry
	metrics   *metrics.Metrics
	executor  *graph.Executor
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// buildApp opens storage and wires providers, tools and the turn graph.
// Ollama readiness progress is written to progress.
func buildApp(ctx context.Context, cfg config.Config, progress io.Writer) (*app, error) {
	providers, err := buildProviders(ctx, cfg, progress)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	classifier, ok := providers.Get(cfg.Routing.Classifier)
	if !ok {
		store.Close()
		return nil, fmt.Errorf("classifier provider %q is not configured", cfg.Routing.Classifier)
	}

	m := metrics.New()
	toolReg := buildTools(cfg, generator(cfg, providers), store)

	exec := graph.New(graph.Deps{
		Store:    store,
		Router:   intent.NewRouter(classifier, cfg.Graph.ProviderTimeout),
		Selector: selector.New(classifier, selector.Routes{
			Simple:  cfg.Routing.Simple,
			Complex: cfg.Routing.Complex,
			Search:  cfg.Routing.Search,
		}, providers.Names(), cfg.Graph.ProviderTimeout),
		Ledger:    correction.NewLedger(store),
		Composer:  composer.New(cfg.Graph.HistoryWindow, cfg.Graph.MaxContextTokens),
		Providers: providers,
		Tools:     toolReg,
		Metrics:   m,
		Logger:    slog.Default(),
	}, graph.Options{
		MaxToolRounds:   cfg.Graph.MaxToolRounds,
		ProviderTimeout: cfg.Graph.ProviderTimeout,
		StorageTimeout:  cfg.Graph.StorageTimeout,
		DefaultProvider: cfg.Routing.Simple,
		SearchProvider:  cfg.Routing.Search,
	})

	slog.Info("turn graph ready",
		"providers", providers.Names(),
		"tools", toolReg.Names(),
		"max_tool_rounds", cfg.Graph.MaxToolRounds,
	)

	return &app{
		cfg:       cfg,
		store:     store,
		providers: providers,
		tools:     toolReg,
		metrics:   m,
		executor:  exec,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// buildProviders registers every provider that has credentials. A local
// Ollama is checked for readiness and its model pulled when missing.
func buildProviders(ctx context.Context, cfg config.Config, progress io.Writer) (*provider.Registry, error) {
	reg := provider.NewRegistry()

	hosted := []struct {
		name, baseURL, key, model string
		tools                     bool
	}{
		{config.ProviderGroq, provider.GroqBaseURL, cfg.Providers.GroqAPIKey, cfg.Providers.GroqModel, true},
		{config.ProviderGemini, provider.GeminiBaseURL, cfg.Providers.GeminiAPIKey, cfg.Providers.GeminiModel, true},
		{config.ProviderPerplexity, provider.PerplexityBaseURL, cfg.Providers.PerplexityAPIKey, cfg.Providers.PerplexityModel, false},
	}
	for _, h := range hosted {
		if h.key == "" {
			slog.Debug("provider not configured", "provider", h.name)
			continue
		}
		reg.Register(provider.NewClient(provider.ClientConfig{
			Name:    h.name,
			BaseURL: h.baseURL,
			APIKey:  h.key,
			Model:   h.model,
			Tools:   h.tools,
			Timeout: cfg.Graph.ProviderTimeout,
		}))
	}

	if cfg.Providers.OllamaBaseURL != "" {
		client := ollama.New(cfg.Providers.OllamaBaseURL)
		if err := ollama.EnsureReady(ctx, client, cfg.Providers.OllamaModel, progress); err != nil {
			if routesTo(cfg, config.ProviderOllama) {
				return nil, err
			}
			slog.Warn("ollama unavailable, continuing without it", "error", err)
		} else {
			reg.Register(provider.NewOllama(config.ProviderOllama, cfg.Providers.OllamaModel, client, cfg.Graph.ProviderTimeout))
		}
	}

	return reg, nil
}

func routesTo(cfg config.Config, name string) bool {
	for _, r := range []string{cfg.Routing.Simple, cfg.Routing.Complex, cfg.Routing.Search, cfg.Routing.Classifier} {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// generator picks the provider that writes tool content: the complex route
// when configured, otherwise the simple route.
func generator(cfg config.Config, providers *provider.Registry) provider.Provider {
	for _, name := range []string{cfg.Routing.Complex, cfg.Routing.Simple} {
		if p, ok := providers.Get(name); ok {
			return p
		}
	}
	return nil
}

func buildTools(cfg config.Config, gen provider.Provider, store *storage.Store) *tools.Registry {
	reg := tools.NewRegistry(cfg.Graph.ToolTimeout)
	reg.Register(tools.NewPresentationTool(gen, cfg.Tools.ArtifactDir))
	reg.Register(tools.NewVideoTool(gen, cfg.Tools.ArtifactDir))
	reg.Register(tools.NewQuizTool(gen))
	reg.Register(tools.NewFlashcardsTool(gen))
	reg.Register(tools.NewDocumentTool(gen, cfg.Tools.DocumentPath))
	reg.Register(tools.NewKnowledgeTool(store))
	return reg
}
