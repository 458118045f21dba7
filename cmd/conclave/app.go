package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/conclave/pkg/a2a"
	"github.com/kadirpekel/conclave/pkg/chat"
	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/config/provider"
	"github.com/kadirpekel/conclave/pkg/crawler"
	"github.com/kadirpekel/conclave/pkg/embedder"
	"github.com/kadirpekel/conclave/pkg/expert"
	"github.com/kadirpekel/conclave/pkg/model"
	"github.com/kadirpekel/conclave/pkg/model/providers"
	"github.com/kadirpekel/conclave/pkg/observability"
	"github.com/kadirpekel/conclave/pkg/orchestrator"
	"github.com/kadirpekel/conclave/pkg/retrieval"
	"github.com/kadirpekel/conclave/pkg/riskgate"
	"github.com/kadirpekel/conclave/pkg/server"
	"github.com/kadirpekel/conclave/pkg/session"
	"github.com/kadirpekel/conclave/pkg/store"
	"github.com/kadirpekel/conclave/pkg/tools"
	"github.com/kadirpekel/conclave/pkg/vector"
)

// App is the assembled service graph.
type App struct {
	Config *config.Config

	Store     *store.Store
	Embedder  embedder.Embedder
	LLM       model.LLM
	Index     vector.Provider
	Retriever *retrieval.Retriever
	Crawler   *crawler.Crawler
	Bus       *a2a.Bus
	Experts   []*expert.Expert
	Sessions  session.Service
	Chat      *chat.Service
	Telemetry *observability.Manager

	closers []func() error
}

// loadConfig reads the config from the selected source. An empty path
// yields defaults and environment only, with a nil loader.
func loadConfig(ctx context.Context, cli *CLI, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if cli.Config == "" {
		cfg, err := config.Default()
		return cfg, nil, err
	}

	typ, err := provider.ParseType(cli.ConfigProvider)
	if err != nil {
		return nil, nil, err
	}
	p, err := provider.New(provider.ProviderConfig{
		Type:      typ,
		Path:      cli.Config,
		Endpoints: cli.ConfigEndpoint,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create config provider: %w", err)
	}

	loader := config.NewLoader(p, opts...)
	cfg, err := loader.Load(ctx)
	if err != nil {
		_ = loader.Close()
		return nil, nil, err
	}
	return cfg, loader, nil
}

// buildApp wires every component from cfg. sessions may be nil, in which
// case an in-memory service is created.
func buildApp(ctx context.Context, cfg *config.Config, sessions session.Service) (_ *App, err error) {
	app := &App{Config: cfg, Sessions: sessions}
	defer func() {
		if err != nil {
			_ = app.Close()
		}
	}()

	app.Telemetry = observability.NewManager(cfg.Observability)
	if err := app.Telemetry.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize observability: %w", err)
	}
	app.onClose(func() error { return app.Telemetry.Shutdown(context.Background()) })

	pool := config.NewDBPool()
	app.onClose(pool.Close)
	if app.Store, err = store.Open(ctx, pool, &cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if app.Embedder, err = embedder.New(ctx, cfg.Embedder, cfg.Resilience); err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	app.onClose(app.Embedder.Close)

	if app.LLM, err = providers.New(ctx, cfg.LLM, cfg.Resilience); err != nil {
		return nil, fmt.Errorf("failed to create llm: %w", err)
	}
	app.onClose(app.LLM.Close)

	if app.Index, err = vector.NewProvider(&cfg.Vector); err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}
	if app.Index != nil {
		app.onClose(app.Index.Close)
	}
	app.Retriever = retrieval.New(app.Store, app.Index, cfg.Retrieval, cfg.Resilience)

	opts := []crawler.Option{crawler.WithMirror(app.Retriever)}
	if cfg.Crawler.LLMClean {
		opts = append(opts, crawler.WithLLM(app.LLM))
	}
	app.Crawler = crawler.New(cfg.Crawler, cfg.Resilience, app.Store, app.Embedder, opts...)

	app.Bus = a2a.NewBus(cfg.A2A.HistoryLimit)
	if err := app.Bus.Register(crawler.NewAgent(app.Crawler)); err != nil {
		return nil, err
	}
	for _, r := range cfg.A2A.Remote {
		if err := app.Bus.Register(a2a.NewRemoteAgent(r.ID, r.URL, r.Timeout)); err != nil {
			return nil, fmt.Errorf("failed to register remote agent %s: %w", r.ID, err)
		}
	}

	roles := expert.Catalog(cfg.Experts)
	app.Experts, err = expert.Register(app.Bus, roles, expert.Deps{
		LLM:      app.LLM,
		Store:    app.Store,
		Embedder: app.Embedder,
		Searcher: app.Retriever,
		Refresh: &tools.EmbeddingRefresh{
			Store:    app.Store,
			Embedder: app.Embedder,
			Mirror:   app.Retriever.Mirror,
		},
		Bus:       app.Bus,
		CrawlerID: crawler.AgentID,
		Retrieval: cfg.Retrieval,
		ReAct:     cfg.ReAct,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to register experts: %w", err)
	}

	if app.Sessions == nil {
		app.Sessions = session.InMemoryService(cfg.Session.TTL)
	}
	orch := orchestrator.New(app.LLM, app.Bus, roles, cfg.Orchestrator)
	app.Chat = chat.New(app.Sessions, riskgate.New(cfg.Risk), orch, cfg.Server.RequestTimeout)

	slog.Info("Service assembled",
		"llm", cfg.LLM.Provider,
		"embedder", cfg.Embedder.Provider,
		"database", cfg.Database.Driver,
		"retrieval", app.Retriever.Backend(),
		"agents", len(app.Bus.Agents()))
	return app, nil
}

// Server builds the HTTP server over the app.
func (a *App) Server() *server.Server {
	return server.New(a.Config.Server, server.Options{
		Chat:    a.Chat,
		Crawler: a.Crawler,
		Bus:     a.Bus,
		Metrics: a.Telemetry.MetricsHandler(),
	})
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
