package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/conclave/pkg/config"
	"github.com/kadirpekel/conclave/pkg/session"
)

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Address string        `help:"Listen address (overrides server.address)." placeholder:"HOST:PORT"`
	Watch   bool          `help:"Watch the config source and rebuild the service on change."`
	Sweep   time.Duration `help:"Interval between expired session sweeps." default:"1m"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	reloads := make(chan *config.Config, 1)
	cfg, loader, err := loadConfig(ctx, cli, config.WithOnChange(func(next *config.Config) {
		select {
		case reloads <- next:
		default:
			// A newer config replaces one that was not picked up yet.
			select {
			case <-reloads:
			default:
			}
			reloads <- next
		}
	}))
	if err != nil {
		return err
	}
	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, cfg.Logging)
	if err != nil {
		return err
	}
	defer cleanup()

	if loader != nil {
		defer loader.Close()
		if c.Watch {
			go func() {
				if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
					slog.Error("Config watch error", "error", err)
				}
			}()
		}
	}

	// Sessions survive rebuilds.
	sessions := session.InMemoryService(cfg.Session.TTL)
	sessions.StartJanitor(ctx, c.Sweep)

	for {
		if c.Address != "" {
			cfg.Server.Address = c.Address
		}

		next, err := c.runOnce(ctx, cfg, sessions, reloads)
		if err != nil || next == nil {
			return err
		}
		slog.Info("Rebuilding service with reloaded configuration")
		cfg = next
	}
}

// runOnce serves cfg until ctx ends or a reload arrives. It returns the
// reloaded config, or nil on shutdown.
func (c *ServeCmd) runOnce(ctx context.Context, cfg *config.Config, sessions session.Service, reloads <-chan *config.Config) (*config.Config, error) {
	app, err := buildApp(ctx, cfg, sessions)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("Failed to release resources", "error", err)
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	reloaded := make(chan *config.Config, 1)
	go func() {
		select {
		case next := <-reloads:
			reloaded <- next
			stop()
		case <-runCtx.Done():
		}
	}()

	fmt.Printf("conclave listening on %s\n", cfg.Server.Address)
	fmt.Printf("   Chat:    POST http://%s/api/chat\n", displayAddress(cfg.Server.Address))
	fmt.Printf("   Crawl:   POST http://%s/api/crawl\n", displayAddress(cfg.Server.Address))
	fmt.Printf("   A2A:     POST http://%s/a2a\n", displayAddress(cfg.Server.Address))
	fmt.Printf("   Health:  GET  http://%s/healthz\n", displayAddress(cfg.Server.Address))

	if err := app.Server().Run(runCtx); err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, nil
	}
	select {
	case next := <-reloaded:
		return next, nil
	default:
		return nil, nil
	}
}

func displayAddress(addr string) string {
	if len(addr) > 0 && addr[0] == ':' {
		return "localhost" + addr
	}
	return addr
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			slog.Info("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}
