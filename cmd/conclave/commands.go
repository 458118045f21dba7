package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/kadirpekel/conclave/pkg/chat"
	"github.com/kadirpekel/conclave/pkg/crawler"
	"github.com/kadirpekel/conclave/pkg/expert"
	"github.com/kadirpekel/conclave/pkg/store"
)

// ChatCmd runs an interactive chat against the local service graph.
type ChatCmd struct {
	Session string `help:"Session id to resume (empty = new session)."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	app, err := openApp(ctx, cli)
	if err != nil {
		return err
	}
	defer app.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	return runChat(ctx, app.Chat, os.Stdin, os.Stdout, c.Session, interactive)
}

type chatter interface {
	HandleChat(ctx context.Context, req chat.Request) (*chat.Response, error)
}

// runChat reads one message per line until EOF, /exit or cancellation.
// /reset starts a new session.
func runChat(ctx context.Context, svc chatter, in io.Reader, out io.Writer, sessionID string, interactive bool) error {
	scanner := bufio.NewScanner(in)
	prompt := func() {
		if interactive {
			fmt.Fprint(out, "> ")
		}
	}

	if interactive {
		fmt.Fprintln(out, "Type /exit to quit, /reset to start a new session.")
	}
	prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			prompt()
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			sessionID = ""
			fmt.Fprintln(out, "Started a new session.")
			prompt()
			continue
		}

		resp, err := svc.HandleChat(ctx, chat.Request{Message: line, SessionID: sessionID})
		if resp != nil {
			sessionID = resp.SessionID
			fmt.Fprintln(out, resp.Response)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if resp == nil {
				fmt.Fprintf(out, "error: %v\n", err)
			}
		}
		prompt()
	}
	return scanner.Err()
}

// CrawlCmd crawls pages into the document store.
type CrawlCmd struct {
	URLs        []string `arg:"" name:"url" help:"Pages to crawl."`
	Concurrency int      `help:"Pages crawled at once." default:"4"`
}

func (c *CrawlCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	app, err := openApp(ctx, cli)
	if err != nil {
		return err
	}
	defer app.Close()

	results, err := app.Crawler.CrawlMany(ctx, c.URLs, c.Concurrency)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Status == crawler.StatusSuccess {
			fmt.Printf("ok     %s  %q  chunks=%d embedded=%d\n", r.URL, r.Title, r.ChunksCreated, r.Embedded)
			continue
		}
		failed++
		fmt.Printf("error  %s  %s\n", r.URL, r.Error)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d pages failed", failed, len(results))
	}
	return nil
}

// SearchCmd runs a semantic search over one table.
type SearchCmd struct {
	Table     string  `arg:"" help:"Catalogued table to search."`
	Query     string  `arg:"" help:"Natural language query."`
	Threshold float64 `help:"Minimum similarity (negative = retrieval.lookup_threshold)." default:"-1"`
	Limit     int     `help:"Maximum matches (0 = retrieval.limit)."`
}

func (c *SearchCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	if _, err := store.LookupTable(c.Table); err != nil {
		return fmt.Errorf("%w (tables: %s)", err, strings.Join(store.TableNames(), ", "))
	}

	app, err := openApp(ctx, cli)
	if err != nil {
		return err
	}
	defer app.Close()

	threshold, limit := c.Threshold, c.Limit
	if threshold < 0 {
		threshold = app.Config.Retrieval.LookupThreshold
	}
	if limit <= 0 {
		limit = app.Config.Retrieval.Limit
	}

	vec, err := app.Embedder.EmbedQuery(ctx, c.Query)
	if err != nil {
		return err
	}
	matches, err := app.Retriever.Search(ctx, c.Table, vec, limit, threshold)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for _, m := range matches {
		fmt.Printf("%.3f  %s  %s\n", m.Similarity, m.Key, m.Content)
	}
	return nil
}

// ReembedCmd backfills embeddings and mirrors them into the vector index.
type ReembedCmd struct {
	Tables []string `arg:"" optional:"" name:"table" help:"Tables to process (default: all)."`
	All    bool     `help:"Refresh rows that already have an embedding."`
}

func (c *ReembedCmd) Run(cli *CLI) error {
	ctx, cancel := signalContext()
	defer cancel()

	app, err := openApp(ctx, cli)
	if err != nil {
		return err
	}
	defer app.Close()

	tables := c.Tables
	if len(tables) == 0 {
		tables = store.TableNames()
	}

	var errs []error
	for _, table := range tables {
		stats, err := app.Store.Reembed(ctx, table, app.Embedder, store.ReembedOptions{
			All:        c.All,
			OnEmbedded: app.Retriever.Mirror,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fmt.Printf("%-20s updated=%d failed=%d skipped=%d\n", stats.Table, stats.Updated, stats.Failed, stats.Skipped)
	}
	return errors.Join(errs...)
}

// ValidateCmd validates configuration.
type ValidateCmd struct {
	Print bool `help:"Print the resolved configuration with secrets masked."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, loader, err := loadConfig(context.Background(), cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Print {
		resolved := *cfg
		resolved.LLM.APIKey = mask(resolved.LLM.APIKey)
		resolved.Embedder.APIKey = mask(resolved.Embedder.APIKey)
		resolved.Database.Password = mask(resolved.Database.Password)
		data, err := yaml.Marshal(&resolved)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	}

	source := cli.Config
	if source == "" {
		source = "defaults and environment"
	}
	fmt.Printf("Configuration is valid (%s): %d experts, llm=%s, database=%s\n",
		source, len(expert.Catalog(cfg.Experts)), cfg.LLM.Provider, cfg.Database.Driver)
	return nil
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// openApp loads the config and builds the service graph for one-shot
// commands. The config file's logging section applies when no flag or
// environment variable overrides it.
func openApp(ctx context.Context, cli *CLI) (*App, error) {
	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return nil, err
	}
	if loader != nil {
		_ = loader.Close()
	}
	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat, cfg.Logging)
	if err != nil {
		return nil, err
	}
	app, err := buildApp(ctx, cfg, nil)
	if err != nil {
		cleanup()
		return nil, err
	}
	app.closers = append([]func() error{func() error { cleanup(); return nil }}, app.closers...)
	return app, nil
}
