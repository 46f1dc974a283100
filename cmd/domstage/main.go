// Command domstage stages ephemeral visual edits against a live page or a
// static HTML snapshot: select a target, capture style patches, undo and
// redo with identity re-verification, export versioned artifacts, and
// optionally hand the artifact to a generation provider.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domstage/credstore"
	"github.com/hazyhaar/domstage/dbopen"
	"github.com/hazyhaar/domstage/httpapi"
	"github.com/hazyhaar/domstage/livedoc"
	"github.com/hazyhaar/domstage/provider"
	"github.com/hazyhaar/domstage/session"
	"github.com/hazyhaar/domstage/snapdoc"
	"github.com/hazyhaar/domstage/stage"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file")
		snapshot   = flag.String("snapshot", "", "stage against a static HTML snapshot file")
		pageURL    = flag.String("url", "", "stage against a live page (launches Chrome)")
		listen     = flag.String("listen", env("LISTEN_ADDR", ""), "HTTP listen address (empty = no HTTP)")
		mcpStdio   = flag.Bool("mcp", false, "serve MCP tools over stdio")
		headless   = flag.Bool("headless", true, "run the browser headless")
		logLevel   = flag.String("log-level", env("LOG_LEVEL", "info"), "debug|info|warn|error")
	)
	flag.Parse()

	var lvl slog.Level
	switch *logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	out := os.Stdout
	if *mcpStdio {
		// stdout belongs to the MCP transport.
		out = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if err := run(logger, *configPath, *snapshot, *pageURL, *listen, *mcpStdio, *headless); err != nil {
		logger.Error("domstage", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger, configPath, snapshot, pageURL, listen string, mcpStdio, headless bool) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := &stage.Config{}
	if configPath != "" {
		loaded, err := stage.LoadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}

	doc, closeDoc, err := openDocument(ctx, logger, snapshot, pageURL, headless)
	if err != nil {
		return err
	}
	defer closeDoc()

	machine, closeMachine, err := buildMachine(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closeMachine()

	st, err := stage.NewFromConfig(doc, machine, cfg, stage.WithLogger(logger))
	if err != nil {
		return err
	}
	defer st.CloseStore()

	if listen == "" && !mcpStdio {
		return errors.New("nothing to serve: pass -listen and/or -mcp")
	}

	errCh := make(chan error, 2)

	if listen != "" {
		api := httpapi.New(st, logger)
		srv := &http.Server{
			Addr:              listen,
			Handler:           api.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("http: listening", "addr", listen)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http: %w", err)
			}
		}()
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			srv.Shutdown(shutCtx)
		}()
	}

	if mcpStdio {
		srv := mcp.NewServer(&mcp.Implementation{Name: "domstage", Version: "1.0.0"}, nil)
		st.RegisterMCP(srv)
		go func() {
			logger.Info("mcp: serving on stdio")
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("mcp: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

// openDocument builds the document adapter: a parsed snapshot file or a
// live Chrome page. Exactly one of the two modes must be chosen.
func openDocument(ctx context.Context, logger *slog.Logger, snapshot, pageURL string, headless bool) (stage.Document, func(), error) {
	switch {
	case snapshot != "" && pageURL != "":
		f, err := os.Open(snapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		doc, err := snapdoc.Parse(f, pageURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("staging against snapshot", "file", snapshot, "url", pageURL)
		return doc, func() {}, nil

	case snapshot != "":
		f, err := os.Open(snapshot)
		if err != nil {
			return nil, nil, fmt.Errorf("open snapshot: %w", err)
		}
		defer f.Close()
		doc, err := snapdoc.Parse(f, "file://"+snapshot)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("staging against snapshot", "file", snapshot)
		return doc, func() {}, nil

	case pageURL != "":
		doc, err := livedoc.Open(ctx, livedoc.Config{
			RemoteURL: env("CHROME_URL", ""),
			Headless:  headless,
			Stealth:   true,
			Logger:    logger,
		}, pageURL)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("staging against live page", "url", pageURL)
		return doc, func() { doc.Close() }, nil

	default:
		return nil, nil, errors.New("pass -snapshot or -url")
	}
}

// buildMachine wires the credential store, the provider client, and the
// execution state machine. Generation stays disabled (nil machine) when
// the deployment secret or the provider base URL is missing.
func buildMachine(ctx context.Context, logger *slog.Logger, cfg *stage.Config) (*session.Machine, func(), error) {
	secret := os.Getenv("DOMSTAGE_SECRET")
	if secret == "" {
		logger.Info("generation disabled: DOMSTAGE_SECRET not set")
		return nil, func() {}, nil
	}
	if cfg.Provider.BaseURL == "" {
		logger.Info("generation disabled: no provider base_url configured")
		return nil, func() {}, nil
	}

	credsPath := cfg.CredentialsDB
	if credsPath == "" {
		credsPath = cfg.ArtifactDB
	}
	db, err := dbopen.Open(credsPath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, nil, fmt.Errorf("open credentials db: %w", err)
	}
	creds, err := credstore.New(db, secret, credstore.WithLogger(logger))
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	client, err := provider.New(provider.Config{
		BaseURL:    cfg.Provider.BaseURL,
		Model:      cfg.Provider.Model,
		Timeout:    cfg.Provider.Timeout,
		MaxRetries: cfg.Provider.MaxRetries,
		Logger:     logger,
	})
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	machine := session.New(creds, client.Generate,
		session.WithLogger(logger),
		session.WithTimeout(cfg.Provider.Timeout),
	)
	if err := machine.Restore(ctx); err != nil {
		logger.Warn("session restore", "error", err)
	}
	return machine, func() { db.Close() }, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
