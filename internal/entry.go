// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"golang.org/x/sync/errgroup"

	"github.com/starford/krecord/internal/api"
	"github.com/starford/krecord/internal/index"
	"github.com/starford/krecord/internal/mcpserver"
	"github.com/starford/krecord/internal/migrate"
	"github.com/starford/krecord/internal/recordservice"
	"github.com/starford/krecord/internal/sse"
	"github.com/starford/krecord/internal/store"
	pkgconfig "github.com/starford/krecord/pkg/config"
)

const sheetsThrottle = 2 * time.Second

// newApplication applies opts and checks that a config was given.
func newApplication(opts []Option) (*application, error) {
	app := &application{logOutput: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// NewLogger builds the process logger: JSON by default, tint for console.
func NewLogger(cfg ApplicationConfig, w io.Writer) *slog.Logger {
	if cfg.LogFormat != LogFormatConsole {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: cfg.LogLevel,
		}))
	}
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
		w = colorable.NewColorable(f)
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      cfg.LogLevel,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	}))
}

// openStore resolves the data root and opens the store over it.
func openStore(cfg *Config, logger *slog.Logger, opts ...store.Option) (*store.Store, error) {
	opts = append([]store.Option{store.WithLogger(logger)}, opts...)
	if cfg.Data.Root != "" {
		if err := os.MkdirAll(cfg.Data.Root, 0o755); err != nil {
			return nil, fmt.Errorf("create data root: %w", err)
		}
		return store.Open(cfg.Data.Root, opts...)
	}
	return store.OpenFromSource(pkgconfig.NewRootFile(cfg.Data.RootFile), opts...)
}

// runtime is the set of components every command shares.
type runtime struct {
	logger *slog.Logger
	store  *store.Store
	db     *index.DB // nil when the index is disabled
	svc    *recordservice.Service
}

func (rt *runtime) Close() {
	if rt.db != nil {
		_ = rt.db.Close()
	}
}

func setup(app *application) (*runtime, error) {
	cfg := app.config
	logger := NewLogger(cfg.App, app.logOutput)
	slog.SetDefault(logger)

	var db *index.DB
	var opts []store.Option
	if cfg.Index.Enabled {
		var err error
		db, err = index.Open(cfg.Index.Path)
		if err != nil {
			return nil, fmt.Errorf("init index: %w", err)
		}
		opts = append(opts, store.WithLocator(db))
	}

	st, err := openStore(cfg, logger, opts...)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("data_root", st.Root()),
		slog.Bool("index_enabled", cfg.Index.Enabled),
		slog.String("index_path", cfg.Index.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	return &runtime{
		logger: logger,
		store:  st,
		db:     db,
		svc:    recordservice.New(st, db, logger),
	}, nil
}

// prepare migrates the root and brings the index up to date.
func (rt *runtime) prepare(ctx context.Context) {
	if _, err := rt.store.Prepare(ctx); err != nil {
		rt.logger.Warn("initial normalization failed", slog.String("error", err.Error()))
	}
	if rt.db == nil {
		return
	}
	if err := index.Sync(rt.db, rt.store, rt.logger); err != nil {
		rt.logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}
}

// Run starts the HTTP server and file watcher with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.Close()
	logger := rt.logger

	rt.prepare(ctx)

	broker := sse.NewBroker(sheetsThrottle)
	defer broker.Close()

	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.Watch.Enabled && rt.db != nil {
		g.Go(func() error {
			err := index.Watch(gCtx, rt.db, rt.store, logger, broker.HandleChange, index.WatchOptions{
				Normalize: cfg.Watch.Normalize,
				Debounce:  cfg.Watch.Debounce,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("file watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	} else if cfg.Watch.Enabled {
		logger.Warn("file watcher needs the index; watching disabled")
	}

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// Normalize runs one full migration and placement sweep and resyncs the index.
func Normalize(ctx context.Context, opts ...Option) (migrate.Report, error) {
	app, err := newApplication(opts)
	if err != nil {
		return migrate.Report{}, err
	}
	rt, err := setup(app)
	if err != nil {
		return migrate.Report{}, err
	}
	defer rt.Close()
	return rt.svc.Normalize(ctx)
}

// ServeMCP serves the MCP tools on stdio until the client disconnects.
func ServeMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	rt, err := setup(app)
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.prepare(ctx)
	return mcpserver.New(rt.svc).ServeStdio()
}
