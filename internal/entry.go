// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/galleria/internal/api"
	"github.com/starford/galleria/internal/content"
	"github.com/starford/galleria/internal/gallery"
	"github.com/starford/galleria/internal/mcpserver"
	"github.com/starford/galleria/internal/sse"
)

// mcpSessionID is the session the MCP server acts in.
const mcpSessionID = "mcp"

// Run starts the HTTP service with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(app)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("content_source", cfg.Content.Source),
		slog.String("metadata_backend", cfg.Metadata.Backend),
		slog.String("session_backend", cfg.Session.Backend),
		slog.String("allow_list_source", cfg.Auth.AllowListSource),
		slog.String("log_level", cfg.App.LogLevel.String()))

	comps, err := openComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	// Event broker: per-session topics plus throttled content broadcasts.
	broker := sse.NewBroker(cfg.Content.ChangeThrottle)
	defer broker.Close()

	sessions := gallery.NewSessions(comps.galleryDeps(cfg, broker, logger), cfg.Session.TTL)
	thumbnails := content.NewThumbnailer(comps.content, cfg.Gallery.ThumbnailSize)

	h := api.NewHandler(api.Deps{
		Sessions:   sessions,
		Provider:   comps.provider,
		ClientID:   cfg.Auth.ClientID,
		Content:    comps.content,
		Thumbnails: thumbnails,
		Events:     broker,
		Cookie: api.CookieConfig{
			Name:   cfg.App.HTTP.CookieName,
			Secure: cfg.App.HTTP.CookieSecure,
			MaxAge: cfg.Session.TTL,
		},
		ServiceToken: cfg.Auth.ServiceToken,
	})

	// Build chi router.
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
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := comps.sessions.Ping(req.Context()); err != nil {
			logger.Warn("readiness check failed", slog.String("error", err.Error()))
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(h))
	r.Mount(cfg.Content.URLPrefix, api.NewContentRouter(h))
	r.Mount("/thumbnails", api.NewThumbnailRouter(h))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Evict idle sessions and purge expired persisted state.
	g.Go(func() error {
		return sessions.Run(gCtx, cfg.Session.SweepInterval)
	})

	// Watch the content directory: drop stale thumbnails and notify clients.
	if comps.fsContent != nil && cfg.Content.FS.Watch {
		root := comps.fsContent.Root()
		g.Go(func() error {
			err := content.Watch(gCtx, root, logger, func(kind, rel string) {
				thumbnails.Invalidate(rel)
				broker.PublishContentChange(kind, content.PublicPath(cfg.Content.URLPrefix, rel))
			})
			if err != nil {
				// The gallery still works without live change notifications.
				logger.Warn("content watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
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

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the remaining run-group goroutines once the server
// has been shut down.
var errShutdown = errors.New("shutdown")

// RunMCP serves the gallery over MCP on stdin/stdout. Logs go to stderr.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	cfg := app.config
	logger := newLogger(app)

	comps, err := openComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer comps.Close()

	sessions := gallery.NewSessions(comps.galleryDeps(cfg, nil, logger), cfg.Session.TTL)
	sess := sessions.Get(ctx, mcpSessionID)

	var importer mcpserver.Importer
	if comps.fsContent != nil {
		importer = comps.fsContent
	}

	logger.Info("MCP server starting", slog.String("content_source", cfg.Content.Source))
	return mcpserver.New(sess.Gallery, importer).ServeStdio()
}

// BuildIndex writes index.json for the filesystem content root and returns
// the indexed paths.
func BuildIndex(ctx context.Context, opts ...Option) ([]string, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	cfg := app.config
	logger := newLogger(app)

	if cfg.Content.Source != ContentFS {
		return nil, fmt.Errorf("index: content source is %q, want %q", cfg.Content.Source, ContentFS)
	}
	src, err := content.NewFSSource(cfg.Content.FS.Path, cfg.Content.URLPrefix)
	if err != nil {
		return nil, err
	}
	paths, err := src.WriteIndex(ctx)
	if err != nil {
		return nil, err
	}
	logger.Info("index written",
		slog.String("root", src.Root()),
		slog.Int("photos", len(paths)))
	return paths, nil
}
