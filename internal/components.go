package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/starford/galleria/internal/content"
	"github.com/starford/galleria/internal/gallery"
	"github.com/starford/galleria/internal/identity"
	"github.com/starford/galleria/internal/metadata"
	"github.com/starford/galleria/internal/session"
)

const providerInitTimeout = 10 * time.Second

// components are the long-lived collaborators shared by every entry point.
type components struct {
	sessions  session.Store
	metadata  metadata.Store
	content   content.Source
	fsContent *content.FSSource // nil unless content.source is fs
	provider  *identity.Provider
	allowList identity.AllowList

	closers []io.Closer
}

func (c *components) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// galleryDeps returns the session dependencies built from c.
func (c *components) galleryDeps(cfg *Config, events gallery.Publisher, logger *slog.Logger) gallery.Deps {
	return gallery.Deps{
		Store:     c.sessions,
		Provider:  c.provider,
		AllowList: c.allowList,
		Metadata:  c.metadata,
		Content:   c.content,
		Prefix:    cfg.Content.URLPrefix,
		Freshness: cfg.Session.ManifestTTL,
		PageSize:  cfg.Gallery.PageSize,
		Events:    events,
		Logger:    logger,
	}
}

func openComponents(ctx context.Context, cfg *Config, logger *slog.Logger) (_ *components, err error) {
	c := &components{}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	if c.sessions, err = openSessionStore(cfg.Session); err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	c.closers = append(c.closers, c.sessions)

	emails, err := c.openMetadata(ctx, cfg.Metadata, logger)
	if err != nil {
		return nil, fmt.Errorf("init metadata store: %w", err)
	}

	if err := c.openContent(cfg.Content, logger); err != nil {
		return nil, fmt.Errorf("init content source: %w", err)
	}

	switch cfg.Auth.AllowListSource {
	case AllowListStore:
		c.allowList = identity.NewSourceAllowList(emails)
	default:
		c.allowList = identity.NewStaticAllowList(cfg.Auth.AllowedEmails)
	}

	c.provider = identity.NewProvider(cfg.Auth.Issuer, cfg.Auth.VerifySignature, logger)
	initCtx, cancel := context.WithTimeout(ctx, providerInitTimeout)
	defer cancel()
	if err := c.provider.Initialize(initCtx, cfg.Auth.ClientID); err != nil {
		// Retried lazily by /api/auth/config.
		logger.Warn("identity provider unavailable", slog.String("error", err.Error()))
	}

	return c, nil
}

func openSessionStore(cfg SessionConfig) (session.Store, error) {
	switch cfg.Backend {
	case SessionSQLite:
		return session.OpenSQLite(cfg.SQLite.Path, cfg.TTL)
	case SessionRedis:
		return session.NewRedis(cfg.Redis.URL, cfg.TTL)
	default:
		return session.NewMemory(cfg.TTL), nil
	}
}

func (c *components) openMetadata(ctx context.Context, cfg MetadataConfig, logger *slog.Logger) (identity.EmailSource, error) {
	switch cfg.Backend {
	case MetadataSheets:
		sheets, err := metadata.NewSheets(ctx, cfg.Sheets.SheetsConfig(), logger)
		if err != nil {
			return nil, err
		}
		c.metadata = sheets
		return sheets, nil
	default:
		db, err := metadata.OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db)
		c.metadata = db
		return db, nil
	}
}

func (c *components) openContent(cfg ContentConfig, logger *slog.Logger) error {
	switch cfg.Source {
	case ContentHTTP:
		c.content = content.NewHTTPSource(cfg.HTTP.BaseURL, cfg.URLPrefix, cfg.HTTP.Candidates, cfg.HTTP.Timeout, logger)
	case ContentS3:
		src, err := content.NewS3Source(content.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Bucket:    cfg.S3.Bucket,
			Prefix:    cfg.S3.Prefix,
			UseSSL:    cfg.S3.UseSSL,
		}, cfg.URLPrefix)
		if err != nil {
			return err
		}
		c.content = src
	default:
		if err := os.MkdirAll(cfg.FS.Path, 0o755); err != nil {
			return fmt.Errorf("create content dir: %w", err)
		}
		src, err := content.NewFSSource(cfg.FS.Path, cfg.URLPrefix)
		if err != nil {
			return err
		}
		c.content = src
		c.fsContent = src
	}
	return nil
}

func newLogger(app *application) *slog.Logger {
	out := app.logOutput
	if out == nil {
		out = os.Stdout
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}
