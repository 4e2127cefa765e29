// Package di provides dependency injection container
package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ssargent/quill/pkg/api" //nolint:depguard
	"github.com/ssargent/quill/pkg/auth"
	"github.com/ssargent/quill/pkg/config"
	"github.com/ssargent/quill/pkg/dispatch"
	"github.com/ssargent/quill/pkg/events"
	"github.com/ssargent/quill/pkg/ledger"
	"github.com/ssargent/quill/pkg/snapshot"
	"github.com/ssargent/quill/pkg/storage"
)

// BackendFactory opens the storage backend
type BackendFactory func(opts storage.Options) (storage.Backend, error)

// Container holds all the dependencies for the application. Components are
// built on first use and closed in reverse order by Close.
type Container struct {
	config *config.Config
	logger *slog.Logger

	backendFactory BackendFactory
	serverFactory  api.ServerFactory

	mu         sync.Mutex
	backend    storage.Backend
	store      *ledger.Store
	bus        *events.Bus
	journal    *events.Journal
	metrics    *api.Metrics
	dispatcher *dispatch.Dispatcher
	now        func() time.Time
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *config.Config, logger *slog.Logger) *Container {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Container{
		config:         cfg,
		logger:         logger,
		backendFactory: storage.Open,
		serverFactory:  api.NewServerFactory(),
		now:            time.Now,
	}
}

// Config returns the configuration the container was built from
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the application logger
func (c *Container) Logger() *slog.Logger {
	return c.logger
}

// GetServerFactory returns the server factory
func (c *Container) GetServerFactory() api.ServerFactory {
	return c.serverFactory
}

// SetServerFactory allows overriding the server factory (for testing)
func (c *Container) SetServerFactory(factory api.ServerFactory) {
	c.serverFactory = factory
}

// SetBackendFactory allows overriding how the backend is opened (for testing)
func (c *Container) SetBackendFactory(factory BackendFactory) {
	c.backendFactory = factory
}

// Backend opens the configured storage backend
func (c *Container) Backend() (storage.Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backendLocked()
}

func (c *Container) backendLocked() (storage.Backend, error) {
	if c.backend != nil {
		return c.backend, nil
	}
	backend, err := c.backendFactory(storage.Options{
		Kind: c.config.Storage.Backend,
		Dir:  c.config.DataDir,
		Sync: c.config.Storage.Sync,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", c.config.Storage.Backend, err)
	}
	c.backend = backend
	return backend, nil
}

// Ledger opens the post store. With migration.auto set, a pending schema
// migration runs before Ledger returns.
func (c *Container) Ledger(ctx context.Context) (*ledger.Store, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ledgerLocked(ctx)
}

func (c *Container) ledgerLocked(ctx context.Context) (*ledger.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	backend, err := c.backendLocked()
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(ctx, backend, ledger.Options{Logger: c.logger.With("component", "ledger")})
	if err != nil {
		return nil, err
	}
	c.store = store

	if store.MigrationPending() && c.config.Migration.Auto {
		if _, _, err := c.migrateLocked(ctx, MigrateOptions{Backup: c.config.Migration.Backup}); err != nil {
			return nil, fmt.Errorf("automatic migration failed: %w", err)
		}
	}
	return store, nil
}

// MigrateOptions controls Migrate
type MigrateOptions struct {
	Backup bool
	DryRun bool
}

// Migrate upgrades stored posts to the current schema, optionally writing a
// snapshot first. It returns the report and the backup path, if any.
func (c *Container) Migrate(ctx context.Context, opts MigrateOptions) (*ledger.MigrationReport, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.ledgerLocked(ctx); err != nil {
		return nil, "", err
	}
	return c.migrateLocked(ctx, opts)
}

func (c *Container) migrateLocked(ctx context.Context, opts MigrateOptions) (*ledger.MigrationReport, string, error) {
	var backupPath string
	if opts.Backup && !opts.DryRun && c.store.MigrationPending() {
		backupPath = c.config.BackupPath(c.now())
		header, err := snapshot.WriteFile(ctx, c.backend, backupPath)
		if err != nil {
			return nil, "", fmt.Errorf("pre-migration backup failed: %w", err)
		}
		c.logger.Info("wrote pre-migration backup", "path", backupPath, "entries", header.Entries)
	}

	report, err := c.store.Migrate(ctx, ledger.MigrateOptions{DryRun: opts.DryRun})
	if err != nil {
		return nil, backupPath, err
	}
	return report, backupPath, nil
}

// Authenticator builds the origin authenticator for the configured auth mode
func (c *Container) Authenticator() (auth.Authenticator, error) {
	static, err := c.config.StaticIdentities()
	if err != nil {
		return nil, err
	}
	token := &auth.TokenAuthenticator{MaxAge: c.config.Auth.MaxTokenAge, Leeway: 5 * time.Second}

	switch c.config.Auth.Mode {
	case config.AuthModeToken:
		return token, nil
	case config.AuthModeStatic:
		return auth.NewStaticAuthenticator(static), nil
	case config.AuthModeBoth:
		return auth.Chain{auth.NewStaticAuthenticator(static), token}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", c.config.Auth.Mode)
	}
}

// Bus returns the in-process event bus
func (c *Container) Bus() *events.Bus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bus == nil {
		c.bus = events.NewBus()
	}
	return c.bus
}

// Journal opens the event journal, or returns nil when it is disabled
func (c *Container) Journal() (*events.Journal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.journalLocked()
}

func (c *Container) journalLocked() (*events.Journal, error) {
	if c.journal != nil {
		return c.journal, nil
	}
	path := c.config.JournalPath()
	if path == "" {
		return nil, nil
	}
	journal, recovery, err := events.OpenJournal(events.JournalConfig{
		FilePath:      path,
		FsyncInterval: c.config.Events.FsyncInterval,
		Logger:        c.logger.With("component", "journal"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open event journal: %w", err)
	}
	c.logger.Debug("event journal opened",
		"path", path,
		"entries", recovery.EntriesValidated,
		"recovery_time", recovery.RecoveryTime)
	c.journal = journal
	return journal, nil
}

// Metrics returns the API metrics
func (c *Container) Metrics() *api.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.metrics == nil {
		c.metrics = api.NewMetrics()
	}
	return c.metrics
}

// Dispatcher builds the call dispatcher, emitting events to the bus and the
// journal
func (c *Container) Dispatcher(ctx context.Context) (*dispatch.Dispatcher, error) {
	authn, err := c.Authenticator()
	if err != nil {
		return nil, err
	}
	bus := c.Bus()
	metrics := c.Metrics()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dispatcher != nil {
		return c.dispatcher, nil
	}

	store, err := c.ledgerLocked(ctx)
	if err != nil {
		return nil, err
	}
	journal, err := c.journalLocked()
	if err != nil {
		return nil, err
	}

	sinks := []events.Sink{bus}
	if journal != nil {
		sinks = append(sinks, journal)
	}

	c.dispatcher = dispatch.New(store, authn, events.Fanout(sinks...),
		dispatch.WithLogger(c.logger.With("component", "dispatch")),
		dispatch.WithObserver(metrics),
	)
	return c.dispatcher, nil
}

// Server builds the API server
func (c *Container) Server(ctx context.Context) (*api.Server, error) {
	d, err := c.Dispatcher(ctx)
	if err != nil {
		return nil, err
	}
	store, err := c.Ledger(ctx)
	if err != nil {
		return nil, err
	}
	return api.NewServer(d, store, c.Bus(), c.Metrics(), c.logger.With("component", "api")), nil
}

// ServerConfig derives the API server configuration
func (c *Container) ServerConfig() api.ServerConfig {
	return api.ServerConfig{
		Bind:            c.config.Server.Bind,
		Port:            c.config.Server.Port,
		CORSOrigins:     c.config.Server.CORSOrigins,
		Logger:          c.logger,
		StatsInterval:   30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Close releases every opened component
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.bus != nil {
		c.bus.Close()
	}
	if c.journal != nil {
		if err := c.journal.Close(); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
		c.journal = nil
	}
	if c.backend != nil {
		if err := c.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
		c.backend = nil
	}
	c.store = nil
	c.dispatcher = nil
	return errors.Join(errs...)
}

// NewLogger builds the application logger from the logging configuration
func NewLogger(w io.Writer, cfg config.Logging) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
