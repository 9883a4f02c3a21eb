// Package app wires a session's components into an fx application.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/config"
	"github.com/matheus3301/wppsync/internal/correlate"
	"github.com/matheus3301/wppsync/internal/lock"
	"github.com/matheus3301/wppsync/internal/logging"
	"github.com/matheus3301/wppsync/internal/media"
	"github.com/matheus3301/wppsync/internal/pipeline"
	"github.com/matheus3301/wppsync/internal/session"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	intsync "github.com/matheus3301/wppsync/internal/sync"
	"github.com/matheus3301/wppsync/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	// Command is recorded in the session lock.
	Command string
	// Connect makes the app connect on start when credentials exist.
	Connect bool
}

// Module returns the fx module composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	if p.Config == nil {
		p.Config = config.Default()
	}
	return fx.Options(
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			l := &fxevent.ZapLogger{Logger: logger.Named("fx")}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Module("wppsync",
			fx.Supply(p),
			fx.Provide(
				provideLogger,
				provideBus,
				provideStateMachine,
				provideLock,
				provideStore,
				provideHistoryRouter,
				provideAdapter,
				provideSink,
				provideAcquirer,
				provideCorrelator,
				provideRunner,
			),
			fx.Invoke(registerLifecycle),
		),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Config.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Debug("acquiring session lock", zap.String("command", p.Command))
	return lock.Acquire(session.Dir(p.SessionName), p.Command)
}

// The lock is a parameter so the database is never opened by a second process.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	}
	logger.Debug("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideHistoryRouter(db *store.DB, logger *zap.Logger) *wa.HistoryRouter {
	return wa.NewHistoryRouter(db, logger.Named("history"))
}

func provideAdapter(p Params, _ *lock.Lock, router *wa.HistoryRouter, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), p.SessionName, router, b, logger.Named("wa"))
}

func provideSink(p Params, logger *zap.Logger) (media.Sink, error) {
	return NewSink(p.Config.Media, OutputDir(p), logger)
}

func provideAcquirer(p Params, adapter *wa.Adapter, sink media.Sink, b *bus.Bus, logger *zap.Logger) *media.Acquirer {
	m := p.Config.Media
	return media.NewAcquirer(adapter, sink, intsync.NewRatePacer(m.Delay), m.DownloadTimeout, b, logger.Named("media"))
}

func provideCorrelator(logger *zap.Logger) *correlate.Correlator {
	return correlate.New(correlate.DefaultOptions(), logger.Named("correlate"))
}

func provideRunner(p Params, adapter *wa.Adapter, c *correlate.Correlator, a *media.Acquirer, db *store.DB, b *bus.Bus, logger *zap.Logger) *pipeline.Runner {
	return pipeline.NewRunner(adapter, intsync.NewRatePacer(p.Config.Sync.BatchDelay), FetchOptions(p.Config.Sync), c, a, b, logger.Named("pipeline")).
		WithDB(db).
		WithOutputDir(OutputDir(p)).
		WithConcurrency(p.Config.Sync.Concurrency)
}

func registerLifecycle(lc fx.Lifecycle, p Params, lk *lock.Lock, db *store.DB, adapter *wa.Adapter, router *wa.HistoryRouter, machine *status.Machine, b *bus.Bus, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			handler := wa.NewEventHandler(b, machine, router, logger.Named("events"))
			adapter.RegisterEventHandler(handler.Handle)

			if !adapter.IsLoggedIn() {
				logger.Info("no credentials found, auth required")
				_ = machine.Transition(status.AuthRequired)
				return nil
			}
			if !p.Connect {
				return nil
			}
			_ = machine.Transition(status.Connecting)
			if err := adapter.Connect(); err != nil {
				_ = machine.Transition(status.Error)
				return fmt.Errorf("connect: %w", err)
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			adapter.Disconnect()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Debug("session closed")
			_ = logger.Sync()
			return nil
		},
	})
}

// OutputDir is where artifacts of the session go.
func OutputDir(p Params) string {
	if p.Config != nil && p.Config.Media.OutputDir != "" {
		return p.Config.Media.OutputDir
	}
	return session.OutputDir(p.SessionName)
}

// FetchOptions maps the sync config onto fetcher options.
func FetchOptions(c config.SyncConfig) intsync.Options {
	opts := intsync.DefaultOptions()
	if c.BatchSize > 0 {
		opts.BatchSize = c.BatchSize
	}
	if c.MaxBatches > 0 {
		opts.MaxBatches = c.MaxBatches
	}
	if c.FetchTimeout > 0 {
		opts.FetchTimeout = c.FetchTimeout
	}
	if c.FetchRetries > 0 {
		opts.FetchRetries = c.FetchRetries
	}
	opts.MediaOnly = c.MediaOnly
	return opts
}

// NewSink builds the media sink selected by the config.
func NewSink(c config.MediaConfig, outputDir string, logger *zap.Logger) (media.Sink, error) {
	switch c.Backend {
	case "", config.BackendDir:
		return media.NewDirSink(outputDir), nil
	case config.BackendS3:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		sink, err := media.NewObjectSink(ctx, media.ObjectConfig{
			Endpoint:  c.S3.Endpoint,
			Bucket:    c.S3.Bucket,
			Prefix:    c.S3.Prefix,
			AccessKey: c.S3.AccessKey,
			SecretKey: c.S3.SecretKey,
			Region:    c.S3.Region,
			UseSSL:    c.S3.UseSSL,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("media goes to object storage", zap.String("endpoint", c.S3.Endpoint), zap.String("bucket", c.S3.Bucket))
		return sink, nil
	default:
		return nil, fmt.Errorf("unknown media backend %q", c.Backend)
	}
}
