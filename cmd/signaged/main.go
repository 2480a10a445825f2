package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/genricoloni/signage/internal/announce"
	"github.com/genricoloni/signage/internal/cache"
	"github.com/genricoloni/signage/internal/config"
	"github.com/genricoloni/signage/internal/domain"
	"github.com/genricoloni/signage/internal/executor"
	"github.com/genricoloni/signage/internal/fetcher"
	"github.com/genricoloni/signage/internal/metrics"
	"github.com/genricoloni/signage/internal/playback"
	"github.com/genricoloni/signage/internal/player"
	"github.com/genricoloni/signage/internal/processor"
	"github.com/genricoloni/signage/internal/session"
	"github.com/genricoloni/signage/internal/store"
	"github.com/genricoloni/signage/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AppOptions is the full dependency graph of the client
var AppOptions = fx.Options(
	fx.Provide(
		newLogger,
		fx.Annotate(config.NewAppConfig, fx.As(new(domain.Config))),
		config.NewDeviceStore,

		// Control server
		newScheduleClient,
		fx.Annotate(transport.NewDialer, fx.As(new(transport.Dialer))),
		newStore,

		// Media
		fx.Annotate(fetcher.NewTTSClient, fx.As(new(domain.Synthesizer))),
		newMediaCache,
		newImageFitter,
		fx.Annotate(player.NewVLCPlayer, fx.As(new(domain.MediaPlayer))),
		newController,
		newAnnouncer,

		// Host
		fx.Annotate(executor.NewExecutor,
			fx.As(new(domain.DisplayApplier)),
			fx.As(new(domain.VolumeController)),
			fx.As(new(domain.AudioPlayer)),
		),
		executor.NewScreenResolution,

		newSession,
		metrics.NewServer,
	),
	fx.Invoke(registerHooks),
)

func main() {
	app := fx.New(
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		AppOptions,
	)
	if err := app.Err(); err != nil {
		exitOnError(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		exitOnError(err)
	}

	<-ctx.Done()

	if err := app.Stop(context.Background()); err != nil {
		panic(err)
	}
}

// exitOnError reports operator-fixable configuration problems without a stack trace
func exitOnError(err error) {
	if errors.Is(err, config.ErrTemplateCreated) || errors.Is(err, config.ErrMissingAPIKey) {
		fmt.Fprintf(os.Stderr, "signaged: %v\n", err)
		os.Exit(1)
	}
	panic(err)
}

// newLogger creates the production logger. SIGNAGE_LOG_LEVEL overrides the level.
func newLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if raw := os.Getenv("SIGNAGE_LOG_LEVEL"); raw != "" {
		level, err := zapcore.ParseLevel(raw)
		if err != nil {
			return nil, fmt.Errorf("SIGNAGE_LOG_LEVEL: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(level)
	}
	return cfg.Build()
}

func newScheduleClient(logger *zap.Logger, dev *config.DeviceStore) *fetcher.ScheduleClient {
	snap := dev.Snapshot()
	return fetcher.NewScheduleClient(logger.Named("schedules"), snap.Host, snap.APIKey)
}

func newStore(cfg domain.Config) (*store.BoltStore, error) {
	return store.NewBoltStore(cfg.GetStorePath())
}

func newMediaCache(logger *zap.Logger, cfg domain.Config) domain.MediaResolver {
	return cache.New(logger.Named("cache"), cfg.GetCacheDir())
}

func newImageFitter(logger *zap.Logger, cfg domain.Config) domain.ImagePreparer {
	return processor.NewImageFitter(logger.Named("fit"), filepath.Join(cfg.GetCacheDir(), "fitted"))
}

func newController(
	logger *zap.Logger,
	mp domain.MediaPlayer,
	resolver domain.MediaResolver,
	images domain.ImagePreparer,
	screen *domain.ScreenResolution,
) *playback.Controller {
	return playback.NewController(logger.Named("playback"), mp, resolver, images, screen)
}

func newAnnouncer(
	logger *zap.Logger,
	synth domain.Synthesizer,
	audio domain.AudioPlayer,
	resolver domain.MediaResolver,
	volume domain.VolumeController,
) *announce.Announcer {
	return announce.New(logger.Named("announce"), synth, audio, resolver, volume)
}

func newSession(
	logger *zap.Logger,
	dev *config.DeviceStore,
	dialer transport.Dialer,
	schedules *fetcher.ScheduleClient,
	st *store.BoltStore,
	pb *playback.Controller,
	ann *announce.Announcer,
	display domain.DisplayApplier,
) *session.Session {
	return session.New(logger.Named("session"), dev, dialer, schedules, st, pb, ann, display)
}

// registerHooks sets up application lifecycle hooks.
// Hooks stop in reverse order: session, metrics, then the store.
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	st *store.BoltStore,
	srv *metrics.Server,
	sess *session.Session,
) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return st.Close()
		},
	})
	lc.Append(fx.Hook{
		OnStart: srv.Start,
		OnStop:  srv.Stop,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Signage client started")
			return sess.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Shutting down")
			return sess.Stop(ctx)
		},
	})
}
