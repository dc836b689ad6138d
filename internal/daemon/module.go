package daemon

import (
	"context"

	"github.com/matheus3301/wxm/internal/api"
	"github.com/matheus3301/wxm/internal/bus"
	"github.com/matheus3301/wxm/internal/config"
	"github.com/matheus3301/wxm/internal/dispatch"
	"github.com/matheus3301/wxm/internal/lock"
	"github.com/matheus3301/wxm/internal/logging"
	"github.com/matheus3301/wxm/internal/session"
	"github.com/matheus3301/wxm/internal/status"
	"github.com/matheus3301/wxm/internal/store"
	intsync "github.com/matheus3301/wxm/internal/sync"
	"github.com/matheus3301/wxm/internal/wx"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Program is the name recorded in the session lock and used for the log file.
const Program = "wxmd"

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string         // optional override for testing; empty = use default
	Remote      intsync.Remote // optional override for testing; nil = dial with session credentials
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideMirror,
			provideDispatcher,
			provideRemote,
			provideSessionState,
			provideSyncEngine,
			provideHealth,
			provideMirrorService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName, Program), p.SessionName, logging.Options{
		Level:  cfg.Log.Level,
		Stderr: true,
	})
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
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName), Program)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open()
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("mirror initialized", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	return db, nil
}

func provideMirror(db *store.DB, logger *zap.Logger) *store.Mirror {
	return store.NewMirror(db, logger.Named("mirror"))
}

func provideDispatcher(mirror *store.Mirror, b *bus.Bus, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(mirror, b, logger.Named("dispatch"))
}

func provideRemote(p Params, logger *zap.Logger) (intsync.Remote, error) {
	if p.Remote != nil {
		return p.Remote, nil
	}
	creds, err := config.LoadCredentials(session.CredentialsPath(p.SessionName), session.EnvPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	client, err := wx.NewClient(creds, logger.Named("wx"))
	if err != nil {
		return nil, err
	}
	logger.Info("session credentials loaded", zap.Int64("uin", creds.Uin))
	return client, nil
}

func provideSessionState() *session.State {
	return session.NewState()
}

func provideSyncEngine(remote intsync.Remote, state *session.State, d *dispatch.Dispatcher, m *status.Machine, cfg *config.Config, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(remote, state, d, m, logger.Named("sync"), intsync.Options{
		PollInterval: cfg.Sync.PollInterval.Duration,
		PageSize:     cfg.Sync.PageSize,
	})
}

func provideHealth(b *bus.Bus, m *status.Machine, logger *zap.Logger) *api.HealthReporter {
	return api.NewHealthReporter(b, m, logger.Named("health"))
}

func provideMirrorService(p Params, db *store.DB, m *status.Machine, engine *intsync.Engine) *api.MirrorService {
	return api.NewMirrorService(p.SessionName, db, m, engine)
}

type lifecycleParams struct {
	fx.In

	Lifecycle  fx.Lifecycle
	Shutdowner fx.Shutdowner
	Server     *Server
	Lock       *lock.Lock
	DB         *store.DB
	Dispatcher *dispatch.Dispatcher
	Engine     *intsync.Engine
	Health     *api.HealthReporter
	Logger     *zap.Logger
}

func registerLifecycle(lp lifecycleParams) {
	logger := lp.Logger
	lp.Lifecycle.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			lp.Dispatcher.Start(context.Background())
			lp.Health.Start(context.Background())

			// Start gRPC server in background.
			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			lp.Engine.Start(context.Background())
			go watchEngine(lp.Engine, lp.Shutdowner, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			lp.Engine.Stop()
			// Deliver what the engine already queued before closing the mirror.
			lp.Dispatcher.Stop()
			lp.Health.Stop()
			lp.Server.Stop(ctx)

			err := lp.DB.Close()
			err = multierr.Append(err, lp.Lock.Release())
			if err != nil {
				logger.Warn("error during shutdown", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// watchEngine shuts the daemon down once the sync loop ends on its own.
func watchEngine(engine *intsync.Engine, sd fx.Shutdowner, logger *zap.Logger) {
	<-engine.Done()
	err := engine.Err()
	if err == nil {
		return
	}
	logger.Error("sync engine exited, shutting down", zap.Error(err))
	if serr := sd.Shutdown(fx.ExitCode(1)); serr != nil {
		logger.Warn("shutdown request failed", zap.Error(serr))
	}
}
