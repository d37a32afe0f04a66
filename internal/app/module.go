package app

import (
	"context"
	"errors"
	"time"

	"github.com/loomchat/loom/internal/archive"
	"github.com/loomchat/loom/internal/bus"
	"github.com/loomchat/loom/internal/config"
	"github.com/loomchat/loom/internal/lock"
	"github.com/loomchat/loom/internal/logging"
	"github.com/loomchat/loom/internal/profile"
	"github.com/loomchat/loom/internal/reconcile"
	"github.com/loomchat/loom/internal/rest"
	"github.com/loomchat/loom/internal/status"
	"github.com/loomchat/loom/internal/store"
	"github.com/loomchat/loom/internal/transport"
	"github.com/loomchat/loom/internal/tui"
	"github.com/loomchat/loom/internal/tui/model"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Token is the profile's bearer token, empty when signed out.
type Token struct {
	Value string
}

// Module returns the fx module for the client, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideToken,
			provideRESTClient,
			provideSelf,
			provideArchive,
			provideArchiver,
			provideStore,
			provideAdapter,
			provideReconciler,
			provideViewModel,
			provideTUI,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	// The TUI owns the terminal, so logs go to the profile's file only.
	return logging.NewFileOnly(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		return nil, err
	}
	logger.Info("config loaded",
		zap.String("api_base_url", cfg.APIBaseURL),
		zap.String("socket_url", cfg.SocketURL))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideToken(p Params, logger *zap.Logger) Token {
	token, err := profile.LoadToken(p.ProfileName)
	if err != nil {
		if !errors.Is(err, profile.ErrNoToken) {
			logger.Warn("token read failed", zap.Error(err))
		}
		logger.Info("no token on disk, sign-in required")
		return Token{}
	}
	return Token{Value: token}
}

func provideRESTClient(cfg *config.Config, t Token) *rest.Client {
	return rest.New(cfg.APIBaseURL, t.Value)
}

// provideSelf resolves the authenticated user's id, needed to tell own
// message echoes from inbound ones. A failure leaves the id at zero;
// the auth notice surfacing is the transport's job.
func provideSelf(c *rest.Client, logger *zap.Logger) rest.User {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	me, err := c.Me(ctx)
	if err != nil {
		logger.Warn("profile fetch failed", zap.Error(err))
		return rest.User{}
	}
	logger.Info("signed in", zap.Int64("user_id", me.ID))
	return me
}

func provideArchive(p Params, logger *zap.Logger) (*archive.DB, error) {
	dbPath := profile.ArchiveDBPath(p.ProfileName)
	db, err := archive.Open(dbPath)
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
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideArchiver(db *archive.DB, b *bus.Bus, logger *zap.Logger) *archive.Archiver {
	return archive.NewArchiver(db, b, logger)
}

func provideStore(b *bus.Bus) *store.Store {
	return store.New(b)
}

func provideAdapter(cfg *config.Config, t Token, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *transport.Adapter {
	return transport.NewAdapter(cfg.SocketURL, t.Value, b, machine, logger)
}

func provideReconciler(s *store.Store, c *rest.Client, adapter *transport.Adapter, b *bus.Bus, self rest.User, logger *zap.Logger) *reconcile.Reconciler {
	return reconcile.New(s, c, adapter, b, self.ID, logger)
}

func provideViewModel(s *store.Store, rec *reconcile.Reconciler, c *rest.Client, db *archive.DB, b *bus.Bus, machine *status.Machine, self rest.User) *model.ViewModel {
	return model.NewViewModel(s, rec, c, db, b, machine, self.ID)
}

func provideTUI(p Params, vm *model.ViewModel, logger *zap.Logger) *tui.App {
	onSignOut := func() {
		if err := profile.ClearToken(p.ProfileName); err != nil {
			logger.Warn("token clear failed", zap.Error(err))
		}
	}
	return tui.NewApp(vm, p.ProfileName, logger, onSignOut)
}

func registerLifecycle(lc fx.Lifecycle, sh fx.Shutdowner, ui *tui.App, rec *reconcile.Reconciler, adapter *transport.Adapter, archiver *archive.Archiver, db *archive.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The archiver and reconciler consume bus events, so they
			// subscribe before the transport dials.
			archiver.Start(context.Background())
			rec.Start(context.Background())
			adapter.Start(context.Background())

			go func() {
				if err := ui.Run(); err != nil {
					logger.Error("tui error", zap.Error(err))
				}
				_ = sh.Shutdown()
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			ui.Stop()
			adapter.Stop()
			rec.Stop()
			archiver.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("archive close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
