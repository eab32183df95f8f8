package daemon

import (
	"context"

	"github.com/courierlink/courier/internal/api"
	"github.com/courierlink/courier/internal/bus"
	"github.com/courierlink/courier/internal/config"
	"github.com/courierlink/courier/internal/ledger"
	"github.com/courierlink/courier/internal/logging"
	"github.com/courierlink/courier/internal/pairing"
	"github.com/courierlink/courier/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved daemon configuration passed to the fx module.
type Params struct {
	Config *config.Config
}

// Module returns the fx module for the relay daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideStore,
			provideBus,
			provideCoordinator,
			provideLedger,
			provideResolver,
			provideAPI,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.Config.Server.LogPath, "courierd")
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	db, err := store.Open(p.Config.Server.DatabasePath)
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

	for _, id := range p.Config.Server.Identities {
		if err := db.UpsertIdentity(id.ID, id.Token); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	logger.Info("store initialized",
		zap.String("path", p.Config.Server.DatabasePath),
		zap.Int("identities", len(p.Config.Server.Identities)))
	return db, nil
}

func provideBus(p Params) *bus.Bus {
	return bus.New(p.Config.Server.SubscriberBuffer)
}

func provideCoordinator(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *pairing.Coordinator {
	return pairing.NewCoordinator(db, b, p.Config.Server.PairingTTL(), logger)
}

func provideLedger(db *store.DB, b *bus.Bus, logger *zap.Logger) *ledger.Service {
	return ledger.NewService(db, b, logger)
}

func provideResolver(db *store.DB) api.IdentityResolver {
	return &api.StoreResolver{DB: db}
}

func provideAPI(db *store.DB, coordinator *pairing.Coordinator, ledgerSvc *ledger.Service, resolver api.IdentityResolver, logger *zap.Logger) *api.API {
	return api.New(db, coordinator, ledgerSvc, resolver, logger)
}

func provideServer(p Params, a *api.API, logger *zap.Logger) *Server {
	return NewServer(p.Config.Server.ListenAddr, a, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
