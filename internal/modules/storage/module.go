package storage

import (
	"context"
	"fmt"
	"kis_trader/internal/modules/config"
	"kis_trader/internal/modules/storage/service"
	"kis_trader/internal/modules/storage/service/pg"
	"kis_trader/internal/modules/storage/service/sqlite"
	"kis_trader/pkg/db"
	"kis_trader/pkg/logger"

	"go.uber.org/fx"
)

// Module provides service.Store backed by postgres or sqlite, per storage.driver.
func Module() fx.Option {
	return fx.Module("storage",
		fx.Provide(
			NewStore,
			func(s service.Store) service.SessionStore { return s },
			func(s service.Store) service.CredentialStore { return s },
			func(s service.Store) service.StockStore { return s },
		),
		fx.Invoke(func(lc fx.Lifecycle, s service.Store) {
			lc.Append(fx.Hook{
				OnStop: func(ctx context.Context) error {
					return s.Close()
				},
			})
		}),
	)
}

func NewStore(ctx context.Context, cfg *config.Config) (service.Store, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		logger.Info("[STORAGE] sqlite %s", cfg.Storage.SQLitePath)
		return sqlite.New(ctx, cfg.Storage.SQLitePath)
	default:
		poolMaster, err := db.NewPool(ctx, db.PoolConfig{
			DSN:      cfg.Storage.DSN,
			MaxConns: cfg.Storage.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create poolMaster: %w", err)
		}

		if err = poolMaster.Ping(ctx); err != nil {
			poolMaster.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}

		tx := db.NewPgTxManager(poolMaster)
		if err := tx.Migrate(ctx); err != nil {
			tx.Close()
			return nil, err
		}
		logger.Info("[STORAGE] postgres ready")
		return pg.New(tx), nil
	}
}
