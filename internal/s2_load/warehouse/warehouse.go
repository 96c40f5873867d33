package warehouse

import (
	"context"
	"fmt"

	"github.com/wonny/finpipe/internal/contracts"
	"github.com/wonny/finpipe/pkg/config"
	"github.com/wonny/finpipe/pkg/database"
	"github.com/wonny/finpipe/pkg/logger"
)

// Store is a warehouse that also keeps the load_batches audit table
type Store interface {
	contracts.Warehouse
	contracts.BatchRepository
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*SQLite)(nil)
	_ Store = (*Memory)(nil)
)

// Open creates the store selected by WAREHOUSE_DRIVER and applies its schema
// ⭐ SSOT: 웨어하우스 백엔드 선택은 여기서만
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (Store, error) {
	var (
		store Store
		err   error
	)

	switch cfg.Warehouse.Driver {
	case "postgres":
		var db *database.DB
		db, err = database.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("connect warehouse: %w", err)
		}
		store = NewPostgres(db, log)
	case "sqlite":
		store, err = OpenSQLite(cfg.Warehouse.SQLitePath, log)
		if err != nil {
			return nil, err
		}
	case "memory":
		store = NewMemory()
	default:
		return nil, fmt.Errorf("unknown warehouse driver %q", cfg.Warehouse.Driver)
	}

	if err := store.EnsureSchema(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("ensure warehouse schema: %w", err)
	}

	log.WithField("driver", cfg.Warehouse.Driver).Info("Warehouse opened")
	return store, nil
}
