// Package repository provides data access implementations
package repository

import (
	"context"

	"github.com/juju/errors"
	"go.uber.org/zap"

	"github.com/nrega-mitra/backend/internal/config"
	"github.com/nrega-mitra/backend/internal/entities"
)

// NregaRepository defines the persistence operations for district records
type NregaRepository interface {
	// ReplaceStateRecords deletes every record of the state and stores records in their place.
	ReplaceStateRecords(ctx context.Context, state string, records []entities.NregaRecord) error
	FindAll(ctx context.Context) ([]entities.NregaRecord, error)
	FindByState(ctx context.Context, state string) ([]entities.NregaRecord, error)
	// FindByDistrict returns every month stored for the district; districtKey is upper case.
	FindByDistrict(ctx context.Context, state, districtKey string) ([]entities.NregaRecord, error)
	DistinctDistricts(ctx context.Context, state string) ([]string, error)
	SaveRefreshRun(ctx context.Context, run entities.RefreshRun) error
	// LastRefreshRun returns a NotFound error when no run has been recorded.
	LastRefreshRun(ctx context.Context) (entities.RefreshRun, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Open creates the repository selected by the configuration
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (NregaRepository, error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		return NewMongoNregaRepositoryWithRetry(ctx, cfg.MongoURL, cfg.MongoDB, 5, logger)
	case config.DriverSQLite:
		return NewSQLiteNregaRepository(cfg.SQLitePath, logger)
	default:
		return nil, errors.NotSupportedf("store driver %q", cfg.StoreDriver)
	}
}
