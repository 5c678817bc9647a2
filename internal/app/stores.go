package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/config"
	"carbon-scribe/mrv-registry/internal/credits"
	"carbon-scribe/mrv-registry/internal/fielddata"
	"carbon-scribe/mrv-registry/internal/projects"
	"carbon-scribe/mrv-registry/internal/store/memstore"
	"carbon-scribe/mrv-registry/internal/store/mongostore"
	"carbon-scribe/mrv-registry/internal/store/pgstore"
)

// Repositories is the record store selected by configuration.
type Repositories struct {
	Projects     projects.Repository
	FieldData    fielddata.Repository
	Credits      credits.Repository
	Attestations attestation.Repository

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// Ping checks the backing database.
func (r *Repositories) Ping(ctx context.Context) error {
	if r.ping == nil {
		return nil
	}
	return r.ping(ctx)
}

// Close releases the backing connection.
func (r *Repositories) Close(ctx context.Context) error {
	if r.close == nil {
		return nil
	}
	return r.close(ctx)
}

// OpenRepositories connects to the configured driver and prepares its
// schema or indexes.
func OpenRepositories(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Repositories, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = store.Close(ctx)
			return nil, err
		}
		return &Repositories{
			Projects:     store.Projects,
			FieldData:    store.FieldData,
			Credits:      store.Credits,
			Attestations: store.Attestations,
			ping:         store.Ping,
			close:        store.Close,
		}, nil

	case config.DriverPostgres:
		store, err := pgstore.Open(cfg.GetDatabaseURL(), cfg.MaxConnections, cfg.MaxIdleConns, logger)
		if err != nil {
			return nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return &Repositories{
			Projects:     store.Projects,
			FieldData:    store.FieldData,
			Credits:      store.Credits,
			Attestations: store.Attestations,
			ping:         store.Ping,
			close:        func(context.Context) error { return store.Close() },
		}, nil

	case config.DriverMemory, "":
		logger.Warn("Using in-memory store, records are lost on restart")
		store := memstore.New()
		return &Repositories{
			Projects:     store.Projects,
			FieldData:    store.FieldData,
			Credits:      store.Credits,
			Attestations: store.Attestations,
		}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}
