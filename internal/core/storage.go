package core

import (
	"io"

	"annocore/internal/infra/persistence/memory"
	"annocore/internal/infra/persistence/postgres"
	"annocore/internal/infra/persistence/sqlite"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// StorageConfig selects and configures the authoritative store.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// OpenPersistentStore builds the store named by cfg.Driver, running pipeline
// after every commit. An empty driver selects sqlite.
func OpenPersistentStore(cfg StorageConfig, pipeline *domain.Pipeline) (domain.PersistentStore, error) {
	switch cfg.Driver {
	case StorageMemory:
		return memory.NewStore(pipeline), nil
	case "", StorageSQLite:
		return sqlite.NewStore(cfg.SQLitePath, pipeline)
	case StoragePostgres:
		return postgres.NewStore(cfg.PostgresDSN, pipeline)
	default:
		return nil, errors.Newf("unknown storage driver %q", cfg.Driver)
	}
}

// CloseStore releases the resources of stores that hold any.
func CloseStore(store domain.PersistentStore) error {
	if c, ok := store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
