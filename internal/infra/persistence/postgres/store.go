// Package postgres provides a Postgres-backed server data store that mirrors
// the in-memory semantics. Assemblies are stored as JSONB documents and every
// committed change is appended to the change_log table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"

	"annocore/internal/infra/persistence/memory"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/annocore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var ddl = []string{
	`CREATE TABLE IF NOT EXISTS assemblies (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS change_log (
		id TEXT PRIMARY KEY,
		assembly TEXT NOT NULL,
		type_name TEXT NOT NULL,
		payload JSONB NOT NULL,
		at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS change_log_assembly_idx ON change_log (assembly, id)`,
}

// Store persists state to Postgres while reusing the in-memory implementation for transactions.
type Store struct {
	*memory.Store
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back to defaultDSN).
// It ensures the tables exist and hydrates the in-memory store from them.
func NewStore(dsn string, pipeline *domain.Pipeline, opts ...memory.Option) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Wrap(err, "ping postgres")
	}
	if err := applyDDL(ctx, db); err != nil {
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	opts = append(opts, memory.WithCommitHook(s.persistCommit), memory.WithFileHook(s.persistFile))
	s.Store = memory.NewStore(pipeline, opts...)
	s.ImportState(snapshot)
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func applyDDL(ctx context.Context, db *sql.DB) error {
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "execute ddl")
		}
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Assemblies: make(map[string]*memory.AssemblyState),
		Files:      make(map[string]domain.File),
	}
	err := scanPayloads(ctx, db, `SELECT id, payload FROM assemblies`, func(id string, payload []byte) error {
		st := &memory.AssemblyState{}
		if err := json.Unmarshal(payload, st); err != nil {
			return errors.Wrapf(err, "decode assembly %s", id)
		}
		if st.Features == nil {
			st.Features = domain.NewTree()
		}
		snapshot.Assemblies[id] = st
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}
	err = scanPayloads(ctx, db, `SELECT id, payload FROM files`, func(id string, payload []byte) error {
		var f domain.File
		if err := json.Unmarshal(payload, &f); err != nil {
			return errors.Wrapf(err, "decode file %s", id)
		}
		snapshot.Files[id] = f
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}
	err = scanPayloads(ctx, db, `SELECT id, payload FROM change_log ORDER BY id`, func(id string, payload []byte) error {
		var r domain.ChangeRecord
		if err := json.Unmarshal(payload, &r); err != nil {
			return errors.Wrapf(err, "decode change record %s", id)
		}
		snapshot.ChangeLog = append(snapshot.ChangeLog, r)
		return nil
	})
	if err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
}

func scanPayloads(ctx context.Context, db *sql.DB, query string, fn func(id string, payload []byte) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "select state")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return errors.Wrap(err, "scan state")
		}
		if len(payload) == 0 {
			continue
		}
		if err := fn(id, payload); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, "iterate state")
	}
	return nil
}

func (s *Store) persistCommit(ctx context.Context, c memory.Commit) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if c.State == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assemblies WHERE id = $1`, c.AssemblyID); err != nil {
			return errors.Wrapf(err, "delete assembly %s", c.AssemblyID)
		}
	} else {
		data, err := json.Marshal(c.State)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO assemblies(id,payload) VALUES($1,$2) ON CONFLICT(id) DO UPDATE SET payload=EXCLUDED.payload`, c.AssemblyID, data); err != nil {
			return errors.Wrapf(err, "upsert assembly %s", c.AssemblyID)
		}
	}
	for _, r := range c.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO change_log(id,assembly,type_name,payload,at) VALUES($1,$2,$3,$4,$5)`,
			r.ID, r.AssemblyID, r.TypeName, data, r.At); err != nil {
			return errors.Wrapf(err, "append change %s", r.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	committed = true
	return nil
}

func (s *Store) persistFile(ctx context.Context, f domain.File) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO files(id,payload) VALUES($1,$2)`, f.ID, data); err != nil {
		return errors.Wrapf(err, "insert file %s", f.ID)
	}
	return nil
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
