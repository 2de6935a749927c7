// Package sqlite provides a SQLite-backed server data store. Transactions run
// against the in-memory store; each commit writes the touched assembly row,
// and appends its change records, before it becomes visible.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"

	"annocore/internal/infra/persistence/memory"
	"annocore/pkg/domain"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "annocore.db"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS assemblies (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS change_log (
		id TEXT PRIMARY KEY,
		assembly TEXT NOT NULL,
		payload BLOB NOT NULL
	)`,
}

// Store persists assemblies, files, and the change log to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

// NewStore opens (creating if needed) the database at path and hydrates the
// in-memory working set from it.
func NewStore(path string, pipeline *domain.Pipeline, opts ...memory.Option) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, errors.Wrap(err, "create dirs")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between
	// concurrent assembly commits.
	db.SetMaxOpenConns(1)
	ctx := context.Background()
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "create schema")
		}
	}
	s := &Store{db: db, path: path}
	opts = append(opts, memory.WithCommitHook(s.persistCommit), memory.WithFileHook(s.persistFile))
	s.Store = memory.NewStore(pipeline, opts...)
	snapshot, err := s.load(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ImportState(snapshot)
	return s, nil
}

func (s *Store) load(ctx context.Context) (memory.Snapshot, error) {
	snapshot := memory.Snapshot{
		Assemblies: make(map[string]*memory.AssemblyState),
		Files:      make(map[string]domain.File),
	}
	if err := eachRow(ctx, s.db, `SELECT id, payload FROM assemblies`, func(id string, payload []byte) error {
		var st memory.AssemblyState
		if err := json.Unmarshal(payload, &st); err != nil {
			return errors.Wrapf(err, "decode assembly %s", id)
		}
		if st.Features == nil {
			st.Features = domain.NewTree()
		}
		snapshot.Assemblies[id] = &st
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := eachRow(ctx, s.db, `SELECT id, payload FROM files`, func(id string, payload []byte) error {
		var f domain.File
		if err := json.Unmarshal(payload, &f); err != nil {
			return errors.Wrapf(err, "decode file %s", id)
		}
		snapshot.Files[id] = f
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	if err := eachRow(ctx, s.db, `SELECT id, payload FROM change_log ORDER BY id`, func(id string, payload []byte) error {
		var r domain.ChangeRecord
		if err := json.Unmarshal(payload, &r); err != nil {
			return errors.Wrapf(err, "decode change record %s", id)
		}
		snapshot.ChangeLog = append(snapshot.ChangeLog, r)
		return nil
	}); err != nil {
		return memory.Snapshot{}, err
	}
	return snapshot, nil
}

func eachRow(ctx context.Context, db *sql.DB, query string, fn func(id string, payload []byte) error) error {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, "select")
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return errors.Wrap(err, "scan")
		}
		if err := fn(id, payload); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) persistCommit(ctx context.Context, c memory.Commit) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if c.State == nil {
		if _, err := tx.ExecContext(ctx, `DELETE FROM assemblies WHERE id = ?`, c.AssemblyID); err != nil {
			return errors.Wrapf(err, "delete assembly %s", c.AssemblyID)
		}
	} else {
		data, err := json.Marshal(c.State)
		if err != nil {
			return errors.Wrap(err, "encode assembly")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO assemblies(id, payload) VALUES(?, ?) ON CONFLICT(id) DO UPDATE SET payload = excluded.payload`,
			c.AssemblyID, data); err != nil {
			return errors.Wrapf(err, "upsert assembly %s", c.AssemblyID)
		}
	}
	for _, r := range c.Records {
		data, err := json.Marshal(r)
		if err != nil {
			return errors.Wrap(err, "encode change record")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO change_log(id, assembly, payload) VALUES(?, ?, ?)`, r.ID, r.AssemblyID, data); err != nil {
			return errors.Wrapf(err, "append change record %s", r.ID)
		}
	}
	return tx.Commit()
}

func (s *Store) persistFile(ctx context.Context, f domain.File) error {
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encode file")
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO files(id, payload) VALUES(?, ?)`, f.ID, data); err != nil {
		return errors.Wrapf(err, "insert file %s", f.ID)
	}
	return nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
