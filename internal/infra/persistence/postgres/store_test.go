package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"annocore/internal/infra/persistence/memory"
	"annocore/pkg/domain"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

const seededAssembly = `{"assembly":{"_id":"asm1","name":"hg38"},"refSeqs":[{"_id":"asm1:chr1","name":"chr1","assembly":"asm1","length":1000}],` +
	`"features":[{"_id":"g1","refSeq":"asm1:chr1","type":"gene","min":10,"max":90,"strand":1}],"checkResults":[]}`

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	restore := OverrideSQLOpen(func(driver, dsn string) (*sql.DB, error) {
		require.Equal(t, defaultDriver, driver)
		require.Equal(t, defaultDSN, dsn)
		return db, nil
	})
	t.Cleanup(restore)
	return db, mock
}

func expectBoot(mock sqlmock.Sqlmock, assemblies *sqlmock.Rows) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS assemblies").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS files").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS change_log").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS change_log_assembly_idx").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, payload FROM assemblies").WillReturnRows(assemblies)
	mock.ExpectQuery("SELECT id, payload FROM files").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}).AddRow("f1", []byte(`{"_id":"f1","name":"genome.fa"}`)))
	mock.ExpectQuery("SELECT id, payload FROM change_log ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}).
			AddRow("01HZ", []byte(`{"_id":"01HZ","assembly":"asm1","typeName":"AddFeatureChange","changedIds":["g1"]}`)))
}

func TestNewStoreAppliesDDLAndLoadsSnapshot(t *testing.T) {
	_, mock := newMock(t)
	expectBoot(mock, sqlmock.NewRows([]string{"id", "payload"}).AddRow("asm1", []byte(seededAssembly)))

	store, err := NewStore("", nil)
	require.NoError(t, err)
	require.NotNil(t, store.DB())
	require.NoError(t, mock.ExpectationsWereMet())

	asm, ok := store.FindAssemblyByName("hg38")
	require.True(t, ok)
	require.Equal(t, "asm1", asm.ID)
	f, asmID, ok := store.FindFeatureByID("g1")
	require.True(t, ok)
	require.Equal(t, "asm1", asmID)
	require.Equal(t, domain.StrandPlus, f.Strand)
	_, ok = store.GetFile("f1")
	require.True(t, ok)
	require.Len(t, store.ChangeLog("asm1"), 1)
}

func TestNewStoreRejectsCorruptPayload(t *testing.T) {
	_, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT id, payload FROM assemblies").
		WillReturnRows(sqlmock.NewRows([]string{"id", "payload"}).AddRow("asm1", []byte(`{"features":`)))

	_, err := NewStore("", nil)
	require.ErrorContains(t, err, "decode assembly asm1")
}

func TestNewStoreSurfacesOpenAndDDLErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(string, string) (*sql.DB, error) { return nil, errors.New("no route") })
	_, err := NewStore("postgres://example/db", nil)
	restore()
	require.ErrorContains(t, err, "open postgres")

	_, mock := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS assemblies").WillReturnError(errors.New("permission denied"))
	_, err = NewStore("", nil)
	require.ErrorContains(t, err, "execute ddl")
}

func TestCommitPersistsAssemblyAndChangeLog(t *testing.T) {
	_, mock := newMock(t)
	expectBoot(mock, sqlmock.NewRows([]string{"id", "payload"}).AddRow("asm1", []byte(seededAssembly)))
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	store, err := NewStore("", nil, memory.WithClock(func() time.Time { return at }))
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO assemblies").WithArgs("asm1", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO change_log").
		WithArgs(sqlmock.AnyArg(), "asm1", "LocationEndChange", sqlmock.AnyArg(), at).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	_, err = store.RunInTransaction(context.Background(), "asm1", func(tx domain.Transaction) error {
		tx.RecordChange(domain.ChangeRecord{TypeName: "LocationEndChange", ChangedIDs: []string{"g1"}})
		return tx.Features().SetMax("g1", 120)
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	f, _, _ := store.FindFeatureByID("g1")
	require.Equal(t, int64(120), f.Max)
}

func TestCommitFailureRollsBackAndHidesChange(t *testing.T) {
	_, mock := newMock(t)
	expectBoot(mock, sqlmock.NewRows([]string{"id", "payload"}).AddRow("asm1", []byte(seededAssembly)))
	store, err := NewStore("", nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO assemblies").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = store.RunInTransaction(context.Background(), "asm1", func(tx domain.Transaction) error {
		return tx.Features().SetMax("g1", 120)
	})
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
	f, _, _ := store.FindFeatureByID("g1")
	require.Equal(t, int64(90), f.Max)
}

func TestDeleteAssemblyRemovesRow(t *testing.T) {
	_, mock := newMock(t)
	expectBoot(mock, sqlmock.NewRows([]string{"id", "payload"}).AddRow("asm1", []byte(seededAssembly)))
	store, err := NewStore("", nil)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM assemblies").WithArgs("asm1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	_, err = store.RunInTransaction(context.Background(), "asm1", func(tx domain.Transaction) error {
		return tx.DeleteAssembly()
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	require.Empty(t, store.ListAssemblies())
}

func TestPutFilePersists(t *testing.T) {
	_, mock := newMock(t)
	expectBoot(mock, sqlmock.NewRows([]string{"id", "payload"}))
	store, err := NewStore("", nil)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO files").WithArgs("f2", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, store.PutFile(domain.File{ID: "f2", Name: "other.fa"}))

	mock.ExpectExec("INSERT INTO files").WillReturnError(errors.New("unique violation"))
	require.Error(t, store.PutFile(domain.File{ID: "f3"}))
	_, ok := store.GetFile("f3")
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
