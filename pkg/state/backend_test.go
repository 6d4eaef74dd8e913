package state_test

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veronica-labs/veronica/pkg/state"
)

func TestJSONFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	b := state.NewJSONFileBackend(path)

	loaded, err := b.Load()
	require.NoError(t, err)
	assert.Nil(t, loaded, "missing snapshot loads as nil")

	r := state.NewRun("run-1")
	require.NoError(t, state.TransitionRun(r, state.StatusSucceeded, "done"))
	require.NoError(t, b.Save(r.Snapshot()))

	loaded, err = b.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	back, err := state.RunFromSnapshot(loaded)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSucceeded, back.Status)
}

func TestJSONFileBackendBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	b := state.NewJSONFileBackend(path)

	require.NoError(t, b.Backup(), "backup with no snapshot is a no-op")

	require.NoError(t, b.Save(map[string]any{"id": "r", "status": "RUNNING"}))
	require.NoError(t, b.Backup())

	bak := state.NewJSONFileBackend(path + ".bak")
	loaded, err := bak.Load()
	require.NoError(t, err)
	assert.Equal(t, "RUNNING", loaded["status"])
}

func TestSQLiteBackendSurfacesInsertErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS state_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 0))
	b, err := state.NewSQLiteBackendFromDB(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO state_snapshots").
		WillReturnError(errors.New("disk full"))
	err = b.Save(map[string]any{"id": "r", "status": "RUNNING"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert snapshot")

	mock.ExpectQuery("SELECT payload FROM state_snapshots").
		WillReturnError(errors.New("db locked"))
	_, err = b.Load()
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteBackendLoadLatest(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS state_snapshots").
		WillReturnResult(sqlmock.NewResult(0, 0))
	b, err := state.NewSQLiteBackendFromDB(db)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"payload"}).
		AddRow(`{"id":"r","status":"HALTED"}`)
	mock.ExpectQuery("SELECT payload FROM state_snapshots").WillReturnRows(rows)

	loaded, err := b.Load()
	require.NoError(t, err)
	assert.Equal(t, "HALTED", loaded["status"])

	mock.ExpectExec("INSERT INTO state_snapshot_backups").
		WillReturnResult(sqlmock.NewResult(1, 1))
	assert.NoError(t, b.Backup())

	assert.NoError(t, mock.ExpectationsWereMet())
}
