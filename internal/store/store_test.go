package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNew_CreatesDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.db")
	s, err := New(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("/nonexistent/path/to/db")
	assert.Error(t, err)
}

func TestNew_Memory(t *testing.T) {
	s, err := New(":memory:")
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	_, err = s.DB().ExecContext(ctx, "CREATE TABLE t (id INTEGER)")
	require.NoError(t, err)
	// a single connection keeps the same in-memory database
	_, err = s.DB().ExecContext(ctx, "INSERT INTO t (id) VALUES (1)")
	assert.NoError(t, err)
}

func TestTx(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()
	_, err := s.DB().ExecContext(ctx, "CREATE TABLE runs (id TEXT PRIMARY KEY)")
	require.NoError(t, err)

	err = s.Tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO runs (id) VALUES ('kept')")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("abort")
	err = s.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO runs (id) VALUES ('dropped')"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrate(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	calls := 0
	migrations := []Migration{
		{Version: 1, Description: "create fetches", Up: func(tx *sql.Tx) error {
			calls++
			_, err := tx.Exec("CREATE TABLE fetches (id INTEGER PRIMARY KEY, fid TEXT)")
			return err
		}},
		{Version: 2, Description: "add rows column", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("ALTER TABLE fetches ADD COLUMN rows INTEGER")
			return err
		}},
	}

	require.NoError(t, s.Migrate(ctx, "pipeline", migrations))
	require.NoError(t, s.Migrate(ctx, "pipeline", migrations))
	assert.Equal(t, 1, calls, "applied migration ran again")

	_, err := s.DB().ExecContext(ctx, "INSERT INTO fetches (fid, rows) VALUES ('0', 12)")
	assert.NoError(t, err)

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _migrations WHERE component = 'pipeline'").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestMigrate_PartialFailure(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: 1, Description: "ok", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE partial (id INTEGER)")
			return err
		}},
		{Version: 2, Description: "broken", Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("INVALID SQL")
			return err
		}},
	}
	err := s.Migrate(ctx, "partial", migrations)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "partial/2 (broken)")

	var count int
	require.NoError(t, s.DB().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM _migrations WHERE component = 'partial'").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestPragmas(t *testing.T) {
	s := tempDB(t)
	ctx := context.Background()

	var mode string
	require.NoError(t, s.DB().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.DB().QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		steps   []string
		wantErr error
		stored  string
	}{
		{"first run", []string{"0.4.0"}, nil, "0.4.0"},
		{"same version", []string{"0.4.0", "0.4.0"}, nil, "0.4.0"},
		{"upgrade", []string{"0.4.0", "0.5.0"}, nil, "0.5.0"},
		{"patch upgrade", []string{"v0.4.0", "0.4.1"}, nil, "0.4.1"},
		{"older binary", []string{"0.5.0", "0.4.0"}, ErrNewerSchema, "0.5.0"},
		{"dev passes", []string{"dev", "0.5.0", "dev"}, nil, "dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tempDB(t)
			ctx := context.Background()
			var err error
			for _, v := range tt.steps {
				if err = s.CheckVersion(ctx, v); err != nil {
					break
				}
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			var stored string
			require.NoError(t, s.DB().QueryRowContext(ctx,
				"SELECT app_version FROM _schema_meta WHERE id = 1").Scan(&stored))
			assert.Equal(t, tt.stored, stored)
		})
	}
}
