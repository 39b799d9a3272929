package store

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_Backends(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{"", BackendSQLite},
		{BackendAuto, BackendSQLite},
		{BackendSQLite, BackendSQLite},
		{BackendFile, BackendFile},
	}
	for _, tt := range tests {
		t.Run("backend="+tt.backend, func(t *testing.T) {
			opts := testOptions()
			opts.Backend = tt.backend
			opts.Dir = t.TempDir()

			s, err := Open(context.Background(), opts)
			require.NoError(t, err)
			defer s.Close()
			assert.Equal(t, tt.want, s.Backend())
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.ErrorContains(t, err, "data directory is required")

	_, err = Open(context.Background(), Options{Dir: t.TempDir(), Backend: "postgres"})
	assert.ErrorContains(t, err, `unknown backend "postgres"`)
}

func TestOpen_AutoFallsBackToFile(t *testing.T) {
	dir := t.TempDir()
	// A directory where the database file should be makes SQLite unusable.
	require.NoError(t, os.Mkdir(filepath.Join(dir, SQLiteFileName), 0o700))

	var logs bytes.Buffer
	opts := testOptions()
	opts.Dir = dir
	opts.Logger = slog.New(slog.NewTextHandler(&logs, nil))

	s, err := Open(context.Background(), opts)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, BackendFile, s.Backend())
	assert.Contains(t, logs.String(), "falling back to file store")

	require.NoError(t, s.SaveEvent(context.Background(), createTestRecord("a", 1)))
}

func TestOpen_ForcedSQLiteDoesNotFallBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, SQLiteFileName), 0o700))

	opts := testOptions()
	opts.Dir = dir
	opts.Backend = BackendSQLite

	_, err := Open(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))
}
