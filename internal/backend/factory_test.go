package backend

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gasto/internal/config"
	"gasto/internal/turso/tursotest"
)

func TestFromAppConfig(t *testing.T) {
	_, err := FromAppConfig(nil)
	assert.Error(t, err)

	_, err = FromAppConfig(&config.Config{DataBackend: "sheets"})
	assert.Error(t, err)

	cfg, err := FromAppConfig(&config.Config{
		DataBackend:    "remote",
		TursoURL:       "libsql://db.turso.io",
		TursoAuthToken: "token",
		RemoteTimeout:  3 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, RemoteBackend, cfg.Type)
	assert.Equal(t, 3*time.Second, cfg.RemoteTimeout)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"local", Config{Type: LocalBackend, SQLiteDBPath: "x.db"}, false},
		{"local without path", Config{Type: LocalBackend}, true},
		{"remote", Config{Type: RemoteBackend, TursoURL: "https://db", TursoAuthToken: "t"}, false},
		{"remote without token", Config{Type: RemoteBackend, TursoURL: "https://db"}, true},
		{"unknown", Config{Type: "memory"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreateLocalOnlyBackend(t *testing.T) {
	ctx := context.Background()
	res, err := NewFactory(nil).CreateBackend(ctx, Config{
		Type:         LocalBackend,
		SQLiteDBPath: filepath.Join(t.TempDir(), "data", "gasto.db"),
	})
	require.NoError(t, err)
	defer res.Close()

	assert.NotNil(t, res.Local)
	assert.Nil(t, res.Remote)
	assert.NotNil(t, res.Queue, "local-only mode still records mutations")

	applied, err := res.Migrate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)

	n, err := res.Queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateLocalBackendWithRemote(t *testing.T) {
	srv := tursotest.New(t)

	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:           LocalBackend,
		SQLiteDBPath:   filepath.Join(t.TempDir(), "gasto.db"),
		TursoURL:       srv.URL,
		TursoAuthToken: tursotest.Token,
	})
	require.NoError(t, err)
	defer res.Close()

	require.NotNil(t, res.Remote)
	assert.Equal(t, srv.URL+"/v2/pipeline", res.Remote.Endpoint())
	assert.NoError(t, res.Remote.Ping(context.Background()))
}

func TestCreateRemoteOnlyBackend(t *testing.T) {
	srv := tursotest.New(t)

	res, err := NewFactory(nil).CreateBackend(context.Background(), Config{
		Type:           RemoteBackend,
		TursoURL:       srv.URL,
		TursoAuthToken: tursotest.Token,
	})
	require.NoError(t, err)
	defer res.Close()

	assert.Nil(t, res.Local)
	assert.Nil(t, res.Remote)
	assert.Nil(t, res.Queue)

	// The test server's schema is already current.
	applied, err := res.Migrate(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestCloseRunsOnce(t *testing.T) {
	calls := 0
	res := &Result{Cleanup: func() error { calls++; return nil }}
	require.NoError(t, res.Close())
	require.NoError(t, res.Close())
	assert.Equal(t, 1, calls)
}
