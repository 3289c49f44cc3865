package reconcile

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alexjbarnes/bookstack-sync/internal/bookstack"
	"github.com/alexjbarnes/bookstack-sync/internal/bookstacktest"
	"github.com/alexjbarnes/bookstack-sync/internal/vault"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tempVault(t *testing.T) *vault.Vault {
	t.Helper()

	v, err := vault.New(t.TempDir())
	require.NoError(t, err)

	return v
}

// writeNote writes a vault file with an explicit mtime.
func writeNote(t *testing.T, v *vault.Vault, relPath, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, v.WriteFile(relPath, []byte(content), mtime))
}

// fakeWiki starts an in-memory wiki and returns a real client for it.
func fakeWiki(t *testing.T) (*bookstack.Client, *bookstacktest.Server) {
	t.Helper()

	srv := bookstacktest.New()
	c, err := bookstack.NewClient(srv.Start(t), bookstacktest.TokenID, bookstacktest.TokenSecret, nil)
	require.NoError(t, err)

	return c, srv
}

func newTestSyncer(fsys Filesystem, remote Remote, excluded ...string) *Syncer {
	return NewSyncer(fsys, remote, Options{
		Excluded:         excluded,
		FetchConcurrency: 1,
		Logger:           testLogger(),
	})
}

func fileMtime(t *testing.T, v *vault.Vault, relPath string) time.Time {
	t.Helper()

	info, err := v.Stat(relPath)
	require.NoError(t, err)

	return info.ModTime().UTC()
}

func readNote(t *testing.T, v *vault.Vault, relPath string) string {
	t.Helper()

	data, err := v.ReadFile(relPath)
	require.NoError(t, err)

	return string(data)
}
