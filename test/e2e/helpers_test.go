package e2e_test

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alexjbarnes/bookstack-sync/internal/bookstack"
	"github.com/alexjbarnes/bookstack-sync/internal/bookstacktest"
	"github.com/alexjbarnes/bookstack-sync/internal/reconcile"
	"github.com/alexjbarnes/bookstack-sync/internal/vault"
	"github.com/stretchr/testify/require"
)

// harness is one fake wiki shared by two vaults, as if the same wiki
// were synced from two machines.
type harness struct {
	Wiki    *bookstacktest.Server
	Laptop  *machine
	Desktop *machine
}

// machine is one vault and the syncer that runs against it.
type machine struct {
	Dir    string
	Vault  *vault.Vault
	Syncer *reconcile.Syncer
}

// newHarness starts the fake wiki and creates two empty vaults, each
// wired to the wiki through a real API client.
func newHarness(t *testing.T, excluded ...string) *harness {
	t.Helper()

	wiki := bookstacktest.New()
	url := wiki.Start(t)

	return &harness{
		Wiki:    wiki,
		Laptop:  newMachine(t, url, excluded),
		Desktop: newMachine(t, url, excluded),
	}
}

func newMachine(t *testing.T, url string, excluded []string) *machine {
	t.Helper()

	dir := t.TempDir()

	v, err := vault.New(dir)
	require.NoError(t, err)

	client, err := bookstack.NewClient(url, bookstacktest.TokenID, bookstacktest.TokenSecret, nil)
	require.NoError(t, err)

	syncer := reconcile.NewSyncer(v, client, reconcile.Options{
		Excluded:         excluded,
		FetchConcurrency: 2,
		Logger:           slog.New(slog.DiscardHandler),
	})

	return &machine{Dir: dir, Vault: v, Syncer: syncer}
}

func (m *machine) write(t *testing.T, rel, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, m.Vault.WriteFile(rel, []byte(content), mtime))
}

func (m *machine) read(t *testing.T, rel string) string {
	t.Helper()

	data, err := m.Vault.ReadFile(rel)
	require.NoError(t, err)

	return string(data)
}

// files returns every regular file in the vault keyed by slash path.
func (m *machine) files(t *testing.T) map[string]string {
	t.Helper()

	out := make(map[string]string)

	err := filepath.WalkDir(m.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		rel, err := filepath.Rel(m.Dir, path)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		out[filepath.ToSlash(rel)] = string(data)

		return nil
	})
	require.NoError(t, err)

	return out
}

// dirs returns every directory in the vault, the root excluded.
func (m *machine) dirs(t *testing.T) []string {
	t.Helper()

	var out []string

	err := filepath.WalkDir(m.Dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == m.Dir {
			return err
		}

		rel, err := filepath.Rel(m.Dir, path)
		if err != nil {
			return err
		}

		out = append(out, filepath.ToSlash(rel))

		return nil
	})
	require.NoError(t, err)

	return out
}
