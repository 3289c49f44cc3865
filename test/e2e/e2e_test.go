package e2e_test

import (
	"context"
	"testing"
	"time"

	"github.com/alexjbarnes/bookstack-sync/internal/reconcile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedLaptop(t *testing.T, h *harness) {
	t.Helper()

	now := h.Wiki.Now()
	h.Laptop.write(t, "Docs/Guide/Intro.md", "# Intro\n\nWelcome. #onboarding", now)
	h.Laptop.write(t, "Docs/Guide/Setup/Install.md", "---\ntags: [linux]\n---\nRun the installer.", now)
	h.Laptop.write(t, "Docs/Guide/Setup/Configure.md", "Edit conf.toml.", now)
	h.Laptop.write(t, "Docs/Reference/API.md", "Endpoints", now)
	h.Laptop.write(t, "Journal/2024/Jan.md", "Cold.", now)
	require.NoError(t, h.Laptop.Vault.Mkdir("Archive"))
}

func TestRoundTrip_SecondVaultMatchesFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedLaptop(t, h)

	pushed, err := h.Laptop.Syncer.SyncRemote(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, pushed.Created, "3 shelves, 3 books, 1 chapter, 5 pages")

	pulled, err := h.Desktop.Syncer.SyncLocal(ctx)
	require.NoError(t, err)
	assert.Equal(t, pushed.Created, pulled.Created)

	assert.Equal(t, h.Laptop.files(t), h.Desktop.files(t))
	assert.ElementsMatch(t, h.Laptop.dirs(t), h.Desktop.dirs(t))

	guide, ok := h.Wiki.FindBook("Guide")
	require.True(t, ok)
	page, ok := h.Wiki.FindPage(guide.ID, "Install")
	require.True(t, ok)
	require.Len(t, page.Tags, 1)
	assert.Equal(t, "linux", page.Tags[0].Name)
}

func TestRoundTrip_NothingLeftToDo(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedLaptop(t, h)

	_, err := h.Laptop.Syncer.SyncRemote(ctx)
	require.NoError(t, err)
	_, err = h.Desktop.Syncer.SyncLocal(ctx)
	require.NoError(t, err)

	h.Wiki.ResetCalls()

	for _, m := range []*machine{h.Laptop, h.Desktop} {
		res, err := m.Syncer.SyncRemote(ctx)
		require.NoError(t, err)
		assert.Zero(t, res)

		res, err = m.Syncer.SyncLocal(ctx)
		require.NoError(t, err)
		assert.Zero(t, res)

		res, err = m.Syncer.UpdateContent(ctx, true, true)
		require.NoError(t, err)
		assert.Zero(t, res)
	}

	assert.Zero(t, h.Wiki.Count("POST", "/api/"))
	assert.Zero(t, h.Wiki.Count("PUT", "/api/"))
}

func TestEditOnOneMachineReachesTheOther(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedLaptop(t, h)

	_, err := h.Laptop.Syncer.SyncRemote(ctx)
	require.NoError(t, err)
	_, err = h.Desktop.Syncer.SyncLocal(ctx)
	require.NoError(t, err)

	h.Wiki.Advance(time.Hour)
	h.Desktop.write(t, "Docs/Reference/API.md", "Endpoints, now with examples", h.Wiki.Now())

	res, err := h.Desktop.Syncer.UpdateContent(ctx, true, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	res, err = h.Laptop.Syncer.UpdateContent(ctx, false, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	assert.Equal(t, "Endpoints, now with examples", h.Laptop.read(t, "Docs/Reference/API.md"))
	assert.Equal(t, h.Laptop.files(t), h.Desktop.files(t))
}

func TestNewNotesFromBothMachinesMerge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	now := h.Wiki.Now()

	h.Laptop.write(t, "Docs/Guide/FromLaptop.md", "laptop", now)
	h.Desktop.write(t, "Docs/Guide/FromDesktop.md", "desktop", now)
	h.Desktop.write(t, "Docs/Other/Solo.md", "solo", now)

	for _, m := range []*machine{h.Laptop, h.Desktop, h.Laptop} {
		_, err := m.Syncer.SyncRemote(ctx)
		require.NoError(t, err)
		_, err = m.Syncer.SyncLocal(ctx)
		require.NoError(t, err)
	}

	shelves, books, _, pages := h.Wiki.Counts()
	assert.Equal(t, 1, shelves)
	assert.Equal(t, 2, books)
	assert.Equal(t, 3, pages)

	assert.Equal(t, h.Laptop.files(t), h.Desktop.files(t))
	assert.Len(t, h.Laptop.files(t), 3)
}

func TestDeleteRemovesFromWikiAndVault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedLaptop(t, h)

	_, err := h.Laptop.Syncer.SyncRemote(ctx)
	require.NoError(t, err)
	_, err = h.Desktop.Syncer.SyncLocal(ctx)
	require.NoError(t, err)

	require.NoError(t, h.Laptop.Syncer.Delete(ctx, reconcile.LevelBook, "Docs/Guide"))

	_, ok := h.Wiki.FindBook("Guide")
	assert.False(t, ok)
	assert.NotContains(t, h.Laptop.dirs(t), "Docs/Guide")

	// The other vault still has the pages; updates skip them since the
	// wiki no longer does.
	res, err := h.Desktop.Syncer.UpdateContent(ctx, true, true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Skipped)
}

func TestExcludedShelfNeverLeavesTheVault(t *testing.T) {
	h := newHarness(t, "Journal")
	ctx := context.Background()
	seedLaptop(t, h)

	_, err := h.Laptop.Syncer.SyncRemote(ctx)
	require.NoError(t, err)
	_, err = h.Desktop.Syncer.SyncLocal(ctx)
	require.NoError(t, err)

	_, ok := h.Wiki.FindShelf("Journal")
	assert.False(t, ok)
	assert.NotContains(t, h.Desktop.dirs(t), "Journal")
	assert.Contains(t, h.Laptop.files(t), "Journal/2024/Jan.md")
}
