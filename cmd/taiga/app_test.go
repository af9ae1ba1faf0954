package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/Diablofan/taiga/internal/events"
	"github.com/Diablofan/taiga/internal/library"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	// The database path points into a directory that does not exist yet;
	// opening the app must create it.
	cfg := `
[database]
path = "` + filepath.Join(dir, "state", "taiga.db") + `"

[providers.anilist]
enabled = true
client_id = "test-client"
client_secret = "test-secret"
username = "tester"

[providers.myanimelist]
enabled = true
client_id = "mal-client"
`
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o644))
	return path
}

func setupApp(t *testing.T) *app {
	t.Helper()
	keyring.MockInit()

	old := configPath
	configPath = writeTestConfig(t)
	t.Cleanup(func() { configPath = old })

	a, err := openApp()
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestOpenAppWiresEnabledProviders(t *testing.T) {
	a := setupApp(t)

	assert.Len(t, a.managers, 2)
	assert.Contains(t, a.managers, library.ProviderAniList)
	assert.Contains(t, a.managers, library.ProviderMyAnimeList)

	// Fresh database, nothing tracked yet.
	items, total, err := a.store.ListItems(library.Filter{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)
}

func TestProviderArg(t *testing.T) {
	a := setupApp(t)

	id, err := a.providerArg("AniList")
	require.NoError(t, err)
	assert.Equal(t, library.ProviderAniList, id)

	_, err = a.providerArg("kitsu")
	assert.ErrorContains(t, err, "not enabled")
}

func TestOpenAppMissingConfig(t *testing.T) {
	old := configPath
	configPath = filepath.Join(t.TempDir(), "nope.toml")
	t.Cleanup(func() { configPath = old })

	_, err := openApp()
	assert.Error(t, err)
}

func TestEventsCmdFilters(t *testing.T) {
	a := setupApp(t)

	_, err := a.eventLog.Append(&events.ItemAdded{
		BaseEvent: events.NewBaseEvent(events.EventItemAdded, "item", 1),
		ItemID:    1,
		Title:     "Cowboy Bebop",
		Provider:  "anilist",
	})
	require.NoError(t, err)

	history, err := a.eventLog.ForEntity("item", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, events.EventItemAdded, history[0].EventType)

	// Each flag selects a different query path.
	require.NoError(t, runEventsCmd(eventsCmd, nil))
	require.NoError(t, eventsCmd.Flags().Set("item", "1"))
	require.NoError(t, runEventsCmd(eventsCmd, nil))
	require.NoError(t, eventsCmd.Flags().Set("item", "0"))
	require.NoError(t, eventsCmd.Flags().Set("since", "1h"))
	require.NoError(t, runEventsCmd(eventsCmd, nil))
	require.NoError(t, eventsCmd.Flags().Set("since", "0s"))
}

func TestEpisodeCount(t *testing.T) {
	assert.Equal(t, "26", episodeCount(&library.Item{EpisodeCount: 26}))
	assert.Equal(t, "?", episodeCount(&library.Item{}))
}
