package reconcile

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Diablofan/taiga/internal/events"
	"github.com/Diablofan/taiga/internal/library"
	"github.com/Diablofan/taiga/internal/migrations"
)

func setupEngine(t *testing.T) (*Engine, *library.Store, *events.Bus) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(migrations.InitialSQL)
	require.NoError(t, err)

	store := library.NewStore(db)
	bus := events.NewBus(events.NewEventLog(db), nil)
	t.Cleanup(func() { _ = bus.Close() })
	return New(store, bus, 0, nil), store, bus
}

func anilistPayload() *library.Item {
	item := &library.Item{
		Title:          "Cowboy Bebop",
		Synopsis:       "Bounty hunters in space.",
		EpisodeCount:   26,
		AiringStatus:   library.AiringFinished,
		Type:           library.TypeTV,
		CommunityScore: 8.9,
		LastModified:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		User: &library.UserEntry{
			Status:    library.StatusWatching,
			Progress:  12,
			UpdatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	item.SetExternalID(library.ProviderAniList, "1")
	item.SetExternalID(library.ProviderMyAnimeList, "1")
	return item
}

func TestMergeEntryCreates(t *testing.T) {
	engine, store, bus := setupEngine(t)
	added := bus.Subscribe(events.EventItemAdded, 4)

	item, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)
	assert.NotZero(t, item.ID)

	got, err := store.GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cowboy Bebop", got.Title)
	require.NotNil(t, got.User)
	assert.Equal(t, 12, got.User.Progress)

	select {
	case ev := <-added:
		assert.Equal(t, events.EventItemAdded, ev.EventType())
	case <-time.After(time.Second):
		t.Fatal("no item.added event")
	}
}

func TestMergeEntryIdempotent(t *testing.T) {
	engine, store, bus := setupEngine(t)

	_, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	updated := bus.Subscribe(events.EventItemUpdated, 4)

	// Replaying the identical payload writes nothing and stays silent.
	first, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)

	_, err = engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	second, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	select {
	case <-updated:
		t.Fatal("replayed payload must not publish an update event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMergeEntryIdempotentAcrossFetches(t *testing.T) {
	engine, store, bus := setupEngine(t)

	_, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	updated := bus.Subscribe(events.EventItemUpdated, 4)

	first, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)

	// A later fetch of unchanged vendor state carries a fresher modification
	// clock but identical content. It must not count as a change.
	replay := anilistPayload()
	replay.LastModified = time.Now()

	_, err = engine.MergeEntry(context.Background(), library.ProviderAniList, replay)
	require.NoError(t, err)

	second, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	assert.Equal(t, first.UpdatedAt, second.UpdatedAt)

	select {
	case <-updated:
		t.Fatal("re-fetched identical state must not publish an update event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMergeEntryUpdatesProgress(t *testing.T) {
	engine, store, _ := setupEngine(t)

	_, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	next := anilistPayload()
	next.User.Progress = 14
	next.User.UpdatedAt = time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	_, err = engine.MergeEntry(context.Background(), library.ProviderAniList, next)
	require.NoError(t, err)

	got, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	assert.Equal(t, 14, got.User.Progress)
}

func TestMergeEntryCrossProviderDedup(t *testing.T) {
	engine, store, bus := setupEngine(t)
	linked := bus.Subscribe(events.EventItemLinked, 4)

	// The AniList payload arrives first and carries a MyAnimeList
	// cross-reference.
	first, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	// The same series later arrives from MyAnimeList under its own ID.
	malPayload := &library.Item{
		Title:        "Cowboy Bebop",
		EpisodeCount: 26,
		LastModified: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
	}
	malPayload.SetExternalID(library.ProviderMyAnimeList, "1")

	second, err := engine.MergeEntry(context.Background(), library.ProviderMyAnimeList, malPayload)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "both payloads must resolve to one item")

	_, total, err := store.ListItems(library.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	select {
	case <-linked:
	case <-time.After(time.Second):
		t.Fatal("no item.linked event")
	}
}

func TestMergeEntryTitleMatch(t *testing.T) {
	engine, store, _ := setupEngine(t)

	first, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	// No shared external ID, but the normalized titles agree.
	kitsuPayload := &library.Item{
		Title:        "Cowboy Bebop",
		LastModified: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
	}
	kitsuPayload.SetExternalID(library.ProviderKitsu, "42")

	second, err := engine.MergeEntry(context.Background(), library.ProviderKitsu, kitsuPayload)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	got, err := store.GetByExternalID(library.ProviderKitsu, "42")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestMergeEntryDistinctTitlesStaySeparate(t *testing.T) {
	engine, store, _ := setupEngine(t)

	_, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	other := &library.Item{
		Title:        "Outlaw Star",
		LastModified: time.Date(2024, 5, 3, 0, 0, 0, 0, time.UTC),
	}
	other.SetExternalID(library.ProviderKitsu, "43")

	_, err = engine.MergeEntry(context.Background(), library.ProviderKitsu, other)
	require.NoError(t, err)

	_, total, err := store.ListItems(library.Filter{})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestMergeEntryMetadataLastWriterWins(t *testing.T) {
	engine, store, _ := setupEngine(t)

	_, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	// Older metadata must not overwrite newer.
	stale := anilistPayload()
	stale.Synopsis = "Old synopsis."
	stale.LastModified = time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	stale.User = nil

	_, err = engine.MergeEntry(context.Background(), library.ProviderAniList, stale)
	require.NoError(t, err)

	got, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	assert.Equal(t, "Bounty hunters in space.", got.Synopsis)

	fresh := anilistPayload()
	fresh.Synopsis = "New synopsis."
	fresh.LastModified = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	_, err = engine.MergeEntry(context.Background(), library.ProviderAniList, fresh)
	require.NoError(t, err)

	got, err = store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	assert.Equal(t, "New synopsis.", got.Synopsis)
}

func TestMergeEntryProtectsPendingEdit(t *testing.T) {
	engine, store, _ := setupEngine(t)

	_, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	// The user edits progress locally; the edit has not reached the
	// provider yet.
	item, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	dirty := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	item.User.Progress = 20
	item.User.DirtySince = &dirty
	require.NoError(t, store.UpdateItem(item))

	// A stale server echo must not clobber the pending edit.
	echo := anilistPayload()
	echo.User.Progress = 12
	echo.User.UpdatedAt = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	_, err = engine.MergeEntry(context.Background(), library.ProviderAniList, echo)
	require.NoError(t, err)

	got, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.User.Progress)
	assert.NotNil(t, got.User.DirtySince)

	// Once the provider confirms (newer server state), the edit is no
	// longer pending.
	confirmed := anilistPayload()
	confirmed.User.Progress = 20
	confirmed.User.UpdatedAt = time.Date(2024, 5, 11, 0, 0, 0, 0, time.UTC)

	_, err = engine.MergeEntry(context.Background(), library.ProviderAniList, confirmed)
	require.NoError(t, err)

	got, err = store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	assert.Equal(t, 20, got.User.Progress)
	assert.Nil(t, got.User.DirtySince)
}

func TestMergeEntryRevivesDelisted(t *testing.T) {
	engine, store, _ := setupEngine(t)

	_, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)
	require.NoError(t, engine.MarkDelisted(context.Background(), library.ProviderAniList, "1"))

	got, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	require.True(t, got.Delisted)

	// The provider reports the item again.
	revived := anilistPayload()
	revived.LastModified = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err = engine.MergeEntry(context.Background(), library.ProviderAniList, revived)
	require.NoError(t, err)

	got, err = store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	assert.False(t, got.Delisted)
}

func TestMarkDelisted(t *testing.T) {
	engine, store, bus := setupEngine(t)
	delisted := bus.Subscribe(events.EventItemDelisted, 4)

	_, err := engine.MergeEntry(context.Background(), library.ProviderAniList, anilistPayload())
	require.NoError(t, err)

	require.NoError(t, engine.MarkDelisted(context.Background(), library.ProviderAniList, "1"))

	got, err := store.GetByExternalID(library.ProviderAniList, "1")
	require.NoError(t, err)
	assert.True(t, got.Delisted)
	require.NotNil(t, got.User)

	select {
	case <-delisted:
	case <-time.After(time.Second):
		t.Fatal("no item.delisted event")
	}

	// Delisting again neither fails nor re-publishes.
	require.NoError(t, engine.MarkDelisted(context.Background(), library.ProviderAniList, "1"))
	select {
	case <-delisted:
		t.Fatal("repeated delist must not publish again")
	case <-time.After(100 * time.Millisecond):
	}

	assert.ErrorIs(t,
		engine.MarkDelisted(context.Background(), library.ProviderAniList, "404"),
		library.ErrNotFound)
}

func TestMergeEntryMissingExternalID(t *testing.T) {
	engine, _, _ := setupEngine(t)

	_, err := engine.MergeEntry(context.Background(), library.ProviderAniList, &library.Item{Title: "X"})
	assert.Error(t, err)
}
