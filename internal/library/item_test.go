package library

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleItem() *Item {
	return &Item{
		Title:          "Cowboy Bebop",
		Synonyms:       []string{"CB"},
		Synopsis:       "Bounty hunters in space.",
		EpisodeCount:   26,
		EpisodeLength:  24,
		CoverURL:       "https://example.com/1.jpg",
		AiringStatus:   AiringFinished,
		Type:           TypeTV,
		AgeRating:      "R17+",
		CommunityScore: 8.9,
		StartDate:      "1998-04-03",
		EndDate:        "1999-04-24",
		Genres:         []string{"Action", "Sci-Fi"},
		LastModified:   time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		ExternalIDs: map[ProviderID]string{
			ProviderAniList:     "1",
			ProviderMyAnimeList: "1",
		},
	}
}

func TestAddAndGetItem(t *testing.T) {
	store := NewStore(setupTestDB(t))

	item := sampleItem()
	require.NoError(t, store.AddItem(item))
	assert.NotZero(t, item.ID)
	assert.False(t, item.AddedAt.IsZero())

	got, err := store.GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cowboy Bebop", got.Title)
	assert.Equal(t, []string{"CB"}, got.Synonyms)
	assert.Equal(t, []string{"Action", "Sci-Fi"}, got.Genres)
	assert.Equal(t, AiringFinished, got.AiringStatus)
	assert.Equal(t, TypeTV, got.Type)
	assert.InDelta(t, 8.9, got.CommunityScore, 0.001)
	assert.Equal(t, item.ExternalIDs, got.ExternalIDs)
	assert.Nil(t, got.User)
	assert.False(t, got.Delisted)
}

func TestGetItemNotFound(t *testing.T) {
	store := NewStore(setupTestDB(t))

	_, err := store.GetItem(42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddItemWithUserEntry(t *testing.T) {
	store := NewStore(setupTestDB(t))

	item := sampleItem()
	dirty := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	item.User = &UserEntry{
		Status:       StatusWatching,
		Score:        8,
		Progress:     12,
		RewatchCount: 1,
		Rewatching:   true,
		UpdatedAt:    time.Date(2024, 5, 30, 0, 0, 0, 0, time.UTC),
		DirtySince:   &dirty,
	}
	require.NoError(t, store.AddItem(item))

	got, err := store.GetItem(item.ID)
	require.NoError(t, err)
	require.NotNil(t, got.User)
	assert.Equal(t, StatusWatching, got.User.Status)
	assert.InDelta(t, 8.0, got.User.Score, 0.001)
	assert.Equal(t, 12, got.User.Progress)
	assert.Equal(t, 1, got.User.RewatchCount)
	assert.True(t, got.User.Rewatching)
	require.NotNil(t, got.User.DirtySince)
	assert.Equal(t, dirty.Unix(), got.User.DirtySince.Unix())
}

func TestGetByExternalID(t *testing.T) {
	store := NewStore(setupTestDB(t))

	item := sampleItem()
	require.NoError(t, store.AddItem(item))

	got, err := store.GetByExternalID(ProviderAniList, "1")
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)

	_, err = store.GetByExternalID(ProviderKitsu, "1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetExternalIDReplaces(t *testing.T) {
	store := NewStore(setupTestDB(t))

	item := sampleItem()
	require.NoError(t, store.AddItem(item))

	require.NoError(t, store.SetExternalID(item.ID, ProviderKitsu, "77"))
	got, err := store.GetByExternalID(ProviderKitsu, "77")
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)

	// Same provider again replaces the mapping instead of duplicating it.
	require.NoError(t, store.SetExternalID(item.ID, ProviderKitsu, "78"))
	_, err = store.GetByExternalID(ProviderKitsu, "77")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetExternalIDConflict(t *testing.T) {
	store := NewStore(setupTestDB(t))

	first := sampleItem()
	require.NoError(t, store.AddItem(first))

	second := sampleItem()
	second.Title = "Trigun"
	second.ExternalIDs = map[ProviderID]string{ProviderAniList: "6"}
	require.NoError(t, store.AddItem(second))

	// Another item already claims anilist/1.
	err := store.SetExternalID(second.ID, ProviderAniList, "1")
	assert.True(t, errors.Is(err, ErrDuplicate) || errors.Is(err, ErrConstraint))
}

func TestUpdateItem(t *testing.T) {
	store := NewStore(setupTestDB(t))

	item := sampleItem()
	require.NoError(t, store.AddItem(item))

	item.Title = "Cowboy Bebop: The Movie"
	item.User = &UserEntry{Status: StatusCompleted, Progress: 26}
	require.NoError(t, store.UpdateItem(item))

	got, err := store.GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, "Cowboy Bebop: The Movie", got.Title)
	require.NotNil(t, got.User)
	assert.Equal(t, StatusCompleted, got.User.Status)
}

func TestUpdateItemNotFound(t *testing.T) {
	store := NewStore(setupTestDB(t))

	item := sampleItem()
	item.ID = 99
	assert.ErrorIs(t, store.UpdateItem(item), ErrNotFound)
}

func TestListItems(t *testing.T) {
	store := NewStore(setupTestDB(t))

	watching := sampleItem()
	watching.User = &UserEntry{Status: StatusWatching, Progress: 3}
	require.NoError(t, store.AddItem(watching))

	completed := sampleItem()
	completed.Title = "Trigun"
	completed.ExternalIDs = map[ProviderID]string{ProviderAniList: "6"}
	completed.User = &UserEntry{Status: StatusCompleted, Progress: 26}
	require.NoError(t, store.AddItem(completed))

	metadataOnly := sampleItem()
	metadataOnly.Title = "Outlaw Star"
	metadataOnly.ExternalIDs = map[ProviderID]string{ProviderMyAnimeList: "400"}
	require.NoError(t, store.AddItem(metadataOnly))

	items, total, err := store.ListItems(Filter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 3)

	items, total, err = store.ListItems(Filter{InList: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, items, 2)

	items, _, err = store.ListItems(Filter{WatchStatus: ptr(StatusCompleted)})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Trigun", items[0].Title)

	items, _, err = store.ListItems(Filter{Provider: ptr(ProviderAniList)})
	require.NoError(t, err)
	assert.Len(t, items, 2)

	items, total, err = store.ListItems(Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, items, 1)
}

func TestMarkDelisted(t *testing.T) {
	store := NewStore(setupTestDB(t))

	item := sampleItem()
	item.User = &UserEntry{Status: StatusWatching, Progress: 3}
	require.NoError(t, store.AddItem(item))

	require.NoError(t, store.MarkDelisted(ProviderAniList, "1"))

	got, err := store.GetItem(item.ID)
	require.NoError(t, err)
	assert.True(t, got.Delisted)
	// The user's entry survives delisting.
	require.NotNil(t, got.User)
	assert.Equal(t, 3, got.User.Progress)

	assert.ErrorIs(t, store.MarkDelisted(ProviderAniList, "404"), ErrNotFound)
}

func TestDeleteItemCascades(t *testing.T) {
	store := NewStore(setupTestDB(t))

	item := sampleItem()
	require.NoError(t, store.AddItem(item))
	require.NoError(t, store.DeleteItem(item.ID))

	_, err := store.GetItem(item.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetByExternalID(ProviderAniList, "1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting again is a no-op.
	require.NoError(t, store.DeleteItem(item.ID))
}

func TestTransactionRollback(t *testing.T) {
	store := NewStore(setupTestDB(t))

	tx, err := store.Begin()
	require.NoError(t, err)

	item := sampleItem()
	require.NoError(t, tx.AddItem(item))
	require.NoError(t, tx.Rollback())

	_, err = store.GetItem(item.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransactionCommit(t *testing.T) {
	store := NewStore(setupTestDB(t))

	tx, err := store.Begin()
	require.NoError(t, err)

	item := sampleItem()
	require.NoError(t, tx.AddItem(item))
	require.NoError(t, tx.Commit())

	got, err := store.GetItem(item.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Title, got.Title)
}
