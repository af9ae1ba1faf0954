package secrets

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/Diablofan/taiga/internal/library"
)

func sampleRecord() Record {
	return Record{
		AccessToken:  "at",
		RefreshToken: "rt",
		ExpiresAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func testStore(t *testing.T, store Store) {
	t.Helper()

	_, err := store.Load(library.ProviderAniList)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Save(library.ProviderAniList, sampleRecord()))

	rec, err := store.Load(library.ProviderAniList)
	require.NoError(t, err)
	assert.Equal(t, "at", rec.AccessToken)
	assert.Equal(t, "rt", rec.RefreshToken)
	assert.True(t, rec.ExpiresAt.Equal(sampleRecord().ExpiresAt))

	// Providers are isolated.
	_, err = store.Load(library.ProviderMyAnimeList)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Delete(library.ProviderAniList))
	_, err = store.Load(library.ProviderAniList)
	assert.ErrorIs(t, err, ErrNotFound)

	// Delete is idempotent.
	require.NoError(t, store.Delete(library.ProviderAniList))
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemory())
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	testStore(t, NewKeyring())
}
