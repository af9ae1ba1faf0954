package auth_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Diablofan/taiga/internal/auth"
	"github.com/Diablofan/taiga/internal/library"
	"github.com/Diablofan/taiga/internal/secrets"
	syncer "github.com/Diablofan/taiga/internal/sync"
	"github.com/Diablofan/taiga/internal/sync/anilist"
	"github.com/Diablofan/taiga/internal/sync/mocks"
)

// These tests wire the real dispatcher and manager together the way the
// daemon does. A refresh triggered by an in-flight request runs while the
// dispatcher holds that provider's lock, so the token exchange must complete
// without retaking it.

func wireAniList(t *testing.T, transport syncer.Transport, store secrets.Store) (*syncer.Dispatcher, *auth.Manager) {
	t.Helper()
	adapter, err := anilist.New(anilist.Config{
		ClientID: "id", ClientSecret: "secret", Username: "tester",
	}, testLogger())
	require.NoError(t, err)

	d := syncer.NewDispatcher(transport, syncer.RetryPolicy{MaxRetries: 0, Backoff: time.Millisecond}, testLogger())
	d.Register(adapter)
	m := auth.NewManager(adapter, d, store, &fakePrompter{}, nil, 0, testLogger())
	require.NoError(t, d.BindCredentials(library.ProviderAniList, m))
	return d, m
}

// doWithin fails instead of hanging when a nested token exchange blocks on
// the provider lock.
func doWithin(t *testing.T, d *syncer.Dispatcher, req *syncer.Request) (*syncer.Response, error) {
	t.Helper()
	type result struct {
		resp *syncer.Response
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := d.Do(context.Background(), req)
		ch <- result{resp, err}
	}()
	select {
	case r := <-ch:
		return r.resp, r.err
	case <-time.After(5 * time.Second):
		t.Fatal("request never finished: token exchange blocked on the provider lock")
		return nil, nil
	}
}

func TestRejectedTokenRefreshesThroughDispatcher(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	store := secrets.NewMemory()
	require.NoError(t, store.Save(library.ProviderAniList, secrets.Record{
		AccessToken:  "stale",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(2 * time.Hour),
	}))
	d, m := wireAniList(t, transport, store)

	tokenBody := []byte(`{"access_token":"fresh","refresh_token":"rt-echo","expires_in":3600}`)
	listBody := []byte(`{"lists":{"watching":[{"anime":{"id":1,"title":"Cowboy Bebop"},"episodes_watched":3,"status":"currently-watching"}]}}`)

	gomock.InOrder(
		transport.EXPECT().Do(gomock.Any(), gomock.Any()).
			Return(&syncer.HTTPResponse{StatusCode: http.StatusUnauthorized}, nil),
		transport.EXPECT().Do(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, hr *syncer.HTTPRequest) (*syncer.HTTPResponse, error) {
				assert.Equal(t, "refresh_token", hr.Form.Get("grant_type"))
				assert.Equal(t, "rt-1", hr.Form.Get("refresh_token"))
				return &syncer.HTTPResponse{StatusCode: http.StatusOK, Body: tokenBody}, nil
			}),
		transport.EXPECT().Do(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, hr *syncer.HTTPRequest) (*syncer.HTTPResponse, error) {
				assert.Equal(t, "Bearer fresh", hr.Header.Get("Authorization"))
				return &syncer.HTTPResponse{StatusCode: http.StatusOK, Body: listBody}, nil
			}),
	)

	resp, err := doWithin(t, d, &syncer.Request{
		Type:     syncer.RequestGetLibraryEntries,
		Provider: library.ProviderAniList,
	})
	require.NoError(t, err)
	require.Len(t, resp.Items, 1)

	creds, err := m.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", creds.AccessToken)
	// AniList keeps the original refresh token.
	assert.Equal(t, "rt-1", creds.RefreshToken)
}

func TestNearExpiryRefreshesThroughDispatcher(t *testing.T) {
	ctrl := gomock.NewController(t)
	transport := mocks.NewMockTransport(ctrl)

	store := secrets.NewMemory()
	require.NoError(t, store.Save(library.ProviderAniList, secrets.Record{
		AccessToken:  "stale",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Now().Add(time.Minute),
	}))
	d, _ := wireAniList(t, transport, store)

	tokenBody := []byte(`{"access_token":"fresh","expires_in":3600}`)
	listBody := []byte(`{"lists":{}}`)

	gomock.InOrder(
		transport.EXPECT().Do(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, hr *syncer.HTTPRequest) (*syncer.HTTPResponse, error) {
				assert.Equal(t, "refresh_token", hr.Form.Get("grant_type"))
				return &syncer.HTTPResponse{StatusCode: http.StatusOK, Body: tokenBody}, nil
			}),
		transport.EXPECT().Do(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, hr *syncer.HTTPRequest) (*syncer.HTTPResponse, error) {
				assert.Equal(t, "Bearer fresh", hr.Header.Get("Authorization"))
				return &syncer.HTTPResponse{StatusCode: http.StatusOK, Body: listBody}, nil
			}),
	)

	_, err := doWithin(t, d, &syncer.Request{
		Type:     syncer.RequestGetLibraryEntries,
		Provider: library.ProviderAniList,
	})
	require.NoError(t, err)
}
