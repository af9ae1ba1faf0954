package transport

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	syncer "github.com/Diablofan/taiga/internal/sync"
)

func TestDoGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/anime/1", r.URL.Path)
		assert.Equal(t, "romanized", r.URL.Query().Get("title_language_preference"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))

	hr := syncer.NewHTTPRequest(http.MethodGet, "anilist.co")
	hr.Path = "/api/anime/1"
	hr.Query.Set("title_language_preference", "romanized")
	hr.Header.Set("Authorization", "Bearer tok")

	resp, err := c.Do(context.Background(), hr)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.Succeeded())
	assert.JSONEq(t, `{"id":1}`, string(resp.Body))
}

func TestDoPostForm(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_pin", r.PostForm.Get("grant_type"))
		assert.Equal(t, "pin-1", r.PostForm.Get("code"))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))

	hr := syncer.NewHTTPRequest(http.MethodPost, "anilist.co")
	hr.Path = "/api/auth/access_token"
	hr.Form = url.Values{}
	hr.Form.Set("grant_type", "authorization_pin")
	hr.Form.Set("code", "pin-1")

	resp, err := c.Do(context.Background(), hr)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.True(t, resp.Succeeded())
}

func TestDoGzipResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("Accept-Encoding"), "gzip")
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"compressed":true}`))
		_ = gz.Close()
	}))
	defer srv.Close()

	c := New(WithBaseURL(srv.URL))

	hr := syncer.NewHTTPRequest(http.MethodGet, "anilist.co")
	hr.Path = "/api/anime/1"

	resp, err := c.Do(context.Background(), hr)
	require.NoError(t, err)
	assert.JSONEq(t, `{"compressed":true}`, string(resp.Body))
}

func TestDoNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	c := New(WithBaseURL(srv.URL))

	hr := syncer.NewHTTPRequest(http.MethodGet, "anilist.co")
	hr.Path = "/api/anime/1"

	_, err := c.Do(context.Background(), hr)
	assert.Error(t, err)
}

func TestDoContextCanceled(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c := New(WithBaseURL(srv.URL))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	hr := syncer.NewHTTPRequest(http.MethodGet, "anilist.co")
	hr.Path = "/slow"

	_, err := c.Do(ctx, hr)
	assert.Error(t, err)
}
