// Package anilist implements the sync.Adapter contract for the AniList APIv1
// dialect: form-encoded requests, pin-based OAuth and per-request title
// language preference.
package anilist

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/Diablofan/taiga/internal/library"
	syncer "github.com/Diablofan/taiga/internal/sync"
)

const (
	host      = "anilist.co"
	tokenPath = "/api/auth/access_token"
)

// Config carries the construction-time settings for the adapter; nothing is
// read from globals at request-build time.
type Config struct {
	ClientID     string
	ClientSecret string
	Username     string
	TitleLang    syncer.TitleLanguage
}

type builderFunc func(req *syncer.Request, hr *syncer.HTTPRequest) error
type parserFunc func(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error

// Adapter translates the generic sync contract into AniList APIv1 calls.
type Adapter struct {
	cfg Config
	log *slog.Logger

	builders map[syncer.RequestType]builderFunc
	parsers  map[syncer.RequestType]parserFunc
}

// New creates the AniList adapter. Every request type must have a builder;
// add and delete intentionally have no parser beyond the success check.
func New(cfg Config, log *slog.Logger) (*Adapter, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TitleLang == "" {
		cfg.TitleLang = syncer.TitleRomanized
	}
	a := &Adapter{
		cfg: cfg,
		log: log.With("component", "anilist"),
	}
	a.builders = map[syncer.RequestType]builderFunc{
		syncer.RequestAuthenticate:      a.buildAuthenticate,
		syncer.RequestRefreshAuth:       a.buildRefreshAuth,
		syncer.RequestGetLibraryEntries: a.buildGetLibraryEntries,
		syncer.RequestGetMetadataByID:   a.buildGetMetadataByID,
		syncer.RequestSearchTitle:       a.buildSearchTitle,
		syncer.RequestAddEntry:          a.buildAddEntry,
		syncer.RequestUpdateEntry:       a.buildUpdateEntry,
		syncer.RequestDeleteEntry:       a.buildDeleteEntry,
	}
	a.parsers = map[syncer.RequestType]parserFunc{
		syncer.RequestAuthenticate:      a.parseToken,
		syncer.RequestRefreshAuth:       a.parseToken,
		syncer.RequestGetLibraryEntries: a.parseLibraryEntries,
		syncer.RequestGetMetadataByID:   a.parseMetadata,
		syncer.RequestSearchTitle:       a.parseSearchResults,
		syncer.RequestUpdateEntry:       a.parseLibraryEntryBody,
	}
	for _, t := range syncer.AllRequestTypes() {
		if _, ok := a.builders[t]; !ok {
			return nil, fmt.Errorf("anilist: no builder for request type %s", t)
		}
	}
	return a, nil
}

// Descriptor returns the static identity of the adapter.
func (a *Adapter) Descriptor() syncer.Descriptor {
	return syncer.Descriptor{
		ID:        3,
		Canonical: library.ProviderAniList,
		Name:      "AniList",
		Host:      host,
	}
}

// AuthorizationURL is the page where the user obtains the one-time pin.
func (a *Adapter) AuthorizationURL() string {
	return "https://" + host + "/api/auth/authorize" +
		"?response_type=pin&grant_type=authorization_pin" +
		"&client_id=" + url.QueryEscape(a.cfg.ClientID)
}

// RotatesRefreshToken reports the vendor's refresh policy. AniList keeps the
// refresh token stable across refreshes.
func (a *Adapter) RotatesRefreshToken() bool { return false }

// NeedsAuthentication reports the token requirement per request type. Write
// operations always need a token; read operations merely behave differently
// when one is provided.
func (a *Adapter) NeedsAuthentication(t syncer.RequestType, hasToken bool) bool {
	switch t {
	case syncer.RequestAddEntry, syncer.RequestUpdateEntry, syncer.RequestDeleteEntry:
		return true
	case syncer.RequestGetLibraryEntries, syncer.RequestGetMetadataByID, syncer.RequestSearchTitle:
		return hasToken
	}
	return false
}

// BuildRequest fills the transport envelope for one request.
func (a *Adapter) BuildRequest(req *syncer.Request, creds *syncer.Credentials) (*syncer.HTTPRequest, error) {
	// The API requires HTTPS and answers JSON to each and every request.
	hr := syncer.NewHTTPRequest(http.MethodGet, host)

	if a.NeedsAuthentication(req.Type, creds.HasToken()) && creds.HasToken() {
		hr.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}

	if err := a.builders[req.Type](req, hr); err != nil {
		return nil, err
	}

	// APIv1 returns different title and alternate_title values depending on
	// the title_language_preference parameter.
	if a.supportsTitleLanguage(req.Type) {
		a.appendTitleLanguage(hr)
	}
	return hr, nil
}

func (a *Adapter) supportsTitleLanguage(t syncer.RequestType) bool {
	switch t {
	case syncer.RequestGetLibraryEntries,
		syncer.RequestGetMetadataByID,
		syncer.RequestSearchTitle,
		syncer.RequestUpdateEntry:
		return true
	}
	return false
}

// appendTitleLanguage adds the preference as a form field on POST-style
// requests and as a query parameter otherwise.
func (a *Adapter) appendTitleLanguage(hr *syncer.HTTPRequest) {
	if hr.HasBody() {
		hr.Form.Set("title_language_preference", string(a.cfg.TitleLang))
	} else {
		hr.Query.Set("title_language_preference", string(a.cfg.TitleLang))
	}
}

// Request builders

func (a *Adapter) buildAuthenticate(req *syncer.Request, hr *syncer.HTTPRequest) error {
	code := req.Data["code"]
	if code == "" {
		return fmt.Errorf("anilist: authenticate: missing authorization code")
	}
	hr.Method = http.MethodPost
	hr.Path = tokenPath
	hr.Form.Set("grant_type", "authorization_pin")
	hr.Form.Set("client_id", a.cfg.ClientID)
	hr.Form.Set("client_secret", a.cfg.ClientSecret)
	hr.Form.Set("code", code)
	return nil
}

func (a *Adapter) buildRefreshAuth(req *syncer.Request, hr *syncer.HTTPRequest) error {
	refreshToken := req.Data["refresh_token"]
	if refreshToken == "" {
		return fmt.Errorf("anilist: refresh: missing refresh token")
	}
	hr.Method = http.MethodPost
	hr.Path = tokenPath
	hr.Form.Set("grant_type", "refresh_token")
	hr.Form.Set("client_id", a.cfg.ClientID)
	hr.Form.Set("client_secret", a.cfg.ClientSecret)
	hr.Form.Set("refresh_token", refreshToken)
	return nil
}

func (a *Adapter) buildGetLibraryEntries(req *syncer.Request, hr *syncer.HTTPRequest) error {
	if a.cfg.Username == "" {
		return fmt.Errorf("anilist: get library entries: no username configured")
	}
	hr.Method = http.MethodGet
	hr.Path = "/api/user/" + url.PathEscape(a.cfg.Username) + "/animelist"
	return nil
}

func (a *Adapter) buildGetMetadataByID(req *syncer.Request, hr *syncer.HTTPRequest) error {
	hr.Method = http.MethodGet
	hr.Path = "/api/anime/" + url.PathEscape(req.ExternalID)
	return nil
}

func (a *Adapter) buildSearchTitle(req *syncer.Request, hr *syncer.HTTPRequest) error {
	hr.Method = http.MethodGet
	hr.Path = "/api/anime/search/" + url.PathEscape(req.Query)
	return nil
}

func (a *Adapter) buildAddEntry(req *syncer.Request, hr *syncer.HTTPRequest) error {
	entry, err := entryForm(req)
	if err != nil {
		return err
	}
	hr.Method = http.MethodPost
	hr.Path = "/api/animelist"
	hr.Form = entry
	return nil
}

func (a *Adapter) buildUpdateEntry(req *syncer.Request, hr *syncer.HTTPRequest) error {
	entry, err := entryForm(req)
	if err != nil {
		return err
	}
	hr.Method = http.MethodPut
	hr.Path = "/api/animelist"
	hr.Form = entry
	return nil
}

func (a *Adapter) buildDeleteEntry(req *syncer.Request, hr *syncer.HTTPRequest) error {
	if req.ExternalID == "" {
		return fmt.Errorf("anilist: delete entry: missing id")
	}
	hr.Method = http.MethodDelete
	hr.Path = "/api/animelist/" + url.PathEscape(req.ExternalID)
	return nil
}

// entryForm flattens the user entry of an item into APIv1 form fields.
func entryForm(req *syncer.Request) (url.Values, error) {
	if req.Item == nil || req.Item.User == nil {
		return nil, fmt.Errorf("anilist: %s: request carries no user entry", req.Type)
	}
	id, ok := req.Item.ExternalID(library.ProviderAniList)
	if !ok {
		id = req.ExternalID
	}
	if id == "" {
		return nil, fmt.Errorf("anilist: %s: item has no AniList id", req.Type)
	}
	u := req.Item.User
	form := url.Values{}
	form.Set("id", id)
	form.Set("list_status", translateMyStatusTo(u.Status))
	form.Set("episodes_watched", fmt.Sprintf("%d", u.Progress))
	form.Set("rewatched_times", fmt.Sprintf("%d", u.RewatchCount))
	if u.Rewatching {
		form.Set("rewatching", "1")
	} else {
		form.Set("rewatching", "0")
	}
	if u.Score > 0 {
		form.Set("score_raw", fmt.Sprintf("%.0f", u.Score*10))
	}
	return form, nil
}
