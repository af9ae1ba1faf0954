// Package myanimelist implements the sync.Adapter contract for the
// MyAnimeList API v2 dialect: Bearer auth against a separate OAuth host,
// field-selection query parameters and PATCH-based list updates.
package myanimelist

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Diablofan/taiga/internal/library"
	syncer "github.com/Diablofan/taiga/internal/sync"
)

const (
	apiHost   = "api.myanimelist.net"
	oauthHost = "myanimelist.net"
	tokenPath = "/v1/oauth2/token"

	// animeFields selects the metadata columns v2 endpoints return.
	animeFields = "alternative_titles,media_type,status,num_episodes,average_episode_duration,synopsis,mean,rating,genres,main_picture,start_date,end_date"

	listPageLimit = 1000
)

// Config carries construction-time settings for the adapter.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Adapter translates the generic sync contract into MyAnimeList v2 calls.
type Adapter struct {
	cfg Config
	log *slog.Logger
}

// New creates the MyAnimeList adapter.
func New(cfg Config, log *slog.Logger) (*Adapter, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("myanimelist: client id is required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{cfg: cfg, log: log.With("component", "myanimelist")}, nil
}

// Descriptor returns the static identity of the adapter.
func (a *Adapter) Descriptor() syncer.Descriptor {
	return syncer.Descriptor{
		ID:        1,
		Canonical: library.ProviderMyAnimeList,
		Name:      "MyAnimeList",
		Host:      apiHost,
	}
}

// AuthorizationURL is the page where the user obtains the one-time code.
func (a *Adapter) AuthorizationURL() string {
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", a.cfg.ClientID)
	if a.cfg.RedirectURI != "" {
		q.Set("redirect_uri", a.cfg.RedirectURI)
	}
	return "https://" + oauthHost + "/v1/oauth2/authorize?" + q.Encode()
}

// RotatesRefreshToken reports the vendor's refresh policy. MyAnimeList
// issues a new refresh token on every refresh.
func (a *Adapter) RotatesRefreshToken() bool { return true }

// NeedsAuthentication reports the token requirement per request type. The
// user's list and all writes need a token; metadata and search merely gain
// personal fields when one is present.
func (a *Adapter) NeedsAuthentication(t syncer.RequestType, hasToken bool) bool {
	switch t {
	case syncer.RequestAddEntry, syncer.RequestUpdateEntry, syncer.RequestDeleteEntry,
		syncer.RequestGetLibraryEntries:
		return true
	case syncer.RequestGetMetadataByID, syncer.RequestSearchTitle:
		return hasToken
	}
	return false
}

// BuildRequest fills the transport envelope for one request.
func (a *Adapter) BuildRequest(req *syncer.Request, creds *syncer.Credentials) (*syncer.HTTPRequest, error) {
	hr := syncer.NewHTTPRequest(http.MethodGet, apiHost)

	if a.NeedsAuthentication(req.Type, creds.HasToken()) && creds.HasToken() {
		hr.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}

	switch req.Type {
	case syncer.RequestAuthenticate:
		code := req.Data["code"]
		if code == "" {
			return nil, fmt.Errorf("myanimelist: authenticate: missing authorization code")
		}
		hr.Method = http.MethodPost
		hr.Host = oauthHost
		hr.Path = tokenPath
		hr.Form.Set("client_id", a.cfg.ClientID)
		hr.Form.Set("client_secret", a.cfg.ClientSecret)
		hr.Form.Set("grant_type", "authorization_code")
		hr.Form.Set("code", code)
		if a.cfg.RedirectURI != "" {
			hr.Form.Set("redirect_uri", a.cfg.RedirectURI)
		}

	case syncer.RequestRefreshAuth:
		refreshToken := req.Data["refresh_token"]
		if refreshToken == "" {
			return nil, fmt.Errorf("myanimelist: refresh: missing refresh token")
		}
		hr.Method = http.MethodPost
		hr.Host = oauthHost
		hr.Path = tokenPath
		hr.Form.Set("client_id", a.cfg.ClientID)
		hr.Form.Set("client_secret", a.cfg.ClientSecret)
		hr.Form.Set("grant_type", "refresh_token")
		hr.Form.Set("refresh_token", refreshToken)

	case syncer.RequestGetLibraryEntries:
		hr.Path = "/v2/users/@me/animelist"
		hr.Query.Set("fields", "list_status,"+animeFields)
		hr.Query.Set("limit", strconv.Itoa(listPageLimit))
		hr.Query.Set("nsfw", "true")

	case syncer.RequestGetMetadataByID:
		hr.Path = "/v2/anime/" + url.PathEscape(req.ExternalID)
		hr.Query.Set("fields", animeFields)

	case syncer.RequestSearchTitle:
		hr.Path = "/v2/anime"
		hr.Query.Set("q", req.Query)
		hr.Query.Set("limit", "25")
		hr.Query.Set("fields", animeFields)

	case syncer.RequestAddEntry, syncer.RequestUpdateEntry:
		// v2 has no separate add; PATCH creates the entry when absent.
		form, id, err := listStatusForm(req)
		if err != nil {
			return nil, err
		}
		hr.Method = http.MethodPatch
		hr.Path = "/v2/anime/" + url.PathEscape(id) + "/my_list_status"
		hr.Form = form

	case syncer.RequestDeleteEntry:
		if req.ExternalID == "" {
			return nil, fmt.Errorf("myanimelist: delete entry: missing id")
		}
		hr.Method = http.MethodDelete
		hr.Path = "/v2/anime/" + url.PathEscape(req.ExternalID) + "/my_list_status"

	default:
		return nil, fmt.Errorf("myanimelist: unsupported request type %s", req.Type)
	}

	return hr, nil
}

// listStatusForm flattens the user entry of an item into my_list_status
// PATCH fields.
func listStatusForm(req *syncer.Request) (url.Values, string, error) {
	if req.Item == nil || req.Item.User == nil {
		return nil, "", fmt.Errorf("myanimelist: %s: request carries no user entry", req.Type)
	}
	id, ok := req.Item.ExternalID(library.ProviderMyAnimeList)
	if !ok {
		id = req.ExternalID
	}
	if id == "" {
		return nil, "", fmt.Errorf("myanimelist: %s: item has no MyAnimeList id", req.Type)
	}
	u := req.Item.User
	form := url.Values{}
	form.Set("status", translateMyStatusTo(u.Status))
	form.Set("num_watched_episodes", strconv.Itoa(u.Progress))
	form.Set("num_times_rewatched", strconv.Itoa(u.RewatchCount))
	form.Set("is_rewatching", strconv.FormatBool(u.Rewatching))
	if u.Score > 0 {
		form.Set("score", strconv.Itoa(int(u.Score+0.5)))
	}
	return form, id, nil
}

// HandleResponse checks the transport result and parses the body.
func (a *Adapter) HandleResponse(req *syncer.Request, hr *syncer.HTTPResponse) (*syncer.Response, error) {
	if !hr.Succeeded() {
		return nil, a.classifyError(req.Type, hr)
	}

	resp := &syncer.Response{Type: req.Type, Provider: library.ProviderMyAnimeList}
	switch req.Type {
	case syncer.RequestAuthenticate, syncer.RequestRefreshAuth:
		return resp, a.parseToken(req, hr, resp)
	case syncer.RequestGetLibraryEntries:
		return resp, a.parseLibraryEntries(req, hr, resp)
	case syncer.RequestGetMetadataByID:
		return resp, a.parseMetadata(req, hr, resp)
	case syncer.RequestSearchTitle:
		return resp, a.parseSearchResults(req, hr, resp)
	}
	// Add, update and delete report success or failure only.
	return resp, nil
}

// classifyError turns a non-2xx response into a typed error.
func (a *Adapter) classifyError(t syncer.RequestType, hr *syncer.HTTPResponse) error {
	if hr.StatusCode == http.StatusUnauthorized {
		return &syncer.AuthExpiredError{Provider: library.ProviderMyAnimeList}
	}

	prefix := a.Descriptor().Name + " returned an error: "

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(hr.Body, &body); err == nil && (body.Error != "" || body.Message != "") {
		text := body.Message
		if text == "" {
			text = body.Error
		}
		return &syncer.VendorError{
			Provider: library.ProviderMyAnimeList,
			Message:  prefix + text,
			NotFound: t == syncer.RequestGetMetadataByID && hr.StatusCode == http.StatusNotFound,
		}
	}

	return &syncer.VendorError{
		Provider: library.ProviderMyAnimeList,
		Message: fmt.Sprintf("%sUnknown error (%s|%s|%d)",
			prefix, library.ProviderMyAnimeList, t, hr.StatusCode),
		NotFound: t == syncer.RequestGetMetadataByID && hr.StatusCode == http.StatusNotFound,
	}
}

func parseError(t syncer.RequestType, msg string) error {
	return &syncer.ParseError{Provider: library.ProviderMyAnimeList, Type: t, Message: msg}
}

type tokenObject struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

type animeNode struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	MainPicture struct {
		Large  string `json:"large"`
		Medium string `json:"medium"`
	} `json:"main_picture"`
	AlternativeTitles struct {
		Synonyms []string `json:"synonyms"`
		En       string   `json:"en"`
		Ja       string   `json:"ja"`
	} `json:"alternative_titles"`
	MediaType       string  `json:"media_type"`
	Status          string  `json:"status"`
	NumEpisodes     int     `json:"num_episodes"`
	AvgEpisodeSecs  int     `json:"average_episode_duration"`
	Synopsis        string  `json:"synopsis"`
	Mean            float64 `json:"mean"`
	Rating          string  `json:"rating"`
	StartDate       string  `json:"start_date"`
	EndDate         string  `json:"end_date"`
	Genres          []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

type listStatus struct {
	Status             string `json:"status"`
	Score              int    `json:"score"`
	NumEpisodesWatched int    `json:"num_episodes_watched"`
	IsRewatching       bool   `json:"is_rewatching"`
	NumTimesRewatched  int    `json:"num_times_rewatched"`
	UpdatedAt          string `json:"updated_at"`
}

func (a *Adapter) parseToken(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error {
	var tok tokenObject
	if err := json.Unmarshal(hr.Body, &tok); err != nil || tok.AccessToken == "" {
		return parseError(req.Type, "could not parse token response")
	}
	resp.Token = &syncer.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    time.Duration(tok.ExpiresIn) * time.Second,
	}
	return nil
}

func (a *Adapter) parseLibraryEntries(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error {
	var page struct {
		Data []struct {
			Node       animeNode  `json:"node"`
			ListStatus listStatus `json:"list_status"`
		} `json:"data"`
	}
	if err := json.Unmarshal(hr.Body, &page); err != nil {
		return parseError(req.Type, "could not parse the list")
	}
	for _, entry := range page.Data {
		if entry.Node.ID == 0 {
			a.log.Warn("skipping library entry without id")
			continue
		}
		item := a.animeItem(entry.Node)
		if ts := translateTimestamp(entry.ListStatus.UpdatedAt); !ts.IsZero() {
			item.LastModified = ts
		}
		item.User = a.userEntry(entry.ListStatus)
		resp.Items = append(resp.Items, item)
	}
	return nil
}

func (a *Adapter) parseMetadata(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error {
	var node animeNode
	if err := json.Unmarshal(hr.Body, &node); err != nil || node.ID == 0 {
		return parseError(req.Type, "could not parse the anime object")
	}
	resp.Items = append(resp.Items, a.animeItem(node))
	return nil
}

func (a *Adapter) parseSearchResults(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error {
	var page struct {
		Data []struct {
			Node animeNode `json:"node"`
		} `json:"data"`
	}
	if err := json.Unmarshal(hr.Body, &page); err != nil {
		return parseError(req.Type, "could not parse search results")
	}
	for _, entry := range page.Data {
		if entry.Node.ID == 0 {
			continue
		}
		resp.Items = append(resp.Items, a.animeItem(entry.Node))
	}
	return nil
}

func (a *Adapter) animeItem(node animeNode) *library.Item {
	item := &library.Item{
		Title:          node.Title,
		Synopsis:       node.Synopsis,
		EpisodeCount:   node.NumEpisodes,
		EpisodeLength:  node.AvgEpisodeSecs / 60,
		CoverURL:       node.MainPicture.Large,
		AiringStatus:   translateSeriesStatus(node.Status),
		Type:           translateSeriesType(node.MediaType),
		AgeRating:      translateAgeRating(node.Rating),
		CommunityScore: node.Mean,
		StartDate:      node.StartDate,
		EndDate:        node.EndDate,
		LastModified:   time.Now(),
	}
	if item.CoverURL == "" {
		item.CoverURL = node.MainPicture.Medium
	}
	var synonyms []string
	if node.AlternativeTitles.En != "" {
		synonyms = append(synonyms, node.AlternativeTitles.En)
	}
	if node.AlternativeTitles.Ja != "" {
		synonyms = append(synonyms, node.AlternativeTitles.Ja)
	}
	synonyms = append(synonyms, node.AlternativeTitles.Synonyms...)
	item.Synonyms = synonyms
	for _, g := range node.Genres {
		if g.Name != "" {
			item.Genres = append(item.Genres, g.Name)
		}
	}
	item.SetExternalID(library.ProviderMyAnimeList, strconv.Itoa(node.ID))
	return item
}

func (a *Adapter) userEntry(ls listStatus) *library.UserEntry {
	return &library.UserEntry{
		Status:       translateMyStatus(ls.Status),
		Score:        float64(ls.Score),
		Progress:     ls.NumEpisodesWatched,
		RewatchCount: ls.NumTimesRewatched,
		Rewatching:   ls.IsRewatching,
		UpdatedAt:    translateTimestamp(ls.UpdatedAt),
	}
}

func translateTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return time.Time{}
}

func translateSeriesStatus(s string) library.AiringStatus {
	switch strings.ToLower(s) {
	case "currently_airing":
		return library.AiringAiring
	case "finished_airing":
		return library.AiringFinished
	case "not_yet_aired":
		return library.AiringNotYet
	}
	return library.AiringUnknown
}

func translateSeriesType(s string) library.SeriesType {
	switch strings.ToLower(s) {
	case "tv":
		return library.TypeTV
	case "ova":
		return library.TypeOVA
	case "movie":
		return library.TypeMovie
	case "special":
		return library.TypeSpecial
	case "ona":
		return library.TypeONA
	case "music":
		return library.TypeMusic
	}
	return library.TypeUnknown
}

func translateAgeRating(s string) string {
	switch strings.ToLower(s) {
	case "g":
		return "G"
	case "pg":
		return "PG"
	case "pg_13":
		return "PG-13"
	case "r":
		return "R17+"
	case "r+", "rx":
		return "R18+"
	}
	return ""
}

func translateMyStatus(s string) library.WatchStatus {
	switch strings.ToLower(s) {
	case "watching":
		return library.StatusWatching
	case "completed":
		return library.StatusCompleted
	case "on_hold":
		return library.StatusOnHold
	case "dropped":
		return library.StatusDropped
	case "plan_to_watch":
		return library.StatusPlanToWatch
	}
	return library.StatusWatching
}

func translateMyStatusTo(s library.WatchStatus) string {
	switch s {
	case library.StatusCompleted:
		return "completed"
	case library.StatusOnHold:
		return "on_hold"
	case library.StatusDropped:
		return "dropped"
	case library.StatusPlanToWatch:
		return "plan_to_watch"
	}
	return "watching"
}
