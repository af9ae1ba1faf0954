package anilist

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Diablofan/taiga/internal/library"
	syncer "github.com/Diablofan/taiga/internal/sync"
)

// notFoundMarker is the substring AniList embeds in its error text when the
// queried anime no longer exists. Fragile, but it is all the vendor offers;
// classification is isolated here so structured codes can replace it.
const notFoundMarker = "Couldn't find Anime with 'id'="

// HandleResponse checks the transport result and dispatches to the per-type
// parser. Request types without a parser only report success or failure.
func (a *Adapter) HandleResponse(req *syncer.Request, hr *syncer.HTTPResponse) (*syncer.Response, error) {
	if !hr.Succeeded() {
		return nil, a.classifyError(req.Type, hr)
	}

	resp := &syncer.Response{Type: req.Type, Provider: library.ProviderAniList}
	parser, ok := a.parsers[req.Type]
	if !ok {
		return resp, nil
	}
	if err := parser(req, hr, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// classifyError turns a non-2xx response into a typed error.
func (a *Adapter) classifyError(t syncer.RequestType, hr *syncer.HTTPResponse) error {
	if hr.StatusCode == http.StatusUnauthorized {
		return &syncer.AuthExpiredError{Provider: library.ProviderAniList}
	}

	prefix := a.Descriptor().Name + " returned an error: "

	var body struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(hr.Body, &body); err == nil && len(body.Error) > 0 {
		text := errorText(body.Error)
		return &syncer.VendorError{
			Provider: library.ProviderAniList,
			Message:  prefix + text,
			NotFound: t == syncer.RequestGetMetadataByID && strings.Contains(text, notFoundMarker),
		}
	}

	return &syncer.VendorError{
		Provider: library.ProviderAniList,
		Message: fmt.Sprintf("%sUnknown error (%s|%s|%d)",
			prefix, library.ProviderAniList, t, hr.StatusCode),
	}
}

// errorText extracts the message from either a bare string or an OAuth-style
// error object.
func errorText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}

// decodeBody unmarshals the response body, mapping the vendor's literal
// "false" body and malformed JSON to a per-request-type parse error.
func decodeBody(t syncer.RequestType, body []byte, v any) error {
	trimmed := strings.TrimSpace(string(body))
	if trimmed != "false" && trimmed != "" {
		if err := json.Unmarshal(body, v); err == nil {
			return nil
		}
	}

	var msg string
	switch t {
	case syncer.RequestGetLibraryEntries:
		msg = "could not parse the list"
	case syncer.RequestGetMetadataByID:
		msg = "could not parse the anime object"
	case syncer.RequestSearchTitle:
		msg = "could not parse search results"
	case syncer.RequestUpdateEntry:
		msg = "could not parse library entry"
	default:
		msg = "could not parse response"
	}
	return &syncer.ParseError{Provider: library.ProviderAniList, Type: t, Message: msg}
}

// Wire shapes. Fields missing from a payload default instead of failing the
// whole parse.

type animeObject struct {
	ID              int     `json:"id"`
	Slug            string  `json:"slug"`
	Status          string  `json:"status"`
	Title           string  `json:"title"`
	AlternateTitle  string  `json:"alternate_title"`
	EpisodeCount    int     `json:"episode_count"`
	EpisodeLength   int     `json:"episode_length"`
	CoverImage      string  `json:"cover_image"`
	Synopsis        string  `json:"synopsis"`
	ShowType        string  `json:"show_type"`
	StartedAiring   string  `json:"started_airing"`
	FinishedAiring  string  `json:"finished_airing"`
	CommunityRating float64 `json:"community_rating"`
	AgeRating       string  `json:"age_rating"`
	MALID           int     `json:"mal_id"`
	Genres          []struct {
		Name string `json:"name"`
	} `json:"genres"`
}

type libraryObject struct {
	Anime           animeObject `json:"anime"`
	EpisodesWatched int         `json:"episodes_watched"`
	UpdatedAt       string      `json:"updated_at"`
	RewatchedTimes  int         `json:"rewatched_times"`
	Status          string      `json:"status"`
	Rewatching      bool        `json:"rewatching"`
	Rating          struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"rating"`
}

type tokenObject struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Response parsers

func (a *Adapter) parseToken(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error {
	var tok tokenObject
	if err := decodeBody(req.Type, hr.Body, &tok); err != nil {
		return err
	}
	if tok.AccessToken == "" {
		return &syncer.ParseError{
			Provider: library.ProviderAniList,
			Type:     req.Type,
			Message:  "token response missing access_token",
		}
	}
	resp.Token = &syncer.TokenPair{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresIn:    time.Duration(tok.ExpiresIn) * time.Second,
	}
	return nil
}

func (a *Adapter) parseLibraryEntries(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error {
	// The animelist endpoint groups entries by list; a flat array is also
	// accepted for forward compatibility.
	var grouped struct {
		Lists map[string][]libraryObject `json:"lists"`
	}
	var entries []libraryObject
	if err := decodeBody(req.Type, hr.Body, &grouped); err == nil && grouped.Lists != nil {
		for _, list := range grouped.Lists {
			entries = append(entries, list...)
		}
	} else if err := decodeBody(req.Type, hr.Body, &entries); err != nil {
		return err
	}

	for _, entry := range entries {
		item, err := a.libraryItem(entry)
		if err != nil {
			// One bad entry must not sink the batch.
			a.log.Warn("skipping malformed library entry", "error", err)
			continue
		}
		resp.Items = append(resp.Items, item)
	}
	return nil
}

func (a *Adapter) parseMetadata(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error {
	var obj animeObject
	if err := decodeBody(req.Type, hr.Body, &obj); err != nil {
		return err
	}
	if obj.ID == 0 {
		return &syncer.ParseError{
			Provider: library.ProviderAniList,
			Type:     req.Type,
			Message:  "could not parse the anime object",
		}
	}
	resp.Items = append(resp.Items, a.animeItem(obj))
	return nil
}

func (a *Adapter) parseSearchResults(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error {
	var objs []animeObject
	if err := decodeBody(req.Type, hr.Body, &objs); err != nil {
		return err
	}
	for _, obj := range objs {
		if obj.ID == 0 {
			continue
		}
		resp.Items = append(resp.Items, a.animeItem(obj))
	}
	return nil
}

func (a *Adapter) parseLibraryEntryBody(req *syncer.Request, hr *syncer.HTTPResponse, resp *syncer.Response) error {
	var entry libraryObject
	if err := decodeBody(req.Type, hr.Body, &entry); err != nil {
		return err
	}
	item, err := a.libraryItem(entry)
	if err != nil {
		return &syncer.ParseError{
			Provider: library.ProviderAniList,
			Type:     req.Type,
			Message:  "could not parse library entry",
		}
	}
	resp.Items = append(resp.Items, item)
	return nil
}

// animeItem maps an anime object onto a library item: series metadata plus
// any embedded cross-provider reference.
func (a *Adapter) animeItem(obj animeObject) *library.Item {
	item := &library.Item{
		Title:          obj.Title,
		Synopsis:       obj.Synopsis,
		EpisodeCount:   obj.EpisodeCount,
		EpisodeLength:  obj.EpisodeLength,
		CoverURL:       obj.CoverImage,
		AiringStatus:   translateSeriesStatus(obj.Status),
		Type:           translateSeriesType(obj.ShowType),
		AgeRating:      translateAgeRating(obj.AgeRating),
		CommunityScore: translateCommunityRating(obj.CommunityRating),
		StartDate:      obj.StartedAiring,
		EndDate:        obj.FinishedAiring,
		LastModified:   time.Now(),
	}
	if obj.AlternateTitle != "" {
		item.Synonyms = []string{obj.AlternateTitle}
	}
	for _, g := range obj.Genres {
		if g.Name != "" {
			item.Genres = append(item.Genres, g.Name)
		}
	}
	item.SetExternalID(library.ProviderAniList, strconv.Itoa(obj.ID))
	// A recognized MyAnimeList reference enables cross-provider identity
	// reconciliation.
	if obj.MALID > 0 {
		item.SetExternalID(library.ProviderMyAnimeList, strconv.Itoa(obj.MALID))
	}
	return item
}

// libraryItem decodes the nested anime object first, then overlays the
// user-specific fields.
func (a *Adapter) libraryItem(entry libraryObject) (*library.Item, error) {
	if entry.Anime.ID == 0 {
		return nil, fmt.Errorf("library entry has no anime id")
	}
	item := a.animeItem(entry.Anime)
	// The entry's own modification time, not the fetch time, drives the
	// last-writer-wins merge.
	if ts := translateTimestamp(entry.UpdatedAt); !ts.IsZero() {
		item.LastModified = ts
	}
	item.User = &library.UserEntry{
		Status:       translateMyStatus(entry.Status),
		Score:        translateMyRating(entry.Rating.Value, entry.Rating.Type),
		Progress:     entry.EpisodesWatched,
		RewatchCount: entry.RewatchedTimes,
		Rewatching:   entry.Rewatching,
		UpdatedAt:    translateTimestamp(entry.UpdatedAt),
	}
	return item, nil
}
