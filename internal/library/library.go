// Package library manages the provider-agnostic anime library (items,
// external IDs, user progress).
package library

import (
	"time"
)

// ProviderID identifies an external tracking service.
type ProviderID string

const (
	ProviderAniList     ProviderID = "anilist"
	ProviderMyAnimeList ProviderID = "myanimelist"
	ProviderKitsu       ProviderID = "kitsu"
)

// AiringStatus tracks the broadcast state of a series.
type AiringStatus string

const (
	AiringUnknown  AiringStatus = "unknown"
	AiringAiring   AiringStatus = "airing"
	AiringFinished AiringStatus = "finished"
	AiringNotYet   AiringStatus = "not_yet_aired"
)

// SeriesType distinguishes broadcast formats.
type SeriesType string

const (
	TypeUnknown SeriesType = "unknown"
	TypeTV      SeriesType = "tv"
	TypeOVA     SeriesType = "ova"
	TypeMovie   SeriesType = "movie"
	TypeSpecial SeriesType = "special"
	TypeONA     SeriesType = "ona"
	TypeMusic   SeriesType = "music"
)

// WatchStatus is the user's list status for an item.
type WatchStatus string

const (
	StatusWatching    WatchStatus = "watching"
	StatusCompleted   WatchStatus = "completed"
	StatusOnHold      WatchStatus = "on_hold"
	StatusDropped     WatchStatus = "dropped"
	StatusPlanToWatch WatchStatus = "plan_to_watch"
)

// Item is one tracked title. The internal ID is stable across re-syncs;
// external IDs map one ID per provider.
type Item struct {
	ID             int64
	Title          string
	Synonyms       []string
	Synopsis       string
	EpisodeCount   int
	EpisodeLength  int
	CoverURL       string
	AiringStatus   AiringStatus
	Type           SeriesType
	AgeRating      string
	CommunityScore float64
	StartDate      string // YYYY-MM-DD, possibly partial
	EndDate        string
	Genres         []string
	ExternalIDs    map[ProviderID]string
	Delisted       bool
	LastModified   time.Time
	AddedAt        time.Time
	UpdatedAt      time.Time

	// User is nil when the item is known but not on the user's list.
	User *UserEntry
}

// UserEntry holds the user-specific fields of an item.
type UserEntry struct {
	Status       WatchStatus
	Score        float64 // 0-10, zero means unrated
	Progress     int
	RewatchCount int
	Rewatching   bool
	UpdatedAt    time.Time

	// DirtySince marks a local edit that has not been confirmed by the
	// provider yet. A stale server echo must not clobber it.
	DirtySince *time.Time
}

// ExternalID returns the item's ID on the given provider, if any.
func (i *Item) ExternalID(p ProviderID) (string, bool) {
	id, ok := i.ExternalIDs[p]
	return id, ok
}

// SetExternalID records the item's ID on a provider.
func (i *Item) SetExternalID(p ProviderID, id string) {
	if i.ExternalIDs == nil {
		i.ExternalIDs = make(map[ProviderID]string)
	}
	i.ExternalIDs[p] = id
}
