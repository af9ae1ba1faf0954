package anilist

import (
	"strconv"
	"strings"
	"time"

	"github.com/Diablofan/taiga/internal/library"
)

func translateSeriesStatus(s string) library.AiringStatus {
	switch strings.ToLower(s) {
	case "currently airing":
		return library.AiringAiring
	case "finished airing":
		return library.AiringFinished
	case "not yet aired":
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
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "G":
		return "G"
	case "PG":
		return "PG"
	case "PG13", "PG-13":
		return "PG-13"
	case "R17+", "R":
		return "R17+"
	case "R18+", "RX":
		return "R18+"
	}
	return ""
}

// translateCommunityRating scales the vendor's 0-5 community rating to the
// library's 0-10 range.
func translateCommunityRating(v float64) float64 {
	score := v * 2
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

func translateMyStatus(s string) library.WatchStatus {
	switch strings.ToLower(s) {
	case "currently-watching", "watching":
		return library.StatusWatching
	case "completed":
		return library.StatusCompleted
	case "on-hold":
		return library.StatusOnHold
	case "dropped":
		return library.StatusDropped
	case "plan-to-watch":
		return library.StatusPlanToWatch
	}
	return library.StatusWatching
}

func translateMyStatusTo(s library.WatchStatus) string {
	switch s {
	case library.StatusWatching:
		return "currently-watching"
	case library.StatusCompleted:
		return "completed"
	case library.StatusOnHold:
		return "on-hold"
	case library.StatusDropped:
		return "dropped"
	case library.StatusPlanToWatch:
		return "plan-to-watch"
	}
	return "currently-watching"
}

// translateMyRating interprets a raw rating value together with its scale
// type. The two fields only make sense jointly.
func translateMyRating(value, ratingType string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	var score float64
	switch strings.ToLower(ratingType) {
	case "5star", "advanced":
		score = v * 2
	case "percent":
		score = v / 10
	default: // "10point" and anything unrecognized
		score = v
	}
	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

// translateTimestamp parses the vendor's RFC3339 timestamps, accepting a
// bare date as fallback. Zero time on failure.
func translateTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t
	}
	return time.Time{}
}
