// Package reconcile merges provider payloads into the local library. Each
// incoming entry is resolved to a stable local item (by provider ID, by
// cross-provider reference, or by title match), then merged with
// last-writer-wins metadata and edit-protected user fields.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Diablofan/taiga/internal/events"
	"github.com/Diablofan/taiga/internal/library"
)

// Engine reconciles incoming provider entries against the library store.
// One merge runs in one transaction; a failure leaves the item untouched.
type Engine struct {
	store *library.Store
	bus   *events.Bus
	match *Matcher
	log   *slog.Logger
}

// New creates a reconciliation engine. The bus may be nil in tests.
func New(store *library.Store, bus *events.Bus, matchThreshold float64, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store: store,
		bus:   bus,
		match: NewMatcher(matchThreshold),
		log:   log.With("component", "reconcile"),
	}
}

// MergeEntry folds one provider payload into the library and returns the
// stored item. Replaying the same payload is a no-op: nothing is written and
// no event is published.
func (e *Engine) MergeEntry(ctx context.Context, provider library.ProviderID, incoming *library.Item) (*library.Item, error) {
	extID, ok := incoming.ExternalID(provider)
	if !ok || extID == "" {
		return nil, fmt.Errorf("reconcile: payload from %s has no external id", provider)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx, err := e.store.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	existing, linked, err := e.resolve(tx, provider, incoming, extID)
	if err != nil {
		return nil, err
	}

	var pending []events.Event

	if existing == nil {
		incoming.Delisted = false
		if err := tx.AddItem(incoming); err != nil {
			return nil, err
		}
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		e.publish(ctx, &events.ItemAdded{
			BaseEvent: events.NewBaseEvent(events.EventItemAdded, "item", incoming.ID),
			ItemID:    incoming.ID,
			Title:     incoming.Title,
			Provider:  string(provider),
		})
		e.log.Info("item added", "id", incoming.ID, "title", incoming.Title, "provider", provider)
		return incoming, nil
	}

	if linked {
		if err := tx.SetExternalID(existing.ID, provider, extID); err != nil {
			return nil, err
		}
		existing.SetExternalID(provider, extID)
		pending = append(pending, &events.ItemLinked{
			BaseEvent:  events.NewBaseEvent(events.EventItemLinked, "item", existing.ID),
			ItemID:     existing.ID,
			Provider:   string(provider),
			ExternalID: extID,
		})
	}

	before := fingerprint(existing)
	e.merge(existing, incoming)
	changed := fingerprint(existing) != before

	if changed {
		if err := tx.UpdateItem(existing); err != nil {
			return nil, err
		}
		pending = append(pending, &events.ItemUpdated{
			BaseEvent: events.NewBaseEvent(events.EventItemUpdated, "item", existing.ID),
			ItemID:    existing.ID,
			Provider:  string(provider),
		})
	}

	if len(pending) == 0 {
		// Identical payload. Nothing to write, nothing to announce.
		return existing, tx.Commit()
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for _, ev := range pending {
		e.publish(ctx, ev)
	}
	return existing, nil
}

// MarkDelisted flags the item a provider no longer recognizes. The item and
// the user's entry stay in the library. Already-delisted items are a no-op.
func (e *Engine) MarkDelisted(ctx context.Context, provider library.ProviderID, externalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := e.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	item, err := tx.GetByExternalID(provider, externalID)
	if err != nil {
		return err
	}
	if item.Delisted {
		return tx.Commit()
	}
	if err := tx.MarkDelisted(provider, externalID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.publish(ctx, &events.ItemDelisted{
		BaseEvent: events.NewBaseEvent(events.EventItemDelisted, "item", item.ID),
		ItemID:    item.ID,
		Provider:  string(provider),
	})
	e.log.Info("item delisted", "id", item.ID, "provider", provider)
	return nil
}

// resolve finds the local item an incoming payload belongs to. The second
// return is true when the match came from a cross-reference or a title match
// and the triggering provider's ID still has to be attached.
func (e *Engine) resolve(tx *library.Tx, provider library.ProviderID, incoming *library.Item, extID string) (*library.Item, bool, error) {
	item, err := tx.GetByExternalID(provider, extID)
	if err == nil {
		return item, false, nil
	}
	if !errors.Is(err, library.ErrNotFound) {
		return nil, false, err
	}

	// Cross-provider references embedded in the payload.
	for p, id := range incoming.ExternalIDs {
		if p == provider {
			continue
		}
		item, err := tx.GetByExternalID(p, id)
		if err == nil {
			return item, true, nil
		}
		if !errors.Is(err, library.ErrNotFound) {
			return nil, false, err
		}
	}

	// Last resort: title matching across the whole library.
	candidates, _, err := tx.ListItems(library.Filter{})
	if err != nil {
		return nil, false, err
	}
	if match := e.match.Match(incoming, candidates); match != nil {
		e.log.Debug("matched by title",
			"incoming", incoming.Title, "existing", match.Title, "id", match.ID)
		return match, true, nil
	}
	return nil, false, nil
}

// merge folds incoming state into the existing item in place.
func (e *Engine) merge(existing, incoming *library.Item) {
	// The provider recognizes the item again.
	existing.Delisted = false

	// Cross-provider references accumulate; a payload never removes one.
	for p, id := range incoming.ExternalIDs {
		if _, known := existing.ExternalIDs[p]; !known {
			existing.SetExternalID(p, id)
		}
	}

	// Metadata is last-writer-wins on the provider's modification time.
	if incoming.LastModified.After(existing.LastModified) {
		overlayMetadata(existing, incoming)
	}

	e.mergeUser(existing, incoming)
}

// mergeUser applies the incoming user entry unless a pending local edit
// would be clobbered by a stale server echo.
func (e *Engine) mergeUser(existing, incoming *library.Item) {
	if incoming.User == nil {
		return
	}
	if existing.User == nil {
		existing.User = incoming.User
		return
	}
	if dirty := existing.User.DirtySince; dirty != nil && !incoming.User.UpdatedAt.After(*dirty) {
		e.log.Debug("keeping local edit over stale server state", "id", existing.ID)
		return
	}
	// The server state is authoritative; a confirmed edit is no longer
	// pending.
	incoming.User.DirtySince = nil
	existing.User = incoming.User
}

func overlayMetadata(existing, incoming *library.Item) {
	if incoming.Title != "" {
		existing.Title = incoming.Title
	}
	if len(incoming.Synonyms) > 0 {
		existing.Synonyms = incoming.Synonyms
	}
	if incoming.Synopsis != "" {
		existing.Synopsis = incoming.Synopsis
	}
	if incoming.EpisodeCount > 0 {
		existing.EpisodeCount = incoming.EpisodeCount
	}
	if incoming.EpisodeLength > 0 {
		existing.EpisodeLength = incoming.EpisodeLength
	}
	if incoming.CoverURL != "" {
		existing.CoverURL = incoming.CoverURL
	}
	if incoming.AiringStatus != library.AiringUnknown {
		existing.AiringStatus = incoming.AiringStatus
	}
	if incoming.Type != library.TypeUnknown {
		existing.Type = incoming.Type
	}
	if incoming.AgeRating != "" {
		existing.AgeRating = incoming.AgeRating
	}
	if incoming.CommunityScore > 0 {
		existing.CommunityScore = incoming.CommunityScore
	}
	if incoming.StartDate != "" {
		existing.StartDate = incoming.StartDate
	}
	if incoming.EndDate != "" {
		existing.EndDate = incoming.EndDate
	}
	if len(incoming.Genres) > 0 {
		existing.Genres = incoming.Genres
	}
	existing.LastModified = incoming.LastModified
}

func (e *Engine) publish(ctx context.Context, ev events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, ev); err != nil {
		e.log.Warn("publishing event failed", "type", ev.EventType(), "error", err)
	}
}

// fingerprint serializes the merge-relevant state of an item. Timestamps the
// store maintains itself are excluded, and so is the provider modification
// clock: it only gates the metadata overlay, and adapters may stamp it per
// fetch, which would make every replay look like a change.
func fingerprint(item *library.Item) string {
	shadow := struct {
		Title          string
		Synonyms       []string
		Synopsis       string
		EpisodeCount   int
		EpisodeLength  int
		CoverURL       string
		AiringStatus   library.AiringStatus
		Type           library.SeriesType
		AgeRating      string
		CommunityScore float64
		StartDate      string
		EndDate        string
		Genres         []string
		ExternalIDs    map[library.ProviderID]string
		Delisted       bool
		User           *library.UserEntry
	}{
		Title:          item.Title,
		Synonyms:       item.Synonyms,
		Synopsis:       item.Synopsis,
		EpisodeCount:   item.EpisodeCount,
		EpisodeLength:  item.EpisodeLength,
		CoverURL:       item.CoverURL,
		AiringStatus:   item.AiringStatus,
		Type:           item.Type,
		AgeRating:      item.AgeRating,
		CommunityScore: item.CommunityScore,
		StartDate:      item.StartDate,
		EndDate:        item.EndDate,
		Genres:         item.Genres,
		ExternalIDs:    item.ExternalIDs,
		Delisted:       item.Delisted,
		User:           item.User,
	}
	b, _ := json.Marshal(shadow)
	return string(b)
}
