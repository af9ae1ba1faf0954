// Package server runs the periodic synchronization loops.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Diablofan/taiga/internal/library"
	"github.com/Diablofan/taiga/internal/reconcile"
	syncer "github.com/Diablofan/taiga/internal/sync"
)

// Syncer issues provider requests. Satisfied by sync.Dispatcher.
type Syncer interface {
	Do(ctx context.Context, req *syncer.Request) (*syncer.Response, error)
}

// ProviderSync configures one provider's loop.
type ProviderSync struct {
	Provider library.ProviderID
	Interval time.Duration
}

// Runner drives one sync loop per enabled provider. Each loop fetches the
// user's list, merges every entry, then re-checks tracked metadata; one bad
// entry or one failed cycle never stops the loop.
type Runner struct {
	dispatcher Syncer
	engine     *reconcile.Engine
	store      *library.Store
	providers  []ProviderSync
	logger     *slog.Logger
}

// NewRunner creates a runner.
func NewRunner(dispatcher Syncer, engine *reconcile.Engine, store *library.Store,
	providers []ProviderSync, logger *slog.Logger) *Runner {

	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		dispatcher: dispatcher,
		engine:     engine,
		store:      store,
		providers:  providers,
		logger:     logger.With("component", "server"),
	}
}

// Run starts all provider loops and blocks until the context is canceled.
func (r *Runner) Run(ctx context.Context) error {
	if len(r.providers) == 0 {
		return errors.New("server: no providers enabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, p := range r.providers {
		p := p
		g.Go(func() error {
			return r.syncLoop(ctx, p)
		})
	}
	return g.Wait()
}

// syncLoop syncs once immediately, then on every tick. Cycle failures are
// logged and the loop carries on; only cancellation ends it.
func (r *Runner) syncLoop(ctx context.Context, p ProviderSync) error {
	log := r.logger.With("provider", p.Provider)
	log.Info("sync loop started", "interval", p.Interval)

	r.cycle(ctx, p.Provider, log)

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			r.cycle(ctx, p.Provider, log)
		}
	}
}

// cycle runs one list sync followed by a metadata pass. The metadata pass is
// skipped when the list fetch failed so a provider outage costs one request,
// not one per tracked item.
func (r *Runner) cycle(ctx context.Context, provider library.ProviderID, log *slog.Logger) {
	if err := r.SyncOnce(ctx, provider); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Warn("sync cycle failed", "error", err)
		}
		return
	}
	if err := r.RefreshMetadata(ctx, provider); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("metadata refresh failed", "error", err)
	}
}

// SyncOnce fetches the provider's list and merges every entry. A single
// malformed entry is logged and skipped.
func (r *Runner) SyncOnce(ctx context.Context, provider library.ProviderID) error {
	started := time.Now()
	resp, err := r.dispatcher.Do(ctx, &syncer.Request{
		Type:     syncer.RequestGetLibraryEntries,
		Provider: provider,
	})
	if err != nil {
		return fmt.Errorf("fetch %s list: %w", provider, err)
	}

	var merged, failed int
	for _, item := range resp.Items {
		if _, err := r.engine.MergeEntry(ctx, provider, item); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			failed++
			r.logger.Warn("merging entry failed",
				"provider", provider, "title", item.Title, "error", err)
			continue
		}
		merged++
	}

	r.logger.Info("sync cycle finished",
		"provider", provider,
		"entries", len(resp.Items),
		"merged", merged,
		"failed", failed,
		"duration_ms", time.Since(started).Milliseconds())
	return nil
}

// RefreshMetadata re-fetches every tracked item still known under the
// provider. An item the vendor no longer serves is marked delisted; its
// local record survives.
func (r *Runner) RefreshMetadata(ctx context.Context, provider library.ProviderID) error {
	tracked := false
	items, _, err := r.store.ListItems(library.Filter{
		Provider: &provider,
		Delisted: &tracked,
	})
	if err != nil {
		return fmt.Errorf("list %s items: %w", provider, err)
	}

	var refreshed, delisted, failed int
	for _, item := range items {
		extID, ok := item.ExternalID(provider)
		if !ok {
			continue
		}
		resp, err := r.dispatcher.Do(ctx, &syncer.Request{
			Type:       syncer.RequestGetMetadataByID,
			Provider:   provider,
			ExternalID: extID,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			if syncer.IsNotFound(err) {
				if err := r.engine.MarkDelisted(ctx, provider, extID); err != nil {
					return fmt.Errorf("delist %s/%s: %w", provider, extID, err)
				}
				delisted++
				r.logger.Info("item delisted by provider",
					"provider", provider, "title", item.Title, "external_id", extID)
				continue
			}
			failed++
			r.logger.Warn("metadata fetch failed",
				"provider", provider, "title", item.Title, "error", err)
			continue
		}
		for _, fresh := range resp.Items {
			if _, err := r.engine.MergeEntry(ctx, provider, fresh); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				failed++
				r.logger.Warn("merging metadata failed",
					"provider", provider, "title", fresh.Title, "error", err)
				continue
			}
			refreshed++
		}
	}

	if refreshed+delisted+failed > 0 {
		r.logger.Info("metadata pass finished",
			"provider", provider,
			"refreshed", refreshed,
			"delisted", delisted,
			"failed", failed)
	}
	return nil
}
