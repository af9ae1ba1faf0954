package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "modernc.org/sqlite"

	"github.com/Diablofan/taiga/internal/auth"
	"github.com/Diablofan/taiga/internal/config"
	"github.com/Diablofan/taiga/internal/events"
	"github.com/Diablofan/taiga/internal/library"
	"github.com/Diablofan/taiga/internal/migrations"
	"github.com/Diablofan/taiga/internal/reconcile"
	"github.com/Diablofan/taiga/internal/secrets"
	"github.com/Diablofan/taiga/internal/server"
	syncer "github.com/Diablofan/taiga/internal/sync"
	"github.com/Diablofan/taiga/internal/sync/anilist"
	"github.com/Diablofan/taiga/internal/sync/myanimelist"
	"github.com/Diablofan/taiga/internal/transport"
)

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// noPrompter rejects interactive authorization. The daemon never talks to a
// terminal; pin entry happens through the CLI.
type noPrompter struct{}

func (noPrompter) Prompt(_ context.Context, providerName, _ string) (string, error) {
	return "", fmt.Errorf("%s is not authenticated: run 'taiga auth %s' first", providerName, providerName)
}

func runServer(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	// === Database ===
	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Database.Path+"?_foreign_keys=on")
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	// === Stores and events ===
	store := library.NewStore(db)
	eventLog := events.NewEventLog(db)
	bus := events.NewBus(eventLog, logger.With("component", "events"))
	defer func() { _ = bus.Close() }()

	if pruned, err := eventLog.Prune(cfg.Database.EventRetention.Std()); err != nil {
		logger.Warn("pruning event log failed", "error", err)
	} else if pruned > 0 {
		logger.Info("pruned old events",
			"removed", pruned, "retention", cfg.Database.EventRetention.Std())
	}

	// === Sync pipeline ===
	httpClient := transport.New(transport.WithLogger(logger.With("component", "transport")))
	dispatcher := syncer.NewDispatcher(httpClient, syncer.RetryPolicy{
		MaxRetries: cfg.Sync.MaxRetries,
		Backoff:    cfg.Sync.RetryBackoff.Std(),
	}, logger.With("component", "dispatch"))

	keyring := secrets.NewKeyring()

	var providers []server.ProviderSync
	for _, id := range cfg.Enabled() {
		adapter, err := newAdapter(id, cfg.Providers[string(id)], logger)
		if err != nil {
			return fmt.Errorf("provider %s: %w", id, err)
		}
		dispatcher.Register(adapter)

		mgr := auth.NewManager(adapter, dispatcher, keyring, noPrompter{}, bus,
			cfg.Sync.RefreshHorizon.Std(), logger)
		if err := dispatcher.BindCredentials(id, mgr); err != nil {
			return fmt.Errorf("provider %s: %w", id, err)
		}
		if !mgr.HasToken() {
			logger.Warn("provider has no stored credentials",
				"provider", id, "hint", fmt.Sprintf("run 'taiga auth %s'", id))
		}
		providers = append(providers, server.ProviderSync{
			Provider: id,
			Interval: cfg.Sync.Interval.Std(),
		})
	}

	engine := reconcile.New(store, bus, cfg.Sync.MatchThreshold, logger.With("component", "reconcile"))
	runner := server.NewRunner(dispatcher, engine, store, providers, logger.With("component", "runner"))

	go logActivity(bus.SubscribeAll(64), logger.With("component", "activity"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("daemon starting",
		"database", cfg.Database.Path,
		"providers", len(providers),
		"interval", cfg.Sync.Interval.Std().String(),
		"log_level", cfg.Server.LogLevel,
	)

	if err := runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("daemon stopped")
	return nil
}

func newAdapter(id library.ProviderID, p config.ProviderConfig, logger *slog.Logger) (syncer.Adapter, error) {
	switch id {
	case library.ProviderAniList:
		return anilist.New(anilist.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Username:     p.Username,
			TitleLang:    p.Lang(),
		}, logger.With("component", "anilist"))
	case library.ProviderMyAnimeList:
		return myanimelist.New(myanimelist.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURI:  p.RedirectURI,
		}, logger.With("component", "myanimelist"))
	}
	return nil, fmt.Errorf("no adapter for provider %q", id)
}

// logActivity mirrors bus traffic into the daemon log at debug level so a
// tail of the log shows what the reconciler is doing.
func logActivity(ch <-chan events.Event, logger *slog.Logger) {
	for e := range ch {
		logger.Debug("event",
			"type", e.EventType(),
			"entity", e.EntityType(),
			"id", e.EntityID(),
		)
	}
}
