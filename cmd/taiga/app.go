package main

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Diablofan/taiga/internal/auth"
	"github.com/Diablofan/taiga/internal/config"
	"github.com/Diablofan/taiga/internal/events"
	"github.com/Diablofan/taiga/internal/library"
	"github.com/Diablofan/taiga/internal/migrations"
	"github.com/Diablofan/taiga/internal/reconcile"
	"github.com/Diablofan/taiga/internal/secrets"
	syncer "github.com/Diablofan/taiga/internal/sync"
	"github.com/Diablofan/taiga/internal/sync/anilist"
	"github.com/Diablofan/taiga/internal/sync/myanimelist"
	"github.com/Diablofan/taiga/internal/transport"
)

// app holds the wired service stack for one CLI invocation. Commands talk to
// the same database and providers the daemon does, so a sync triggered here
// is indistinguishable from a scheduled one.
type app struct {
	cfg      *config.Config
	db       *sql.DB
	store    *library.Store
	eventLog *events.EventLog
	bus      *events.Bus
	dispatch *syncer.Dispatcher
	managers map[library.ProviderID]*auth.Manager
	engine   *reconcile.Engine
	logger   *slog.Logger
}

func openApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	// Warnings only; command output stays clean.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", cfg.Database.Path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(migrations.InitialSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store := library.NewStore(db)
	eventLog := events.NewEventLog(db)
	bus := events.NewBus(eventLog, logger)

	dispatch := syncer.NewDispatcher(transport.New(), syncer.RetryPolicy{
		MaxRetries: cfg.Sync.MaxRetries,
		Backoff:    cfg.Sync.RetryBackoff.Std(),
	}, logger)

	keyring := secrets.NewKeyring()
	managers := make(map[library.ProviderID]*auth.Manager)
	for _, id := range cfg.Enabled() {
		adapter, err := newAdapter(id, cfg.Providers[string(id)], logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		dispatch.Register(adapter)

		mgr := auth.NewManager(adapter, dispatch, keyring, stdinPrompter{}, bus,
			cfg.Sync.RefreshHorizon.Std(), logger)
		if err := dispatch.BindCredentials(id, mgr); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("provider %s: %w", id, err)
		}
		managers[id] = mgr
	}

	engine := reconcile.New(store, bus, cfg.Sync.MatchThreshold, logger)

	return &app{
		cfg:      cfg,
		db:       db,
		store:    store,
		eventLog: eventLog,
		bus:      bus,
		dispatch: dispatch,
		managers: managers,
		engine:   engine,
		logger:   logger,
	}, nil
}

func (a *app) Close() {
	_ = a.bus.Close()
	_ = a.db.Close()
}

// providerArg resolves a CLI argument to an enabled provider.
func (a *app) providerArg(s string) (library.ProviderID, error) {
	id := library.ProviderID(strings.ToLower(s))
	if _, ok := a.managers[id]; !ok {
		return "", fmt.Errorf("provider %q is not enabled in %s", s, configPath)
	}
	return id, nil
}

func newAdapter(id library.ProviderID, p config.ProviderConfig, logger *slog.Logger) (syncer.Adapter, error) {
	switch id {
	case library.ProviderAniList:
		return anilist.New(anilist.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			Username:     p.Username,
			TitleLang:    p.Lang(),
		}, logger)
	case library.ProviderMyAnimeList:
		return myanimelist.New(myanimelist.Config{
			ClientID:     p.ClientID,
			ClientSecret: p.ClientSecret,
			RedirectURI:  p.RedirectURI,
		}, logger)
	}
	return nil, fmt.Errorf("no adapter for provider %q", id)
}

// stdinPrompter walks the user through the pin flow on the terminal.
type stdinPrompter struct{}

func (stdinPrompter) Prompt(ctx context.Context, providerName, authURL string) (string, error) {
	fmt.Printf("Open this URL in a browser and authorize %s:\n\n  %s\n\n", providerName, authURL)
	fmt.Print("Paste the authorization code (empty to cancel): ")

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("read code: %w", err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return "", auth.ErrPromptCanceled
	}
	return code, nil
}

func ptr[T any](v T) *T { return &v }
