// Package auth owns per-provider credential state: token acquisition through
// the pin-based flow, scheduled refresh, and expiry handling.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Diablofan/taiga/internal/events"
	"github.com/Diablofan/taiga/internal/secrets"
	syncer "github.com/Diablofan/taiga/internal/sync"
)

// State is the authentication lifecycle state for one provider.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateRefreshing
)

var stateNames = map[State]string{
	StateUnauthenticated: "unauthenticated",
	StateAuthenticating:  "authenticating",
	StateAuthenticated:   "authenticated",
	StateRefreshing:      "refreshing",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// ErrPromptCanceled indicates the user abandoned the code entry.
var ErrPromptCanceled = errors.New("authorization prompt canceled")

// Prompter surfaces an authorization URL and collects the one-time code. The
// call blocks until the user supplies a code or cancels.
type Prompter interface {
	Prompt(ctx context.Context, providerName, authURL string) (code string, err error)
}

// Exchanger runs a bare token-exchange request through the sync pipeline.
// Implemented by the dispatcher.
type Exchanger interface {
	Exchange(ctx context.Context, req *syncer.Request) (*syncer.Response, error)
}

// DefaultRefreshHorizon is how long a token is trusted when the vendor does
// not state an expiry.
const DefaultRefreshHorizon = time.Hour

// refreshMargin is how far ahead of expiry a refresh is triggered.
const refreshMargin = 5 * time.Minute

// Manager guards the credential state of one provider.
type Manager struct {
	adapter   syncer.Adapter
	exchanger Exchanger
	store     secrets.Store
	prompt    Prompter
	bus       *events.Bus // optional
	horizon   time.Duration
	log       *slog.Logger

	mu    sync.Mutex
	state State
	creds syncer.Credentials

	refresh singleflight.Group
}

// NewManager creates a manager for one provider and restores any persisted
// credentials, so a refresh token survives restarts.
func NewManager(adapter syncer.Adapter, exchanger Exchanger, store secrets.Store,
	prompt Prompter, bus *events.Bus, horizon time.Duration, log *slog.Logger) *Manager {

	if log == nil {
		log = slog.Default()
	}
	if horizon <= 0 {
		horizon = DefaultRefreshHorizon
	}
	m := &Manager{
		adapter:   adapter,
		exchanger: exchanger,
		store:     store,
		prompt:    prompt,
		bus:       bus,
		horizon:   horizon,
		log:       log.With("component", "auth", "provider", adapter.Descriptor().Canonical),
	}

	rec, err := store.Load(adapter.Descriptor().Canonical)
	if err == nil && rec.RefreshToken != "" {
		m.creds = syncer.Credentials{
			AccessToken:  rec.AccessToken,
			RefreshToken: rec.RefreshToken,
			ExpiresAt:    rec.ExpiresAt,
		}
		m.state = StateAuthenticated
	} else if err != nil && !errors.Is(err, secrets.ErrNotFound) {
		m.log.Warn("could not restore credentials", "error", err)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// HasToken reports whether an access token is held.
func (m *Manager) HasToken() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds.HasToken()
}

// Authenticate runs the pin-based code exchange: open the authorization URL
// through the prompter, trade the code for tokens, persist them.
func (m *Manager) Authenticate(ctx context.Context) error {
	provider := m.adapter.Descriptor()
	m.setState(StateAuthenticating)

	code, err := m.prompt.Prompt(ctx, provider.Name, m.adapter.AuthorizationURL())
	if err != nil {
		m.setState(StateUnauthenticated)
		return fmt.Errorf("%s: %w", provider.Canonical, ErrPromptCanceled)
	}

	resp, err := m.exchanger.Exchange(ctx, &syncer.Request{
		Type:     syncer.RequestAuthenticate,
		Provider: provider.Canonical,
		Data:     map[string]string{"code": code},
	})
	if err != nil {
		m.setState(StateUnauthenticated)
		return fmt.Errorf("authenticate %s: %w", provider.Canonical, err)
	}
	if resp.Token == nil || resp.Token.AccessToken == "" {
		m.setState(StateUnauthenticated)
		return &syncer.ParseError{
			Provider: provider.Canonical,
			Type:     syncer.RequestAuthenticate,
			Message:  "token exchange returned no access token",
		}
	}

	m.storeToken(resp.Token, true)
	m.setState(StateAuthenticated)
	m.log.Info("authenticated")
	return nil
}

// Credentials returns the current token state for the dispatcher, refreshing
// first when expiry is near. A nil result means unauthenticated; read-only
// requests still proceed without a token.
func (m *Manager) Credentials(ctx context.Context) (*syncer.Credentials, error) {
	m.mu.Lock()
	if !m.creds.HasToken() {
		m.mu.Unlock()
		return nil, nil
	}
	needsRefresh := m.creds.RefreshToken != "" &&
		!m.creds.ExpiresAt.IsZero() &&
		time.Until(m.creds.ExpiresAt) < refreshMargin
	creds := m.creds
	m.mu.Unlock()

	if !needsRefresh {
		return &creds, nil
	}

	if err := m.doRefresh(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	creds = m.creds
	m.mu.Unlock()
	return &creds, nil
}

// HandleExpired refreshes after a vendor rejected the current token.
func (m *Manager) HandleExpired(ctx context.Context) error {
	return m.doRefresh(ctx)
}

// doRefresh performs the refresh exchange once, no matter how many callers
// arrive while it is in flight. Dependent requests wait on the result rather
// than racing ahead with the stale token.
func (m *Manager) doRefresh(ctx context.Context) error {
	_, err, _ := m.refresh.Do("refresh", func() (any, error) {
		return nil, m.refreshOnce(ctx)
	})
	return err
}

func (m *Manager) refreshOnce(ctx context.Context) error {
	provider := m.adapter.Descriptor()

	m.mu.Lock()
	refreshToken := m.creds.RefreshToken
	m.mu.Unlock()
	if refreshToken == "" {
		m.Invalidate()
		return fmt.Errorf("%s: no refresh token: %w", provider.Canonical, syncer.ErrReauthRequired)
	}

	m.setState(StateRefreshing)
	resp, err := m.exchanger.Exchange(ctx, &syncer.Request{
		Type:     syncer.RequestRefreshAuth,
		Provider: provider.Canonical,
		Data:     map[string]string{"refresh_token": refreshToken},
	})
	if err != nil {
		if syncer.IsRetryable(err) {
			// Transient; keep tokens and let the caller retry later.
			m.setState(StateAuthenticated)
			return err
		}
		m.Invalidate()
		return fmt.Errorf("refresh %s: %v: %w", provider.Canonical, err, syncer.ErrReauthRequired)
	}
	if resp.Token == nil || resp.Token.AccessToken == "" {
		m.Invalidate()
		return fmt.Errorf("refresh %s: empty token: %w", provider.Canonical, syncer.ErrReauthRequired)
	}

	m.storeToken(resp.Token, m.adapter.RotatesRefreshToken())
	m.setState(StateAuthenticated)
	m.log.Debug("token refreshed")
	return nil
}

// Invalidate clears credentials, forcing re-authentication.
func (m *Manager) Invalidate() {
	provider := m.adapter.Descriptor().Canonical
	m.mu.Lock()
	m.creds = syncer.Credentials{}
	m.mu.Unlock()
	if err := m.store.Delete(provider); err != nil {
		m.log.Warn("could not clear stored credentials", "error", err)
	}
	m.setState(StateUnauthenticated)
}

// storeToken replaces the access token and, when the vendor rotates it, the
// refresh token. The new state is persisted through the secret store.
func (m *Manager) storeToken(token *syncer.TokenPair, replaceRefresh bool) {
	expiresIn := token.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = m.horizon
	}

	m.mu.Lock()
	m.creds.AccessToken = token.AccessToken
	m.creds.ExpiresAt = time.Now().Add(expiresIn)
	if replaceRefresh && token.RefreshToken != "" {
		m.creds.RefreshToken = token.RefreshToken
	}
	rec := secrets.Record{
		AccessToken:  m.creds.AccessToken,
		RefreshToken: m.creds.RefreshToken,
		ExpiresAt:    m.creds.ExpiresAt,
	}
	m.mu.Unlock()

	if err := m.store.Save(m.adapter.Descriptor().Canonical, rec); err != nil {
		m.log.Warn("could not persist credentials", "error", err)
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	old := m.state
	m.state = s
	m.mu.Unlock()

	if old == s || m.bus == nil {
		return
	}
	provider := m.adapter.Descriptor()
	_ = m.bus.Publish(context.Background(), &events.AuthStateChanged{
		BaseEvent: events.NewBaseEvent(events.EventAuthStateChanged, "provider", int64(provider.ID)),
		Provider:  string(provider.Canonical),
		OldState:  old.String(),
		NewState:  s.String(),
	})
}
