package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Diablofan/taiga/internal/library"
)

// CredentialSource supplies and refreshes per-provider credentials. It is
// implemented by the authentication manager.
type CredentialSource interface {
	// Credentials returns the current token state, refreshing first when
	// expiry is near. A nil result means unauthenticated.
	Credentials(ctx context.Context) (*Credentials, error)

	// HandleExpired refreshes after a vendor rejected the current token.
	// Failure means the user must authenticate again.
	HandleExpired(ctx context.Context) error
}

// RetryPolicy controls transport-level retries. Values come from
// configuration, not constants.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultRetryPolicy is used when configuration leaves retries unset.
var DefaultRetryPolicy = RetryPolicy{MaxRetries: 2, Backoff: time.Second}

type provider struct {
	adapter Adapter
	creds   CredentialSource

	// Serializes requests to one vendor; providers proceed independently.
	mu sync.Mutex
}

// Dispatcher sequences outgoing requests per provider, attaches
// authentication, and routes transport results back through the adapter.
type Dispatcher struct {
	transport Transport
	retry     RetryPolicy
	log       *slog.Logger

	mu        sync.RWMutex
	providers map[library.ProviderID]*provider
}

// NewDispatcher creates a dispatcher over the given transport.
func NewDispatcher(t Transport, retry RetryPolicy, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	if retry.MaxRetries < 0 {
		retry.MaxRetries = 0
	}
	if retry.Backoff <= 0 {
		retry.Backoff = DefaultRetryPolicy.Backoff
	}
	return &Dispatcher{
		transport: t,
		retry:     retry,
		log:       log.With("component", "dispatcher"),
		providers: make(map[library.ProviderID]*provider),
	}
}

// Register adds an adapter. Registering the same provider twice replaces the
// previous adapter.
func (d *Dispatcher) Register(a Adapter) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[a.Descriptor().Canonical] = &provider{adapter: a}
}

// BindCredentials attaches a credential source to a registered provider.
func (d *Dispatcher) BindCredentials(id library.ProviderID, src CredentialSource) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.providers[id]
	if !ok {
		return fmt.Errorf("bind credentials %s: %w", id, ErrUnknownProvider)
	}
	p.creds = src
	return nil
}

// Adapter returns the registered adapter for a provider.
func (d *Dispatcher) Adapter(id library.ProviderID) (Adapter, error) {
	p, err := d.provider(id)
	if err != nil {
		return nil, err
	}
	return p.adapter, nil
}

func (d *Dispatcher) provider(id library.ProviderID) (*provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.providers[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrUnknownProvider)
	}
	return p, nil
}

// Do executes one request end to end: attach credentials, build, transport
// with backoff on transport errors, parse. On a stale-token rejection it
// refreshes and retries the original request exactly once.
func (d *Dispatcher) Do(ctx context.Context, req *Request) (*Response, error) {
	p, err := d.provider(req.Provider)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	resp, err := d.attempt(ctx, p, req)
	if IsAuthExpired(err) && p.creds != nil {
		d.log.Debug("token rejected, refreshing", "provider", req.Provider, "type", req.Type.String())
		if rerr := p.creds.HandleExpired(ctx); rerr != nil {
			return nil, fmt.Errorf("%s: refresh after rejection: %w", req.Provider, ErrReauthRequired)
		}
		resp, err = d.attempt(ctx, p, req)
	}
	return resp, err
}

// Exchange runs the bare pipeline without credential attachment or the
// expired-token retry. The authentication manager uses it for token
// exchanges. It must not take the provider mutex: a refresh triggered from
// inside Do already runs under that request's lock, and the lock is not
// reentrant.
func (d *Dispatcher) Exchange(ctx context.Context, req *Request) (*Response, error) {
	p, err := d.provider(req.Provider)
	if err != nil {
		return nil, err
	}

	hr, err := p.adapter.BuildRequest(req, nil)
	if err != nil {
		return nil, err
	}
	return d.roundTrip(ctx, p, req, hr)
}

func (d *Dispatcher) attempt(ctx context.Context, p *provider, req *Request) (*Response, error) {
	var creds *Credentials
	if p.creds != nil {
		c, err := p.creds.Credentials(ctx)
		if err != nil {
			return nil, err
		}
		creds = c
	}

	if p.adapter.NeedsAuthentication(req.Type, creds.HasToken()) && !creds.HasToken() {
		return nil, fmt.Errorf("%s: %s: %w", req.Provider, req.Type, ErrReauthRequired)
	}

	hr, err := p.adapter.BuildRequest(req, creds)
	if err != nil {
		return nil, err
	}
	return d.roundTrip(ctx, p, req, hr)
}

// roundTrip performs the transport call, retrying transport failures with
// exponential backoff. Vendor and parse failures are never retried.
func (d *Dispatcher) roundTrip(ctx context.Context, p *provider, req *Request, hr *HTTPRequest) (*Response, error) {
	backoff := d.retry.Backoff
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%s: %w: %v", req.Provider, ErrCanceled, err)
		}

		start := time.Now()
		httpResp, err := d.transport.Do(ctx, hr)
		if err != nil {
			terr := &TransportError{Provider: req.Provider, Err: err}
			if attempt >= d.retry.MaxRetries {
				return nil, terr
			}
			d.log.Debug("transport error, backing off",
				"provider", req.Provider,
				"type", req.Type.String(),
				"attempt", attempt+1,
				"backoff", backoff,
				"error", err)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%s: %w: %v", req.Provider, ErrCanceled, ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		d.log.Debug("request completed",
			"provider", req.Provider,
			"type", req.Type.String(),
			"status", httpResp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds())

		return p.adapter.HandleResponse(req, httpResp)
	}
}
