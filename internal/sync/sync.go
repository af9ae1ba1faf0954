// Package sync defines the provider-agnostic synchronization contract:
// generic request/response envelopes, the Adapter interface every external
// tracking service implements, and the Dispatcher that sequences calls.
package sync

import (
	"context"
	"time"

	"github.com/Diablofan/taiga/internal/library"
)

// RequestType enumerates the operations every adapter must recognize.
type RequestType int

const (
	RequestAuthenticate RequestType = iota
	RequestRefreshAuth
	RequestGetLibraryEntries
	RequestGetMetadataByID
	RequestSearchTitle
	RequestAddEntry
	RequestUpdateEntry
	RequestDeleteEntry
)

var requestTypeNames = map[RequestType]string{
	RequestAuthenticate:      "authenticate",
	RequestRefreshAuth:       "refresh_auth",
	RequestGetLibraryEntries: "get_library_entries",
	RequestGetMetadataByID:   "get_metadata_by_id",
	RequestSearchTitle:       "search_title",
	RequestAddEntry:          "add_entry",
	RequestUpdateEntry:       "update_entry",
	RequestDeleteEntry:       "delete_entry",
}

func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// AllRequestTypes lists every request type, for adapters validating their
// builder tables at startup.
func AllRequestTypes() []RequestType {
	return []RequestType{
		RequestAuthenticate,
		RequestRefreshAuth,
		RequestGetLibraryEntries,
		RequestGetMetadataByID,
		RequestSearchTitle,
		RequestAddEntry,
		RequestUpdateEntry,
		RequestDeleteEntry,
	}
}

// TitleLanguage selects which title variant list endpoints return.
type TitleLanguage string

const (
	TitleCanonical TitleLanguage = "canonical"
	TitleEnglish   TitleLanguage = "english"
	TitleRomanized TitleLanguage = "romanized"
)

// Request is the generic envelope handed to an adapter's request builder.
type Request struct {
	Type     RequestType
	Provider library.ProviderID

	// ExternalID is the provider-side ID for metadata, update and delete
	// requests.
	ExternalID string

	// Query is the search string for title searches.
	Query string

	// Item carries the entry being added or updated.
	Item *library.Item

	// Data holds out-of-band inputs such as the one-time authorization code.
	Data map[string]string
}

// TokenPair is the result of an authentication or refresh exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Response is the generic envelope produced by an adapter's response handler.
// Failures are reported as typed errors, not response fields.
type Response struct {
	Type     RequestType
	Provider library.ProviderID

	// Items holds parsed library entries, metadata or search results.
	Items []*library.Item

	// Token is set for authenticate and refresh responses.
	Token *TokenPair
}

// Credentials is the per-provider token state owned by the authentication
// manager. Adapters only read it.
type Credentials struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// HasToken reports whether an access token is present.
func (c *Credentials) HasToken() bool {
	return c != nil && c.AccessToken != ""
}

// Descriptor is the static identity of an adapter. Immutable after
// construction.
type Descriptor struct {
	ID        int
	Canonical library.ProviderID
	Name      string
	Host      string
}

// Adapter translates between the generic contract and one external service.
//
// BuildRequest and HandleResponse are pure translation: they must not block
// on user interaction or open sockets.
type Adapter interface {
	Descriptor() Descriptor

	// BuildRequest fills a transport envelope for the given request,
	// attaching the bearer token when the request type requires it.
	BuildRequest(req *Request, creds *Credentials) (*HTTPRequest, error)

	// HandleResponse checks the transport result and parses the body.
	// Failures come back as TransportError, AuthExpiredError, VendorError
	// or ParseError.
	HandleResponse(req *Request, hr *HTTPResponse) (*Response, error)

	// NeedsAuthentication reports whether a request of the given type must
	// carry a bearer token. Read-only types are upgraded, not gated, by a
	// token: they need one only when it is already present.
	NeedsAuthentication(t RequestType, hasToken bool) bool

	// AuthorizationURL is the page the user visits to obtain a one-time
	// code in the pin-based flow.
	AuthorizationURL() string

	// RotatesRefreshToken reports whether the vendor issues a new refresh
	// token on every refresh.
	RotatesRefreshToken() bool
}

// Transport executes a generic HTTP request. The sync core never opens
// sockets directly.
type Transport interface {
	Do(ctx context.Context, req *HTTPRequest) (*HTTPResponse, error)
}
