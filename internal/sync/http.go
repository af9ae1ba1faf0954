package sync

import (
	"net/http"
	"net/url"
	"strings"
)

// HTTPRequest is the transport-level envelope an adapter fills in.
// The scheme is always HTTPS.
type HTTPRequest struct {
	Method string
	Host   string
	Path   string
	Query  url.Values
	Header http.Header

	// Form is the URL-encoded request body for POST-style requests.
	Form url.Values

	// Body overrides Form when a vendor wants a raw (e.g. JSON) payload.
	Body []byte
}

// NewHTTPRequest returns an envelope with the headers every vendor call
// carries.
func NewHTTPRequest(method, host string) *HTTPRequest {
	r := &HTTPRequest{
		Method: method,
		Host:   host,
		Query:  url.Values{},
		Header: http.Header{},
		Form:   url.Values{},
	}
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Accept-Charset", "utf-8")
	r.Header.Set("Accept-Encoding", "gzip")
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

// URL assembles the full request URL. HTTPS is mandatory; vendors will not
// redirect plain HTTP.
func (r *HTTPRequest) URL() string {
	u := url.URL{
		Scheme:   "https",
		Host:     r.Host,
		Path:     r.Path,
		RawQuery: r.Query.Encode(),
	}
	return u.String()
}

// EncodedBody returns the body bytes to send: raw Body if set, otherwise
// the URL-encoded form.
func (r *HTTPRequest) EncodedBody() []byte {
	if len(r.Body) > 0 {
		return r.Body
	}
	if len(r.Form) > 0 {
		return []byte(r.Form.Encode())
	}
	return nil
}

// HasBody reports whether the request method carries a body.
func (r *HTTPRequest) HasBody() bool {
	switch strings.ToUpper(r.Method) {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// HTTPResponse is the transport-level result routed back to an adapter.
type HTTPResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Succeeded reports whether the vendor accepted the request. Both 200 and
// 201 count as success.
func (r *HTTPResponse) Succeeded() bool {
	return r.StatusCode == http.StatusOK || r.StatusCode == http.StatusCreated
}
