// Package request holds the request model and assembles dispatch-ready
// requests from stored fragments.
package request

import (
	"errors"
	"net/http"

	"api-runner/internal/auth"
)

var (
	// ErrInvalidSpec marks a request fragment that cannot be assembled:
	// missing or malformed method, malformed auth fields, or a bad body.
	ErrInvalidSpec = errors.New("invalid request spec")
	// ErrInvalidURL marks a url that is not absolute after substitution.
	ErrInvalidURL = errors.New("invalid url")
)

// KeyValue is one editable header, query param or form field row.
type KeyValue struct {
	Key         string
	Value       string
	Enabled     bool
	Description string
}

// RequestSpec is the stored, unresolved description of a request. It is
// treated as an immutable snapshot.
type RequestSpec struct {
	Name    string
	Method  string
	URL     string
	Headers []KeyValue
	Params  []KeyValue
	Body    Body
	Auth    auth.Auth
	// Extract maps a variable name to a gjson path or a
	// "header:<Name>:<regex>" rule evaluated against the response.
	Extract map[string]string
}

// Header is a resolved header entry. Order and duplicates are preserved.
type Header struct {
	Key   string
	Value string
}

// FinalRequest is a fully resolved request, produced fresh for every attempt.
type FinalRequest struct {
	Method      string
	URL         string
	Headers     []Header
	Body        []byte
	ContentType string
	// TransportAuth is set for schemes negotiated by the HTTP client
	// (digest, ntlm, oauth2) and is nil otherwise.
	TransportAuth auth.Auth
}

// HeaderValue returns the first header named key, case-insensitively.
func (f *FinalRequest) HeaderValue(key string) (string, bool) {
	canon := http.CanonicalHeaderKey(key)
	for _, h := range f.Headers {
		if http.CanonicalHeaderKey(h.Key) == canon {
			return h.Value, true
		}
	}
	return "", false
}

// Response describes what came back for one executed request.
type Response struct {
	StatusCode  int         `json:"statusCode"`
	StatusText  string      `json:"statusText"`
	Headers     http.Header `json:"headers"`
	Body        string      `json:"body"`
	ContentType string      `json:"contentType"`
	ElapsedMs   int64       `json:"elapsedMs"`
}
