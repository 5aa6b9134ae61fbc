package request

import (
	"fmt"
	"net/url"
	"strings"

	"api-runner/internal/auth"
	"api-runner/internal/logging"
	"api-runner/internal/template"
)

// Assemble resolves spec against vars and returns a dispatch-ready request.
//
// Only enabled entries with a non-blank key take part. Header keys are used
// verbatim; values, the url, param values and the body are substituted once.
// The query string is rebuilt from the params alone, discarding any query
// already present in the url. Auth output is appended last and is never
// substituted again.
func Assemble(spec RequestSpec, vars map[string]string) (*FinalRequest, error) {
	method := strings.ToUpper(strings.TrimSpace(spec.Method))
	if method == "" {
		return nil, fmt.Errorf("%w: method is required", ErrInvalidSpec)
	}
	if !isToken(method) {
		return nil, fmt.Errorf("%w: invalid method '%s'", ErrInvalidSpec, spec.Method)
	}

	resolve := func(s string) string { return template.Substitute(s, vars) }

	resolvedAuth := auth.MapFields(spec.Auth, resolve)
	injection, err := auth.Inject(resolvedAuth)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	rawURL := resolve(spec.URL)
	if missing := template.Unresolved(rawURL, vars); len(missing) > 0 {
		logging.Logf(logging.Debug, "Assemble '%s': unresolved placeholders in url: %v", spec.Name, missing)
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: '%s': %v", ErrInvalidURL, rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: '%s' is not absolute", ErrInvalidURL, rawURL)
	}

	params := enabledEntries(spec.Params)
	query := make([]string, 0, len(params)+len(injection.Params))
	for _, p := range params {
		query = append(query, url.QueryEscape(p.Key)+"="+url.QueryEscape(resolve(p.Value)))
	}
	for _, p := range injection.Params {
		query = append(query, url.QueryEscape(p.Key)+"="+url.QueryEscape(p.Value))
	}
	u.RawQuery = strings.Join(query, "&")
	u.ForceQuery = false

	headers := make([]Header, 0, len(spec.Headers)+len(injection.Headers))
	for _, h := range enabledEntries(spec.Headers) {
		headers = append(headers, Header{Key: h.Key, Value: resolve(h.Value)})
	}
	for _, h := range injection.Headers {
		headers = append(headers, Header{Key: h.Key, Value: h.Value})
	}

	body, contentType, err := renderBody(spec.Body, resolve)
	if err != nil {
		return nil, err
	}

	final := &FinalRequest{
		Method:      method,
		URL:         u.String(),
		Headers:     headers,
		Body:        body,
		ContentType: contentType,
	}
	if auth.IsTransportLevel(resolvedAuth) {
		final.TransportAuth = resolvedAuth
	}
	return final, nil
}

func enabledEntries(entries []KeyValue) []KeyValue {
	out := make([]KeyValue, 0, len(entries))
	for _, e := range entries {
		if !e.Enabled || strings.TrimSpace(e.Key) == "" {
			continue
		}
		out = append(out, e)
	}
	return out
}

// isToken reports whether s is a valid HTTP method token.
func isToken(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune("!#$%&'*+-.^_`|~", r):
		default:
			return false
		}
	}
	return s != ""
}
