// Package extract turns a response into flat string variables for chaining.
package extract

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"api-runner/internal/logging"
	"api-runner/internal/request"

	"github.com/tidwall/gjson"
)

// MaxDepth bounds how deep Extract descends into a JSON body.
const MaxDepth = 32

// Sentinel causes carried by ExtractionError.
var (
	ErrNotJSON       = errors.New("body is not JSON")
	ErrDepthExceeded = errors.New("maximum nesting depth exceeded")
	ErrNoMatch       = errors.New("no match")
	ErrBadRule       = errors.New("invalid extraction rule")
)

// ExtractionError is a non-fatal failure to derive some keys. Callers log it
// and keep whatever was extracted.
type ExtractionError struct {
	Key string
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("extraction: %v", e.Err)
	}
	return fmt.Sprintf("extraction of '%s': %v", e.Key, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// Extract flattens resp into variables: status, responseTime and
// contentType always; header.<Name> per header; and dotted paths into a JSON
// body when the content type mentions json. Body problems only drop the
// body-derived keys.
func Extract(resp *request.Response) map[string]string {
	out := make(map[string]string)
	if resp == nil {
		return out
	}
	out["status"] = strconv.Itoa(resp.StatusCode)
	out["responseTime"] = strconv.FormatInt(resp.ElapsedMs, 10)
	out["contentType"] = resp.ContentType

	for name, values := range resp.Headers {
		out["header."+name] = strings.Join(values, ", ")
	}

	if !strings.Contains(strings.ToLower(resp.ContentType), "json") {
		return out
	}
	flat, err := Flatten(resp.Body, MaxDepth)
	if err != nil {
		logging.Logf(logging.Debug, "Extract: %v", err)
	}
	for k, v := range flat {
		out[k] = v
	}
	return out
}

// Suggestions lists the chainable keys of resp in sorted order, the names a
// later request can use as {{ key }} placeholders.
func Suggestions(resp *request.Response) []string {
	vars := Extract(resp)
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flatten walks a JSON document and emits dotted keys for every string,
// number and boolean leaf. Nulls, empty containers and a top-level scalar
// emit nothing. Subtrees deeper than maxDepth are skipped and reported with
// an ExtractionError alongside the keys that were emitted.
func Flatten(body string, maxDepth int) (map[string]string, error) {
	out := make(map[string]string)
	if !gjson.Valid(body) {
		return out, &ExtractionError{Err: ErrNotJSON}
	}
	root := gjson.Parse(body)
	if !root.IsObject() && !root.IsArray() {
		return out, nil
	}
	truncated := false
	flatten(root, "", 1, maxDepth, out, &truncated)
	if truncated {
		return out, &ExtractionError{Err: fmt.Errorf("%w (%d)", ErrDepthExceeded, maxDepth)}
	}
	return out, nil
}

func flatten(node gjson.Result, prefix string, depth, maxDepth int, out map[string]string, truncated *bool) {
	if depth > maxDepth {
		*truncated = true
		return
	}
	switch {
	case node.IsObject():
		node.ForEach(func(key, value gjson.Result) bool {
			visit(value, join(prefix, key.String()), depth, maxDepth, out, truncated)
			return true
		})
	case node.IsArray():
		i := 0
		node.ForEach(func(_, value gjson.Result) bool {
			visit(value, join(prefix, strconv.Itoa(i)), depth, maxDepth, out, truncated)
			i++
			return true
		})
	}
}

func visit(value gjson.Result, path string, depth, maxDepth int, out map[string]string, truncated *bool) {
	switch value.Type {
	case gjson.Null:
	case gjson.String:
		out[path] = value.Str
	case gjson.Number:
		out[path] = value.Raw
	case gjson.True, gjson.False:
		out[path] = strconv.FormatBool(value.Bool())
	case gjson.JSON:
		flatten(value, path, depth+1, maxDepth, out, truncated)
	}
}

func join(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

const headerRulePrefix = "header:"

// ApplyRules evaluates named rules against resp. A rule is either a gjson
// path into the body or "header:<Name>:<regex>" whose first capture group is
// the value. Failed rules are returned as ExtractionErrors and their names
// are left out of the result.
func ApplyRules(resp *request.Response, rules map[string]string) (map[string]string, []error) {
	out := make(map[string]string, len(rules))
	if resp == nil || len(rules) == 0 {
		return out, nil
	}

	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		rule := rules[name]
		var (
			val string
			err error
		)
		if strings.HasPrefix(rule, headerRulePrefix) {
			val, err = ExtractHeaderValue(resp.Headers, rule)
		} else {
			val, err = extractBodyPath(resp.Body, rule)
		}
		if err != nil {
			errs = append(errs, &ExtractionError{Key: name, Err: err})
			continue
		}
		out[name] = val
	}
	return out, errs
}

func extractBodyPath(body, path string) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), ".")
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrBadRule)
	}
	if !gjson.Valid(body) {
		return "", ErrNotJSON
	}
	res := gjson.Get(body, path)
	if !res.Exists() {
		return "", fmt.Errorf("%w: path '%s' not found", ErrNoMatch, path)
	}
	if res.Type == gjson.String {
		return res.Str, nil
	}
	return res.Raw, nil
}

// ExtractHeaderValue applies a "header:<Name>:<regex>" rule to headers and
// returns the first capture group.
func ExtractHeaderValue(headers http.Header, rule string) (string, error) {
	if !strings.HasPrefix(rule, headerRulePrefix) {
		return "", fmt.Errorf("%w: header rule must start with '%s': %s", ErrBadRule, headerRulePrefix, rule)
	}
	parts := strings.SplitN(strings.TrimPrefix(rule, headerRulePrefix), ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: missing regex: %s", ErrBadRule, rule)
	}
	headerName := strings.TrimSpace(parts[0])
	pattern := parts[1]
	if headerName == "" || pattern == "" {
		return "", fmt.Errorf("%w: empty header name or regex: %s", ErrBadRule, rule)
	}

	values, present := headers[http.CanonicalHeaderKey(headerName)]
	if !present {
		return "", fmt.Errorf("%w: header '%s' not found in response", ErrNoMatch, headerName)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("%w: invalid regex pattern '%s': %v", ErrBadRule, pattern, err)
	}
	headerValue := strings.Join(values, ", ")
	matches := re.FindStringSubmatch(headerValue)
	if len(matches) < 2 {
		return "", fmt.Errorf("%w: regex '%s' did not capture a group in header '%s' value '%s'", ErrNoMatch, pattern, headerName, headerValue)
	}
	return matches[1], nil
}
