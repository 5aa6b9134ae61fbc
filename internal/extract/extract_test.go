package extract

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"api-runner/internal/request"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonResponse(body string) *request.Response {
	return &request.Response{
		StatusCode:  200,
		StatusText:  "OK",
		Headers:     http.Header{"Content-Type": {"application/json"}},
		Body:        body,
		ContentType: "application/json",
		ElapsedMs:   12,
	}
}

func TestExtract_NestedUserID(t *testing.T) {
	out := Extract(jsonResponse(`{"user":{"id":5}}`))
	assert.Equal(t, "5", out["user.id"])
}

func TestSuggestions(t *testing.T) {
	resp := jsonResponse(`{"user":{"id":5,"tags":["a"]},"empty":null}`)
	resp.Headers.Set("X-Trace", "t")
	assert.Equal(t, []string{
		"contentType",
		"header.Content-Type",
		"header.X-Trace",
		"responseTime",
		"status",
		"user.id",
		"user.tags.0",
	}, Suggestions(resp))
	assert.Empty(t, Suggestions(nil))
}

func TestExtract_AlwaysPresentKeys(t *testing.T) {
	resp := &request.Response{
		StatusCode:  404,
		Headers:     http.Header{"X-Trace": {"a", "b"}, "Server": {"test"}},
		Body:        "not found",
		ContentType: "text/plain",
		ElapsedMs:   250,
	}
	assert.Equal(t, map[string]string{
		"status":         "404",
		"responseTime":   "250",
		"contentType":    "text/plain",
		"header.X-Trace": "a, b",
		"header.Server":  "test",
	}, Extract(resp))
}

func TestExtract_Body(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected map[string]string
		absent   []string
	}{
		{
			name: "Scalars And Arrays",
			body: `{"name":"widget","price":9.50,"active":true,"off":false,"items":[{"name":"a"},{"name":"b"}],"tags":["x","y"]}`,
			expected: map[string]string{
				"name": "widget", "price": "9.50", "active": "true", "off": "false",
				"items.0.name": "a", "items.1.name": "b", "tags.0": "x", "tags.1": "y",
			},
		},
		{
			name:     "Nulls And Empty Containers Skipped",
			body:     `{"a":null,"b":{},"c":[],"d":{"e":null,"f":1}}`,
			expected: map[string]string{"d.f": "1"},
			absent:   []string{"a", "b", "c", "d.e"},
		},
		{
			name:     "Top Level Array",
			body:     `[{"id":1},{"id":2}]`,
			expected: map[string]string{"0.id": "1", "1.id": "2"},
		},
		{
			name:   "Top Level Scalar Ignored",
			body:   `"just a string"`,
			absent: []string{""},
		},
		{
			name:   "Invalid JSON Ignored",
			body:   `{"broken":`,
			absent: []string{"broken"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Extract(jsonResponse(tt.body))
			for k, v := range tt.expected {
				assert.Equal(t, v, out[k], k)
			}
			for _, k := range tt.absent {
				assert.NotContains(t, out, k)
			}
			assert.Equal(t, "200", out["status"])
			assert.Equal(t, len(tt.expected)+4, len(out), "status, responseTime, contentType and one header plus body keys")
		})
	}
}

func TestExtract_NonJSONContentTypeSkipsBody(t *testing.T) {
	resp := jsonResponse(`{"id":1}`)
	resp.ContentType = "text/html"
	out := Extract(resp)
	assert.NotContains(t, out, "id")

	resp.ContentType = "application/problem+JSON; charset=utf-8"
	assert.Equal(t, "1", Extract(resp)["id"])
}

func TestExtract_Nil(t *testing.T) {
	assert.Empty(t, Extract(nil))
}

func nested(depth int) string {
	return strings.Repeat(`{"a":`, depth) + "1" + strings.Repeat("}", depth)
}

func TestFlatten_DepthBound(t *testing.T) {
	out, err := Flatten(nested(3), 3)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.a.a": "1"}, out)

	out, err = Flatten(nested(4), 3)
	require.Error(t, err)
	assert.Empty(t, out)
	var exErr *ExtractionError
	require.True(t, errors.As(err, &exErr))
	assert.ErrorIs(t, err, ErrDepthExceeded)

	out, err = Flatten(`{"shallow":1,"deep":`+nested(5)+`}`, 3)
	assert.ErrorIs(t, err, ErrDepthExceeded)
	assert.Equal(t, map[string]string{"shallow": "1"}, out, "keys above the bound survive")
}

func TestExtract_AdversarialDepth(t *testing.T) {
	out := Extract(jsonResponse(nested(10000)))
	assert.Equal(t, "200", out["status"])
	for k := range out {
		assert.LessOrEqual(t, strings.Count(k, ".")+1, MaxDepth+1, k)
	}
}

func TestFlatten_NotJSON(t *testing.T) {
	_, err := Flatten("<xml/>", MaxDepth)
	assert.ErrorIs(t, err, ErrNotJSON)
	assert.Contains(t, err.Error(), "extraction: body is not JSON")
}

func TestApplyRules(t *testing.T) {
	resp := jsonResponse(`{"data":{"token":"abc","count":3,"list":[{"id":"x"}]}}`)
	resp.Headers.Set("X-Request-Id", "req-42")
	resp.Headers.Set("Location", "/items/77")

	out, errs := ApplyRules(resp, map[string]string{
		"token":   "data.token",
		"dotted":  ".data.count",
		"first":   "data.list.0.id",
		"list":    "data.list",
		"reqid":   "header:X-Request-Id:req-(\\d+)",
		"itemId":  "header:location:/items/(.+)",
		"missing": "data.nope",
		"nohdr":   "header:X-Absent:(.*)",
		"nogroup": "header:X-Request-Id:zzz(.*)",
		"badre":   "header:X-Request-Id:([",
	})

	assert.Equal(t, map[string]string{
		"token":  "abc",
		"dotted": "3",
		"first":  "x",
		"list":   `[{"id":"x"}]`,
		"reqid":  "42",
		"itemId": "77",
	}, out)
	require.Len(t, errs, 4)

	failed := map[string]error{}
	for _, err := range errs {
		var exErr *ExtractionError
		require.True(t, errors.As(err, &exErr))
		failed[exErr.Key] = exErr.Err
	}
	assert.ErrorIs(t, failed["missing"], ErrNoMatch)
	assert.ErrorIs(t, failed["nohdr"], ErrNoMatch)
	assert.ErrorIs(t, failed["nogroup"], ErrNoMatch)
	assert.ErrorIs(t, failed["badre"], ErrBadRule)
}

func TestApplyRules_NonJSONBody(t *testing.T) {
	resp := &request.Response{StatusCode: 200, Body: "plain", Headers: http.Header{}}
	out, errs := ApplyRules(resp, map[string]string{"x": "a.b"})
	assert.Empty(t, out)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrNotJSON)

	out, errs = ApplyRules(nil, map[string]string{"x": "a"})
	assert.Empty(t, out)
	assert.Nil(t, errs)
}

func TestExtractHeaderValue(t *testing.T) {
	headers := http.Header{"X-Id": {"id=5"}}
	tests := []struct {
		name     string
		rule     string
		expected string
		wantErr  error
	}{
		{"Match", "header:X-Id:id=(\\d+)", "5", nil},
		{"Case Insensitive Name", "header:x-id:id=(.*)", "5", nil},
		{"Not Header Rule", "X-Id:(.*)", "", ErrBadRule},
		{"Missing Regex", "header:X-Id", "", ErrBadRule},
		{"Empty Name", "header::(.*)", "", ErrBadRule},
		{"Absent Header", "header:X-Other:(.*)", "", ErrNoMatch},
		{"No Capture", "header:X-Id:id=\\d+", "", ErrNoMatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ExtractHeaderValue(headers, tt.rule)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}
