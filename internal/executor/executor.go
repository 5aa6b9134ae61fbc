package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"strings"
	"sync"
	"time"

	"api-runner/internal/auth"
	"api-runner/internal/config"
	"api-runner/internal/httpclient"
	"api-runner/internal/logging"
	"api-runner/internal/request"
	"api-runner/internal/util"
)

// sleepFunc pauses between retry attempts.
type sleepFunc func(time.Duration)

// DefaultSleep is the sleep used between retries. Tests replace it.
var DefaultSleep sleepFunc = time.Sleep

// ErrNetwork is matched by every NetworkError.
var ErrNetwork = errors.New("network error")

// NetworkError reports that no response was obtained: timeouts, DNS
// failures, refused connections, TLS failures and truncated bodies.
type NetworkError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s %s failed after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrNetwork) true.
func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// clientFactory matches httpclient.NewClient.
type clientFactory func(cfg config.HTTPConfig, a auth.Auth, jar http.CookieJar) (*http.Client, error)

// ExecutorOpts overrides HTTPExecutor dependencies. Nil fields use defaults.
type ExecutorOpts struct {
	// Client, when set, is used for every request regardless of auth.
	Client    *http.Client
	NewClient clientFactory
	Jar       http.CookieJar
}

// HTTPExecutor sends FinalRequests over HTTP with retries. One client is
// built and cached per transport-level auth descriptor so digest, NTLM and
// OAuth2 state is reused across requests.
type HTTPExecutor struct {
	httpCfg   config.HTTPConfig
	retryCfg  config.RetryConfig
	jar       http.CookieJar
	fixed     *http.Client
	newClient clientFactory

	mu      sync.Mutex
	clients map[auth.Auth]*http.Client
}

// NewHTTPExecutor creates an executor with the default client factory.
func NewHTTPExecutor(httpCfg config.HTTPConfig, retryCfg config.RetryConfig) *HTTPExecutor {
	return NewHTTPExecutorWithOpts(httpCfg, retryCfg, nil)
}

// NewHTTPExecutorWithOpts creates an executor with injectable dependencies.
func NewHTTPExecutorWithOpts(httpCfg config.HTTPConfig, retryCfg config.RetryConfig, opts *ExecutorOpts) *HTTPExecutor {
	if opts == nil {
		opts = &ExecutorOpts{}
	}
	e := &HTTPExecutor{
		httpCfg:   httpCfg,
		retryCfg:  retryCfg,
		jar:       opts.Jar,
		fixed:     opts.Client,
		newClient: opts.NewClient,
		clients:   make(map[auth.Auth]*http.Client),
	}
	if e.newClient == nil {
		e.newClient = httpclient.NewClient
	}
	if e.jar == nil && httpCfg.CookieJar && e.fixed == nil {
		// One jar for the executor so cookies carry across requests.
		if jar, err := cookiejar.New(nil); err == nil {
			e.jar = jar
		} else {
			logging.Logf(logging.Warning, "Could not create cookie jar, each client gets its own: %v", err)
		}
	}
	return e
}

// Execute dispatches fr and returns the response. Any HTTP status is a
// successful outcome; an error means no response was obtained.
func (e *HTTPExecutor) Execute(ctx context.Context, fr *request.FinalRequest) (*request.Response, error) {
	if fr == nil {
		return nil, errors.New("execute: nil request")
	}
	client, err := e.clientFor(fr.TransportAuth)
	if err != nil {
		return nil, err
	}

	maxAttempts := e.retryCfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	backoff := time.Duration(e.retryCfg.BackoffMs) * time.Millisecond

	var lastErr error
	var lastResp *request.Response
	attempts := 0
	for attempts < maxAttempts {
		attempts++
		if maxAttempts > 1 {
			logging.Logf(logging.Debug, "Request attempt %d/%d for %s %s", attempts, maxAttempts, fr.Method, fr.URL)
		}

		resp, err := e.do(ctx, client, fr)
		if err != nil {
			lastErr = err
			lastResp = nil
			logging.Logf(logging.Info, "Attempt %d for %s %s failed: %v", attempts, fr.Method, fr.URL, err)
			if ctx.Err() != nil {
				break
			}
		} else {
			if !e.isRetryableStatus(resp.StatusCode) {
				logging.Logf(logging.Debug, "Attempt %d: status %d in %dms", attempts, resp.StatusCode, resp.ElapsedMs)
				return resp, nil
			}
			lastResp = resp
			lastErr = nil
			logging.Logf(logging.Info, "Attempt %d for %s %s returned retryable status %d", attempts, fr.Method, fr.URL, resp.StatusCode)
		}

		if attempts < maxAttempts {
			logging.Logf(logging.Info, "Retrying in %v...", backoff)
			DefaultSleep(backoff)
			if ctx.Err() != nil {
				if lastResp != nil {
					return lastResp, nil
				}
				lastErr = ctx.Err()
				break
			}
		}
	}

	if lastResp != nil {
		logging.Logf(logging.Debug, "Retries exhausted, returning last response with status %d", lastResp.StatusCode)
		return lastResp, nil
	}
	return nil, &NetworkError{Method: fr.Method, URL: fr.URL, Attempts: attempts, Err: lastErr}
}

func (e *HTTPExecutor) isRetryableStatus(code int) bool {
	for _, c := range e.retryCfg.RetryStatuses {
		if c == code {
			return true
		}
	}
	return false
}

// do performs a single attempt. Timing covers dispatch through full body
// receipt.
func (e *HTTPExecutor) do(ctx context.Context, client *http.Client, fr *request.FinalRequest) (*request.Response, error) {
	var body io.Reader
	if len(fr.Body) > 0 {
		body = bytes.NewReader(fr.Body)
	}
	req, err := http.NewRequestWithContext(ctx, fr.Method, fr.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for _, h := range fr.Headers {
		if strings.EqualFold(h.Key, "Host") {
			req.Host = h.Value
			continue
		}
		req.Header.Add(h.Key, h.Value)
	}
	if fr.ContentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", fr.ContentType)
	}
	if logging.Enabled(logging.Debug) && len(fr.Body) > 0 {
		logging.Logf(logging.Debug, "Request body: %s", util.Snippet(fr.Body))
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body (status %d): %w", resp.StatusCode, err)
	}
	httpclient.LogCookieJar(client.Jar, fr.URL)
	logging.Logf(logging.Debug, "Response %d body: %s", resp.StatusCode, util.Snippet(respBody))

	return &request.Response{
		StatusCode:  resp.StatusCode,
		StatusText:  statusText(resp),
		Headers:     resp.Header.Clone(),
		Body:        string(respBody),
		ContentType: resp.Header.Get("Content-Type"),
		ElapsedMs:   elapsed.Milliseconds(),
	}, nil
}

// statusText strips the numeric code from resp.Status ("200 OK" -> "OK").
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}

func (e *HTTPExecutor) clientFor(a auth.Auth) (*http.Client, error) {
	if e.fixed != nil {
		return e.fixed, nil
	}
	if !auth.IsTransportLevel(a) {
		a = nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.clients[a]; ok {
		return c, nil
	}
	c, err := e.newClient(e.httpCfg, a, e.jar)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}
	e.clients[a] = c
	return c, nil
}
