package httpclient

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"api-runner/internal/auth"
	"api-runner/internal/config"
	"api-runner/internal/logging"

	"github.com/Azure/go-ntlmssp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTimeout is used when the config carries no timeout.
const DefaultTimeout = 30 * time.Second

// NewClient builds an *http.Client for cfg. a selects the transport for
// schemes negotiated on the wire: Digest and NTLM wrap the base transport and
// OAuth2 client credentials replaces the client with a token-fetching one.
// Header based schemes (and nil) need nothing special here.
//
// jar is used when cfg.CookieJar is set; when jar is nil a fresh one is made.
func NewClient(cfg config.HTTPConfig, a auth.Auth, jar http.CookieJar) (*http.Client, error) {
	timeout := DefaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	baseTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if cfg.ForceHTTP1 {
		logging.Logf(logging.Debug, "Forcing HTTP/1.1")
		// An empty non-nil TLSNextProto disables HTTP/2 via ALPN.
		baseTransport.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
		baseTransport.ForceAttemptHTTP2 = false
	}
	if cfg.TLSSkipVerify {
		logging.Logf(logging.Warning, "TLS certificate verification is DISABLED")
	}

	var finalTransport http.RoundTripper = baseTransport

	switch v := a.(type) {
	case nil, auth.None, auth.Bearer, auth.Basic, auth.APIKey:
		// Applied as headers or params by the assembler.

	case auth.NTLM:
		if v.Username == "" || v.Password == "" {
			return nil, fmt.Errorf("ntlm authentication requires username and password")
		}
		logging.Logf(logging.Debug, "Configuring NTLM transport for user '%s'", v.Username)
		finalTransport = &basicAuthTransport{
			username: v.Username,
			password: v.Password,
			next:     ntlmssp.Negotiator{RoundTripper: baseTransport},
		}

	case auth.Digest:
		if v.Username == "" || v.Password == "" {
			return nil, fmt.Errorf("digest authentication requires username and password")
		}
		logging.Logf(logging.Debug, "Configuring Digest transport for user '%s' (fips=%v)", v.Username, cfg.FipsMode)
		finalTransport = auth.NewDigestRoundTripper(v, cfg.FipsMode, baseTransport)

	case auth.OAuth2ClientCredentials:
		if v.ClientID == "" || v.ClientSecret == "" || v.TokenURL == "" {
			return nil, fmt.Errorf("oauth2 requires client_id, client_secret and token_url")
		}
		if cfg.FipsMode {
			logging.Logf(logging.Info, "FIPS mode enabled for OAuth2. Ensure the Go crypto backend is FIPS compliant.")
		}
		logging.Logf(logging.Debug, "Configuring OAuth2 client credentials flow against '%s'", v.TokenURL)
		oauthConfig := clientcredentials.Config{
			ClientID:     v.ClientID,
			ClientSecret: v.ClientSecret,
			TokenURL:     v.TokenURL,
			Scopes:       strings.Fields(v.Scopes),
		}
		// Token requests go through the same base transport.
		ctxClient := &http.Client{Transport: baseTransport, Timeout: timeout}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, ctxClient)
		oauthClient := oauthConfig.Client(ctx)
		oauthClient.Timeout = timeout
		j, err := resolveJar(cfg, jar)
		if err != nil {
			return nil, err
		}
		oauthClient.Jar = j
		return oauthClient, nil

	default:
		return nil, fmt.Errorf("unsupported authentication type '%v' for client creation", a.Kind())
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: finalTransport,
	}
	j, err := resolveJar(cfg, jar)
	if err != nil {
		return nil, err
	}
	client.Jar = j
	return client, nil
}

func resolveJar(cfg config.HTTPConfig, jar http.CookieJar) (http.CookieJar, error) {
	if !cfg.CookieJar {
		return nil, nil
	}
	if jar != nil {
		logging.Logf(logging.Debug, "Using provided cookie jar")
		return jar, nil
	}
	j, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	logging.Logf(logging.Debug, "Created cookie jar")
	return j, nil
}

// basicAuthTransport hands credentials to ntlmssp.Negotiator, which picks
// them up from a Basic Authorization header and replaces it with the NTLM
// handshake.
type basicAuthTransport struct {
	username string
	password string
	next     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if _, _, ok := req.BasicAuth(); ok {
		return t.next.RoundTrip(req)
	}
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	return t.next.RoundTrip(r)
}

// LogCookieJar logs the cookies the jar holds for urlStr at debug level.
func LogCookieJar(jar http.CookieJar, urlStr string) {
	if jar == nil || !logging.Enabled(logging.Debug) {
		return
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		logging.Logf(logging.Debug, "Error parsing URL '%s' for logging cookie jar: %v", urlStr, err)
		return
	}
	cookies := jar.Cookies(u)
	if len(cookies) > 0 {
		logging.Logf(logging.Debug, "Cookies in jar for URL '%s': %v", urlStr, cookies)
	} else {
		logging.Logf(logging.Debug, "No cookies in jar for URL '%s'", urlStr)
	}
}
