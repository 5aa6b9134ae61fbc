package httpclient

import (
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing"

	"api-runner/internal/auth"
	"api-runner/internal/config"
	"api-runner/internal/logging"

	"github.com/Azure/go-ntlmssp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// getBaseTransport digs the *http.Transport out of the wrappers NewClient uses.
func getBaseTransport(client *http.Client) (*http.Transport, bool) {
	var rt http.RoundTripper = client.Transport
	for {
		switch t := rt.(type) {
		case *http.Transport:
			return t, true
		case *basicAuthTransport:
			rt = t.next
		case ntlmssp.Negotiator:
			rt = t.RoundTripper
		case *auth.DigestRoundTripper:
			rt = t.Next
		case *oauth2.Transport:
			rt = t.Base
		default:
			return nil, false
		}
	}
}

func TestNewClient(t *testing.T) {
	persistentJar, _ := cookiejar.New(nil)

	tests := []struct {
		name                string
		cfg                 config.HTTPConfig
		auth                auth.Auth
		jarInput            http.CookieJar
		expectTLSSkip       bool
		expectJar           bool
		expectPersistentJar bool
		expectError         bool
		checkTransportType  func(t *testing.T, transport http.RoundTripper)
	}{
		{
			name: "Defaults",
			checkTransportType: func(t *testing.T, transport http.RoundTripper) {
				_, ok := transport.(*http.Transport)
				assert.True(t, ok, "Expected base http.Transport")
			},
		},
		{
			name:          "TLS Skip Verify",
			cfg:           config.HTTPConfig{TLSSkipVerify: true},
			auth:          auth.None{},
			expectTLSSkip: true,
		},
		{
			name:      "Temporary Cookie Jar",
			cfg:       config.HTTPConfig{CookieJar: true},
			expectJar: true,
		},
		{
			name:                "Persistent Cookie Jar",
			cfg:                 config.HTTPConfig{CookieJar: true},
			jarInput:            persistentJar,
			expectJar:           true,
			expectPersistentJar: true,
		},
		{
			name:     "Jar Ignored When Disabled",
			jarInput: persistentJar,
		},
		{
			name: "Header Auth Uses Base Transport",
			auth: auth.Bearer{Token: "t"},
			checkTransportType: func(t *testing.T, transport http.RoundTripper) {
				_, ok := transport.(*http.Transport)
				assert.True(t, ok)
			},
		},
		{
			name: "NTLM",
			auth: auth.NTLM{Username: "user", Password: "pass"},
			checkTransportType: func(t *testing.T, transport http.RoundTripper) {
				wrapper, ok := transport.(*basicAuthTransport)
				require.True(t, ok, "Expected credential wrapper")
				_, ok = wrapper.next.(ntlmssp.Negotiator)
				assert.True(t, ok, "Expected ntlmssp.Negotiator transport")
			},
		},
		{
			name:        "NTLM Missing Creds",
			auth:        auth.NTLM{Username: "user"},
			expectError: true,
		},
		{
			name: "OAuth2",
			auth: auth.OAuth2ClientCredentials{ClientID: "cid", ClientSecret: "csec", TokenURL: "http://token.test/oauth", Scopes: "a b"},
			checkTransportType: func(t *testing.T, transport http.RoundTripper) {
				_, ok := transport.(*oauth2.Transport)
				assert.True(t, ok, "Expected oauth2.Transport")
			},
		},
		{
			name:                "OAuth2 With Cookie Jar",
			cfg:                 config.HTTPConfig{CookieJar: true},
			auth:                auth.OAuth2ClientCredentials{ClientID: "cid", ClientSecret: "csec", TokenURL: "http://token.test/oauth"},
			jarInput:            persistentJar,
			expectJar:           true,
			expectPersistentJar: true,
		},
		{
			name:        "OAuth2 Missing Creds",
			auth:        auth.OAuth2ClientCredentials{ClientID: "cid"},
			expectError: true,
		},
		{
			name: "Digest FIPS Off",
			auth: auth.Digest{Username: "user", Password: "pass"},
			checkTransportType: func(t *testing.T, transport http.RoundTripper) {
				digestRT, ok := transport.(*auth.DigestRoundTripper)
				require.True(t, ok, "Expected *auth.DigestRoundTripper")
				assert.False(t, digestRT.FipsMode)
				_, okBase := digestRT.Next.(*http.Transport)
				assert.True(t, okBase, "Digest RT should wrap *http.Transport")
			},
		},
		{
			name: "Digest FIPS On",
			cfg:  config.HTTPConfig{FipsMode: true},
			auth: auth.Digest{Username: "user", Password: "pass"},
			checkTransportType: func(t *testing.T, transport http.RoundTripper) {
				digestRT, ok := transport.(*auth.DigestRoundTripper)
				require.True(t, ok)
				assert.True(t, digestRT.FipsMode)
			},
		},
		{
			name:        "Digest Missing Creds",
			auth:        auth.Digest{Password: "pass"},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.cfg, tt.auth, tt.jarInput)

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, client)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, client)
			assert.Equal(t, DefaultTimeout, client.Timeout)

			if tt.expectJar {
				assert.NotNil(t, client.Jar)
				if tt.expectPersistentJar {
					assert.Same(t, tt.jarInput, client.Jar, "Expected the persistent jar instance")
				}
			} else {
				assert.Nil(t, client.Jar)
			}

			baseTransport, ok := getBaseTransport(client)
			require.True(t, ok, "Could not extract base http.Transport")
			require.NotNil(t, baseTransport.TLSClientConfig)
			assert.Equal(t, tt.expectTLSSkip, baseTransport.TLSClientConfig.InsecureSkipVerify)

			if tt.checkTransportType != nil {
				tt.checkTransportType(t, client.Transport)
			}
		})
	}
}

func TestNewClient_TimeoutAndHTTP1(t *testing.T) {
	client, err := NewClient(config.HTTPConfig{TimeoutSeconds: 7, ForceHTTP1: true}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), int64(client.Timeout.Seconds()))

	base, ok := getBaseTransport(client)
	require.True(t, ok)
	assert.False(t, base.ForceAttemptHTTP2)
	assert.NotNil(t, base.TLSNextProto)
	assert.Empty(t, base.TLSNextProto)
}

func TestBasicAuthTransport(t *testing.T) {
	var gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
	}))
	t.Cleanup(server.Close)

	rt := &basicAuthTransport{username: "dom\\u", password: "p", next: http.DefaultTransport}
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "dom\\u", gotUser)
	assert.Equal(t, "p", gotPass)
	_, _, ok := req.BasicAuth()
	assert.False(t, ok, "original request must not be modified")
}

func TestLogCookieJar(t *testing.T) {
	jar, _ := cookiejar.New(nil)
	testURL, _ := url.Parse("http://test.com")
	jar.SetCookies(testURL, []*http.Cookie{{Name: "session", Value: "123"}})

	var buf captureWriter
	restore := logging.SetOutput(&buf, 0)
	t.Cleanup(restore)
	prev := logging.GetLevel()
	t.Cleanup(func() { logging.SetLevel(prev) })

	logging.SetLevel(logging.Info)
	LogCookieJar(jar, "http://test.com")
	assert.Empty(t, buf.String())

	logging.SetLevel(logging.Debug)
	LogCookieJar(jar, "http://test.com")
	assert.Contains(t, buf.String(), "session=123")

	LogCookieJar(nil, "http://test.com")
	LogCookieJar(jar, "http://other.com")
	assert.Contains(t, buf.String(), "No cookies in jar for URL 'http://other.com'")
}

type captureWriter struct{ data []byte }

func (c *captureWriter) Write(p []byte) (int, error) {
	c.data = append(c.data, p...)
	return len(p), nil
}

func (c *captureWriter) String() string { return string(c.data) }
