package auth

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"regexp"
	"strings"

	"api-runner/internal/logging"
)

// ErrDigestFIPSCompliance indicates the server offered only MD5 based
// algorithms while FIPS mode is enabled.
var ErrDigestFIPSCompliance = errors.New("server offered only non-FIPS compliant Digest algorithms (MD5) while FIPS mode is enabled")

// ErrDigestUnsupported indicates the server offered no supported algorithm.
var ErrDigestUnsupported = errors.New("server offered no Digest algorithms supported by the client")

// ErrDigestQopUnsupported indicates the server requires an unsupported QOP.
var ErrDigestQopUnsupported = errors.New("server requires an unsupported QOP value")

var digestParamRegex = regexp.MustCompile(`([a-zA-Z0-9_-]+)\s*=\s*(?:"([^"]*)"|([^",\s]+))`)

type digestChallenge struct {
	Realm      string
	Nonce      string
	Opaque     string
	Algorithm  string
	QopOptions []string
	Stale      bool
}

// DigestRoundTripper answers a 401 Digest challenge by replaying the request
// with an Authorization header. Requests that are not challenged pass through.
type DigestRoundTripper struct {
	Username string
	Password string
	FipsMode bool
	Next     http.RoundTripper
}

// NewDigestRoundTripper wraps next with Digest negotiation for d.
func NewDigestRoundTripper(d Digest, fipsMode bool, next http.RoundTripper) *DigestRoundTripper {
	return &DigestRoundTripper{Username: d.Username, Password: d.Password, FipsMode: fipsMode, Next: next}
}

// RoundTrip implements http.RoundTripper.
func (rt *DigestRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := rt.Next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	authHeader := resp.Header.Get("WWW-Authenticate")
	if !strings.HasPrefix(strings.ToLower(authHeader), "digest ") {
		logging.Logf(logging.Debug, "Digest: 401 without a Digest challenge ('%s'), passing through", authHeader)
		return resp, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	challenge, err := parseDigestChallenge(authHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Digest challenge '%s': %w", authHeader, err)
	}
	algo, qop, err := rt.selectAlgorithmAndQop(challenge)
	if err != nil {
		return nil, err
	}
	logging.Logf(logging.Debug, "Digest: algorithm=%s qop=%s fips=%v", algo, qop, rt.FipsMode)

	cnonce, err := generateCNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate cnonce: %w", err)
	}
	const nc = uint32(1)
	uri := req.URL.RequestURI()

	var body []byte
	if qop == "auth-int" {
		if body, err = replayableBody(req); err != nil {
			return nil, err
		}
	}
	response, err := calculateDigestResponse(rt.Username, rt.Password, req.Method, uri, body,
		challenge.Realm, challenge.Nonce, algo, qop, nc, cnonce)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate Digest response: %w", err)
	}

	authed := req.Clone(req.Context())
	authed.Header.Set("Authorization", formatDigestAuthorization(rt.Username, challenge, uri, algo, qop, nc, cnonce, response))
	if req.GetBody != nil {
		fresh, gbErr := req.GetBody()
		if gbErr != nil {
			return nil, fmt.Errorf("digest: failed to rewind body for authenticated request: %w", gbErr)
		}
		authed.Body = fresh
	} else if req.Body != nil {
		logging.Logf(logging.Warning, "Digest: request body cannot be rewound, authenticated request is sent without it")
		authed.Body = nil
		authed.ContentLength = 0
	}
	return rt.Next.RoundTrip(authed)
}

func replayableBody(req *http.Request) ([]byte, error) {
	if req.GetBody == nil {
		return nil, nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to get body for auth-int: %w", err)
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read body for auth-int: %w", err)
	}
	return b, nil
}

func (rt *DigestRoundTripper) selectAlgorithmAndQop(c *digestChallenge) (string, string, error) {
	offered := strings.ToUpper(c.Algorithm)
	algo := ""
	switch offered {
	case "SHA-256-SESS":
		algo = "SHA-256-sess"
	case "SHA-256":
		algo = "SHA-256"
	case "MD5-SESS":
		if rt.FipsMode {
			return "", "", ErrDigestFIPSCompliance
		}
		algo = "MD5-sess"
	case "MD5", "":
		if rt.FipsMode {
			return "", "", ErrDigestFIPSCompliance
		}
		algo = "MD5"
	default:
		return "", "", fmt.Errorf("%w: server offered '%s'", ErrDigestUnsupported, c.Algorithm)
	}

	qop := ""
	for _, q := range c.QopOptions {
		if q == "auth-int" {
			qop = "auth-int"
			break
		}
		if q == "auth" {
			qop = "auth"
		}
	}
	if len(c.QopOptions) > 0 && qop == "" {
		return "", "", fmt.Errorf("%w: server offered QOP(s) '%s'", ErrDigestQopUnsupported, strings.Join(c.QopOptions, ","))
	}
	return algo, qop, nil
}

func parseDigestChallenge(header string) (*digestChallenge, error) {
	const prefix = "digest "
	if !strings.HasPrefix(strings.ToLower(header), prefix) {
		return nil, fmt.Errorf("invalid Digest header prefix: %s", header)
	}
	value := strings.TrimSpace(header[len(prefix):])
	if value == "" {
		return nil, errors.New("empty Digest challenge parameters")
	}
	matches := digestParamRegex.FindAllStringSubmatch(value, -1)
	if matches == nil {
		return nil, errors.New("could not parse any parameters from Digest challenge")
	}

	params := make(map[string]string, len(matches))
	for _, m := range matches {
		v := m[2]
		if v == "" {
			v = m[3]
		}
		params[strings.ToLower(m[1])] = v
	}

	var qops []string
	for _, q := range strings.Split(params["qop"], ",") {
		if q = strings.ToLower(strings.TrimSpace(q)); q != "" {
			qops = append(qops, q)
		}
	}

	c := &digestChallenge{
		Realm:      params["realm"],
		Nonce:      params["nonce"],
		Opaque:     params["opaque"],
		Algorithm:  params["algorithm"],
		Stale:      strings.EqualFold(params["stale"], "true"),
		QopOptions: qops,
	}
	if c.Realm == "" || c.Nonce == "" {
		return nil, errors.New("missing required Digest parameters (realm or nonce)")
	}
	return c, nil
}

func generateCNonce() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hexDigest(hasher hash.Hash, data string) string {
	hasher.Reset()
	_, _ = hasher.Write([]byte(data))
	return hex.EncodeToString(hasher.Sum(nil))
}

func calculateDigestResponse(username, password, method, uri string, body []byte,
	realm, nonce, algo, qop string, nc uint32, cnonce string) (string, error) {
	var hasher hash.Hash
	upper := strings.ToUpper(algo)
	switch upper {
	case "MD5", "MD5-SESS":
		hasher = md5.New()
	case "SHA-256", "SHA-256-SESS":
		hasher = sha256.New()
	default:
		return "", fmt.Errorf("unsupported Digest algorithm selected: %s", algo)
	}

	ha1 := hexDigest(hasher, username+":"+realm+":"+password)
	if strings.HasSuffix(upper, "-SESS") {
		ha1 = hexDigest(hasher, ha1+":"+nonce+":"+cnonce)
	}

	var ha2 string
	if qop == "auth-int" {
		bodyHash := hexDigest(hasher, string(body))
		ha2 = hexDigest(hasher, method+":"+uri+":"+bodyHash)
	} else {
		ha2 = hexDigest(hasher, method+":"+uri)
	}

	if qop == "" {
		return hexDigest(hasher, ha1+":"+nonce+":"+ha2), nil
	}
	return hexDigest(hasher, fmt.Sprintf("%s:%s:%08x:%s:%s:%s", ha1, nonce, nc, cnonce, qop, ha2)), nil
}

func formatDigestAuthorization(username string, c *digestChallenge, uri, algo, qop string,
	nc uint32, cnonce, response string) string {
	parts := []string{
		fmt.Sprintf(`username="%s"`, username),
		fmt.Sprintf(`realm="%s"`, c.Realm),
		fmt.Sprintf(`nonce="%s"`, c.Nonce),
		fmt.Sprintf(`uri="%s"`, uri),
		fmt.Sprintf(`response="%s"`, response),
	}
	if algo != "MD5" || qop != "" {
		parts = append(parts, "algorithm="+algo)
	}
	if c.Opaque != "" {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, c.Opaque))
	}
	if qop != "" {
		parts = append(parts, "qop="+qop, fmt.Sprintf("nc=%08x", nc), fmt.Sprintf(`cnonce="%s"`, cnonce))
	}
	return "Digest " + strings.Join(parts, ", ")
}
