package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Kind is the tag of an authentication descriptor.
type Kind string

const (
	KindNone   Kind = "none"
	KindBearer Kind = "bearer"
	KindBasic  Kind = "basic"
	KindAPIKey Kind = "api-key"
	KindDigest Kind = "digest"
	KindNTLM   Kind = "ntlm"
	KindOAuth2 Kind = "oauth2"
)

// Placement says where an API key is attached.
type Placement string

const (
	InHeader Placement = "header"
	InQuery  Placement = "query"
)

// ErrMalformed marks auth descriptors whose fields cannot produce credentials.
var ErrMalformed = errors.New("malformed auth fields")

// Auth is a closed set of authentication descriptors. Header and query based
// variants are turned into request entries by Inject; Digest, NTLM and
// OAuth2ClientCredentials are negotiated by the HTTP transport instead.
type Auth interface {
	Kind() Kind
	isAuth()
}

type None struct{}

type Bearer struct {
	Token string
}

type Basic struct {
	Username string
	Password string
}

type APIKey struct {
	Key   string
	Value string
	AddTo Placement
}

type Digest struct {
	Username string
	Password string
}

type NTLM struct {
	Username string
	Password string
}

// OAuth2ClientCredentials runs the client credentials grant. Scopes is space
// separated so the descriptor stays comparable and can key a client cache.
type OAuth2ClientCredentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       string
}

func (None) Kind() Kind                    { return KindNone }
func (Bearer) Kind() Kind                  { return KindBearer }
func (Basic) Kind() Kind                   { return KindBasic }
func (APIKey) Kind() Kind                  { return KindAPIKey }
func (Digest) Kind() Kind                  { return KindDigest }
func (NTLM) Kind() Kind                    { return KindNTLM }
func (OAuth2ClientCredentials) Kind() Kind { return KindOAuth2 }

func (None) isAuth()                    {}
func (Bearer) isAuth()                  {}
func (Basic) isAuth()                   {}
func (APIKey) isAuth()                  {}
func (Digest) isAuth()                  {}
func (NTLM) isAuth()                    {}
func (OAuth2ClientCredentials) isAuth() {}

// Pair is one injected header or query entry.
type Pair struct {
	Key   string
	Value string
}

// Injection holds the entries an Auth adds to a request, in order.
type Injection struct {
	Headers []Pair
	Params  []Pair
}

// Inject converts a descriptor into headers or query params. A nil Auth
// behaves as None.
func Inject(a Auth) (Injection, error) {
	if err := Validate(a); err != nil {
		return Injection{}, err
	}
	switch v := a.(type) {
	case nil, None:
		return Injection{}, nil
	case Bearer:
		return Injection{Headers: []Pair{{Key: "Authorization", Value: "Bearer " + v.Token}}}, nil
	case Basic:
		encoded := base64.StdEncoding.EncodeToString([]byte(v.Username + ":" + v.Password))
		return Injection{Headers: []Pair{{Key: "Authorization", Value: "Basic " + encoded}}}, nil
	case APIKey:
		entry := Pair{Key: v.Key, Value: v.Value}
		if v.AddTo == InQuery {
			return Injection{Params: []Pair{entry}}, nil
		}
		return Injection{Headers: []Pair{entry}}, nil
	case Digest, NTLM, OAuth2ClientCredentials:
		// Negotiated by the transport.
		return Injection{}, nil
	default:
		return Injection{}, fmt.Errorf("%w: unsupported descriptor %T", ErrMalformed, a)
	}
}

// Validate checks that a descriptor carries the fields it needs.
func Validate(a Auth) error {
	switch v := a.(type) {
	case nil, None:
		return nil
	case Bearer:
		if strings.TrimSpace(v.Token) == "" {
			return fmt.Errorf("%w: bearer token is empty", ErrMalformed)
		}
	case Basic:
		if v.Username == "" {
			return fmt.Errorf("%w: basic auth username is empty", ErrMalformed)
		}
	case APIKey:
		if strings.TrimSpace(v.Key) == "" {
			return fmt.Errorf("%w: api key name is empty", ErrMalformed)
		}
		if v.AddTo != "" && v.AddTo != InHeader && v.AddTo != InQuery {
			return fmt.Errorf("%w: api key addTo must be 'header' or 'query', got '%s'", ErrMalformed, v.AddTo)
		}
	case Digest:
		if v.Username == "" || v.Password == "" {
			return fmt.Errorf("%w: digest auth requires username and password", ErrMalformed)
		}
	case NTLM:
		if v.Username == "" || v.Password == "" {
			return fmt.Errorf("%w: ntlm auth requires username and password", ErrMalformed)
		}
	case OAuth2ClientCredentials:
		if v.ClientID == "" || v.ClientSecret == "" || v.TokenURL == "" {
			return fmt.Errorf("%w: oauth2 requires client_id, client_secret and token_url", ErrMalformed)
		}
	}
	return nil
}

// IsTransportLevel reports whether a is negotiated by the HTTP client rather
// than injected into the request.
func IsTransportLevel(a Auth) bool {
	switch a.(type) {
	case Digest, NTLM, OAuth2ClientCredentials:
		return true
	default:
		return false
	}
}

// FromFields builds a descriptor from a type tag and a flat field map, the
// shape stored with a request. Unknown tags yield None.
func FromFields(kind string, fields map[string]string) Auth {
	get := func(names ...string) string {
		for _, name := range names {
			if v, ok := fields[name]; ok {
				return v
			}
		}
		return ""
	}

	switch Kind(strings.ToLower(strings.TrimSpace(kind))) {
	case KindBearer:
		return Bearer{Token: get("token")}
	case KindBasic:
		return Basic{Username: get("username"), Password: get("password")}
	case KindAPIKey, "api_key", "apikey":
		addTo := Placement(strings.ToLower(get("addTo", "add_to", "in")))
		if addTo == "" {
			addTo = InHeader
		}
		return APIKey{Key: get("key"), Value: get("value"), AddTo: addTo}
	case KindDigest:
		return Digest{Username: get("username"), Password: get("password")}
	case KindNTLM:
		return NTLM{Username: get("username"), Password: get("password")}
	case KindOAuth2:
		return OAuth2ClientCredentials{
			ClientID:     get("client_id", "clientId"),
			ClientSecret: get("client_secret", "clientSecret"),
			TokenURL:     get("token_url", "tokenUrl"),
			Scopes:       get("scopes", "scope"),
		}
	default:
		return None{}
	}
}

// MapFields returns a copy of a with every credential field passed through
// fn. The assembler uses it to resolve variables in credentials before
// injection; the injected output is never resolved again.
func MapFields(a Auth, fn func(string) string) Auth {
	switch v := a.(type) {
	case Bearer:
		return Bearer{Token: fn(v.Token)}
	case Basic:
		return Basic{Username: fn(v.Username), Password: fn(v.Password)}
	case APIKey:
		return APIKey{Key: fn(v.Key), Value: fn(v.Value), AddTo: v.AddTo}
	case Digest:
		return Digest{Username: fn(v.Username), Password: fn(v.Password)}
	case NTLM:
		return NTLM{Username: fn(v.Username), Password: fn(v.Password)}
	case OAuth2ClientCredentials:
		return OAuth2ClientCredentials{
			ClientID:     fn(v.ClientID),
			ClientSecret: fn(v.ClientSecret),
			TokenURL:     fn(v.TokenURL),
			Scopes:       fn(v.Scopes),
		}
	case nil:
		return None{}
	default:
		return a
	}
}
