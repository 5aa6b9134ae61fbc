package auth

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInject(t *testing.T) {
	tests := []struct {
		name            string
		auth            Auth
		expectedHeaders []Pair
		expectedParams  []Pair
	}{
		{"Nil", nil, nil, nil},
		{"None", None{}, nil, nil},
		{"Bearer", Bearer{Token: "T"}, []Pair{{Key: "Authorization", Value: "Bearer T"}}, nil},
		{
			"Basic",
			Basic{Username: "user", Password: "pass"},
			[]Pair{{Key: "Authorization", Value: "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))}},
			nil,
		},
		{"Basic Empty Password", Basic{Username: "user"}, []Pair{{Key: "Authorization", Value: "Basic dXNlcjo="}}, nil},
		{"API Key Header", APIKey{Key: "X-Key", Value: "k1", AddTo: InHeader}, []Pair{{Key: "X-Key", Value: "k1"}}, nil},
		{"API Key Default Placement", APIKey{Key: "X-Key", Value: "k1"}, []Pair{{Key: "X-Key", Value: "k1"}}, nil},
		{"API Key Query", APIKey{Key: "api_key", Value: "k2", AddTo: InQuery}, nil, []Pair{{Key: "api_key", Value: "k2"}}},
		{"Digest Is Transport Level", Digest{Username: "u", Password: "p"}, nil, nil},
		{"NTLM Is Transport Level", NTLM{Username: `DOM\u`, Password: "p"}, nil, nil},
		{
			"OAuth2 Is Transport Level",
			OAuth2ClientCredentials{ClientID: "id", ClientSecret: "s", TokenURL: "http://idp/token"},
			nil, nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inj, err := Inject(tt.auth)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedHeaders, inj.Headers)
			assert.Equal(t, tt.expectedParams, inj.Params)
		})
	}
}

func TestInject_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		auth    Auth
		errText string
	}{
		{"Empty Bearer", Bearer{}, "bearer token is empty"},
		{"Blank Bearer", Bearer{Token: "   "}, "bearer token is empty"},
		{"Basic No User", Basic{Password: "p"}, "username is empty"},
		{"API Key No Name", APIKey{Value: "v"}, "api key name is empty"},
		{"API Key Bad Placement", APIKey{Key: "k", AddTo: "cookie"}, "addTo must be"},
		{"Digest Missing Password", Digest{Username: "u"}, "digest auth requires"},
		{"NTLM Missing User", NTLM{Password: "p"}, "ntlm auth requires"},
		{"OAuth2 Missing Token URL", OAuth2ClientCredentials{ClientID: "id", ClientSecret: "s"}, "oauth2 requires"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Inject(tt.auth)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformed)
			assert.Contains(t, err.Error(), tt.errText)
		})
	}
}

func TestIsTransportLevel(t *testing.T) {
	assert.False(t, IsTransportLevel(nil))
	assert.False(t, IsTransportLevel(None{}))
	assert.False(t, IsTransportLevel(Bearer{Token: "t"}))
	assert.False(t, IsTransportLevel(APIKey{Key: "k"}))
	assert.True(t, IsTransportLevel(Digest{}))
	assert.True(t, IsTransportLevel(NTLM{}))
	assert.True(t, IsTransportLevel(OAuth2ClientCredentials{}))
}

func TestFromFields(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		fields   map[string]string
		expected Auth
	}{
		{"Empty Kind", "", nil, None{}},
		{"Unknown Kind", "kerberos", map[string]string{"token": "x"}, None{}},
		{"None", "none", nil, None{}},
		{"Bearer", "bearer", map[string]string{"token": "{{tok}}"}, Bearer{Token: "{{tok}}"}},
		{"Bearer Case Insensitive", " Bearer ", map[string]string{"token": "t"}, Bearer{Token: "t"}},
		{"Basic", "basic", map[string]string{"username": "u", "password": "p"}, Basic{Username: "u", Password: "p"}},
		{"API Key Camel", "api-key", map[string]string{"key": "k", "value": "v", "addTo": "query"}, APIKey{Key: "k", Value: "v", AddTo: InQuery}},
		{"API Key Snake Alias", "api_key", map[string]string{"key": "k", "value": "v", "add_to": "HEADER"}, APIKey{Key: "k", Value: "v", AddTo: InHeader}},
		{"API Key Default Header", "apikey", map[string]string{"key": "k"}, APIKey{Key: "k", AddTo: InHeader}},
		{"Digest", "digest", map[string]string{"username": "u", "password": "p"}, Digest{Username: "u", Password: "p"}},
		{"NTLM", "ntlm", map[string]string{"username": "u", "password": "p"}, NTLM{Username: "u", Password: "p"}},
		{
			"OAuth2",
			"oauth2",
			map[string]string{"clientId": "id", "client_secret": "s", "token_url": "http://idp", "scope": "a b"},
			OAuth2ClientCredentials{ClientID: "id", ClientSecret: "s", TokenURL: "http://idp", Scopes: "a b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FromFields(tt.kind, tt.fields))
		})
	}
}

func TestMapFields(t *testing.T) {
	upper := strings.ToUpper

	assert.Equal(t, None{}, MapFields(nil, upper))
	assert.Equal(t, None{}, MapFields(None{}, upper))
	assert.Equal(t, Bearer{Token: "TOK"}, MapFields(Bearer{Token: "tok"}, upper))
	assert.Equal(t, Basic{Username: "U", Password: "P"}, MapFields(Basic{Username: "u", Password: "p"}, upper))
	assert.Equal(t, APIKey{Key: "K", Value: "V", AddTo: InQuery}, MapFields(APIKey{Key: "k", Value: "v", AddTo: InQuery}, upper))
	assert.Equal(t, Digest{Username: "U", Password: "P"}, MapFields(Digest{Username: "u", Password: "p"}, upper))
	assert.Equal(t, NTLM{Username: "U", Password: "P"}, MapFields(NTLM{Username: "u", Password: "p"}, upper))
	assert.Equal(t,
		OAuth2ClientCredentials{ClientID: "ID", ClientSecret: "S", TokenURL: "URL", Scopes: "A"},
		MapFields(OAuth2ClientCredentials{ClientID: "id", ClientSecret: "s", TokenURL: "url", Scopes: "a"}, upper))
}

func TestMapFields_DoesNotTouchOriginal(t *testing.T) {
	orig := Basic{Username: "{{u}}", Password: "{{p}}"}
	mapped := MapFields(orig, func(s string) string { return "x" })
	assert.Equal(t, Basic{Username: "{{u}}", Password: "{{p}}"}, orig)
	assert.Equal(t, Basic{Username: "x", Password: "x"}, mapped)
}
