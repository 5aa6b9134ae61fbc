package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is a workspace: the requests to run, the variable sets they are
// resolved against and the settings for running them.
type Config struct {
	Logging      LoggingConfig       `yaml:"logging"`
	Run          RunConfig           `yaml:"run"`
	Retry        RetryConfig         `yaml:"retry"`
	HTTP         HTTPConfig          `yaml:"http"`
	Environments []EnvironmentConfig `yaml:"environments,omitempty"`
	Requests     []RequestConfig     `yaml:"requests"`

	// BaseDir is the directory of the loaded file; relative paths resolve
	// against it.
	BaseDir string `yaml:"-"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// RunConfig holds bulk run settings.
type RunConfig struct {
	Mode     string `yaml:"mode"`
	DelayMs  *int   `yaml:"delay_ms,omitempty"`
	Chaining bool   `yaml:"chaining"`
}

// RetryConfig holds settings for retry logic.
type RetryConfig struct {
	MaxAttempts   int   `yaml:"max_attempts"`
	BackoffMs     int   `yaml:"backoff_ms"`
	RetryStatuses []int `yaml:"retry_statuses,omitempty"`
}

// HTTPConfig holds transport settings shared by every request.
type HTTPConfig struct {
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	TLSSkipVerify  bool `yaml:"tls_skip_verify,omitempty"`
	ForceHTTP1     bool `yaml:"force_http1,omitempty"`
	CookieJar      bool `yaml:"cookie_jar,omitempty"`
	FipsMode       bool `yaml:"fips_mode,omitempty"`
}

// EnvironmentConfig is one named variable set.
type EnvironmentConfig struct {
	Name      string      `yaml:"name"`
	Active    bool        `yaml:"active,omitempty"`
	Variables OrderedVars `yaml:"variables,omitempty"`
	EnvFile   string      `yaml:"env_file,omitempty"`
}

// RequestConfig is one stored request.
type RequestConfig struct {
	Name    string            `yaml:"name"`
	Method  string            `yaml:"method"`
	URL     string            `yaml:"url"`
	Headers []KeyValueConfig  `yaml:"headers,omitempty"`
	Params  []KeyValueConfig  `yaml:"params,omitempty"`
	Body    *BodyConfig       `yaml:"body,omitempty"`
	Auth    *AuthConfig       `yaml:"auth,omitempty"`
	Extract map[string]string `yaml:"extract,omitempty"`
}

// KeyValueConfig is a header, param or form field row. Enabled defaults to
// true when omitted.
type KeyValueConfig struct {
	Key         string `yaml:"key"`
	Value       string `yaml:"value"`
	Enabled     *bool  `yaml:"enabled,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (kv KeyValueConfig) IsEnabled() bool {
	return kv.Enabled == nil || *kv.Enabled
}

// BodyConfig describes a request body. Type is one of none, json, xml, raw,
// x-www-form-urlencoded, form-data or binary.
type BodyConfig struct {
	Type        string            `yaml:"type"`
	Content     string            `yaml:"content,omitempty"`
	Fields      []KeyValueConfig  `yaml:"fields,omitempty"`
	Files       map[string]string `yaml:"files,omitempty"` // form field -> local path
	File        string            `yaml:"file,omitempty"`  // binary source path
	ContentType string            `yaml:"content_type,omitempty"`
}

// AuthConfig is an auth type tag plus its flat fields.
type AuthConfig struct {
	Type   string            `yaml:"type"`
	Fields map[string]string `yaml:"fields,omitempty"`
}

// Var is one variable in declaration order.
type Var struct {
	Key   string
	Value string
}

// OrderedVars is a YAML mapping of scalars that remembers key order.
type OrderedVars []Var

// UnmarshalYAML implements yaml.Unmarshaler.
func (o *OrderedVars) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: variables must be a mapping", node.Line)
	}
	vars := make(OrderedVars, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: variable '%s' must be a scalar", v.Line, k.Value)
		}
		vars = append(vars, Var{Key: k.Value, Value: v.Value})
	}
	*o = vars
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (o OrderedVars) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, v := range o {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Value})
	}
	return node, nil
}
