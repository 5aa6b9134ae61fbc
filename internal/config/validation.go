package config

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

var (
	knownLogLevels   = []string{"none", "error", "warn", "warning", "info", "debug"}
	knownRunModes    = []string{"sequential", "parallel"}
	knownAuthTypes   = []string{"", "none", "bearer", "basic", "api-key", "api_key", "apikey", "digest", "ntlm", "oauth2"}
	knownBodyTypes   = []string{"", "none", "json", "xml", "raw", "text", "x-www-form-urlencoded", "form-data", "binary"}
	knownPlacements  = []string{"", "header", "query"}
	knownHTTPMethods = []string{
		http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch,
		http.MethodDelete, http.MethodHead, http.MethodOptions,
	}
)

// isValidEnumValue reports whether value is in allowed, ignoring case.
func isValidEnumValue(value string, allowed []string) bool {
	for _, a := range allowed {
		if strings.EqualFold(value, a) {
			return true
		}
	}
	return false
}

// ValidateConfigManually checks the whole workspace and reports every
// problem at once.
func ValidateConfigManually(cfg *Config) error {
	var allErrors []string
	allErrors = append(allErrors, validateLoggingConfig("Config.Logging", &cfg.Logging)...)
	allErrors = append(allErrors, validateRunConfig("Config.Run", &cfg.Run)...)
	allErrors = append(allErrors, validateRetryConfig("Config.Retry", &cfg.Retry)...)
	allErrors = append(allErrors, validateHTTPConfig("Config.HTTP", &cfg.HTTP)...)
	allErrors = append(allErrors, validateEnvironments("Config.Environments", cfg.Environments)...)

	if len(cfg.Requests) < 1 {
		allErrors = append(allErrors, "- Config.Requests: at least one request is required")
	}
	seen := make(map[string]bool)
	for i := range cfg.Requests {
		req := &cfg.Requests[i]
		prefix := fmt.Sprintf("Config.Requests[%d]", i)
		if req.Name != "" {
			prefix = fmt.Sprintf("Config.Requests[%s]", req.Name)
			if seen[req.Name] {
				allErrors = append(allErrors, fmt.Sprintf("- %s.Name: duplicate request name '%s'", prefix, req.Name))
			}
			seen[req.Name] = true
		}
		allErrors = append(allErrors, validateRequestConfig(prefix, req)...)
	}

	if len(allErrors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(allErrors, "\n"))
	}
	return nil
}

func validateLoggingConfig(prefix string, cfg *LoggingConfig) []string {
	var errs []string
	if !isValidEnumValue(cfg.Level, knownLogLevels) {
		errs = append(errs, fmt.Sprintf("- %s.Level: invalid log level '%s', must be one of %v", prefix, cfg.Level, knownLogLevels))
	}
	return errs
}

func validateRunConfig(prefix string, cfg *RunConfig) []string {
	var errs []string
	if !isValidEnumValue(cfg.Mode, knownRunModes) {
		errs = append(errs, fmt.Sprintf("- %s.Mode: invalid mode '%s', must be one of %v", prefix, cfg.Mode, knownRunModes))
	}
	if cfg.DelayMs != nil && *cfg.DelayMs < 0 {
		errs = append(errs, fmt.Sprintf("- %s.DelayMs: cannot be negative", prefix))
	}
	return errs
}

func validateRetryConfig(prefix string, cfg *RetryConfig) []string {
	var errs []string
	if cfg.MaxAttempts < 1 {
		errs = append(errs, fmt.Sprintf("- %s.MaxAttempts: must be at least 1", prefix))
	}
	if cfg.BackoffMs < 0 {
		errs = append(errs, fmt.Sprintf("- %s.BackoffMs: cannot be negative", prefix))
	}
	for _, code := range cfg.RetryStatuses {
		if code < 100 || code > 599 {
			errs = append(errs, fmt.Sprintf("- %s.RetryStatuses: invalid HTTP status %d", prefix, code))
		}
	}
	return errs
}

func validateHTTPConfig(prefix string, cfg *HTTPConfig) []string {
	var errs []string
	if cfg.TimeoutSeconds < 0 {
		errs = append(errs, fmt.Sprintf("- %s.TimeoutSeconds: must be positive", prefix))
	}
	return errs
}

func validateEnvironments(prefix string, envs []EnvironmentConfig) []string {
	var errs []string
	names := make(map[string]bool)
	var active []string
	for i, env := range envs {
		p := fmt.Sprintf("%s[%d]", prefix, i)
		if strings.TrimSpace(env.Name) == "" {
			errs = append(errs, fmt.Sprintf("- %s.Name: is required", p))
		} else if names[env.Name] {
			errs = append(errs, fmt.Sprintf("- %s.Name: duplicate environment name '%s'", p, env.Name))
		}
		names[env.Name] = true
		if env.Active {
			active = append(active, env.Name)
		}
		keys := make(map[string]bool)
		for _, v := range env.Variables {
			if strings.TrimSpace(v.Key) == "" {
				errs = append(errs, fmt.Sprintf("- %s.Variables: variable name cannot be blank", p))
			} else if keys[v.Key] {
				errs = append(errs, fmt.Sprintf("- %s.Variables: duplicate variable '%s'", p, v.Key))
			}
			keys[v.Key] = true
		}
	}
	if len(active) > 1 {
		errs = append(errs, fmt.Sprintf("- %s: at most one environment may be active, found %d (%s)", prefix, len(active), strings.Join(active, ", ")))
	}
	return errs
}

var headerRuleRegex = regexp.MustCompile(`^header:([^:]+):(.+)$`)

func validateRequestConfig(prefix string, cfg *RequestConfig) []string {
	var errs []string
	if strings.TrimSpace(cfg.Name) == "" {
		errs = append(errs, fmt.Sprintf("- %s.Name: is required", prefix))
	}
	if cfg.Method == "" {
		errs = append(errs, fmt.Sprintf("- %s.Method: is required", prefix))
	} else if !isValidEnumValue(cfg.Method, knownHTTPMethods) {
		errs = append(errs, fmt.Sprintf("- %s.Method: invalid HTTP method '%s'", prefix, cfg.Method))
	}
	if strings.TrimSpace(cfg.URL) == "" {
		errs = append(errs, fmt.Sprintf("- %s.URL: is required", prefix))
	}
	for i, h := range cfg.Headers {
		if h.IsEnabled() && strings.TrimSpace(h.Key) == "" {
			errs = append(errs, fmt.Sprintf("- %s.Headers[%d].Key: enabled header needs a name", prefix, i))
		}
	}
	if cfg.Body != nil {
		errs = append(errs, validateBodyConfig(prefix+".Body", cfg.Body)...)
	}
	if cfg.Auth != nil {
		errs = append(errs, validateAuthConfig(prefix+".Auth", cfg.Auth)...)
	}
	for name, rule := range cfg.Extract {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, fmt.Sprintf("- %s.Extract: variable name cannot be blank", prefix))
			continue
		}
		if strings.TrimSpace(rule) == "" {
			errs = append(errs, fmt.Sprintf("- %s.Extract[%s]: rule cannot be empty", prefix, name))
			continue
		}
		if strings.HasPrefix(rule, "header:") {
			m := headerRuleRegex.FindStringSubmatch(rule)
			if m == nil {
				errs = append(errs, fmt.Sprintf("- %s.Extract[%s]: header rule must look like 'header:<Name>:<regex>'", prefix, name))
			} else if re, err := regexp.Compile(m[2]); err != nil {
				errs = append(errs, fmt.Sprintf("- %s.Extract[%s]: invalid regex: %v", prefix, name, err))
			} else if re.NumSubexp() < 1 {
				errs = append(errs, fmt.Sprintf("- %s.Extract[%s]: regex needs a capture group", prefix, name))
			}
		}
	}
	return errs
}

func validateBodyConfig(prefix string, cfg *BodyConfig) []string {
	var errs []string
	if !isValidEnumValue(cfg.Type, knownBodyTypes) {
		errs = append(errs, fmt.Sprintf("- %s.Type: invalid body type '%s', must be one of %v", prefix, cfg.Type, knownBodyTypes[1:]))
		return errs
	}
	switch strings.ToLower(cfg.Type) {
	case "binary":
		if cfg.File == "" && cfg.Content == "" {
			errs = append(errs, fmt.Sprintf("- %s: binary body requires 'file' or 'content'", prefix))
		}
	case "form-data":
		for field, path := range cfg.Files {
			if strings.TrimSpace(field) == "" || strings.TrimSpace(path) == "" {
				errs = append(errs, fmt.Sprintf("- %s.Files: field name and path are required", prefix))
			}
		}
	case "x-www-form-urlencoded":
		if len(cfg.Files) > 0 {
			errs = append(errs, fmt.Sprintf("- %s.Files: only allowed for form-data bodies", prefix))
		}
	}
	return errs
}

func validateAuthConfig(prefix string, cfg *AuthConfig) []string {
	var errs []string
	authType := strings.ToLower(cfg.Type)
	if !isValidEnumValue(authType, knownAuthTypes) {
		errs = append(errs, fmt.Sprintf("- %s.Type: invalid auth type '%s'", prefix, cfg.Type))
		return errs
	}
	required := map[string][]string{
		"bearer":  {"token"},
		"basic":   {"username"},
		"api-key": {"key"},
		"api_key": {"key"},
		"apikey":  {"key"},
		"digest":  {"username", "password"},
		"ntlm":    {"username", "password"},
		"oauth2":  {"client_id", "client_secret", "token_url"},
	}
	for _, field := range required[authType] {
		if v, ok := cfg.Fields[field]; !ok || v == "" {
			errs = append(errs, fmt.Sprintf("- %s.Fields: missing or empty required key '%s' for auth type '%s'", prefix, field, authType))
		}
	}
	if addTo, ok := cfg.Fields["addTo"]; ok && !isValidEnumValue(addTo, knownPlacements) {
		errs = append(errs, fmt.Sprintf("- %s.Fields.addTo: must be 'header' or 'query', got '%s'", prefix, addTo))
	}
	return errs
}
