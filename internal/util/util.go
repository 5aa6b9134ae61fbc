package util

import (
	"os"
	"regexp"
	"strings"
	"unicode/utf8"
)

// snippetMaxRunes bounds Snippet output.
const snippetMaxRunes = 200

var windowsEnvPattern = regexp.MustCompile(`%([A-Za-z0-9_]+)%`)

// ExpandEnvUniversal expands both Unix-style ($VAR, ${VAR}) and Windows-style
// (%VAR%) environment variables. Undefined variables expand to "".
//
// This is for configuration values only (credentials, file paths). Request
// templates use template.Substitute, which never blanks unknown names.
func ExpandEnvUniversal(s string) string {
	expanded := os.ExpandEnv(s)
	return windowsEnvPattern.ReplaceAllStringFunc(expanded, func(match string) string {
		if value, ok := os.LookupEnv(match[1 : len(match)-1]); ok {
			return value
		}
		return ""
	})
}

// Snippet returns a rune-safe prefix of b for log lines.
func Snippet(b []byte) string {
	if utf8.RuneCount(b) <= snippetMaxRunes {
		return string(b)
	}
	runes := []rune(string(b))
	return string(runes[:snippetMaxRunes]) + "..."
}

// LooksLikeJSON reports whether s is shaped like a JSON object or array.
// It is a heuristic and does not validate the document.
func LooksLikeJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	return (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]"))
}
