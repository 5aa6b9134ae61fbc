// Package template resolves {{ name }} placeholders in request fragments.
//
// Substitution is plain text replacement performed in a single pass: a
// replacement value is never scanned again, so a value that itself contains
// a placeholder is emitted literally. Names with no value are left untouched
// rather than blanked, which keeps an unresolved URL visibly broken instead
// of silently pointing somewhere else.
package template

import (
	"regexp"
	"sort"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// placeholderPattern matches any placeholder regardless of whether a value
// exists for it. Used only for reporting, never for replacement.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([^{}]*?)\s*\}\}`)

// Substitute replaces every {{ name }} (optional whitespace inside the
// braces) whose name is a key of vars with the corresponding value.
func Substitute(tmpl string, vars map[string]string) string {
	if tmpl == "" || len(vars) == 0 || !strings.Contains(tmpl, openDelim) {
		return tmpl
	}
	re := matcherFor(vars)
	if re == nil {
		return tmpl
	}

	matches := re.FindAllStringSubmatchIndex(tmpl, -1)
	if len(matches) == 0 {
		return tmpl
	}
	var b strings.Builder
	b.Grow(len(tmpl))
	last := 0
	for _, m := range matches {
		b.WriteString(tmpl[last:m[0]])
		b.WriteString(vars[tmpl[m[2]:m[3]]])
		last = m[1]
	}
	b.WriteString(tmpl[last:])
	return b.String()
}

// matcherFor builds one alternation over the quoted variable names so the
// template is scanned exactly once. Longer names come first to keep the
// pattern deterministic.
func matcherFor(vars map[string]string) *regexp.Regexp {
	names := make([]string, 0, len(vars))
	for name := range vars {
		if strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = regexp.QuoteMeta(name)
	}
	return regexp.MustCompile(`\{\{\s*(` + strings.Join(quoted, "|") + `)\s*\}\}`)
}

// Placeholders lists the distinct names referenced by tmpl in first-seen order.
func Placeholders(tmpl string) []string {
	if !strings.Contains(tmpl, openDelim) {
		return nil
	}
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholderPattern.FindAllStringSubmatch(tmpl, -1) {
		name := m[1]
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Unresolved lists the placeholders in tmpl that vars cannot satisfy.
func Unresolved(tmpl string, vars map[string]string) []string {
	var missing []string
	for _, name := range Placeholders(tmpl) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// ContainsDelimiter reports whether s holds an opening or closing marker.
func ContainsDelimiter(s string) bool {
	return strings.Contains(s, openDelim) || strings.Contains(s, closeDelim)
}
