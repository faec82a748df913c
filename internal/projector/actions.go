package projector

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Action transforms a raw field value before it is indexed.
type Action func(v any) any

const truncateLength = 200

var htmlTag = regexp.MustCompile(`(?s)<[^>]*>`)

// actions is the fixed registry addressed by the `field:action` syntax.
var actions = map[string]Action{
	"strip":    func(v any) any { return stripHTML(toString(v)) },
	"truncate": func(v any) any { return truncate(toString(v), truncateLength) },
	"lower":    func(v any) any { return cases.Lower(language.Und).String(toString(v)) },
	"upper":    func(v any) any { return cases.Upper(language.Und).String(toString(v)) },
	"title":    func(v any) any { return cases.Title(language.Und).String(toString(v)) },
	"trim":     func(v any) any { return strings.TrimSpace(toString(v)) },
	"words":    func(v any) any { return len(strings.Fields(stripHTML(toString(v)))) },
	"length":   func(v any) any { return utf8.RuneCountInString(toString(v)) },
}

// ActionNames lists the registered actions, sorted.
func ActionNames() []string {
	names := make([]string, 0, len(actions))
	for name := range actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, " ")
	default:
		return fmt.Sprint(t)
	}
}

func stripHTML(s string) string {
	s = htmlTag.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:n]), func(r rune) bool { return r == ' ' || r == '\n' || r == '\t' }) + "..."
}

// upperFirst capitalises the first rune, leaving the rest untouched.
func upperFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return cases.Upper(language.Und).String(string(r)) + s[size:]
}
