package pipeline

import (
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const timestampLayout = "20060102_150405"

// BuildSearchURL appends query as the q parameter of base. Spaces are
// encoded as '+'.
func BuildSearchURL(base, query string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	values := u.Query()
	values.Set("q", query)
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// AutoFileStem returns "<prefix>_<query>_<timestamp>" with the query reduced
// to a filesystem-safe ASCII slug.
func AutoFileStem(prefix, query string, now time.Time) string {
	return fmt.Sprintf("%s_%s_%s", prefix, SanitizeQuery(query), now.Format(timestampLayout))
}

// SanitizeQuery folds accents, turns whitespace into underscores and drops
// anything outside [A-Za-z0-9_-]. An empty result becomes "query".
func SanitizeQuery(query string) string {
	folded, _, err := transform.String(
		transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		strings.TrimSpace(query),
	)
	if err != nil {
		folded = query
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune('_')
		case r == '-' || r == '_':
			b.WriteRune(r)
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
		}
	}

	slug := b.String()
	if strings.Trim(slug, "_-") == "" {
		return "query"
	}
	return slug
}
