package conversation

import (
	"strings"
	"unicode"
)

const (
	// slugMaxWords bounds the slug to the leading words of the title so
	// long message bodies produce readable URLs.
	slugMaxWords = 10
	slugMaxLen   = 100
)

// Slugify derives a URL slug from a conversation title: lower-cased,
// whitespace collapsed to single hyphens, non-alphanumerics stripped,
// bounded to the first words of the title. Per-tenant uniqueness is
// handled separately by the service.
func Slugify(title string) string {
	fields := strings.Fields(strings.ToLower(title))
	words := make([]string, 0, slugMaxWords)
	for _, f := range fields {
		var b strings.Builder
		for _, r := range f {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		if b.Len() == 0 {
			continue
		}
		words = append(words, b.String())
		if len(words) == slugMaxWords {
			break
		}
	}
	slug := strings.Join(words, "-")
	if len(slug) > slugMaxLen {
		slug = strings.TrimRight(slug[:slugMaxLen], "-")
	}
	return slug
}
