package privateblog

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxSlugLength caps the number of runes Slugify keeps.
const MaxSlugLength = 50

// Slugify converts a title to a filesystem-safe slug: lowercase, only
// letters, digits, "_" and "-", runs of spaces and hyphens collapsed to a
// single hyphen, at most MaxSlugLength runes.
func Slugify(title string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(title) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_':
			if sep && b.Len() > 0 {
				b.WriteByte('-')
			}
			sep = false
			b.WriteRune(r)
		case unicode.IsSpace(r) || r == '-':
			sep = true
		}
	}
	slug := b.String()
	if utf8.RuneCountInString(slug) > MaxSlugLength {
		slug = string([]rune(slug)[:MaxSlugLength])
	}
	return strings.Trim(slug, "-")
}

// ValidSlug reports whether slug can be joined to the posts directory
// without leaving it: non-empty, no path separators, no "..", no NUL and
// no leading dot.
func ValidSlug(slug string) bool {
	if slug == "" || strings.HasPrefix(slug, ".") {
		return false
	}
	return !strings.ContainsAny(slug, "/\\\x00") && !strings.Contains(slug, "..")
}

// HumanizeSlug turns a file stem into a display title: "my-first-post"
// becomes "My First Post".
func HumanizeSlug(slug string) string {
	words := strings.Fields(strings.ReplaceAll(slug, "-", " "))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

// truncateRunes shortens s to n runes, appending "..." when anything was cut.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
