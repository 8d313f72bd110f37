package caption

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxSuggestionLength is the rune limit of a suggested description
	MaxSuggestionLength = 150
	// MaxCaptionLength is the rune limit TikTok accepts for a caption
	MaxCaptionLength = 2200

	defaultHashtags = "#fyp #viral #trending"
)

var (
	leadingDigits  = regexp.MustCompile(`^\d+\s*`)
	trailingDigits = regexp.MustCompile(`\s*\d+$`)
)

// Suggest builds a default description from an uploaded file name
func Suggest(filename string) string {
	name := filepath.Base(filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	name = strings.NewReplacer("_", " ", "-", " ").Replace(name)
	name = leadingDigits.ReplaceAllString(name, "")
	name = trailingDigits.ReplaceAllString(name, "")
	name = strings.TrimSpace(titleCase(name))

	description := defaultHashtags
	if name != "" {
		description = name + " " + defaultHashtags
	}

	return truncate(description, MaxSuggestionLength)
}

// titleCase upper-cases the first letter of every letter run and lower-cases the rest
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	prevLetter := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) && !prevLetter:
			b.WriteRune(unicode.ToUpper(r))
			prevLetter = true
		case unicode.IsLetter(r):
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune(r)
			prevLetter = false
		}
	}
	return b.String()
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
