// Package language normalizes the language codes whisper reports and renders
// human-readable names for them.
package language

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Normalize canonicalizes a detected language code to its BCP 47 form.
// Unparseable input returns the trimmed original so it is never lost.
func Normalize(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return ""
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return strings.ToLower(trimmed)
	}
	return tag.String()
}

// DisplayName returns the English name for a language code, falling back to
// the normalized code when no name is known.
func DisplayName(code string) string {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return ""
	}
	tag, err := language.Parse(trimmed)
	if err != nil {
		return strings.ToLower(trimmed)
	}
	name := display.English.Tags().Name(tag)
	if name == "" {
		return tag.String()
	}
	return name
}
