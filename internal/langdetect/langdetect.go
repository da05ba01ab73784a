// Package langdetect classifies free text as English or Persian.
//
// Classification never fails loudly: anything that cannot be attributed to
// one of the two supported languages is reported as [Unknown].
package langdetect

import (
	"log/slog"
	"unicode"

	"github.com/abadojack/whatlanggo"
)

// Language is a supported conversation language.
type Language string

const (
	// En is English.
	En Language = "en"
	// Fa is Persian (Farsi).
	Fa Language = "fa"
	// Unknown is returned when the text cannot be classified.
	Unknown Language = "unknown"
)

// Parse converts a config or request value into a Language. Any value other
// than "en" or "fa" yields Unknown.
func Parse(s string) Language {
	switch Language(s) {
	case En, Fa:
		return Language(s)
	default:
		return Unknown
	}
}

// String implements fmt.Stringer.
func (l Language) String() string { return string(l) }

// Valid reports whether l is one of the two supported languages.
func (l Language) Valid() bool { return l == En || l == Fa }

// candidates restricts whatlanggo to the two languages the assistant speaks.
var candidates = whatlanggo.Options{
	Whitelist: map[whatlanggo.Lang]bool{
		whatlanggo.Eng: true,
		whatlanggo.Pes: true,
	},
}

// Detect returns the language of text. It never panics.
func Detect(text string) (lang Language) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("langdetect: classifier panicked", slog.Any("panic", r))
			lang = Unknown
		}
	}()

	if !hasLetter(text) {
		return Unknown
	}

	info := whatlanggo.DetectWithOptions(text, candidates)
	switch info.Lang {
	case whatlanggo.Pes:
		return Fa
	case whatlanggo.Eng:
		return En
	default:
		return Unknown
	}
}

// HasPersianScript reports whether text contains at least one rune in the
// Arabic block (U+0600–U+06FF), which covers the Persian alphabet.
func HasPersianScript(text string) bool {
	for _, r := range text {
		if r >= '\u0600' && r <= '\u06FF' {
			return true
		}
	}
	return false
}

func hasLetter(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
