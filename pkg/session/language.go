package session

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// SupportedLanguages are the languages with localised canned text.
var SupportedLanguages = []language.Tag{language.English, language.Russian}

var languageMatcher = language.NewMatcher(SupportedLanguages)

// ParseLanguage accepts a BCP 47 tag ("ru", "en-GB") or an English language
// name ("Russian"). Unknown input falls back to English.
func ParseLanguage(s string) language.Tag {
	s = strings.TrimSpace(s)
	if s == "" {
		return language.English
	}
	if tag, err := language.Parse(s); err == nil {
		return tag
	}
	namer := display.English.Languages()
	for _, tag := range SupportedLanguages {
		if strings.EqualFold(namer.Name(tag), s) {
			return tag
		}
	}
	return language.English
}

// LanguageName returns the English name of a language, e.g. "Russian".
func LanguageName(tag language.Tag) string {
	base, _ := tag.Base()
	return display.English.Languages().Name(base)
}

// MatchLanguage returns the index into SupportedLanguages closest to tag.
func MatchLanguage(tag language.Tag) int {
	_, idx, _ := languageMatcher.Match(tag)
	return idx
}

// Tag parses the session's language.
func (s *Session) Tag() language.Tag {
	return ParseLanguage(s.Language)
}
