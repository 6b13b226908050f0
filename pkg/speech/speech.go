// Package speech handles the inline markup the narrator uses to attribute
// spoken lines: { [Speaker Name]; "utterance" }.
package speech

import (
	"fmt"
	"regexp"
	"strings"
)

// Narrator is the pseudo-speaker of all text outside speech tags.
const Narrator = "GM"

// Segment is one attributed piece of narrative, in document order.
type Segment struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

func (s Segment) IsNarrator() bool {
	return s.Speaker == Narrator
}

// tagPattern matches one complete tag. The name may be written with or
// without brackets; the utterance runs to the closing brace.
var tagPattern = regexp.MustCompile(`\{\s*(?:\[\s*([^\[\]{};\s][^\[\]{};]*?)\s*\]|([^\[\]{};\s][^\[\]{};]*?))\s*;\s*([^{}]*?)\s*\}`)

// Speakers lists every speaker name used in tags, in order, with brackets
// and surrounding whitespace removed.
func Speakers(text string) []string {
	var names []string
	for _, tok := range scan(text) {
		if tok.speaker != "" {
			names = append(names, tok.speaker)
		}
	}
	return names
}

// HasMarkup reports whether text contains at least one speech tag.
func HasMarkup(text string) bool {
	return tagPattern.MatchString(text)
}

// MalformedTagError reports braces that do not form a complete tag.
type MalformedTagError struct {
	Fragment string
}

func (e *MalformedTagError) Error() string {
	return fmt.Sprintf(`Malformed speech tag near %q. Use exactly { [Name]; "utterance" } with one name per tag.`, e.Fragment)
}

// InvalidSpeakersError lists tag speakers missing from the roster.
type InvalidSpeakersError struct {
	Names []string
}

func (e *InvalidSpeakersError) Error() string {
	return fmt.Sprintf("The following character names are not valid: %s. Please use only valid character names from the list above.",
		strings.Join(e.Names, ", "))
}

// Roster reports whether a character may speak.
type Roster interface {
	Has(name string) bool
}

// Validate checks that every tag names a character in the roster and that
// no brace is left outside a complete tag.
func Validate(text string, roster Roster) error {
	var invalid []string
	for _, tok := range scan(text) {
		if tok.speaker == "" {
			if i := strings.IndexAny(tok.text, "{}"); i >= 0 {
				return &MalformedTagError{Fragment: fragment(tok.text[i:])}
			}
			continue
		}
		if roster == nil || !roster.Has(tok.speaker) {
			invalid = append(invalid, tok.speaker)
		}
	}
	if len(invalid) > 0 {
		return &InvalidSpeakersError{Names: invalid}
	}
	return nil
}

func fragment(s string) string {
	const max = 40
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

type token struct {
	speaker string // empty for plain text
	text    string
}

// scan breaks text into plain runs and tags. Plain runs keep their original
// spacing. Anything that is not a complete tag, stray braces included,
// stays plain text.
func scan(text string) []token {
	var out []token
	pos := 0
	for _, m := range tagPattern.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > pos {
			out = append(out, token{text: text[pos:m[0]]})
		}
		var name string
		if m[2] >= 0 {
			name = text[m[2]:m[3]]
		} else {
			name = text[m[4]:m[5]]
		}
		out = append(out, token{speaker: strings.TrimSpace(name), text: text[m[6]:m[7]]})
		pos = m[1]
	}
	if pos < len(text) {
		out = append(out, token{text: text[pos:]})
	}
	return out
}

// Split attributes tagged narrative to speakers in document order. Text
// between tags goes to Narrator; whitespace-only runs are dropped.
func Split(text string) []Segment {
	var segs []Segment
	for _, tok := range scan(text) {
		t := strings.TrimSpace(tok.text)
		if t == "" {
			continue
		}
		speaker := tok.speaker
		if speaker == "" {
			speaker = Narrator
		}
		segs = append(segs, Segment{Speaker: speaker, Text: t})
	}
	return segs
}

// Strip removes the markup, leaving each utterance in place.
func Strip(text string) string {
	var b strings.Builder
	for _, tok := range scan(text) {
		b.WriteString(tok.text)
	}
	return strings.TrimSpace(b.String())
}
