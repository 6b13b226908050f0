// Package dialogue attributes the quoted speech of untagged narrative to
// characters by asking a model to list every quote with its speaker.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/jwebster45206/gm-engine/internal/agent"
	"github.com/jwebster45206/gm-engine/internal/retry"
	"github.com/jwebster45206/gm-engine/pkg/chat"
	"github.com/jwebster45206/gm-engine/pkg/prompts"
	"github.com/jwebster45206/gm-engine/pkg/session"
	"github.com/jwebster45206/gm-engine/pkg/speech"
)

const (
	speakerPrefix = "Speaker=="
	textPrefix    = "Text=="
)

// Quote is one speaker/quote pair as returned by the model.
type Quote struct {
	Speaker string
	Text    string
}

// ParseQuotes reads Speaker==/Text== pairs. Blank lines are ignored, a Text
// line without a preceding Speaker line is skipped, and a Speaker without
// Text is dropped.
func ParseQuotes(response string) []Quote {
	var (
		quotes  []Quote
		speaker string
		text    *string
	)
	flush := func() {
		if speaker != "" && text != nil {
			quotes = append(quotes, Quote{Speaker: speaker, Text: *text})
		}
	}
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, speakerPrefix):
			flush()
			speaker = strings.TrimSpace(strings.TrimPrefix(line, speakerPrefix))
			text = nil
		case strings.HasPrefix(line, textPrefix) && speaker != "":
			t := strings.TrimSpace(strings.TrimPrefix(line, textPrefix))
			text = &t
		}
	}
	flush()
	return quotes
}

// UnknownSpeaker is a quote attributed to a name outside the cast.
type UnknownSpeaker struct {
	Index       int
	Name        string
	Suggestions []string
}

// MissingQuote is a quote that does not occur verbatim in the source text.
type MissingQuote struct {
	Index int
	Quote string
}

// ValidationError reports both failure classes of one segmentation
// attempt. Its message is fed back to the model on the next attempt.
type ValidationError struct {
	UnknownSpeakers []UnknownSpeaker
	MissingQuotes   []MissingQuote
}

func (e *ValidationError) Error() string {
	var lines []string
	if len(e.UnknownSpeakers) > 0 {
		locs := make([]string, 0, len(e.UnknownSpeakers))
		for _, u := range e.UnknownSpeakers {
			loc := fmt.Sprintf("segment %d: '%s'", u.Index, u.Name)
			if len(u.Suggestions) > 0 {
				bracketed := make([]string, len(u.Suggestions))
				for i, s := range u.Suggestions {
					bracketed[i] = "[" + s + "]"
				}
				loc += " - did you mean " + strings.Join(bracketed, ", ") + "?"
			}
			locs = append(locs, loc)
		}
		lines = append(lines, "Unknown speakers found at: "+strings.Join(locs, ", "))
	}
	for _, m := range e.MissingQuotes {
		lines = append(lines, fmt.Sprintf("Quote at segment %d not found in original text: %s", m.Index, m.Quote))
	}
	return strings.Join(lines, "\n")
}

// Validate checks every quote against the cast and the source text.
func Validate(text string, quotes []Quote, cast session.Roster) error {
	verr := &ValidationError{}
	for i, q := range quotes {
		if !cast.Has(q.Speaker) {
			verr.UnknownSpeakers = append(verr.UnknownSpeakers, UnknownSpeaker{
				Index:       i,
				Name:        q.Speaker,
				Suggestions: suggest(q.Speaker, cast),
			})
		}
	}
	for i, q := range quotes {
		body := strings.TrimSpace(strings.Trim(q.Text, `"`))
		if body == "" || !strings.Contains(text, body) {
			verr.MissingQuotes = append(verr.MissingQuotes, MissingQuote{Index: i, Quote: q.Text})
		}
	}
	if len(verr.UnknownSpeakers) == 0 && len(verr.MissingQuotes) == 0 {
		return nil
	}
	return verr
}

// suggest returns cast names that contain, or are contained in, name.
func suggest(name string, cast session.Roster) []string {
	lower := strings.ToLower(name)
	var out []string
	for _, ch := range cast {
		other := strings.ToLower(ch.Name)
		if strings.Contains(other, lower) || strings.Contains(lower, other) {
			out = append(out, ch.Name)
		}
	}
	return out
}

type located struct {
	pos     int
	speaker string
	text    string
}

// Assemble orders validated quotes by their first offset in text and fills
// the gaps with narrator segments. Gaps without a letter or digit are
// dropped.
func Assemble(text string, quotes []Quote) []speech.Segment {
	found := make([]located, 0, len(quotes))
	for _, q := range quotes {
		quote := q.Text
		pos := strings.Index(text, quote)
		if pos < 0 {
			quote = strings.Trim(q.Text, `"`)
			pos = strings.Index(text, quote)
		}
		if pos < 0 || quote == "" {
			continue
		}
		found = append(found, located{pos: pos, speaker: q.Speaker, text: quote})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })

	var segs []speech.Segment
	narrate := func(gap string) {
		gap = strings.TrimSpace(gap)
		if strings.IndexFunc(gap, isAlnum) >= 0 {
			segs = append(segs, speech.Segment{Speaker: speech.Narrator, Text: gap})
		}
	}
	cur := 0
	for _, f := range found {
		if f.pos > cur {
			narrate(text[cur:f.pos])
		}
		segs = append(segs, speech.Segment{Speaker: f.speaker, Text: f.text})
		if end := f.pos + len(f.text); end > cur {
			cur = end
		}
	}
	if cur < len(text) {
		narrate(text[cur:])
	}
	return segs
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Segmenter runs segmentation against the dialogue agent of a session.
type Segmenter struct {
	agent  *agent.Agent
	policy retry.Policy
	logger *slog.Logger
}

func NewSegmenter(a *agent.Agent, maxAttempts int, logger *slog.Logger) *Segmenter {
	return &Segmenter{
		agent: a,
		policy: retry.Policy{
			MaxAttempts: maxAttempts,
			Label:       "failed to segment narrative",
		},
		logger: logger,
	}
}

// Replay restores the dialogue context after a restart.
func (s *Segmenter) Replay(records []session.AuditRecord) error {
	return s.agent.Replay(records)
}

// Segment splits text into speaker-attributed segments in document order.
// Every attempt, rejected or not, is kept in the agent's context.
func (s *Segmenter) Segment(ctx context.Context, sequence int, text string, cast session.Roster) ([]speech.Segment, error) {
	var (
		feedback string
		quotes   []Quote
	)
	err := s.policy.Do(ctx, func(attempt int) error {
		prompt := prompts.Segmentation(text, cast, feedback)
		out, err := s.agent.Generate(ctx, sequence, session.PurposeSegmentation, chat.ChatMessage{Role: chat.ChatRoleUser, Content: prompt})
		if err != nil {
			return retry.Permanent(err)
		}
		parsed := ParseQuotes(out)
		if err := Validate(text, parsed, cast); err != nil {
			var verr *ValidationError
			if errors.As(err, &verr) {
				feedback = verr.Error()
			}
			s.logger.Info("Segmentation rejected", "sequence", sequence, "attempt", attempt,
				"unknown_speakers", len(verr.UnknownSpeakers), "missing_quotes", len(verr.MissingQuotes))
			return err
		}
		quotes = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return Assemble(text, quotes), nil
}
