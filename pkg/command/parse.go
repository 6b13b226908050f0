package command

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/gm-engine/pkg/session"
)

type ErrorKind string

const (
	ErrIncomplete       ErrorKind = "incomplete"
	ErrInvalidGender    ErrorKind = "invalid_gender"
	ErrDuplicateName    ErrorKind = "duplicate_name"
	ErrUnknownName      ErrorKind = "unknown_name"
	ErrUnrecognizedLine ErrorKind = "unrecognized_line"
	ErrNoCommands       ErrorKind = "no_commands"
)

// ParseError names the exact grammar rule a batch violated. Its message is
// written for the model, which receives it verbatim in a correction prompt.
type ParseError struct {
	Kind    ErrorKind
	Keyword string // command being parsed, if any
	Value   string // offending line, name or gender
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case ErrIncomplete:
		return fmt.Sprintf("Incomplete '%s.'", e.Keyword)
	case ErrInvalidGender:
		return fmt.Sprintf("Invalid gender '%s'. Must be 'male' or 'female'.", e.Value)
	case ErrDuplicateName:
		return fmt.Sprintf("Character name '%s' already exists.", e.Value)
	case ErrUnknownName:
		return fmt.Sprintf("Character name '%s' does not exist.", e.Value)
	case ErrUnrecognizedLine:
		return fmt.Sprintf("Unrecognized command '%s'", e.Value)
	case ErrNoCommands:
		return "No commands found."
	}
	return fmt.Sprintf("command parse error: %s", e.Kind)
}

// Names reports which characters already exist. session.Cast implements it.
type Names interface {
	Has(name string) bool
}

// operand line counts per keyword
var arity = map[string]int{
	KeywordCreateCharacter:     3,
	KeywordSelectCharacter:     2,
	KeywordDescribeEnvironment: 1,
	KeywordOffTopic:            0,
	KeywordPlayerDeath:         0,
}

var keywords = []string{
	KeywordCreateCharacter,
	KeywordSelectCharacter,
	KeywordDescribeEnvironment,
	KeywordOffTopic,
	KeywordPlayerDeath,
}

// matchKeyword returns the keyword a line spells, or "".
func matchKeyword(line string) string {
	l := strings.ToLower(strings.TrimSpace(line))
	l = strings.TrimSuffix(l, ".")
	for _, kw := range keywords {
		if l == strings.ToLower(kw) {
			return kw
		}
	}
	return ""
}

// nonBlankLines drops empty and whitespace-only lines.
func nonBlankLines(text string) []string {
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Parse scans a batch of commands in a single forward pass. Names created
// earlier in the batch count as existing for later selects. existing may be
// nil for a session without characters.
func Parse(text string, existing Names) ([]Command, error) {
	lines := nonBlankLines(text)
	created := make(map[string]bool)
	exists := func(name string) bool {
		return created[name] || (existing != nil && existing.Has(name))
	}

	var cmds []Command
	for i := 0; i < len(lines); {
		kw := matchKeyword(lines[i])
		if kw == "" {
			return nil, &ParseError{Kind: ErrUnrecognizedLine, Value: strings.TrimSpace(lines[i])}
		}
		n := arity[kw]
		if i+n >= len(lines) && n > 0 {
			return nil, &ParseError{Kind: ErrIncomplete, Keyword: kw}
		}
		op := func(k int) string { return strings.TrimSpace(lines[i+k]) }

		switch kw {
		case KeywordCreateCharacter:
			name := op(1)
			gender, ok := session.ParseGender(op(2))
			if !ok {
				return nil, &ParseError{Kind: ErrInvalidGender, Keyword: kw, Value: strings.ToLower(op(2))}
			}
			if exists(name) {
				return nil, &ParseError{Kind: ErrDuplicateName, Keyword: kw, Value: name}
			}
			created[name] = true
			cmds = append(cmds, CreateCharacter{Name: name, Gender: gender, Description: op(3)})
		case KeywordSelectCharacter:
			name := op(1)
			if !exists(name) {
				return nil, &ParseError{Kind: ErrUnknownName, Keyword: kw, Value: name}
			}
			cmds = append(cmds, SelectCharacter{Name: name, Action: op(2)})
		case KeywordDescribeEnvironment:
			cmds = append(cmds, EnvironmentDescription{Description: op(1)})
		case KeywordOffTopic:
			cmds = append(cmds, OffTopic{})
		case KeywordPlayerDeath:
			cmds = append(cmds, PlayerDeath{})
		}
		i += n + 1
	}

	if len(cmds) == 0 {
		return nil, &ParseError{Kind: ErrNoCommands}
	}
	return cmds, nil
}

var flatten = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Format writes commands back in the grammar Parse reads. Operands are
// flattened to single lines.
func Format(cmds []Command) string {
	var b strings.Builder
	line := func(s string) {
		b.WriteString(strings.TrimSpace(flatten.Replace(s)))
		b.WriteByte('\n')
	}
	for _, c := range cmds {
		switch c := c.(type) {
		case CreateCharacter:
			line(KeywordCreateCharacter)
			line(c.Name)
			line(string(c.Gender))
			line(c.Description)
		case SelectCharacter:
			line(KeywordSelectCharacter)
			line(c.Name)
			line(c.Action)
		case EnvironmentDescription:
			line(KeywordDescribeEnvironment)
			line(c.Description)
		case OffTopic:
			line(KeywordOffTopic)
		case PlayerDeath:
			line(KeywordPlayerDeath)
		}
	}
	return b.String()
}
