package gamemaster

import (
	"strings"

	"github.com/jwebster45206/gm-engine/pkg/command"
	"github.com/jwebster45206/gm-engine/pkg/prompts"
	"github.com/jwebster45206/gm-engine/pkg/session"
)

// Resolution is the effect of one command batch on the session.
type Resolution struct {
	// Summary is the text the narrator renders from.
	Summary string
	// Touched lists created or selected names in first-touch order.
	Touched []string
	// Created holds new characters in creation order, without IDs.
	Created []session.Character
	OffTopic bool
	Ended    bool
	// Cast is the working copy after the batch.
	Cast session.Cast
}

// Resolve applies cmds in order to a copy of cast. Processing stops at an
// off-topic command, which replaces the summary with the sentinel, or at
// a player death, which appends the closing sentence.
func Resolve(cmds []command.Command, cast session.Cast) *Resolution {
	res := &Resolution{Cast: cast.Snapshot()}
	touched := make(map[string]bool)
	touch := func(name string) {
		if !touched[name] {
			touched[name] = true
			res.Touched = append(res.Touched, name)
		}
	}

	var sb strings.Builder
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case command.CreateCharacter:
			ch := c.Character()
			if err := res.Cast.Add(ch); err != nil {
				// the parser already rejects duplicates; keep the first definition
				continue
			}
			res.Created = append(res.Created, ch)
			sb.WriteString(prompts.SummaryCharacterCreated(c.Name, c.Description))
			touch(c.Name)
		case command.SelectCharacter:
			sb.WriteString(prompts.SummarySelected(c.Name, c.Action))
			touch(c.Name)
		case command.EnvironmentDescription:
			sb.WriteString(prompts.SummaryEnvironment(c.Description))
		case command.OffTopic:
			res.OffTopic = true
			res.Summary = prompts.OffTopicSentinel
			return res
		case command.PlayerDeath:
			sb.WriteString(prompts.PlayerDeathSentence)
			res.Ended = true
			res.Summary = sb.String()
			return res
		}
	}
	res.Summary = sb.String()
	return res
}
