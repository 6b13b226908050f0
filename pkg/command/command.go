// Package command defines the game master's command vocabulary and the
// line-based grammar it is written in.
package command

import "github.com/jwebster45206/gm-engine/pkg/session"

type Kind string

const (
	KindEnvironmentDescription Kind = "environment_description"
	KindSelectCharacter        Kind = "select_character"
	KindCreateCharacter        Kind = "create_character"
	KindOffTopic               Kind = "off_topic"
	KindPlayerDeath            Kind = "player_death"
)

// Grammar keywords. Matching is case-insensitive and a trailing period is optional.
const (
	KeywordCreateCharacter     = "Create character command"
	KeywordSelectCharacter     = "Select character command"
	KeywordDescribeEnvironment = "Describe environment command"
	KeywordOffTopic            = "Off-topic input command"
	KeywordPlayerDeath         = "Player death command"
)

// Command is one entry of a batch. The concrete types below are the only
// implementations.
type Command interface {
	Kind() Kind
}

type EnvironmentDescription struct {
	Description string `json:"description"`
}

type SelectCharacter struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

type CreateCharacter struct {
	Name        string         `json:"name"`
	Gender      session.Gender `json:"gender"`
	Description string         `json:"description"`
}

// OffTopic discards everything the batch produced so far.
type OffTopic struct{}

// PlayerDeath ends the session once the turn is committed.
type PlayerDeath struct{}

func (EnvironmentDescription) Kind() Kind { return KindEnvironmentDescription }
func (SelectCharacter) Kind() Kind        { return KindSelectCharacter }
func (CreateCharacter) Kind() Kind        { return KindCreateCharacter }
func (OffTopic) Kind() Kind               { return KindOffTopic }
func (PlayerDeath) Kind() Kind            { return KindPlayerDeath }

// Character converts a create command into the character it introduces.
func (c CreateCharacter) Character() session.Character {
	return session.Character{
		Name:        c.Name,
		Gender:      c.Gender,
		Description: c.Description,
	}
}
