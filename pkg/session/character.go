package session

import (
	"fmt"
	"sort"
	"strings"
)

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

// ParseGender accepts "male" or "female" in any case.
func ParseGender(s string) (Gender, bool) {
	switch Gender(strings.ToLower(strings.TrimSpace(s))) {
	case GenderMale:
		return GenderMale, true
	case GenderFemale:
		return GenderFemale, true
	}
	return "", false
}

// Character is a non-player character. Names are unique within a session
// and descriptions never change after creation.
type Character struct {
	ID          int64  `json:"id,omitempty"` // assigned by the store
	Name        string `json:"name"`
	Description string `json:"description"`
	Gender      Gender `json:"gender"`
}

// Cast is the authoritative name -> character map of a session. Only the
// turn orchestrator mutates it; everything else receives a Snapshot.
type Cast map[string]Character

func NewCast(chars []Character) Cast {
	c := make(Cast, len(chars))
	for _, ch := range chars {
		c[ch.Name] = ch
	}
	return c
}

func (c Cast) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Add registers a new character, rejecting duplicate names.
func (c Cast) Add(ch Character) error {
	if c.Has(ch.Name) {
		return fmt.Errorf("character %q already exists", ch.Name)
	}
	c[ch.Name] = ch
	return nil
}

func (c Cast) Snapshot() Cast {
	out := make(Cast, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Names returns the character names sorted alphabetically.
func (c Cast) Names() []string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Roster picks the named characters in the given order, skipping unknown names.
func (c Cast) Roster(names []string) Roster {
	r := make(Roster, 0, len(names))
	for _, name := range names {
		if ch, ok := c[name]; ok {
			r = append(r, ch)
		}
	}
	return r
}

// Roster is the ordered list of characters active in one batch.
type Roster []Character

func (r Roster) Has(name string) bool {
	for _, ch := range r {
		if ch.Name == name {
			return true
		}
	}
	return false
}

func (r Roster) Names() []string {
	names := make([]string, len(r))
	for i, ch := range r {
		names[i] = ch.Name
	}
	return names
}

// Describe renders "name: description" lines for prompts.
func (r Roster) Describe() string {
	lines := make([]string, len(r))
	for i, ch := range r {
		lines[i] = ch.Name + ": " + ch.Description
	}
	return strings.Join(lines, "\n")
}
