// Package preset holds ready-made worlds and player characters a session
// can be started from.
package preset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jwebster45206/gm-engine/pkg/session"
	"gopkg.in/yaml.v3"
)

// ErrUnknownPreset is returned when a world or character ID does not
// resolve.
var ErrUnknownPreset = errors.New("unknown preset")

// World is a playable setting. Characters lists the IDs of the player
// characters allowed in it.
type World struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Summary     string   `yaml:"summary" json:"summary"`
	Description string   `yaml:"description" json:"-"`
	Characters  []string `yaml:"characters" json:"characters"`
}

// Character is a player character preset. InitialMessages are keyed by
// English language name ("English", "Russian").
type Character struct {
	ID              string            `yaml:"id" json:"id"`
	Name            string            `yaml:"name" json:"name"`
	Summary         string            `yaml:"summary" json:"summary"`
	Description     string            `yaml:"description" json:"-"`
	InitialMessages map[string]string `yaml:"initial_messages" json:"-"`
}

// File is the on-disk shape of a preset file.
type File struct {
	Worlds     []World     `yaml:"worlds"`
	Characters []Character `yaml:"characters"`
}

// Catalog indexes presets by ID.
type Catalog struct {
	worlds     map[string]World
	characters map[string]Character
}

func NewCatalog() *Catalog {
	return &Catalog{
		worlds:     make(map[string]World),
		characters: make(map[string]Character),
	}
}

// Parse decodes one YAML preset file.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}
	return &f, nil
}

// Add merges a preset file into the catalog. Later files override earlier
// entries with the same ID.
func (c *Catalog) Add(f *File) error {
	for _, w := range f.Worlds {
		if w.ID == "" {
			return fmt.Errorf("world %q has no id", w.Name)
		}
		c.worlds[w.ID] = w
	}
	for _, ch := range f.Characters {
		if ch.ID == "" {
			return fmt.Errorf("character %q has no id", ch.Name)
		}
		c.characters[ch.ID] = ch
	}
	return nil
}

// Worlds returns all worlds sorted by ID.
func (c *Catalog) Worlds() []World {
	out := make([]World, 0, len(c.worlds))
	for _, w := range c.worlds {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Characters returns the player characters available in a world.
func (c *Catalog) Characters(worldID string) ([]Character, error) {
	w, ok := c.worlds[worldID]
	if !ok {
		return nil, fmt.Errorf("%w: world %q", ErrUnknownPreset, worldID)
	}
	out := make([]Character, 0, len(w.Characters))
	for _, id := range w.Characters {
		if ch, ok := c.characters[id]; ok {
			out = append(out, ch)
		}
	}
	return out, nil
}

// Selection is everything needed to create a session from presets.
type Selection struct {
	World          string
	Player         string
	Language       string
	InitialMessage string
}

// Select resolves a world and one of its characters for a language. The
// initial message falls back to English when the language has none.
func (c *Catalog) Select(worldID, characterID, lang string) (*Selection, error) {
	w, ok := c.worlds[worldID]
	if !ok {
		return nil, fmt.Errorf("%w: world %q", ErrUnknownPreset, worldID)
	}
	allowed := false
	for _, id := range w.Characters {
		if id == characterID {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: character %q is not available in world %q", ErrUnknownPreset, characterID, worldID)
	}
	ch, ok := c.characters[characterID]
	if !ok {
		return nil, fmt.Errorf("%w: character %q", ErrUnknownPreset, characterID)
	}

	langName := session.LanguageName(session.ParseLanguage(lang))
	msg, ok := ch.InitialMessages[langName]
	if !ok {
		msg = ch.InitialMessages["English"]
	}
	return &Selection{
		World:          w.Description,
		Player:         ch.Description,
		Language:       langName,
		InitialMessage: msg,
	}, nil
}
