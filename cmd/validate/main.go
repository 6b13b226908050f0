package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jwebster45206/gm-engine/pkg/command"
	"github.com/jwebster45206/gm-engine/pkg/preset"
	"github.com/jwebster45206/gm-engine/pkg/session"
)

const usage = `Usage:
  %[1]s <presets.yaml>...       validate preset files
  %[1]s -gm <output.txt>...     parse game master outputs as one session
`

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, usage, os.Args[0])
		os.Exit(1)
	}

	if args[0] == "-gm" {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, usage, os.Args[0])
			os.Exit(1)
		}
		if err := validateOutputs(args[1:]); err != nil {
			fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Game master outputs are valid!")
		return
	}

	validator := &PresetValidator{}
	if err := validator.validateFiles(args); err != nil {
		fmt.Fprintf(os.Stderr, "Validation failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Preset files are valid!")
}

// validateOutputs parses each file as one turn of the same session, so a
// character created in an earlier file may be selected in a later one.
func validateOutputs(files []string) error {
	cast := session.NewCast(nil)
	for i, filename := range files {
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", filename, err)
		}
		cmds, err := command.Parse(string(data), cast)
		if err != nil {
			return fmt.Errorf("turn %d (%s): %w", i+1, filename, err)
		}
		for _, c := range cmds {
			if cc, ok := c.(command.CreateCharacter); ok {
				if err := cast.Add(cc.Character()); err != nil {
					return fmt.Errorf("turn %d (%s): %w", i+1, filename, err)
				}
			}
		}
		fmt.Printf("Turn %d (%s): %d commands\n", i+1, filename, len(cmds))
	}
	return nil
}

type PresetValidator struct {
	errors []string
}

func (v *PresetValidator) validateFiles(files []string) error {
	catalog := preset.NewCatalog()
	var all []*preset.File
	for _, filename := range files {
		fmt.Printf("Validating %s...\n", filename)

		ext := filepath.Ext(filename)
		if ext != ".yaml" && ext != ".yml" {
			return fmt.Errorf("preset file must have .yaml extension: %s", filepath.Base(filename))
		}
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", filename, err)
		}
		f, err := preset.Parse(data)
		if err != nil {
			return fmt.Errorf("file %s: %w", filename, err)
		}
		if err := catalog.Add(f); err != nil {
			return fmt.Errorf("file %s: %w", filename, err)
		}
		all = append(all, f)
	}

	v.errors = nil
	for _, f := range all {
		v.validateFile(catalog, f)
	}
	if len(v.errors) > 0 {
		return fmt.Errorf("validation errors:\n%s", strings.Join(v.errors, "\n"))
	}
	return nil
}

func (v *PresetValidator) validateFile(catalog *preset.Catalog, f *preset.File) {
	for _, w := range f.Worlds {
		v.validateIDFormat("world ID", w.ID)
		if strings.TrimSpace(w.Description) == "" {
			v.addError(fmt.Sprintf("world '%s' has no description", w.ID))
		}
		if len(w.Characters) == 0 {
			v.addError(fmt.Sprintf("world '%s' lists no characters", w.ID))
		}
		for _, id := range w.Characters {
			if _, err := catalog.Select(w.ID, id, "en"); err != nil {
				v.addError(fmt.Sprintf("world '%s': %v", w.ID, err))
			}
		}
	}

	for _, ch := range f.Characters {
		v.validateIDFormat("character ID", ch.ID)
		if strings.TrimSpace(ch.Description) == "" {
			v.addError(fmt.Sprintf("character '%s' has no description", ch.ID))
		}
		if _, ok := ch.InitialMessages["English"]; !ok {
			v.addError(fmt.Sprintf("character '%s' has no English initial message", ch.ID))
		}
		for lang := range ch.InitialMessages {
			if session.LanguageName(session.ParseLanguage(lang)) != lang {
				v.addError(fmt.Sprintf("character '%s' initial message key '%s' is not a supported language name", ch.ID, lang))
			}
		}
	}
}

func (v *PresetValidator) validateIDFormat(fieldName, id string) {
	if !isValidID(id) {
		v.addError(fmt.Sprintf("%s '%s' should be lowercase kebab-case", fieldName, id))
	}
}

func (v *PresetValidator) addError(msg string) {
	v.errors = append(v.errors, "  - "+msg)
}

var validIDRegex = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

func isValidID(id string) bool {
	return validIDRegex.MatchString(id)
}
