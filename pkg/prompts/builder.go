package prompts

import (
	"fmt"
	"strings"

	"github.com/jwebster45206/gm-engine/pkg/session"
)

// NarrationBuilder constructs the narrator request for one turn using a
// fluent interface.
type NarrationBuilder struct {
	roster       session.Roster
	userInput    string
	summary      string
	tagged       bool
	invalidNames []string
}

// NewNarration creates a builder for a plain narration request.
func NewNarration() *NarrationBuilder {
	return &NarrationBuilder{}
}

// WithRoster sets the characters active in the scene.
func (b *NarrationBuilder) WithRoster(r session.Roster) *NarrationBuilder {
	b.roster = r
	return b
}

// WithUserInput sets the player's message, quoted verbatim.
func (b *NarrationBuilder) WithUserInput(input string) *NarrationBuilder {
	b.userInput = input
	return b
}

// WithSummary sets the command summary produced by the game master.
func (b *NarrationBuilder) WithSummary(summary string) *NarrationBuilder {
	b.summary = summary
	return b
}

// WithSpeechTags asks the narrator to wrap spoken lines in speech tags.
func (b *NarrationBuilder) WithSpeechTags(tagged bool) *NarrationBuilder {
	b.tagged = tagged
	return b
}

// WithInvalidNames appends a retry hint listing speakers the previous
// attempt used but the roster does not contain.
func (b *NarrationBuilder) WithInvalidNames(names []string) *NarrationBuilder {
	b.invalidNames = names
	return b
}

// Build renders the request text.
func (b *NarrationBuilder) Build() (string, error) {
	if strings.TrimSpace(b.summary) == "" {
		return "", fmt.Errorf("command summary is required")
	}

	var sb strings.Builder
	sb.WriteString("Current scene characters:\n")
	sb.WriteString(b.roster.Describe())
	sb.WriteString("\n\n")
	fmt.Fprintf(&sb, "User's input: %q\n", b.userInput)
	fmt.Fprintf(&sb, "Game Master's output: %s\n\n", b.summary)

	sb.WriteString("Transform this into a concise narrative following the established guidelines.\nRemember:\n")
	sb.WriteString("- Never describe a dialogue, write what it says.\n")
	if b.tagged {
		for _, line := range strings.Split(speechFormat, "\n") {
			sb.WriteString("- " + line + "\n")
		}
	}
	sb.WriteString("- If you have been given an answer with specific details, describe them when they matter to the plot and the character obviously sees them. If they are part of a dialogue, include them when a normal conversation would reveal them.\n")
	sb.WriteString("- Never describe the actions of a player character.\n")
	sb.WriteString("- Never describe something that has already been described in a player's input unless you change it.\n")

	if len(b.invalidNames) > 0 {
		fmt.Fprintf(&sb, "\nError: The following character names are not valid: %s. Please use only valid character names from the list above.\n",
			strings.Join(b.invalidNames, ", "))
	}
	return sb.String(), nil
}

// Segmentation builds the request asking a model to list the direct speech
// in text with its speakers. feedback describes the previous attempt's
// problems and may be empty.
func Segmentation(text string, cast session.Roster, feedback string) string {
	var names, described []string
	for _, ch := range cast {
		names = append(names, "["+ch.Name+"]")
		described = append(described, fmt.Sprintf("Character name- [%s].\n Character description- %s", ch.Name, ch.Description))
	}

	var sb strings.Builder
	sb.WriteString(`You are a dialogue processor. Your task is to identify ONLY direct speech in the text and mark who is speaking.

Rules:
1. ONLY mark direct speech (text in quotes) with the speaker's name
2. Format each direct speech segment as:
   Speaker=={speaker_name}
   Text=={exact_quote}

3. Valid speaker names are:
   - One of the known character names: `)
	sb.WriteString(strings.Join(names, "\n"))
	sb.WriteString(`
   - You MUST use the FULL name as shown in square brackets, but WITHOUT the brackets in the output
   - Do not use partial names or nicknames

4. Format requirements:
   - Each segment must start with "Speaker==" followed by the speaker's name
   - The next line must start with "Text==" followed by the EXACT quote
   - There must be no empty lines between Speaker== and Text==
   - Each new dialogue segment should be separated by a blank line

5. Text processing rules:
   - ONLY mark direct speech (text in quotes)
   - Keep the exact quote as it appears in the text
   - Do not add any additional text or explanations
   - Do not modify the text content
   - Preserve all punctuation and formatting

Known characters and their descriptions:
`)
	sb.WriteString(strings.Join(described, "\n"))
	sb.WriteString("\n\nText to process:\n")
	sb.WriteString(text)
	sb.WriteString(`

Example of correct format:
Speaker==John
Text=="I'll have a pint of your finest ale, barkeep."

Speaker==Barkeep
Text=="That'll be one coin."

Return only the direct speech segments in the specified format, nothing else.
Remember, ONLY mark direct speech (text in quotes) with the speaker's name.
`)
	if feedback != "" {
		sb.WriteString("\nPrevious attempt had the following errors:\n")
		sb.WriteString(feedback)
		sb.WriteString("\n")
	}
	return sb.String()
}
