package runner

import (
	"time"

	"github.com/google/uuid"
)

// TestSuite defines a complete integration test scenario.
// Can either be a regular test with Steps, or a suite that references other Cases.
// A regular test starts its session from a preset when PresetWorld is set,
// and from the free descriptions otherwise.
type TestSuite struct {
	Name            string     `json:"name"`
	PresetWorld     string     `json:"preset_world,omitempty"`
	PresetCharacter string     `json:"preset_character,omitempty"`
	World           string     `json:"world,omitempty"`
	Player          string     `json:"player,omitempty"`
	InitialMessage  string     `json:"initial_message,omitempty"`
	Language        string     `json:"language,omitempty"`
	Steps           []TestStep `json:"steps,omitempty"` // Used for regular tests
	Cases           []string   `json:"cases,omitempty"` // Used for suite tests (list of case files)
}

// IsSequence returns true if this is a suite that sequences other cases
func (ts *TestSuite) IsSequence() bool {
	return len(ts.Cases) > 0
}

// TestStep defines a single player turn and its expected outcomes.
// Async steps go through the queue and are polled until the worker
// reports a result.
type TestStep struct {
	Name         string       `json:"name,omitempty"`
	UserPrompt   string       `json:"user_prompt"`
	Async        bool         `json:"async,omitempty"`
	Expectations Expectations `json:"expect"`
}

// Expectations defines what to check after a test step executes
type Expectations struct {
	// Turn outcome
	Status   *int  `json:"status,omitempty"`   // HTTP status of the turn request, default 200
	Sequence *int  `json:"sequence,omitempty"` // committed turn sequence
	IsEnded  *bool `json:"is_ended,omitempty"` // session ended by this turn

	// Session state after the turn
	Characters     []string `json:"characters,omitempty"` // names that must exist (order independent)
	CharacterCount *int     `json:"character_count,omitempty"`
	TurnCount      *int     `json:"turn_count,omitempty"`

	// Speakers that must appear in the turn's segments
	Speakers []string `json:"speakers,omitempty"`

	// Response Analysis
	ResponseContains    []string `json:"response_contains,omitempty"`
	ResponseNotContains []string `json:"response_not_contains,omitempty"`
	ResponseRegex       string   `json:"response_regex,omitempty"`
	ResponseMinLength   *int     `json:"response_min_length,omitempty"`
	ResponseMaxLength   *int     `json:"response_max_length,omitempty"`
}

// TestResult contains the outcome of running a test step
type TestResult struct {
	TestName     string
	StepName     string
	Success      bool
	Error        error
	Duration     time.Duration
	ResponseText string
	RequestID    string // set for async steps
}

// TestJob represents a test suite to be executed
type TestJob struct {
	Name     string
	Suite    TestSuite
	CaseFile string
}

// TestRunResult contains the results of running an entire test suite
type TestRunResult struct {
	Job       TestJob
	Results   []TestResult
	Error     error
	Duration  time.Duration
	SessionID uuid.UUID // ID of the session used for this test
}
