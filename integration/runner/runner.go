package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ErrorHandlingMode string

const ErrorHandlingExit ErrorHandlingMode = "exit"
const ErrorHandlingContinue ErrorHandlingMode = "continue"

// Runner executes integration tests against a running gm-engine API
type Runner struct {
	BaseURL           string
	Client            *http.Client
	Timeout           time.Duration
	Logger            func(format string, args ...interface{})
	ErrorHandlingMode ErrorHandlingMode
	LanguageOverride  string // If set, overrides the language for all test cases
}

// NewRunner creates a new test runner
func NewRunner(baseURL string) *Runner {
	return &Runner{
		BaseURL:           strings.TrimSuffix(baseURL, "/"),
		Client:            &http.Client{Timeout: 3 * time.Minute},
		Timeout:           30 * time.Second,
		ErrorHandlingMode: ErrorHandlingContinue,
	}
}

// LoadTestSuite loads a test suite from a JSON file
func LoadTestSuite(filename string) (TestSuite, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return TestSuite{}, fmt.Errorf("failed to read test file %s: %w", filename, err)
	}

	var suite TestSuite
	if err := json.Unmarshal(content, &suite); err != nil {
		return TestSuite{}, fmt.Errorf("failed to parse JSON in %s: %w", filename, err)
	}

	return suite, nil
}

// LoadTestSuiteWithExpansion loads a test suite and expands it if it's a sequence
// Returns a list of actual test suites (expanded from the sequence if needed)
func LoadTestSuiteWithExpansion(filename string, casesDir string) ([]TestJob, error) {
	suite, err := LoadTestSuite(filename)
	if err != nil {
		return nil, err
	}

	// If this is not a sequence, return it as-is
	if !suite.IsSequence() {
		return []TestJob{{
			Name:     suite.Name,
			Suite:    suite,
			CaseFile: filename,
		}}, nil
	}

	// This is a sequence - load all referenced cases
	var jobs []TestJob
	for _, caseFile := range suite.Cases {
		// Resolve path relative to casesDir
		casePath := filepath.Join(casesDir, caseFile)

		// Recursively load (in case a sequence references another sequence)
		subJobs, err := LoadTestSuiteWithExpansion(casePath, casesDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load case '%s' referenced by sequence '%s': %w", caseFile, suite.Name, err)
		}

		jobs = append(jobs, subJobs...)
	}

	return jobs, nil
}

// RunSuite executes a complete test suite
func (r *Runner) RunSuite(ctx context.Context, suite TestSuite) (TestRunResult, error) {
	start := time.Now()
	result := TestRunResult{
		Job: TestJob{
			Name:  suite.Name,
			Suite: suite,
		},
		Results: make([]TestResult, 0, len(suite.Steps)),
	}

	if r.LanguageOverride != "" {
		suite.Language = r.LanguageOverride
	}
	s, err := CreateSession(ctx, r.Client, r.BaseURL, suite)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result, result.Error
	}
	result.SessionID = s.ID

	for i, step := range suite.Steps {
		r.Logger("    [%d/%d] Running step: %s", i+1, len(suite.Steps), step.Name)
		stepResult := r.runStep(ctx, s.ID, step)
		result.Results = append(result.Results, stepResult)

		if stepResult.Error != nil {
			r.Logger("    [%d/%d] ✗ %s: %v", i+1, len(suite.Steps), step.Name, stepResult.Error)
			if result.Error == nil {
				result.Error = fmt.Errorf("step %d (%s) failed: %w", i, step.Name, stepResult.Error)
			}
			if r.ErrorHandlingMode == ErrorHandlingExit {
				break
			}
			continue
		}

		r.Logger("    [%d/%d] ✓ %s (%v)", i+1, len(suite.Steps), step.Name, stepResult.Duration)
	}

	result.Duration = time.Since(start)
	return result, result.Error
}

// runStep executes a single test step and checks expectations.
// Will retry once on timeout errors without backoff
func (r *Runner) runStep(ctx context.Context, sessionID uuid.UUID, step TestStep) TestResult {
	for attempt := 1; attempt <= 2; attempt++ {
		result := r.executeStep(ctx, sessionID, step)
		if result.Success || result.Error == nil {
			return result
		}

		isTimeout := strings.Contains(result.Error.Error(), "timeout waiting for queued turn")
		if isTimeout && attempt == 1 {
			r.Logger("    Timeout detected, retrying step: %s", step.Name)
			continue
		}
		return result
	}
	return TestResult{StepName: step.Name, Error: fmt.Errorf("unexpected error in retry logic")}
}

// executeStep plays one turn and checks the session afterwards
func (r *Runner) executeStep(ctx context.Context, sessionID uuid.UUID, step TestStep) TestResult {
	start := time.Now()
	result := TestResult{
		StepName: step.Name,
	}
	fail := func(err error) TestResult {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	wantStatus := http.StatusOK
	if step.Expectations.Status != nil {
		wantStatus = *step.Expectations.Status
	}

	var (
		sequence int
		ended    bool
		err      error
	)
	if step.Async {
		var requestID string
		requestID, err = PostTurnAsync(ctx, r.Client, r.BaseURL, sessionID, step.UserPrompt)
		if err == nil {
			result.RequestID = requestID
			resp, pollErr := PollForTurn(ctx, r.Client, r.BaseURL, requestID)
			if pollErr != nil {
				return fail(fmt.Errorf("failed to poll for turn: %w", pollErr))
			}
			result.ResponseText, sequence, ended = resp.Message, resp.Sequence, resp.Ended
		}
	} else {
		resp, postErr := PostTurn(ctx, r.Client, r.BaseURL, sessionID, step.UserPrompt)
		err = postErr
		if err == nil {
			result.ResponseText, sequence, ended = resp.Message, resp.Sequence, resp.Ended
		}
	}

	var httpErr *HTTPError
	switch {
	case err == nil && wantStatus != http.StatusOK:
		return fail(fmt.Errorf("expected status %d, turn succeeded", wantStatus))
	case errors.As(err, &httpErr) && httpErr.Status == wantStatus:
		// expected failure; nothing else to check
		result.Success = true
		result.ResponseText = httpErr.Body
		result.Duration = time.Since(start)
		return result
	case err != nil:
		return fail(fmt.Errorf("failed to play turn: %w", err))
	}

	post, err := GetSession(ctx, r.Client, r.BaseURL, sessionID)
	if err != nil {
		return fail(fmt.Errorf("failed to get session after turn: %w", err))
	}

	if err := r.checkExpectations(ctx, step.Expectations, post, sequence, ended, result.ResponseText); err != nil {
		return fail(fmt.Errorf("expectation failed: %w", err))
	}

	result.Success = true
	result.Duration = time.Since(start)
	return result
}

// checkExpectations validates the test expectations against the turn and
// the session that followed it
func (r *Runner) checkExpectations(ctx context.Context, exp Expectations, post *SessionState, sequence int, ended bool, responseText string) error {
	if exp.Sequence != nil && sequence != *exp.Sequence {
		return fmt.Errorf("expected sequence %d, got %d", *exp.Sequence, sequence)
	}

	if exp.IsEnded != nil {
		if ended != *exp.IsEnded {
			return fmt.Errorf("expected ended to be %t, got %t", *exp.IsEnded, ended)
		}
		if post.IsEnded() != *exp.IsEnded {
			return fmt.Errorf("expected session ended to be %t, got %t", *exp.IsEnded, post.IsEnded())
		}
	}

	if exp.TurnCount != nil && post.Turns != *exp.TurnCount {
		return fmt.Errorf("expected %d turns, got %d", *exp.TurnCount, post.Turns)
	}

	if exp.CharacterCount != nil && len(post.Characters) != *exp.CharacterCount {
		return fmt.Errorf("expected %d characters, got %d", *exp.CharacterCount, len(post.Characters))
	}

	// Character presence check (order independent)
	if len(exp.Characters) > 0 {
		actual := make(map[string]bool)
		var names []string
		for _, ch := range post.Characters {
			actual[strings.ToLower(ch.Name)] = true
			names = append(names, ch.Name)
		}
		for _, name := range exp.Characters {
			if !actual[strings.ToLower(name)] {
				return fmt.Errorf("expected character '%s', but it's missing. Actual characters: %v", name, names)
			}
		}
	}

	if len(exp.Speakers) > 0 {
		segments, err := GetSegments(ctx, r.Client, r.BaseURL, post.ID, sequence)
		if err != nil {
			return fmt.Errorf("failed to get segments: %w", err)
		}
		seen := make(map[string]bool)
		for _, seg := range segments {
			seen[seg.Speaker] = true
		}
		for _, speaker := range exp.Speakers {
			if !seen[speaker] {
				return fmt.Errorf("expected speaker '%s' in segments, got %v", speaker, segments)
			}
		}
	}

	// Response content checks
	if len(exp.ResponseContains) > 0 {
		lowerResponse := strings.ToLower(responseText)
		for _, expectedText := range exp.ResponseContains {
			if !strings.Contains(lowerResponse, strings.ToLower(expectedText)) {
				return fmt.Errorf("expected response to contain '%s', but it didn't", expectedText)
			}
		}
	}

	if len(exp.ResponseNotContains) > 0 {
		lowerResponse := strings.ToLower(responseText)
		for _, unexpectedText := range exp.ResponseNotContains {
			if strings.Contains(lowerResponse, strings.ToLower(unexpectedText)) {
				return fmt.Errorf("expected response to NOT contain '%s', but it did", unexpectedText)
			}
		}
	}

	// Regex check
	if exp.ResponseRegex != "" {
		matched, err := regexp.MatchString(exp.ResponseRegex, responseText)
		if err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
		if !matched {
			return fmt.Errorf("response didn't match regex pattern: %s", exp.ResponseRegex)
		}
	}

	// Response length checks
	if exp.ResponseMinLength != nil {
		if len(responseText) < *exp.ResponseMinLength {
			return fmt.Errorf("expected response length >= %d, got %d", *exp.ResponseMinLength, len(responseText))
		}
	}
	if exp.ResponseMaxLength != nil {
		if len(responseText) > *exp.ResponseMaxLength {
			return fmt.Errorf("expected response length <= %d, got %d", *exp.ResponseMaxLength, len(responseText))
		}
	}

	return nil
}
