package domain

import (
	"strings"
	"time"
)

const (
	// PlaceholderOutput is shown before anything has been run.
	PlaceholderOutput = "Run code to see output."

	// NoOutputMessage replaces an empty capture after a clean run.
	NoOutputMessage = "Code ran successfully with no output."

	errorPrefix = "Error: "
)

// ExecutionResult is the outcome of running source text once: either the
// captured lines or the message of the fault that stopped it.
type ExecutionResult struct {
	Lines    []string      `json:"lines"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Failed returns true if the execution raised.
func (r ExecutionResult) Failed() bool {
	return r.Error != ""
}

// Text renders the result the way the output panel displays it.
func (r ExecutionResult) Text() string {
	if r.Failed() {
		return errorPrefix + r.Error
	}
	if len(r.Lines) == 0 {
		return NoOutputMessage
	}
	return strings.Join(r.Lines, "\n")
}
