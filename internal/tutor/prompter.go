package tutor

import (
	"fmt"
	"strings"
)

// Kind selects the prompt family.
type Kind string

const (
	KindHint    Kind = "hint"
	KindExplain Kind = "explain"
)

// Prompter builds prompts for the text generation provider
type Prompter struct{}

// NewPrompter creates a new prompter
func NewPrompter() *Prompter {
	return &Prompter{}
}

// SystemPrompt returns the system prompt for a given kind
func (p *Prompter) SystemPrompt(kind Kind) string {
	base := `You are an expert Python programming tutor integrated into a learning app.
Your goal is to help the student understand and learn, NOT to solve the problem for them.
The student should remain the author of their code at all times.

RULES:
- DO NOT provide the complete, correct solution.
- DO NOT write large blocks of code.
- Be friendly, encouraging and concise.`

	switch kind {
	case KindHint:
		return base + `
- Start with a gentle nudge or a Socratic question that guides their thinking.
  Example: "Have you considered what happens if the score is exactly 90?"
- If the code is far off, point to the right concept.
  Example: "Remember how 'elif' works for checking sequential conditions."
- Focus on the single most likely point of confusion.`

	case KindExplain:
		return base + `
- Explain what the error message means in plain English.
  Example: an AssertionError means the function's output did not match the expected value.
- Point to the part of the code that is likely causing the issue.
  Example: "Look at your if/elif chain. Does the condition for grade 'D' handle a score of 60?"
- DO NOT write the corrected code.`

	default:
		return base
	}
}

// HintPrompt builds the user prompt for a hint request
func (p *Prompter) HintPrompt(code, description string) string {
	var sb strings.Builder
	sb.WriteString("A student is working on a coding problem and has asked for a hint.\n\n")
	writeSection(&sb, "Problem Description", description)
	writeSection(&sb, "Student's Current Code", code)
	sb.WriteString("Give one short, tiered hint.")
	return sb.String()
}

// ExplainPrompt builds the user prompt for an error explanation
func (p *Prompter) ExplainPrompt(code, errText string) string {
	var sb strings.Builder
	sb.WriteString("A student's code failed a test. Explain the error without giving away the solution.\n\n")
	writeSection(&sb, "Student's Code", code)
	writeSection(&sb, "Test Result / Error", errText)
	sb.WriteString("Analyze the code and the result, then explain.")
	return sb.String()
}

func writeSection(sb *strings.Builder, title, body string) {
	if strings.TrimSpace(body) == "" {
		body = "(empty)"
	}
	fmt.Fprintf(sb, "%s:\n---\n%s\n---\n\n", title, strings.TrimRight(body, "\n"))
}
