package runner

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// File "/tmp/pq-run-1/main.py", line 12, in <module>
	framePattern = regexp.MustCompile(`^\s*File "([^"]+)", line (\d+)`)
	// ZeroDivisionError: division by zero
	exceptionPattern = regexp.MustCompile(`^([A-Za-z_][\w.]*)(?::\s?(.*))?$`)
	// ^^^^ markers printed under the failing expression
	caretPattern = regexp.MustCompile(`^\s*[\^~]+\s*$`)
)

// ParseTraceback extracts the raised exception from Python's stderr.
// The exception starts at the first unindented line after the last frame
// and runs to the end of stderr, so multi-line messages are kept whole.
// It returns nil when stderr holds no recognizable exception.
func ParseTraceback(stderr string) *ExecutionFault {
	lines := strings.Split(strings.ReplaceAll(stderr, "\r\n", "\n"), "\n")

	lastFrame := -1
	for i, line := range lines {
		if framePattern.MatchString(line) {
			lastFrame = i
		}
	}
	if lastFrame < 0 {
		return nil
	}

	// Source and caret lines under the frame are indented
	excIdx := -1
	for i := lastFrame + 1; i < len(lines); i++ {
		line := lines[i]
		if line == "" || strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			continue
		}
		excIdx = i
		break
	}
	if excIdx < 0 {
		return nil
	}
	m := exceptionPattern.FindStringSubmatch(strings.TrimRight(lines[excIdx], " \t"))
	if m == nil {
		return nil
	}

	fault := &ExecutionFault{Type: m[1]}
	message := append([]string{strings.TrimSpace(m[2])}, lines[excIdx+1:]...)
	fault.Message = strings.TrimSpace(strings.Join(message, "\n"))

	// Innermost frame inside the submitted file, and the source line shown
	// beneath it.
	var sourceLine string
	for i := 0; i < excIdx; i++ {
		fm := framePattern.FindStringSubmatch(lines[i])
		if fm == nil || !isStudentFile(fm[1]) {
			continue
		}
		if n, err := strconv.Atoi(fm[2]); err == nil {
			fault.Line = n
		}
		sourceLine = ""
		if i+1 < excIdx {
			next := lines[i+1]
			if !framePattern.MatchString(next) && !caretPattern.MatchString(next) {
				sourceLine = strings.TrimSpace(next)
			}
		}
	}

	if fault.Message == "" && sourceLine != "" {
		fault.Message = sourceLine
	}
	return fault
}

func isStudentFile(path string) bool {
	return path == studentFile || strings.HasSuffix(path, "/"+studentFile) || path == "<stdin>" || path == "<string>"
}

// lastLine returns the last non-empty line of s.
func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}
