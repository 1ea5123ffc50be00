package runner

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Backend names used in configuration.
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// studentFile is the name the program is written under; tracebacks refer
// to it when locating the failing line.
const studentFile = "main.py"

// Interpreter runs Python source text to completion.
//
// Run streams every line the program prints to stdout in call order. When
// the program raises, Run returns an *ExecutionFault. Any other error is an
// infrastructure failure (interpreter missing, container failed to start).
type Interpreter interface {
	Name() string
	Available(ctx context.Context) bool
	Run(ctx context.Context, source string, stdout io.Writer) error
}

// Config holds interpreter configuration
type Config struct {
	Backend    string
	PythonPath string
	Timeout    time.Duration
	Image      string
	MemoryMB   int
	CPULimit   float64
	NetworkOff bool

	// AllowHostFallback permits running on the host when docker was
	// requested but is unreachable.
	AllowHostFallback bool
}

// DefaultConfig returns default interpreter configuration
func DefaultConfig() Config {
	return Config{
		Backend:    BackendLocal,
		PythonPath: "python3",
		Timeout:    10 * time.Second,
		Image:      "python:3.12-alpine",
		MemoryMB:   128,
		CPULimit:   0.5,
		NetworkOff: true,
	}
}

// ExecutionFault is an exception raised by the program being run.
type ExecutionFault struct {
	Type    string // exception class, e.g. ZeroDivisionError
	Message string
	Line    int // line in the submitted source, 0 when unknown
}

func (f *ExecutionFault) Error() string {
	if f.Message == "" {
		return f.Type
	}
	if f.Type == "" {
		return f.Message
	}
	return f.Type + ": " + f.Message
}

// timeoutFault reports a program that exceeded the configured bound.
func timeoutFault(limit time.Duration) *ExecutionFault {
	return &ExecutionFault{
		Type:    "TimeoutError",
		Message: fmt.Sprintf("execution exceeded %s", limit),
	}
}

// withTimeout bounds ctx by limit; a zero limit leaves ctx unbounded.
func withTimeout(ctx context.Context, limit time.Duration) (context.Context, context.CancelFunc) {
	if limit <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, limit)
}
