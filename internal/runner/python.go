package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// LocalInterpreter runs programs with the python3 found on the host. Each
// run gets a fresh temporary directory and process.
type LocalInterpreter struct {
	pythonPath string
	timeout    time.Duration
}

// NewLocalInterpreter creates a new local interpreter
func NewLocalInterpreter(cfg Config) *LocalInterpreter {
	path := cfg.PythonPath
	if path == "" {
		path = "python3"
	}
	return &LocalInterpreter{pythonPath: path, timeout: cfg.Timeout}
}

// Name returns the backend name
func (i *LocalInterpreter) Name() string {
	return BackendLocal
}

// Available reports whether the python executable can be found.
func (i *LocalInterpreter) Available(ctx context.Context) bool {
	_, err := exec.LookPath(i.pythonPath)
	return err == nil
}

// Run executes source as a standalone script.
func (i *LocalInterpreter) Run(ctx context.Context, source string, stdout io.Writer) error {
	tmpDir, err := createTempCodeDir(map[string]string{studentFile: source})
	if err != nil {
		return fmt.Errorf("prepare workspace: %w", err)
	}
	defer removeTempDir(tmpDir)

	runCtx, cancel := withTimeout(ctx, i.timeout)
	defer cancel()

	var stderr bytes.Buffer
	// -I isolates from user site-packages and PYTHON* variables, -u keeps
	// output that was printed before a timeout kill.
	cmd := exec.CommandContext(runCtx, i.pythonPath, "-I", "-u", studentFile)
	cmd.Dir = tmpDir
	cmd.Stdout = stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	if err == nil {
		return nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return timeoutFault(i.timeout)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("start %s: %w", i.pythonPath, err)
	}
	return faultFromExit(stderr.String(), exitErr.ExitCode())
}

// faultFromExit builds the fault for a non-zero exit.
func faultFromExit(stderr string, code int) *ExecutionFault {
	if fault := ParseTraceback(stderr); fault != nil {
		return fault
	}
	if msg := lastLine(stderr); msg != "" {
		return &ExecutionFault{Message: msg}
	}
	return &ExecutionFault{Type: "SystemExit", Message: fmt.Sprintf("process exited with status %d", code)}
}

func createTempCodeDir(code map[string]string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "pythonquest-run-*")
	if err != nil {
		return "", err
	}

	for filename, content := range code {
		if err := os.WriteFile(filepath.Join(tmpDir, filename), []byte(content), 0644); err != nil {
			removeTempDir(tmpDir)
			return "", err
		}
	}

	return tmpDir, nil
}

func removeTempDir(dir string) {
	os.RemoveAll(dir)
}

// Ensure LocalInterpreter implements Interpreter
var _ Interpreter = (*LocalInterpreter)(nil)
