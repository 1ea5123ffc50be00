package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"
)

// Console is the shared print sink. While a Capture is active every write
// lands in it; otherwise writes go to the fallback writer. At most one
// capture is active at a time.
type Console struct {
	fallback io.Writer
	slot     chan struct{}

	mu     sync.Mutex
	active *Capture
}

// NewConsole creates a console whose idle output goes to fallback.
func NewConsole(fallback io.Writer) *Console {
	if fallback == nil {
		fallback = io.Discard
	}
	return &Console{
		fallback: fallback,
		slot:     make(chan struct{}, 1),
	}
}

// Acquire blocks until no other capture is active and installs a new one.
// The caller must Release it; defer is the expected pattern.
func (c *Console) Acquire(ctx context.Context) (*Capture, error) {
	select {
	case c.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	capture := &Capture{console: c}
	c.mu.Lock()
	c.active = capture
	c.mu.Unlock()
	return capture, nil
}

// Capturing reports whether a capture is currently installed.
func (c *Console) Capturing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Write routes p to the active capture or the fallback writer.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	active := c.active
	c.mu.Unlock()

	if active != nil {
		return active.Write(p)
	}
	return c.fallback.Write(p)
}

func (c *Console) release(capture *Capture) {
	c.mu.Lock()
	if c.active == capture {
		c.active = nil
	}
	c.mu.Unlock()
	<-c.slot
}

// Capture collects printed output as lines.
type Capture struct {
	console *Console
	once    sync.Once

	mu      sync.Mutex
	lines   []string
	partial bytes.Buffer
}

// Write appends p, splitting it on newlines.
func (c *Capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rest := p
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			c.partial.Write(rest)
			break
		}
		c.partial.Write(rest[:i])
		c.lines = append(c.lines, strings.TrimSuffix(c.partial.String(), "\r"))
		c.partial.Reset()
		rest = rest[i+1:]
	}
	return len(p), nil
}

// Print appends one line made of args joined by spaces. Strings are kept
// verbatim; composite values are rendered as JSON.
func (c *Capture) Print(args ...any) {
	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = FormatValue(arg)
	}
	c.Write([]byte(strings.Join(parts, " ") + "\n"))
}

// Lines returns the captured lines, including an unterminated final line.
func (c *Capture) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := make([]string, 0, len(c.lines)+1)
	lines = append(lines, c.lines...)
	if c.partial.Len() > 0 {
		lines = append(lines, c.partial.String())
	}
	return lines
}

// Release uninstalls the capture and restores the console. It is safe to
// call more than once.
func (c *Capture) Release() {
	c.once.Do(func() {
		c.console.release(c)
	})
}

// FormatValue renders a value as a single output line.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case error:
		return val.Error()
	case fmt.Stringer:
		return val.String()
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprint(v)
}
