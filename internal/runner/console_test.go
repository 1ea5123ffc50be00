package runner

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestConsole_RoutesToCaptureThenRestores(t *testing.T) {
	var fallback bytes.Buffer
	console := NewConsole(&fallback)

	console.Write([]byte("before\n"))

	capture, err := console.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if !console.Capturing() {
		t.Error("Capturing() = false while a capture is active")
	}
	console.Write([]byte("inside one\ninside two\n"))
	capture.Release()

	console.Write([]byte("after\n"))

	if got := fallback.String(); got != "before\nafter\n" {
		t.Errorf("fallback = %q", got)
	}
	want := []string{"inside one", "inside two"}
	if got := capture.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
	if console.Capturing() {
		t.Error("Capturing() = true after release")
	}
}

func TestConsole_SingleActiveCapture(t *testing.T) {
	console := NewConsole(nil)

	first, err := console.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := console.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire() error = %v, want deadline exceeded", err)
	}

	first.Release()
	first.Release() // idempotent

	second, err := console.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	second.Release()
}

func TestConsole_SequentialCapturesDoNotLeak(t *testing.T) {
	console := NewConsole(nil)

	run := func(text string) []string {
		capture, err := console.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		defer capture.Release()
		console.Write([]byte(text))
		return capture.Lines()
	}

	first := run("B\n")
	second := run("B\n")
	third := run("other\n")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated runs differ: %v vs %v", first, second)
	}
	if !reflect.DeepEqual(third, []string{"other"}) {
		t.Errorf("third run = %v, want [other]", third)
	}
}

func TestCapture_PartialLineAndCRLF(t *testing.T) {
	console := NewConsole(nil)
	capture, _ := console.Acquire(context.Background())
	defer capture.Release()

	capture.Write([]byte("one\r\ntw"))
	capture.Write([]byte("o\nthree"))

	want := []string{"one", "two", "three"}
	if got := capture.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
}

func TestCapture_Print(t *testing.T) {
	console := NewConsole(nil)
	capture, _ := console.Acquire(context.Background())
	defer capture.Release()

	capture.Print("grade", 85, map[string]int{"x": 1}, []int{1, 2}, nil, true)

	want := []string{`grade 85 {"x":1} [1,2] null true`}
	if got := capture.Lines(); !reflect.DeepEqual(got, want) {
		t.Errorf("Lines() = %v, want %v", got, want)
	}
}

func TestFormatValue(t *testing.T) {
	type point struct {
		X int `json:"x"`
	}
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "hi", "hi"},
		{"int", 3, "3"},
		{"float", 2.5, "2.5"},
		{"struct", point{X: 1}, `{"x":1}`},
		{"error", errors.New("boom"), "boom"},
		{"nil", nil, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.in); got != tt.want {
				t.Errorf("FormatValue() = %q, want %q", got, tt.want)
			}
		})
	}
}
