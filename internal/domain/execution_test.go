package domain

import "testing"

func TestExecutionResult_Text(t *testing.T) {
	tests := []struct {
		name   string
		result ExecutionResult
		want   string
	}{
		{"lines", ExecutionResult{Lines: []string{"B", "done"}}, "B\ndone"},
		{"no output", ExecutionResult{}, NoOutputMessage},
		{"error", ExecutionResult{Lines: []string{"partial"}, Error: "ZeroDivisionError: division by zero"}, "Error: ZeroDivisionError: division by zero"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.result.Text(); got != tt.want {
				t.Errorf("Text() = %q, want %q", got, tt.want)
			}
		})
	}
}
