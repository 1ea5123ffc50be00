package domain

import "testing"

func TestNewCompletion(t *testing.T) {
	report := &GradingReport{
		LessonID: "control-flow",
		Outcomes: []TestOutcome{{Description: "a", Passed: true}},
		Reward:   &RewardSignal{XP: 100, Gems: 10},
	}

	c := NewCompletion("user-1", report)
	if c.UserID != "user-1" || c.LessonID != "control-flow" {
		t.Errorf("unexpected ids: %+v", c)
	}
	if c.XPEarned != 100 || c.GemsEarned != 10 {
		t.Errorf("earned = %d/%d, want 100/10", c.XPEarned, c.GemsEarned)
	}
	if c.Status != CompletionStatusCompleted {
		t.Errorf("Status = %q", c.Status)
	}
	if c.RecordedAt.IsZero() {
		t.Error("RecordedAt not set")
	}
}

func TestSummarize(t *testing.T) {
	completions := []Completion{
		{LessonID: "a", XPEarned: 100, GemsEarned: 10},
		{LessonID: "b", XPEarned: 50, GemsEarned: 5},
		{LessonID: "a", XPEarned: 100, GemsEarned: 10},
	}

	got := Summarize("u", completions)
	if got.XP != 250 || got.Gems != 25 {
		t.Errorf("totals = %d/%d, want 250/25", got.XP, got.Gems)
	}
	if got.LessonsCompleted != 2 {
		t.Errorf("LessonsCompleted = %d, want 2", got.LessonsCompleted)
	}
}
