package domain

import (
	"time"

	"github.com/google/uuid"
)

// CompletionStatus is the status recorded for a lesson attempt.
type CompletionStatus string

const (
	CompletionStatusCompleted CompletionStatus = "completed"
)

// Completion is a progress event recorded when a lesson is fully passed.
type Completion struct {
	ID         uuid.UUID        `json:"id"`
	UserID     string           `json:"user_id"`
	LessonID   string           `json:"lesson_id"`
	Status     CompletionStatus `json:"status"`
	XPEarned   int              `json:"xp_earned"`
	GemsEarned int              `json:"gems_earned"`
	Outcomes   []TestOutcome    `json:"outcomes,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// NewCompletion builds a completion from a passing grading report.
func NewCompletion(userID string, report *GradingReport) Completion {
	c := Completion{
		ID:         uuid.New(),
		UserID:     userID,
		LessonID:   report.LessonID,
		Status:     CompletionStatusCompleted,
		Outcomes:   report.Outcomes,
		RecordedAt: time.Now().UTC(),
	}
	if report.Reward != nil {
		c.XPEarned = report.Reward.XP
		c.GemsEarned = report.Reward.Gems
	}
	return c
}

// Totals aggregates completions for a single user.
type Totals struct {
	UserID           string `json:"user_id"`
	XP               int    `json:"xp"`
	Gems             int    `json:"gems"`
	LessonsCompleted int    `json:"lessons_completed"`
}

// Summarize totals the XP and gems across completions. A lesson completed
// more than once counts once toward LessonsCompleted.
func Summarize(userID string, completions []Completion) Totals {
	t := Totals{UserID: userID}
	seen := make(map[string]bool)
	for _, c := range completions {
		t.XP += c.XPEarned
		t.Gems += c.GemsEarned
		if !seen[c.LessonID] {
			seen[c.LessonID] = true
			t.LessonsCompleted++
		}
	}
	return t
}
