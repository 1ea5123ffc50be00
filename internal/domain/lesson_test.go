package domain

import (
	"errors"
	"testing"
)

func TestLesson_Validate(t *testing.T) {
	tests := []struct {
		name    string
		lesson  Lesson
		wantErr bool
	}{
		{
			name:   "valid",
			lesson: Lesson{ID: "control-flow", Title: "Control Flow", Tests: []LessonTest{{Description: "a", Code: "assert True"}}},
		},
		{
			name:   "valid without tests",
			lesson: Lesson{ID: "intro", Title: "Intro"},
		},
		{
			name:    "missing id",
			lesson:  Lesson{Title: "Intro"},
			wantErr: true,
		},
		{
			name:    "missing title",
			lesson:  Lesson{ID: "intro"},
			wantErr: true,
		},
		{
			name:    "empty test code",
			lesson:  Lesson{ID: "intro", Title: "Intro", Tests: []LessonTest{{Description: "a", Code: "  "}}},
			wantErr: true,
		},
		{
			name:    "unknown difficulty",
			lesson:  Lesson{ID: "intro", Title: "Intro", Difficulty: "legendary"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.lesson.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLesson) {
				t.Errorf("Validate() error = %v, want ErrInvalidLesson", err)
			}
		})
	}
}

func TestLesson_ApplyDefaults(t *testing.T) {
	l := Lesson{ID: "x", Title: "X"}
	l.ApplyDefaults(DefaultReward)

	if l.Reward != DefaultReward {
		t.Errorf("Reward = %+v, want %+v", l.Reward, DefaultReward)
	}
	if l.Difficulty != DifficultyBeginner {
		t.Errorf("Difficulty = %q, want beginner", l.Difficulty)
	}

	custom := Lesson{ID: "y", Title: "Y", Reward: Reward{XP: 50}}
	custom.ApplyDefaults(Reward{XP: 500, Gems: 50})
	if custom.Reward.XP != 50 || custom.Reward.Gems != 0 {
		t.Errorf("explicit reward overwritten: %+v", custom.Reward)
	}
}

func TestLesson_Summarize(t *testing.T) {
	l := Lesson{
		ID:               "control-flow",
		Title:            "Control Flow",
		EstimatedMinutes: 15,
		Tests:            make([]LessonTest, 7),
		Reward:           DefaultReward,
	}

	s := l.Summarize()
	if s.TestCount != 7 {
		t.Errorf("TestCount = %d, want 7", s.TestCount)
	}
	if s.EstimatedMinutes != 15 {
		t.Errorf("EstimatedMinutes = %d, want 15", s.EstimatedMinutes)
	}
}
