package domain

import (
	"fmt"
	"strings"
)

// Lesson is a unit of instructional content: a starter template plus the
// assertion-style tests a submission must satisfy.
type Lesson struct {
	ID               string       `json:"id" yaml:"id"`
	Title            string       `json:"title" yaml:"title"`
	Description      string       `json:"description" yaml:"description"`
	StarterCode      string       `json:"starter_code" yaml:"starter_code"`
	Tests            []LessonTest `json:"tests" yaml:"tests"`
	Reward           Reward       `json:"reward" yaml:"reward"`
	Difficulty       Difficulty   `json:"difficulty,omitempty" yaml:"difficulty"`
	EstimatedMinutes int          `json:"estimated_minutes,omitempty" yaml:"estimated_minutes"`
	Tags             []string     `json:"tags,omitempty" yaml:"tags"`
	Order            int          `json:"order,omitempty" yaml:"order"`
}

// LessonTest is a snippet appended after the student's code. It passes when
// the combined program runs without raising.
type LessonTest struct {
	Description string `json:"description" yaml:"description"`
	Code        string `json:"code" yaml:"code"`
}

// Reward holds the fixed magnitudes granted when every test passes.
type Reward struct {
	XP   int `json:"xp" yaml:"xp"`
	Gems int `json:"gems" yaml:"gems"`
}

// DefaultReward is granted by lessons that do not declare their own when
// no other default was configured. It is never modified at run time.
var DefaultReward = Reward{XP: 100, Gems: 10}

// IsZero reports whether no reward magnitudes were set.
func (r Reward) IsZero() bool {
	return r.XP == 0 && r.Gems == 0
}

// Difficulty represents lesson difficulty
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
)

// Validate checks that the lesson can be graded.
func (l *Lesson) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidLesson)
	}
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("%w: lesson %s: missing title", ErrInvalidLesson, l.ID)
	}
	for i, t := range l.Tests {
		if strings.TrimSpace(t.Code) == "" {
			return fmt.Errorf("%w: lesson %s: test %d has no code", ErrInvalidLesson, l.ID, i+1)
		}
	}
	switch l.Difficulty {
	case "", DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
	default:
		return fmt.Errorf("%w: lesson %s: unknown difficulty %q", ErrInvalidLesson, l.ID, l.Difficulty)
	}
	return nil
}

// ApplyDefaults fills in the difficulty when absent, and the reward with
// fallback when the lesson declares none.
func (l *Lesson) ApplyDefaults(fallback Reward) {
	if l.Reward.IsZero() {
		l.Reward = fallback
	}
	if l.Difficulty == "" {
		l.Difficulty = DifficultyBeginner
	}
}

// Summary is the catalog view of a lesson, without code or tests.
type Summary struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	Difficulty       Difficulty `json:"difficulty"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	TestCount        int        `json:"test_count"`
	Reward           Reward     `json:"reward"`
	Tags             []string   `json:"tags,omitempty"`
}

// Summarize returns the catalog view of the lesson.
func (l *Lesson) Summarize() Summary {
	return Summary{
		ID:               l.ID,
		Title:            l.Title,
		Difficulty:       l.Difficulty,
		EstimatedMinutes: l.EstimatedMinutes,
		TestCount:        len(l.Tests),
		Reward:           l.Reward,
		Tags:             l.Tags,
	}
}
