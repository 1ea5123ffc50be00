package domain

import "time"

// TestOutcome is the verdict for a single lesson test.
type TestOutcome struct {
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Error       string `json:"error,omitempty"`
}

// RewardSignal is emitted once per grading run in which every test passed.
type RewardSignal struct {
	XP   int `json:"xp"`
	Gems int `json:"gems"`
}

// GradingReport holds one outcome per lesson test, in declared order.
type GradingReport struct {
	LessonID  string        `json:"lesson_id"`
	Outcomes  []TestOutcome `json:"outcomes"`
	Reward    *RewardSignal `json:"reward,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// AllPassed reports whether every outcome passed. An empty report passes.
func (g *GradingReport) AllPassed() bool {
	for _, o := range g.Outcomes {
		if !o.Passed {
			return false
		}
	}
	return true
}

// Passed returns the number of passing outcomes.
func (g *GradingReport) Passed() int {
	n := 0
	for _, o := range g.Outcomes {
		if o.Passed {
			n++
		}
	}
	return n
}

// FirstFailure returns the first failing outcome, if any.
func (g *GradingReport) FirstFailure() (TestOutcome, bool) {
	for _, o := range g.Outcomes {
		if !o.Passed {
			return o, true
		}
	}
	return TestOutcome{}, false
}
