package session

import (
	"time"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/google/uuid"
)

// State is the interaction state of a session
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateGrading State = "grading"
)

// Session is one student's view of a lesson: the code being edited, the
// output panel, the latest grading outcomes and the tutor panel.
type Session struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id,omitempty"`
	LessonID string `json:"lesson_id"`

	Source    string               `json:"source"`
	Output    string               `json:"output"`
	LastError string               `json:"last_error,omitempty"`
	Outcomes  []domain.TestOutcome `json:"outcomes"`
	Hint      string               `json:"hint,omitempty"`

	State      State `json:"state"`
	Generation int   `json:"generation"`

	// Statistics
	Runs        int        `json:"runs"`
	Submissions int        `json:"submissions"`
	HintCount   int        `json:"hint_count"`
	Completed   bool       `json:"completed"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession creates an idle session on lesson
func NewSession(lesson *domain.Lesson, userID string) *Session {
	now := time.Now()
	s := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
	}
	s.enter(lesson)
	return s
}

// enter is the hard reset: every transient field takes the lesson's
// default, nothing is merged from the previous lesson.
func (s *Session) enter(lesson *domain.Lesson) {
	s.LessonID = lesson.ID
	s.Source = lesson.StarterCode
	s.Output = domain.PlaceholderOutput
	s.LastError = ""
	s.Outcomes = []domain.TestOutcome{}
	s.Hint = ""
	s.State = StateIdle
	s.Completed = false
	s.Generation++
	s.touch()
}

// Idle reports whether no run or grading is in flight
func (s *Session) Idle() bool {
	return s.State == StateIdle || s.State == ""
}

func (s *Session) begin(state State) {
	s.State = state
	s.touch()
}

func (s *Session) recordRun(result domain.ExecutionResult) {
	now := time.Now()
	s.Output = result.Text()
	s.LastError = result.Error
	s.Runs++
	s.LastRunAt = &now
	s.State = StateIdle
	s.touch()
}

func (s *Session) recordSubmission(report domain.GradingReport) {
	s.Outcomes = append([]domain.TestOutcome{}, report.Outcomes...)
	s.Submissions++
	if report.Reward != nil {
		s.Completed = true
	}
	s.State = StateIdle
	s.touch()
}

func (s *Session) recordHint(text string) {
	s.Hint = text
	s.HintCount++
	s.touch()
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now()
}

// Clone returns a copy safe to hand outside the service lock
func (s *Session) Clone() *Session {
	c := *s
	c.Outcomes = append([]domain.TestOutcome{}, s.Outcomes...)
	if s.LastRunAt != nil {
		t := *s.LastRunAt
		c.LastRunAt = &t
	}
	return &c
}

// ExplainTarget picks the error the tutor should explain when the caller
// names none: the first failing test, else the last run's fault.
func (s *Session) ExplainTarget() string {
	for _, o := range s.Outcomes {
		if !o.Passed && o.Error != "" {
			return o.Error
		}
	}
	return s.LastError
}
