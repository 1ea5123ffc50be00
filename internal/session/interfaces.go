package session

import (
	"context"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
)

// Engine is the execution and grading capability a session drives.
type Engine interface {
	Execute(ctx context.Context, source string) domain.ExecutionResult
	Submit(ctx context.Context, lesson *domain.Lesson, source string) domain.GradingReport
	GetHint(ctx context.Context, source, description string) string
	ExplainError(ctx context.Context, source, errText string) string
}

// LessonSource resolves lesson IDs
type LessonSource interface {
	Get(id string) (*domain.Lesson, error)
}

// SessionStore defines the persistence interface for sessions.
type SessionStore interface {
	Save(session *Session) error
	Get(id string) (*Session, error)
	Delete(id string) error
	List() ([]*Session, error)
	SaveSubmission(sessionID string, seq int, report domain.GradingReport) error
	ListSubmissions(sessionID string) ([]domain.GradingReport, error)
}

// Recorder stores lesson completions
type Recorder interface {
	Record(ctx context.Context, completion domain.Completion) error
}

// SessionService defines the session operations used by the daemon handlers
type SessionService interface {
	Open(ctx context.Context, lessonID, userID string) (*Session, error)
	Load(ctx context.Context, id, lessonID string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	UpdateSource(ctx context.Context, id, source string) (*Session, error)
	Run(ctx context.Context, id string) (*RunOutcome, error)
	Submit(ctx context.Context, id string) (*SubmitOutcome, error)
	Hint(ctx context.Context, id string) (*TutorReply, error)
	Explain(ctx context.Context, id, errText string) (*TutorReply, error)
	Reset(ctx context.Context, id string) (*Session, error)
	Close(ctx context.Context, id string) error
	List(ctx context.Context) ([]*Session, error)
	History(ctx context.Context, id string) ([]domain.GradingReport, error)
}

var (
	_ SessionService = (*Service)(nil)
	_ SessionStore   = (*Store)(nil)
)
