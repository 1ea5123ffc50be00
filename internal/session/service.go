// Package session drives one student's interaction with a lesson: editing,
// running, grading and asking the tutor, with at most one run or grading
// in flight per session.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
)

// DefaultUserID owns sessions opened without a user.
const DefaultUserID = "local"

// CompletionHandler is called after a submission earned its reward.
type CompletionHandler func(ctx context.Context, sess *Session, report domain.GradingReport) error

// RunOutcome is the result of a run. Stale is set when the session moved
// to another lesson while the code ran; the result was then discarded.
type RunOutcome struct {
	Session *Session               `json:"session"`
	Result  domain.ExecutionResult `json:"result"`
	Stale   bool                   `json:"stale,omitempty"`
}

// SubmitOutcome is the result of a submission.
type SubmitOutcome struct {
	Session *Session             `json:"session"`
	Report  domain.GradingReport `json:"report"`
	Stale   bool                 `json:"stale,omitempty"`
}

// TutorReply carries hint or explanation text.
type TutorReply struct {
	Session *Session `json:"session"`
	Text    string   `json:"text"`
	Stale   bool     `json:"stale,omitempty"`
}

// Service manages lesson sessions
type Service struct {
	mu       sync.Mutex
	sessions map[string]*Session

	store      SessionStore
	engine     Engine
	lessons    LessonSource
	onComplete CompletionHandler
	logger     *slog.Logger
	user       string
}

// Option configures a Service
type Option func(*Service)

// WithCompletionHandler sets the handler invoked on rewarded submissions
func WithCompletionHandler(h CompletionHandler) Option {
	return func(s *Service) { s.onComplete = h }
}

// WithDefaultUser sets the user owning sessions opened without one.
// An empty id keeps DefaultUserID.
func WithDefaultUser(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.user = id
		}
	}
}

// WithLogger sets the service logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new session service
func NewService(store SessionStore, engine Engine, lessons LessonSource, opts ...Option) *Service {
	s := &Service{
		sessions: make(map[string]*Session),
		store:    store,
		engine:   engine,
		lessons:  lessons,
		logger:   slog.Default(),
		user:     DefaultUserID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordCompletions returns a handler that stores a completion for every
// rewarded submission.
func RecordCompletions(rec Recorder) CompletionHandler {
	return func(ctx context.Context, sess *Session, report domain.GradingReport) error {
		if report.Reward == nil {
			return nil
		}
		return rec.Record(ctx, domain.NewCompletion(sess.UserID, &report))
	}
}

// Open starts a session on lessonID seeded with its starter code. An empty
// userID opens it for the service's default user.
func (s *Service) Open(ctx context.Context, lessonID, userID string) (*Session, error) {
	lesson, err := s.lessons.Get(lessonID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		userID = s.user
	}

	sess := NewSession(lesson, userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Save(sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	s.sessions[sess.ID] = sess

	s.logger.Info("session opened", "session", sess.ID, "lesson", lessonID)
	return sess.Clone(), nil
}

// Load moves a session to lessonID with a hard reset. Any run, grading or
// tutor call still in flight for the previous lesson is discarded when it
// completes.
func (s *Service) Load(ctx context.Context, id, lessonID string) (*Session, error) {
	lesson, err := s.lessons.Get(lessonID)
	if err != nil {
		return nil, err
	}
	return s.reset(id, lesson)
}

// Reset restores the current lesson's defaults
func (s *Service) Reset(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	sess, err := s.lookup(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	lesson, err := s.lessons.Get(sess.LessonID)
	if err != nil {
		return nil, err
	}
	return s.reset(id, lesson)
}

func (s *Service) reset(id string, lesson *domain.Lesson) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.enter(lesson)
	if err := s.store.Save(sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess.Clone(), nil
}

// Get returns a snapshot of a session
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

// UpdateSource replaces the code being edited. A run or grading already in
// flight keeps the source it started with.
func (s *Service) UpdateSource(ctx context.Context, id, source string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.Source = source
	sess.touch()
	if err := s.store.Save(sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return sess.Clone(), nil
}

// Run executes the session's code and shows the result in its output panel.
// It fails with ErrSessionBusy while another run or grading is in flight.
func (s *Service) Run(ctx context.Context, id string) (*RunOutcome, error) {
	s.mu.Lock()
	sess, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if !sess.Idle() {
		s.mu.Unlock()
		return nil, domain.ErrSessionBusy
	}
	sess.begin(StateRunning)
	gen, source := sess.Generation, sess.Source
	s.mu.Unlock()

	result := s.engine.Execute(ctx, source)

	s.mu.Lock()
	defer s.mu.Unlock()

	out := &RunOutcome{Result: result}
	if !s.current(sess, gen) {
		out.Stale = true
		out.Session = sess.Clone()
		return out, nil
	}

	sess.recordRun(result)
	s.persist(sess)
	out.Session = sess.Clone()
	return out, nil
}

// Submit grades the session's code. A second submission while one is in
// flight fails with ErrSubmissionInFlight and produces no report; one made
// during a run fails with ErrSessionBusy. The output panel is left as is.
func (s *Service) Submit(ctx context.Context, id string) (*SubmitOutcome, error) {
	s.mu.Lock()
	sess, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	switch sess.State {
	case StateGrading:
		s.mu.Unlock()
		return nil, domain.ErrSubmissionInFlight
	case StateRunning:
		s.mu.Unlock()
		return nil, domain.ErrSessionBusy
	}
	lesson, err := s.lessons.Get(sess.LessonID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	sess.begin(StateGrading)
	gen, source := sess.Generation, sess.Source
	s.mu.Unlock()

	report := s.engine.Submit(ctx, lesson, source)

	s.mu.Lock()
	out := &SubmitOutcome{Report: report}
	if !s.current(sess, gen) {
		out.Stale = true
		out.Session = sess.Clone()
		s.mu.Unlock()
		s.logger.Info("discarded stale grading report", "session", id, "lesson", lesson.ID)
		return out, nil
	}

	sess.recordSubmission(report)
	if err := s.store.SaveSubmission(sess.ID, sess.Submissions, report); err != nil {
		s.logger.Warn("failed to store grading report", "session", sess.ID, "error", err)
	}
	s.persist(sess)
	out.Session = sess.Clone()
	s.mu.Unlock()

	if report.Reward != nil && s.onComplete != nil {
		if err := s.onComplete(ctx, out.Session, report); err != nil {
			s.logger.Warn("failed to record completion", "session", id, "lesson", lesson.ID, "error", err)
		}
	}
	return out, nil
}

// Hint asks the tutor about the session's code. Hints are allowed in any
// state; a reply that arrives after the session changed lesson is returned
// as stale and not stored.
func (s *Service) Hint(ctx context.Context, id string) (*TutorReply, error) {
	s.mu.Lock()
	sess, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	lesson, err := s.lessons.Get(sess.LessonID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	gen, source := sess.Generation, sess.Source
	s.mu.Unlock()

	return s.reply(id, gen, s.engine.GetHint(ctx, source, lesson.Description))
}

// Explain asks the tutor to explain errText, or when empty the session's
// most relevant failure.
func (s *Service) Explain(ctx context.Context, id, errText string) (*TutorReply, error) {
	s.mu.Lock()
	sess, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if strings.TrimSpace(errText) == "" {
		errText = sess.ExplainTarget()
	}
	if errText == "" {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: nothing to explain", domain.ErrInvalidInput)
	}
	gen, source := sess.Generation, sess.Source
	s.mu.Unlock()

	return s.reply(id, gen, s.engine.ExplainError(ctx, source, errText))
}

func (s *Service) reply(id string, gen int, text string) (*TutorReply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	if !s.current(sess, gen) {
		return &TutorReply{Session: sess.Clone(), Text: text, Stale: true}, nil
	}

	sess.recordHint(text)
	s.persist(sess)
	return &TutorReply{Session: sess.Clone(), Text: text}, nil
}

// Close ends a session and removes it from storage
func (s *Service) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	if err := s.store.Delete(id); err != nil {
		return err
	}
	s.logger.Info("session closed", "session", id)
	return nil
}

// List returns all sessions, most recently updated first
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.store.List()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	result := make([]*Session, 0, len(stored))
	for _, sess := range stored {
		if live, ok := s.sessions[sess.ID]; ok {
			sess = live
		}
		result = append(result, sess.Clone())
	}
	return result, nil
}

// History returns every grading report of a session, oldest first
func (s *Service) History(ctx context.Context, id string) ([]domain.GradingReport, error) {
	s.mu.Lock()
	_, err := s.lookup(id)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.store.ListSubmissions(id)
}

// lookup returns the live session, loading it from the store on first use.
// Sessions persisted mid-run come back idle. Callers hold s.mu.
func (s *Service) lookup(id string) (*Session, error) {
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}

	sess, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	sess.State = StateIdle
	s.sessions[id] = sess
	return sess, nil
}

// current reports whether sess is still open and on the lesson generation
// an operation started with. Callers hold s.mu.
func (s *Service) current(sess *Session, gen int) bool {
	return s.sessions[sess.ID] == sess && sess.Generation == gen
}

func (s *Service) persist(sess *Session) {
	if err := s.store.Save(sess); err != nil {
		s.logger.Warn("failed to persist session", "session", sess.ID, "error", err)
	}
}
