package session

import (
	"errors"
	"fmt"
	"sort"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/storage/local"
)

const (
	collectionSessions = "sessions"
	subdirSubmissions  = "submissions"
)

// Store persists sessions and their grading history as JSON files.
type Store struct {
	store *local.Store
}

// NewStore creates a session store rooted at basePath
func NewStore(basePath string) (*Store, error) {
	store, err := local.NewStore(basePath)
	if err != nil {
		return nil, fmt.Errorf("create local store: %w", err)
	}
	return &Store{store: store}, nil
}

// Save persists a session
func (s *Store) Save(session *Session) error {
	return s.store.Save(collectionSessions, session.ID, session)
}

// Get retrieves a session by ID
func (s *Store) Get(id string) (*Session, error) {
	var session Session
	if err := s.store.Load(collectionSessions, id, &session); err != nil {
		return nil, translate(err)
	}
	return &session, nil
}

// Delete removes a session and its history
func (s *Store) Delete(id string) error {
	return translate(s.store.Delete(collectionSessions, id))
}

// List returns every stored session, most recently updated first
func (s *Store) List() ([]*Session, error) {
	ids, err := s.store.List(collectionSessions)
	if err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(ids))
	for _, id := range ids {
		session, err := s.Get(id)
		if err != nil {
			continue
		}
		sessions = append(sessions, session)
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// SaveSubmission appends a grading report to the session history. Reports
// are named by submission number so ListSubmissions returns them in order.
func (s *Store) SaveSubmission(sessionID string, seq int, report domain.GradingReport) error {
	return s.store.SaveDir(collectionSessions, sessionID, subdirSubmissions, fmt.Sprintf("%06d", seq), report)
}

// ListSubmissions returns the grading history of a session, oldest first
func (s *Store) ListSubmissions(sessionID string) ([]domain.GradingReport, error) {
	names, err := s.store.ListDir(collectionSessions, sessionID, subdirSubmissions)
	if err != nil {
		return nil, translate(err)
	}

	reports := make([]domain.GradingReport, 0, len(names))
	for _, name := range names {
		var report domain.GradingReport
		if err := s.store.LoadDir(collectionSessions, sessionID, subdirSubmissions, name, &report); err != nil {
			return nil, translate(err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

func translate(err error) error {
	if errors.Is(err, local.ErrNotFound) || errors.Is(err, local.ErrInvalidID) {
		return domain.ErrSessionNotFound
	}
	return err
}
