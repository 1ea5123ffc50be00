package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/session"
)

// SessionStore implements session persistence backed by SQLite.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new SQLite-backed session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Save persists a session (insert or update).
func (s *SessionStore) Save(sess *session.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, user_id, lesson_id, state, generation, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id=excluded.user_id, lesson_id=excluded.lesson_id,
			state=excluded.state, generation=excluded.generation,
			data=excluded.data, updated_at=excluded.updated_at`,
		sess.ID, sess.UserID, sess.LessonID, string(sess.State), sess.Generation,
		data, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*session.Session, error) {
	var data []byte
	err := s.db.QueryRow("SELECT data FROM sessions WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query session: %w", err)
	}
	return decodeSession(data)
}

// Delete removes a session and its submissions.
func (s *SessionStore) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// List returns all sessions, most recently updated first.
func (s *SessionStore) List() ([]*session.Session, error) {
	rows, err := s.db.Query("SELECT data FROM sessions ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess, err := decodeSession(data)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// SaveSubmission stores a grading report under the session.
func (s *SessionStore) SaveSubmission(sessionID string, seq int, report domain.GradingReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO submissions (session_id, seq, report) VALUES (?, ?, ?)
		ON CONFLICT(session_id, seq) DO UPDATE SET report=excluded.report`,
		sessionID, seq, data)
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// ListSubmissions returns the grading history of a session, oldest first.
func (s *SessionStore) ListSubmissions(sessionID string) ([]domain.GradingReport, error) {
	rows, err := s.db.Query("SELECT report FROM submissions WHERE session_id = ? ORDER BY seq", sessionID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	reports := []domain.GradingReport{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		var report domain.GradingReport
		if err := json.Unmarshal(data, &report); err != nil {
			return nil, fmt.Errorf("unmarshal submission: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func decodeSession(data []byte) (*session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}
