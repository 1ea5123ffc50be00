package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// CompletionStore is the completion log backed by SQLite.
type CompletionStore struct {
	db *DB
}

// NewCompletionStore creates a SQLite-backed completion store.
func NewCompletionStore(db *DB) *CompletionStore {
	return &CompletionStore{db: db}
}

// Record inserts a completion. Recording the same ID twice is a no-op.
func (s *CompletionStore) Record(ctx context.Context, c domain.Completion) error {
	outcomes, err := outcomesColumn(c.Outcomes)
	if err != nil {
		return err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.RecordedAt.IsZero() {
		c.RecordedAt = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO completions (id, user_id, lesson_id, status, xp_earned, gems_earned, outcomes, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		c.ID.String(), c.UserID, c.LessonID, string(c.Status),
		c.XPEarned, c.GemsEarned, outcomes, c.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

// Get retrieves a completion by ID
func (s *CompletionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Completion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, lesson_id, status, xp_earned, gems_earned, outcomes, recorded_at
		FROM completions WHERE id = ?`, id.String())

	c, err := scanCompletion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCompletionNotFound
	}
	return c, err
}

// List returns the completions of userID oldest first; an empty userID
// lists everyone's.
func (s *CompletionStore) List(ctx context.Context, userID string) ([]domain.Completion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, lesson_id, status, xp_earned, gems_earned, outcomes, recorded_at
		FROM completions
		WHERE ? = '' OR user_id = ?
		ORDER BY recorded_at, rowid`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query completions: %w", err)
	}
	defer rows.Close()

	completions := []domain.Completion{}
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		completions = append(completions, *c)
	}
	return completions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCompletion(row scanner) (*domain.Completion, error) {
	var (
		c        domain.Completion
		id       string
		status   string
		outcomes pqtype.NullRawMessage
	)
	if err := row.Scan(&id, &c.UserID, &c.LessonID, &status, &c.XPEarned, &c.GemsEarned, &outcomes, &c.RecordedAt); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse completion id: %w", err)
	}
	c.ID = parsed
	c.Status = domain.CompletionStatus(status)

	if outcomes.Valid {
		if err := json.Unmarshal(outcomes.RawMessage, &c.Outcomes); err != nil {
			return nil, fmt.Errorf("unmarshal outcomes: %w", err)
		}
	}
	return &c, nil
}

func outcomesColumn(outcomes []domain.TestOutcome) (pqtype.NullRawMessage, error) {
	if len(outcomes) == 0 {
		return pqtype.NullRawMessage{}, nil
	}
	data, err := json.Marshal(outcomes)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("marshal outcomes: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: data, Valid: true}, nil
}
