package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/progress"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ progress.Recorder = (*CompletionStore)(nil)

// CompletionStore implements the completion log using PostgreSQL
type CompletionStore struct {
	pool *pgxpool.Pool
}

// NewCompletionStore creates a new PostgreSQL completion store
func NewCompletionStore(pool *pgxpool.Pool) *CompletionStore {
	return &CompletionStore{pool: pool}
}

// Record inserts a completion; a repeated ID is ignored
func (s *CompletionStore) Record(ctx context.Context, c domain.Completion) error {
	var outcomes []byte
	if len(c.Outcomes) > 0 {
		data, err := json.Marshal(c.Outcomes)
		if err != nil {
			return fmt.Errorf("marshal outcomes: %w", err)
		}
		outcomes = data
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.RecordedAt.IsZero() {
		c.RecordedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO completions (id, user_id, lesson_id, status, xp_earned, gems_earned, outcomes, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query,
		c.ID, c.UserID, c.LessonID, string(c.Status),
		c.XPEarned, c.GemsEarned, outcomes, c.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert completion: %w", err)
	}
	return nil
}

// Get retrieves a completion by ID
func (s *CompletionStore) Get(ctx context.Context, id uuid.UUID) (*domain.Completion, error) {
	query := `
		SELECT id, user_id, lesson_id, status, xp_earned, gems_earned, outcomes, recorded_at
		FROM completions WHERE id = $1
	`
	c, err := scanCompletion(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCompletionNotFound
	}
	return c, err
}

// List returns the completions of userID oldest first; empty lists all
func (s *CompletionStore) List(ctx context.Context, userID string) ([]domain.Completion, error) {
	query := `
		SELECT id, user_id, lesson_id, status, xp_earned, gems_earned, outcomes, recorded_at
		FROM completions
		WHERE $1 = '' OR user_id = $1
		ORDER BY recorded_at, id
	`
	rows, err := s.pool.Query(ctx, query, userID)
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

func scanCompletion(row pgx.Row) (*domain.Completion, error) {
	var (
		c        domain.Completion
		status   string
		outcomes []byte
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.LessonID, &status, &c.XPEarned, &c.GemsEarned, &outcomes, &c.RecordedAt); err != nil {
		return nil, err
	}
	c.Status = domain.CompletionStatus(status)
	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &c.Outcomes); err != nil {
			return nil, fmt.Errorf("unmarshal outcomes: %w", err)
		}
	}
	return &c, nil
}
