// Package progress records lesson completions and fans them out to the
// configured stores and event transports.
package progress

import (
	"context"
	"sort"
	"sync"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
)

// Recorder stores and lists completions
type Recorder interface {
	Record(ctx context.Context, completion domain.Completion) error
	List(ctx context.Context, userID string) ([]domain.Completion, error)
}

// Publisher emits completion events to a message transport
type Publisher interface {
	PublishCompletion(ctx context.Context, completion domain.Completion) error
	Close() error
}

// Totals sums the completions recorded for userID
func Totals(ctx context.Context, rec Recorder, userID string) (domain.Totals, error) {
	completions, err := rec.List(ctx, userID)
	if err != nil {
		return domain.Totals{}, err
	}
	return domain.Summarize(userID, completions), nil
}

// MemoryRecorder keeps completions in process memory.
type MemoryRecorder struct {
	mu          sync.RWMutex
	completions []domain.Completion
}

// NewMemoryRecorder creates an empty in-memory recorder
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

func (m *MemoryRecorder) Record(ctx context.Context, c domain.Completion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completions = append(m.completions, c)
	return nil
}

// List returns the completions of userID oldest first; an empty userID
// lists everyone's.
func (m *MemoryRecorder) List(ctx context.Context, userID string) ([]domain.Completion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.Completion, 0, len(m.completions))
	for _, c := range m.completions {
		if userID == "" || c.UserID == userID {
			result = append(result, c)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].RecordedAt.Before(result[j].RecordedAt)
	})
	return result, nil
}
