package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/progress"
)

var _ progress.Publisher = (*Producer)(nil)

// Producer publishes completion events to RabbitMQ
type Producer struct {
	conn   *Connection
	source string
}

// NewProducer creates a producer; source tags every event it publishes
func NewProducer(conn *Connection, source string) *Producer {
	return &Producer{conn: conn, source: source}
}

// PublishCompletion publishes c to the completion queue
func (p *Producer) PublishCompletion(ctx context.Context, c domain.Completion) error {
	if err := p.conn.PublishJSON(ctx, CompletionQueueName, NewCompletionEvent(c, p.source)); err != nil {
		return fmt.Errorf("failed to publish completion: %w", err)
	}

	slog.Debug("published completion",
		"completion_id", c.ID,
		"user_id", c.UserID,
		"lesson_id", c.LessonID,
	)
	return nil
}

// Close closes the underlying connection
func (p *Producer) Close() error {
	return p.conn.Close()
}
