package progress

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
)

// Fanout records to a primary recorder and then, best effort, mirrors the
// completion to secondary recorders and publishes it. Only the primary's
// failure is returned.
type Fanout struct {
	primary    Recorder
	mirrors    []Recorder
	publishers []Publisher
	logger     *slog.Logger
}

// FanoutOption configures a Fanout
type FanoutOption func(*Fanout)

// WithMirror adds a secondary recorder, e.g. the remote progress API
func WithMirror(r Recorder) FanoutOption {
	return func(f *Fanout) { f.mirrors = append(f.mirrors, r) }
}

// WithPublisher adds an event publisher
func WithPublisher(p Publisher) FanoutOption {
	return func(f *Fanout) { f.publishers = append(f.publishers, p) }
}

// WithFanoutLogger sets the logger used for secondary failures
func WithFanoutLogger(l *slog.Logger) FanoutOption {
	return func(f *Fanout) { f.logger = l }
}

// NewFanout creates a fan-out recorder around primary
func NewFanout(primary Recorder, opts ...FanoutOption) *Fanout {
	f := &Fanout{primary: primary, logger: slog.Default()}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Fanout) Record(ctx context.Context, c domain.Completion) error {
	if err := f.primary.Record(ctx, c); err != nil {
		return err
	}

	for _, m := range f.mirrors {
		if err := m.Record(ctx, c); err != nil {
			f.logger.Warn("failed to mirror completion",
				"user", c.UserID, "lesson", c.LessonID, "error", err)
		}
	}
	for _, p := range f.publishers {
		if err := p.PublishCompletion(ctx, c); err != nil {
			f.logger.Warn("failed to publish completion",
				"user", c.UserID, "lesson", c.LessonID, "error", err)
		}
	}

	f.logger.Info("completion recorded",
		"user", c.UserID, "lesson", c.LessonID, "xp", c.XPEarned, "gems", c.GemsEarned)
	return nil
}

// List reads from the primary recorder
func (f *Fanout) List(ctx context.Context, userID string) ([]domain.Completion, error) {
	return f.primary.List(ctx, userID)
}

// Close closes every publisher
func (f *Fanout) Close() error {
	var first error
	for _, p := range f.publishers {
		if err := p.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
