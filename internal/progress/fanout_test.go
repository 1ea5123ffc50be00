package progress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
)

type failingRecorder struct{ err error }

func (f failingRecorder) Record(ctx context.Context, c domain.Completion) error { return f.err }
func (f failingRecorder) List(ctx context.Context, userID string) ([]domain.Completion, error) {
	return nil, f.err
}

type recordingPublisher struct {
	published []domain.Completion
	err       error
	closed    bool
}

func (p *recordingPublisher) PublishCompletion(ctx context.Context, c domain.Completion) error {
	p.published = append(p.published, c)
	return p.err
}

func (p *recordingPublisher) Close() error {
	p.closed = true
	return nil
}

func quiet() FanoutOption {
	return WithFanoutLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestFanout_Record(t *testing.T) {
	primary := NewMemoryRecorder()
	mirror := NewMemoryRecorder()
	pub := &recordingPublisher{}
	broken := &recordingPublisher{err: errors.New("broker down")}

	f := NewFanout(primary,
		WithMirror(mirror),
		WithMirror(failingRecorder{err: errors.New("api down")}),
		WithPublisher(broken),
		WithPublisher(pub),
		quiet())

	c := completion("u1", "control-flow", 100, 10)
	if err := f.Record(context.Background(), c); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	for name, rec := range map[string]Recorder{"primary": primary, "mirror": mirror} {
		got, _ := rec.List(context.Background(), "u1")
		if len(got) != 1 || got[0].ID != c.ID {
			t.Errorf("%s holds %+v", name, got)
		}
	}
	if len(pub.published) != 1 || len(broken.published) != 1 {
		t.Error("completion not handed to every publisher")
	}

	if err := f.Close(); err != nil || !pub.closed {
		t.Errorf("Close() = %v, closed = %v", err, pub.closed)
	}
}

func TestFanout_PrimaryFailureStops(t *testing.T) {
	pub := &recordingPublisher{}
	f := NewFanout(failingRecorder{err: errors.New("disk full")}, WithPublisher(pub), quiet())

	if err := f.Record(context.Background(), completion("u", "l", 1, 1)); err == nil {
		t.Fatal("Record() error = nil, want primary failure")
	}
	if len(pub.published) != 0 {
		t.Error("published a completion the primary did not store")
	}
}

func TestTotals(t *testing.T) {
	rec := NewMemoryRecorder()
	ctx := context.Background()
	rec.Record(ctx, completion("u1", "control-flow", 100, 10))
	rec.Record(ctx, completion("u1", "control-flow", 100, 10))
	rec.Record(ctx, completion("u1", "functions", 120, 12))
	rec.Record(ctx, completion("u2", "functions", 120, 12))

	totals, err := Totals(ctx, rec, "u1")
	if err != nil {
		t.Fatalf("Totals() error = %v", err)
	}
	want := domain.Totals{UserID: "u1", XP: 320, Gems: 32, LessonsCompleted: 2}
	if totals != want {
		t.Errorf("Totals() = %+v, want %+v", totals, want)
	}
}

func TestMemoryRecorder_ListOrder(t *testing.T) {
	rec := NewMemoryRecorder()
	later := completion("u", "b", 1, 1)
	earlier := completion("u", "a", 1, 1)
	earlier.RecordedAt = later.RecordedAt.Add(-time.Minute)
	rec.Record(context.Background(), later)
	rec.Record(context.Background(), earlier)

	got, _ := rec.List(context.Background(), "u")
	if got[0].LessonID != "a" {
		t.Errorf("List() not ordered by RecordedAt: %+v", got)
	}
}
