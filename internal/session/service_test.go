package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
)

// fakeEngine records calls. When gate is set, every call first signals
// entered and then blocks until gate is closed.
type fakeEngine struct {
	mu       sync.Mutex
	executed []string
	submits  int
	hints    int
	explains []string

	result  domain.ExecutionResult
	passing bool
	hint    string

	entered chan struct{}
	gate    chan struct{}
}

func (f *fakeEngine) wait() {
	if f.gate == nil {
		return
	}
	f.entered <- struct{}{}
	<-f.gate
}

func (f *fakeEngine) Execute(ctx context.Context, source string) domain.ExecutionResult {
	f.mu.Lock()
	f.executed = append(f.executed, source)
	f.mu.Unlock()
	f.wait()
	return f.result
}

func (f *fakeEngine) Submit(ctx context.Context, lesson *domain.Lesson, source string) domain.GradingReport {
	f.mu.Lock()
	f.submits++
	f.mu.Unlock()
	f.wait()

	report := domain.GradingReport{LessonID: lesson.ID}
	for _, test := range lesson.Tests {
		o := domain.TestOutcome{Description: test.Description, Passed: f.passing}
		if !f.passing {
			o.Error = "AssertionError: " + test.Code
		}
		report.Outcomes = append(report.Outcomes, o)
	}
	if f.passing {
		report.Reward = &domain.RewardSignal{XP: lesson.Reward.XP, Gems: lesson.Reward.Gems}
	}
	return report
}

func (f *fakeEngine) GetHint(ctx context.Context, source, description string) string {
	f.mu.Lock()
	f.hints++
	f.mu.Unlock()
	f.wait()
	return f.hint
}

func (f *fakeEngine) ExplainError(ctx context.Context, source, errText string) string {
	f.mu.Lock()
	f.explains = append(f.explains, errText)
	f.mu.Unlock()
	f.wait()
	return "explained: " + errText
}

func (f *fakeEngine) block() {
	f.entered = make(chan struct{})
	f.gate = make(chan struct{})
}

type fakeLessons map[string]*domain.Lesson

func (f fakeLessons) Get(id string) (*domain.Lesson, error) {
	if l, ok := f[id]; ok {
		return l, nil
	}
	return nil, domain.ErrLessonNotFound
}

type fakeRecorder struct {
	mu          sync.Mutex
	completions []domain.Completion
	err         error
}

func (f *fakeRecorder) Record(ctx context.Context, c domain.Completion) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completions = append(f.completions, c)
	return f.err
}

func testLessons() fakeLessons {
	return fakeLessons{
		"control-flow": {
			ID:          "control-flow",
			Title:       "Control Flow",
			Description: "Grade scores",
			StarterCode: "def get_grade(score):\n    pass\n",
			Tests: []domain.LessonTest{
				{Description: "A", Code: `assert get_grade(95) == "A"`},
				{Description: "B", Code: `assert get_grade(85) == "B"`},
			},
			Reward: domain.Reward{XP: 100, Gems: 10},
		},
		"functions": {
			ID:          "functions",
			Title:       "Functions",
			StarterCode: "def average(xs):\n    pass\n",
			Tests:       []domain.LessonTest{{Description: "avg", Code: "assert average([2]) == 2"}},
			Reward:      domain.Reward{XP: 120, Gems: 12},
		},
	}
}

type fixture struct {
	svc      *Service
	store    *Store
	engine   *fakeEngine
	recorder *fakeRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	f := &fixture{
		store:    store,
		engine:   &fakeEngine{result: domain.ExecutionResult{Lines: []string{"F"}}, hint: "think about elif"},
		recorder: &fakeRecorder{},
	}
	f.svc = NewService(store, f.engine, testLessons(),
		WithCompletionHandler(RecordCompletions(f.recorder)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return f
}

func (f *fixture) open(t *testing.T, lessonID string) *Session {
	t.Helper()
	sess, err := f.svc.Open(context.Background(), lessonID, "user-1")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return sess
}

func TestService_Open(t *testing.T) {
	f := newFixture(t)
	sess := f.open(t, "control-flow")

	if sess.State != StateIdle {
		t.Errorf("State = %q, want idle", sess.State)
	}
	if sess.Output != domain.PlaceholderOutput {
		t.Errorf("Output = %q, want placeholder", sess.Output)
	}
	if sess.Source != testLessons()["control-flow"].StarterCode {
		t.Errorf("Source = %q, want starter code", sess.Source)
	}
	if len(sess.Outcomes) != 0 || sess.Hint != "" {
		t.Errorf("transient state not empty: %+v", sess)
	}

	if _, err := f.store.Get(sess.ID); err != nil {
		t.Errorf("session not persisted: %v", err)
	}

	if _, err := f.svc.Open(context.Background(), "missing", "u"); !errors.Is(err, domain.ErrLessonNotFound) {
		t.Errorf("Open(missing) error = %v, want ErrLessonNotFound", err)
	}
}

func TestService_OpenDefaultsUser(t *testing.T) {
	f := newFixture(t)
	f.engine.passing = true

	sess, err := f.svc.Open(context.Background(), "control-flow", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if sess.UserID != DefaultUserID {
		t.Errorf("UserID = %q, want %q", sess.UserID, DefaultUserID)
	}

	if _, err := f.svc.Submit(context.Background(), sess.ID); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if len(f.recorder.completions) != 1 || f.recorder.completions[0].UserID != DefaultUserID {
		t.Errorf("completions = %+v, want one for %q", f.recorder.completions, DefaultUserID)
	}

	configured := NewService(f.store, f.engine, testLessons(),
		WithDefaultUser("ada"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	sess, err = configured.Open(context.Background(), "functions", "")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if sess.UserID != "ada" {
		t.Errorf("UserID = %q, want ada", sess.UserID)
	}
}

func TestService_Run(t *testing.T) {
	tests := []struct {
		name       string
		result     domain.ExecutionResult
		wantOutput string
		wantErr    string
	}{
		{"lines", domain.ExecutionResult{Lines: []string{"B", "C"}}, "B\nC", ""},
		{"no output", domain.ExecutionResult{}, domain.NoOutputMessage, ""},
		{"fault", domain.ExecutionResult{Error: "NameError: name 'x' is not defined"}, "Error: NameError: name 'x' is not defined", "NameError: name 'x' is not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.engine.result = tt.result
			sess := f.open(t, "control-flow")

			if _, err := f.svc.UpdateSource(context.Background(), sess.ID, "print('x')"); err != nil {
				t.Fatalf("UpdateSource() error = %v", err)
			}
			out, err := f.svc.Run(context.Background(), sess.ID)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}

			if out.Session.Output != tt.wantOutput {
				t.Errorf("Output = %q, want %q", out.Session.Output, tt.wantOutput)
			}
			if out.Session.LastError != tt.wantErr {
				t.Errorf("LastError = %q, want %q", out.Session.LastError, tt.wantErr)
			}
			if out.Session.Runs != 1 || out.Session.State != StateIdle {
				t.Errorf("Runs = %d State = %q", out.Session.Runs, out.Session.State)
			}
			if f.engine.executed[0] != "print('x')" {
				t.Errorf("executed %q, want the updated source", f.engine.executed[0])
			}
		})
	}
}

func TestService_Submit(t *testing.T) {
	t.Run("all passing records completion", func(t *testing.T) {
		f := newFixture(t)
		f.engine.passing = true
		sess := f.open(t, "control-flow")

		out, err := f.svc.Submit(context.Background(), sess.ID)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if len(out.Session.Outcomes) != 2 || !out.Session.Completed {
			t.Errorf("session after submit = %+v", out.Session)
		}
		if out.Session.Output != domain.PlaceholderOutput {
			t.Errorf("Output = %q, submit must not touch the output panel", out.Session.Output)
		}

		if len(f.recorder.completions) != 1 {
			t.Fatalf("recorded %d completions, want 1", len(f.recorder.completions))
		}
		c := f.recorder.completions[0]
		if c.UserID != "user-1" || c.LessonID != "control-flow" || c.XPEarned != 100 || c.GemsEarned != 10 {
			t.Errorf("completion = %+v", c)
		}

		history, err := f.svc.History(context.Background(), sess.ID)
		if err != nil || len(history) != 1 {
			t.Errorf("History() = %v, %v", history, err)
		}
	})

	t.Run("failing records nothing", func(t *testing.T) {
		f := newFixture(t)
		sess := f.open(t, "control-flow")

		out, err := f.svc.Submit(context.Background(), sess.ID)
		if err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
		if out.Report.Reward != nil || out.Session.Completed {
			t.Error("failing submission rewarded")
		}
		if out.Session.ExplainTarget() != `AssertionError: assert get_grade(95) == "A"` {
			t.Errorf("ExplainTarget() = %q", out.Session.ExplainTarget())
		}
		if len(f.recorder.completions) != 0 {
			t.Errorf("recorded %d completions", len(f.recorder.completions))
		}
	})

	t.Run("recorder failure does not fail submit", func(t *testing.T) {
		f := newFixture(t)
		f.engine.passing = true
		f.recorder.err = errors.New("backend down")
		sess := f.open(t, "control-flow")

		if _, err := f.svc.Submit(context.Background(), sess.ID); err != nil {
			t.Errorf("Submit() error = %v", err)
		}
	})
}

func TestService_SubmitInFlight(t *testing.T) {
	f := newFixture(t)
	f.engine.passing = true
	sess := f.open(t, "control-flow")
	f.engine.block()

	done := make(chan *SubmitOutcome)
	go func() {
		out, err := f.svc.Submit(context.Background(), sess.ID)
		if err != nil {
			t.Errorf("first Submit() error = %v", err)
		}
		done <- out
	}()
	<-f.engine.entered

	if _, err := f.svc.Submit(context.Background(), sess.ID); !errors.Is(err, domain.ErrSubmissionInFlight) {
		t.Errorf("second Submit() error = %v, want ErrSubmissionInFlight", err)
	}
	if _, err := f.svc.Run(context.Background(), sess.ID); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("Run() during grading error = %v, want ErrSessionBusy", err)
	}
	got, _ := f.svc.Get(context.Background(), sess.ID)
	if got.State != StateGrading {
		t.Errorf("State = %q, want grading", got.State)
	}

	close(f.engine.gate)
	out := <-done

	if f.engine.submits != 1 {
		t.Errorf("engine graded %d times, want 1", f.engine.submits)
	}
	if len(f.recorder.completions) != 1 {
		t.Errorf("recorded %d completions, want 1", len(f.recorder.completions))
	}
	if out.Session.State != StateIdle || out.Session.Submissions != 1 {
		t.Errorf("session after grading = %+v", out.Session)
	}
}

func TestService_RunInFlight(t *testing.T) {
	f := newFixture(t)
	sess := f.open(t, "control-flow")
	f.engine.block()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := f.svc.Run(context.Background(), sess.ID); err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()
	<-f.engine.entered

	if _, err := f.svc.Run(context.Background(), sess.ID); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("second Run() error = %v, want ErrSessionBusy", err)
	}
	if _, err := f.svc.Submit(context.Background(), sess.ID); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("Submit() during run error = %v, want ErrSessionBusy", err)
	}

	close(f.engine.gate)
	<-done

	if len(f.engine.executed) != 1 {
		t.Errorf("engine executed %d times, want 1", len(f.engine.executed))
	}
}

func TestService_LoadIsHardReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, "control-flow")

	f.svc.UpdateSource(ctx, sess.ID, "edited")
	f.svc.Run(ctx, sess.ID)
	f.svc.Submit(ctx, sess.ID)
	f.svc.Hint(ctx, sess.ID)

	loaded, err := f.svc.Load(ctx, sess.ID, "functions")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.LessonID != "functions" || loaded.Source != testLessons()["functions"].StarterCode {
		t.Errorf("lesson not loaded: %+v", loaded)
	}
	if loaded.Output != domain.PlaceholderOutput || len(loaded.Outcomes) != 0 || loaded.Hint != "" || loaded.LastError != "" {
		t.Errorf("transient state survived reset: %+v", loaded)
	}
	if loaded.Generation != sess.Generation+1 {
		t.Errorf("Generation = %d, want %d", loaded.Generation, sess.Generation+1)
	}

	if _, err := f.svc.Load(ctx, sess.ID, "missing"); !errors.Is(err, domain.ErrLessonNotFound) {
		t.Errorf("Load(missing) error = %v", err)
	}

	reset, err := f.svc.Reset(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if reset.LessonID != "functions" || reset.Generation != loaded.Generation+1 {
		t.Errorf("Reset() = %+v", reset)
	}
}

func TestService_StaleReplies(t *testing.T) {
	ctx := context.Background()

	t.Run("hint", func(t *testing.T) {
		f := newFixture(t)
		sess := f.open(t, "control-flow")
		f.engine.block()

		done := make(chan *TutorReply)
		go func() {
			reply, err := f.svc.Hint(ctx, sess.ID)
			if err != nil {
				t.Errorf("Hint() error = %v", err)
			}
			done <- reply
		}()
		<-f.engine.entered
		if _, err := f.svc.Load(ctx, sess.ID, "functions"); err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		close(f.engine.gate)

		reply := <-done
		if !reply.Stale {
			t.Error("reply not flagged stale")
		}
		if reply.Session.Hint != "" {
			t.Errorf("stale hint stored: %q", reply.Session.Hint)
		}
	})

	t.Run("submission", func(t *testing.T) {
		f := newFixture(t)
		f.engine.passing = true
		sess := f.open(t, "control-flow")
		f.engine.block()

		done := make(chan *SubmitOutcome)
		go func() {
			out, _ := f.svc.Submit(ctx, sess.ID)
			done <- out
		}()
		<-f.engine.entered
		f.svc.Load(ctx, sess.ID, "functions")
		close(f.engine.gate)

		out := <-done
		if !out.Stale {
			t.Error("report not flagged stale")
		}
		if len(out.Session.Outcomes) != 0 || out.Session.Completed {
			t.Errorf("stale report applied: %+v", out.Session)
		}
		if len(f.recorder.completions) != 0 {
			t.Error("stale report recorded a completion")
		}
	})
}

func TestService_HintAndExplain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, "control-flow")

	reply, err := f.svc.Hint(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Hint() error = %v", err)
	}
	if reply.Text != "think about elif" || reply.Session.Hint != reply.Text || reply.Session.HintCount != 1 {
		t.Errorf("Hint() = %+v", reply)
	}

	if _, err := f.svc.Explain(ctx, sess.ID, ""); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Explain() with nothing to explain error = %v, want ErrInvalidInput", err)
	}

	reply, err = f.svc.Explain(ctx, sess.ID, "ZeroDivisionError: division by zero")
	if err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if reply.Text != "explained: ZeroDivisionError: division by zero" {
		t.Errorf("Explain() text = %q", reply.Text)
	}

	f.svc.Submit(ctx, sess.ID)
	if _, err := f.svc.Explain(ctx, sess.ID, ""); err != nil {
		t.Fatalf("Explain() error = %v", err)
	}
	if got := f.engine.explains[len(f.engine.explains)-1]; got != `AssertionError: assert get_grade(95) == "A"` {
		t.Errorf("explained %q, want the first failing test", got)
	}
}

func TestService_CloseAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.open(t, "control-flow")
	b := f.open(t, "functions")

	list, err := f.svc.List(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("List() = %d sessions, %v", len(list), err)
	}

	if err := f.svc.Close(ctx, a.ID); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := f.svc.Get(ctx, a.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Get() after Close error = %v", err)
	}
	if err := f.svc.Close(ctx, a.ID); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := f.svc.Run(ctx, "nope"); !errors.Is(err, domain.ErrSessionNotFound) {
		t.Errorf("Run(unknown) error = %v", err)
	}

	list, _ = f.svc.List(ctx)
	if len(list) != 1 || list[0].ID != b.ID {
		t.Errorf("List() after Close = %+v", list)
	}
}

func TestService_SurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sess := f.open(t, "control-flow")
	f.svc.UpdateSource(ctx, sess.ID, "kept")

	// Simulate a crash mid-run.
	stored, _ := f.store.Get(sess.ID)
	stored.State = StateRunning
	f.store.Save(stored)

	restarted := NewService(f.store, f.engine, testLessons())
	got, err := restarted.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get() after restart error = %v", err)
	}
	if got.Source != "kept" || got.State != StateIdle {
		t.Errorf("restored session = %+v", got)
	}
	if _, err := restarted.Run(ctx, sess.ID); err != nil {
		t.Errorf("Run() after restart error = %v", err)
	}
}
