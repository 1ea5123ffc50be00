// Package engine runs student code and grades it against lesson tests.
//
// Every public operation has a non-failing contract: execution faults,
// interpreter failures and collaborator errors all come back as values.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/runner"
	"github.com/felixgeelhaar/pythonquest/internal/tutor"
)

// Tutor is the hint and explanation collaborator.
type Tutor interface {
	Hint(ctx context.Context, code, description string) string
	Explain(ctx context.Context, code, errText string) string
}

// Engine is the lesson execution and grading engine. It keeps no
// per-lesson state; the console serializes executions.
type Engine struct {
	interp       runner.Interpreter
	tutor        Tutor
	console      *runner.Console
	logger       *slog.Logger
	gradingDelay time.Duration
	reward       domain.Reward
}

// Option configures an Engine
type Option func(*Engine)

// WithConsole sets the shared print sink. Engines that share a console
// never capture concurrently.
func WithConsole(c *runner.Console) Option {
	return func(e *Engine) { e.console = c }
}

// WithLogger sets the engine logger
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithGradingDelay defers grading so interactive surfaces can show a
// working indicator. It has no effect on results.
func WithGradingDelay(d time.Duration) Option {
	return func(e *Engine) { e.gradingDelay = d }
}

// WithDefaultReward sets the reward granted by lessons that declare none.
// A zero reward keeps domain.DefaultReward.
func WithDefaultReward(r domain.Reward) Option {
	return func(e *Engine) {
		if !r.IsZero() {
			e.reward = r
		}
	}
}

// New creates an engine. A nil tutor disables hints and explanations.
func New(interp runner.Interpreter, t Tutor, opts ...Option) *Engine {
	e := &Engine{
		interp: interp,
		tutor:  t,
		logger: slog.Default(),
		reward: domain.DefaultReward,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.console == nil {
		e.console = runner.NewConsole(io.Discard)
	}
	if e.tutor == nil {
		e.tutor = tutor.New(nil)
	}
	return e
}

// Interpreter returns the backend name in use.
func (e *Engine) Interpreter() string {
	if e.interp == nil {
		return ""
	}
	return e.interp.Name()
}

// Execute runs source once and returns what it printed, or the message of
// the fault that stopped it.
func (e *Engine) Execute(ctx context.Context, source string) domain.ExecutionResult {
	start := time.Now()
	lines, err := e.run(ctx, source)
	result := domain.ExecutionResult{Duration: time.Since(start)}
	if err != nil {
		result.Error = e.describe(err)
		return result
	}
	result.Lines = lines
	return result
}

// Submit grades source against every test of lesson, in declared order.
// Each test runs source followed by the test snippet in a fresh process.
// The report carries a reward only when every test passed.
func (e *Engine) Submit(ctx context.Context, lesson *domain.Lesson, source string) domain.GradingReport {
	report := domain.GradingReport{
		LessonID:  lesson.ID,
		Outcomes:  make([]domain.TestOutcome, 0, len(lesson.Tests)),
		StartedAt: time.Now(),
	}

	if e.gradingDelay > 0 {
		select {
		case <-time.After(e.gradingDelay):
		case <-ctx.Done():
		}
	}

	for _, test := range lesson.Tests {
		outcome := domain.TestOutcome{Description: test.Description, Passed: true}
		if _, err := e.run(ctx, source+"\n"+test.Code); err != nil {
			outcome.Passed = false
			outcome.Error = e.describe(err)
		}
		report.Outcomes = append(report.Outcomes, outcome)
	}

	if report.AllPassed() {
		reward := lesson.Reward
		if reward.IsZero() {
			reward = e.reward
		}
		report.Reward = &domain.RewardSignal{XP: reward.XP, Gems: reward.Gems}
	}
	report.Duration = time.Since(report.StartedAt)

	e.logger.Info("submission graded",
		"lesson", lesson.ID,
		"passed", report.Passed(),
		"total", len(report.Outcomes),
		"rewarded", report.Reward != nil,
		"duration", report.Duration)

	return report
}

// GetHint asks the tutor for a hint. It always returns displayable text.
func (e *Engine) GetHint(ctx context.Context, source, description string) string {
	return e.tutor.Hint(ctx, source, description)
}

// ExplainError asks the tutor to explain errText. It always returns
// displayable text.
func (e *Engine) ExplainError(ctx context.Context, source, errText string) string {
	return e.tutor.Explain(ctx, source, errText)
}

// run executes source with the console captured for the duration of the
// call. The capture is released on every path, including panics.
func (e *Engine) run(ctx context.Context, source string) (lines []string, err error) {
	if e.interp == nil {
		return nil, domain.ErrInterpreterUnavailable
	}

	capture, err := e.console.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer capture.Release()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("interpreter panicked", "interpreter", e.interp.Name(), "panic", r)
			err = fmt.Errorf("interpreter failure: %v", r)
		}
	}()

	err = e.interp.Run(ctx, source, e.console)
	return capture.Lines(), err
}

// describe turns any run error into the message shown to the student.
func (e *Engine) describe(err error) string {
	var fault *runner.ExecutionFault
	if errors.As(err, &fault) {
		return fault.Error()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "execution cancelled"
	}
	e.logger.Error("execution infrastructure failure", "error", err)
	return err.Error()
}
