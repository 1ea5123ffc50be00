package mcp

import (
	"context"
	"fmt"
	"strings"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/progress"
	"github.com/felixgeelhaar/pythonquest/internal/session"
)

// Engine runs code and answers tutor requests outside a session
type Engine interface {
	Execute(ctx context.Context, source string) domain.ExecutionResult
	GetHint(ctx context.Context, source, description string) string
	ExplainError(ctx context.Context, source, errText string) string
}

// LessonCatalog resolves and lists lessons
type LessonCatalog interface {
	Get(id string) (*domain.Lesson, error)
	List() []*domain.Lesson
}

// Server wraps the MCP server with PythonQuest functionality
type Server struct {
	mcpServer *server.Server
	engine    Engine
	lessons   LessonCatalog
	sessions  session.SessionService
	recorder  progress.Recorder
}

// Config contains configuration for the MCP server
type Config struct {
	Version  string
	Engine   Engine
	Lessons  LessonCatalog
	Sessions session.SessionService
	Recorder progress.Recorder
}

// NewServer creates a new MCP server for PythonQuest
func NewServer(cfg Config) *Server {
	s := &Server{
		engine:   cfg.Engine,
		lessons:  cfg.Lessons,
		sessions: cfg.Sessions,
		recorder: cfg.Recorder,
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "pythonquest",
		Version: version,
	}, server.WithInstructions(`
PythonQuest runs Python lessons: a starter program, a task description and
assertion tests that a submission must pass to earn XP and gems.

Typical flow:
- pythonquest_lessons: list the lesson catalog
- pythonquest_start: open a session on a lesson
- pythonquest_run: run the session's code (optionally replacing it first)
- pythonquest_submit: grade the code against every lesson test
- pythonquest_hint / pythonquest_explain: ask the tutor for guidance
- pythonquest_stop: end the session

The tutor never hands out the full solution.
`))

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("pythonquest_lessons").
		Description("List available lessons.").
		Handler(s.handleLessons)

	s.mcpServer.Tool("pythonquest_lesson").
		Description("Show a lesson's description, starter code and tests.").
		Handler(s.handleLesson)

	s.mcpServer.Tool("pythonquest_start").
		Description("Open a session on a lesson, seeded with its starter code.").
		Handler(s.handleStart)

	s.mcpServer.Tool("pythonquest_run").
		Description("Run Python code. With a session ID the session's code is run and its output panel updated.").
		Handler(s.handleRun)

	s.mcpServer.Tool("pythonquest_submit").
		Description("Grade the session's code against the lesson tests.").
		Handler(s.handleSubmit)

	s.mcpServer.Tool("pythonquest_hint").
		Description("Get a tutor hint for the session's code, without the solution.").
		Handler(s.handleHint)

	s.mcpServer.Tool("pythonquest_explain").
		Description("Explain an error in plain language. Defaults to the session's latest failure.").
		Handler(s.handleExplain)

	s.mcpServer.Tool("pythonquest_progress").
		Description("Show a learner's completions and XP and gem totals.").
		Handler(s.handleProgress)

	s.mcpServer.Tool("pythonquest_stop").
		Description("End a session.").
		Handler(s.handleStop)
}

// Input/Output types for tools

type LessonsInput struct{}

type LessonsOutput struct {
	Lessons []domain.Summary `json:"lessons"`
}

type LessonInput struct {
	LessonID string `json:"lesson_id" jsonschema:"description=Lesson ID such as control-flow"`
}

type LessonOutput struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	StarterCode string   `json:"starter_code"`
	Tests       []string `json:"tests"`
	XP          int      `json:"xp"`
	Gems        int      `json:"gems"`
}

type StartInput struct {
	LessonID string `json:"lesson_id" jsonschema:"description=Lesson ID to open"`
	UserID   string `json:"user_id,omitempty" jsonschema:"description=Learner ID that completions are recorded for"`
}

type StartOutput struct {
	SessionID   string `json:"session_id"`
	LessonID    string `json:"lesson_id"`
	StarterCode string `json:"starter_code"`
	Message     string `json:"message"`
}

type RunInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Session ID from pythonquest_start"`
	Code      string `json:"code,omitempty" jsonschema:"description=Python source. Replaces the session's code when a session is given"`
}

type RunOutput struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
	Stale  bool   `json:"stale,omitempty"`
}

type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"description=Session ID from pythonquest_start"`
	Code      string `json:"code,omitempty" jsonschema:"description=Optional Python source to store before the operation"`
}

type SubmitOutput struct {
	Passed  int                  `json:"passed"`
	Total   int                  `json:"total"`
	Results []domain.TestOutcome `json:"results"`
	XP      int                  `json:"xp,omitempty"`
	Gems    int                  `json:"gems,omitempty"`
	Summary string               `json:"summary"`
}

type HintInput struct {
	SessionID   string `json:"session_id,omitempty" jsonschema:"description=Session ID from pythonquest_start"`
	Code        string `json:"code,omitempty" jsonschema:"description=Python source when no session is given"`
	Description string `json:"description,omitempty" jsonschema:"description=Task description when no session is given"`
}

type ExplainInput struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Session ID from pythonquest_start"`
	Code      string `json:"code,omitempty" jsonschema:"description=Python source when no session is given"`
	Error     string `json:"error,omitempty" jsonschema:"description=Error or failing test message to explain"`
}

type TutorOutput struct {
	Content string `json:"content"`
	Stale   bool   `json:"stale,omitempty"`
}

type ProgressInput struct {
	UserID string `json:"user_id" jsonschema:"description=Learner ID"`
}

type ProgressOutput struct {
	Totals  domain.Totals `json:"totals"`
	Lessons []string      `json:"lessons"`
}

type StopInput struct {
	SessionID string `json:"session_id" jsonschema:"description=Session ID to end"`
}

type StopOutput struct {
	Message string `json:"message"`
}

// Tool handlers

func (s *Server) handleLessons(ctx context.Context, input LessonsInput) (LessonsOutput, error) {
	lessons := s.lessons.List()
	out := LessonsOutput{Lessons: make([]domain.Summary, len(lessons))}
	for i, l := range lessons {
		out.Lessons[i] = l.Summarize()
	}
	return out, nil
}

func (s *Server) handleLesson(ctx context.Context, input LessonInput) (LessonOutput, error) {
	lesson, err := s.lessons.Get(input.LessonID)
	if err != nil {
		return LessonOutput{}, err
	}

	tests := make([]string, len(lesson.Tests))
	for i, t := range lesson.Tests {
		tests[i] = t.Description
	}
	return LessonOutput{
		ID:          lesson.ID,
		Title:       lesson.Title,
		Description: lesson.Description,
		StarterCode: lesson.StarterCode,
		Tests:       tests,
		XP:          lesson.Reward.XP,
		Gems:        lesson.Reward.Gems,
	}, nil
}

func (s *Server) handleStart(ctx context.Context, input StartInput) (StartOutput, error) {
	sess, err := s.sessions.Open(ctx, input.LessonID, input.UserID)
	if err != nil {
		return StartOutput{}, fmt.Errorf("failed to open session: %w", err)
	}

	return StartOutput{
		SessionID:   sess.ID,
		LessonID:    sess.LessonID,
		StarterCode: sess.Source,
		Message:     "Session started. Edit the starter code, run it, then submit.",
	}, nil
}

func (s *Server) handleRun(ctx context.Context, input RunInput) (RunOutput, error) {
	if input.SessionID == "" {
		if strings.TrimSpace(input.Code) == "" {
			return RunOutput{}, fmt.Errorf("%w: code or session_id is required", domain.ErrInvalidInput)
		}
		result := s.engine.Execute(ctx, input.Code)
		return RunOutput{Output: result.Text(), Error: result.Error}, nil
	}

	if err := s.storeCode(ctx, input.SessionID, input.Code); err != nil {
		return RunOutput{}, err
	}
	run, err := s.sessions.Run(ctx, input.SessionID)
	if err != nil {
		return RunOutput{}, fmt.Errorf("run failed: %w", err)
	}

	return RunOutput{
		Output: run.Result.Text(),
		Error:  run.Result.Error,
		Stale:  run.Stale,
	}, nil
}

func (s *Server) handleSubmit(ctx context.Context, input SessionInput) (SubmitOutput, error) {
	if err := s.storeCode(ctx, input.SessionID, input.Code); err != nil {
		return SubmitOutput{}, err
	}
	sub, err := s.sessions.Submit(ctx, input.SessionID)
	if err != nil {
		return SubmitOutput{}, fmt.Errorf("submit failed: %w", err)
	}

	report := sub.Report
	out := SubmitOutput{
		Passed:  report.Passed(),
		Total:   len(report.Outcomes),
		Results: report.Outcomes,
	}
	switch {
	case sub.Stale:
		out.Summary = "The session moved to another lesson; this result was discarded."
	case report.Reward != nil:
		out.XP, out.Gems = report.Reward.XP, report.Reward.Gems
		out.Summary = fmt.Sprintf("All tests passed! +%d XP, +%d gems", out.XP, out.Gems)
	default:
		out.Summary = fmt.Sprintf("%d of %d tests passed", out.Passed, out.Total)
	}
	return out, nil
}

func (s *Server) handleHint(ctx context.Context, input HintInput) (TutorOutput, error) {
	if input.SessionID == "" {
		return TutorOutput{Content: s.engine.GetHint(ctx, input.Code, input.Description)}, nil
	}

	if err := s.storeCode(ctx, input.SessionID, input.Code); err != nil {
		return TutorOutput{}, err
	}
	reply, err := s.sessions.Hint(ctx, input.SessionID)
	if err != nil {
		return TutorOutput{}, fmt.Errorf("hint failed: %w", err)
	}
	return TutorOutput{Content: reply.Text, Stale: reply.Stale}, nil
}

func (s *Server) handleExplain(ctx context.Context, input ExplainInput) (TutorOutput, error) {
	if input.SessionID == "" {
		if strings.TrimSpace(input.Error) == "" {
			return TutorOutput{}, fmt.Errorf("%w: error is required", domain.ErrInvalidInput)
		}
		return TutorOutput{Content: s.engine.ExplainError(ctx, input.Code, input.Error)}, nil
	}

	reply, err := s.sessions.Explain(ctx, input.SessionID, input.Error)
	if err != nil {
		return TutorOutput{}, fmt.Errorf("explain failed: %w", err)
	}
	return TutorOutput{Content: reply.Text, Stale: reply.Stale}, nil
}

func (s *Server) handleProgress(ctx context.Context, input ProgressInput) (ProgressOutput, error) {
	if s.recorder == nil {
		return ProgressOutput{}, fmt.Errorf("progress recording is not configured")
	}
	completions, err := s.recorder.List(ctx, input.UserID)
	if err != nil {
		return ProgressOutput{}, fmt.Errorf("list progress: %w", err)
	}

	out := ProgressOutput{Totals: domain.Summarize(input.UserID, completions)}
	seen := make(map[string]bool)
	for _, c := range completions {
		if !seen[c.LessonID] {
			seen[c.LessonID] = true
			out.Lessons = append(out.Lessons, c.LessonID)
		}
	}
	return out, nil
}

func (s *Server) handleStop(ctx context.Context, input StopInput) (StopOutput, error) {
	if err := s.sessions.Close(ctx, input.SessionID); err != nil {
		return StopOutput{}, fmt.Errorf("failed to close session: %w", err)
	}

	return StopOutput{
		Message: "Session ended successfully",
	}, nil
}

// storeCode replaces the session's code when code is given
func (s *Server) storeCode(ctx context.Context, sessionID, code string) error {
	if code == "" {
		return nil
	}
	if _, err := s.sessions.UpdateSource(ctx, sessionID, code); err != nil {
		return fmt.Errorf("failed to update code: %w", err)
	}
	return nil
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
