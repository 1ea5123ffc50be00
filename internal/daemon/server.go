package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/progress"
	"github.com/felixgeelhaar/pythonquest/internal/session"
	"github.com/felixgeelhaar/pythonquest/internal/tutor"
	"github.com/google/uuid"
)

// maxBodyBytes bounds request bodies; student programs are small.
const maxBodyBytes = 1 << 20

// Engine is the execution and grading capability served over HTTP
type Engine interface {
	Execute(ctx context.Context, source string) domain.ExecutionResult
	Submit(ctx context.Context, lesson *domain.Lesson, source string) domain.GradingReport
	GetHint(ctx context.Context, source, description string) string
	ExplainError(ctx context.Context, source, errText string) string
	Interpreter() string
}

// LessonCatalog resolves and lists lessons
type LessonCatalog interface {
	Get(id string) (*domain.Lesson, error)
	List() []*domain.Lesson
}

// Server represents the PythonQuest daemon HTTP server
type Server struct {
	server *http.Server
	router *http.ServeMux
	logger *slog.Logger

	engine    Engine
	lessons   LessonCatalog
	sessions  session.SessionService
	recorder  progress.Recorder
	providers []string
	version   string
	started   time.Time
	limiter   *clientLimiter
	origins   []string
}

// ServerConfig holds the dependencies of a server
type ServerConfig struct {
	Addr      string
	Version   string
	Engine    Engine
	Lessons   LessonCatalog
	Sessions  session.SessionService
	Recorder  progress.Recorder
	Providers []string // registered text generation providers
	Logger    *slog.Logger

	// RateLimitPerMinute bounds runs, gradings and tutor calls per client;
	// 0 disables the limit.
	RateLimitPerMinute int
	// TrustProxy keys the rate limit on X-Forwarded-For instead of the
	// connection address. Enable only behind a reverse proxy.
	TrustProxy bool
	// AllowedOrigins lists the browser origins allowed to call the API.
	// Requests from any other origin are rejected.
	AllowedOrigins []string
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		router:    http.NewServeMux(),
		logger:    cfg.Logger,
		engine:    cfg.Engine,
		lessons:   cfg.Lessons,
		sessions:  cfg.Sessions,
		recorder:  cfg.Recorder,
		providers: cfg.Providers,
		version:   cfg.Version,
		started:   time.Now(),
		origins:   cfg.AllowedOrigins,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.version == "" {
		s.version = "dev"
	}
	if cfg.RateLimitPerMinute > 0 {
		s.limiter = newClientLimiter(cfg.RateLimitPerMinute, cfg.RateLimitPerMinute/3)
		s.limiter.trustProxy = cfg.TrustProxy
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // tutor calls and grading can be slow
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Lessons
	s.router.HandleFunc("GET /v1/lessons", s.handleListLessons)
	s.router.HandleFunc("GET /v1/lessons/{id}", s.handleGetLesson)
	s.router.Handle("POST /v1/lessons/{id}/submit", s.limited(s.handleSubmit))

	// Stateless engine operations
	s.router.Handle("POST /v1/execute", s.limited(s.handleExecute))
	s.router.Handle("POST /v1/hint", s.limited(s.handleHint))
	s.router.Handle("POST /v1/explain", s.limited(s.handleExplain))

	// Sessions
	s.router.HandleFunc("GET /v1/sessions", s.handleListSessions)
	s.router.HandleFunc("POST /v1/sessions", s.handleOpenSession)
	s.router.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	s.router.HandleFunc("DELETE /v1/sessions/{id}", s.handleCloseSession)
	s.router.HandleFunc("PUT /v1/sessions/{id}/lesson", s.handleLoadLesson)
	s.router.HandleFunc("PUT /v1/sessions/{id}/code", s.handleUpdateCode)
	s.router.HandleFunc("POST /v1/sessions/{id}/reset", s.handleResetSession)
	s.router.Handle("POST /v1/sessions/{id}/run", s.limited(s.handleSessionRun))
	s.router.Handle("POST /v1/sessions/{id}/submit", s.limited(s.handleSessionSubmit))
	s.router.HandleFunc("GET /v1/sessions/{id}/history", s.handleSessionHistory)
	s.router.Handle("POST /v1/sessions/{id}/hint", s.limited(s.handleSessionHint))
	s.router.Handle("POST /v1/sessions/{id}/explain", s.limited(s.handleSessionExplain))

	// Progress
	s.router.HandleFunc("POST /v1/progress", s.handleRecordProgress)
	s.router.HandleFunc("GET /v1/progress/{user_id}", s.handleListProgress)
}

// limited applies the per-client rate limit to code execution and tutor
// calls when one is configured
func (s *Server) limited(h http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return h
	}
	return rateLimitMiddleware(s.limiter, s.logger, h)
}

// Handler returns the router wrapped in the middleware chain
func (s *Server) Handler() http.Handler {
	return recoveryMiddleware(s.logger,
		correlationIDMiddleware(
			loggingMiddleware(s.logger,
				originMiddleware(s.origins, s.router))))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting pythonquest daemon",
		"addr", s.server.Addr,
		"interpreter", s.engine.Interpreter(),
		"llm_providers", s.providers,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down daemon...")
	return s.server.Shutdown(ctx)
}

// Handler implementations

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":         "running",
		"version":        s.version,
		"interpreter":    s.engine.Interpreter(),
		"llm_providers":  s.providers,
		"tutor_enabled":  len(s.providers) > 0,
		"lessons":        len(s.lessons.List()),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	})
}

// Lesson handlers

func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	lessons := s.lessons.List()
	summaries := make([]domain.Summary, len(lessons))
	for i, l := range lessons {
		summaries[i] = l.Summarize()
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"lessons": summaries,
	})
}

func (s *Server) handleGetLesson(w http.ResponseWriter, r *http.Request) {
	lesson, err := s.lessons.Get(r.PathValue("id"))
	if err != nil {
		s.domainError(w, "failed to get lesson", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, lesson)
}

type executeRequest struct {
	Code string `json:"code"`
}

type executeResponse struct {
	domain.ExecutionResult
	Text string `json:"text"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !s.decode(w, r, &req) {
		return
	}

	result := s.engine.Execute(r.Context(), req.Code)
	s.jsonResponse(w, http.StatusOK, executeResponse{ExecutionResult: result, Text: result.Text()})
}

type submitRequest struct {
	Code   string `json:"code"`
	UserID string `json:"user_id,omitempty"`
}

type submitResponse struct {
	domain.GradingReport
	Passed   int  `json:"passed"`
	Total    int  `json:"total"`
	Recorded bool `json:"recorded"`
}

// handleSubmit grades code against a lesson without a session. A rewarded
// report is recorded as a completion when a user ID is given.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	lesson, err := s.lessons.Get(r.PathValue("id"))
	if err != nil {
		s.domainError(w, "failed to get lesson", err)
		return
	}

	var req submitRequest
	if !s.decode(w, r, &req) {
		return
	}

	report := s.engine.Submit(r.Context(), lesson, req.Code)
	resp := submitResponse{GradingReport: report, Passed: report.Passed(), Total: len(report.Outcomes)}

	if report.Reward != nil && req.UserID != "" && s.recorder != nil {
		if err := s.recorder.Record(r.Context(), domain.NewCompletion(req.UserID, &report)); err != nil {
			s.logger.Error("failed to record completion", "user", req.UserID, "lesson", lesson.ID, "error", err)
		} else {
			resp.Recorded = true
		}
	}

	s.jsonResponse(w, http.StatusOK, resp)
}

type tutorRequest struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	LessonID    string `json:"lesson_id,omitempty"`
	Error       string `json:"error,omitempty"`
	Format      string `json:"format,omitempty"` // "html" adds rendered markup
}

type tutorResponse struct {
	Text  string `json:"text"`
	HTML  string `json:"html,omitempty"`
	Stale bool   `json:"stale,omitempty"`
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	var req tutorRequest
	if !s.decode(w, r, &req) {
		return
	}

	description := req.Description
	if description == "" && req.LessonID != "" {
		lesson, err := s.lessons.Get(req.LessonID)
		if err != nil {
			s.domainError(w, "failed to get lesson", err)
			return
		}
		description = lesson.Description
	}

	text := s.engine.GetHint(r.Context(), req.Code, description)
	s.tutorResponse(w, req.Format, text, false)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req tutorRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Error) == "" {
		s.jsonError(w, http.StatusBadRequest, "error is required", nil)
		return
	}

	text := s.engine.ExplainError(r.Context(), req.Code, req.Error)
	s.tutorResponse(w, req.Format, text, false)
}

// Session handlers

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		s.domainError(w, "failed to list sessions", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"sessions": sessions,
	})
}

func (s *Server) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LessonID string `json:"lesson_id"`
		UserID   string `json:"user_id,omitempty"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.LessonID == "" {
		s.jsonError(w, http.StatusBadRequest, "lesson_id is required", nil)
		return
	}

	sess, err := s.sessions.Open(r.Context(), req.LessonID, req.UserID)
	if err != nil {
		s.domainError(w, "failed to open session", err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, "failed to get session", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.Context(), r.PathValue("id")); err != nil {
		s.domainError(w, "failed to close session", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"deleted": true,
	})
}

func (s *Server) handleLoadLesson(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LessonID string `json:"lesson_id"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.LessonID == "" {
		s.jsonError(w, http.StatusBadRequest, "lesson_id is required", nil)
		return
	}

	sess, err := s.sessions.Load(r.Context(), r.PathValue("id"), req.LessonID)
	if err != nil {
		s.domainError(w, "failed to load lesson", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleUpdateCode(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !s.decode(w, r, &req) {
		return
	}

	sess, err := s.sessions.UpdateSource(r.Context(), r.PathValue("id"), req.Code)
	if err != nil {
		s.domainError(w, "failed to update code", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Reset(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, "failed to reset session", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, sess)
}

func (s *Server) handleSessionRun(w http.ResponseWriter, r *http.Request) {
	out, err := s.sessions.Run(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, "failed to run code", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleSessionSubmit(w http.ResponseWriter, r *http.Request) {
	out, err := s.sessions.Submit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, "failed to submit code", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, out)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	reports, err := s.sessions.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, "failed to load history", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"submissions": reports,
	})
}

func (s *Server) handleSessionHint(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	reply, err := s.sessions.Hint(r.Context(), r.PathValue("id"))
	if err != nil {
		s.domainError(w, "failed to get hint", err)
		return
	}
	s.tutorResponse(w, format, reply.Text, reply.Stale)
}

func (s *Server) handleSessionExplain(w http.ResponseWriter, r *http.Request) {
	var req tutorRequest
	// The body is optional; without an error text the last failure is explained.
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	format := req.Format
	if format == "" {
		format = r.URL.Query().Get("format")
	}

	reply, err := s.sessions.Explain(r.Context(), r.PathValue("id"), req.Error)
	if err != nil {
		s.domainError(w, "failed to explain error", err)
		return
	}
	s.tutorResponse(w, format, reply.Text, reply.Stale)
}

// Progress handlers

func (s *Server) handleRecordProgress(w http.ResponseWriter, r *http.Request) {
	var req progress.Update
	if !s.decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.LessonID == "" {
		s.jsonError(w, http.StatusBadRequest, "user_id and lesson_id are required", nil)
		return
	}
	if req.XPEarned < 0 || req.GemsEarned < 0 {
		s.jsonError(w, http.StatusBadRequest, "xp_earned and gems_earned must not be negative", nil)
		return
	}
	if s.recorder == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "progress recording is not configured", nil)
		return
	}

	status := domain.CompletionStatus(req.Status)
	if status == "" {
		status = domain.CompletionStatusCompleted
	}
	completion := domain.Completion{
		ID:         uuid.New(),
		UserID:     req.UserID,
		LessonID:   req.LessonID,
		Status:     status,
		XPEarned:   req.XPEarned,
		GemsEarned: req.GemsEarned,
		RecordedAt: time.Now().UTC(),
	}
	if err := s.recorder.Record(r.Context(), completion); err != nil {
		s.domainError(w, "failed to record progress", err)
		return
	}

	s.jsonResponse(w, http.StatusCreated, progress.Entry{
		Update:     req,
		RecordedAt: completion.RecordedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleListProgress(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "progress recording is not configured", nil)
		return
	}
	userID := r.PathValue("user_id")

	completions, err := s.recorder.List(r.Context(), userID)
	if err != nil {
		s.domainError(w, "failed to list progress", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"completions": completions,
		"totals":      domain.Summarize(userID, completions),
	})
}

// Helper methods

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		s.jsonError(w, http.StatusUnsupportedMediaType, "request body must be application/json", nil)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

func (s *Server) tutorResponse(w http.ResponseWriter, format, text string, stale bool) {
	resp := tutorResponse{Text: text, Stale: stale}
	if format == "html" {
		html, err := tutor.RenderHTML(text)
		if err != nil {
			s.jsonError(w, http.StatusInternalServerError, "failed to render response", err)
			return
		}
		resp.HTML = html
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// domainError maps domain sentinel errors to HTTP statuses
func (s *Server) domainError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, domain.ErrLessonNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrCompletionNotFound):
		s.jsonError(w, http.StatusNotFound, message, err)
	case errors.Is(err, domain.ErrSessionBusy),
		errors.Is(err, domain.ErrSubmissionInFlight):
		s.jsonError(w, http.StatusConflict, message, err)
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidLesson):
		s.jsonError(w, http.StatusBadRequest, message, err)
	case errors.Is(err, domain.ErrInterpreterUnavailable):
		s.jsonError(w, http.StatusServiceUnavailable, message, err)
	default:
		s.jsonError(w, http.StatusInternalServerError, message, err)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}
