package domain

import "errors"

// -----------------------------------------------------------------------------
// Domain Errors
// These errors represent domain-level failures and are used by stores and
// services to communicate domain-specific error conditions.
// -----------------------------------------------------------------------------

// Lesson errors
var (
	ErrLessonNotFound = errors.New("lesson not found")
	ErrInvalidLesson  = errors.New("invalid lesson")
)

// Session errors
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionBusy        = errors.New("session is busy")
	ErrSubmissionInFlight = errors.New("submission already in flight")
)

// Execution errors
var (
	ErrInterpreterUnavailable = errors.New("no interpreter available")
)

// Progress errors
var (
	ErrCompletionNotFound = errors.New("completion not found")
)

// Input errors
var (
	ErrInvalidInput = errors.New("invalid input")
)
