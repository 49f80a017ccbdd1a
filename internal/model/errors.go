package model

import "errors"

// Domain-level sentinel errors. They carry no transport detail; handlers map
// them to response codes.
var (
	// ErrSessionNotFound indicates that no session has the given ID.
	ErrSessionNotFound = errors.New("session not found")

	// ErrDefinitionNotFound indicates that the exam id is unknown to the provider.
	ErrDefinitionNotFound = errors.New("exam definition not found")

	// ErrExamUnavailable indicates that the definition exists but is inactive.
	ErrExamUnavailable = errors.New("exam is not available")

	// ErrForbidden indicates that the requester does not own the session.
	ErrForbidden = errors.New("session belongs to another user")

	// ErrSessionClosed indicates a mutation on a session that was submitted.
	ErrSessionClosed = errors.New("session is closed")

	// ErrDeadlinePassed indicates a mutation at or after the session deadline.
	ErrDeadlinePassed = errors.New("session deadline has passed")

	// ErrInvalidQuestion indicates an answer for a question outside the exam.
	ErrInvalidQuestion = errors.New("question does not belong to this exam")

	// ErrInvalidAlternative indicates a selected index outside the question's alternatives.
	ErrInvalidAlternative = errors.New("selected alternative is out of range")

	// ErrSessionInProgress indicates a result was requested before finalization.
	ErrSessionInProgress = errors.New("session is still in progress")
)
