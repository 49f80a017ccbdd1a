package websocket

import (
	"github.com/stemsi/exstem-session/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionSync     Action = "sync"
	ActionPing     Action = "ping"
)

// RequestPayload is any client message. Only autosave uses QID and Answer.
type RequestPayload struct {
	Action Action `json:"action"`
	QID    string `json:"q_id,omitempty"`
	Answer *int   `json:"ans,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventState   Event = "state"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

type AutosaveResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
	QID    string `json:"q_id"`
}

// StateResponse carries the authoritative snapshot, including the countdown.
type StateResponse struct {
	Event   Event              `json:"event"`
	Session *model.SessionView `json:"session"`
}

type GradedResponse struct {
	Event  Event             `json:"event"`
	Status string            `json:"status"`
	Result *model.ExamResult `json:"result"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
