package control

import (
	"github.com/lowaak/treadmill-pacer/internal/pacer"
	"github.com/lowaak/treadmill-pacer/internal/store"
)

// StartSessionRequest starts a session from a named or inline plan, or from
// explicit segments.
type StartSessionRequest struct {
	Plan             string          `json:"plan,omitempty"`
	Segments         []pacer.Segment `json:"segments,omitempty"`
	PreChangeSeconds *int            `json:"preChangeSeconds,omitempty"`
}

type StartSessionResponse struct {
	SessionID string `json:"sessionId"`
}

type PlanResponse struct {
	Name         string          `json:"name"`
	Units        pacer.Units     `json:"units"`
	TotalSeconds int             `json:"totalSeconds"`
	Segments     []pacer.Segment `json:"segments"`
}

type HistoryResponse struct {
	Sessions []store.HistoryEntry `json:"sessions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// StreamMessage is a WebSocket frame. The server sends "state" and "error"
// frames; clients send "command" frames.
type StreamMessage struct {
	Type      string              `json:"type"`
	State     *pacer.SessionState `json:"state,omitempty"`
	SessionID string              `json:"sessionId,omitempty"`
	Command   string              `json:"command,omitempty"`
	Error     string              `json:"error,omitempty"`
}

const (
	MessageState   = "state"
	MessageCommand = "command"
	MessageError   = "error"
)
