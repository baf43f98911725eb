package entities

import (
	"errors"
	"strings"
	"time"
)

// SessionState represents the lifecycle state of a voice/text session
type SessionState string

const (
	SessionStateDisconnected SessionState = "disconnected"
	SessionStateConnecting   SessionState = "connecting"
	SessionStateIdle         SessionState = "idle"
	SessionStateListening    SessionState = "listening"
	SessionStateProcessing   SessionState = "processing"
	SessionStateExecuting    SessionState = "executing"
	SessionStateSpeaking     SessionState = "speaking"
	SessionStateError        SessionState = "error"
)

// Role represents the access level of the connected user
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
)

// ErrInvalidTransition is returned when a state change violates the session
// state machine.
var ErrInvalidTransition = errors.New("invalid session state transition")

// validTransitions lists the allowed forward edges of the state machine.
// SessionStateError and SessionStateDisconnected are reachable from any
// state and are handled separately in CanTransition.
var validTransitions = map[SessionState][]SessionState{
	SessionStateDisconnected: {SessionStateConnecting},
	SessionStateConnecting:   {SessionStateIdle},
	SessionStateIdle:         {SessionStateListening, SessionStateProcessing},
	SessionStateListening:    {SessionStateProcessing, SessionStateIdle},
	SessionStateProcessing:   {SessionStateExecuting, SessionStateSpeaking, SessionStateIdle},
	SessionStateExecuting:    {SessionStateProcessing},
	SessionStateSpeaking:     {SessionStateIdle},
	SessionStateError:        {SessionStateIdle},
}

// CanTransition reports whether moving from one state to another is allowed.
func CanTransition(from, to SessionState) bool {
	// Error and disconnected are reachable from everywhere.
	if to == SessionStateError || to == SessionStateDisconnected {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TranscriptTurn is one completed utterance in a session, either the user's
// recognized input or the agent's reply.
type TranscriptTurn struct {
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
	Role      string    `json:"role" bson:"role"`
	Content   string    `json:"content" bson:"content"`
}

// Session represents a single connected client. It is owned exclusively by
// the session bridge: all mutation happens under the bridge's lock.
type Session struct {
	ID         string
	UserID     string
	Role       Role
	Privileged bool

	State     SessionState
	CreatedAt time.Time

	// partial holds the agent text accumulated during the current
	// interaction; flushed as one final message on completion.
	partial   strings.Builder
	finalText string

	Turns []TranscriptTurn
}

// NewSession creates a session for an authenticated user. The session starts
// disconnected; the bridge drives it through connecting during the handshake.
func NewSession(id, userID string, role Role, privileged bool) *Session {
	return &Session{
		ID:         id,
		UserID:     userID,
		Role:       role,
		Privileged: privileged,
		State:      SessionStateDisconnected,
		CreatedAt:  time.Now(),
	}
}

// TransitionTo moves the session to the given state, validating the edge.
func (s *Session) TransitionTo(to SessionState) error {
	if !CanTransition(s.State, to) {
		return ErrInvalidTransition
	}
	s.State = to
	return nil
}

// AppendDelta accumulates a partial agent response and returns the text
// accumulated so far for the current interaction.
func (s *Session) AppendDelta(delta string) string {
	s.partial.WriteString(delta)
	return s.partial.String()
}

// SetFinalText records the pipeline's own final text, preferred over the
// accumulated deltas when flushing.
func (s *Session) SetFinalText(text string) {
	s.finalText = text
}

// FlushTranscript returns the completed agent response for this interaction
// and resets the accumulator. The pipeline's final text wins over the
// concatenated deltas when both are present.
func (s *Session) FlushTranscript() string {
	text := s.partial.String()
	if s.finalText != "" {
		text = s.finalText
	}
	s.partial.Reset()
	s.finalText = ""
	return text
}

// TruncateTranscript drops any accumulated partial response. Used on
// barge-in, where the interrupted reply is discarded rather than flushed.
func (s *Session) TruncateTranscript() {
	s.partial.Reset()
	s.finalText = ""
}

// RecordTurn appends a completed utterance to the session history.
func (s *Session) RecordTurn(role, content string) {
	if content == "" {
		return
	}
	s.Turns = append(s.Turns, TranscriptTurn{
		Timestamp: time.Now(),
		Role:      role,
		Content:   content,
	})
}
