package api

import "time"

// SessionTokenRequest represents the request payload for session token issuance
type SessionTokenRequest struct {
	UserID     string `json:"user_id" validate:"required"`
	Role       string `json:"role"`
	Privileged bool   `json:"privileged"`
}

// SessionTokenResponse represents the response payload for session token issuance
type SessionTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UserID    string    `json:"user_id"`
}

// SessionInfo summarizes one live session for the sessions listing
type SessionInfo struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	State     string `json:"state"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
