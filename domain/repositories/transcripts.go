package repositories

import (
	"context"
	"time"

	"github.com/lumenkb/voicebridge/domain/entities"
)

// SessionTranscript is the archived record of a finished session.
type SessionTranscript struct {
	SessionID string                    `json:"session_id" bson:"session_id"`
	UserID    string                    `json:"user_id" bson:"user_id"`
	StartedAt time.Time                 `json:"started_at" bson:"started_at"`
	EndedAt   time.Time                 `json:"ended_at" bson:"ended_at"`
	Turns     []entities.TranscriptTurn `json:"turns" bson:"turns"`
}

// TranscriptArchive persists session transcripts after cleanup. Archiving
// is best-effort: failures are logged by the caller and never block
// session teardown.
type TranscriptArchive interface {
	Archive(ctx context.Context, transcript *SessionTranscript) error
}

// TranscriptReader serves archived transcripts back out through the REST
// surface.
type TranscriptReader interface {
	ListByUser(ctx context.Context, userID string, limit int64) ([]SessionTranscript, error)
	GetBySession(ctx context.Context, sessionID string) (*SessionTranscript, error)
}
