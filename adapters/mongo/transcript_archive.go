package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/lumenkb/voicebridge/domain/repositories"
)

type TranscriptArchive struct {
	collection *mongo.Collection
}

var (
	_ repositories.TranscriptArchive = (*TranscriptArchive)(nil)
	_ repositories.TranscriptReader  = (*TranscriptArchive)(nil)
)

// NewTranscriptArchive creates a MongoDB-backed transcript archive.
func NewTranscriptArchive(db *mongo.Database) *TranscriptArchive {
	return &TranscriptArchive{
		collection: db.Collection("transcripts"),
	}
}

// Archive implements repositories.TranscriptArchive
func (r *TranscriptArchive) Archive(ctx context.Context, transcript *repositories.SessionTranscript) error {
	if transcript == nil {
		return errors.New("transcript cannot be nil")
	}
	if transcript.SessionID == "" {
		return errors.New("transcript session ID cannot be empty")
	}

	doc := bson.M{
		"session_id": transcript.SessionID,
		"user_id":    transcript.UserID,
		"started_at": transcript.StartedAt,
		"ended_at":   transcript.EndedAt,
		"turns":      transcript.Turns,
	}

	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("failed to archive transcript: %w", err)
	}

	return nil
}

// ListByUser returns a user's archived transcripts, most recent first.
func (r *TranscriptArchive) ListByUser(ctx context.Context, userID string, limit int64) ([]repositories.SessionTranscript, error) {
	if userID == "" {
		return nil, errors.New("user ID cannot be empty")
	}
	if limit <= 0 {
		limit = 20
	}

	filter := bson.M{"user_id": userID}
	opts := options.Find().SetSort(bson.M{"ended_at": -1}).SetLimit(limit)

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list transcripts for user %s: %w", userID, err)
	}
	defer cursor.Close(ctx)

	var transcripts []repositories.SessionTranscript
	if err := cursor.All(ctx, &transcripts); err != nil {
		return nil, fmt.Errorf("failed to decode transcripts: %w", err)
	}

	return transcripts, nil
}

// GetBySession returns the archived transcript for one session, or nil if
// the session was never archived.
func (r *TranscriptArchive) GetBySession(ctx context.Context, sessionID string) (*repositories.SessionTranscript, error) {
	if sessionID == "" {
		return nil, errors.New("session ID cannot be empty")
	}

	var transcript repositories.SessionTranscript
	err := r.collection.FindOne(ctx, bson.M{"session_id": sessionID}).Decode(&transcript)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transcript for session %s: %w", sessionID, err)
	}

	return &transcript, nil
}
