package store

import (
	"context"
	"time"
)

// DataStore is the interface consumed by the HTTP layer and the analysis
// pipeline. The concrete implementation is *Store (pgx-backed); tests use the
// in-memory mock in internal/testutil.
type DataStore interface {
	GetPermissions(ctx context.Context, userID string) (Permissions, error)
	UpdatePermissions(ctx context.Context, userID string, permitStore, permitAnalyze *bool) (Permissions, error)

	CreateSession(ctx context.Context, userID, sessionType string) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	ListSessionsByUser(ctx context.Context, userID string, filter SessionFilter) (SessionPage, error)
	UpdateSessionAnalysis(ctx context.Context, sessionID, summary, riskLevel string, riskScore int) error

	AppendMessage(ctx context.Context, msg Message) (Message, error)
	ListMessagesBySession(ctx context.Context, sessionID string) ([]Message, error)
	CountMessagesBySession(ctx context.Context, sessionID string) (int, error)

	SaveEmotion(ctx context.Context, vec EmotionVector) error
	ListEmotionsBySession(ctx context.Context, sessionID string) (map[string]EmotionVector, error)

	HasMoodOnDay(ctx context.Context, userID string, day time.Time) (bool, error)
	ListMoodsByUser(ctx context.Context, userID string) ([]MoodRecord, error)
	SaveMood(ctx context.Context, userID string, score int) (MoodRecord, error)

	SaveDoctorNote(ctx context.Context, note DoctorNote) (DoctorNote, error)
	ListDoctorNotesBySession(ctx context.Context, sessionID string) ([]DoctorNote, error)

	Close()
}
