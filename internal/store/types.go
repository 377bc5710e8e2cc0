package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

const (
	SessionTypeText  = "text"
	SessionTypeVoice = "voice"

	SentByUser = "user"
	SentByBot  = "bot"
)

// RiskLevels are the allowed values for chat_sessions.risk_level.
var RiskLevels = []string{"low", "moderate", "high", "critical"}

// Permissions holds the two consent flags read fresh on every turn.
type Permissions struct {
	PermitStore   bool `json:"permit_store"`
	PermitAnalyze bool `json:"permit_analyze"`
}

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Summary   *string   `json:"summary"`
	RiskLevel *string   `json:"risk_level"`
	RiskScore *int      `json:"risk_score"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	SentBy    string    `json:"sent_by"`
	CreatedAt time.Time `json:"created_at"`
}

// EmotionVector is the per-message speech-emotion score row. Scores are
// non-negative and conventionally sum close to 1.
type EmotionVector struct {
	ID        string    `json:"id"`
	MessageID string    `json:"message_id"`
	Sad       float64   `json:"sad"`
	Angry     float64   `json:"angry"`
	Happy     float64   `json:"happy"`
	Disgust   float64   `json:"disgust"`
	Fearful   float64   `json:"fearful"`
	Neutral   float64   `json:"neutral"`
	Surprised float64   `json:"surprised"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

type MoodRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	MoodScore int       `json:"mood_score"`
	CreatedAt time.Time `json:"created_at"`
}

type DoctorNote struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	DoctorID  string    `json:"doctor_id"`
	Note      string    `json:"note"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionFilter drives ListSessionsByUser. Page is 1-indexed.
type SessionFilter struct {
	Page       int
	Limit      int
	Type       string
	RiskLevels []string
}

type SessionSummary struct {
	Session
	MessageCount int `json:"message_count"`
}

type Pagination struct {
	CurrentPage   int  `json:"currentPage"`
	TotalPages    int  `json:"totalPages"`
	TotalSessions int  `json:"totalSessions"`
	Limit         int  `json:"limit"`
	HasNext       bool `json:"hasNext"`
	HasPrev       bool `json:"hasPrev"`
}

type SessionPage struct {
	Sessions   []SessionSummary `json:"sessions"`
	Pagination Pagination       `json:"pagination"`
}
