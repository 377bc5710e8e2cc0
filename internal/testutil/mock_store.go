package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glyzaarcibal/Vera/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore for
// testing.
type MockStore struct {
	mu sync.Mutex

	Profiles map[string]store.Permissions
	Sessions map[string]store.Session
	Messages []store.Message
	Emotions map[string]store.EmotionVector // key: message id
	Moods    []store.MoodRecord
	Notes    []store.DoctorNote

	PermissionsErr error
	AppendErr      error
	UpdateErr      error

	AppendCalls         int
	UpdateAnalysisCalls int

	clock time.Time
}

func NewMockStore() *MockStore {
	return &MockStore{
		Profiles: make(map[string]store.Permissions),
		Sessions: make(map[string]store.Session),
		Messages: make([]store.Message, 0),
		Emotions: make(map[string]store.EmotionVector),
		Moods:    make([]store.MoodRecord, 0),
		Notes:    make([]store.DoctorNote, 0),
		clock:    time.Now().UTC(),
	}
}

// tick returns a strictly increasing timestamp so insertion order and
// created_at order always agree.
func (m *MockStore) tick() time.Time {
	m.clock = m.clock.Add(time.Millisecond)
	return m.clock
}

func (m *MockStore) SeedProfile(userID string, permitStore, permitAnalyze bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Profiles[userID] = store.Permissions{PermitStore: permitStore, PermitAnalyze: permitAnalyze}
}

func (m *MockStore) SeedSession(userID, sessionType string) store.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := store.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      sessionType,
		CreatedAt: m.tick(),
	}
	m.Sessions[session.ID] = session
	return session
}

func (m *MockStore) SessionMessages(sessionID string) []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]store.Message, 0)
	for _, msg := range m.Messages {
		if msg.SessionID == sessionID {
			result = append(result, msg)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func (m *MockStore) GetPermissions(_ context.Context, userID string) (store.Permissions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PermissionsErr != nil {
		return store.Permissions{}, m.PermissionsErr
	}
	perms, ok := m.Profiles[userID]
	if !ok {
		return store.Permissions{}, fmt.Errorf("profile %s: %w", userID, store.ErrNotFound)
	}
	return perms, nil
}

func (m *MockStore) UpdatePermissions(_ context.Context, userID string, permitStore, permitAnalyze *bool) (store.Permissions, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perms, ok := m.Profiles[userID]
	if !ok {
		return store.Permissions{}, fmt.Errorf("profile %s: %w", userID, store.ErrNotFound)
	}
	if permitStore != nil {
		perms.PermitStore = *permitStore
	}
	if permitAnalyze != nil {
		perms.PermitAnalyze = *permitAnalyze
	}
	m.Profiles[userID] = perms
	return perms, nil
}

func (m *MockStore) CreateSession(_ context.Context, userID, sessionType string) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session := store.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      sessionType,
		CreatedAt: m.tick(),
	}
	m.Sessions[session.ID] = session
	return session, nil
}

func (m *MockStore) GetSession(_ context.Context, sessionID string) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.Sessions[sessionID]
	if !ok {
		return store.Session{}, fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	return session, nil
}

func (m *MockStore) ListSessionsByUser(_ context.Context, userID string, filter store.SessionFilter) (store.SessionPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 10
	}

	matched := make([]store.Session, 0)
	for _, session := range m.Sessions {
		if session.UserID != userID {
			continue
		}
		if filter.Type != "" && filter.Type != "all" && session.Type != filter.Type {
			continue
		}
		if len(filter.RiskLevels) > 0 {
			if session.RiskLevel == nil || !contains(filter.RiskLevels, *session.RiskLevel) {
				continue
			}
		}
		matched = append(matched, session)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	totalPages := (total + limit - 1) / limit
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	sessions := make([]store.SessionSummary, 0, end-start)
	for _, session := range matched[start:end] {
		count := 0
		for _, msg := range m.Messages {
			if msg.SessionID == session.ID {
				count++
			}
		}
		sessions = append(sessions, store.SessionSummary{Session: session, MessageCount: count})
	}

	return store.SessionPage{
		Sessions: sessions,
		Pagination: store.Pagination{
			CurrentPage:   page,
			TotalPages:    totalPages,
			TotalSessions: total,
			Limit:         limit,
			HasNext:       page < totalPages,
			HasPrev:       page > 1,
		},
	}, nil
}

func (m *MockStore) UpdateSessionAnalysis(_ context.Context, sessionID, summary, riskLevel string, riskScore int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpdateAnalysisCalls++
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	session, ok := m.Sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	session.Summary = &summary
	level := riskLevel
	score := riskScore
	session.RiskLevel = &level
	session.RiskScore = &score
	m.Sessions[sessionID] = session
	return nil
}

func (m *MockStore) AppendMessage(_ context.Context, msg store.Message) (store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AppendCalls++
	if m.AppendErr != nil {
		return store.Message{}, m.AppendErr
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.CreatedAt = m.tick()
	m.Messages = append(m.Messages, msg)
	return msg, nil
}

func (m *MockStore) ListMessagesBySession(_ context.Context, sessionID string) ([]store.Message, error) {
	return m.SessionMessages(sessionID), nil
}

func (m *MockStore) CountMessagesBySession(_ context.Context, sessionID string) (int, error) {
	return len(m.SessionMessages(sessionID)), nil
}

func (m *MockStore) SaveEmotion(_ context.Context, vec store.EmotionVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if vec.ID == "" {
		vec.ID = uuid.NewString()
	}
	vec.CreatedAt = m.tick()
	m.Emotions[vec.MessageID] = vec
	return nil
}

func (m *MockStore) ListEmotionsBySession(_ context.Context, sessionID string) (map[string]store.EmotionVector, error) {
	messages := m.SessionMessages(sessionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[string]store.EmotionVector)
	for _, msg := range messages {
		if vec, ok := m.Emotions[msg.ID]; ok {
			result[msg.ID] = vec
		}
	}
	return result, nil
}

func (m *MockStore) HasMoodOnDay(_ context.Context, userID string, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)
	for _, mood := range m.Moods {
		if mood.UserID != userID {
			continue
		}
		if !mood.CreatedAt.Before(dayStart) && mood.CreatedAt.Before(dayEnd) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) ListMoodsByUser(_ context.Context, userID string) ([]store.MoodRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]store.MoodRecord, 0)
	for _, mood := range m.Moods {
		if mood.UserID == userID {
			result = append(result, mood)
		}
	}
	return result, nil
}

func (m *MockStore) SaveMood(_ context.Context, userID string, score int) (store.MoodRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mood := store.MoodRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		MoodScore: score,
		CreatedAt: time.Now().UTC(),
	}
	m.Moods = append(m.Moods, mood)
	return mood, nil
}

func (m *MockStore) SaveDoctorNote(_ context.Context, note store.DoctorNote) (store.DoctorNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	note.CreatedAt = m.tick()
	m.Notes = append(m.Notes, note)
	return note, nil
}

func (m *MockStore) ListDoctorNotesBySession(_ context.Context, sessionID string) ([]store.DoctorNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]store.DoctorNote, 0)
	for _, note := range m.Notes {
		if note.SessionID == sessionID {
			result = append(result, note)
		}
	}
	return result, nil
}

func (m *MockStore) Close() {}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
