package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the pgx-backed DataStore.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) GetPermissions(ctx context.Context, userID string) (Permissions, error) {
	var perms Permissions
	err := s.pool.QueryRow(
		ctx,
		`SELECT permit_store, permit_analyze
		 FROM profiles
		 WHERE id = $1`,
		userID,
	).Scan(&perms.PermitStore, &perms.PermitAnalyze)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permissions{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Permissions{}, fmt.Errorf("get permissions: %w", err)
	}
	return perms, nil
}

func (s *Store) UpdatePermissions(ctx context.Context, userID string, permitStore, permitAnalyze *bool) (Permissions, error) {
	var perms Permissions
	err := s.pool.QueryRow(
		ctx,
		`UPDATE profiles
		 SET permit_store = COALESCE($2, permit_store),
		     permit_analyze = COALESCE($3, permit_analyze)
		 WHERE id = $1
		 RETURNING permit_store, permit_analyze`,
		userID,
		permitStore,
		permitAnalyze,
	).Scan(&perms.PermitStore, &perms.PermitAnalyze)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permissions{}, fmt.Errorf("profile %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Permissions{}, fmt.Errorf("update permissions: %w", err)
	}
	return perms, nil
}

func (s *Store) CreateSession(ctx context.Context, userID, sessionType string) (Session, error) {
	session := Session{
		ID:     uuid.NewString(),
		UserID: userID,
		Type:   sessionType,
	}
	err := s.pool.QueryRow(
		ctx,
		`INSERT INTO chat_sessions (id, user_id, type, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING created_at`,
		session.ID,
		userID,
		sessionType,
	).Scan(&session.CreatedAt)
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	err := s.pool.QueryRow(
		ctx,
		`SELECT id, user_id, type, summary, risk_level, risk_score, created_at
		 FROM chat_sessions
		 WHERE id = $1`,
		sessionID,
	).Scan(
		&session.ID,
		&session.UserID,
		&session.Type,
		&session.Summary,
		&session.RiskLevel,
		&session.RiskScore,
		&session.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return Session{}, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *Store) ListSessionsByUser(ctx context.Context, userID string, filter SessionFilter) (SessionPage, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 {
		limit = 10
	}

	where := []string{"user_id = $1"}
	args := []any{userID}
	if filter.Type != "" && filter.Type != "all" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if len(filter.RiskLevels) > 0 {
		args = append(args, filter.RiskLevels)
		where = append(where, fmt.Sprintf("risk_level = ANY($%d)", len(args)))
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	err := s.pool.QueryRow(
		ctx,
		`SELECT COUNT(*)::int FROM chat_sessions WHERE `+whereClause,
		args...,
	).Scan(&total)
	if err != nil {
		return SessionPage{}, fmt.Errorf("count sessions: %w", err)
	}

	offset := (page - 1) * limit
	pagedArgs := append(args, limit, offset)
	rows, err := s.pool.Query(
		ctx,
		fmt.Sprintf(
			`SELECT s.id, s.user_id, s.type, s.summary, s.risk_level, s.risk_score, s.created_at,
				(SELECT COUNT(*)::int FROM chat_messages m WHERE m.session_id = s.id) AS message_count
			 FROM chat_sessions s
			 WHERE %s
			 ORDER BY s.created_at DESC
			 LIMIT $%d OFFSET $%d`,
			whereClause,
			len(args)+1,
			len(args)+2,
		),
		pagedArgs...,
	)
	if err != nil {
		return SessionPage{}, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]SessionSummary, 0, limit)
	for rows.Next() {
		var item SessionSummary
		if err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.Type,
			&item.Summary,
			&item.RiskLevel,
			&item.RiskScore,
			&item.CreatedAt,
			&item.MessageCount,
		); err != nil {
			return SessionPage{}, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, item)
	}
	if err := rows.Err(); err != nil {
		return SessionPage{}, fmt.Errorf("list sessions: %w", err)
	}

	totalPages := (total + limit - 1) / limit
	return SessionPage{
		Sessions: sessions,
		Pagination: Pagination{
			CurrentPage:   page,
			TotalPages:    totalPages,
			TotalSessions: total,
			Limit:         limit,
			HasNext:       page < totalPages,
			HasPrev:       page > 1,
		},
	}, nil
}

// UpdateSessionAnalysis writes the risk verdict as a single atomic update.
// Summary, level, and score are always written together.
func (s *Store) UpdateSessionAnalysis(ctx context.Context, sessionID, summary, riskLevel string, riskScore int) error {
	tag, err := s.pool.Exec(
		ctx,
		`UPDATE chat_sessions
		 SET summary = $2, risk_level = $3, risk_score = $4
		 WHERE id = $1`,
		sessionID,
		summary,
		riskLevel,
		riskScore,
	)
	if err != nil {
		return fmt.Errorf("update session analysis: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

func (s *Store) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(
		ctx,
		`INSERT INTO chat_messages (id, session_id, content, sent_by, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING created_at`,
		msg.ID,
		msg.SessionID,
		msg.Content,
		msg.SentBy,
	).Scan(&msg.CreatedAt)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (s *Store) ListMessagesBySession(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT id, session_id, content, sent_by, created_at
		 FROM chat_messages
		 WHERE session_id = $1
		 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0, 16)
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Content, &msg.SentBy, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

func (s *Store) CountMessagesBySession(ctx context.Context, sessionID string) (int, error) {
	var count int
	if err := s.pool.QueryRow(
		ctx,
		`SELECT COUNT(*)::int FROM chat_messages WHERE session_id = $1`,
		sessionID,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func (s *Store) SaveEmotion(ctx context.Context, vec EmotionVector) error {
	if vec.ID == "" {
		vec.ID = uuid.NewString()
	}
	_, err := s.pool.Exec(
		ctx,
		`INSERT INTO message_emotion (
			id, message_id, sad, angry, happy, disgust, fearful, neutral, surprised, model, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())`,
		vec.ID,
		vec.MessageID,
		vec.Sad,
		vec.Angry,
		vec.Happy,
		vec.Disgust,
		vec.Fearful,
		vec.Neutral,
		vec.Surprised,
		vec.Model,
	)
	if err != nil {
		return fmt.Errorf("save emotion: %w", err)
	}
	return nil
}

func (s *Store) ListEmotionsBySession(ctx context.Context, sessionID string) (map[string]EmotionVector, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT e.id, e.message_id, e.sad, e.angry, e.happy, e.disgust, e.fearful, e.neutral, e.surprised, e.model, e.created_at
		 FROM message_emotion e
		 JOIN chat_messages m ON m.id = e.message_id
		 WHERE m.session_id = $1`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list emotions: %w", err)
	}
	defer rows.Close()

	result := make(map[string]EmotionVector)
	for rows.Next() {
		var vec EmotionVector
		if err := rows.Scan(
			&vec.ID,
			&vec.MessageID,
			&vec.Sad,
			&vec.Angry,
			&vec.Happy,
			&vec.Disgust,
			&vec.Fearful,
			&vec.Neutral,
			&vec.Surprised,
			&vec.Model,
			&vec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan emotion: %w", err)
		}
		result[vec.MessageID] = vec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list emotions: %w", err)
	}
	return result, nil
}

func (s *Store) HasMoodOnDay(ctx context.Context, userID string, day time.Time) (bool, error) {
	dayStart := time.Date(day.UTC().Year(), day.UTC().Month(), day.UTC().Day(), 0, 0, 0, 0, time.UTC)
	var exists bool
	err := s.pool.QueryRow(
		ctx,
		`SELECT EXISTS (
			SELECT 1 FROM daily_mood
			WHERE user_id = $1 AND created_at >= $2 AND created_at < $3
		)`,
		userID,
		dayStart,
		dayStart.AddDate(0, 0, 1),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has mood on day: %w", err)
	}
	return exists, nil
}

func (s *Store) ListMoodsByUser(ctx context.Context, userID string) ([]MoodRecord, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT id, user_id, mood_score, created_at
		 FROM daily_mood
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list moods: %w", err)
	}
	defer rows.Close()

	moods := make([]MoodRecord, 0, 8)
	for rows.Next() {
		var mood MoodRecord
		if err := rows.Scan(&mood.ID, &mood.UserID, &mood.MoodScore, &mood.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan mood: %w", err)
		}
		moods = append(moods, mood)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list moods: %w", err)
	}
	return moods, nil
}

func (s *Store) SaveMood(ctx context.Context, userID string, score int) (MoodRecord, error) {
	mood := MoodRecord{
		ID:        uuid.NewString(),
		UserID:    userID,
		MoodScore: score,
	}
	err := s.pool.QueryRow(
		ctx,
		`INSERT INTO daily_mood (id, user_id, mood_score, created_at)
		 VALUES ($1, $2, $3, NOW())
		 RETURNING created_at`,
		mood.ID,
		userID,
		score,
	).Scan(&mood.CreatedAt)
	if err != nil {
		return MoodRecord{}, fmt.Errorf("save mood: %w", err)
	}
	return mood, nil
}

func (s *Store) SaveDoctorNote(ctx context.Context, note DoctorNote) (DoctorNote, error) {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(
		ctx,
		`INSERT INTO doctor_notes (id, session_id, doctor_id, note, created_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 RETURNING created_at`,
		note.ID,
		note.SessionID,
		note.DoctorID,
		note.Note,
	).Scan(&note.CreatedAt)
	if err != nil {
		return DoctorNote{}, fmt.Errorf("save doctor note: %w", err)
	}
	return note, nil
}

func (s *Store) ListDoctorNotesBySession(ctx context.Context, sessionID string) ([]DoctorNote, error) {
	rows, err := s.pool.Query(
		ctx,
		`SELECT id, session_id, doctor_id, note, created_at
		 FROM doctor_notes
		 WHERE session_id = $1
		 ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list doctor notes: %w", err)
	}
	defer rows.Close()

	notes := make([]DoctorNote, 0, 4)
	for rows.Next() {
		var note DoctorNote
		if err := rows.Scan(&note.ID, &note.SessionID, &note.DoctorID, &note.Note, &note.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan doctor note: %w", err)
		}
		notes = append(notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list doctor notes: %w", err)
	}
	return notes, nil
}
