package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestStartSessionCreatesFreshSession(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)

	first := performRequest(t, env.router, http.MethodPost, "/api/sessions/start-session/text", token, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", first.Code, first.Body.String())
	}
	second := performRequest(t, env.router, http.MethodPost, "/api/sessions/start-session/voice", token, nil)
	if second.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", second.Code, second.Body.String())
	}

	firstSession, _ := decodeJSONMap(t, first)["session"].(map[string]any)
	secondSession, _ := decodeJSONMap(t, second)["session"].(map[string]any)
	if firstSession["id"] == secondSession["id"] {
		t.Fatal("expected a new session per start call")
	}
	if firstSession["type"] != "text" || secondSession["type"] != "voice" {
		t.Fatalf("unexpected session types %v / %v", firstSession["type"], secondSession["type"])
	}
	if len(env.store.Sessions) != 2 {
		t.Fatalf("expected 2 stored sessions, got %d", len(env.store.Sessions))
	}
}

func TestStartSessionRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)

	rec := performRequest(t, env.router, http.MethodPost, "/api/sessions/start-session/video", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestStartSessionRequiresToken(t *testing.T) {
	env := newTestEnv(t)

	rec := performRequest(t, env.router, http.MethodPost, "/api/sessions/start-session/text", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestFetchChatReturnsNotFoundForUnknownSession(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)

	rec := performRequest(t, env.router, http.MethodGet, "/api/sessions/fetch-chat/missing", token, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestFetchChatJoinsMessagesEmotionsAndNotes(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	env.store.SeedProfile("user-1", true, false)
	session := env.store.SeedSession("user-1", "voice")

	env.ai.Answers = []string{"I hear you."}
	env.emotion.Scores = []EmotionScore{{Label: "sad", Score: 0.8}, {Label: "neutral", Score: 0.2}}

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message":      map[string]any{"text": "rough day"},
		"audioBase64": "c291bmQ=",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	noteRec := performRequest(t, env.router, http.MethodPost, "/api/doctor/notes", signToken(t, "doctor-1", nil), map[string]any{
		"session_id": session.ID,
		"note":       "follow up next week",
	})
	if noteRec.Code != http.StatusCreated {
		t.Fatalf("note status %d body=%s", noteRec.Code, noteRec.Body.String())
	}

	fetch := performRequest(t, env.router, http.MethodGet, "/api/sessions/fetch-chat/"+session.ID, token, nil)
	if fetch.Code != http.StatusOK {
		t.Fatalf("fetch status %d body=%s", fetch.Code, fetch.Body.String())
	}
	body := decodeJSONMap(t, fetch)

	chat, ok := body["chat"].([]any)
	if !ok || len(chat) != 2 {
		t.Fatalf("expected 2 chat entries, got %v", body["chat"])
	}
	userEntry, _ := chat[0].(map[string]any)
	if userEntry["sent_by"] != "user" {
		t.Fatalf("first entry should be the user turn: %v", userEntry)
	}
	emotion, ok := userEntry["emotion"].(map[string]any)
	if !ok {
		t.Fatalf("user turn missing emotion vector: %v", userEntry)
	}
	if emotion["sad"] != 0.8 {
		t.Fatalf("unexpected sad score %v", emotion["sad"])
	}
	if emotion["model"] != "huggingface-stt" {
		t.Fatalf("unexpected emotion model %v", emotion["model"])
	}
	botEntry, _ := chat[1].(map[string]any)
	if botEntry["sent_by"] != "bot" {
		t.Fatalf("second entry should be the bot turn: %v", botEntry)
	}
	if _, hasEmotion := botEntry["emotion"]; hasEmotion {
		t.Fatalf("bot turn should carry no emotion vector: %v", botEntry)
	}

	sessionInfo, _ := body["sessionInfo"].(map[string]any)
	notes, _ := sessionInfo["doctorNotes"].([]any)
	if len(notes) != 1 {
		t.Fatalf("expected 1 doctor note, got %v", sessionInfo["doctorNotes"])
	}
}

func TestListUserSessionsPaginates(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	for i := 0; i < 7; i++ {
		env.store.SeedSession("user-1", "text")
	}
	env.store.SeedSession("someone-else", "text")

	rec := performRequest(t, env.router, http.MethodGet, "/api/sessions/user/user-1?page=2&limit=3", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)

	sessions, _ := body["sessions"].([]any)
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions on page 2, got %d", len(sessions))
	}
	pagination, _ := body["pagination"].(map[string]any)
	if pagination["currentPage"] != float64(2) ||
		pagination["totalPages"] != float64(3) ||
		pagination["totalSessions"] != float64(7) {
		t.Fatalf("unexpected pagination %v", pagination)
	}
	if pagination["hasNext"] != true || pagination["hasPrev"] != true {
		t.Fatalf("unexpected pagination flags %v", pagination)
	}
}

func TestListUserSessionsRejectsBadFilters(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)

	for _, target := range []string{
		"/api/sessions/user/user-1?page=0",
		"/api/sessions/user/user-1?limit=0",
		"/api/sessions/user/user-1?limit=101",
		"/api/sessions/user/user-1?type=video",
		"/api/sessions/user/user-1?riskLevels=extreme",
	} {
		rec := performRequest(t, env.router, http.MethodGet, target, token, nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d body=%s", target, rec.Code, rec.Body.String())
		}
	}
}

func TestProcessMessageFailsHardWhenConsentLookupFails(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	// no profile seeded: consent lookup yields not-found

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message": map[string]any{"text": "hello"},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	if env.store.AppendCalls != 0 {
		t.Fatal("no message should be persisted when consent is unknown")
	}
	if len(env.ai.Requests) != 0 {
		t.Fatal("no generation should run when consent is unknown")
	}
}

func TestProcessMessageConsentLookupInfraErrorFailsHard(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", true, true)
	env.store.PermissionsErr = errors.New("connection refused")

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message": map[string]any{"text": "hello"},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestProcessMessageSkipsStorageWithoutConsent(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", false, false)
	env.ai.Answers = []string{"I hear you."}

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message": map[string]any{"text": "hello"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	if env.store.AppendCalls != 0 {
		t.Fatalf("expected no persisted turns, got %d appends", env.store.AppendCalls)
	}
	body := decodeJSONMap(t, rec)
	if body["response"] != "I hear you." {
		t.Fatalf("unexpected response %v", body["response"])
	}
}

func TestProcessMessagePersistsUserThenBot(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", true, false)
	env.ai.Answers = []string{"Thanks for sharing."}

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message": map[string]any{"text": "long day"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	messages := env.store.SessionMessages(session.ID)
	if len(messages) != 2 {
		t.Fatalf("expected 2 stored turns, got %d", len(messages))
	}
	if messages[0].SentBy != "user" || messages[0].Content != "long day" {
		t.Fatalf("unexpected first turn %+v", messages[0])
	}
	if messages[1].SentBy != "bot" || messages[1].Content != "Thanks for sharing." {
		t.Fatalf("unexpected second turn %+v", messages[1])
	}
	if !messages[0].CreatedAt.Before(messages[1].CreatedAt) {
		t.Fatal("user turn must precede bot turn")
	}
}

func TestProcessMessageStorageFailureStillAnswers(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", true, false)
	env.store.AppendErr = errors.New("disk full")
	env.ai.Answers = []string{"I hear you."}

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message": map[string]any{"text": "hello"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	body := decodeJSONMap(t, rec)
	if body["response"] != "I hear you." {
		t.Fatalf("unexpected response %v", body["response"])
	}
}

func TestProcessMessageGenerationFailureIsUserVisible(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", true, true)
	env.ai.Err = errors.New("model overloaded")

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message": map[string]any{"text": "hello"},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	messages := env.store.SessionMessages(session.ID)
	if len(messages) != 1 || messages[0].SentBy != "user" {
		t.Fatalf("only the user turn should be stored, got %+v", messages)
	}
}

func TestProcessMessageRequiresText(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", true, true)

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message": map[string]any{"text": "   "},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAnalysisThresholdExcludesFiveTurnConversations(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", false, true)
	env.ai.Answers = []string{"I hear you."}

	// 3 prior turns + the new pair = 5 total, not above the threshold
	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message":  map[string]any{"text": "hello"},
		"messages": clientHistory(3),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	if env.store.UpdateAnalysisCalls != 0 {
		t.Fatal("analysis must not run at exactly five turns")
	}
	if len(env.ai.Requests) != 1 {
		t.Fatalf("expected only the generation call, got %d", len(env.ai.Requests))
	}
}

func TestAnalysisThresholdIncludesSixTurnConversations(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", false, true)
	env.ai.Answers = []string{"I hear you.", riskJSON("steady", "low", 10)}

	// 4 prior turns + the new pair = 6 total, above the threshold
	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message":  map[string]any{"text": "hello"},
		"messages": clientHistory(4),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	if env.store.UpdateAnalysisCalls != 1 {
		t.Fatalf("expected one verdict write, got %d", env.store.UpdateAnalysisCalls)
	}
	session2, _ := env.store.GetSession(context.Background(), session.ID)
	if session2.RiskLevel == nil || *session2.RiskLevel != "low" {
		t.Fatalf("verdict not written: %+v", session2)
	}
}

func TestAnalysisConsentGatesAnalysisIndependently(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", true, false)
	env.ai.Answers = []string{"I hear you."}

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message":  map[string]any{"text": "hello"},
		"messages": clientHistory(10),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	if env.store.UpdateAnalysisCalls != 0 {
		t.Fatal("analysis ran without analysis consent")
	}
	if env.store.AppendCalls != 2 {
		t.Fatalf("storage consent should still persist both turns, got %d appends", env.store.AppendCalls)
	}
}

func TestProcessMessageEndToEndWithBothConsents(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", true, true)
	env.ai.Answers = []string{"I hear you.", riskJSON("acute crisis language", "critical", 80)}

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message":  map[string]any{"text": "I can't keep going"},
		"messages": clientHistory(4),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	if body["response"] != "I hear you." {
		t.Fatalf("unexpected response %v", body["response"])
	}

	env.app.Tasks().Wait()

	messages := env.store.SessionMessages(session.ID)
	if len(messages) != 2 {
		t.Fatalf("expected 2 new rows, got %d", len(messages))
	}

	updated, _ := env.store.GetSession(context.Background(), session.ID)
	if updated.RiskLevel == nil || *updated.RiskLevel != "critical" {
		t.Fatalf("risk level not written: %+v", updated)
	}
	if updated.RiskScore == nil || *updated.RiskScore != 80 {
		t.Fatalf("risk score not written: %+v", updated)
	}
	if updated.Summary == nil || *updated.Summary != "acute crisis language" {
		t.Fatalf("summary not written: %+v", updated)
	}
}

func TestProcessMessageUsesStoredHistoryWhenStorageOn(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", true, false)
	env.ai.Answers = []string{"First reply.", "Second reply."}

	first := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message": map[string]any{"text": "opening message"},
	})
	if first.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", first.Code, first.Body.String())
	}
	env.app.Tasks().Wait()

	second := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message": map[string]any{"text": "second message"},
	})
	if second.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", second.Code, second.Body.String())
	}
	env.app.Tasks().Wait()

	if len(env.ai.Requests) != 2 {
		t.Fatalf("expected 2 generation calls, got %d", len(env.ai.Requests))
	}
	req := env.ai.Requests[1]
	if len(req.Conversation) != 2 {
		t.Fatalf("second call should carry the stored history, got %d turns", len(req.Conversation))
	}
	if req.Conversation[0].Role != "user" || req.Conversation[0].Content != "opening message" {
		t.Fatalf("unexpected history turn %+v", req.Conversation[0])
	}
	if req.Conversation[1].Role != "assistant" || req.Conversation[1].Content != "First reply." {
		t.Fatalf("unexpected history turn %+v", req.Conversation[1])
	}
	if req.SystemPrompt != personaPrompt {
		t.Fatal("generation must use the persona prompt")
	}
}

func TestProcessMessageFallsBackToClientHistoryWithoutStorage(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "text")
	env.store.SeedProfile("user-1", false, false)
	env.ai.Answers = []string{"Reply."}

	history := clientHistory(8)
	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message":  map[string]any{"text": "newest"},
		"messages": history,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}

	req := env.ai.Requests[0]
	if len(req.Conversation) != 5 {
		t.Fatalf("history should be capped at 5 turns, got %d", len(req.Conversation))
	}
	lastClientTurn := history[len(history)-1]
	if req.Conversation[4].Content != lastClientTurn["text"] {
		t.Fatalf("history tail mismatch: %+v vs %+v", req.Conversation[4], lastClientTurn)
	}
}

func TestProcessMessageScoresVoiceTurnInBackground(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "voice")
	env.store.SeedProfile("user-1", true, false)
	env.ai.Answers = []string{"I hear you."}
	env.emotion.Scores = []EmotionScore{
		{Label: "fearful", Score: 0.7},
		{Label: "neutral", Score: 0.3},
	}

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message":      map[string]any{"text": "transcribed speech"},
		"audioBase64": "c291bmQ=",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	if env.emotion.Calls != 1 {
		t.Fatalf("expected one classification call, got %d", env.emotion.Calls)
	}
	messages := env.store.SessionMessages(session.ID)
	vec, ok := env.store.Emotions[messages[0].ID]
	if !ok {
		t.Fatal("emotion vector not stored for the user turn")
	}
	if vec.Fearful != 0.7 || vec.Neutral != 0.3 {
		t.Fatalf("unexpected vector %+v", vec)
	}
	if vec.Sad != 0 || vec.Angry != 0 || vec.Happy != 0 || vec.Disgust != 0 || vec.Surprised != 0 {
		t.Fatalf("missing labels must stay zero: %+v", vec)
	}
	if vec.Model != "huggingface-stt" {
		t.Fatalf("unexpected model tag %q", vec.Model)
	}
}

func TestProcessMessageSkipsEmotionWithoutStorageConsent(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)
	session := env.store.SeedSession("user-1", "voice")
	env.store.SeedProfile("user-1", false, false)
	env.ai.Answers = []string{"I hear you."}

	rec := performRequest(t, env.router, http.MethodPost, "/api/messages/process-message/"+session.ID, token, map[string]any{
		"message":      map[string]any{"text": "transcribed speech"},
		"audioBase64": "c291bmQ=",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	env.app.Tasks().Wait()

	if env.emotion.Calls != 0 {
		t.Fatal("emotion scoring requires a stored user turn to attach to")
	}
	if len(env.store.Emotions) != 0 {
		t.Fatal("no emotion rows expected")
	}
}
