package server

import (
	"net/http"
	"testing"
)

func TestCreateDailyMoodStoresScore(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)

	rec := performRequest(t, env.router, http.MethodPost, "/api/moods", token, map[string]any{
		"mood_score": 4,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	body := decodeJSONMap(t, rec)
	if body["message"] != "Mood saved successfully" {
		t.Fatalf("unexpected message %v", body["message"])
	}
	mood, _ := body["mood"].(map[string]any)
	if mood["mood_score"] != float64(4) || mood["user_id"] != "user-1" {
		t.Fatalf("unexpected mood %v", mood)
	}
}

func TestCreateDailyMoodRejectsOutOfRangeScores(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)

	for _, score := range []int{0, 6, -1} {
		rec := performRequest(t, env.router, http.MethodPost, "/api/moods", token, map[string]any{
			"mood_score": score,
		})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("score %d: status %d body=%s", score, rec.Code, rec.Body.String())
		}
		if msg := responseMessage(t, rec); msg != "Invalid mood score. Must be between 1 and 5." {
			t.Errorf("score %d: unexpected message %q", score, msg)
		}
	}
	if len(env.store.Moods) != 0 {
		t.Fatalf("no moods should be stored, got %d", len(env.store.Moods))
	}
}

func TestCheckDailyMoodReportsTodayAndHistory(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "user-1", nil)

	before := performRequest(t, env.router, http.MethodGet, "/api/moods", token, nil)
	if before.Code != http.StatusOK {
		t.Fatalf("status %d body=%s", before.Code, before.Body.String())
	}
	body := decodeJSONMap(t, before)
	if body["has_mood_today"] != false {
		t.Fatalf("expected no mood recorded yet: %v", body)
	}

	create := performRequest(t, env.router, http.MethodPost, "/api/moods", token, map[string]any{
		"mood_score": 2,
	})
	if create.Code != http.StatusCreated {
		t.Fatalf("status %d body=%s", create.Code, create.Body.String())
	}

	after := performRequest(t, env.router, http.MethodGet, "/api/moods", token, nil)
	body = decodeJSONMap(t, after)
	if body["has_mood_today"] != true {
		t.Fatalf("expected a mood recorded today: %v", body)
	}
	moods, _ := body["moods"].([]any)
	if len(moods) != 1 {
		t.Fatalf("expected 1 mood in history, got %d", len(moods))
	}
}
