package server

import (
	"net/http"
	"testing"
)

func TestCreateDoctorNoteAttachesToSession(t *testing.T) {
	env := newTestEnv(t)
	session := env.store.SeedSession("patient-1", "text")
	token := signToken(t, "doctor-1", nil)

	rec := performRequest(t, env.router, http.MethodPost, "/api/doctor/notes", token, map[string]any{
		"session_id": session.ID,
		"note":       "  recommend weekly check-in  ",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
	note, _ := decodeJSONMap(t, rec)["note"].(map[string]any)
	if note["session_id"] != session.ID {
		t.Fatalf("unexpected note session %v", note["session_id"])
	}
	if note["doctor_id"] != "doctor-1" {
		t.Fatalf("note must carry the authenticated doctor id, got %v", note["doctor_id"])
	}
	if note["note"] != "recommend weekly check-in" {
		t.Fatalf("unexpected note text %v", note["note"])
	}
}

func TestCreateDoctorNoteUnknownSessionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	token := signToken(t, "doctor-1", nil)

	rec := performRequest(t, env.router, http.MethodPost, "/api/doctor/notes", token, map[string]any{
		"session_id": "missing",
		"note":       "anything",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestCreateDoctorNoteRequiresNoteText(t *testing.T) {
	env := newTestEnv(t)
	session := env.store.SeedSession("patient-1", "text")
	token := signToken(t, "doctor-1", nil)

	rec := performRequest(t, env.router, http.MethodPost, "/api/doctor/notes", token, map[string]any{
		"session_id": session.ID,
		"note":       "   ",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d body=%s", rec.Code, rec.Body.String())
	}
}
