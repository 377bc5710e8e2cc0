package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/glyzaarcibal/Vera/internal/store"
)

type createDoctorNoteRequest struct {
	SessionID string `json:"session_id"`
	Note      string `json:"note"`
}

func (a *App) createDoctorNote(c *gin.Context) {
	doctorID, ok := authUserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload createDoctorNoteRequest
	if !mustJSON(c, &payload) {
		return
	}
	if payload.SessionID == "" {
		writeError(c, http.StatusBadRequest, "session_id is required")
		return
	}
	if strings.TrimSpace(payload.Note) == "" {
		writeError(c, http.StatusBadRequest, "Note text is required")
		return
	}

	ctx := c.Request.Context()

	if _, err := a.store.GetSession(ctx, payload.SessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "Session not found")
			return
		}
		log.Printf("doctor note session=%s lookup error: %v", payload.SessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	note, err := a.store.SaveDoctorNote(ctx, store.DoctorNote{
		SessionID: payload.SessionID,
		DoctorID:  doctorID,
		Note:      strings.TrimSpace(payload.Note),
	})
	if err != nil {
		log.Printf("save doctor note session=%s error: %v", payload.SessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"note": note})
}
