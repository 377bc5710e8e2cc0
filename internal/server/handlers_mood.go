package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type createMoodRequest struct {
	MoodScore int `json:"mood_score"`
}

func (a *App) checkDailyMood(c *gin.Context) {
	userID, ok := authUserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	ctx := c.Request.Context()

	hasMoodToday, err := a.store.HasMoodOnDay(ctx, userID, time.Now().UTC())
	if err != nil {
		log.Printf("check mood user=%s error: %v", userID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	moods, err := a.store.ListMoodsByUser(ctx, userID)
	if err != nil {
		log.Printf("list moods user=%s error: %v", userID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"has_mood_today": hasMoodToday,
		"moods":          moods,
	})
}

func (a *App) createDailyMood(c *gin.Context) {
	userID, ok := authUserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload createMoodRequest
	if !mustJSON(c, &payload) {
		return
	}
	if payload.MoodScore < 1 || payload.MoodScore > 5 {
		writeError(c, http.StatusBadRequest, "Invalid mood score. Must be between 1 and 5.")
		return
	}

	mood, err := a.store.SaveMood(c.Request.Context(), userID, payload.MoodScore)
	if err != nil {
		log.Printf("save mood user=%s error: %v", userID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Mood saved successfully",
		"mood":    mood,
	})
}
