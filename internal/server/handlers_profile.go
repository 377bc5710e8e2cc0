package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/glyzaarcibal/Vera/internal/store"
)

type updatePermissionsRequest struct {
	PermitStore   *bool `json:"permit_store"`
	PermitAnalyze *bool `json:"permit_analyze"`
}

func (a *App) getProfilePermissions(c *gin.Context) {
	userID, ok := authUserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	perms, err := a.store.GetPermissions(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "Profile not found")
			return
		}
		log.Printf("get permissions user=%s error: %v", userID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}

func (a *App) updateProfilePermissions(c *gin.Context) {
	userID, ok := authUserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var payload updatePermissionsRequest
	if !mustJSON(c, &payload) {
		return
	}
	if payload.PermitStore == nil && payload.PermitAnalyze == nil {
		writeError(c, http.StatusBadRequest, "At least one of permit_store or permit_analyze is required")
		return
	}

	perms, err := a.store.UpdatePermissions(c.Request.Context(), userID, payload.PermitStore, payload.PermitAnalyze)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "Profile not found")
			return
		}
		log.Printf("update permissions user=%s error: %v", userID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"permissions": perms})
}
