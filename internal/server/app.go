package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/glyzaarcibal/Vera/internal/config"
	"github.com/glyzaarcibal/Vera/internal/store"
)

type App struct {
	cfg      config.Config
	store    store.DataStore
	ai       AIClient
	emotion  EmotionClient
	analyzer *RiskAnalyzer
	tasks    *TaskRunner
}

// New wires the HTTP layer. All external collaborators (store, chat
// completion client, speech-emotion client) are injected; lifecycle is owned
// by the caller.
func New(cfg config.Config, st store.DataStore, ai AIClient, emotion EmotionClient) *App {
	taskTimeout := time.Duration(cfg.AITimeoutSeconds) * time.Second
	if taskTimeout <= 0 {
		taskTimeout = 30 * time.Second
	}
	return &App{
		cfg:      cfg,
		store:    st,
		ai:       ai,
		emotion:  emotion,
		analyzer: NewRiskAnalyzer(ai, st),
		tasks:    NewTaskRunner(taskTimeout),
	}
}

// Tasks exposes the background runner so the entry point can drain in-flight
// work on shutdown and tests can wait for fire-and-forget side effects.
func (a *App) Tasks() *TaskRunner {
	return a.tasks
}

func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     a.cfg.CORSAllowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", a.health)

	api := router.Group(a.cfg.APIPrefix)
	api.Use(a.authMiddleware())

	api.POST("/sessions/start-session/:type", a.startSession)
	api.GET("/sessions/fetch-chat/:session_id", a.fetchChat)
	api.GET("/sessions/user/:user_id", a.listUserSessions)
	api.POST("/messages/process-message/:session_id", a.processMessage)
	api.GET("/profile/permissions", a.getProfilePermissions)
	api.PATCH("/profile/permissions", a.updateProfilePermissions)
	api.GET("/moods", a.checkDailyMood)
	api.POST("/moods", a.createDailyMood)
	api.POST("/doctor/notes", a.createDoctorNote)

	return router
}

func (a *App) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "vera-api",
	})
}

// authMiddleware validates the bearer token issued by the identity provider
// and exposes the token subject as the requesting user id.
func (a *App) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}
		tokenString := strings.TrimSpace(authHeader[len("Bearer "):])
		if tokenString == "" {
			writeError(c, http.StatusUnauthorized, "Bearer token required")
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if token.Method == nil || token.Method.Alg() != a.cfg.JWTAlgorithm {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(a.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(c, http.StatusUnauthorized, "Invalid bearer token")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			writeError(c, http.StatusUnauthorized, "Invalid token payload")
			return
		}
		if a.cfg.JWTAudience != "" && !claimHasAudience(claims["aud"], a.cfg.JWTAudience) {
			writeError(c, http.StatusUnauthorized, "Invalid token audience")
			return
		}
		if a.cfg.JWTIssuer != "" {
			issuer, _ := claims["iss"].(string)
			if issuer != a.cfg.JWTIssuer {
				writeError(c, http.StatusUnauthorized, "Invalid token issuer")
				return
			}
		}
		sub, _ := claims["sub"].(string)
		sub = strings.TrimSpace(sub)
		if sub == "" {
			writeError(c, http.StatusUnauthorized, "Token subject missing")
			return
		}

		c.Set("userID", sub)
		c.Next()
	}
}

func claimHasAudience(value any, audience string) bool {
	switch v := value.(type) {
	case string:
		return v == audience
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && s == audience {
				return true
			}
		}
	case []string:
		for _, item := range v {
			if item == audience {
				return true
			}
		}
	}
	return false
}

func authUserIDFromContext(c *gin.Context) (string, bool) {
	raw, ok := c.Get("userID")
	if !ok {
		return "", false
	}
	userID, ok := raw.(string)
	return userID, ok && userID != ""
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"message": detail})
}

func mustJSON(c *gin.Context, payload any) bool {
	if err := c.ShouldBindJSON(payload); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	return true
}
