package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/glyzaarcibal/Vera/internal/store"
)

// analysisThreshold gates risk analysis on conversation length. The count
// comes from the client-supplied history plus the pair just exchanged.
const analysisThreshold = 5

// recentTurnLimit caps how much history accompanies a generation request.
const recentTurnLimit = 5

type incomingMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type processMessageRequest struct {
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
	Messages    []incomingMessage `json:"messages"`
	AudioBase64 string            `json:"audioBase64"`
}

func (a *App) startSession(c *gin.Context) {
	userID, ok := authUserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessionType := c.Param("type")
	if sessionType != store.SessionTypeText && sessionType != store.SessionTypeVoice {
		writeError(c, http.StatusBadRequest, "Invalid session type. Must be 'text' or 'voice'.")
		return
	}

	session, err := a.store.CreateSession(c.Request.Context(), userID, sessionType)
	if err != nil {
		log.Printf("start session user=%s error: %v", userID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (a *App) fetchChat(c *gin.Context) {
	if _, ok := authUserIDFromContext(c); !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	ctx := c.Request.Context()

	session, err := a.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(c, http.StatusNotFound, "Session not found")
			return
		}
		log.Printf("fetch chat session=%s error: %v", sessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	messages, err := a.store.ListMessagesBySession(ctx, sessionID)
	if err != nil {
		log.Printf("fetch chat messages session=%s error: %v", sessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	emotions, err := a.store.ListEmotionsBySession(ctx, sessionID)
	if err != nil {
		log.Printf("fetch chat emotions session=%s error: %v", sessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	notes, err := a.store.ListDoctorNotesBySession(ctx, sessionID)
	if err != nil {
		log.Printf("fetch chat notes session=%s error: %v", sessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	type chatEntry struct {
		store.Message
		Emotion *store.EmotionVector `json:"emotion,omitempty"`
	}
	chat := make([]chatEntry, 0, len(messages))
	for _, msg := range messages {
		entry := chatEntry{Message: msg}
		if vec, found := emotions[msg.ID]; found {
			vecCopy := vec
			entry.Emotion = &vecCopy
		}
		chat = append(chat, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"chat": chat,
		"sessionInfo": gin.H{
			"session":     session,
			"doctorNotes": notes,
		},
	})
}

func (a *App) listUserSessions(c *gin.Context) {
	authUserID, ok := authUserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	userID := c.Param("user_id")
	if userID == "" {
		userID = authUserID
	}

	filter := store.SessionFilter{Page: 1, Limit: 10}
	if raw := c.Query("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(c, http.StatusBadRequest, "Invalid page parameter")
			return
		}
		filter.Page = page
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 100 {
			writeError(c, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
		filter.Limit = limit
	}
	if sessionType := c.Query("type"); sessionType != "" {
		if sessionType != store.SessionTypeText && sessionType != store.SessionTypeVoice {
			writeError(c, http.StatusBadRequest, "Invalid session type. Must be 'text' or 'voice'.")
			return
		}
		filter.Type = sessionType
	}
	if raw := c.Query("riskLevels"); raw != "" {
		for _, level := range strings.Split(raw, ",") {
			level = strings.TrimSpace(level)
			if level == "" {
				continue
			}
			if !validRiskLevel(level) {
				writeError(c, http.StatusBadRequest, fmt.Sprintf("Invalid risk level %q", level))
				return
			}
			filter.RiskLevels = append(filter.RiskLevels, level)
		}
	}

	page, err := a.store.ListSessionsByUser(c.Request.Context(), userID, filter)
	if err != nil {
		log.Printf("list sessions user=%s error: %v", userID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	c.JSON(http.StatusOK, page)
}

// processMessage is one conversational turn: read consent, build history,
// persist the user turn when allowed, generate the reply, then hand
// persistence of the bot turn and any due risk analysis to the background
// runner. Only the consent lookup and generation surface failures to the
// caller; everything after the reply exists is logged and swallowed.
func (a *App) processMessage(c *gin.Context) {
	userID, ok := authUserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sessionID := c.Param("session_id")

	var payload processMessageRequest
	if !mustJSON(c, &payload) {
		return
	}
	text := strings.TrimSpace(payload.Message.Text)
	if text == "" {
		writeError(c, http.StatusBadRequest, "Message text is required")
		return
	}

	ctx := c.Request.Context()

	perms, err := a.store.GetPermissions(ctx, userID)
	if err != nil {
		log.Printf("process message user=%s consent lookup error: %v", userID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	history := a.loadRecentTurns(ctx, sessionID, perms.PermitStore, payload.Messages)

	userMsgID := ""
	if perms.PermitStore {
		saved, err := a.store.AppendMessage(ctx, store.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Content:   text,
			SentBy:    store.SentByUser,
		})
		if err != nil {
			log.Printf("persist user message session=%s error: %v", sessionID, err)
		} else {
			userMsgID = saved.ID
		}
	}

	if payload.AudioBase64 != "" && userMsgID != "" {
		audio := payload.AudioBase64
		msgID := userMsgID
		a.tasks.Go("transcribe-emotion", func(taskCtx context.Context) error {
			return a.scoreAndStoreEmotion(taskCtx, msgID, audio)
		})
	}

	reply, err := a.generateReply(ctx, history, text)
	if err != nil {
		log.Printf("generate reply session=%s error: %v", sessionID, err)
		writeError(c, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	analyzeDue := perms.PermitAnalyze && len(payload.Messages)+2 > analysisThreshold

	if perms.PermitStore {
		// The bot turn must land before analysis reads the stored
		// transcript, so both stay in one task.
		a.tasks.Go("persist-bot-and-analyze", func(taskCtx context.Context) error {
			if _, err := a.store.AppendMessage(taskCtx, store.Message{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				Content:   reply,
				SentBy:    store.SentByBot,
			}); err != nil {
				log.Printf("persist bot message session=%s error: %v", sessionID, err)
			}
			if !analyzeDue {
				return nil
			}
			stored, err := a.store.ListMessagesBySession(taskCtx, sessionID)
			if err != nil {
				return fmt.Errorf("load transcript for analysis: %w", err)
			}
			transcript := make([]ChatTurn, 0, len(stored))
			for _, msg := range stored {
				transcript = append(transcript, ChatTurn{Role: msg.SentBy, Content: msg.Content})
			}
			if _, err := a.analyzer.Analyze(taskCtx, sessionID, transcript); err != nil {
				if errors.Is(err, ErrAnalysisInFlight) {
					return nil
				}
				return err
			}
			return nil
		})
	} else if analyzeDue {
		transcript := make([]ChatTurn, 0, len(payload.Messages)+2)
		for _, msg := range payload.Messages {
			role := store.SentByBot
			if msg.Type == "user" {
				role = store.SentByUser
			}
			transcript = append(transcript, ChatTurn{Role: role, Content: msg.Text})
		}
		transcript = append(transcript,
			ChatTurn{Role: store.SentByUser, Content: text},
			ChatTurn{Role: store.SentByBot, Content: reply},
		)
		a.tasks.Go("analyze-session", func(taskCtx context.Context) error {
			if _, err := a.analyzer.Analyze(taskCtx, sessionID, transcript); err != nil && !errors.Is(err, ErrAnalysisInFlight) {
				return err
			}
			return nil
		})
	}

	c.JSON(http.StatusOK, gin.H{"response": reply})
}

// loadRecentTurns returns up to the last recentTurnLimit turns for the
// generation request. When storage consent is on, the stored transcript is
// authoritative; otherwise the client-supplied history is all there is.
func (a *App) loadRecentTurns(ctx context.Context, sessionID string, permitStore bool, clientHistory []incomingMessage) []ChatTurn {
	if permitStore {
		stored, err := a.store.ListMessagesBySession(ctx, sessionID)
		if err != nil {
			log.Printf("load history session=%s error: %v", sessionID, err)
			return nil
		}
		if len(stored) > recentTurnLimit {
			stored = stored[len(stored)-recentTurnLimit:]
		}
		turns := make([]ChatTurn, 0, len(stored))
		for _, msg := range stored {
			role := "assistant"
			if msg.SentBy == store.SentByUser {
				role = "user"
			}
			turns = append(turns, ChatTurn{Role: role, Content: msg.Content})
		}
		return turns
	}

	history := clientHistory
	if len(history) > recentTurnLimit {
		history = history[len(history)-recentTurnLimit:]
	}
	turns := make([]ChatTurn, 0, len(history))
	for _, msg := range history {
		role := "assistant"
		if msg.Type == "user" {
			role = "user"
		}
		turns = append(turns, ChatTurn{Role: role, Content: msg.Text})
	}
	return turns
}

func (a *App) generateReply(ctx context.Context, history []ChatTurn, text string) (string, error) {
	resp, err := a.ai.Query(ctx, AIModelRequest{
		SystemPrompt: personaPrompt,
		Conversation: history,
		UserPrompt:   text,
	})
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(resp.Answer)
	if answer == "" {
		return "", errors.New("chat endpoint returned an empty reply")
	}
	return answer, nil
}

func (a *App) scoreAndStoreEmotion(ctx context.Context, messageID, audioBase64 string) error {
	scores, err := a.emotion.Classify(ctx, audioBase64)
	if err != nil {
		return fmt.Errorf("classify emotion message=%s: %w", messageID, err)
	}
	vec := reduceEmotionScores(scores, messageID)
	if err := a.store.SaveEmotion(ctx, vec); err != nil {
		return fmt.Errorf("save emotion message=%s: %w", messageID, err)
	}
	return nil
}
