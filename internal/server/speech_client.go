package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/glyzaarcibal/Vera/internal/config"
	"github.com/glyzaarcibal/Vera/internal/store"
)

const emotionModelTag = "huggingface-stt"

// EmotionScore is one labeled score from the speech-emotion endpoint.
type EmotionScore struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// EmotionClient is the speech-emotion endpoint used for voice turns.
type EmotionClient interface {
	Classify(ctx context.Context, audioBase64 string) ([]EmotionScore, error)
}

// HFEmotionClient posts base64 audio to a Hugging Face inference endpoint
// that returns an array of labeled scores.
type HFEmotionClient struct {
	endpoint   string
	apiToken   string
	httpClient *http.Client
}

func NewHFEmotionClient(cfg config.Config) *HFEmotionClient {
	timeoutSeconds := cfg.AITimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = 30
	}
	return &HFEmotionClient{
		endpoint: strings.TrimSpace(cfg.SpeechEndpoint),
		apiToken: strings.TrimSpace(cfg.HFAPIToken),
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
	}
}

func (c *HFEmotionClient) Classify(ctx context.Context, audioBase64 string) ([]EmotionScore, error) {
	if c.endpoint == "" {
		return nil, errors.New("SPEECH_EMOTION_ENDPOINT is not configured")
	}

	payload, err := json.Marshal(map[string]any{
		"inputs":     audioBase64,
		"parameters": map[string]any{},
	})
	if err != nil {
		return nil, err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiToken)
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("speech emotion request: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("speech emotion response: %w", err)
	}
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, fmt.Errorf("speech emotion error (%d): %s", response.StatusCode, strings.TrimSpace(string(body)))
	}

	var scores []EmotionScore
	if err := json.Unmarshal(body, &scores); err != nil {
		return nil, fmt.Errorf("speech emotion response is not a score array: %w", err)
	}
	return scores, nil
}

// reduceEmotionScores folds labeled scores into the seven-field vector.
// Labels missing from the response stay at 0.
func reduceEmotionScores(scores []EmotionScore, messageID string) store.EmotionVector {
	vec := store.EmotionVector{
		MessageID: messageID,
		Model:     emotionModelTag,
	}
	for _, item := range scores {
		switch strings.ToLower(strings.TrimSpace(item.Label)) {
		case "sad":
			vec.Sad = item.Score
		case "angry":
			vec.Angry = item.Score
		case "happy":
			vec.Happy = item.Score
		case "disgust":
			vec.Disgust = item.Score
		case "fearful":
			vec.Fearful = item.Score
		case "neutral":
			vec.Neutral = item.Score
		case "surprised":
			vec.Surprised = item.Score
		}
	}
	return vec
}

// MockEmotionClient returns fixed scores for tests.
type MockEmotionClient struct {
	mu     sync.Mutex
	Scores []EmotionScore
	Err    error
	Calls  int
}

func (m *MockEmotionClient) Classify(_ context.Context, _ string) ([]EmotionScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Scores, nil
}
