package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/glyzaarcibal/Vera/internal/config"
)

type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AIModelRequest struct {
	SystemPrompt string
	Conversation []ChatTurn
	UserPrompt   string
}

type AIModelResponse struct {
	Answer string
	Model  string
}

// AIClient is the chat-completion endpoint behind both the response
// generator and the risk analyzer.
type AIClient interface {
	Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error)
}

// ChatCompletionsClient talks to an OpenAI-compatible chat-completions
// endpoint (the Hugging Face inference router in production).
type ChatCompletionsClient struct {
	client *openai.Client
	model  string
}

func NewChatCompletionsClient(cfg config.Config) (*ChatCompletionsClient, error) {
	token := strings.TrimSpace(cfg.HFAPIToken)
	if token == "" {
		return nil, errors.New("HUGGING_FACE_API_TOKEN is not configured")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.ChatBaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("CHAT_BASE_URL is not configured")
	}
	model := strings.TrimSpace(cfg.ChatModel)
	if model == "" {
		return nil, errors.New("CHAT_MODEL is not configured")
	}

	clientCfg := openai.DefaultConfig(token)
	clientCfg.BaseURL = baseURL
	return &ChatCompletionsClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

func (c *ChatCompletionsClient) Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Conversation)+2)
	if strings.TrimSpace(req.SystemPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: strings.TrimSpace(req.SystemPrompt),
		})
	}
	for _, turn := range req.Conversation {
		role := strings.ToLower(strings.TrimSpace(turn.Role))
		if role != openai.ChatMessageRoleUser && role != openai.ChatMessageRoleAssistant {
			continue
		}
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: content})
	}
	if strings.TrimSpace(req.UserPrompt) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: strings.TrimSpace(req.UserPrompt),
		})
	}
	if len(messages) == 0 {
		return AIModelResponse{}, errors.New("AI request input is empty")
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
	})
	if err != nil {
		return AIModelResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return AIModelResponse{}, errors.New("chat completion returned no choices")
	}

	model := strings.TrimSpace(resp.Model)
	if model == "" {
		model = c.model
	}
	return AIModelResponse{
		Answer: resp.Choices[0].Message.Content,
		Model:  model,
	}, nil
}

// MockAIClient replays scripted answers in order. Used by tests and by local
// development when no API token is configured.
type MockAIClient struct {
	mu       sync.Mutex
	Answers  []string
	Err      error
	Delay    time.Duration
	Requests []AIModelRequest

	next int
}

func (m *MockAIClient) Query(ctx context.Context, req AIModelRequest) (AIModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)
	if m.Delay > 0 {
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			m.mu.Lock()
			return AIModelResponse{}, ctx.Err()
		case <-time.After(m.Delay):
		}
		m.mu.Lock()
	}
	if m.Err != nil {
		return AIModelResponse{}, m.Err
	}
	if len(m.Answers) == 0 {
		return AIModelResponse{Answer: "Mock response.", Model: "mock"}, nil
	}
	answer := m.Answers[m.next%len(m.Answers)]
	m.next++
	return AIModelResponse{Answer: answer, Model: "mock"}, nil
}
