package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sashabaranov/go-openai"

	"trade-setup-assistant/internal/logging"
)

// OpenAIModel talks to the chat completions API with image_url parts
type OpenAIModel struct {
	client *openai.Client
	config *ClientConfig
}

func NewOpenAIModel(cfg *ClientConfig) *OpenAIModel {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	logging.WithComponent("llm").Info("Initializing OpenAI client", "model", cfg.Model)
	return &OpenAIModel{
		client: openai.NewClientWithConfig(oc),
		config: cfg,
	}
}

func (m *OpenAIModel) Name() string {
	return m.config.Model
}

// StartChat opens a session whose history starts with the system message
func (m *OpenAIModel) StartChat(ctx context.Context, system string) (ChatSession, error) {
	return &openAISession{
		model: m,
		history: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
		},
	}, nil
}

// Generate runs a single system+user call
func (m *OpenAIModel) Generate(ctx context.Context, system string, parts []Part) (*Reply, error) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
		userMessage(parts),
	}
	reply, _, err := m.complete(ctx, msgs)
	return reply, err
}

func (m *OpenAIModel) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (*Reply, openai.ChatCompletionMessage, error) {
	req := openai.ChatCompletionRequest{
		Model:       m.config.Model,
		Messages:    msgs,
		MaxTokens:   m.config.MaxTokens,
		Temperature: float32(m.config.Temperature),
	}

	resp, err := m.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return nil, openai.ChatCompletionMessage{}, fmt.Errorf("OpenAI API error (status %d): %w", apiErr.HTTPStatusCode, err)
		}
		return nil, openai.ChatCompletionMessage{}, fmt.Errorf("OpenAI API call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, openai.ChatCompletionMessage{}, errors.New("OpenAI returned no choices")
	}

	msg := resp.Choices[0].Message
	logging.WithComponent("llm").Debug("Received response from OpenAI",
		"finish_reason", resp.Choices[0].FinishReason, "tokens", resp.Usage.TotalTokens)
	return &Reply{Text: msg.Content, TokenUsage: resp.Usage.TotalTokens}, msg, nil
}

// userMessage converts parts to a multi-content user message
func userMessage(parts []Part) openai.ChatCompletionMessage {
	content := make([]openai.ChatMessagePart, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case PartImage:
			content = append(content, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    p.Image.DataURL(),
					Detail: openai.ImageURLDetailHigh,
				},
			})
		default:
			content = append(content, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: p.Text,
			})
		}
	}
	return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: content}
}

// openAISession appends a turn to history only after a successful reply
type openAISession struct {
	model   *OpenAIModel
	history []openai.ChatCompletionMessage
	mu      sync.Mutex
}

func (s *openAISession) SendTurn(ctx context.Context, parts []Part) (*Reply, error) {
	s.mu.Lock()
	msgs := append(append([]openai.ChatCompletionMessage(nil), s.history...), userMessage(parts))
	s.mu.Unlock()

	reply, assistant, err := s.model.complete(ctx, msgs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.history = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: assistant.Content,
	})
	s.mu.Unlock()
	return reply, nil
}
