package llm

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
)

const defaultClaudeURL = "https://api.anthropic.com"

// ClaudeModel talks to the Messages API over plain HTTP
type ClaudeModel struct {
	config     *ClientConfig
	baseURL    string
	httpClient *http.Client
}

func NewClaudeModel(cfg *ClientConfig) *ClaudeModel {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultClaudeURL
	}
	return &ClaudeModel{
		config:  cfg,
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// claudeBlock is a single content block of a message
type claudeBlock struct {
	Type   string        `json:"type"`
	Text   string        `json:"text,omitempty"`
	Source *claudeSource `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeMessage struct {
	Role    string        `json:"role"`
	Content []claudeBlock `json:"content"`
}

// ClaudeRequest represents a Claude API request
type ClaudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
}

// ClaudeResponse represents a Claude API response
type ClaudeResponse struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (m *ClaudeModel) Name() string {
	return m.config.Model
}

func (m *ClaudeModel) StartChat(ctx context.Context, system string) (ChatSession, error) {
	return &claudeSession{model: m, system: system}, nil
}

func (m *ClaudeModel) Generate(ctx context.Context, system string, parts []Part) (*Reply, error) {
	return m.send(ctx, system, []claudeMessage{toClaudeMessage("user", parts)})
}

func toClaudeMessage(role string, parts []Part) claudeMessage {
	blocks := make([]claudeBlock, 0, len(parts))
	for _, p := range parts {
		if p.Kind == PartImage {
			blocks = append(blocks, claudeBlock{
				Type: "image",
				Source: &claudeSource{
					Type:      "base64",
					MediaType: p.Image.MIMEType,
					Data:      p.Image.Base64(),
				},
			})
			continue
		}
		blocks = append(blocks, claudeBlock{Type: "text", Text: p.Text})
	}
	return claudeMessage{Role: role, Content: blocks}
}

// send posts one Messages request
func (m *ClaudeModel) send(ctx context.Context, system string, msgs []claudeMessage) (*Reply, error) {
	req := ClaudeRequest{
		Model:       m.config.Model,
		MaxTokens:   m.config.MaxTokens,
		Temperature: m.config.Temperature,
		System:      system,
		Messages:    msgs,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", m.config.APIKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := m.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var claudeResp ClaudeResponse
	if err := json.Unmarshal(respBody, &claudeResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response (status %d): %w", resp.StatusCode, err)
	}
	if claudeResp.Error != nil {
		return nil, fmt.Errorf("API error (status %d): %s - %s", resp.StatusCode, claudeResp.Error.Type, claudeResp.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var text strings.Builder
	for _, c := range claudeResp.Content {
		if c.Type == "text" {
			text.WriteString(c.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("empty response from Claude")
	}

	return &Reply{
		Text:       text.String(),
		TokenUsage: claudeResp.Usage.InputTokens + claudeResp.Usage.OutputTokens,
	}, nil
}

// claudeSession resends the full history each turn; the API is stateless
type claudeSession struct {
	model   *ClaudeModel
	system  string
	history []claudeMessage
	mu      sync.Mutex
}

func (s *claudeSession) SendTurn(ctx context.Context, parts []Part) (*Reply, error) {
	s.mu.Lock()
	msgs := append(append([]claudeMessage(nil), s.history...), toClaudeMessage("user", parts))
	s.mu.Unlock()

	reply, err := s.model.send(ctx, s.system, msgs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.history = append(msgs, claudeMessage{
		Role:    "assistant",
		Content: []claudeBlock{{Type: "text", Text: reply.Text}},
	})
	s.mu.Unlock()
	return reply, nil
}
