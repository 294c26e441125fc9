package llm

import (
	"context"
	"fmt"
	"time"

	"trade-setup-assistant/internal/media"
)

// Provider represents the LLM provider type
type Provider string

const (
	ProviderClaude Provider = "claude"
	ProviderOpenAI Provider = "openai"
)

// ClientConfig holds LLM client configuration
type ClientConfig struct {
	Provider    Provider      `json:"provider"`
	APIKey      string        `json:"api_key"`
	BaseURL     string        `json:"base_url"`
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultClientConfig returns default configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Provider:    ProviderOpenAI,
		Model:       "gpt-4o",
		MaxTokens:   4096,
		Temperature: 0.2,
		Timeout:     90 * time.Second,
	}
}

// PartKind distinguishes message parts
type PartKind string

const (
	PartText  PartKind = "text"
	PartImage PartKind = "image"
)

// Part is one element of a multimodal message
type Part struct {
	Kind  PartKind
	Text  string
	Image *media.Image
}

// TextPart wraps plain text
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// ImagePart wraps an inline image
func ImagePart(img *media.Image) Part {
	return Part{Kind: PartImage, Image: img}
}

// Reply is the model's answer to one round trip
type Reply struct {
	Text       string `json:"text"`
	TokenUsage int    `json:"tokenUsage"` // Zero when the provider omits usage
}

// ChatSession is an open conversation that keeps its own history
type ChatSession interface {
	SendTurn(ctx context.Context, parts []Part) (*Reply, error)
}

// Model is a hosted multimodal model
type Model interface {
	// Name identifies the underlying model for usage records
	Name() string
	// StartChat opens a conversation seeded with a system instruction
	StartChat(ctx context.Context, system string) (ChatSession, error)
	// Generate runs one stateless call
	Generate(ctx context.Context, system string, parts []Part) (*Reply, error)
}

// NewModel builds the configured provider
func NewModel(cfg *ClientConfig) (Model, error) {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is not configured", cfg.Provider)
	}
	switch cfg.Provider {
	case ProviderOpenAI, "":
		if cfg.Model == "" {
			cfg.Model = "gpt-4o"
		}
		return NewOpenAIModel(cfg), nil
	case ProviderClaude:
		if cfg.Model == "" {
			cfg.Model = "claude-sonnet-4-5"
		}
		return NewClaudeModel(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}
