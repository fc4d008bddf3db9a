// Package llm talks to hosted chat-completion providers.
package llm

import (
	"context"
	"errors"
	"fmt"

	"chatbotmaker.dev/chatbot-maker/internal/config"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request is one completion call. MaxTokens of zero leaves the provider default.
type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Close() error
}

// ErrNoAPIKey is returned by New when a real provider has no key configured.
var ErrNoAPIKey = errors.New("llm api key missing")

// StatusError is a non-success answer from the provider.
type StatusError struct {
	StatusCode int
	Body       string
	// Details is the decoded JSON body when the provider returned JSON.
	Details any
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm provider returned status %d", e.StatusCode)
}

// New builds the client for cfg.Provider.
func New(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	switch cfg.Provider {
	case config.ProviderMock:
		return NewMockClient(), nil
	case config.ProviderGemini:
		if cfg.APIKey == "" {
			return nil, ErrNoAPIKey
		}
		return NewGeminiClient(ctx, cfg.APIKey, cfg.Model)
	case config.ProviderOpenAI, "":
		if cfg.APIKey == "" {
			return nil, ErrNoAPIKey
		}
		return NewOpenAIClient(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
