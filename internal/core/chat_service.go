package core

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/llm"
	"chatbotmaker.dev/chatbot-maker/internal/store"
)

const missingKeyMessage = "Server misconfigured: API key missing. Please set GROQ_API_KEY or LLM_API_KEY"

// ChatService runs chat turns against the LLM gateway. client may be nil
// when no provider key is configured; every turn then fails as misconfigured.
type ChatService struct {
	chatbots *ChatbotService
	messages *MessageService
	client   llm.Client
	opts     SessionOptions
	log      *zap.Logger
}

func NewChatService(chatbots *ChatbotService, messages *MessageService, client llm.Client, opts SessionOptions, log *zap.Logger) *ChatService {
	return &ChatService{
		chatbots: chatbots,
		messages: messages,
		client:   client,
		opts:     opts,
		log:      log.Named("chat"),
	}
}

type AskInput struct {
	Text    string
	Context string
	History []Turn
}

// Ask answers one stateless turn; nothing is stored.
func (s *ChatService) Ask(ctx context.Context, in AskInput) (string, error) {
	if strings.TrimSpace(in.Text) == "" {
		return "", InvalidInput("Missing 'text'")
	}
	if s.client == nil {
		return "", Misconfigured(missingKeyMessage)
	}

	req, err := BuildConversation(in.Context, in.History, in.Text, s.opts)
	if err != nil {
		return "", err
	}
	return s.complete(ctx, req)
}

type ConverseResult struct {
	Reply       string
	UserMessage *store.Message
	BotMessage  *store.Message
}

// Converse runs a turn against a stored chatbot using the requester's logged
// history. The user message is logged before the provider is called and is
// kept when the call fails.
func (s *ChatService) Converse(ctx context.Context, requester, chatbotName, text string) (*ConverseResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, InvalidInput("Missing 'text'")
	}
	if s.client == nil {
		return nil, Misconfigured(missingKeyMessage)
	}

	bot, err := s.chatbots.FindByName(ctx, requester, chatbotName)
	if err != nil {
		return nil, err
	}

	logged := s.messages.List(ctx, bot.Name, requester)
	history := make([]Turn, 0, len(logged))
	for _, m := range logged {
		history = append(history, Turn{Role: m.Role, Text: m.Text})
	}

	userMsg, err := s.messages.Append(ctx, bot.Name, requester, store.RoleUser, text)
	if err != nil {
		return nil, err
	}

	req, err := BuildConversation(bot.Context, history, text, s.opts)
	if err != nil {
		return nil, err
	}
	reply, err := s.complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(reply) == "" {
		return nil, Internal("Empty response from AI", nil)
	}

	botMsg, err := s.messages.Append(ctx, bot.Name, requester, store.RoleBot, reply)
	if err != nil {
		return nil, err
	}
	return &ConverseResult{Reply: reply, UserMessage: userMsg, BotMessage: botMsg}, nil
}

// complete passes provider status errors through untouched so the HTTP
// layer can report them as upstream failures.
func (s *ChatService) complete(ctx context.Context, req llm.Request) (string, error) {
	reply, err := s.client.Complete(ctx, req)
	if err == nil {
		return reply, nil
	}
	var serr *llm.StatusError
	if errors.As(err, &serr) {
		s.log.Warn("llm provider rejected request", zap.Int("status", serr.StatusCode), zap.String("body", serr.Body))
		return "", err
	}
	s.log.Error("llm request failed", zap.Error(err))
	return "", Internal("AI request failed", err)
}
