package core

import (
	"context"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/store"
)

const maxChatbotNameLength = 100

type ChatbotService struct {
	chatbots store.ChatbotStore
	messages store.MessageStore
	log      *zap.Logger
	now      func() time.Time
}

func NewChatbotService(chatbots store.ChatbotStore, messages store.MessageStore, log *zap.Logger) *ChatbotService {
	return &ChatbotService{
		chatbots: chatbots,
		messages: messages,
		log:      log.Named("chatbots"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func validateChatbotName(name string) error {
	if name == "" {
		return InvalidInput("Chatbot name is required")
	}
	if utf8.RuneCountInString(name) > maxChatbotNameLength {
		return InvalidInput("Chatbot name must be at most 100 characters")
	}
	for _, r := range name {
		if r == '/' || unicode.IsControl(r) {
			return InvalidInput("Chatbot name must not contain '/' or control characters")
		}
	}
	return nil
}

// Upsert creates the owner's chatbot or replaces its context.
func (s *ChatbotService) Upsert(ctx context.Context, owner, name, contextText string) (*store.Chatbot, error) {
	owner = strings.TrimSpace(owner)
	name = strings.TrimSpace(name)
	if owner == "" {
		return nil, Unauthorized("Unauthorized: No token provided")
	}
	if err := validateChatbotName(name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(contextText) == "" {
		return nil, InvalidInput("Chatbot context is required")
	}

	now := s.now()
	bot := &store.Chatbot{
		ID:        uuid.NewString(),
		Name:      name,
		Owner:     owner,
		Context:   contextText,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.chatbots.UpsertChatbot(ctx, bot); err != nil {
		return nil, Internal("Failed to save chatbot", err)
	}
	return bot, nil
}

// ListByOwner never fails; a read error is logged and yields an empty list.
func (s *ChatbotService) ListByOwner(ctx context.Context, owner string) []store.Chatbot {
	bots, err := s.chatbots.ListChatbotsByOwner(ctx, owner)
	if err != nil {
		s.log.Error("failed to list chatbots", zap.String("owner", owner), zap.Error(err))
		return []store.Chatbot{}
	}
	return bots
}

func (s *ChatbotService) ListAll(ctx context.Context) []store.Chatbot {
	bots, err := s.chatbots.ListChatbots(ctx)
	if err != nil {
		s.log.Error("failed to list all chatbots", zap.Error(err))
		return []store.Chatbot{}
	}
	return bots
}

// FindByName prefers the requester's own chatbot, then the oldest chatbot
// with that name from any owner.
func (s *ChatbotService) FindByName(ctx context.Context, requester, name string) (*store.Chatbot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, InvalidInput("Chatbot name is required")
	}

	if requester != "" {
		bot, err := s.chatbots.GetChatbot(ctx, requester, name)
		if err != nil {
			return nil, Internal("Failed to load chatbot", err)
		}
		if bot != nil {
			return bot, nil
		}
	}

	bot, err := s.chatbots.FindChatbotByName(ctx, name)
	if err != nil {
		return nil, Internal("Failed to load chatbot", err)
	}
	if bot == nil {
		return nil, NotFound("Chatbot not found")
	}
	return bot, nil
}

// Delete removes the owner's chatbot and every message stored under its
// name. It reports false when the owner has no chatbot by that name.
func (s *ChatbotService) Delete(ctx context.Context, owner, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, InvalidInput("Chatbot name is required")
	}

	deleted, err := s.chatbots.DeleteChatbot(ctx, owner, name)
	if err != nil {
		return false, Internal("Failed to delete chatbot", err)
	}
	if !deleted {
		return false, nil
	}

	n, err := s.messages.DeleteMessagesByChatbot(ctx, name)
	if err != nil {
		return true, Internal("Chatbot deleted but its messages could not be removed", err)
	}
	s.log.Info("chatbot deleted", zap.String("owner", owner), zap.String("name", name), zap.Int64("messages", n))
	return true, nil
}
