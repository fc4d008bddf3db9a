package core

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/store"
)

type MessageService struct {
	messages store.MessageStore
	log      *zap.Logger
	now      func() time.Time
}

func NewMessageService(messages store.MessageStore, log *zap.Logger) *MessageService {
	return &MessageService{
		messages: messages,
		log:      log.Named("messages"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MessageService) Append(ctx context.Context, chatbotName, userEmail, role, text string) (*store.Message, error) {
	chatbotName = strings.TrimSpace(chatbotName)
	if chatbotName == "" {
		return nil, InvalidInput("Chatbot name is required")
	}
	if strings.TrimSpace(userEmail) == "" {
		return nil, InvalidInput("User email is required")
	}
	if role != store.RoleUser && role != store.RoleBot {
		return nil, InvalidInput("Role must be 'user' or 'bot'")
	}
	if strings.TrimSpace(text) == "" {
		return nil, InvalidInput("Message text is required")
	}

	msg := &store.Message{
		ID:          uuid.NewString(),
		ChatbotName: chatbotName,
		UserEmail:   userEmail,
		Role:        role,
		Text:        text,
		CreatedAt:   s.now(),
	}
	if err := s.messages.AppendMessage(ctx, msg); err != nil {
		return nil, Internal("Failed to save message", err)
	}
	return msg, nil
}

// List returns the user's conversation with the chatbot, oldest first. A read
// error is logged and yields an empty list.
func (s *MessageService) List(ctx context.Context, chatbotName, userEmail string) []store.Message {
	msgs, err := s.messages.ListMessages(ctx, strings.TrimSpace(chatbotName), userEmail)
	if err != nil {
		s.log.Error("failed to list messages",
			zap.String("chatbot", chatbotName), zap.String("user", userEmail), zap.Error(err))
		return []store.Message{}
	}
	return msgs
}
