// Package store persists users, session tokens, chatbots and messages.
//
// Lookups that find nothing return (nil, nil), the same as the rest of the
// codebase treats "not found" at this layer. Every backend keeps messages
// in ascending creation order with insertion order breaking ties.
package store

import (
	"context"
	"errors"
)

var (
	// ErrDuplicate is returned when inserting a user whose email already exists.
	ErrDuplicate = errors.New("record already exists")
	// ErrNotFound is returned by operations that require an existing record.
	ErrNotFound = errors.New("record not found")
)

type UserStore interface {
	CreateUser(ctx context.Context, user *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

type TokenStore interface {
	SaveToken(ctx context.Context, token *Token) error
	GetToken(ctx context.Context, token string) (*Token, error)
	DeleteToken(ctx context.Context, token string) error
}

type ChatbotStore interface {
	// UpsertChatbot inserts or overwrites the chatbot keyed by (Owner, Name).
	// An existing record keeps its ID and CreatedAt; bot is updated in place.
	UpsertChatbot(ctx context.Context, bot *Chatbot) error
	GetChatbot(ctx context.Context, owner, name string) (*Chatbot, error)
	// FindChatbotByName returns the oldest chatbot with the name across all owners.
	FindChatbotByName(ctx context.Context, name string) (*Chatbot, error)
	ListChatbotsByOwner(ctx context.Context, owner string) ([]Chatbot, error)
	ListChatbots(ctx context.Context) ([]Chatbot, error)
	// DeleteChatbot reports whether a record was removed.
	DeleteChatbot(ctx context.Context, owner, name string) (bool, error)
}

type MessageStore interface {
	AppendMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, chatbotName, userEmail string) ([]Message, error)
	DeleteMessagesByChatbot(ctx context.Context, chatbotName string) (int64, error)
}

type Store interface {
	UserStore
	TokenStore
	ChatbotStore
	MessageStore

	Ping(ctx context.Context) error
	Close() error
}

// withTokens routes token operations to a separate registry.
type withTokens struct {
	Store
	tokens TokenStore
	closer func() error
}

// WithTokenStore returns s with its token registry replaced by tokens.
// closeTokens, when non-nil, runs after s is closed.
func WithTokenStore(s Store, tokens TokenStore, closeTokens func() error) Store {
	return &withTokens{Store: s, tokens: tokens, closer: closeTokens}
}

func (w *withTokens) SaveToken(ctx context.Context, token *Token) error {
	return w.tokens.SaveToken(ctx, token)
}

func (w *withTokens) GetToken(ctx context.Context, token string) (*Token, error) {
	return w.tokens.GetToken(ctx, token)
}

func (w *withTokens) DeleteToken(ctx context.Context, token string) error {
	return w.tokens.DeleteToken(ctx, token)
}

func (w *withTokens) Close() error {
	err := w.Store.Close()
	if w.closer != nil {
		if cerr := w.closer(); err == nil {
			err = cerr
		}
	}
	return err
}
