package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// MemoryStore keeps everything in process memory. Tokens live in a go-cache
// so expired entries are purged without a sweeper of our own.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]User
	chatbots []Chatbot
	messages []Message

	tokens *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]User),
		tokens: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error {
	s.tokens.Flush()
	return nil
}

// User methods
func (s *MemoryStore) CreateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Email]; ok {
		return ErrDuplicate
	}
	s.users[user.Email] = *user
	return nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[email]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Token methods
func (s *MemoryStore) SaveToken(ctx context.Context, token *Token) error {
	ttl := cache.NoExpiration
	if !token.ExpiresAt.IsZero() {
		ttl = time.Until(token.ExpiresAt)
		if ttl <= 0 {
			return nil
		}
	}
	t := *token
	s.tokens.Set(token.Token, &t, ttl)
	return nil
}

func (s *MemoryStore) GetToken(ctx context.Context, token string) (*Token, error) {
	if x, found := s.tokens.Get(token); found {
		t := *x.(*Token)
		return &t, nil
	}
	return nil, nil
}

func (s *MemoryStore) DeleteToken(ctx context.Context, token string) error {
	s.tokens.Delete(token)
	return nil
}

// Chatbot methods
func (s *MemoryStore) UpsertChatbot(ctx context.Context, bot *Chatbot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chatbots {
		existing := &s.chatbots[i]
		if existing.Owner == bot.Owner && existing.Name == bot.Name {
			existing.Context = bot.Context
			existing.UpdatedAt = bot.UpdatedAt
			*bot = *existing
			return nil
		}
	}
	s.chatbots = append(s.chatbots, *bot)
	return nil
}

func (s *MemoryStore) GetChatbot(ctx context.Context, owner, name string) (*Chatbot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.chatbots {
		if b.Owner == owner && b.Name == name {
			return &b, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindChatbotByName(ctx context.Context, name string) (*Chatbot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *Chatbot
	for i := range s.chatbots {
		b := s.chatbots[i]
		if b.Name != name {
			continue
		}
		if found == nil || b.CreatedAt.Before(found.CreatedAt) {
			found = &b
		}
	}
	return found, nil
}

func (s *MemoryStore) ListChatbotsByOwner(ctx context.Context, owner string) ([]Chatbot, error) {
	return s.filterChatbots(func(b Chatbot) bool { return b.Owner == owner }), nil
}

func (s *MemoryStore) ListChatbots(ctx context.Context) ([]Chatbot, error) {
	return s.filterChatbots(func(Chatbot) bool { return true }), nil
}

func (s *MemoryStore) filterChatbots(keep func(Chatbot) bool) []Chatbot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Chatbot{}
	for _, b := range s.chatbots {
		if keep(b) {
			out = append(out, b)
		}
	}
	sortChatbots(out)
	return out
}

func (s *MemoryStore) DeleteChatbot(ctx context.Context, owner, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, b := range s.chatbots {
		if b.Owner == owner && b.Name == name {
			s.chatbots = append(s.chatbots[:i], s.chatbots[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// Message methods
func (s *MemoryStore) AppendMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, *msg)
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, chatbotName, userEmail string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Message{}
	for _, m := range s.messages {
		if m.ChatbotName == chatbotName && m.UserEmail == userEmail {
			out = append(out, m)
		}
	}
	sortMessages(out)
	return out, nil
}

func (s *MemoryStore) DeleteMessagesByChatbot(ctx context.Context, chatbotName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.messages[:0]
	var removed int64
	for _, m := range s.messages {
		if m.ChatbotName == chatbotName {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.messages = kept
	return removed, nil
}

// sortChatbots orders by CreatedAt, keeping insertion order for ties.
func sortChatbots(bots []Chatbot) {
	sort.SliceStable(bots, func(i, j int) bool { return bots[i].CreatedAt.Before(bots[j].CreatedAt) })
}

func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].CreatedAt.Before(msgs[j].CreatedAt) })
}
