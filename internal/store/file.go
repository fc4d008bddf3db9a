package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	usersFile    = "users.json"
	tokensFile   = "tokens.json"
	chatbotsFile = "chatbots.json"
	messagesFile = "messages.json"
)

// FileStore serves reads from memory and rewrites the affected JSON file
// under dir after every write. Files are replaced atomically via rename.
type FileStore struct {
	*MemoryStore

	dir string
	mu  sync.Mutex // serializes write+persist
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir %s: %w", dir, err)
	}
	s := &FileStore{MemoryStore: NewMemoryStore(), dir: dir}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Ping(ctx context.Context) error {
	_, err := os.Stat(s.dir)
	return err
}

func (s *FileStore) load() error {
	var users []User
	if err := s.readJSON(usersFile, &users); err != nil {
		return err
	}
	for _, u := range users {
		s.users[u.Email] = u
	}

	var tokens []Token
	if err := s.readJSON(tokensFile, &tokens); err != nil {
		return err
	}
	for i := range tokens {
		_ = s.MemoryStore.SaveToken(context.Background(), &tokens[i])
	}

	if err := s.readJSON(chatbotsFile, &s.chatbots); err != nil {
		return err
	}
	return s.readJSON(messagesFile, &s.messages)
}

func (s *FileStore) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}
	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return os.Rename(tmpPath, path)
}

// Every write below changes memory first and persists second. When the
// file cannot be written the memory change is rolled back, so reads never
// show a record that is missing from disk.

func (s *FileStore) CreateUser(ctx context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.MemoryStore.CreateUser(ctx, user); err != nil {
		return err
	}
	if err := s.persistUsers(); err != nil {
		s.MemoryStore.mu.Lock()
		delete(s.users, user.Email)
		s.MemoryStore.mu.Unlock()
		return err
	}
	return nil
}

func (s *FileStore) SaveToken(ctx context.Context, token *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, _ := s.MemoryStore.GetToken(ctx, token.Token)
	if err := s.MemoryStore.SaveToken(ctx, token); err != nil {
		return err
	}
	if err := s.persistTokens(); err != nil {
		s.restoreToken(ctx, token.Token, prev)
		return err
	}
	return nil
}

func (s *FileStore) DeleteToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, _ := s.MemoryStore.GetToken(ctx, token)
	if err := s.MemoryStore.DeleteToken(ctx, token); err != nil {
		return err
	}
	if err := s.persistTokens(); err != nil {
		s.restoreToken(ctx, token, prev)
		return err
	}
	return nil
}

// restoreToken puts back the entry held before a failed write, or removes
// the key when there was none.
func (s *FileStore) restoreToken(ctx context.Context, key string, prev *Token) {
	if prev == nil {
		_ = s.MemoryStore.DeleteToken(ctx, key)
		return
	}
	_ = s.MemoryStore.SaveToken(ctx, prev)
}

func (s *FileStore) UpsertChatbot(ctx context.Context, bot *Chatbot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.snapshotChatbots()
	if err := s.MemoryStore.UpsertChatbot(ctx, bot); err != nil {
		return err
	}
	if err := s.persistChatbots(); err != nil {
		s.restoreChatbots(before)
		return err
	}
	return nil
}

func (s *FileStore) DeleteChatbot(ctx context.Context, owner, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.snapshotChatbots()
	deleted, err := s.MemoryStore.DeleteChatbot(ctx, owner, name)
	if err != nil || !deleted {
		return deleted, err
	}
	if err := s.persistChatbots(); err != nil {
		s.restoreChatbots(before)
		return false, err
	}
	return true, nil
}

func (s *FileStore) AppendMessage(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.snapshotMessages()
	if err := s.MemoryStore.AppendMessage(ctx, msg); err != nil {
		return err
	}
	if err := s.persistMessages(); err != nil {
		s.restoreMessages(before)
		return err
	}
	return nil
}

func (s *FileStore) DeleteMessagesByChatbot(ctx context.Context, chatbotName string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.snapshotMessages()
	n, err := s.MemoryStore.DeleteMessagesByChatbot(ctx, chatbotName)
	if err != nil || n == 0 {
		return n, err
	}
	if err := s.persistMessages(); err != nil {
		s.restoreMessages(before)
		return 0, err
	}
	return n, nil
}

func (s *FileStore) snapshotChatbots() []Chatbot {
	s.MemoryStore.mu.RLock()
	defer s.MemoryStore.mu.RUnlock()
	return append([]Chatbot{}, s.chatbots...)
}

func (s *FileStore) restoreChatbots(bots []Chatbot) {
	s.MemoryStore.mu.Lock()
	s.chatbots = bots
	s.MemoryStore.mu.Unlock()
}

// snapshotMessages copies the slice; DeleteMessagesByChatbot compacts the
// backing array in place.
func (s *FileStore) snapshotMessages() []Message {
	s.MemoryStore.mu.RLock()
	defer s.MemoryStore.mu.RUnlock()
	return append([]Message{}, s.messages...)
}

func (s *FileStore) restoreMessages(msgs []Message) {
	s.MemoryStore.mu.Lock()
	s.messages = msgs
	s.MemoryStore.mu.Unlock()
}

func (s *FileStore) persistUsers() error {
	s.MemoryStore.mu.RLock()
	users := make([]User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	s.MemoryStore.mu.RUnlock()
	return s.writeJSON(usersFile, users)
}

func (s *FileStore) persistTokens() error {
	items := s.tokens.Items()
	tokens := make([]Token, 0, len(items))
	for _, item := range items {
		tokens = append(tokens, *item.Object.(*Token))
	}
	return s.writeJSON(tokensFile, tokens)
}

func (s *FileStore) persistChatbots() error {
	s.MemoryStore.mu.RLock()
	bots := append([]Chatbot{}, s.chatbots...)
	s.MemoryStore.mu.RUnlock()
	return s.writeJSON(chatbotsFile, bots)
}

func (s *FileStore) persistMessages() error {
	s.MemoryStore.mu.RLock()
	msgs := append([]Message{}, s.messages...)
	s.MemoryStore.mu.RUnlock()
	return s.writeJSON(messagesFile, msgs)
}
