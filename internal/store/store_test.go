package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/config"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newBot(owner, name, ctx string, at time.Time) *Chatbot {
	return &Chatbot{ID: uuid.NewString(), Owner: owner, Name: name, Context: ctx, CreatedAt: at, UpdatedAt: at}
}

func newMsg(bot, email, role, text string, at time.Time) *Message {
	return &Message{ID: uuid.NewString(), ChatbotName: bot, UserEmail: email, Role: role, Text: text, CreatedAt: at}
}

// runStoreSuite checks the behaviour every backend must share.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("users", func(t *testing.T) {
		s := open(t)
		u := &User{Email: "a@x.io", PasswordHash: "h1", CreatedAt: base}
		require.NoError(t, s.CreateUser(ctx, u))

		err := s.CreateUser(ctx, &User{Email: "a@x.io", PasswordHash: "h2", CreatedAt: base})
		assert.ErrorIs(t, err, ErrDuplicate)

		got, err := s.GetUserByEmail(ctx, "a@x.io")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "h1", got.PasswordHash)

		missing, err := s.GetUserByEmail(ctx, "nobody@x.io")
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("tokens", func(t *testing.T) {
		s := open(t)
		tok := &Token{Token: "t-1", Email: "a@x.io", CreatedAt: time.Now().UTC(), ExpiresAt: time.Now().UTC().Add(time.Hour)}
		require.NoError(t, s.SaveToken(ctx, tok))

		got, err := s.GetToken(ctx, "t-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "a@x.io", got.Email)

		require.NoError(t, s.DeleteToken(ctx, "t-1"))
		got, err = s.GetToken(ctx, "t-1")
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.NoError(t, s.DeleteToken(ctx, "never-issued"))
	})

	t.Run("chatbot upsert keeps identity", func(t *testing.T) {
		s := open(t)
		first := newBot("a@x.io", "Fredonia", "capital: Zorbin", base)
		require.NoError(t, s.UpsertChatbot(ctx, first))

		second := newBot("a@x.io", "Fredonia", "capital: Plimsk", base.Add(time.Hour))
		require.NoError(t, s.UpsertChatbot(ctx, second))
		assert.Equal(t, first.ID, second.ID)
		assert.True(t, second.CreatedAt.Equal(base))
		assert.True(t, second.UpdatedAt.Equal(base.Add(time.Hour)))

		bots, err := s.ListChatbotsByOwner(ctx, "a@x.io")
		require.NoError(t, err)
		require.Len(t, bots, 1)
		assert.Equal(t, "capital: Plimsk", bots[0].Context)
	})

	t.Run("chatbot lookup and listing", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertChatbot(ctx, newBot("b@x.io", "Helper", "b's", base.Add(time.Minute))))
		require.NoError(t, s.UpsertChatbot(ctx, newBot("a@x.io", "Helper", "a's", base)))
		require.NoError(t, s.UpsertChatbot(ctx, newBot("a@x.io", "Other", "x", base.Add(2*time.Minute))))

		oldest, err := s.FindChatbotByName(ctx, "Helper")
		require.NoError(t, err)
		require.NotNil(t, oldest)
		assert.Equal(t, "a@x.io", oldest.Owner)

		mine, err := s.GetChatbot(ctx, "b@x.io", "Helper")
		require.NoError(t, err)
		require.NotNil(t, mine)
		assert.Equal(t, "b's", mine.Context)

		none, err := s.GetChatbot(ctx, "c@x.io", "Helper")
		require.NoError(t, err)
		assert.Nil(t, none)

		owned, err := s.ListChatbotsByOwner(ctx, "a@x.io")
		require.NoError(t, err)
		require.Len(t, owned, 2)
		assert.Equal(t, "Helper", owned[0].Name)
		assert.Equal(t, "Other", owned[1].Name)

		all, err := s.ListChatbots(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)

		empty, err := s.ListChatbotsByOwner(ctx, "nobody@x.io")
		require.NoError(t, err)
		assert.NotNil(t, empty)
		assert.Empty(t, empty)
	})

	t.Run("chatbot delete", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.UpsertChatbot(ctx, newBot("a@x.io", "Gone", "c", base)))

		deleted, err := s.DeleteChatbot(ctx, "b@x.io", "Gone")
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = s.DeleteChatbot(ctx, "a@x.io", "Gone")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.DeleteChatbot(ctx, "a@x.io", "Gone")
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("messages", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.AppendMessage(ctx, newMsg("Bot", "u1@x.io", RoleUser, "hi", base)))
		require.NoError(t, s.AppendMessage(ctx, newMsg("Bot", "u1@x.io", RoleBot, "hello", base.Add(time.Second))))
		require.NoError(t, s.AppendMessage(ctx, newMsg("Bot", "u2@x.io", RoleUser, "other user", base)))
		require.NoError(t, s.AppendMessage(ctx, newMsg("Else", "u1@x.io", RoleUser, "other bot", base)))

		msgs, err := s.ListMessages(ctx, "Bot", "u1@x.io")
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		assert.Equal(t, "hi", msgs[0].Text)
		assert.Equal(t, "hello", msgs[1].Text)
		assert.Equal(t, RoleBot, msgs[1].Role)

		n, err := s.DeleteMessagesByChatbot(ctx, "Bot")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		msgs, err = s.ListMessages(ctx, "Bot", "u2@x.io")
		require.NoError(t, err)
		assert.Empty(t, msgs)

		msgs, err = s.ListMessages(ctx, "Else", "u1@x.io")
		require.NoError(t, err)
		assert.Len(t, msgs, 1)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, open(t).Ping(ctx))
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestFileStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewFileStore(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestFileStoreReloadsFromDisk(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.CreateUser(ctx, &User{Email: "a@x.io", PasswordHash: "h", CreatedAt: base}))
	require.NoError(t, s.UpsertChatbot(ctx, newBot("a@x.io", "Fredonia", "ctx", base)))
	require.NoError(t, s.AppendMessage(ctx, newMsg("Fredonia", "a@x.io", RoleUser, "hi", base)))
	require.NoError(t, s.SaveToken(ctx, &Token{Token: "t", Email: "a@x.io", CreatedAt: base, ExpiresAt: time.Now().Add(time.Hour)}))

	for _, name := range []string{usersFile, tokensFile, chatbotsFile, messagesFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)

	u, err := reopened.GetUserByEmail(ctx, "a@x.io")
	require.NoError(t, err)
	assert.NotNil(t, u)

	bot, err := reopened.GetChatbot(ctx, "a@x.io", "Fredonia")
	require.NoError(t, err)
	assert.NotNil(t, bot)

	msgs, err := reopened.ListMessages(ctx, "Fredonia", "a@x.io")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	tok, err := reopened.GetToken(ctx, "t")
	require.NoError(t, err)
	assert.NotNil(t, tok)
}

func TestFileStoreRollsBackFailedWrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.UpsertChatbot(ctx, newBot("a@x.io", "Fredonia", "v1", base)))
	require.NoError(t, s.AppendMessage(ctx, newMsg("Fredonia", "a@x.io", RoleUser, "hi", base)))
	require.NoError(t, s.SaveToken(ctx, &Token{Token: "kept", Email: "a@x.io", CreatedAt: base, ExpiresAt: time.Now().Add(time.Hour)}))

	require.NoError(t, os.RemoveAll(dir))

	assert.Error(t, s.CreateUser(ctx, &User{Email: "b@x.io", PasswordHash: "h", CreatedAt: base}))
	u, err := s.GetUserByEmail(ctx, "b@x.io")
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.NotErrorIs(t, s.CreateUser(ctx, &User{Email: "b@x.io", PasswordHash: "h", CreatedAt: base}), ErrDuplicate)

	assert.Error(t, s.SaveToken(ctx, &Token{Token: "new", Email: "b@x.io", CreatedAt: base, ExpiresAt: time.Now().Add(time.Hour)}))
	tok, err := s.GetToken(ctx, "new")
	require.NoError(t, err)
	assert.Nil(t, tok)

	assert.Error(t, s.DeleteToken(ctx, "kept"))
	tok, err = s.GetToken(ctx, "kept")
	require.NoError(t, err)
	assert.NotNil(t, tok)

	assert.Error(t, s.UpsertChatbot(ctx, newBot("a@x.io", "Fredonia", "v2", base.Add(time.Minute))))
	assert.Error(t, s.UpsertChatbot(ctx, newBot("a@x.io", "Other", "x", base)))
	bots, err := s.ListChatbotsByOwner(ctx, "a@x.io")
	require.NoError(t, err)
	require.Len(t, bots, 1)
	assert.Equal(t, "v1", bots[0].Context)

	deleted, err := s.DeleteChatbot(ctx, "a@x.io", "Fredonia")
	assert.Error(t, err)
	assert.False(t, deleted)
	bot, err := s.GetChatbot(ctx, "a@x.io", "Fredonia")
	require.NoError(t, err)
	assert.NotNil(t, bot)

	assert.Error(t, s.AppendMessage(ctx, newMsg("Fredonia", "a@x.io", RoleBot, "lost", base.Add(time.Minute))))
	n, err := s.DeleteMessagesByChatbot(ctx, "Fredonia")
	assert.Error(t, err)
	assert.Zero(t, n)
	msgs, err := s.ListMessages(ctx, "Fredonia", "a@x.io")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Text)
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMongoStore(t *testing.T) {
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewMongoStore(context.Background(), uri, "chatbotmaker_test_"+uuid.NewString()[:8])
		require.NoError(t, err)
		t.Cleanup(func() {
			_ = s.client.Database(s.users.Database().Name()).Drop(context.Background())
			s.Close()
		})
		return s
	})
}

func TestFirestoreStore(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	// Each run gets its own project so collections start empty.
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewFirestoreStore(context.Background(), "test-"+uuid.NewString()[:8])
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

type fakeWriteJob struct{ err error }

func (j fakeWriteJob) Results() (*firestore.WriteResult, error) {
	if j.err != nil {
		return nil, j.err
	}
	return &firestore.WriteResult{}, nil
}

func TestCollectWritesReportsFailedDeletes(t *testing.T) {
	denied := errors.New("permission denied")
	n, err := collectWrites([]writeJob{fakeWriteJob{}, fakeWriteJob{err: denied}, fakeWriteJob{}, fakeWriteJob{err: errors.New("deadline")}})
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, int64(2), n)

	n, err = collectWrites([]writeJob{fakeWriteJob{}, fakeWriteJob{}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestInCreationOrderBreaksTiesByCreateTime(t *testing.T) {
	stamp := base
	entries := []stored[Chatbot]{
		{value: Chatbot{Name: "late", CreatedAt: stamp.Add(time.Minute)}, createTime: stamp},
		{value: Chatbot{Name: "second", CreatedAt: stamp}, createTime: stamp.Add(2 * time.Second)},
		{value: Chatbot{Name: "first", CreatedAt: stamp}, createTime: stamp.Add(time.Second)},
	}
	bots := inCreationOrder(entries, func(b Chatbot) time.Time { return b.CreatedAt })
	require.Len(t, bots, 3)
	assert.Equal(t, []string{"first", "second", "late"}, []string{bots[0].Name, bots[1].Name, bots[2].Name})

	assert.Empty(t, inCreationOrder([]stored[Message]{}, func(m Message) time.Time { return m.CreatedAt }))
}

func TestRedisTokenStore(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx := context.Background()
	tokens, err := NewRedisTokenStore(ctx, url)
	require.NoError(t, err)
	s := WithTokenStore(NewMemoryStore(), tokens, tokens.Close)
	defer s.Close()

	key := "redis-" + uuid.NewString()
	require.NoError(t, s.SaveToken(ctx, &Token{Token: key, Email: "a@x.io", CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute)}))
	got, err := s.GetToken(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a@x.io", got.Email)

	require.NoError(t, s.DeleteToken(ctx, key))
	got, err = s.GetToken(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryTokenExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.SaveToken(ctx, &Token{Token: "old", Email: "a@x.io", ExpiresAt: time.Now().Add(-time.Second)}))
	got, err := s.GetToken(ctx, "old")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWithTokenStoreRoutesTokens(t *testing.T) {
	ctx := context.Background()
	primary := NewMemoryStore()
	registry := NewMemoryStore()
	closed := false
	s := WithTokenStore(primary, registry, func() error { closed = true; return nil })

	require.NoError(t, s.SaveToken(ctx, &Token{Token: "t", Email: "a@x.io"}))
	got, err := primary.GetToken(ctx, "t")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, err = registry.GetToken(ctx, "t")
	require.NoError(t, err)
	assert.NotNil(t, got)

	require.NoError(t, s.Close())
	assert.True(t, closed)
}

func TestOpenFallsBackToMemory(t *testing.T) {
	cfg := config.StorageConfig{
		Backend:     config.BackendSQLite,
		DatabaseURL: filepath.Join(t.TempDir(), "missing-dir", "db.sqlite"),
		Fallback:    config.BackendMemory,
	}
	s, err := Open(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)

	cfg.Fallback = ""
	_, err = Open(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestOpenSelectsBackend(t *testing.T) {
	s, err := Open(context.Background(), config.StorageConfig{Backend: config.BackendFile, DataDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)
	_, ok := s.(*FileStore)
	assert.True(t, ok)
}
