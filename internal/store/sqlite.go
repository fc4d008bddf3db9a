package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer at a time; SQLite locks the whole file anyway.
	db.SetMaxOpenConns(1)
	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        email TEXT PRIMARY KEY,
        password_hash TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS tokens (
        token TEXT PRIMARY KEY,
        email TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        expires_at DATETIME NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chatbots (
        id TEXT PRIMARY KEY, -- UUID
        name TEXT NOT NULL,
        owner TEXT NOT NULL,
        context TEXT NOT NULL,
        created_at DATETIME NOT NULL,
        updated_at DATETIME NOT NULL,
        UNIQUE (name, owner)
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        chatbot_name TEXT NOT NULL,
        user_email TEXT NOT NULL,
        role TEXT NOT NULL CHECK (role IN ('user', 'bot')),
        text TEXT NOT NULL,
        created_at DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages (chatbot_name, user_email, created_at);
    `
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// User methods
func (s *SQLiteStore) CreateUser(ctx context.Context, user *User) error {
	_, err := s.db.ExecContext(ctx, "INSERT INTO users (email, password_hash, created_at) VALUES (?, ?, ?)",
		user.Email, user.PasswordHash, user.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, "SELECT email, password_hash, created_at FROM users WHERE email = ?", email).
		Scan(&user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Token methods
func (s *SQLiteStore) SaveToken(ctx context.Context, token *Token) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO tokens (token, email, created_at, expires_at) VALUES (?, ?, ?, ?)",
		token.Token, token.Email, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetToken(ctx context.Context, token string) (*Token, error) {
	var t Token
	err := s.db.QueryRowContext(ctx, "SELECT token, email, created_at, expires_at FROM tokens WHERE token = ?", token).
		Scan(&t.Token, &t.Email, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) DeleteToken(ctx context.Context, token string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM tokens WHERE token = ?", token); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Chatbot methods
func (s *SQLiteStore) UpsertChatbot(ctx context.Context, bot *Chatbot) error {
	stmt, err := s.db.PrepareContext(ctx, `
        INSERT INTO chatbots (id, name, owner, context, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT (name, owner) DO UPDATE SET
            context = excluded.context,
            updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare chatbot upsert: %w", err)
	}
	defer stmt.Close()

	if _, err = stmt.ExecContext(ctx, bot.ID, bot.Name, bot.Owner, bot.Context, bot.CreatedAt, bot.UpdatedAt); err != nil {
		return fmt.Errorf("failed to execute chatbot upsert: %w", err)
	}

	stored, err := s.GetChatbot(ctx, bot.Owner, bot.Name)
	if err != nil {
		return err
	}
	if stored == nil {
		return fmt.Errorf("chatbot %q vanished after upsert", bot.Name)
	}
	*bot = *stored
	return nil
}

const chatbotColumns = "id, name, owner, context, created_at, updated_at"

func scanChatbot(row interface{ Scan(...any) error }) (*Chatbot, error) {
	var b Chatbot
	if err := row.Scan(&b.ID, &b.Name, &b.Owner, &b.Context, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *SQLiteStore) GetChatbot(ctx context.Context, owner, name string) (*Chatbot, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+chatbotColumns+" FROM chatbots WHERE owner = ? AND name = ?", owner, name)
	b, err := scanChatbot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to get chatbot: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) FindChatbotByName(ctx context.Context, name string) (*Chatbot, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+chatbotColumns+" FROM chatbots WHERE name = ? ORDER BY created_at ASC, rowid ASC LIMIT 1", name)
	b, err := scanChatbot(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find chatbot: %w", err)
	}
	return b, nil
}

func (s *SQLiteStore) ListChatbotsByOwner(ctx context.Context, owner string) ([]Chatbot, error) {
	return s.queryChatbots(ctx,
		"SELECT "+chatbotColumns+" FROM chatbots WHERE owner = ? ORDER BY created_at ASC, rowid ASC", owner)
}

func (s *SQLiteStore) ListChatbots(ctx context.Context) ([]Chatbot, error) {
	return s.queryChatbots(ctx, "SELECT "+chatbotColumns+" FROM chatbots ORDER BY created_at ASC, rowid ASC")
}

func (s *SQLiteStore) queryChatbots(ctx context.Context, query string, args ...any) ([]Chatbot, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chatbots: %w", err)
	}
	defer rows.Close()

	bots := []Chatbot{}
	for rows.Next() {
		b, err := scanChatbot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chatbot row: %w", err)
		}
		bots = append(bots, *b)
	}
	return bots, rows.Err()
}

func (s *SQLiteStore) DeleteChatbot(ctx context.Context, owner, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chatbots WHERE owner = ? AND name = ?", owner, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete chatbot: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected > 0, nil
}

// Message methods
func (s *SQLiteStore) AppendMessage(ctx context.Context, msg *Message) error {
	stmt, err := s.db.PrepareContext(ctx,
		"INSERT INTO messages (id, chatbot_name, user_email, role, text, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare message insert: %w", err)
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx, msg.ID, msg.ChatbotName, msg.UserEmail, msg.Role, msg.Text, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to execute message insert: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListMessages(ctx context.Context, chatbotName, userEmail string) ([]Message, error) {
	query := `
        SELECT id, chatbot_name, user_email, role, text, created_at
        FROM messages
        WHERE chatbot_name = ? AND user_email = ?
        ORDER BY created_at ASC, rowid ASC
    `
	rows, err := s.db.QueryContext(ctx, query, chatbotName, userEmail)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatbotName, &msg.UserEmail, &msg.Role, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteStore) DeleteMessagesByChatbot(ctx context.Context, chatbotName string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM messages WHERE chatbot_name = ?", chatbotName)
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return res.RowsAffected()
}
