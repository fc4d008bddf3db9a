package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore maps each record kind to a top-level collection. Document
// ids are hashes of the natural key so emails and names never need escaping.
type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func docID(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *FirestoreStore) userDoc(email string) *firestore.DocumentRef {
	return s.client.Collection("users").Doc(docID(email))
}

func (s *FirestoreStore) tokenDoc(token string) *firestore.DocumentRef {
	return s.client.Collection("tokens").Doc(docID(token))
}

func (s *FirestoreStore) chatbotsCol() *firestore.CollectionRef {
	return s.client.Collection("chatbots")
}

func (s *FirestoreStore) chatbotDoc(owner, name string) *firestore.DocumentRef {
	return s.chatbotsCol().Doc(docID(owner, name))
}

func (s *FirestoreStore) messagesCol() *firestore.CollectionRef {
	return s.client.Collection("messages")
}

func (s *FirestoreStore) Ping(ctx context.Context) error {
	_, err := s.client.Collection("users").Limit(1).Documents(ctx).Next()
	if err != nil && !errors.Is(err, iterator.Done) {
		return fmt.Errorf("firestore ping: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

// User methods
func (s *FirestoreStore) CreateUser(ctx context.Context, user *User) error {
	if _, err := s.userDoc(user.Email).Create(ctx, user); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return ErrDuplicate
		}
		return fmt.Errorf("firestore CreateUser: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	found, err := getDoc(ctx, s.userDoc(email), &user)
	if err != nil || !found {
		return nil, err
	}
	return &user, nil
}

// Token methods
func (s *FirestoreStore) SaveToken(ctx context.Context, token *Token) error {
	if _, err := s.tokenDoc(token.Token).Set(ctx, token); err != nil {
		return fmt.Errorf("firestore SaveToken: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetToken(ctx context.Context, token string) (*Token, error) {
	var t Token
	found, err := getDoc(ctx, s.tokenDoc(token), &t)
	if err != nil || !found {
		return nil, err
	}
	return &t, nil
}

func (s *FirestoreStore) DeleteToken(ctx context.Context, token string) error {
	if _, err := s.tokenDoc(token).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteToken: %w", err)
	}
	return nil
}

// Chatbot methods
func (s *FirestoreStore) UpsertChatbot(ctx context.Context, bot *Chatbot) error {
	ref := s.chatbotDoc(bot.Owner, bot.Name)
	var stored Chatbot
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			stored = *bot
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&stored); err != nil {
				return err
			}
			stored.Context = bot.Context
			stored.UpdatedAt = bot.UpdatedAt
		}
		return tx.Set(ref, &stored)
	})
	if err != nil {
		return fmt.Errorf("firestore UpsertChatbot: %w", err)
	}
	*bot = stored
	return nil
}

func (s *FirestoreStore) GetChatbot(ctx context.Context, owner, name string) (*Chatbot, error) {
	var bot Chatbot
	found, err := getDoc(ctx, s.chatbotDoc(owner, name), &bot)
	if err != nil || !found {
		return nil, err
	}
	return &bot, nil
}

func (s *FirestoreStore) FindChatbotByName(ctx context.Context, name string) (*Chatbot, error) {
	bots, err := s.queryChatbots(ctx, s.chatbotsCol().Where("name", "==", name))
	if err != nil || len(bots) == 0 {
		return nil, err
	}
	return &bots[0], nil
}

func (s *FirestoreStore) ListChatbotsByOwner(ctx context.Context, owner string) ([]Chatbot, error) {
	return s.queryChatbots(ctx, s.chatbotsCol().Where("creator", "==", owner))
}

func (s *FirestoreStore) ListChatbots(ctx context.Context) ([]Chatbot, error) {
	return s.queryChatbots(ctx, s.chatbotsCol().Query)
}

// queryChatbots sorts client side so equality filters need no composite index.
func (s *FirestoreStore) queryChatbots(ctx context.Context, q firestore.Query) ([]Chatbot, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var entries []stored[Chatbot]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore query chatbots: %w", err)
		}
		var b Chatbot
		if err := snap.DataTo(&b); err != nil {
			return nil, fmt.Errorf("firestore decode chatbot: %w", err)
		}
		entries = append(entries, stored[Chatbot]{value: b, createTime: snap.CreateTime})
	}
	return inCreationOrder(entries, func(b Chatbot) time.Time { return b.CreatedAt }), nil
}

func (s *FirestoreStore) DeleteChatbot(ctx context.Context, owner, name string) (bool, error) {
	ref := s.chatbotDoc(owner, name)
	deleted := false
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		deleted = false
		if _, err := tx.Get(ref); err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return err
		}
		deleted = true
		return tx.Delete(ref)
	})
	if err != nil {
		return false, fmt.Errorf("firestore DeleteChatbot: %w", err)
	}
	return deleted, nil
}

// Message methods
func (s *FirestoreStore) AppendMessage(ctx context.Context, msg *Message) error {
	if _, err := s.messagesCol().Doc(msg.ID).Create(ctx, msg); err != nil {
		return fmt.Errorf("firestore AppendMessage: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ListMessages(ctx context.Context, chatbotName, userEmail string) ([]Message, error) {
	q := s.messagesCol().Where("chatbotName", "==", chatbotName).Where("userEmail", "==", userEmail)
	iter := q.Documents(ctx)
	defer iter.Stop()

	var entries []stored[Message]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore ListMessages: %w", err)
		}
		var m Message
		if err := snap.DataTo(&m); err != nil {
			return nil, fmt.Errorf("firestore decode message: %w", err)
		}
		entries = append(entries, stored[Message]{value: m, createTime: snap.CreateTime})
	}
	return inCreationOrder(entries, func(m Message) time.Time { return m.CreatedAt }), nil
}

// stored pairs a decoded document with its server-side creation time.
type stored[T any] struct {
	value      T
	createTime time.Time
}

// inCreationOrder sorts by the record's CreatedAt. Documents come back in
// id order and ids are hashes, so equal CreatedAt values fall back to the
// server create time, which follows insertion order.
func inCreationOrder[T any](entries []stored[T], createdAt func(T) time.Time) []T {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := createdAt(entries[i].value), createdAt(entries[j].value)
		if !a.Equal(b) {
			return a.Before(b)
		}
		return entries[i].createTime.Before(entries[j].createTime)
	})
	out := make([]T, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.value)
	}
	return out
}

func (s *FirestoreStore) DeleteMessagesByChatbot(ctx context.Context, chatbotName string) (int64, error) {
	refs, err := s.messagesCol().Where("chatbotName", "==", chatbotName).Documents(ctx).GetAll()
	if err != nil {
		return 0, fmt.Errorf("firestore query messages: %w", err)
	}
	if len(refs) == 0 {
		return 0, nil
	}

	bw := s.client.BulkWriter(ctx)
	jobs := make([]writeJob, 0, len(refs))
	for _, snap := range refs {
		job, err := bw.Delete(snap.Ref)
		if err != nil {
			bw.End()
			n, _ := collectWrites(jobs)
			return n, fmt.Errorf("firestore DeleteMessagesByChatbot: %w", err)
		}
		jobs = append(jobs, job)
	}
	bw.End()

	n, err := collectWrites(jobs)
	if err != nil {
		return n, fmt.Errorf("firestore DeleteMessagesByChatbot: %w", err)
	}
	return n, nil
}

// writeJob is the result side of a *firestore.BulkWriterJob.
type writeJob interface {
	Results() (*firestore.WriteResult, error)
}

// collectWrites waits for every job and returns how many succeeded along
// with the first failure.
func collectWrites(jobs []writeJob) (int64, error) {
	var (
		done     int64
		firstErr error
	)
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		done++
	}
	return done, firstErr
}

// getDoc decodes ref into v, reporting false when the document does not exist.
func getDoc(ctx context.Context, ref *firestore.DocumentRef, v any) (bool, error) {
	snap, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return false, nil
		}
		return false, fmt.Errorf("firestore get %s: %w", ref.Path, err)
	}
	if err := snap.DataTo(v); err != nil {
		return false, fmt.Errorf("firestore decode %s: %w", ref.Path, err)
	}
	return true, nil
}
