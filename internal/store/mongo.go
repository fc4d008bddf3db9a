package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

// MongoStore keeps each record kind in its own collection of one database.
type MongoStore struct {
	client   *mongo.Client
	users    *mongo.Collection
	tokens   *mongo.Collection
	chatbots *mongo.Collection
	messages *mongo.Collection
}

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:   client,
		users:    db.Collection("users"),
		tokens:   db.Collection("tokens"),
		chatbots: db.Collection("chatbots"),
		messages: db.Collection("messages"),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to create indexes: %w", err)
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	if _, err := s.tokens.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "token", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "expiresAt", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
	}); err != nil {
		return err
	}
	if _, err := s.chatbots.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name", Value: 1}, {Key: "creator", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "chatbotName", Value: 1}, {Key: "userEmail", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	return err
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// User methods
func (s *MongoStore) CreateUser(ctx context.Context, user *User) error {
	if _, err := s.users.InsertOne(ctx, user); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	err := s.users.FindOne(ctx, bson.D{{Key: "email", Value: email}}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return &user, nil
}

// Token methods
func (s *MongoStore) SaveToken(ctx context.Context, token *Token) error {
	_, err := s.tokens.ReplaceOne(ctx, bson.D{{Key: "token", Value: token.Token}}, token,
		options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

func (s *MongoStore) GetToken(ctx context.Context, token string) (*Token, error) {
	var t Token
	err := s.tokens.FindOne(ctx, bson.D{{Key: "token", Value: token}}).Decode(&t)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	return &t, nil
}

func (s *MongoStore) DeleteToken(ctx context.Context, token string) error {
	if _, err := s.tokens.DeleteOne(ctx, bson.D{{Key: "token", Value: token}}); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}

// Chatbot methods
func (s *MongoStore) UpsertChatbot(ctx context.Context, bot *Chatbot) error {
	filter := bson.D{{Key: "name", Value: bot.Name}, {Key: "creator", Value: bot.Owner}}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "context", Value: bot.Context},
			{Key: "updatedAt", Value: bot.UpdatedAt},
		}},
		{Key: "$setOnInsert", Value: bson.D{
			{Key: "id", Value: bot.ID},
			{Key: "createdAt", Value: bot.CreatedAt},
		}},
	}
	if _, err := s.chatbots.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert chatbot: %w", err)
	}

	var stored Chatbot
	if err := s.chatbots.FindOne(ctx, filter).Decode(&stored); err != nil {
		return fmt.Errorf("failed to read back chatbot: %w", err)
	}
	*bot = stored
	return nil
}

func (s *MongoStore) GetChatbot(ctx context.Context, owner, name string) (*Chatbot, error) {
	return s.findOneChatbot(ctx, bson.D{{Key: "name", Value: name}, {Key: "creator", Value: owner}})
}

func (s *MongoStore) FindChatbotByName(ctx context.Context, name string) (*Chatbot, error) {
	return s.findOneChatbot(ctx, bson.D{{Key: "name", Value: name}})
}

func (s *MongoStore) findOneChatbot(ctx context.Context, filter bson.D) (*Chatbot, error) {
	var bot Chatbot
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	err := s.chatbots.FindOne(ctx, filter, opts).Decode(&bot)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query chatbot: %w", err)
	}
	return &bot, nil
}

func (s *MongoStore) ListChatbotsByOwner(ctx context.Context, owner string) ([]Chatbot, error) {
	return s.findChatbots(ctx, bson.D{{Key: "creator", Value: owner}})
}

func (s *MongoStore) ListChatbots(ctx context.Context) ([]Chatbot, error) {
	return s.findChatbots(ctx, bson.D{})
}

func (s *MongoStore) findChatbots(ctx context.Context, filter bson.D) ([]Chatbot, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.chatbots.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query chatbots: %w", err)
	}
	bots := []Chatbot{}
	if err := cursor.All(ctx, &bots); err != nil {
		return nil, fmt.Errorf("failed to decode chatbots: %w", err)
	}
	return bots, nil
}

func (s *MongoStore) DeleteChatbot(ctx context.Context, owner, name string) (bool, error) {
	res, err := s.chatbots.DeleteOne(ctx, bson.D{{Key: "name", Value: name}, {Key: "creator", Value: owner}})
	if err != nil {
		return false, fmt.Errorf("failed to delete chatbot: %w", err)
	}
	return res.DeletedCount > 0, nil
}

// Message methods
func (s *MongoStore) AppendMessage(ctx context.Context, msg *Message) error {
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (s *MongoStore) ListMessages(ctx context.Context, chatbotName, userEmail string) ([]Message, error) {
	filter := bson.D{{Key: "chatbotName", Value: chatbotName}, {Key: "userEmail", Value: userEmail}}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	messages := []Message{}
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

func (s *MongoStore) DeleteMessagesByChatbot(ctx context.Context, chatbotName string) (int64, error) {
	res, err := s.messages.DeleteMany(ctx, bson.D{{Key: "chatbotName", Value: chatbotName}})
	if err != nil {
		return 0, fmt.Errorf("failed to delete messages: %w", err)
	}
	return res.DeletedCount, nil
}
