package store

import "time"

// Message roles as persisted. The API accepts "user" and "bot" only.
const (
	RoleUser = "user"
	RoleBot  = "bot"
)

type User struct {
	Email        string    `json:"email" bson:"email" firestore:"email"`
	PasswordHash string    `json:"-" bson:"password" firestore:"password"` // Do not expose this in JSON responses
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt" firestore:"createdAt"`
}

type Token struct {
	Token     string    `json:"token" bson:"token" firestore:"token"`
	Email     string    `json:"email" bson:"email" firestore:"email"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt" firestore:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt" bson:"expiresAt" firestore:"expiresAt"`
}

// Expired reports whether the token is past its expiry at now. A zero ExpiresAt never expires.
func (t *Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

type Chatbot struct {
	ID        string    `json:"id" bson:"id" firestore:"id"`
	Name      string    `json:"name" bson:"name" firestore:"name"`
	Context   string    `json:"context" bson:"context" firestore:"context"`
	Owner     string    `json:"creator" bson:"creator" firestore:"creator"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt" firestore:"updatedAt"`
}

type Message struct {
	ID          string    `json:"id" bson:"id" firestore:"id"`
	ChatbotName string    `json:"chatbotName" bson:"chatbotName" firestore:"chatbotName"`
	UserEmail   string    `json:"userEmail" bson:"userEmail" firestore:"userEmail"`
	Role        string    `json:"role" bson:"role" firestore:"role"` // "user" or "bot"
	Text        string    `json:"text" bson:"text" firestore:"text"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt" firestore:"createdAt"`
}
