package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/auth"
	"chatbotmaker.dev/chatbot-maker/internal/store"
)

// TokenIssuer is the part of auth.Issuer the services depend on.
type TokenIssuer interface {
	Issue(ctx context.Context, email string) (string, error)
	Validate(ctx context.Context, token string) (string, error)
	Revoke(ctx context.Context, token string) error
}

type AccountService struct {
	users       store.UserStore
	tokens      TokenIssuer
	minPassword int
	validate    *validator.Validate
	log         *zap.Logger
	now         func() time.Time
}

func NewAccountService(users store.UserStore, tokens TokenIssuer, minPasswordLength int, log *zap.Logger) *AccountService {
	return &AccountService{
		users:       users,
		tokens:      tokens,
		minPassword: minPasswordLength,
		validate:    validator.New(),
		log:         log.Named("accounts"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *AccountService) checkCredentials(email, password string) error {
	if s.validate.Var(email, "required,email") != nil {
		return InvalidInput("Valid email is required")
	}
	if password == "" {
		return InvalidInput("Password is required")
	}
	return nil
}

// Signup creates the user and logs them in.
func (s *AccountService) Signup(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if err := s.checkCredentials(email, password); err != nil {
		return "", err
	}
	if s.minPassword > 0 && utf8.RuneCountInString(password) < s.minPassword {
		return "", InvalidInput(fmt.Sprintf("Password must be at least %d characters", s.minPassword))
	}

	existing, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return "", Internal("Failed to create user", err)
	}
	if existing != nil {
		return "", Conflict("User already exists")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", InvalidInput("Password is too long")
		}
		return "", Internal("Failed to process password", err)
	}

	user := &store.User{Email: email, PasswordHash: hash, CreatedAt: s.now()}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return "", Conflict("User already exists")
		}
		return "", Internal("Failed to create user", err)
	}
	s.log.Info("user signed up", zap.String("email", email))

	token, err := s.tokens.Issue(ctx, email)
	if err != nil {
		return "", Internal("Failed to generate token", err)
	}
	return token, nil
}

func (s *AccountService) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.TrimSpace(email)
	if err := s.checkCredentials(email, password); err != nil {
		return "", err
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return "", Internal("Failed to log in", err)
	}
	if user == nil {
		return "", NotFound("User does not exist")
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return "", InvalidCredential("Password does not match")
	}

	token, err := s.tokens.Issue(ctx, email)
	if err != nil {
		return "", Internal("Failed to generate token", err)
	}
	return token, nil
}

func (s *AccountService) Logout(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return InvalidInput("Token is required")
	}
	if err := s.tokens.Revoke(ctx, token); err != nil {
		return Internal("Failed to log out", err)
	}
	return nil
}

// Authenticate resolves a bearer token to the email it was issued for.
func (s *AccountService) Authenticate(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", Unauthorized("Unauthorized: No token provided")
	}
	email, err := s.tokens.Validate(ctx, token)
	if err != nil {
		s.log.Debug("token rejected", zap.Error(err))
		return "", Unauthorized("Unauthorized: Invalid token")
	}
	return email, nil
}
