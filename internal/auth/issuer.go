// Package auth issues and validates session tokens.
//
// Two token formats exist. Signed tokens are HS256 JWTs whose registry entry
// doubles as a revocation list. Legacy tokens ("<RFC3339 millis>#@#<email>")
// are accepted for older clients: a registry hit passes, and a miss falls back
// to a shape check, so revoking a legacy token does not stop a client that
// still holds it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/config"
	"chatbotmaker.dev/chatbot-maker/internal/store"
)

const legacySeparator = "#@#"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrRevokedToken = errors.New("token revoked or expired")
)

type Issuer struct {
	mode   string
	secret []byte
	ttl    time.Duration
	tokens store.TokenStore
	log    *zap.Logger
	now    func() time.Time
}

func NewIssuer(cfg config.AuthConfig, tokens store.TokenStore, log *zap.Logger) *Issuer {
	return &Issuer{
		mode:   cfg.TokenMode,
		secret: []byte(cfg.JWTSecret),
		ttl:    cfg.TokenTTL,
		tokens: tokens,
		log:    log.Named("auth"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue mints a token for email and records it in the registry. A registry
// write failure is logged; the token is still returned.
func (i *Issuer) Issue(ctx context.Context, email string) (string, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	var (
		token string
		err   error
	)
	if i.mode == config.TokenModeLegacy {
		token = legacyToken(email, now)
	} else {
		token, err = generateJWT(i.secret, email, now, expiresAt)
		if err != nil {
			return "", fmt.Errorf("failed to sign token: %w", err)
		}
	}

	rec := &store.Token{Token: token, Email: email, CreatedAt: now, ExpiresAt: expiresAt}
	if err := i.tokens.SaveToken(ctx, rec); err != nil {
		i.log.Warn("failed to record issued token", zap.String("email", email), zap.Error(err))
	}
	return token, nil
}

// Validate returns the email the token was issued to.
func (i *Issuer) Validate(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrInvalidToken
	}
	if i.mode == config.TokenModeLegacy {
		return i.validateLegacy(ctx, token)
	}
	return i.validateSigned(ctx, token)
}

func (i *Issuer) validateSigned(ctx context.Context, token string) (string, error) {
	now := i.now()
	email, err := validateJWT(i.secret, token, now)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	rec, err := i.tokens.GetToken(ctx, token)
	if err != nil {
		i.log.Warn("token registry unavailable, trusting signature", zap.String("email", email), zap.Error(err))
		return email, nil
	}
	if rec == nil || rec.Expired(now) {
		return "", ErrRevokedToken
	}
	if rec.Email != email {
		return "", ErrInvalidToken
	}
	return email, nil
}

func (i *Issuer) validateLegacy(ctx context.Context, token string) (string, error) {
	rec, err := i.tokens.GetToken(ctx, token)
	if err != nil {
		i.log.Warn("token registry unavailable, using shape check", zap.Error(err))
	}
	if err == nil && rec != nil && !rec.Expired(i.now()) {
		return rec.Email, nil
	}

	email, ok := parseLegacyToken(token)
	if !ok {
		return "", ErrInvalidToken
	}
	return email, nil
}

// Revoke removes the token from the registry.
func (i *Issuer) Revoke(ctx context.Context, token string) error {
	if strings.TrimSpace(token) == "" {
		return ErrInvalidToken
	}
	if err := i.tokens.DeleteToken(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

func legacyToken(email string, now time.Time) string {
	return now.UTC().Format("2006-01-02T15:04:05.000Z07:00") + legacySeparator + email
}

func parseLegacyToken(token string) (string, bool) {
	_, email, found := strings.Cut(token, legacySeparator)
	if !found || !strings.Contains(email, "@") {
		return "", false
	}
	return email, true
}
