package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"chatbotmaker.dev/chatbot-maker/internal/config"
	"chatbotmaker.dev/chatbot-maker/internal/store"
)

// brokenRegistry fails every call, standing in for an unreachable database.
type brokenRegistry struct{}

func (brokenRegistry) SaveToken(context.Context, *store.Token) error { return errors.New("down") }
func (brokenRegistry) GetToken(context.Context, string) (*store.Token, error) {
	return nil, errors.New("down")
}
func (brokenRegistry) DeleteToken(context.Context, string) error { return errors.New("down") }

func newIssuer(mode string, tokens store.TokenStore) *Issuer {
	return NewIssuer(config.AuthConfig{
		TokenMode: mode,
		JWTSecret: "test-secret",
		TokenTTL:  time.Hour,
	}, tokens, zap.NewNop())
}

func TestSignedTokenRoundTrip(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(config.TokenModeSigned, store.NewMemoryStore())

	token, err := iss.Issue(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(token, "."))

	email, err := iss.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", email)

	other, err := iss.Issue(ctx, "a@x.io")
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestSignedTokenRejectsTampering(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(config.TokenModeSigned, store.NewMemoryStore())

	token, err := iss.Issue(ctx, "a@x.io")
	require.NoError(t, err)

	_, err = iss.Validate(ctx, token+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	forger := NewIssuer(config.AuthConfig{TokenMode: config.TokenModeSigned, JWTSecret: "other", TokenTTL: time.Hour},
		store.NewMemoryStore(), zap.NewNop())
	forged, err := forger.Issue(ctx, "a@x.io")
	require.NoError(t, err)
	_, err = iss.Validate(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// A legacy-shaped string never passes in signed mode.
	_, err = iss.Validate(ctx, "2025-01-01T00:00:00.000Z#@#a@x.io")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = iss.Validate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignedTokenExpires(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(config.TokenModeSigned, store.NewMemoryStore())
	start := time.Now().UTC()
	iss.now = func() time.Time { return start }

	token, err := iss.Issue(ctx, "a@x.io")
	require.NoError(t, err)

	iss.now = func() time.Time { return start.Add(2 * time.Hour) }
	_, err = iss.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSignedTokenRevocation(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(config.TokenModeSigned, store.NewMemoryStore())

	token, err := iss.Issue(ctx, "a@x.io")
	require.NoError(t, err)
	require.NoError(t, iss.Revoke(ctx, token))

	_, err = iss.Validate(ctx, token)
	assert.ErrorIs(t, err, ErrRevokedToken)

	assert.ErrorIs(t, iss.Revoke(ctx, " "), ErrInvalidToken)
}

func TestSignedTokenSurvivesRegistryOutage(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(config.TokenModeSigned, brokenRegistry{})

	token, err := iss.Issue(ctx, "a@x.io")
	require.NoError(t, err, "registry write failures must not fail issuance")

	email, err := iss.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", email)
}

func TestLegacyTokens(t *testing.T) {
	ctx := context.Background()
	iss := newIssuer(config.TokenModeLegacy, store.NewMemoryStore())
	iss.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 6_000_000, time.UTC) }

	token, err := iss.Issue(ctx, "a@x.io")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-02T03:04:05.006Z#@#a@x.io", token)

	email, err := iss.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", email)

	// Registry miss falls back to the shape check.
	email, err = iss.Validate(ctx, "anything#@#b@y.io")
	require.NoError(t, err)
	assert.Equal(t, "b@y.io", email)

	_, err = iss.Validate(ctx, "no-separator")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = iss.Validate(ctx, "stamp#@#not-an-email")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLegacyTokensWithBrokenRegistry(t *testing.T) {
	iss := newIssuer(config.TokenModeLegacy, brokenRegistry{})
	email, err := iss.Validate(context.Background(), "stamp#@#c@z.io")
	require.NoError(t, err)
	assert.Equal(t, "c@z.io", email)
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.True(t, CheckPasswordHash("s3cret", hash))
	assert.False(t, CheckPasswordHash("wrong", hash))

	_, err = HashPassword(strings.Repeat("x", 80))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}
