package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chatbotmaker.dev/chatbot-maker/internal/config"
)

func TestOpenAIClientSendsConversation(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Zorbin."}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("key-1", srv.URL+"/", "")
	reply, err := c.Complete(context.Background(), Request{
		System:      "be brief",
		Messages:    []Message{{Role: RoleUser, Content: "capital?"}},
		Temperature: 0.3,
		MaxTokens:   1024,
	})
	require.NoError(t, err)
	assert.Equal(t, "Zorbin.", reply)

	assert.Equal(t, defaultOpenAIModel, got.Model)
	assert.Equal(t, float32(0.3), got.Temperature)
	assert.Equal(t, 1024, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, chatMessage{Role: "system", Content: "be brief"}, got.Messages[0])
	assert.Equal(t, chatMessage{Role: "user", Content: "capital?"}, got.Messages[1])
}

func TestOpenAIClientUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAIClient("k", srv.URL, "m").Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusServiceUnavailable, serr.StatusCode)
	assert.Contains(t, serr.Body, "overloaded")
	assert.NotNil(t, serr.Details)
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	reply, err := NewOpenAIClient("k", srv.URL, "m").Complete(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "", reply)
}

func TestOpenAIClientFollowsCallerContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewOpenAIClient("k", srv.URL, "m")
	assert.Zero(t, c.client.Timeout)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Complete(ctx, Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), config.LLMConfig{Provider: config.ProviderOpenAI})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = New(context.Background(), config.LLMConfig{Provider: config.ProviderGemini})
	assert.ErrorIs(t, err, ErrNoAPIKey)

	c, err := New(context.Background(), config.LLMConfig{Provider: config.ProviderMock})
	require.NoError(t, err)
	reply, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "ping"}}})
	require.NoError(t, err)
	assert.Contains(t, reply, "ping")
}

func TestGeminiHistory(t *testing.T) {
	history := geminiHistory([]Message{
		{Role: RoleAssistant, Content: "welcome"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: "b"},
		{Role: RoleAssistant, Content: "c"},
		{Role: RoleUser, Content: "d"},
	})
	require.Len(t, history, 3)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, []genai.Part{genai.Text("a"), genai.Text("b")}, history[0].Parts)
	assert.Equal(t, "model", history[1].Role)
	assert.Equal(t, "user", history[2].Role)
}

func TestGeminiErrorMapping(t *testing.T) {
	err := geminiError(status.Error(codes.Unavailable, "try later"))
	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusServiceUnavailable, serr.StatusCode)
	assert.Equal(t, "try later", serr.Body)

	err = geminiError(errors.New("boom"))
	assert.False(t, errors.As(err, &serr))
}
