package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const defaultGeminiModel = "gemini-2.0-flash"

type GeminiClient struct {
	client *genai.Client
	model  string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiClient{client: client, model: model}, nil
}

func (c *GeminiClient) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func (c *GeminiClient) Complete(ctx context.Context, req Request) (string, error) {
	history := geminiHistory(req.Messages)
	if len(history) == 0 {
		return "", fmt.Errorf("prompt history is empty for chat completion")
	}
	last := history[len(history)-1]
	if last.Role != "user" {
		return "", fmt.Errorf("last message in history is not from 'user', cannot proceed with chat completion")
	}

	model := c.client.GenerativeModel(c.model)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	model.SetTemperature(req.Temperature)
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]

	resp, err := chatSession.SendMessage(ctx, last.Parts...)
	if err != nil {
		return "", geminiError(err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	return responseText.String(), nil
}

// geminiHistory converts turns to genai contents. Gemini wants the first turn
// from the user and no two consecutive turns from the same side, so leading
// assistant turns are dropped and runs are merged.
func geminiHistory(msgs []Message) []*genai.Content {
	var out []*genai.Content
	for _, m := range msgs {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		if len(out) == 0 && role != "user" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, genai.Text(m.Content))
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}
	return out
}

// geminiError turns gRPC status errors into a StatusError with an HTTP code.
func geminiError(err error) error {
	st, ok := status.FromError(err)
	if !ok || st.Code() == codes.Unknown {
		return fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}
	return &StatusError{
		StatusCode: httpStatusFromCode(st.Code()),
		Body:       st.Message(),
		Details:    map[string]string{"code": st.Code().String(), "message": st.Message()},
	}
}

func httpStatusFromCode(c codes.Code) int {
	switch c {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
