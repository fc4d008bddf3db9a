package llm

import (
	"context"
	"fmt"
)

// MockClient echoes the last user turn. It needs no key and is meant for local runs.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Complete(ctx context.Context, req Request) (string, error) {
	var last string
	for _, msg := range req.Messages {
		if msg.Role == RoleUser {
			last = msg.Content
		}
	}
	return fmt.Sprintf("You said %q. Configure LLM_PROVIDER to get real answers.", last), nil
}

func (m *MockClient) Close() error { return nil }
