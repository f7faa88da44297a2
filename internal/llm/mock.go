package llm

import "context"

// MockClient is the test-time Client implementation, selected by
// configuration so the pipeline can run without a live provider.
// Responses is consumed in order; CompleteFunc, when set, overrides
// Responses entirely.
type MockClient struct {
	Responses    []CompletionResponse
	Errors       []error
	CompleteFunc func(ctx context.Context, apiKey string, req CompletionRequest) (CompletionResponse, error)

	calls int
	Cached map[string]string
}

// NewMockClient returns a client that replays responses in order.
func NewMockClient(responses ...CompletionResponse) *MockClient {
	return &MockClient{Responses: responses, Cached: make(map[string]string)}
}

func (m *MockClient) Complete(ctx context.Context, apiKey string, req CompletionRequest) (CompletionResponse, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, apiKey, req)
	}
	idx := m.calls
	m.calls++
	if idx < len(m.Errors) && m.Errors[idx] != nil {
		return CompletionResponse{}, m.Errors[idx]
	}
	if idx < len(m.Responses) {
		return m.Responses[idx], nil
	}
	return CompletionResponse{}, ErrEmptyResponse
}

func (m *MockClient) RegisterCache(ctx context.Context, apiKey, key, content string, ttlSeconds int) error {
	if m.Cached == nil {
		m.Cached = make(map[string]string)
	}
	m.Cached[key] = content
	return nil
}
