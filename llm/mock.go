package llm

import (
	"context"
	"fmt"
	"strings"
)

// MockClient is an offline client for development and tests. It echoes a
// canned completion derived from the last user message; Reply can be set to
// script behaviour.
type MockClient struct {
	model string

	// Reply, when non-nil, produces the completion text for a request.
	Reply func(req Request) (string, error)
}

// NewMockClient returns a mock client. The model name defaults to "mock".
func NewMockClient(model string) *MockClient {
	if model == "" {
		model = "mock"
	}
	return &MockClient{model: model}
}

func (c *MockClient) Kind() string                       { return "mock" }
func (c *MockClient) ModelName() string                  { return c.model }
func (c *MockClient) Available(ctx context.Context) bool { return true }

func (c *MockClient) Chat(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", AsError(err)
	}
	if c.Reply != nil {
		return c.Reply(req)
	}
	return c.cannedReply(req), nil
}

// StreamChat yields the canned reply in small rune-safe deltas.
func (c *MockClient) StreamChat(ctx context.Context, req Request) (*Stream, error) {
	text, err := c.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	s := newStream(nil)
	go func() {
		for _, delta := range splitDeltas(text, 8) {
			if !s.emit(ctx, delta) {
				s.finish(AsError(ctx.Err()))
				return
			}
		}
		s.finish(nil)
	}()
	return s, nil
}

func (c *MockClient) cannedReply(req Request) string {
	lastUser := ""
	for _, m := range req.Messages {
		if m.Role == "user" {
			lastUser = m.Content
		}
	}
	if lastUser == "" {
		return "This is a mock response."
	}
	return fmt.Sprintf("This is a mock response to: %s", firstLine(lastUser))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// splitDeltas cuts text into chunks of at most n runes without splitting a
// UTF-8 sequence.
func splitDeltas(text string, n int) []string {
	var deltas []string
	for len(text) > 0 {
		count, end := 0, len(text)
		for i := range text {
			if count == n {
				end = i
				break
			}
			count++
		}
		deltas = append(deltas, text[:end])
		text = text[end:]
	}
	return deltas
}
