// Package llm provides chat model clients behind a single capability
// interface, a primary/fallback router, and a pull-based streaming
// abstraction over provider SSE wire formats.
package llm

import (
	"context"
	"fmt"
	"io"
)

// Client is the contract every chat model client satisfies.
type Client interface {
	// Kind returns the registry key for this client (openai, azure,
	// dashscope, mock).
	Kind() string

	// ModelName returns the configured model identifier.
	ModelName() string

	// Chat sends a request and returns the full completion text.
	Chat(ctx context.Context, req Request) (string, error)

	// StreamChat starts a streaming completion. The returned stream yields
	// text deltas in provider order until the terminal sentinel.
	StreamChat(ctx context.Context, req Request) (*Stream, error)

	// Available reports whether the client is configured and reachable.
	Available(ctx context.Context) bool
}

// Request is a chat completion request.
type Request struct {
	SystemPrompt  string
	Messages      []Message
	MaxTokens     int
	Temperature   float64
	ModelOverride string
}

// Message is a single conversation turn.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Config configures a single chat model endpoint.
type Config struct {
	Kind       string // openai, azure, dashscope, mock, none
	APIType    string // "chat" (Chat Completions) or "responses"
	APIKey     string
	Model      string
	Endpoint   string
	APIVersion string
	TimeoutMs  int
	MaxTokens  int
}

// RetryConfig controls retry behaviour for non-streaming calls.
type RetryConfig struct {
	MaxAttempts int
	DelayMs     int64
	Multiplier  float64
}

// Stream is a pull-based sequence of text deltas. Recv returns each
// non-empty delta in order, io.EOF after the terminal sentinel, or an
// *Error on failure. Close aborts the underlying provider connection.
type Stream struct {
	ch     chan string
	err    error
	cancel context.CancelFunc
}

func newStream(cancel context.CancelFunc) *Stream {
	return &Stream{ch: make(chan string), cancel: cancel}
}

// Recv blocks for the next delta.
func (s *Stream) Recv() (string, error) {
	delta, ok := <-s.ch
	if !ok {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	return delta, nil
}

// Close aborts the stream. Pending Recv calls observe the termination.
func (s *Stream) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewScriptedStream returns a stream that yields the given deltas in
// order, then terminates with err (nil for normal completion). Used by the
// mock client and by tests scripting provider behaviour.
func NewScriptedStream(deltas []string, err error) *Stream {
	s := newStream(nil)
	go func() {
		for _, d := range deltas {
			s.ch <- d
		}
		s.finish(err)
	}()
	return s
}

// emit forwards a delta, honouring consumer cancellation.
func (s *Stream) emit(ctx context.Context, delta string) bool {
	select {
	case s.ch <- delta:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish terminates the stream. A nil err means normal completion.
func (s *Stream) finish(err error) {
	s.err = err
	close(s.ch)
}

// NewClient builds a client from configuration.
func NewClient(cfg Config, retry RetryConfig) (Client, error) {
	switch cfg.Kind {
	case "openai":
		return newOpenAIClient(cfg, retry), nil
	case "azure":
		if cfg.APIType == "responses" {
			return newResponsesClient(cfg, retry), nil
		}
		return newAzureClient(cfg, retry), nil
	case "dashscope":
		return newDashScopeClient(cfg, retry), nil
	case "mock":
		return NewMockClient(cfg.Model), nil
	case "", "none":
		return nil, fmt.Errorf("llm client kind not specified")
	default:
		return nil, fmt.Errorf("unknown llm client kind: %s", cfg.Kind)
	}
}
