package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
)

// httpBase is the shared transport for HTTP-backed clients: JSON POSTs with
// retry for non-streaming calls, and SSE body delivery for streaming ones.
type httpBase struct {
	cfg    Config
	retry  RetryConfig
	client *http.Client
	// authorize sets the provider's auth header(s) on a request.
	authorize func(*http.Request)
}

func newHTTPBase(cfg Config, retry RetryConfig, authorize func(*http.Request)) httpBase {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	if retry.Multiplier <= 0 {
		retry.Multiplier = 2.0
	}
	return httpBase{
		cfg:   cfg,
		retry: retry,
		client: &http.Client{
			// No overall client timeout: streaming responses stay open for
			// the duration of the completion. The dialer bounds connection
			// setup; non-streaming calls are bounded by the per-request
			// timeout in post. No write timeout is set, and streams have no
			// read budget beyond the caller's context.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 30 * time.Second,
				}).DialContext,
			},
		},
		authorize: authorize,
	}
}

// requestTimeout returns the configured read budget for one model call.
func (b *httpBase) requestTimeout() time.Duration {
	if b.cfg.TimeoutMs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(b.cfg.TimeoutMs) * time.Millisecond
}

// doJSON posts body and returns the response bytes, retrying transient
// failures with exponential backoff per the retry configuration.
func (b *httpBase) doJSON(ctx context.Context, url string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, &Error{Kind: KindInvalidRequest, Message: "encoding request", Err: err}
	}

	delay := time.Duration(b.retry.DelayMs) * time.Millisecond
	var lastErr *Error
	for attempt := 1; attempt <= b.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			slog.Warn("llm: retrying request",
				"url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, AsError(ctx.Err())
			}
			delay = time.Duration(float64(delay) * b.retry.Multiplier)
		}

		respBody, err := b.post(ctx, url, data)
		if err == nil {
			return respBody, nil
		}
		lastErr = AsError(err)
		if !retryable(lastErr.Kind) {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// post performs a single JSON POST bounded by the configured read budget.
func (b *httpBase) post(ctx context.Context, url string, data []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.requestTimeout())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, AsError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Message: "reading response body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			Kind:    kindFromStatus(resp.StatusCode),
			Message: fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncateBody(respBody)),
		}
	}
	return respBody, nil
}

// openSSE starts a streaming POST and returns the response body for SSE
// consumption. The returned cancel aborts the provider connection.
func (b *httpBase) openSSE(ctx context.Context, url string, body any) (io.ReadCloser, context.CancelFunc, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, nil, &Error{Kind: KindInvalidRequest, Message: "encoding request", Err: err}
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		cancel()
		return nil, nil, AsError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		cancel()
		return nil, nil, AsError(err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, nil, &Error{
			Kind:    kindFromStatus(resp.StatusCode),
			Message: fmt.Sprintf("provider returned %d: %s", resp.StatusCode, truncateBody(respBody)),
		}
	}
	return resp.Body, cancel, nil
}

// consumeSSE reads "data:" frames from body and feeds them to handle until
// handle reports the terminal sentinel or the body ends. It finishes the
// stream exactly once.
func consumeSSE(ctx context.Context, s *Stream, body io.ReadCloser, handle func(payload string) (delta string, done bool, err error)) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		delta, done, err := handle(payload)
		if err != nil {
			s.finish(AsError(err))
			return
		}
		if delta != "" && !s.emit(ctx, delta) {
			s.finish(AsError(ctx.Err()))
			return
		}
		if done {
			s.finish(nil)
			return
		}
	}

	if err := scanner.Err(); err != nil {
		s.finish(&Error{Kind: KindNetwork, Message: "stream interrupted", Err: err})
		return
	}
	// Body ended without a sentinel; treat as normal provider close.
	s.finish(nil)
}

func truncateBody(body []byte) string {
	const max = 512
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// bearerAuth returns an authorizer setting the Bearer authorization header.
func bearerAuth(apiKey string) func(*http.Request) {
	return func(req *http.Request) {
		if apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+apiKey)
		}
	}
}

// apiKeyAuth returns an authorizer setting the api-key header (Azure).
func apiKeyAuth(apiKey string) func(*http.Request) {
	return func(req *http.Request) {
		if apiKey != "" {
			req.Header.Set("api-key", apiKey)
		}
	}
}
