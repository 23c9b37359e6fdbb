package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// responsesClient speaks the Azure OpenAI Responses API: instructions plus
// an input message list, streamed as typed events terminated by
// response.completed.
type responsesClient struct {
	base httpBase
	url  string
}

func newResponsesClient(cfg Config, retry RetryConfig) Client {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "preview"
	}
	return &responsesClient{
		base: newHTTPBase(cfg, retry, apiKeyAuth(cfg.APIKey)),
		url: fmt.Sprintf("%s/openai/responses?api-version=%s",
			strings.TrimSuffix(cfg.Endpoint, "/"), apiVersion),
	}
}

func (c *responsesClient) Kind() string      { return "azure" }
func (c *responsesClient) ModelName() string { return c.base.cfg.Model }

type responsesRequest struct {
	Model           string    `json:"model"`
	Input           []Message `json:"input"`
	Instructions    string    `json:"instructions,omitempty"`
	Temperature     float64   `json:"temperature,omitempty"`
	MaxOutputTokens int       `json:"max_output_tokens,omitempty"`
	Stream          bool      `json:"stream,omitempty"`
}

type responsesResponse struct {
	Output []struct {
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

type responsesEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

func (c *responsesClient) buildBody(req Request, stream bool) responsesRequest {
	body := responsesRequest{
		Model:           c.base.cfg.Model,
		Input:           req.Messages,
		Instructions:    req.SystemPrompt,
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
		Stream:          stream,
	}
	if body.MaxOutputTokens <= 0 {
		body.MaxOutputTokens = c.base.cfg.MaxTokens
	}
	if req.ModelOverride != "" {
		body.Model = req.ModelOverride
	}
	return body
}

func (c *responsesClient) Chat(ctx context.Context, req Request) (string, error) {
	respBody, err := c.base.doJSON(ctx, c.url, c.buildBody(req, false))
	if err != nil {
		return "", err
	}

	var resp responsesResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &Error{Kind: KindService, Message: "decoding responses body", Err: err}
	}
	if len(resp.Output) == 0 || len(resp.Output[0].Content) == 0 {
		return "", &Error{Kind: KindService, Message: "empty responses output"}
	}
	return resp.Output[0].Content[0].Text, nil
}

func (c *responsesClient) StreamChat(ctx context.Context, req Request) (*Stream, error) {
	body, cancel, err := c.base.openSSE(ctx, c.url, c.buildBody(req, true))
	if err != nil {
		return nil, err
	}

	s := newStream(cancel)
	go consumeSSE(ctx, s, body, func(payload string) (string, bool, error) {
		var ev responsesEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			slog.Warn("llm: skipping malformed responses frame", "error", err)
			return "", false, nil
		}
		switch {
		case ev.Type == "response.completed":
			return "", true, nil
		case strings.HasSuffix(ev.Type, ".delta"):
			return ev.Delta, false, nil
		default:
			return "", false, nil
		}
	})
	return s, nil
}

func (c *responsesClient) Available(ctx context.Context) bool {
	return c.base.cfg.APIKey != "" && c.base.cfg.Endpoint != ""
}
