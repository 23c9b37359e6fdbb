package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Chat Completions wire shapes, shared by the OpenAI-style providers.

type chatCompletionRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

type chatCompletionDelta struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// completionsClient is the shared implementation for providers speaking the
// Chat Completions protocol. Kind and URL construction vary per provider.
type completionsClient struct {
	kind string
	base httpBase
	url  string
	// sendModel controls whether the model name is part of the request body
	// (Azure encodes the deployment in the URL instead).
	sendModel bool
}

func (c *completionsClient) Kind() string      { return c.kind }
func (c *completionsClient) ModelName() string { return c.base.cfg.Model }

func (c *completionsClient) buildBody(req Request, stream bool) chatCompletionRequest {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, req.Messages...)

	body := chatCompletionRequest{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = c.base.cfg.MaxTokens
	}
	if c.sendModel {
		body.Model = c.base.cfg.Model
		if req.ModelOverride != "" {
			body.Model = req.ModelOverride
		}
	}
	return body
}

func (c *completionsClient) Chat(ctx context.Context, req Request) (string, error) {
	respBody, err := c.base.doJSON(ctx, c.url, c.buildBody(req, false))
	if err != nil {
		return "", err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", &Error{Kind: KindService, Message: "decoding chat response", Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindService, Message: "no choices in response"}
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *completionsClient) StreamChat(ctx context.Context, req Request) (*Stream, error) {
	body, cancel, err := c.base.openSSE(ctx, c.url, c.buildBody(req, true))
	if err != nil {
		return nil, err
	}

	s := newStream(cancel)
	go consumeSSE(ctx, s, body, func(payload string) (string, bool, error) {
		if payload == "[DONE]" {
			return "", true, nil
		}
		var delta chatCompletionDelta
		if err := json.Unmarshal([]byte(payload), &delta); err != nil {
			slog.Warn("llm: skipping malformed stream frame", "kind", c.kind, "error", err)
			return "", false, nil
		}
		if len(delta.Choices) == 0 {
			return "", false, nil
		}
		return delta.Choices[0].Delta.Content, false, nil
	})
	return s, nil
}

func (c *completionsClient) Available(ctx context.Context) bool {
	return c.base.cfg.APIKey != ""
}

// newOpenAIClient targets the OpenAI Chat Completions API, or a compatible
// endpoint when cfg.Endpoint overrides the default.
func newOpenAIClient(cfg Config, retry RetryConfig) Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com"
	}
	return &completionsClient{
		kind:      "openai",
		base:      newHTTPBase(cfg, retry, bearerAuth(cfg.APIKey)),
		url:       strings.TrimSuffix(endpoint, "/") + "/v1/chat/completions",
		sendModel: true,
	}
}

// newAzureClient targets an Azure OpenAI deployment: the model is the
// deployment name in the URL and auth uses the api-key header.
func newAzureClient(cfg Config, retry RetryConfig) Client {
	apiVersion := cfg.APIVersion
	if apiVersion == "" {
		apiVersion = "2024-02-15-preview"
	}
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Model, apiVersion)
	return &completionsClient{
		kind: "azure",
		base: newHTTPBase(cfg, retry, apiKeyAuth(cfg.APIKey)),
		url:  url,
	}
}

// newDashScopeClient targets DashScope's OpenAI-compatible mode.
func newDashScopeClient(cfg Config, retry RetryConfig) Client {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://dashscope.aliyuncs.com/compatible-mode"
	}
	return &completionsClient{
		kind:      "dashscope",
		base:      newHTTPBase(cfg, retry, bearerAuth(cfg.APIKey)),
		url:       strings.TrimSuffix(endpoint, "/") + "/v1/chat/completions",
		sendModel: true,
	}
}
