package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type embeddingRequest struct {
	Model string   `json:"model,omitempty"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// httpEmbedder posts OpenAI-style embedding requests. Auth header style and
// URL layout vary per provider.
type httpEmbedder struct {
	kind      string
	url       string
	apiKey    string
	header    string // "bearer" or "api-key"
	model     string
	sendModel bool
	client    *http.Client
}

func (e *httpEmbedder) Kind() string { return e.kind }

func (e *httpEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body := embeddingRequest{Input: texts}
	if e.sendModel {
		body.Model = e.model
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		if e.header == "api-key" {
			req.Header.Set("api-key", e.apiKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+e.apiKey)
		}
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error %d: %s", resp.StatusCode, respBody)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("decoding embedding response: %w", err)
	}

	// Providers may reorder; restore input order by index.
	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}
	for i, v := range out {
		if len(v) == 0 {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return out, nil
}

func newOpenAIEmbedder(cfg Config) Embedder {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com"
	}
	return &httpEmbedder{
		kind:      "openai",
		url:       strings.TrimSuffix(endpoint, "/") + "/v1/embeddings",
		apiKey:    cfg.APIKey,
		header:    "bearer",
		model:     cfg.Model,
		sendModel: true,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}

func newAzureEmbedder(cfg Config) Embedder {
	url := fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=2023-05-15",
		strings.TrimSuffix(cfg.Endpoint, "/"), cfg.Model)
	return &httpEmbedder{
		kind:   "azure",
		url:    url,
		apiKey: cfg.APIKey,
		header: "api-key",
		model:  cfg.Model,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

func newDashScopeEmbedder(cfg Config) Embedder {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://dashscope.aliyuncs.com/compatible-mode"
	}
	return &httpEmbedder{
		kind:      "dashscope",
		url:       strings.TrimSuffix(endpoint, "/") + "/v1/embeddings",
		apiKey:    cfg.APIKey,
		header:    "bearer",
		model:     cfg.Model,
		sendModel: true,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
}
