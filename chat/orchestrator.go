package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/brunobiangulo/askdoc/llm"
	"github.com/brunobiangulo/askdoc/retrieval"
	"github.com/brunobiangulo/askdoc/store"
)

const systemPromptTemplate = "你是一个专业的文档问答助手。请根据以下提供的文档内容回答用户的问题。\n\n" +
	"要求：\n" +
	"1. 只根据提供的文档内容回答，不要编造信息\n" +
	"2. 如果文档中没有相关信息，请明确说明\n" +
	"3. 回答要准确、全面、有条理，不要遗漏重要细节\n" +
	"4. 在回答中适当引用文档内容\n\n" +
	"文档内容：\n%s"

const summaryPromptTemplate = "你是一个专业的文档分析专家。请根据以下文档内容，为用户提供一份全景式的深度总结。\n\n" +
	"目标：\n" +
	"对文档进行全面、详尽的解读，提取所有核心价值点，确保读者无需阅读原文即可掌握所有重要细节。\n\n" +
	"要求：\n" +
	"1. **结构清晰**：使用多级标题（一、1、(1)...）构建层级分明的结构。\n" +
	"2. **细节丰富**：不要只写概括性的话，必须提取具体的功能名称、参数、步骤或关键术语。\n" +
	"3. **全面覆盖**：涵盖文档的每一个主要章节，不要遗漏任何重要部分。\n" +
	"4. **专业术语**：保留原文中的专业术语。\n\n" +
	"文档内容：\n%s"

const noContextPrompt = "You are a helpful assistant. The user asked a question about a document, but the retrieval system found NO relevant content (similarity too low or vector store empty).\n" +
	"Please politely inform the user that you couldn't find specific information in the uploaded document regarding their query.\n" +
	"Then, ONLY if you have general knowledge about the topic, you may answer but MUST start with 'Based on general knowledge (not the document)...'."

const pureChatPrompt = "你是一个智能助手。请直接回答用户的问题，无需参考任何文档。"

// ErrInvalidRequest marks malformed answer requests (empty query).
var ErrInvalidRequest = errors.New("chat: invalid request")

// summaryIntentRe spots whole-document summary requests, which get the
// dedicated summary prompt.
var summaryIntentRe = regexp.MustCompile(`(?is).*(总结|概括|主要内容|讲了什么|介绍一下|大纲|summary|overview).*`)

// Chunk is one frame of a streamed answer. Intermediate frames carry
// non-empty content; the single terminal frame has Complete set, empty
// content, and either the citation list or an error.
type Chunk struct {
	Content   string               `json:"content"`
	Complete  bool                 `json:"complete"`
	Citations []retrieval.Citation `json:"citations,omitempty"`
	Error     string               `json:"error,omitempty"`
	Warning   string               `json:"warning,omitempty"`
}

// Request is a question against a session.
type Request struct {
	Query      string `json:"query"`
	SessionID  string `json:"sessionId"`
	DocumentID string `json:"documentId,omitempty"` // single id or csv; overrides the session's
	ModelType  string `json:"modelType,omitempty"`
}

// OrchestratorConfig carries the token budgets for answer generation.
type OrchestratorConfig struct {
	MaxContextTokens int
	MaxTokens        int
}

// Orchestrator runs the end-to-end answer flow: retrieval, prompt
// assembly, streaming with automatic fallover, and persistence of both
// turns.
type Orchestrator struct {
	retriever *retrieval.Engine
	contexts  *ContextManager
	router    *llm.Router
	cfg       OrchestratorConfig
}

// NewOrchestrator wires the answer pipeline.
func NewOrchestrator(retriever *retrieval.Engine, contexts *ContextManager, router *llm.Router, cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 4000
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	return &Orchestrator{
		retriever: retriever,
		contexts:  contexts,
		router:    router,
		cfg:       cfg,
	}
}

// StreamAnswer answers the request as a chunk stream. The returned channel
// is closed after the terminal chunk. The error return covers request
// validation only; generation failures arrive as an error chunk.
func (o *Orchestrator) StreamAnswer(ctx context.Context, req Request) (<-chan Chunk, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, fmt.Errorf("%w: query must not be empty", ErrInvalidRequest)
	}
	if _, err := o.contexts.Session(ctx, req.SessionID); err != nil {
		return nil, err
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		o.run(ctx, req, out)
	}()
	return out, nil
}

// Answer is the non-streaming variant: it drains the stream and returns
// the assembled terminal state with the full response as content.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (Chunk, error) {
	stream, err := o.StreamAnswer(ctx, req)
	if err != nil {
		return Chunk{}, err
	}

	var full strings.Builder
	final := Chunk{Complete: true}
	for chunk := range stream {
		full.WriteString(chunk.Content)
		if chunk.Complete {
			final = chunk
		}
	}
	final.Content = full.String()
	return final, nil
}

// emit forwards a chunk unless the consumer is gone.
func emit(ctx context.Context, out chan<- Chunk, c Chunk) bool {
	select {
	case out <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) run(ctx context.Context, req Request, out chan<- Chunk) {
	// 1. Persist the user turn.
	if err := o.contexts.SaveMessage(ctx, req.SessionID, store.RoleUser, req.Query, ""); err != nil {
		slog.Error("chat: persisting user message failed", "error", err)
		emit(ctx, out, Chunk{Complete: true, Error: "回答生成失败: " + err.Error()})
		return
	}

	// 2-3. Resolve target documents and retrieve.
	documentIDs := o.resolveDocumentIDs(ctx, req.SessionID, req.DocumentID)
	ragResult := &retrieval.Result{}
	if len(documentIDs) > 0 {
		result, err := o.retriever.Retrieve(ctx, req.Query, documentIDs)
		if err != nil {
			slog.Warn("chat: retrieval failed", "error", err)
		} else {
			ragResult = result
		}
	}

	// 4-5. Grounded request with history under half the context budget.
	llmReq, err := o.buildRequest(ctx, req, ragResult.Context, len(documentIDs) > 0)
	if err != nil {
		emit(ctx, out, Chunk{Complete: true, Error: "回答生成失败: " + err.Error()})
		return
	}

	// 6-8. Stream, with one fallover attempt.
	client := o.router.GetClient(req.ModelType)
	var full strings.Builder

	err = o.streamInto(ctx, client, llmReq, out, &full)
	if err != nil {
		slog.Error("chat: primary stream failed, attempting fallback",
			"model", client.ModelName(), "error", err)

		fallback := o.router.Fallback(client)
		if fallback == client {
			emit(ctx, out, Chunk{Complete: true, Error: "回答生成失败: " + err.Error()})
			return
		}

		warning := fmt.Sprintf("模型 %s 响应超时，已自动切换至 %s 继续回答...",
			client.ModelName(), fallback.ModelName())
		if !emit(ctx, out, Chunk{Warning: warning}) {
			return
		}

		if ferr := o.streamInto(ctx, fallback, llmReq, out, &full); ferr != nil {
			emit(ctx, out, Chunk{Complete: true, Error: "回答生成失败: " + ferr.Error()})
			return
		}
	}

	if ctx.Err() != nil {
		// Cancelled before normal completion: no partial assistant turn.
		return
	}

	// Persist the assistant turn with its citations, then terminate.
	citationsJSON := ""
	if len(ragResult.Citations) > 0 {
		if data, err := json.Marshal(ragResult.Citations); err == nil {
			citationsJSON = string(data)
		}
	}
	if err := o.contexts.SaveMessage(ctx, req.SessionID, store.RoleAssistant, full.String(), citationsJSON); err != nil {
		slog.Error("chat: persisting assistant message failed", "error", err)
	}

	emit(ctx, out, Chunk{Complete: true, Citations: ragResult.Citations})
}

// streamInto pulls deltas from one client's stream into out, accumulating
// the full text. Returns the stream error, nil on normal completion.
func (o *Orchestrator) streamInto(ctx context.Context, client llm.Client, req llm.Request, out chan<- Chunk, full *strings.Builder) error {
	stream, err := client.StreamChat(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if !emit(ctx, out, Chunk{Content: delta}) {
			return ctx.Err()
		}
	}
}

// resolveDocumentIDs picks the target documents: the request's csv when it
// is truthy and not the literal "null", else the session's stored list.
func (o *Orchestrator) resolveDocumentIDs(ctx context.Context, sessionID, documentID string) []string {
	csv := strings.TrimSpace(documentID)
	if csv == "" || strings.EqualFold(csv, "null") {
		sess, err := o.contexts.Session(ctx, sessionID)
		if err != nil {
			return nil
		}
		csv = sess.DocumentIDs
	}

	var ids []string
	for _, id := range strings.Split(csv, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// buildRequest assembles the system prompt and history for the LLM call.
func (o *Orchestrator) buildRequest(ctx context.Context, req Request, ragContext string, hasDocuments bool) (llm.Request, error) {
	history, err := o.contexts.ContextMessages(ctx, req.SessionID, o.cfg.MaxContextTokens/2)
	if err != nil {
		return llm.Request{}, err
	}
	messages := append(history, llm.Message{Role: "user", Content: req.Query})

	var systemPrompt string
	switch {
	case ragContext != "" && summaryIntentRe.MatchString(req.Query):
		slog.Info("chat: summary intent detected")
		systemPrompt = fmt.Sprintf(summaryPromptTemplate, ragContext)
	case ragContext != "":
		systemPrompt = fmt.Sprintf(systemPromptTemplate, ragContext)
	case hasDocuments:
		systemPrompt = noContextPrompt
	default:
		systemPrompt = pureChatPrompt
	}

	// Model selection happens at the router; ModelOverride stays empty so
	// each client uses its own configured model.
	return llm.Request{
		SystemPrompt: systemPrompt,
		Messages:     messages,
		MaxTokens:    o.cfg.MaxTokens,
		Temperature:  0.7,
	}, nil
}
