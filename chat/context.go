// Package chat holds the session-scoped conversation layer: the context
// manager that persists turns and compacts long histories, and the
// orchestrator that streams grounded answers with citations.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/brunobiangulo/askdoc/llm"
	"github.com/brunobiangulo/askdoc/store"
	"github.com/brunobiangulo/askdoc/token"
)

const summarizePromptHeader = "请将以下对话历史压缩为简短摘要，保留关键信息：\n\n"

// ContextConfig controls history handling.
type ContextConfig struct {
	// MaxHistoryRounds is the number of recent exchange rounds kept raw
	// through compaction (two messages per round).
	MaxHistoryRounds int
	// SummaryThreshold: compaction triggers when a session's message count
	// reaches twice this value.
	SummaryThreshold int
}

// ContextManager owns sessions and their message history. Message-count
// updates and the compaction decision run under a session-scoped critical
// section; at most one compaction per session is in flight.
type ContextManager struct {
	store  *store.Store
	router *llm.Router
	cfg    ContextConfig

	mu         sync.Mutex
	compacting map[string]bool
}

// NewContextManager returns a context manager over the given store.
func NewContextManager(s *store.Store, router *llm.Router, cfg ContextConfig) *ContextManager {
	if cfg.MaxHistoryRounds <= 0 {
		cfg.MaxHistoryRounds = 10
	}
	if cfg.SummaryThreshold <= 0 {
		cfg.SummaryThreshold = 6
	}
	return &ContextManager{
		store:      s,
		router:     router,
		cfg:        cfg,
		compacting: make(map[string]bool),
	}
}

// CreateSession creates a chat session bound to zero or more documents
// (comma-joined ids).
func (m *ContextManager) CreateSession(ctx context.Context, documentIDs string) (store.Session, error) {
	sess := store.Session{
		ID:          uuid.New().String(),
		DocumentIDs: strings.TrimSpace(documentIDs),
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return store.Session{}, err
	}
	return m.store.GetSession(ctx, sess.ID)
}

// SaveMessage persists a turn, bumps the session count, and triggers
// history compaction once the count reaches twice the summary threshold.
func (m *ContextManager) SaveMessage(ctx context.Context, sessionID, role, content, citations string) error {
	msg := store.Message{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		TokenCount: token.Estimate(content),
		Citations:  citations,
	}
	if err := m.store.InsertMessage(ctx, msg); err != nil {
		return err
	}

	count, err := m.store.IncrementSessionMessageCount(ctx, sessionID)
	if err != nil {
		return err
	}

	if count >= m.cfg.SummaryThreshold*2 && m.beginCompaction(sessionID) {
		defer m.endCompaction(sessionID)
		m.summarizeHistory(ctx, sessionID)
	}
	return nil
}

func (m *ContextManager) beginCompaction(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compacting[sessionID] {
		return false
	}
	m.compacting[sessionID] = true
	return true
}

func (m *ContextManager) endCompaction(sessionID string) {
	m.mu.Lock()
	delete(m.compacting, sessionID)
	m.mu.Unlock()
}

// summarizeHistory compacts the oldest messages into the session summary,
// keeping the most recent MaxHistoryRounds*2 raw. Any failure is logged
// and leaves session state untouched.
func (m *ContextManager) summarizeHistory(ctx context.Context, sessionID string) {
	messages, err := m.store.ListMessages(ctx, sessionID)
	if err != nil {
		slog.Warn("chat: loading history for compaction failed", "session_id", sessionID, "error", err)
		return
	}
	if len(messages) < m.cfg.SummaryThreshold {
		return
	}

	keep := m.cfg.MaxHistoryRounds * 2
	if len(messages) <= keep {
		return
	}
	toSummarize := messages[:len(messages)-keep]

	var sb strings.Builder
	sb.WriteString(summarizePromptHeader)
	for _, msg := range toSummarize {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
		sb.WriteString("\n")
	}

	summary, err := m.router.Primary().Chat(ctx, llm.Request{
		Messages:    []llm.Message{{Role: "user", Content: sb.String()}},
		MaxTokens:   500,
		Temperature: 0.3,
	})
	if err != nil {
		slog.Warn("chat: history summarisation failed", "session_id", sessionID, "error", err)
		return
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		slog.Warn("chat: loading session for compaction failed", "session_id", sessionID, "error", err)
		return
	}
	if sess.Summary != "" {
		summary = sess.Summary + "\n" + summary
	}
	if err := m.store.UpdateSessionSummary(ctx, sessionID, summary); err != nil {
		slog.Warn("chat: storing summary failed", "session_id", sessionID, "error", err)
		return
	}

	ids := make([]string, len(toSummarize))
	for i, msg := range toSummarize {
		ids[i] = msg.ID
	}
	if err := m.store.DeleteMessages(ctx, ids); err != nil {
		slog.Warn("chat: deleting compacted messages failed", "session_id", sessionID, "error", err)
		return
	}

	slog.Info("chat: history compacted", "session_id", sessionID, "compacted", len(toSummarize))
}

// ContextMessages builds the LLM history for a session within the token
// budget: the session summary leads as a system message when present,
// followed by the most recent messages that fit, in chronological order.
func (m *ContextManager) ContextMessages(ctx context.Context, sessionID string, maxTokens int) ([]llm.Message, error) {
	var result []llm.Message
	totalTokens := 0

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Summary != "" {
		summaryTokens := token.Estimate(sess.Summary)
		if totalTokens+summaryTokens < maxTokens {
			result = append(result, llm.Message{
				Role:    "system",
				Content: "之前的对话摘要：" + sess.Summary,
			})
			totalTokens += summaryTokens
		}
	}

	messages, err := m.store.ListMessagesDesc(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var recent []llm.Message
	for _, msg := range messages {
		msgTokens := msg.TokenCount
		if msgTokens == 0 {
			msgTokens = token.Estimate(msg.Content)
		}
		if totalTokens+msgTokens > maxTokens {
			break
		}
		// Prepend: the source order is newest-first.
		recent = append([]llm.Message{{
			Role:    strings.ToLower(msg.Role),
			Content: msg.Content,
		}}, recent...)
		totalTokens += msgTokens
	}

	result = append(result, recent...)
	slog.Debug("chat: context built",
		"session_id", sessionID, "messages", len(result), "tokens", totalTokens)
	return result, nil
}

// Session returns a session by id.
func (m *ContextManager) Session(ctx context.Context, sessionID string) (store.Session, error) {
	return m.store.GetSession(ctx, sessionID)
}

// ClearSession deletes a session and its messages.
func (m *ContextManager) ClearSession(ctx context.Context, sessionID string) error {
	if err := m.store.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}
