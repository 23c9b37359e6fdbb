package chat

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/askdoc/bm25"
	"github.com/brunobiangulo/askdoc/embed"
	"github.com/brunobiangulo/askdoc/llm"
	"github.com/brunobiangulo/askdoc/retrieval"
	"github.com/brunobiangulo/askdoc/store"
	"github.com/brunobiangulo/askdoc/vectorstore"
)

// scriptedClient is an llm.Client whose stream plays fixed deltas and then
// completes or fails.
type scriptedClient struct {
	kind   string
	model  string
	deltas []string
	err    error
}

func (c *scriptedClient) Kind() string                       { return c.kind }
func (c *scriptedClient) ModelName() string                  { return c.model }
func (c *scriptedClient) Available(ctx context.Context) bool { return true }

func (c *scriptedClient) Chat(ctx context.Context, req llm.Request) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	return strings.Join(c.deltas, ""), nil
}

func (c *scriptedClient) StreamChat(ctx context.Context, req llm.Request) (*llm.Stream, error) {
	return llm.NewScriptedStream(c.deltas, c.err), nil
}

type orchestratorFixture struct {
	store    *store.Store
	contexts *ContextManager
	session  store.Session
}

// newOrchestrator builds a full answer pipeline over a small-document
// session so retrieval resolves through the full-text shortcut.
func newOrchestrator(t *testing.T, primary, fallback llm.Client) (*Orchestrator, *orchestratorFixture) {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.CreateDocument(ctx, store.Document{
		ID: "doc", Filename: "guide.md", FileType: "md", Status: store.StatusProcessing,
	}))
	require.NoError(t, s.SetDocumentReady(ctx, "doc", 2, "# Guide\n\nHello world guide body."))

	router := llm.NewRouter(primary, fallback)
	retriever := retrieval.New(s, embed.NewMockEmbedder(16), vectorstore.NewMemory(),
		bm25.NewIndex(), router, retrieval.Config{TopK: 5, SmallDocumentThreshold: 10})
	contexts := NewContextManager(s, router, ContextConfig{MaxHistoryRounds: 10, SummaryThreshold: 50})
	o := NewOrchestrator(retriever, contexts, router, OrchestratorConfig{
		MaxContextTokens: 4000, MaxTokens: 2048,
	})

	sess, err := contexts.CreateSession(ctx, "doc")
	require.NoError(t, err)

	return o, &orchestratorFixture{store: s, contexts: contexts, session: sess}
}

func collect(t *testing.T, stream <-chan Chunk) []Chunk {
	t.Helper()
	var chunks []Chunk
	for c := range stream {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestStreamAnswerHappyPath(t *testing.T) {
	primary := &scriptedClient{kind: "openai", model: "gpt-test", deltas: []string{"Hello", " there"}}
	o, f := newOrchestrator(t, primary, nil)

	stream, err := o.StreamAnswer(context.Background(), Request{
		Query: "what is this document about", SessionID: f.session.ID,
	})
	require.NoError(t, err)
	chunks := collect(t, stream)
	require.Len(t, chunks, 3)

	assert.Equal(t, "Hello", chunks[0].Content)
	assert.False(t, chunks[0].Complete)
	assert.Equal(t, " there", chunks[1].Content)

	terminal := chunks[2]
	assert.True(t, terminal.Complete)
	assert.Empty(t, terminal.Content)
	assert.Empty(t, terminal.Error)
	require.Len(t, terminal.Citations, 1)
	assert.Equal(t, "full-document", terminal.Citations[0].ChunkID)

	// Both turns persisted; the assistant turn carries the citations.
	messages, err := f.store.ListMessages(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, store.RoleUser, messages[0].Role)
	assert.Equal(t, store.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello there", messages[1].Content)

	var cited []retrieval.Citation
	require.NoError(t, json.Unmarshal([]byte(messages[1].Citations), &cited))
	assert.Equal(t, "full-document", cited[0].ChunkID)
}

func TestStreamAnswerExactlyOneTerminalFrame(t *testing.T) {
	primary := &scriptedClient{kind: "openai", model: "gpt-test", deltas: []string{"a", "b", "c"}}
	o, f := newOrchestrator(t, primary, nil)

	stream, err := o.StreamAnswer(context.Background(), Request{
		Query: "anything", SessionID: f.session.ID,
	})
	require.NoError(t, err)
	chunks := collect(t, stream)

	terminals := 0
	for i, c := range chunks {
		if c.Complete {
			terminals++
			assert.Equal(t, len(chunks)-1, i, "terminal frame must be last")
		} else {
			assert.NotEmpty(t, c.Content)
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestStreamAnswerFallback(t *testing.T) {
	primary := &scriptedClient{
		kind: "openai", model: "gpt-primary",
		deltas: []string{"Hel"},
		err:    &llm.Error{Kind: llm.KindTimeout, Message: "read deadline"},
	}
	fallback := &scriptedClient{
		kind: "dashscope", model: "qwen-fallback",
		deltas: []string{"lo", " world"},
	}
	o, f := newOrchestrator(t, primary, fallback)

	stream, err := o.StreamAnswer(context.Background(), Request{
		Query: "say hello world", SessionID: f.session.ID,
	})
	require.NoError(t, err)
	chunks := collect(t, stream)
	require.Len(t, chunks, 5)

	// Frame order: primary delta, warning, fallback deltas, terminal.
	assert.Equal(t, "Hel", chunks[0].Content)

	assert.NotEmpty(t, chunks[1].Warning)
	assert.Contains(t, chunks[1].Warning, "gpt-primary")
	assert.Contains(t, chunks[1].Warning, "qwen-fallback")
	assert.False(t, chunks[1].Complete)

	assert.Equal(t, "lo", chunks[2].Content)
	assert.Equal(t, " world", chunks[3].Content)

	terminal := chunks[4]
	assert.True(t, terminal.Complete)
	assert.Empty(t, terminal.Error)
	assert.NotEmpty(t, terminal.Citations)

	// The persisted answer spans both streams with no delta loss.
	messages, err := f.store.ListMessages(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "Hello world", messages[1].Content)
}

func TestStreamAnswerNoFallbackAvailable(t *testing.T) {
	primary := &scriptedClient{
		kind: "openai", model: "gpt-primary",
		deltas: []string{"par"},
		err:    &llm.Error{Kind: llm.KindService, Message: "boom"},
	}
	o, f := newOrchestrator(t, primary, nil)

	stream, err := o.StreamAnswer(context.Background(), Request{
		Query: "hello", SessionID: f.session.ID,
	})
	require.NoError(t, err)
	chunks := collect(t, stream)
	require.NotEmpty(t, chunks)

	terminal := chunks[len(chunks)-1]
	assert.True(t, terminal.Complete)
	assert.NotEmpty(t, terminal.Error)

	// No assistant turn is persisted for a failed answer.
	messages, err := f.store.ListMessages(context.Background(), f.session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, store.RoleUser, messages[0].Role)
}

func TestStreamAnswerBothModelsFail(t *testing.T) {
	primary := &scriptedClient{
		kind: "openai", model: "gpt-primary",
		err: &llm.Error{Kind: llm.KindTimeout, Message: "timeout"},
	}
	fallback := &scriptedClient{
		kind: "dashscope", model: "qwen-fallback",
		err: &llm.Error{Kind: llm.KindService, Message: "also down"},
	}
	o, f := newOrchestrator(t, primary, fallback)

	stream, err := o.StreamAnswer(context.Background(), Request{
		Query: "hello", SessionID: f.session.ID,
	})
	require.NoError(t, err)
	chunks := collect(t, stream)

	var sawWarning bool
	for _, c := range chunks {
		if c.Warning != "" {
			sawWarning = true
		}
	}
	assert.True(t, sawWarning)

	terminal := chunks[len(chunks)-1]
	assert.True(t, terminal.Complete)
	assert.NotEmpty(t, terminal.Error)
}

func TestStreamAnswerUnknownSession(t *testing.T) {
	primary := &scriptedClient{kind: "openai", model: "m", deltas: []string{"x"}}
	o, _ := newOrchestrator(t, primary, nil)

	_, err := o.StreamAnswer(context.Background(), Request{
		Query: "hello", SessionID: "missing",
	})
	assert.Error(t, err)
}

func TestStreamAnswerEmptyQuery(t *testing.T) {
	primary := &scriptedClient{kind: "openai", model: "m", deltas: []string{"x"}}
	o, f := newOrchestrator(t, primary, nil)

	_, err := o.StreamAnswer(context.Background(), Request{
		Query: "  ", SessionID: f.session.ID,
	})
	assert.Error(t, err)
}

func TestAnswerSynchronous(t *testing.T) {
	primary := &scriptedClient{kind: "openai", model: "m", deltas: []string{"full ", "answer"}}
	o, f := newOrchestrator(t, primary, nil)

	chunk, err := o.Answer(context.Background(), Request{
		Query: "question", SessionID: f.session.ID,
	})
	require.NoError(t, err)
	assert.True(t, chunk.Complete)
	assert.Equal(t, "full answer", chunk.Content)
	assert.NotEmpty(t, chunk.Citations)
}

func TestResolveDocumentIDs(t *testing.T) {
	primary := &scriptedClient{kind: "openai", model: "m", deltas: []string{"x"}}
	o, f := newOrchestrator(t, primary, nil)
	ctx := context.Background()

	// Request csv wins over the session.
	ids := o.resolveDocumentIDs(ctx, f.session.ID, "a, b ,c")
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	// Literal "null" falls through to the session's documents.
	ids = o.resolveDocumentIDs(ctx, f.session.ID, "null")
	assert.Equal(t, []string{"doc"}, ids)

	ids = o.resolveDocumentIDs(ctx, f.session.ID, "")
	assert.Equal(t, []string{"doc"}, ids)
}
