// Package askdoc is a document question-answering service: documents are
// parsed, chunked, and dual-indexed (dense vectors plus BM25); questions
// run through hybrid retrieval and a streaming, citation-bearing chat
// orchestrator with automatic model fallover.
package askdoc

import (
	"context"
	"fmt"

	"github.com/brunobiangulo/askdoc/bm25"
	"github.com/brunobiangulo/askdoc/chat"
	"github.com/brunobiangulo/askdoc/chunker"
	"github.com/brunobiangulo/askdoc/embed"
	"github.com/brunobiangulo/askdoc/enrich"
	"github.com/brunobiangulo/askdoc/llm"
	"github.com/brunobiangulo/askdoc/parser"
	"github.com/brunobiangulo/askdoc/retrieval"
	"github.com/brunobiangulo/askdoc/store"
	"github.com/brunobiangulo/askdoc/vectorstore"
)

// Service is the assembled document QA engine.
type Service struct {
	cfg Config

	store        *store.Store
	parsers      *parser.Registry
	chunker      *chunker.Chunker
	embedder     embed.Embedder
	vectors      vectorstore.Store
	lexical      *bm25.Index
	router       *llm.Router
	enricher     *enrich.Enricher
	retriever    *retrieval.Engine
	contexts     *chat.ContextManager
	orchestrator *chat.Orchestrator
}

// New wires a Service from configuration.
func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := store.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	primary, err := llm.NewClient(llmConfig(cfg.LLM.Primary), retryConfig(cfg.LLM.Retry))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating primary llm client: %w", err)
	}

	var fallback llm.Client
	if cfg.LLM.Fallback.Type != "" && cfg.LLM.Fallback.Type != "none" {
		fallback, err = llm.NewClient(llmConfig(cfg.LLM.Fallback), retryConfig(cfg.LLM.Retry))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating fallback llm client: %w", err)
		}
	}
	router := llm.NewRouter(primary, fallback)

	embedder, err := embed.New(embedConfig(cfg.Embedding))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	vectors, err := vectorstore.New(vectorstore.Config{
		Type:      cfg.Vector.Type,
		Path:      cfg.Vector.SQLiteVec.Path,
		Dimension: cfg.Vector.SQLiteVec.Dimension,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	lexical := bm25.NewIndex()
	retriever := retrieval.New(s, embedder, vectors, lexical, router, retrieval.Config{
		TopK:                   cfg.RAG.TopK,
		SimilarityThreshold:    cfg.RAG.SimilarityThreshold,
		SmallDocumentThreshold: cfg.RAG.SmallDocumentThreshold,
	})
	contexts := chat.NewContextManager(s, router, chat.ContextConfig{
		MaxHistoryRounds: cfg.Context.MaxHistoryRounds,
		SummaryThreshold: cfg.Context.SummaryThreshold,
	})
	orchestrator := chat.NewOrchestrator(retriever, contexts, router, chat.OrchestratorConfig{
		MaxContextTokens: cfg.Context.MaxContextTokens,
		MaxTokens:        cfg.LLM.Primary.MaxTokens,
	})

	return &Service{
		cfg:          cfg,
		store:        s,
		parsers:      parser.NewRegistry(),
		chunker: chunker.New(chunker.Config{
			ChunkSize:    cfg.Chunking.ChunkSize,
			ChunkOverlap: cfg.Chunking.ChunkOverlap,
			MinChunkSize: cfg.Chunking.MinChunkSize,
		}),
		embedder:     embedder,
		vectors:      vectors,
		lexical:      lexical,
		router:       router,
		enricher:     enrich.New(router),
		retriever:    retriever,
		contexts:     contexts,
		orchestrator: orchestrator,
	}, nil
}

// Close releases the service's backing resources.
func (s *Service) Close() error {
	verr := s.vectors.Close()
	serr := s.store.Close()
	if serr != nil {
		return serr
	}
	return verr
}

// Store exposes the persistence layer for diagnostic access.
func (s *Service) Store() *store.Store { return s.store }

// --- chat surface ---

// CreateSession opens a chat session over the given documents (single id
// or csv; may be empty for open chat).
func (s *Service) CreateSession(ctx context.Context, documentIDs string) (store.Session, error) {
	return s.contexts.CreateSession(ctx, documentIDs)
}

// Session returns a chat session by id.
func (s *Service) Session(ctx context.Context, id string) (store.Session, error) {
	sess, err := s.contexts.Session(ctx, id)
	if err != nil {
		return sess, ErrSessionNotFound
	}
	return sess, nil
}

// StreamAnswer answers a question as a chunk stream.
func (s *Service) StreamAnswer(ctx context.Context, req chat.Request) (<-chan chat.Chunk, error) {
	return s.orchestrator.StreamAnswer(ctx, req)
}

// Answer answers a question synchronously.
func (s *Service) Answer(ctx context.Context, req chat.Request) (chat.Chunk, error) {
	return s.orchestrator.Answer(ctx, req)
}

// --- config mapping ---

func llmConfig(m ModelConfig) llm.Config {
	return llm.Config{
		Kind:       m.Type,
		APIType:    m.APIType,
		APIKey:     m.APIKey,
		Model:      m.Model,
		Endpoint:   m.Endpoint,
		APIVersion: m.APIVersion,
		TimeoutMs:  m.TimeoutMs,
		MaxTokens:  m.MaxTokens,
	}
}

func retryConfig(r RetryConfig) llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts: r.MaxAttempts,
		DelayMs:     r.DelayMs,
		Multiplier:  r.Multiplier,
	}
}

func embedConfig(e EmbeddingConfig) embed.Config {
	cfg := embed.Config{Kind: e.Type, BatchSize: e.BatchSize}
	switch e.Type {
	case "openai":
		cfg.APIKey, cfg.Model, cfg.Endpoint = e.OpenAI.APIKey, e.OpenAI.Model, e.OpenAI.Endpoint
	case "azure":
		cfg.APIKey, cfg.Model, cfg.Endpoint = e.Azure.APIKey, e.Azure.Model, e.Azure.Endpoint
	case "dashscope":
		cfg.APIKey, cfg.Model, cfg.Endpoint = e.DashScope.APIKey, e.DashScope.Model, e.DashScope.Endpoint
	}
	return cfg
}
