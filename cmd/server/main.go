package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/askdoc"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON or YAML)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// Local development credentials come from .env when present.
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded environment from .env")
	}

	cfg := askdoc.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = askdoc.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "path", *configPath, "error", err)
			os.Exit(1)
		}
	}
	applyEnvOverrides(&cfg)

	svc, err := askdoc.New(cfg)
	if err != nil {
		slog.Error("creating service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	apiKey := os.Getenv("ASKDOC_API_KEY")
	corsOrigins := os.Getenv("ASKDOC_CORS_ORIGINS")

	h := newHandler(svc, cfg.Document.MaxFileSize)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/documents", h.handleUploadDocument)
	mux.HandleFunc("GET /api/documents", h.handleListDocuments)
	mux.HandleFunc("GET /api/documents/{id}", h.handleGetDocument)
	mux.HandleFunc("GET /api/documents/{id}/content", h.handleGetDocumentContent)
	mux.HandleFunc("GET /api/documents/{id}/chunks", h.handleGetDocumentChunks)
	mux.HandleFunc("POST /api/documents/{id}/reindex", h.handleReindexDocument)
	mux.HandleFunc("DELETE /api/documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("POST /api/chat/sessions", h.handleCreateSession)
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("GET /api/chat/stream", h.handleChatStream)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var root http.Handler = mux
	root = logMiddleware(root)
	root = authMiddleware(apiKey, root)
	root = corsMiddleware(corsOrigins, root)
	root = recoveryMiddleware(root)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      root,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // SSE answers stream for the duration of the completion
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// applyEnvOverrides layers environment variables over the file config.
func applyEnvOverrides(cfg *askdoc.Config) {
	if v := os.Getenv("ASKDOC_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ASKDOC_STORAGE_PATH"); v != "" {
		cfg.Document.StoragePath = v
	}
	if v := os.Getenv("ASKDOC_LLM_PRIMARY_API_KEY"); v != "" {
		cfg.LLM.Primary.APIKey = v
	}
	if v := os.Getenv("ASKDOC_LLM_FALLBACK_API_KEY"); v != "" {
		cfg.LLM.Fallback.APIKey = v
	}
	if v := os.Getenv("ASKDOC_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.OpenAI.APIKey = v
		cfg.Embedding.Azure.APIKey = v
		cfg.Embedding.DashScope.APIKey = v
	}

	// Well-known provider variables fill gaps left by the config file.
	if cfg.LLM.Primary.APIKey == "" {
		switch cfg.LLM.Primary.Type {
		case "openai":
			cfg.LLM.Primary.APIKey = os.Getenv("OPENAI_API_KEY")
		case "azure":
			cfg.LLM.Primary.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		case "dashscope":
			cfg.LLM.Primary.APIKey = os.Getenv("DASHSCOPE_API_KEY")
		}
	}
	if cfg.LLM.Fallback.APIKey == "" {
		switch cfg.LLM.Fallback.Type {
		case "openai":
			cfg.LLM.Fallback.APIKey = os.Getenv("OPENAI_API_KEY")
		case "azure":
			cfg.LLM.Fallback.APIKey = os.Getenv("AZURE_OPENAI_API_KEY")
		case "dashscope":
			cfg.LLM.Fallback.APIKey = os.Getenv("DASHSCOPE_API_KEY")
		}
	}
}
