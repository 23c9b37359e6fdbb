package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/brunobiangulo/askdoc"
	"github.com/brunobiangulo/askdoc/chat"
	"github.com/brunobiangulo/askdoc/llm"
	"github.com/brunobiangulo/askdoc/store"
)

type handler struct {
	svc         *askdoc.Service
	maxFileSize int64
}

func newHandler(svc *askdoc.Service, maxFileSize int64) *handler {
	return &handler{svc: svc, maxFileSize: maxFileSize}
}

// POST /api/documents
// Multipart upload with an optional skipEnrichment query flag.
func (h *handler) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	// Leave headroom above the document limit for multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with 'file'")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	skipEnrichment, _ := strconv.ParseBool(r.URL.Query().Get("skipEnrichment"))

	doc, err := h.svc.UploadDocument(r.Context(), header.Filename, header.Size, file, skipEnrichment)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GET /api/documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.Documents(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, docs)
}

// GET /api/documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Document(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GET /api/documents/{id}/content
func (h *handler) handleGetDocumentContent(w http.ResponseWriter, r *http.Request) {
	content, err := h.svc.DocumentContent(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

// GET /api/documents/{id}/chunks
func (h *handler) handleGetDocumentChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := h.svc.DocumentChunks(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if chunks == nil {
		chunks = []store.Chunk{}
	}
	writeJSON(w, http.StatusOK, chunks)
}

// DELETE /api/documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteDocument(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/documents/{id}/reindex
// Admin path: drop and rebuild both secondary indices from the chunk rows.
func (h *handler) handleReindexDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Reindex(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// POST /api/chat/sessions
func (h *handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DocumentID string `json:"documentId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	sess, err := h.svc.CreateSession(r.Context(), req.DocumentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// POST /api/chat
func (h *handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Query == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "query and sessionId are required")
		return
	}

	chunk, err := h.svc.Answer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chunk)
}

// GET /api/chat/stream?query&sessionId&documentId?&model?
// Streams chat chunks as SSE frames; the stream terminates after the frame
// with complete=true.
func (h *handler) handleChatStream(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := chat.Request{
		Query:      q.Get("query"),
		SessionID:  q.Get("sessionId"),
		DocumentID: q.Get("documentId"),
		ModelType:  q.Get("model"),
	}
	if req.Query == "" || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, "query and sessionId are required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	stream, err := h.svc.StreamAnswer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range stream {
		data, err := json.Marshal(chunk)
		if err != nil {
			slog.Error("sse: encoding chunk failed", "error", err)
			return
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			// Consumer went away; request-context cancellation stops the
			// producer.
			return
		}
		flusher.Flush()
	}
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var lerr *llm.Error
	switch {
	case errors.Is(err, askdoc.ErrDocumentNotFound),
		errors.Is(err, askdoc.ErrSessionNotFound),
		errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, askdoc.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, askdoc.ErrUnsupportedType),
		errors.Is(err, askdoc.ErrDocumentProcess):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, askdoc.ErrEmptyFile),
		errors.Is(err, askdoc.ErrInvalidArgument),
		errors.Is(err, chat.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &lerr):
		writeError(w, llmStatus(lerr.Kind), err.Error())
	default:
		slog.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func llmStatus(kind llm.ErrorKind) int {
	switch kind {
	case llm.KindRateLimit:
		return http.StatusTooManyRequests
	case llm.KindAuth:
		return http.StatusUnauthorized
	case llm.KindInvalidRequest:
		return http.StatusBadRequest
	case llm.KindTimeout, llm.KindNetwork, llm.KindService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
