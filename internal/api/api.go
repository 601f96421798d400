// Package api exposes the chat pipeline over HTTP: submitting turns, reading
// history, reindexing tenant content and deleting conversations, plus health
// probes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Cirilcetra/agentbackend/internal/bot"
	"github.com/Cirilcetra/agentbackend/internal/identity"
	"github.com/Cirilcetra/agentbackend/internal/log"
	"github.com/Cirilcetra/agentbackend/internal/storage"
)

// maxBodyBytes caps request bodies; chat messages are short.
const maxBodyBytes = 64 << 10

// Handler serves the HTTP API.
type Handler struct {
	bot    *bot.Bot
	tenant string // tenant served by the reindex endpoint
	logger log.Logger
}

// NewHandler creates the API handler.
func NewHandler(b *bot.Bot, tenant string, logger log.Logger) *Handler {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Handler{bot: b, tenant: tenant, logger: logger}
}

// Routes returns the full route table wrapped in the middleware chain.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", h.handleChat)
	mux.HandleFunc("GET /api/history", h.handleHistory)
	mux.HandleFunc("POST /api/reindex", h.handleReindex)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.handleDeleteConversation)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /ready", h.handleHealth)
	return chain(mux, recoverPanics(h.logger), requestLog(h.logger))
}

type chatRequest struct {
	ChatbotID   string `json:"chatbot_id"`
	VisitorID   string `json:"visitor_id"`
	VisitorName string `json:"visitor_name,omitempty"`
	Message     string `json:"message"`
}

type chatResponse struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id,omitempty"`
	Fallback       bool   `json:"fallback,omitempty"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	chatbotID, err := uuid.Parse(req.ChatbotID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chatbot_id")
		return
	}

	resp, err := h.bot.SubmitTurn(r.Context(), bot.TurnRequest{
		ChatbotID:   chatbotID,
		VisitorID:   req.VisitorID,
		VisitorName: req.VisitorName,
		Message:     req.Message,
	})
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "message is required")
		case errors.Is(err, identity.ErrEmptyVisitorID):
			writeError(w, http.StatusBadRequest, "visitor_id is required")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "chatbot not found")
		default:
			h.logger.Error("chat turn failed", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	out := chatResponse{
		Reply:          resp.Reply,
		ConversationID: resp.ConversationID.String(),
		Fallback:       resp.Fallback,
	}
	if resp.MessageID != uuid.Nil {
		out.MessageID = resp.MessageID.String()
	}
	writeJSON(w, http.StatusOK, out)
}

type historyMessage struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Response  string `json:"response"`
	CreatedAt string `json:"created_at"`
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatbotID, err := uuid.Parse(r.URL.Query().Get("chatbot_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid chatbot_id")
		return
	}
	visitorID := r.URL.Query().Get("visitor_id")
	if visitorID == "" {
		writeError(w, http.StatusBadRequest, "visitor_id is required")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
	}
	order := storage.OrderReverse
	switch r.URL.Query().Get("order") {
	case "", "desc":
	case "asc":
		order = storage.OrderForward
	default:
		writeError(w, http.StatusBadRequest, "invalid order")
		return
	}

	msgs, err := h.bot.GetHistory(r.Context(), chatbotID, visitorID, limit, order)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "chatbot not found")
			return
		}
		h.logger.Error("history read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]historyMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, historyMessage{
			ID:        m.ID.String(),
			Message:   m.Text,
			Response:  m.Response,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

func (h *Handler) handleReindex(w http.ResponseWriter, r *http.Request) {
	tenant := h.tenant
	var req struct {
		TenantID string `json:"tenant_id"`
		Category string `json:"category"`
		SourceID string `json:"source_id"`
	}
	// Body is optional; with no category the whole tenant is rebuilt. A body
	// that is present but unreadable must not quietly become a full rebuild.
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID != "" {
		tenant = req.TenantID
	}

	var err error
	if req.Category != "" {
		err = h.bot.ReindexEntity(r.Context(), tenant, req.Category, req.SourceID)
	} else {
		err = h.bot.Reindex(r.Context(), tenant)
	}
	if err != nil {
		switch {
		case errors.Is(err, bot.ErrInvalidCategory):
			writeError(w, http.StatusBadRequest, "invalid category")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "entity not found")
		default:
			h.logger.Error("reindex failed", "tenant_id", tenant, "error", err)
			writeError(w, http.StatusInternalServerError, "reindex failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "tenant_id": tenant})
}

func (h *Handler) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if err := h.bot.DeleteConversation(r.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Error("conversation delete failed", "conversation_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Server wraps http.Server with sane timeouts.
type Server struct {
	srv    *http.Server
	logger log.Logger
}

// NewServer creates an HTTP server for the handler.
func NewServer(addr string, handler http.Handler, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      120 * time.Second, // generation can be slow
			IdleTimeout:       2 * time.Minute,
		},
		logger: logger,
	}
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
