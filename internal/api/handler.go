// Package api exposes the turn graph over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/tutorgraph/internal/graph"
	"github.com/kalambet/tutorgraph/internal/ingest"
	"github.com/kalambet/tutorgraph/internal/metrics"
	"github.com/kalambet/tutorgraph/internal/storage"
	"github.com/kalambet/tutorgraph/internal/tools"
)

const maxRequestBodySize = 1 << 20 // 1MB

// TurnRunner runs one conversation turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, in graph.TurnInput) (*graph.TurnResult, error)
}

type Deps struct {
	Turns   TurnRunner
	Store   *storage.Store
	Tools   *tools.Registry
	Metrics *metrics.Metrics // optional; /metrics is not mounted when nil
	Token   string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/turns", handleTurn(deps))
		r.Get("/sessions", handleListSessions(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Get("/sessions/{id}/messages", handleSessionMessages(deps))
		r.Delete("/sessions/{id}", handleDeleteSession(deps))
		r.Get("/corrections", handleListCorrections(deps))
		r.Delete("/corrections", handleDeleteCorrection(deps))
		r.Get("/tools", handleListTools(deps))
		r.Post("/ingest", handleIngest(deps))
		r.Get("/jobs/{id}", handleGetJob(deps))
		r.Get("/knowledge", handleListKnowledge(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.Ping(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "storage_error", "storage unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func handleTurn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TurnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required")
			return
		}
		if req.SessionID == "" {
			req.SessionID = uuid.NewString()
		}

		res, err := deps.Turns.RunTurn(r.Context(), graph.TurnInput{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Query:     req.Query,
		})
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, turnResponse(res))
		case errors.Is(err, graph.ErrEmptyQuery), errors.Is(err, graph.ErrEmptySession):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
		case errors.Is(err, context.DeadlineExceeded):
			httpError(w, http.StatusGatewayTimeout, "timeout_error", "turn timed out")
		case errors.Is(err, context.Canceled):
			slog.Info("turn cancelled by client", "session_id", req.SessionID)
		case errors.Is(err, storage.ErrStorage):
			httpError(w, http.StatusInternalServerError, "storage_error", "%v", err)
		default:
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
		}
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)

		sessions, err := deps.Store.ListSessions(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to list sessions: %v", err)
			return
		}

		out := make([]Session, len(sessions))
		for i, s := range sessions {
			out[i] = sessionView(s)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sess, err := deps.Store.GetSession(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to get session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sessionView(sess))
	}
}

func handleSessionMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Store.GetSession(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		history, err := deps.Store.History(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to load history: %v", err)
			return
		}

		out := make([]Message, len(history))
		for i, m := range history {
			out[i] = Message{ID: m.ID, Role: m.Role, Content: m.Content, Timestamp: m.Timestamp}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDeleteSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := deps.Store.DeleteSession(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to delete session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListCorrections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := deps.Store.ListCorrections(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to list corrections: %v", err)
			return
		}

		out := make([]Correction, len(list))
		for i, c := range list {
			out[i] = Correction{Key: c.Key, Text: c.Text, CreatedAt: c.CreatedAt}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// handleDeleteCorrection takes the key in the body since keys are raw query
// text.
func handleDeleteCorrection(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Key string `json:"key"`
		}
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Key == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "key is required")
			return
		}

		err := deps.Store.DeleteCorrection(r.Context(), req.Key)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "correction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to delete correction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListTools(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defs := deps.Tools.Definitions()
		out := make([]ToolInfo, len(defs))
		for i, d := range defs {
			out[i] = toolInfo(d)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req IngestRequest
		if !decodeBody(w, r, &req) {
			return
		}

		id, err := ingest.Submit(r.Context(), deps.Store, ingest.Request{
			Title:  req.Title,
			Source: req.Source,
			Text:   req.Text,
			Path:   req.Path,
		})
		if errors.Is(err, ingest.ErrEmptyRequest) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"job_id": id, "status": "queued"})
	}
}

func handleGetJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, Job{
			ID:        job.ID,
			Type:      job.Type,
			Status:    job.Status,
			Attempts:  job.Attempts,
			LastError: job.LastError,
			UpdatedAt: job.UpdatedAt,
		})
	}
}

func handleListKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Store.ListKnowledgeDocs(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "storage_error", "failed to list knowledge: %v", err)
			return
		}

		out := make([]KnowledgeDoc, len(docs))
		for i, d := range docs {
			out[i] = KnowledgeDoc{ID: d.ID, Title: d.Title, Source: d.Source, Content: d.Content, CreatedAt: d.CreatedAt}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
