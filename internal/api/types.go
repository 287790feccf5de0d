package api

import (
	"time"

	"github.com/kalambet/tutorgraph/internal/graph"
	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/storage"
)

// TurnRequest is the body of POST /v1/turns. A missing session id opens a
// new session.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id,omitempty"`
	Query     string `json:"query"`
}

type TurnResponse struct {
	SessionID     string   `json:"session_id"`
	Answer        string   `json:"answer"`
	Provider      string   `json:"provider"`
	Override      string   `json:"override,omitempty"`
	Intent        string   `json:"intent"`
	Outcome       string   `json:"outcome"`
	ToolsUsed     []string `json:"tools_used"`
	ToolRounds    int      `json:"tool_rounds"`
	SessionActive bool     `json:"session_active"`
}

func turnResponse(res *graph.TurnResult) TurnResponse {
	used := res.ToolsUsed
	if used == nil {
		used = []string{}
	}
	return TurnResponse{
		SessionID:     res.SessionID,
		Answer:        res.Answer,
		Provider:      res.Provider,
		Override:      res.Override,
		Intent:        string(res.Intent),
		Outcome:       string(res.Outcome),
		ToolsUsed:     used,
		ToolRounds:    res.ToolRounds,
		SessionActive: res.SessionActive,
	}
}

type Session struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	CreatedAt  time.Time         `json:"created_at"`
	LastActive time.Time         `json:"last_active"`
	Metadata   map[string]string `json:"metadata"`
}

func sessionView(s storage.Session) Session {
	meta := s.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return Session{ID: s.ID, UserID: s.UserID, CreatedAt: s.CreatedAt, LastActive: s.LastActive, Metadata: meta}
}

type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Correction struct {
	Key       string    `json:"key"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func toolInfo(d provider.ToolDef) ToolInfo {
	return ToolInfo{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
}

// IngestRequest is the body of POST /v1/ingest. Path is read on the server
// host.
type IngestRequest struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	Text   string `json:"text"`
	Path   string `json:"path"`
}

type KnowledgeDoc struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Job struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
