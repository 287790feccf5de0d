package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(url string, tools bool) *Client {
	c := NewClient(ClientConfig{Name: "groq", BaseURL: url + "/", APIKey: "test-key", Model: "llama-test", Tools: tools})
	c.backoff = time.Millisecond
	return c
}

func TestComplete_FinalAnswer(t *testing.T) {
	var gotAuth, gotPath string
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Hello!"}}]}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL, true).Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be nice"},
		{Role: RoleUser, Content: "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Hello!" {
		t.Errorf("Content = %q, want %q", resp.Content, "Hello!")
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Errorf("path = %q, want /chat/completions", gotPath)
	}
	if got.Model != "llama-test" || len(got.Messages) != 2 {
		t.Errorf("request = %+v", got)
	}
}

func TestComplete_ToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":null,"tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"retrieve_knowledge_tool","arguments":"{\"query\":\"mitosis\"}"}},
			{"type":"function","function":{"name":"generate_presentation_tool","arguments":"{\"topic\":\"cells\"}"}}
		]}}]}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL, true).Complete(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.ToolCalls) != 2 {
		t.Fatalf("len(ToolCalls) = %d, want 2", len(resp.ToolCalls))
	}
	first := resp.ToolCalls[0]
	if first.ID != "call_1" || first.Name != "retrieve_knowledge_tool" {
		t.Errorf("first call = %+v", first)
	}
	var args map[string]string
	if err := json.Unmarshal(first.Arguments, &args); err != nil || args["query"] != "mitosis" {
		t.Errorf("arguments = %s (%v)", first.Arguments, err)
	}
	if resp.ToolCalls[1].ID == "" {
		t.Error("missing call id was not filled in")
	}
}

func TestComplete_ToolsOnlyWhenSupported(t *testing.T) {
	defs := []ToolDef{{Name: "t", Description: "d", Parameters: map[string]any{"type": "object"}}}

	for _, supported := range []bool{true, false} {
		var got map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&got)
			io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
		}))
		if _, err := newTestClient(srv.URL, supported).Complete(context.Background(), nil, defs); err != nil {
			t.Fatalf("Complete: %v", err)
		}
		srv.Close()

		_, hasTools := got["tools"]
		if hasTools != supported {
			t.Errorf("tools supported=%v: request has tools = %v", supported, hasTools)
		}
	}
}

func TestComplete_ReplaysToolRound(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"done"}}]}`)
	}))
	defer srv.Close()

	msgs := []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "t"}}},
		{Role: RoleTool, ToolCallID: "c1", Name: "t", Content: `{"ok":true}`},
	}
	if _, err := newTestClient(srv.URL, true).Complete(context.Background(), msgs, nil); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(got.Messages) != 3 {
		t.Fatalf("len(messages) = %d, want 3", len(got.Messages))
	}
	call := got.Messages[1].ToolCalls[0]
	if call.Function.Arguments != "{}" || call.Type != "function" {
		t.Errorf("replayed call = %+v", call)
	}
	if got.Messages[2].ToolCallID != "c1" {
		t.Errorf("tool_call_id = %q, want c1", got.Messages[2].ToolCallID)
	}
}

func TestComplete_RetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"finally"}}]}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL, false).Complete(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "finally" || calls.Load() != 3 {
		t.Errorf("content = %q after %d calls", resp.Content, calls.Load())
	}
}

func TestComplete_RateLimitExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, false).Complete(context.Background(), nil, nil)
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != http.StatusTooManyRequests {
		t.Fatalf("err = %v, want provider error with status 429", err)
	}
}

func TestComplete_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, false).Complete(context.Background(), nil, nil)
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("err = %v, want ErrProvider", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Provider != "groq" || pe.Status != http.StatusUnauthorized {
		t.Errorf("err = %#v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL, false).Complete(context.Background(), nil, nil); !errors.Is(err, ErrProvider) {
		t.Errorf("err = %v, want ErrProvider", err)
	}
}

func TestComplete_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(ClientConfig{Name: "gemini", BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if _, err := c.Complete(context.Background(), nil, nil); !errors.Is(err, ErrProvider) {
		t.Errorf("err = %v, want ErrProvider", err)
	}
}
