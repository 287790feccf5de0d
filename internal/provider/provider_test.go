package provider

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/kalambet/tutorgraph/internal/ollama"
)

type fakeChatter struct {
	gotMessages []ollama.Message
	gotTools    []ollama.Tool
	reply       ollama.Message
	err         error
}

func (f *fakeChatter) Chat(_ context.Context, _ string, messages []ollama.Message, tools []ollama.Tool) (ollama.Message, error) {
	f.gotMessages = messages
	f.gotTools = tools
	return f.reply, f.err
}

func TestOllamaProvider_Complete(t *testing.T) {
	fc := &fakeChatter{reply: ollama.Message{
		Role: "assistant",
		ToolCalls: []ollama.ToolCall{{Function: ollama.ToolCallFunction{
			Name: "ask_document_tool", Arguments: json.RawMessage(`{"question":"why"}`),
		}}},
	}}
	p := NewOllama("ollama", "llama3.1", fc, 0)

	resp, err := p.Complete(context.Background(), []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleTool, Name: "t", Content: "r"},
	}, []ToolDef{{Name: "ask_document_tool"}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "ask_document_tool" || resp.ToolCalls[0].ID == "" {
		t.Errorf("ToolCalls = %+v", resp.ToolCalls)
	}
	if fc.gotMessages[1].ToolName != "t" {
		t.Errorf("tool message name = %q, want t", fc.gotMessages[1].ToolName)
	}
	if len(fc.gotTools) != 1 || fc.gotTools[0].Type != "function" {
		t.Errorf("tools = %+v", fc.gotTools)
	}
}

func TestOllamaProvider_Error(t *testing.T) {
	fc := &fakeChatter{err: &ollama.StatusError{Status: 500, Body: "boom"}}
	_, err := NewOllama("ollama", "m", fc, 0).Complete(context.Background(), nil, nil)
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != 500 || !errors.Is(err, ErrProvider) {
		t.Errorf("err = %v, want provider error with status 500", err)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(
		NewClient(ClientConfig{Name: "perplexity"}),
		NewClient(ClientConfig{Name: "Groq"}),
	)
	if _, ok := r.Get("GROQ"); !ok {
		t.Error("Get(GROQ) not found")
	}
	if _, ok := r.Get("gemini"); ok {
		t.Error("Get(gemini) found, want missing")
	}
	if got, want := r.Names(), []string{"groq", "perplexity"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}
