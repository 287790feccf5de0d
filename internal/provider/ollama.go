package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutorgraph/internal/ollama"
)

// OllamaChatter is the subset of the Ollama client used by OllamaProvider.
type OllamaChatter interface {
	Chat(ctx context.Context, model string, messages []ollama.Message, tools []ollama.Tool) (ollama.Message, error)
}

// OllamaProvider exposes a local Ollama model as a tool-capable provider.
type OllamaProvider struct {
	name    string
	model   string
	client  OllamaChatter
	timeout time.Duration
}

func NewOllama(name, model string, client OllamaChatter, timeout time.Duration) *OllamaProvider {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &OllamaProvider{name: name, model: model, client: client, timeout: timeout}
}

func (p *OllamaProvider) Name() string { return p.name }

func (p *OllamaProvider) SupportsTools() bool { return true }

func (p *OllamaProvider) Complete(ctx context.Context, messages []Message, tools []ToolDef) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msgs := make([]ollama.Message, 0, len(messages))
	for _, m := range messages {
		om := ollama.Message{Role: m.Role, Content: m.Content}
		if m.Role == RoleTool {
			om.ToolName = m.Name
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, ollama.ToolCall{
				Function: ollama.ToolCallFunction{Name: tc.Name, Arguments: tc.Arguments},
			})
		}
		msgs = append(msgs, om)
	}

	var defs []ollama.Tool
	for _, t := range tools {
		defs = append(defs, ollama.Tool{
			Type:     "function",
			Function: ollama.ToolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	out, err := p.client.Chat(ctx, p.model, msgs, defs)
	if err != nil {
		status := 0
		var se *ollama.StatusError
		if errors.As(err, &se) {
			status = se.Status
		}
		return Response{}, &Error{Provider: p.name, Status: status, Err: fmt.Errorf("ollama chat: %w", err)}
	}

	resp := Response{Content: out.Content}
	for _, tc := range out.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}
