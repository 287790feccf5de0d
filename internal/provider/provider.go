// Package provider defines the completion provider contract used by the turn
// graph and the clients that implement it.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Message roles understood by every provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one entry of the conversation sent to a provider.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // set on assistant messages that requested tools
	ToolCallID string     // set on tool messages
	Name       string     // tool name on tool messages
}

// ToolCall is a provider's request to run a named tool. Arguments holds the
// raw JSON object; decoding is left to the tool registry so that malformed
// arguments surface as a tool error rather than a provider error.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ToolDef advertises a tool to a provider. Parameters is a JSON Schema object.
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is the outcome of one completion call. A response with no tool
// calls is a final answer.
type Response struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider is a completion backend.
type Provider interface {
	Name() string
	// SupportsTools reports whether tool definitions may be passed to Complete.
	SupportsTools() bool
	Complete(ctx context.Context, messages []Message, tools []ToolDef) (Response, error)
}

// ErrProvider matches every failure raised by a provider call.
var ErrProvider = errors.New("provider failure")

// Error describes a failed provider call.
type Error struct {
	Provider string
	Status   int // HTTP status, 0 when the request never completed
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: HTTP %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrProvider }

// Registry maps provider names to providers.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range ps {
		r.Register(p)
	}
	return r
}

// Register adds p under its lower-cased name, replacing any previous entry.
func (r *Registry) Register(p Provider) {
	r.providers[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[strings.ToLower(name)]
	return p, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
