// Package tools holds the tool catalog offered to providers and the concrete
// study tools behind it.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/kalambet/tutorgraph/internal/provider"
)

const defaultTimeout = 120 * time.Second

// Tool is one invocable capability.
type Tool interface {
	Definition() provider.ToolDef
	Invoke(ctx context.Context, args Args) (any, error)
}

// Result is the outcome of one invocation. Exactly one of Output and Error
// is meaningful.
type Result struct {
	Name   string
	Output any
	Error  string
}

// Failed reports whether the invocation produced an error payload.
func (r Result) Failed() bool { return r.Error != "" }

// Payload encodes the result as the JSON text fed back to the provider.
// Failures are encoded as {"error": "..."}.
func (r Result) Payload() string {
	v := r.Output
	if r.Failed() {
		v = map[string]string{"error": r.Error}
	}
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(map[string]string{"error": "encoding tool result: " + err.Error()})
	}
	return string(b)
}

// Registry is the ordered tool catalog.
type Registry struct {
	tools   map[string]Tool
	order   []string
	timeout time.Duration
}

// NewRegistry creates an empty Registry. A non-positive timeout uses the
// default per-invocation bound.
func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Registry{tools: make(map[string]Tool), timeout: timeout}
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns the catalog in registration order.
func (r *Registry) Definitions() []provider.ToolDef {
	defs := make([]provider.ToolDef, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Names returns the registered tool names sorted.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}

// Invoke runs the named tool with JSON-encoded arguments. It never returns an
// error: unknown tools, malformed arguments, timeouts, tool failures and
// panics all become error results.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) (res Result) {
	res.Name = name

	t, ok := r.tools[name]
	if !ok {
		res.Error = fmt.Sprintf("unknown tool %q", name)
		return res
	}

	args, err := ParseArgs(rawArgs)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool panicked", "tool", name, "panic", p)
			res.Output = nil
			res.Error = fmt.Sprintf("tool %s failed unexpectedly", name)
		}
	}()

	out, err := t.Invoke(ctx, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("tool %s timed out after %s", name, r.timeout)
		}
		res.Error = err.Error()
		return res
	}
	res.Output = out
	return res
}
