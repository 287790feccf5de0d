// Package selector picks the completion provider for a turn, honouring
// explicit switch commands and the session's sticky override.
package selector

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/tutorgraph/internal/provider"
)

const defaultTimeout = 10 * time.Second

// Class is the routing bucket of a query.
type Class string

const (
	Simple  Class = "simple"
	Complex Class = "complex"
	Search  Class = "search"
)

var classes = []Class{Simple, Complex, Search}

// AutoKeyword clears the override when used in a switch command.
const AutoKeyword = "auto"

var commandPhrases = []string{"set model", "use model", "switch to"}

// Routes maps each class to a provider name.
type Routes struct {
	Simple  string
	Complex string
	Search  string
}

func (r Routes) provider(c Class) string {
	switch c {
	case Complex:
		return r.Complex
	case Search:
		return r.Search
	default:
		return r.Simple
	}
}

// Selection is the outcome of Resolve.
type Selection struct {
	Provider string
	// Override is the sticky override after this turn. Empty means auto.
	Override string
	Class    Class
	// Command is true when the query was a switch command.
	Command bool
}

// Selector resolves the provider for each turn.
type Selector struct {
	classifier provider.Provider
	routes     Routes
	known      []string
	timeout    time.Duration
}

// New creates a Selector. known lists the provider names that switch commands
// and overrides may refer to.
func New(classifier provider.Provider, routes Routes, known []string, timeout time.Duration) *Selector {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	names := make([]string, len(known))
	for i, n := range known {
		names[i] = strings.ToLower(n)
	}
	return &Selector{classifier: classifier, routes: routes, known: names, timeout: timeout}
}

// Resolve applies, in order: a switch command in the query, the current
// override, then automatic classification.
func (s *Selector) Resolve(ctx context.Context, query, override string) Selection {
	if sel, ok := s.command(query); ok {
		return sel
	}

	if override != "" {
		if s.isKnown(override) {
			return Selection{Provider: strings.ToLower(override), Override: strings.ToLower(override)}
		}
		slog.Warn("ignoring unknown provider override", "override", override)
	}

	class := s.classify(ctx, query)
	return Selection{Provider: s.routes.provider(class), Class: class}
}

// ParseCommand reports the switch target in query: a provider name, "auto",
// or "" when query is not a switch command.
func ParseCommand(query string, known []string) string {
	q := strings.ToLower(query)
	isCommand := false
	for _, p := range commandPhrases {
		if strings.Contains(q, p) {
			isCommand = true
			break
		}
	}
	if !isCommand {
		return ""
	}
	for _, name := range known {
		if strings.Contains(q, strings.ToLower(name)) {
			return strings.ToLower(name)
		}
	}
	if strings.Contains(q, AutoKeyword) {
		return AutoKeyword
	}
	return ""
}

// IsCommand reports whether query is a switch command for this selector.
func (s *Selector) IsCommand(query string) bool {
	return ParseCommand(query, s.known) != ""
}

func (s *Selector) command(query string) (Selection, bool) {
	switch target := ParseCommand(query, s.known); target {
	case "":
		return Selection{}, false
	case AutoKeyword:
		return Selection{Provider: s.routes.Simple, Class: Simple, Command: true}, true
	default:
		return Selection{Provider: target, Override: target, Command: true}, true
	}
}

func (s *Selector) isKnown(name string) bool {
	name = strings.ToLower(name)
	for _, n := range s.known {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Selector) classify(ctx context.Context, query string) Class {
	if s.classifier == nil {
		return Simple
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.classifier.Complete(ctx, buildPrompt(query), nil)
	if err != nil {
		slog.Warn("provider routing failed, using simple route", "error", err)
		return Simple
	}
	return s.parseClass(resp.Content)
}

const routerPrompt = `You route user messages to the best assistant.
1. simple: small talk, greetings, short everyday questions.
2. complex: visual, complex, creative or multi-step work such as explanations, presentations and quizzes.
3. search: news, current events, facts that need a web search.
Return ONLY one word: simple, complex or search.`

func buildPrompt(query string) []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: routerPrompt},
		{Role: provider.RoleUser, Content: query},
	}
}

// parseClass accepts a class label or the provider name routed to it.
// Anything else is Simple.
func (s *Selector) parseClass(raw string) Class {
	answer := strings.Trim(strings.ToLower(strings.TrimSpace(raw)), ".\"'`*")
	for _, c := range classes {
		if answer == string(c) || (answer != "" && answer == strings.ToLower(s.routes.provider(c))) {
			return c
		}
	}

	var found []Class
	for _, c := range classes {
		if strings.Contains(answer, string(c)) {
			found = append(found, c)
		}
	}
	if len(found) == 1 {
		return found[0]
	}
	return Simple
}
