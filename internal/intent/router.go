// Package intent decides whether a user turn is a new query or a correction
// of the previous answer.
package intent

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/storage"
)

const defaultTimeout = 10 * time.Second

// Intent is the classification of a user turn.
type Intent string

const (
	Query      Intent = "QUERY"
	Correction Intent = "CORRECTION"
)

// Router classifies turns with a small completion call.
type Router struct {
	classifier provider.Provider
	timeout    time.Duration
}

// NewRouter creates a Router. A non-positive timeout uses the default.
func NewRouter(classifier provider.Provider, timeout time.Duration) *Router {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Router{classifier: classifier, timeout: timeout}
}

// Classify never fails: an empty history, a provider error, a timeout or an
// unrecognised answer all yield Query.
func (r *Router) Classify(ctx context.Context, query string, history []storage.Message) Intent {
	if len(history) == 0 || r.classifier == nil {
		return Query
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.classifier.Complete(ctx, BuildPrompt(query, history), nil)
	if err != nil {
		slog.Warn("intent classification failed", "provider", r.classifier.Name(), "error", err)
		return Query
	}
	if strings.Contains(strings.ToUpper(resp.Content), string(Correction)) {
		return Correction
	}
	return Query
}
