// Package correction records user corrections of previous answers and turns
// a correction turn into a follow-up query.
package correction

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/tutorgraph/internal/storage"
)

// UnknownKey is used when there is no prior user query to attach to.
const UnknownKey = "unknown_query"

var markerRE = regexp.MustCompile(`(?i)^\s*correction\s*:`)

// Store is the persistence the ledger needs.
type Store interface {
	UpsertCorrection(ctx context.Context, key, text string) error
	ListCorrections(ctx context.Context) ([]storage.Correction, error)
}

// Applied describes a recorded correction.
type Applied struct {
	Key  string
	Text string
	// Query is the rewritten working query for the answering provider.
	Query string
}

// Ledger is the global correction store.
type Ledger struct {
	store Store
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Apply records the correction carried by query against the previous user
// query in history and returns the rewritten working query. history must not
// yet contain the current turn.
func (l *Ledger) Apply(ctx context.Context, query string, history []storage.Message) (Applied, error) {
	a := Applied{Key: Key(history), Text: StripMarker(query)}
	if err := l.store.UpsertCorrection(ctx, a.Key, a.Text); err != nil {
		return Applied{}, fmt.Errorf("recording correction: %w", err)
	}
	a.Query = RewriteQuery(a.Key, a.Text)
	return a, nil
}

// Snapshot returns every ledger entry, oldest first.
func (l *Ledger) Snapshot(ctx context.Context) ([]storage.Correction, error) {
	return l.store.ListCorrections(ctx)
}

// Key is the content of the second-to-last history message, which is the
// user query that produced the answer being corrected.
func Key(history []storage.Message) string {
	if len(history) < 2 {
		return UnknownKey
	}
	return history[len(history)-2].Content
}

// StripMarker removes a leading "correction:" marker in any case and trims
// surrounding whitespace.
func StripMarker(query string) string {
	return strings.TrimSpace(markerRE.ReplaceAllString(query, ""))
}

func RewriteQuery(key, text string) string {
	return fmt.Sprintf("The user corrected the previous answer to '%s'. Correction: %s. Please provide the correct answer now.", key, text)
}
