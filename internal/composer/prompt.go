// Package composer assembles the message list sent to the answering provider.
package composer

import (
	"strings"

	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/storage"
)

const (
	defaultHistoryWindow    = 1000
	defaultMaxContextTokens = 24000
)

const (
	baseInstruction   = "You are a helpful AI assistant."
	correctionsHeader = "PREVIOUS USER CORRECTIONS (Apply these strictly):"
)

// Composer builds prompts from the correction ledger, the session history and
// the working query.
type Composer struct {
	// HistoryWindow caps how many trailing history messages are replayed.
	HistoryWindow int
	// MaxContextTokens caps the estimated size of the whole prompt. The oldest
	// history messages are dropped first to fit.
	MaxContextTokens int
}

// New creates a Composer. Non-positive arguments use the defaults.
func New(historyWindow, maxContextTokens int) *Composer {
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{HistoryWindow: historyWindow, MaxContextTokens: maxContextTokens}
}

// Compose returns the system instruction, the trimmed history and the query,
// in that order.
func (c *Composer) Compose(corrections []storage.Correction, history []storage.Message, query string) []provider.Message {
	system := SystemInstruction(corrections)
	user := provider.Message{Role: provider.RoleUser, Content: query}

	budget := c.MaxContextTokens - EstimateTokens(system) - EstimateTokens(query)
	kept := c.trimHistory(history, budget)

	msgs := make([]provider.Message, 0, len(kept)+2)
	msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: system})
	for _, m := range kept {
		msgs = append(msgs, provider.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, user)
}

// SystemInstruction renders the base instruction followed by every ledger
// entry.
func SystemInstruction(corrections []storage.Correction) string {
	if len(corrections) == 0 {
		return baseInstruction
	}
	var sb strings.Builder
	sb.WriteString(baseInstruction)
	sb.WriteString("\n\n")
	sb.WriteString(correctionsHeader)
	for _, corr := range corrections {
		sb.WriteString("\n- ")
		sb.WriteString(corr.Text)
	}
	return sb.String()
}

func (c *Composer) trimHistory(history []storage.Message, budget int) []storage.Message {
	if len(history) > c.HistoryWindow {
		history = history[len(history)-c.HistoryWindow:]
	}

	start := len(history)
	for start > 0 {
		cost := EstimateTokens(history[start-1].Content)
		if cost > budget {
			break
		}
		budget -= cost
		start--
	}
	// Replayed history opens with a user message.
	for start < len(history) && history[start].Role != storage.RoleUser {
		start++
	}
	return history[start:]
}

// EstimateTokens is a rough count at four characters per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
