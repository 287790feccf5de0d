package intent

import (
	"fmt"
	"strings"

	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/storage"
)

// contextMessages is how many trailing history messages the classifier sees.
const contextMessages = 2

const systemPrompt = `You are a router. Classify the user's latest message.
1. QUERY: a new question or request.
2. CORRECTION: feedback on, or a correction to, the previous answer.
Return ONLY the word "QUERY" or "CORRECTION".`

// BuildPrompt renders the classification request from the query and the
// tail of the session history.
func BuildPrompt(query string, history []storage.Message) []provider.Message {
	tail := history
	if len(tail) > contextMessages {
		tail = tail[len(tail)-contextMessages:]
	}

	var sb strings.Builder
	sb.WriteString("History:\n")
	for _, m := range tail {
		fmt.Fprintf(&sb, "%s: %s\n", roleLabel(m.Role), m.Content)
	}
	fmt.Fprintf(&sb, "User: %s\nClassification:", query)

	return []provider.Message{
		{Role: provider.RoleSystem, Content: systemPrompt},
		{Role: provider.RoleUser, Content: sb.String()},
	}
}

func roleLabel(role string) string {
	if role == storage.RoleAssistant {
		return "Assistant"
	}
	return "User"
}
