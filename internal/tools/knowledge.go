package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/tutorgraph/internal/document"
	"github.com/kalambet/tutorgraph/internal/provider"
	"github.com/kalambet/tutorgraph/internal/storage"
)

const (
	KnowledgeToolName = "retrieve_knowledge_tool"

	knowledgeTopK    = 3
	knowledgeSnippet = 300
	noKnowledge      = "No relevant information found in knowledge base."
)

// KnowledgeSource lists stored knowledge documents.
type KnowledgeSource interface {
	ListKnowledgeDocs(ctx context.Context, limit int) ([]storage.KnowledgeDoc, error)
}

// KnowledgeTool searches the knowledge base by term overlap.
type KnowledgeTool struct {
	src KnowledgeSource
}

func NewKnowledgeTool(src KnowledgeSource) *KnowledgeTool {
	return &KnowledgeTool{src: src}
}

func (t *KnowledgeTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name:        KnowledgeToolName,
		Description: "Searches the knowledge base for information. Use this to find answers in stored documents.",
		Parameters: objectSchema(map[string]any{
			"query": stringProp("What to search for"),
		}, "query"),
	}
}

func (t *KnowledgeTool) Invoke(ctx context.Context, args Args) (any, error) {
	query, err := args.RequireString("query")
	if err != nil {
		return nil, err
	}

	docs, err := t.src.ListKnowledgeDocs(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("searching knowledge base: %w", err)
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Title + "\n" + d.Content
	}

	hits := document.Rank(query, texts, knowledgeTopK)
	if len(hits) == 0 {
		return noKnowledge, nil
	}

	var sb strings.Builder
	sb.WriteString("Found relevant info:\n")
	for _, h := range hits {
		d := docs[h.Index]
		source := d.Source
		if source == "" {
			source = d.Title
		}
		fmt.Fprintf(&sb, "- %s... (Source: %s)\n", document.Snippet(d.Content, knowledgeSnippet), source)
	}
	return sb.String(), nil
}
