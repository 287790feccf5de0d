package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kalambet/tutorgraph/internal/document"
	"github.com/kalambet/tutorgraph/internal/provider"
)

const (
	DocumentToolName = "ask_document_tool"

	docChunkSize  = 1000
	docTopChunks  = 4
	docSystemText = "Answer the question using only the document excerpts provided. If the excerpts do not contain the answer, say so."
)

// DocumentTool answers questions about the current study document.
type DocumentTool struct {
	gen  provider.Provider
	path string
}

// NewDocumentTool creates a DocumentTool over the file at path. An empty
// path makes every invocation fail with a clear message.
func NewDocumentTool(gen provider.Provider, path string) *DocumentTool {
	return &DocumentTool{gen: gen, path: path}
}

func (t *DocumentTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name: DocumentToolName,
		Description: "Asks a question about the currently loaded document. " +
			`Use for questions like "What does the document say about X?" or "Summarize the pdf".`,
		Parameters: objectSchema(map[string]any{
			"question": stringProp("The question about the document"),
		}, "question"),
	}
}

func (t *DocumentTool) Invoke(ctx context.Context, args Args) (any, error) {
	question, err := args.RequireString("question")
	if err != nil {
		return nil, err
	}
	if t.path == "" {
		return nil, errors.New("no document loaded; set tools.document_path")
	}

	text, err := document.ExtractText(t.path)
	if err != nil {
		return nil, err
	}
	chunks := document.Split(text, docChunkSize)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("document %s has no text", t.path)
	}

	var excerpts []string
	for _, s := range document.Rank(question, chunks, docTopChunks) {
		excerpts = append(excerpts, s.Text)
	}
	if len(excerpts) == 0 {
		// Summaries and broad questions rarely share terms with the text.
		excerpts = chunks[:min(docTopChunks, len(chunks))]
	}

	prompt := fmt.Sprintf("Document excerpts:\n%s\n\nQuestion: %s", strings.Join(excerpts, "\n---\n"), question)
	answer, err := complete(ctx, t.gen, docSystemText, prompt)
	if err != nil {
		return nil, fmt.Errorf("answering from document: %w", err)
	}
	return map[string]any{
		"success":  true,
		"answer":   answer,
		"excerpts": len(excerpts),
	}, nil
}
