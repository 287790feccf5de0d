package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/kalambet/tutorgraph/internal/provider"
)

const (
	PresentationToolName = "generate_presentation_tool"
	maxSlides            = 20
)

// Slide is one entry of a presentation outline.
type Slide struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Outline is the generated presentation.
type Outline struct {
	Title  string  `json:"title"`
	Slides []Slide `json:"slides"`
}

// PresentationTool drafts a slide outline and stores it as a JSON artifact.
type PresentationTool struct {
	gen provider.Provider
	dir string
}

func NewPresentationTool(gen provider.Provider, artifactDir string) *PresentationTool {
	return &PresentationTool{gen: gen, dir: artifactDir}
}

func (t *PresentationTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name: PresentationToolName,
		Description: "Generates a slide presentation on the given topic. " +
			`Use when the user asks to "create a presentation", "make a PPT" or "generate slides". Returns the file path.`,
		Parameters: objectSchema(map[string]any{
			"topic":      stringProp("Topic of the presentation"),
			"num_slides": integerProp("Number of content slides (default 5)"),
		}, "topic"),
	}
}

func (t *PresentationTool) Invoke(ctx context.Context, args Args) (any, error) {
	topic, err := args.RequireString("topic")
	if err != nil {
		return nil, err
	}
	n := clamp(args.Int("num_slides", 5), 1, maxSlides)

	outline := t.outline(ctx, topic, n)
	data, err := json.MarshalIndent(outline, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding outline: %w", err)
	}
	path, err := writeArtifact(t.dir, "presentation", ".json", data)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"success":      true,
		"filename":     filepath.Base(path),
		"path":         path,
		"title":        outline.Title,
		"slides_count": len(outline.Slides),
	}, nil
}

func (t *PresentationTool) outline(ctx context.Context, topic string, n int) Outline {
	prompt := fmt.Sprintf(`Create a %d-slide presentation outline on: %q

Return ONLY valid JSON in this exact format:
{
  "title": "Main Title Here",
  "slides": [
    {"title": "Slide 1 Title", "content": "Point 1. Point 2. Point 3."}
  ]
}`, n, topic)

	raw, err := complete(ctx, t.gen, "You are a presentation expert. Return only valid JSON, no markdown formatting.", prompt)
	if err != nil {
		slog.Warn("outline generation failed, using fallback", "topic", topic, "error", err)
		return FallbackOutline(topic, n)
	}

	var o Outline
	if err := decodeJSON(raw, &o); err != nil || len(o.Slides) == 0 {
		slog.Warn("outline was not usable, using fallback", "topic", topic)
		return FallbackOutline(topic, n)
	}
	if o.Title == "" {
		o.Title = topic
	}
	if len(o.Slides) > n {
		o.Slides = o.Slides[:n]
	}
	return o
}

// FallbackOutline is a generic outline of at most n slides.
func FallbackOutline(topic string, n int) Outline {
	slides := []Slide{
		{Title: "Introduction", Content: fmt.Sprintf("Overview of %s. Key concepts. Importance.", topic)},
		{Title: "Main Content 1", Content: "First key point. Supporting details. Examples."},
		{Title: "Main Content 2", Content: "Second key point. Supporting details. Examples."},
		{Title: "Applications", Content: "Real-world uses. Case studies. Benefits."},
		{Title: "Conclusion", Content: "Summary of key points. Future implications. Call to action."},
	}
	if n < len(slides) {
		slides = slides[:n]
	}
	return Outline{Title: topic + " - Presentation", Slides: slides}
}
