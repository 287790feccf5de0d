package tools

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kalambet/tutorgraph/internal/provider"
)

const VideoToolName = "generate_educational_video_tool"

const videoSystemPrompt = `You write Manim Community Edition scenes that explain a concept visually.
Return ONLY Python source code defining a single class named ExplainerScene(Scene). No prose, no markdown.`

// VideoTool drafts an animation script for a concept and stores it as an
// artifact. Rendering the scene is left to the caller's tooling.
type VideoTool struct {
	gen provider.Provider
	dir string
}

func NewVideoTool(gen provider.Provider, artifactDir string) *VideoTool {
	return &VideoTool{gen: gen, dir: artifactDir}
}

func (t *VideoTool) Definition() provider.ToolDef {
	return provider.ToolDef{
		Name: VideoToolName,
		Description: "Generates an educational animation script explaining a complex concept. " +
			`Use when the user asks to "create a video", "explain with animation" or "visualize this concept". Returns the script path.`,
		Parameters: objectSchema(map[string]any{
			"concept": stringProp("The concept to explain"),
		}, "concept"),
	}
}

func (t *VideoTool) Invoke(ctx context.Context, args Args) (any, error) {
	concept, err := args.RequireString("concept")
	if err != nil {
		return nil, err
	}

	script, err := complete(ctx, t.gen, videoSystemPrompt, "Concept: "+concept)
	if err != nil {
		return nil, fmt.Errorf("generating video script: %w", err)
	}
	script = stripFence(script)
	if !strings.Contains(script, "class ") {
		return nil, fmt.Errorf("generated script has no scene class")
	}

	path, err := writeArtifact(t.dir, "video", ".py", []byte(script+"\n"))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":     true,
		"concept":     concept,
		"script_path": path,
		"filename":    filepath.Base(path),
		"scene":       "ExplainerScene",
	}, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}
