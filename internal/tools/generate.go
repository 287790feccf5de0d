package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/tutorgraph/internal/provider"
)

// complete runs a single-shot prompt against p and returns the text answer.
func complete(ctx context.Context, p provider.Provider, system, prompt string) (string, error) {
	if p == nil {
		return "", errors.New("no provider configured for content generation")
	}
	resp, err := p.Complete(ctx, []provider.Message{
		{Role: provider.RoleSystem, Content: system},
		{Role: provider.RoleUser, Content: prompt},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// decodeJSON parses a model answer that should be JSON, tolerating markdown
// code fences and leading or trailing prose.
func decodeJSON(raw string, v any) error {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	for _, pair := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start, end := strings.Index(s, pair[0]), strings.LastIndex(s, pair[1])
		if start >= 0 && end > start {
			if err := json.Unmarshal([]byte(s[start:end+1]), v); err == nil {
				return nil
			}
		}
	}
	return fmt.Errorf("model did not return valid JSON")
}

// writeArtifact stores data under dir as <kind>-<uuid><ext>, returning the
// file path.
func writeArtifact(dir, kind, ext string, data []byte) (string, error) {
	if dir == "" {
		return "", errors.New("no artifact directory configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating artifact directory: %w", err)
	}
	name := kind + "-" + uuid.NewString() + ext
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	return path, nil
}
