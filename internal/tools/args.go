package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Args are decoded tool arguments.
type Args map[string]any

// ParseArgs decodes a JSON object. Empty input yields empty Args.
func ParseArgs(raw json.RawMessage) (Args, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return Args{}, nil
	}
	var a Args
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if a == nil {
		a = Args{}
	}
	return a, nil
}

// RequireString returns a non-empty string argument.
func (a Args) RequireString(key string) (string, error) {
	s := strings.TrimSpace(a.String(key, ""))
	if s == "" {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	return s, nil
}

func (a Args) String(key, def string) string {
	switch v := a[key].(type) {
	case string:
		return v
	case nil:
		return def
	default:
		return fmt.Sprint(v)
	}
}

// Int accepts JSON numbers and numeric strings, falling back to def.
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		if v == math.Trunc(v) {
			return int(v)
		}
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
