package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/kalambet/tutorgraph/internal/document"
	"github.com/kalambet/tutorgraph/internal/provider"
)

const (
	QuizToolName       = "generate_quiz_tool"
	FlashcardsToolName = "generate_flashcards_tool"

	// maxSourceChars bounds how much document text is sent for generation.
	maxSourceChars = 12000
)

// Question is a multiple choice quiz item.
type Question struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Answer   string   `json:"answer"`
}

// Flashcard is a front/back study card.
type Flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// StudyTool builds quizzes or flashcards from a document on disk.
type StudyTool struct {
	gen       provider.Provider
	name      string
	countArg  string
	def       int
	flashcard bool
}

func NewQuizTool(gen provider.Provider) *StudyTool {
	return &StudyTool{gen: gen, name: QuizToolName, countArg: "num_questions", def: 5}
}

func NewFlashcardsTool(gen provider.Provider) *StudyTool {
	return &StudyTool{gen: gen, name: FlashcardsToolName, countArg: "num_cards", def: 10, flashcard: true}
}

func (t *StudyTool) Definition() provider.ToolDef {
	desc := `Generates a quiz from a PDF or text file. Use when the user asks to "make a quiz from this file" or "test me on" a document.`
	count := fmt.Sprintf("Number of questions (default %d)", t.def)
	if t.flashcard {
		desc = `Generates study flashcards from a PDF or text file. Use when the user asks for flashcards on a document.`
		count = fmt.Sprintf("Number of cards (default %d)", t.def)
	}
	return provider.ToolDef{
		Name:        t.name,
		Description: desc,
		Parameters: objectSchema(map[string]any{
			"file_path": stringProp("Path to the PDF or text file"),
			t.countArg:  integerProp(count),
		}, "file_path"),
	}
}

func (t *StudyTool) Invoke(ctx context.Context, args Args) (any, error) {
	path, err := args.RequireString("file_path")
	if err != nil {
		return nil, err
	}
	n := clamp(args.Int(t.countArg, t.def), 1, 50)

	text, err := document.ExtractText(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("no text found in %s", path)
	}
	source := text
	if len(source) > maxSourceChars {
		source = source[:maxSourceChars]
	}

	stats := map[string]int{"text_length": len(text)}
	if t.flashcard {
		cards, err := t.flashcards(ctx, source, n)
		if err != nil {
			return nil, err
		}
		stats["cards"] = len(cards)
		return map[string]any{"success": true, "flashcards": cards, "stats": stats}, nil
	}

	quiz, err := t.quiz(ctx, source, n)
	if err != nil {
		return nil, err
	}
	stats["questions"] = len(quiz)
	return map[string]any{"success": true, "quiz": quiz, "stats": stats}, nil
}

func (t *StudyTool) quiz(ctx context.Context, source string, n int) ([]Question, error) {
	prompt := fmt.Sprintf(`Write %d multiple choice questions about the material below.
Return ONLY a JSON array: [{"question": "...", "options": ["A", "B", "C", "D"], "answer": "the correct option"}]

Material:
%s`, n, source)
	raw, err := complete(ctx, t.gen, "You are a teacher writing exam questions.", prompt)
	if err != nil {
		return nil, fmt.Errorf("generating quiz: %w", err)
	}
	var qs []Question
	if err := decodeJSON(raw, &qs); err != nil {
		return nil, fmt.Errorf("generating quiz: %w", err)
	}
	if len(qs) > n {
		qs = qs[:n]
	}
	return qs, nil
}

func (t *StudyTool) flashcards(ctx context.Context, source string, n int) ([]Flashcard, error) {
	prompt := fmt.Sprintf(`Write %d flashcards covering the key ideas of the material below.
Return ONLY a JSON array: [{"front": "term or question", "back": "definition or answer"}]

Material:
%s`, n, source)
	raw, err := complete(ctx, t.gen, "You are a tutor creating concise study flashcards.", prompt)
	if err != nil {
		return nil, fmt.Errorf("generating flashcards: %w", err)
	}
	var cards []Flashcard
	if err := decodeJSON(raw, &cards); err != nil {
		return nil, fmt.Errorf("generating flashcards: %w", err)
	}
	if len(cards) > n {
		cards = cards[:n]
	}
	return cards, nil
}
