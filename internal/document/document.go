// Package document extracts plain text from study material and splits it
// into chunks for retrieval.
package document

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// MaxFileSize bounds the documents accepted for extraction.
const MaxFileSize = 50 << 20

// ExtractText returns the text content of path. PDF files are parsed; every
// other file is read as UTF-8 text.
func ExtractText(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("opening document: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxFileSize {
		return "", fmt.Errorf("%s is larger than %d bytes", path, MaxFileSize)
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return extractPDF(path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	return string(b), nil
}

func extractPDF(path string) (text string, err error) {
	// The PDF parser panics on some malformed inputs.
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("parsing pdf %s: %v", path, p)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return buf.String(), nil
}

// Split breaks text into chunks of at most size bytes, preferring paragraph
// and then word boundaries. Blank chunks are dropped.
func Split(text string, size int) []string {
	if size <= 0 {
		size = 1000
	}
	var chunks []string
	var cur strings.Builder

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			chunks = append(chunks, s)
		}
		cur.Reset()
	}

	for _, word := range strings.Fields(strings.ReplaceAll(text, "\n\n", " \x00 ")) {
		if word == "\x00" {
			if cur.Len() >= size/2 {
				flush()
			}
			continue
		}
		for len(word) > size {
			flush()
			chunks = append(chunks, word[:size])
			word = word[size:]
		}
		if cur.Len()+len(word)+1 > size {
			flush()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(word)
	}
	flush()
	return chunks
}

// Terms returns the distinct lower-cased words of s longer than two runes.
func Terms(s string) map[string]struct{} {
	terms := make(map[string]struct{})
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	}) {
		if len([]rune(w)) > 2 {
			terms[w] = struct{}{}
		}
	}
	return terms
}

// Scored is a chunk of text with its relevance score.
type Scored struct {
	Index int
	Text  string
	Score float64
}

// Rank scores each candidate by the fraction of query terms it contains and
// returns the best k with a positive score, highest first. Ties keep
// candidate order.
func Rank(query string, candidates []string, k int) []Scored {
	q := Terms(query)
	if len(q) == 0 {
		return nil
	}

	var scored []Scored
	for i, c := range candidates {
		terms := Terms(c)
		hits := 0
		for t := range q {
			if _, ok := terms[t]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		scored = append(scored, Scored{Index: i, Text: c, Score: float64(hits) / float64(len(q))})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Snippet returns at most n bytes of s on a rune boundary with newlines
// flattened to spaces.
func Snippet(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
