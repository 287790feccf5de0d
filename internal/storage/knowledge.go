package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func (s *Store) SaveKnowledgeDoc(ctx context.Context, doc KnowledgeDoc) error {
	createdAt := doc.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_docs (id, title, content, source, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content, source = excluded.source`,
		doc.ID, doc.Title, doc.Content, doc.Source, createdAt.UTC().Format(timeLayout),
	)
	return wrap("save knowledge doc", err)
}

func (s *Store) GetKnowledgeDoc(ctx context.Context, id string) (KnowledgeDoc, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, content, source, created_at FROM knowledge_docs WHERE id = ?`, id)
	doc, err := scanKnowledgeDoc(row)
	if errors.Is(err, sql.ErrNoRows) {
		return KnowledgeDoc{}, fmt.Errorf("knowledge doc %s: %w", id, ErrNotFound)
	}
	return doc, wrap("get knowledge doc", err)
}

// ListKnowledgeDocs returns documents newest first. A non-positive limit
// returns every document.
func (s *Store) ListKnowledgeDocs(ctx context.Context, limit int) ([]KnowledgeDoc, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, content, source, created_at
		FROM knowledge_docs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("list knowledge docs", err)
	}
	defer rows.Close()

	docs := []KnowledgeDoc{}
	for rows.Next() {
		doc, err := scanKnowledgeDoc(rows)
		if err != nil {
			return nil, wrap("list knowledge docs", err)
		}
		docs = append(docs, doc)
	}
	return docs, wrap("list knowledge docs", rows.Err())
}

func scanKnowledgeDoc(r rowScanner) (KnowledgeDoc, error) {
	var d KnowledgeDoc
	var createdAt string
	if err := r.Scan(&d.ID, &d.Title, &d.Content, &d.Source, &createdAt); err != nil {
		return KnowledgeDoc{}, err
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return KnowledgeDoc{}, err
	}
	d.CreatedAt = t
	return d, nil
}
