package storage

import (
	"context"
	"fmt"
)

// UpsertCorrection records text as the correction for key. A later upsert of
// the same key replaces the earlier one.
func (s *Store) UpsertCorrection(ctx context.Context, key, text string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO corrections (query_hash, correction, created_at) VALUES (?, ?, ?)
		ON CONFLICT(query_hash) DO UPDATE SET correction = excluded.correction, created_at = excluded.created_at`,
		key, text, s.timestamp(),
	)
	return wrap("upsert correction", err)
}

// AllCorrections returns the ledger as a key to text map.
func (s *Store) AllCorrections(ctx context.Context) (map[string]string, error) {
	list, err := s.ListCorrections(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, c := range list {
		out[c.Key] = c.Text
	}
	return out, nil
}

// ListCorrections returns the ledger oldest first.
func (s *Store) ListCorrections(ctx context.Context) ([]Correction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT query_hash, correction, created_at
		FROM corrections ORDER BY created_at ASC, query_hash ASC`)
	if err != nil {
		return nil, wrap("list corrections", err)
	}
	defer rows.Close()

	list := []Correction{}
	for rows.Next() {
		var c Correction
		var createdAt string
		if err := rows.Scan(&c.Key, &c.Text, &createdAt); err != nil {
			return nil, wrap("list corrections", err)
		}
		if c.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, wrap("list corrections", rows.Err())
}

func (s *Store) DeleteCorrection(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM corrections WHERE query_hash = ?", key)
	if err != nil {
		return wrap("delete correction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("delete correction", err)
	}
	if n == 0 {
		return fmt.Errorf("correction %q: %w", key, ErrNotFound)
	}
	return nil
}
