package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// MetaModelOverride is the session metadata key holding the sticky provider
// override. An absent key means automatic routing.
const MetaModelOverride = "model_override"

// EnsureSession creates the session if it does not exist yet. It never
// modifies an existing session.
func (s *Store) EnsureSession(ctx context.Context, id, userID string) error {
	if userID == "" {
		userID = DefaultUserID
	}
	now := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, created_at, last_active, metadata)
		VALUES (?, ?, ?, ?, '{}')
		ON CONFLICT(session_id) DO NOTHING`,
		id, userID, now, now,
	)
	return wrap("ensure session", err)
}

// GetSession returns ErrNotFound for an unknown id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, created_at, last_active, metadata
		FROM sessions WHERE session_id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, wrap("get session", err)
}

// ListSessions returns the most recently active sessions first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, user_id, created_at, last_active, metadata
		FROM sessions ORDER BY last_active DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("list sessions", err)
	}
	defer rows.Close()

	sessions := []Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, wrap("list sessions", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, wrap("list sessions", rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var sess Session
	var createdAt, lastActive, meta string
	if err := r.Scan(&sess.ID, &sess.UserID, &createdAt, &lastActive, &meta); err != nil {
		return Session{}, err
	}
	var err error
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return Session{}, err
	}
	if sess.LastActive, err = parseTime(lastActive); err != nil {
		return Session{}, err
	}
	sess.Metadata = map[string]string{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &sess.Metadata); err != nil {
			return Session{}, fmt.Errorf("decoding metadata for %s: %w", sess.ID, err)
		}
	}
	return sess, nil
}

// SetSessionMetadata sets one metadata key. An empty value removes the key.
func (s *Store) SetSessionMetadata(ctx context.Context, id, key, value string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("set metadata", err)
	}
	defer tx.Rollback()

	if err := s.setMetadataTx(ctx, tx, id, map[string]string{key: value}); err != nil {
		return err
	}
	return wrap("set metadata", tx.Commit())
}

// setMetadataTx merges updates into the session metadata. Empty values remove
// their keys.
func (s *Store) setMetadataTx(ctx context.Context, tx *sql.Tx, id string, updates map[string]string) error {
	var raw string
	err := tx.QueryRowContext(ctx, "SELECT metadata FROM sessions WHERE session_id = ?", id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return wrap("set metadata", err)
	}

	meta := map[string]string{}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &meta); err != nil {
			return wrap("set metadata", fmt.Errorf("decoding metadata for %s: %w", id, err))
		}
	}
	for key, value := range updates {
		if value == "" {
			delete(meta, key)
		} else {
			meta[key] = value
		}
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET metadata = ? WHERE session_id = ?", string(encoded), id); err != nil {
		return wrap("set metadata", err)
	}
	return nil
}

// DeleteSession removes a session together with its message log.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete session", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE session_id = ?", id); err != nil {
		return wrap("delete session", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE session_id = ?", id)
	if err != nil {
		return wrap("delete session", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return wrap("delete session", err)
	} else if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return wrap("delete session", tx.Commit())
}

// History returns the session's messages in append order. An unknown or
// empty session yields an empty slice.
func (s *Store) History(ctx context.Context, id string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, timestamp
		FROM messages WHERE session_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, wrap("history", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		var ts string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &ts); err != nil {
			return nil, wrap("history", err)
		}
		if m.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, wrap("history", rows.Err())
}

// AppendMessage appends one message and refreshes the session's last_active.
// The session must already exist.
func (s *Store) AppendMessage(ctx context.Context, id, role, content string) (Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, wrap("append message", err)
	}
	defer tx.Rollback()

	msg, err := s.appendTx(ctx, tx, id, role, content)
	if err != nil {
		return Message{}, err
	}
	if err := s.touchTx(ctx, tx, id); err != nil {
		return Message{}, err
	}
	return msg, wrap("append message", tx.Commit())
}

// AppendTurn commits the user input and the assistant answer of one turn
// atomically, together with the metadata updates in meta (nil for none).
func (s *Store) AppendTurn(ctx context.Context, id, userContent, assistantContent string, meta map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("append turn", err)
	}
	defer tx.Rollback()

	if _, err := s.appendTx(ctx, tx, id, RoleUser, userContent); err != nil {
		return err
	}
	if _, err := s.appendTx(ctx, tx, id, RoleAssistant, assistantContent); err != nil {
		return err
	}
	if len(meta) > 0 {
		if err := s.setMetadataTx(ctx, tx, id, meta); err != nil {
			return err
		}
	}
	if err := s.touchTx(ctx, tx, id); err != nil {
		return err
	}
	return wrap("append turn", tx.Commit())
}

func (s *Store) appendTx(ctx context.Context, tx *sql.Tx, id, role, content string) (Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return Message{}, fmt.Errorf("invalid message role %q", role)
	}

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE session_id = ?", id).Scan(&exists); err != nil {
		return Message{}, wrap("append message", err)
	}
	if exists == 0 {
		return Message{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (session_id, role, content, timestamp) VALUES (?, ?, ?, ?)`,
		id, role, content, now.Format(timeLayout),
	)
	if err != nil {
		return Message{}, wrap("append message", err)
	}
	msgID, err := res.LastInsertId()
	if err != nil {
		return Message{}, wrap("append message", err)
	}
	return Message{ID: msgID, SessionID: id, Role: role, Content: content, Timestamp: now}, nil
}

func (s *Store) touchTx(ctx context.Context, tx *sql.Tx, id string) error {
	_, err := tx.ExecContext(ctx, "UPDATE sessions SET last_active = ? WHERE session_id = ?", s.timestamp(), id)
	return wrap("touch session", err)
}
