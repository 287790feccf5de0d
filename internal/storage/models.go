package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrStorage matches every failure of the underlying database, as opposed to
// a missing record.
var ErrStorage = errors.New("storage unavailable")

// StorageError wraps a database failure with the store operation that hit it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// Message roles stored in the log.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// DefaultUserID is recorded for sessions opened without a user.
const DefaultUserID = "guest"

type Session struct {
	ID         string
	UserID     string
	CreatedAt  time.Time
	LastActive time.Time
	Metadata   map[string]string
}

type Message struct {
	ID        int64
	SessionID string
	Role      string
	Content   string
	Timestamp time.Time
}

// Correction is a ledger entry keyed by the raw text of the query it corrects.
type Correction struct {
	Key       string
	Text      string
	CreatedAt time.Time
}

type KnowledgeDoc struct {
	ID        string
	Title     string
	Content   string
	Source    string
	CreatedAt time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
