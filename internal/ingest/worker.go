// Package ingest turns submitted text and files into knowledge base entries
// through the job queue.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/tutorgraph/internal/document"
	"github.com/kalambet/tutorgraph/internal/storage"
)

// JobType is the queue type handled by Worker.
const JobType = "ingest_document"

const defaultChunkSize = 1000

var ErrEmptyRequest = errors.New("one of text or path is required")

// JobStore abstracts the job queue and knowledge persistence.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id, errMsg string) error
	SaveKnowledgeDoc(ctx context.Context, doc storage.KnowledgeDoc) error
}

// Request is an ingestion job payload. Exactly one of Text or Path is used;
// Text wins when both are set.
type Request struct {
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Submit queues req and returns the job id.
func Submit(ctx context.Context, store JobStore, req Request) (string, error) {
	if strings.TrimSpace(req.Text) == "" && req.Path == "" {
		return "", ErrEmptyRequest
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encoding payload: %w", err)
	}
	id := uuid.NewString()
	if err := store.EnqueueJob(ctx, storage.Job{ID: id, Type: JobType, PayloadJSON: string(payload)}); err != nil {
		return "", fmt.Errorf("queueing ingest job: %w", err)
	}
	return id, nil
}

// Worker processes ingest_document jobs from the SQLite job queue.
type Worker struct {
	store     JobStore
	chunkSize int
	poll      time.Duration
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		chunkSize: defaultChunkSize,
		poll:      pollInterval,
		logger:    slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest_document job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	n, err := w.processJob(ctx, job)
	if err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "attempt", job.Attempts, "error", err)
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.logger.Info("document ingested", "job_id", job.ID, "chunks", n)
	return true, nil
}

// processJob stores one knowledge doc per chunk and returns the chunk count.
func (w *Worker) processJob(ctx context.Context, job *storage.Job) (int, error) {
	var req Request
	if err := json.Unmarshal([]byte(job.PayloadJSON), &req); err != nil {
		return 0, fmt.Errorf("parsing payload: %w", err)
	}

	text := req.Text
	if strings.TrimSpace(text) == "" {
		if req.Path == "" {
			return 0, ErrEmptyRequest
		}
		extracted, err := document.ExtractText(req.Path)
		if err != nil {
			return 0, err
		}
		text = extracted
	}

	title := req.Title
	if title == "" && req.Path != "" {
		title = filepath.Base(req.Path)
	}
	source := req.Source
	if source == "" {
		source = req.Path
	}

	chunks := document.Split(text, w.chunkSize)
	if len(chunks) == 0 {
		return 0, errors.New("document has no text")
	}
	for i, chunk := range chunks {
		doc := storage.KnowledgeDoc{
			ID:      fmt.Sprintf("%s-%d", job.ID, i),
			Title:   chunkTitle(title, i, len(chunks)),
			Content: chunk,
			Source:  source,
		}
		if err := w.store.SaveKnowledgeDoc(ctx, doc); err != nil {
			return 0, fmt.Errorf("saving chunk %d: %w", i, err)
		}
	}
	return len(chunks), nil
}

func chunkTitle(title string, i, n int) string {
	if n == 1 {
		return title
	}
	return fmt.Sprintf("%s (part %d/%d)", title, i+1, n)
}
