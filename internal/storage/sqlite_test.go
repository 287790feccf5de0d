package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stepClock returns a clock that advances by one millisecond per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Millisecond)
		return cur
	}
}

// TestMigrationsIdempotent opens the same database twice and verifies no
// migration is applied a second time.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("applied migrations = %v, want at least 2", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("007_add_things.sql")
	if err != nil {
		t.Fatalf("parseMigrationVersion: %v", err)
	}
	if v != 7 {
		t.Errorf("version = %d, want 7", v)
	}
	if _, err := parseMigrationVersion("add_things.sql"); err == nil {
		t.Error("expected error for file without version prefix")
	}
}

func TestEnsureSessionIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnsureSession(ctx, "s1", ""); err != nil {
		t.Fatalf("EnsureSession: %v", err)
	}
	if err := s.SetSessionMetadata(ctx, "s1", MetaModelOverride, "gemini"); err != nil {
		t.Fatalf("SetSessionMetadata: %v", err)
	}
	if err := s.EnsureSession(ctx, "s1", "someone-else"); err != nil {
		t.Fatalf("second EnsureSession: %v", err)
	}

	sess, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if sess.UserID != DefaultUserID {
		t.Errorf("UserID = %q, want %q", sess.UserID, DefaultUserID)
	}
	if got := sess.Metadata[MetaModelOverride]; got != "gemini" {
		t.Errorf("override = %q, want %q", got, "gemini")
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetSession(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestHistoryEmptyForUnknownSession(t *testing.T) {
	s := openTestStore(t)
	msgs, err := s.History(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("History = %#v, want empty non-nil slice", msgs)
	}
}

func TestAppendMessageRequiresSession(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AppendMessage(context.Background(), "ghost", RoleUser, "hi")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureSession(ctx, "s1", "u"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendMessage(ctx, "s1", "system", "x"); err == nil {
		t.Error("expected error for role \"system\"")
	}
}

func TestAppendPreservesOrderAndTouchesSession(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	if err := s.EnsureSession(ctx, "s1", "u"); err != nil {
		t.Fatal(err)
	}
	before, _ := s.GetSession(ctx, "s1")

	if _, err := s.AppendMessage(ctx, "s1", RoleUser, "first"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendTurn(ctx, "s1", "second", "third", nil); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}

	msgs, err := s.History(ctx, "s1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []struct{ role, content string }{
		{RoleUser, "first"},
		{RoleUser, "second"},
		{RoleAssistant, "third"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("len(History) = %d, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Role != w.role || msgs[i].Content != w.content {
			t.Errorf("msgs[%d] = %s/%q, want %s/%q", i, msgs[i].Role, msgs[i].Content, w.role, w.content)
		}
	}

	after, _ := s.GetSession(ctx, "s1")
	if !after.LastActive.After(before.LastActive) {
		t.Errorf("LastActive not advanced: before %v, after %v", before.LastActive, after.LastActive)
	}
}

func TestAppendTurnIsAtomic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendTurn(ctx, "ghost", "q", "a", nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("messages written = %d, want 0", n)
	}
}

func TestAppendTurnWritesMetadata(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureSession(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}

	if err := s.AppendTurn(ctx, "s1", "switch to gemini", "ok", map[string]string{MetaModelOverride: "gemini"}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	sess, _ := s.GetSession(ctx, "s1")
	if sess.Metadata[MetaModelOverride] != "gemini" {
		t.Errorf("metadata = %v, want override gemini", sess.Metadata)
	}

	if err := s.AppendTurn(ctx, "s1", "switch to auto", "ok", map[string]string{MetaModelOverride: ""}); err != nil {
		t.Fatalf("AppendTurn: %v", err)
	}
	sess, _ = s.GetSession(ctx, "s1")
	if _, ok := sess.Metadata[MetaModelOverride]; ok {
		t.Errorf("metadata = %v, want override cleared", sess.Metadata)
	}
}

func TestAppendTurnRollsBackOnMetadataFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureSession(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	if _, err := s.db.Exec("UPDATE sessions SET metadata = 'not json' WHERE session_id = 's1'"); err != nil {
		t.Fatal(err)
	}

	err := s.AppendTurn(ctx, "s1", "q", "a", map[string]string{MetaModelOverride: "gemini"})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("err = %v, want ErrStorage", err)
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM messages").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("messages written = %d, want 0", n)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := s.EnsureSession(ctx, id, ""); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendTurn(ctx, id, "q-"+id, "a-"+id, nil); err != nil {
			t.Fatal(err)
		}
	}
	msgs, _ := s.History(ctx, "a")
	for _, m := range msgs {
		if m.SessionID != "a" {
			t.Errorf("session a history contains message from %q", m.SessionID)
		}
	}
}

func TestSetSessionMetadataClearsEmptyValue(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.EnsureSession(ctx, "s1", ""); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSessionMetadata(ctx, "s1", MetaModelOverride, "groq"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSessionMetadata(ctx, "s1", MetaModelOverride, ""); err != nil {
		t.Fatal(err)
	}
	sess, _ := s.GetSession(ctx, "s1")
	if _, ok := sess.Metadata[MetaModelOverride]; ok {
		t.Errorf("metadata still has %q: %v", MetaModelOverride, sess.Metadata)
	}
	if err := s.SetSessionMetadata(ctx, "nope", "k", "v"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListAndDeleteSessions(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.EnsureSession(ctx, fmt.Sprintf("s%d", i), ""); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.AppendMessage(ctx, "s0", RoleUser, "bump"); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListSessions(ctx, 10)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 3 || list[0].ID != "s0" {
		t.Fatalf("ListSessions = %v, want s0 first of 3", list)
	}

	if err := s.DeleteSession(ctx, "s0"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	msgs, _ := s.History(ctx, "s0")
	if len(msgs) != 0 {
		t.Errorf("history after delete = %d messages, want 0", len(msgs))
	}
	if err := s.DeleteSession(ctx, "s0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestCorrectionsLastWriteWins(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertCorrection(ctx, "Capital of Australia?", "It is Canberra."); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertCorrection(ctx, "Capital of Australia?", "Canberra, not Sydney."); err != nil {
		t.Fatal(err)
	}

	all, err := s.AllCorrections(ctx)
	if err != nil {
		t.Fatalf("AllCorrections: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len(AllCorrections) = %d, want 1", len(all))
	}
	if got := all["Capital of Australia?"]; got != "Canberra, not Sydney." {
		t.Errorf("correction = %q, want %q", got, "Canberra, not Sydney.")
	}

	if err := s.DeleteCorrection(ctx, "Capital of Australia?"); err != nil {
		t.Fatalf("DeleteCorrection: %v", err)
	}
	if err := s.DeleteCorrection(ctx, "Capital of Australia?"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStorageErrorAfterClose(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	s.Close()

	_, err = s.History(context.Background(), "s1")
	if !errors.Is(err, ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
	var se *StorageError
	if !errors.As(err, &se) || se.Op != "history" {
		t.Errorf("err = %#v, want *StorageError with Op history", err)
	}
}

func TestKnowledgeDocs(t *testing.T) {
	s := openTestStore(t)
	s.now = stepClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, id := range []string{"k1", "k2"} {
		if err := s.SaveKnowledgeDoc(ctx, KnowledgeDoc{ID: id, Title: "T " + id, Content: "body " + id}); err != nil {
			t.Fatalf("SaveKnowledgeDoc: %v", err)
		}
	}
	docs, err := s.ListKnowledgeDocs(ctx, 0)
	if err != nil {
		t.Fatalf("ListKnowledgeDocs: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != "k2" {
		t.Errorf("ListKnowledgeDocs = %v, want k2 first of 2", docs)
	}
	got, err := s.GetKnowledgeDoc(ctx, "k1")
	if err != nil {
		t.Fatalf("GetKnowledgeDoc: %v", err)
	}
	if got.Content != "body k1" {
		t.Errorf("Content = %q, want %q", got.Content, "body k1")
	}
	if _, err := s.GetKnowledgeDoc(ctx, "zz"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.EnqueueJob(ctx, Job{ID: "j1", Type: "ingest_document", PayloadJSON: `{}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	job, err := s.ClaimNextJob(ctx, []string{"other"})
	if err != nil || job != nil {
		t.Fatalf("ClaimNextJob(other) = %v, %v; want nil, nil", job, err)
	}

	job, err = s.ClaimNextJob(ctx, []string{"ingest_document"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil || job.ID != "j1" || job.Status != "running" {
		t.Fatalf("claimed = %+v, want running j1", job)
	}

	if err := s.FailJob(ctx, "j1", "boom"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	got, _ := s.GetJob(ctx, "j1")
	if got.Status != "pending" || got.Attempts != 1 || got.LastError != "boom" {
		t.Errorf("after first failure = %+v", got)
	}
	if !got.RunAfter.After(got.UpdatedAt) {
		t.Errorf("RunAfter %v not after UpdatedAt %v", got.RunAfter, got.UpdatedAt)
	}

	if err := s.FailJob(ctx, "j1", "boom again"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}
	got, _ = s.GetJob(ctx, "j1")
	if got.Status != "failed" {
		t.Errorf("Status = %q, want failed", got.Status)
	}

	if err := s.CompleteJob(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob(missing) err = %v, want ErrNotFound", err)
	}
}
