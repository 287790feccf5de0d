package correction

import (
	"context"
	"errors"
	"testing"

	"github.com/kalambet/tutorgraph/internal/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestApply(t *testing.T) {
	s := openTestStore(t)
	l := NewLedger(s)
	ctx := context.Background()

	history := []storage.Message{
		{Role: storage.RoleUser, Content: "What color is the sun?"},
		{Role: storage.RoleAssistant, Content: "Yellow."},
	}
	got, err := l.Apply(ctx, "Correction: The sun is purple.", history)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if got.Key != "What color is the sun?" {
		t.Errorf("Key = %q", got.Key)
	}
	if got.Text != "The sun is purple." {
		t.Errorf("Text = %q", got.Text)
	}
	wantQuery := "The user corrected the previous answer to 'What color is the sun?'. Correction: The sun is purple.. Please provide the correct answer now."
	if got.Query != wantQuery {
		t.Errorf("Query = %q, want %q", got.Query, wantQuery)
	}

	all, err := s.AllCorrections(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if all["What color is the sun?"] != "The sun is purple." {
		t.Errorf("ledger = %v", all)
	}
}

func TestApply_ShortHistoryUsesUnknownKey(t *testing.T) {
	s := openTestStore(t)
	got, err := NewLedger(s).Apply(context.Background(), "that is wrong", []storage.Message{{Role: storage.RoleAssistant, Content: "hi"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got.Key != UnknownKey {
		t.Errorf("Key = %q, want %q", got.Key, UnknownKey)
	}
}

func TestApply_LastWriteWins(t *testing.T) {
	s := openTestStore(t)
	l := NewLedger(s)
	ctx := context.Background()
	history := []storage.Message{
		{Role: storage.RoleUser, Content: "Capital of Australia?"},
		{Role: storage.RoleAssistant, Content: "Sydney"},
	}
	if _, err := l.Apply(ctx, "correction: Canberra", history); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Apply(ctx, "CORRECTION:   Canberra, since 1913", history); err != nil {
		t.Fatal(err)
	}

	snap, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 1 || snap[0].Text != "Canberra, since 1913" {
		t.Errorf("Snapshot = %+v", snap)
	}
}

type failingStore struct{}

func (failingStore) UpsertCorrection(context.Context, string, string) error {
	return &storage.StorageError{Op: "upsert correction", Err: errors.New("disk gone")}
}

func (failingStore) ListCorrections(context.Context) ([]storage.Correction, error) {
	return nil, nil
}

func TestApply_StorageFailure(t *testing.T) {
	_, err := NewLedger(failingStore{}).Apply(context.Background(), "x", nil)
	if !errors.Is(err, storage.ErrStorage) {
		t.Errorf("err = %v, want ErrStorage", err)
	}
}

func TestStripMarker(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Correction: foo", "foo"},
		{"  correction:bar  ", "bar"},
		{"CoRrEcTiOn :  baz", "baz"},
		{"no marker here", "no marker here"},
		{"the correction: is inside", "the correction: is inside"},
	}
	for _, tt := range tests {
		if got := StripMarker(tt.in); got != tt.want {
			t.Errorf("StripMarker(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
