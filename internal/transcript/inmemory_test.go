package transcript

import (
	"context"
	"testing"
)

func TestInMemoryStoreSaveAndRecent(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	utterances := []Entry{
		{CallControlID: "cc-1", Role: RoleCaller, Text: "hello"},
		{CallControlID: "cc-1", Role: RoleAssistant, Text: "hi, how can I help?"},
		{CallControlID: "cc-1", Role: RoleCaller, Text: "transfer me to sales"},
	}
	for _, e := range utterances {
		if err := store.Save(ctx, e); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
	}

	got, err := store.Recent(ctx, "cc-1", 10)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if got[0].Text != "hello" || got[2].Text != "transfer me to sales" {
		t.Fatalf("entries out of chronological order: %+v", got)
	}
	for _, e := range got {
		if e.ID == "" {
			t.Fatalf("expected generated id, got empty")
		}
		if e.CreatedAt.IsZero() {
			t.Fatalf("expected created_at to be set")
		}
	}
}

func TestInMemoryStoreRecentLimit(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three", "four"} {
		if err := store.Save(ctx, Entry{CallControlID: "cc-2", Role: RoleCaller, Text: text}); err != nil {
			t.Fatalf("Save returned error: %v", err)
		}
	}

	got, err := store.Recent(ctx, "cc-2", 2)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(got))
	}
	if got[0].Text != "three" || got[1].Text != "four" {
		t.Fatalf("expected most recent entries in order, got %+v", got)
	}
}

func TestInMemoryStoreUnknownCall(t *testing.T) {
	store := NewInMemoryStore()

	got, err := store.Recent(context.Background(), "missing", 5)
	if err != nil {
		t.Fatalf("Recent returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %d", len(got))
	}
}
