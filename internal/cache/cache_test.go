package cache

import (
	"testing"
	"time"

	"github.com/mesadeayuda/conversa/internal/store"
)

func newTestStore(t *testing.T) *store.FileStore {
	t.Helper()
	fs, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return fs
}

func TestCache_PutThenGetServesFromMemory(t *testing.T) {
	fs := newTestStore(t)
	c := New(fs, 4)

	r := store.New("1.0", time.Now().UTC())
	r.ConversationID = "AB1234"
	if err := c.Put(r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := c.Get("AB1234")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConversationID != "AB1234" {
		t.Errorf("ConversationID = %q, want AB1234", got.ConversationID)
	}
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1", c.Len())
	}
}

func TestCache_GetMissLoadsFromStore(t *testing.T) {
	fs := newTestStore(t)
	r := store.New("1.0", time.Now().UTC())
	r.ConversationID = "CD5678"
	if err := fs.Save(r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	c := New(fs, 4)
	got, err := c.Get("CD5678")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConversationID != "CD5678" {
		t.Errorf("ConversationID = %q, want CD5678", got.ConversationID)
	}
}

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	fs := newTestStore(t)
	c := New(fs, 2)

	for _, id := range []string{"AA0001", "BB0002", "CC0003"} {
		r := store.New("1.0", time.Now().UTC())
		r.ConversationID = id
		if err := c.Put(r); err != nil {
			t.Fatalf("Put(%s): %v", id, err)
		}
	}

	if c.Len() != 2 {
		t.Fatalf("Len = %d, want 2 after eviction", c.Len())
	}

	// AA0001 was pushed out; it should still be retrievable via store fallback.
	got, err := c.Get("AA0001")
	if err != nil {
		t.Fatalf("Get(AA0001) after eviction: %v", err)
	}
	if got.ConversationID != "AA0001" {
		t.Errorf("ConversationID = %q, want AA0001", got.ConversationID)
	}
}

func TestCache_GetReturnsIndependentClones(t *testing.T) {
	fs := newTestStore(t)
	c := New(fs, 4)

	r := store.New("1.0", time.Now().UTC())
	r.ConversationID = "GH3456"
	r.Transcript = append(r.Transcript, store.UserText(time.Now().UTC(), "hola"))
	if err := c.Put(r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	a, err := c.Get("GH3456")
	if err != nil {
		t.Fatalf("Get (a): %v", err)
	}
	b, err := c.Get("GH3456")
	if err != nil {
		t.Fatalf("Get (b): %v", err)
	}
	if a == b {
		t.Fatalf("Get returned the same *store.Record pointer twice, want independent clones")
	}

	// Mutating one handler's copy must never be visible to another
	// concurrent handler's copy of the same conversation (spec.md §5).
	a.Stage = "MUTATED_BY_A"
	a.Transcript[0].Text = "mutated"
	if b.Stage == "MUTATED_BY_A" {
		t.Errorf("b.Stage observed a's mutation: cache is pointer-sharing records")
	}
	if b.Transcript[0].Text == "mutated" {
		t.Errorf("b.Transcript observed a's mutation: cache is not deep-cloning Transcript")
	}

	c2, err := c.Get("GH3456")
	if err != nil {
		t.Fatalf("Get (c2): %v", err)
	}
	if c2.Stage == "MUTATED_BY_A" {
		t.Errorf("cache's own stored entry was mutated by a caller's copy")
	}
}

func TestCache_Invalidate(t *testing.T) {
	fs := newTestStore(t)
	c := New(fs, 4)

	r := store.New("1.0", time.Now().UTC())
	r.ConversationID = "EF9012"
	if err := c.Put(r); err != nil {
		t.Fatalf("Put: %v", err)
	}

	c.Invalidate("EF9012")
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after invalidate", c.Len())
	}

	// Underlying store record still exists.
	if _, err := fs.Load("EF9012"); err != nil {
		t.Fatalf("store.Load after invalidate: %v", err)
	}
}
