package store

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	r := New("1.0", time.Now().UTC())
	r.ConversationID = "AB1234"
	r.User.DisplayName = "Dana"

	if err := fs.Save(r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := fs.Load("AB1234")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ConversationID != "AB1234" {
		t.Errorf("ConversationID = %q, want AB1234", got.ConversationID)
	}
	if got.User.DisplayName != "Dana" {
		t.Errorf("User.DisplayName = %q, want Dana", got.User.DisplayName)
	}
	if got.Stage != "ASK_CONSENT" {
		t.Errorf("Stage = %q, want ASK_CONSENT", got.Stage)
	}
}

func TestFileStore_Load_NotFound(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	if _, err := fs.Load("ZZ9999"); err != ErrNotFound {
		t.Fatalf("Load = %v, want ErrNotFound", err)
	}
}

func TestFileStore_Load_RejectsInvalidID(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	cases := []string{"../escape", "ab1234", "AB123", "AB12345", ""}
	for _, id := range cases {
		if _, err := fs.Load(id); err == nil {
			t.Errorf("Load(%q) = nil error, want rejection", id)
		}
	}
}

func TestFileStore_Append(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	r := New("1.0", time.Now().UTC())
	r.ConversationID = "CD5678"
	if err := fs.Save(r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	now := time.Now().UTC()
	if err := fs.Append("CD5678", UserText(now, "hola"), BotText(now, "hola, en que te ayudo?")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := fs.Load("CD5678")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Transcript) != 2 {
		t.Fatalf("len(Transcript) = %d, want 2", len(got.Transcript))
	}
	if got.Transcript[0].Role != RoleUser || got.Transcript[0].Text != "hola" {
		t.Errorf("Transcript[0] = %+v, want user text 'hola'", got.Transcript[0])
	}
	if got.Transcript[1].Role != RoleBot {
		t.Errorf("Transcript[1].Role = %q, want bot", got.Transcript[1].Role)
	}
}

func TestFileStore_Save_AtomicNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	r := New("1.0", time.Now().UTC())
	r.ConversationID = "EF9012"
	if err := fs.Save(r); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("leftover temp file: %s", e.Name())
		}
	}
}

func TestMigrate_UnknownVersionMarksLegacyIncompatible(t *testing.T) {
	r := &Record{ConversationID: "GH3456", SchemaVersion: "9.9.9"}
	migrate(r)
	if !r.LegacyIncompatible {
		t.Fatalf("LegacyIncompatible = false, want true for unknown schema version")
	}
}

func TestMigrate_V1ToV2Backfills(t *testing.T) {
	r := &Record{ConversationID: "IJ7890", SchemaVersion: "1.0.0"}
	migrate(r)
	if r.SchemaVersion != CurrentSchemaVersion {
		t.Errorf("SchemaVersion = %q, want %q", r.SchemaVersion, CurrentSchemaVersion)
	}
	if r.Feedback != FeedbackNone {
		t.Errorf("Feedback = %q, want none", r.Feedback)
	}
	if r.ProcessedRequestIDs == nil {
		t.Errorf("ProcessedRequestIDs = nil, want initialized slice")
	}
}

func TestRecord_RememberRequestDedupeAndEvict(t *testing.T) {
	r := New("1.0", time.Now().UTC())
	r.RememberRequest("req-1", []byte(`{"a":1}`))
	r.RememberRequest("req-1", []byte(`{"a":2}`))
	if len(r.ProcessedRequestIDs) != 1 {
		t.Fatalf("len = %d, want 1 after duplicate request_id", len(r.ProcessedRequestIDs))
	}

	resp, ok := r.FindProcessedRequest("req-1")
	if !ok {
		t.Fatalf("FindProcessedRequest(req-1) not found")
	}
	if string(resp) != `{"a":1}` {
		t.Errorf("resp = %s, want first-write response preserved", resp)
	}

	for i := 0; i < processedRequestCap+10; i++ {
		r.RememberRequest("req-gen-"+strconv.Itoa(i), nil)
	}
	if len(r.ProcessedRequestIDs) != processedRequestCap {
		t.Fatalf("len = %d, want capped at %d", len(r.ProcessedRequestIDs), processedRequestCap)
	}
	if _, ok := r.FindProcessedRequest("req-1"); ok {
		t.Fatalf("req-1 should have been evicted")
	}
}
