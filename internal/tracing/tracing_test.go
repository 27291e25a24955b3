package tracing

import (
	"testing"
	"time"
)

func TestCollector_EvictsOldestAtCapacity(t *testing.T) {
	c := NewCollector(3)
	for i := 0; i < 5; i++ {
		c.Emit(Span{Name: "span", CreatedAt: time.Now()})
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}
}

func TestCollector_RecentFiltersByConversation(t *testing.T) {
	c := NewCollector(10)
	c.Emit(Span{ConversationID: "AB1111", Name: "a"})
	c.Emit(Span{ConversationID: "CD2222", Name: "b"})
	c.Emit(Span{ConversationID: "AB1111", Name: "c"})

	got := c.Recent("AB1111", 10)
	if len(got) != 2 {
		t.Fatalf("len(Recent) = %d, want 2", len(got))
	}
	if got[0].Name != "c" || got[1].Name != "a" {
		t.Fatalf("Recent order = %+v, want newest first", got)
	}
}

func TestRecorder_RecordLLMCall_MapsStatus(t *testing.T) {
	c := NewCollector(10)
	r := NewRecorder(c, "AB1111")

	start := time.Now()
	end := start.Add(50 * time.Millisecond)
	r.RecordLLMCall("classifier", start, end, "claude-haiku", "completed")
	r.RecordLLMCall("classifier", start, end, "claude-haiku", "failed")

	spans := c.Recent("AB1111", 10)
	if len(spans) != 2 {
		t.Fatalf("len(spans) = %d, want 2", len(spans))
	}
	if spans[0].Status != StatusError {
		t.Errorf("most recent span Status = %q, want error", spans[0].Status)
	}
	if spans[1].Status != StatusCompleted {
		t.Errorf("first span Status = %q, want completed", spans[1].Status)
	}
}

func TestRecorder_NilCollectorIsNoop(t *testing.T) {
	r := NewRecorder(nil, "AB1111")
	r.RecordLLMCall("classifier", time.Now(), time.Now(), "m", "completed")
}
