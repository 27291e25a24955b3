package escalation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mesadeayuda/conversa/internal/store"
)

func newTestRecord() *store.Record {
	rec := store.New("v1", time.Now())
	rec.ConversationID = "AB1234"
	rec.User.DisplayName = "Juan Perez"
	rec.Context.ProblemDescription = "  no  conecta   a internet  "
	return rec
}

func TestEscalate_BuildsContactURL(t *testing.T) {
	em, err := New(t.TempDir(), "https://wa.me/5491100000000", "https://soporte.example.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := newTestRecord()

	url, err := em.Escalate(context.Background(), rec, "multiple_attempts_failed")
	if err != nil {
		t.Fatalf("Escalate: %v", err)
	}
	if !strings.HasPrefix(url, "https://wa.me/5491100000000?text=") {
		t.Fatalf("ContactURL = %q, want wa.me prefix", url)
	}
	if strings.Contains(url, "Perez") {
		t.Fatalf("ContactURL leaks full surname: %q", url)
	}
	if !strings.Contains(url, "AB1234") {
		t.Fatalf("ContactURL missing conversation ID: %q", url)
	}
}

func TestEscalate_IdempotentReturnsExistingTicket(t *testing.T) {
	em, err := New(t.TempDir(), "https://wa.me/5491100000000", "https://soporte.example.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := newTestRecord()

	first, err := em.Escalate(context.Background(), rec, "user_requested")
	if err != nil {
		t.Fatalf("Escalate #1: %v", err)
	}

	rec.Context.ProblemDescription = "un problema completamente distinto"
	second, err := em.Escalate(context.Background(), rec, "risk_detected")
	if err != nil {
		t.Fatalf("Escalate #2: %v", err)
	}
	if first != second {
		t.Fatalf("second Escalate minted a new ticket: %q != %q", first, second)
	}

	ticket, err := em.Get(rec.ConversationID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ticket.Reason != "user_requested" {
		t.Fatalf("Reason = %q, want the first escalation's reason preserved", ticket.Reason)
	}
}

func TestGet_NotFound(t *testing.T) {
	em, err := New(t.TempDir(), "https://wa.me/5491100000000", "https://soporte.example.com")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = em.Get("ZZ9999")
	if err == nil {
		t.Fatalf("Get = nil error, want ErrNotFound")
	}
}

func TestOneLineSummary_TruncatesLongText(t *testing.T) {
	long := strings.Repeat("palabra ", 40)
	out := oneLineSummary(long)
	if len(out) > maxSummaryLength+1 {
		t.Fatalf("len(out) = %d, want <= %d", len(out), maxSummaryLength+1)
	}
}

func TestMaskName_SingleWordUnmasked(t *testing.T) {
	if got := maskName("Ana"); got != "Ana" {
		t.Fatalf("maskName(%q) = %q", "Ana", got)
	}
}
