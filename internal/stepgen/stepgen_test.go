package stepgen

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/llm"
)

type fakeProvider struct {
	content string
	err     error
}

func (f *fakeProvider) Name() string { return "fake" }
func (f *fakeProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Content: f.content}, nil
}

func testEnforcer() *buttons.Enforcer {
	catalog := buttons.DefaultCatalog()
	return buttons.NewEnforcer(func() map[string]buttons.StageRule { return catalog })
}

func TestGenerate_ValidResponseEnforcesButtons(t *testing.T) {
	const body = `{"reply":"Probá reiniciar el router.","buttons":[{"token":"BTN_SOLVED","label":"Se solucionó"},{"token":"BTN_PERSIST","label":"Sigue igual"}],"emotion":"neutral"}`
	gw := llm.New(&fakeProvider{content: body}, time.Second, nil)
	h := New(gw, "step-small", testEnforcer())

	r, _, err := h.Generate(context.Background(), Input{Stage: "DIAGNOSTIC_STEP"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if r.Reply == "" {
		t.Fatalf("Reply is empty")
	}
	if len(r.Buttons) != 2 {
		t.Fatalf("len(Buttons) = %d, want 2", len(r.Buttons))
	}
	if r.Buttons[0].Order != 1 || r.Buttons[1].Order != 2 {
		t.Errorf("Buttons = %+v, want normalized order 1,2", r.Buttons)
	}
}

func TestGenerate_DisallowedButtonDropped(t *testing.T) {
	const body = `{"reply":"Listo.","buttons":[{"token":"BTN_LANG_ES_AR","label":"Español"}],"emotion":"neutral"}`
	gw := llm.New(&fakeProvider{content: body}, time.Second, nil)
	h := New(gw, "step-small", testEnforcer())

	r, _, err := h.Generate(context.Background(), Input{Stage: "DIAGNOSTIC_STEP"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(r.Buttons) != 0 {
		t.Fatalf("Buttons = %+v, want empty (disallowed token dropped, Enforce substitutes no defaults on an llm-governed stage)", r.Buttons)
	}
}

func TestGenerate_EmptyReplyFallsBack(t *testing.T) {
	const body = `{"reply":"","buttons":[],"emotion":"neutral"}`
	gw := llm.New(&fakeProvider{content: body}, time.Second, nil)
	h := New(gw, "step-small", testEnforcer())

	r, _, err := h.Generate(context.Background(), Input{Stage: "DIAGNOSTIC_STEP"})
	if err == nil {
		t.Fatalf("Generate = nil error, want failure for empty reply")
	}
	if r.Reply == "" {
		t.Fatalf("fallback Reply is empty")
	}
	if len(r.Buttons) != 2 {
		t.Fatalf("fallback Buttons = %+v, want stage defaults", r.Buttons)
	}
}

func TestSanitizeReply_StripsDisallowedLink(t *testing.T) {
	in := "Mirá esto: https://evil.example.com/phish y esto https://wa.me/123"
	out := sanitizeReply(in)
	if strings.Contains(out, "evil.example.com") {
		t.Errorf("sanitizeReply = %q, disallowed link not stripped", out)
	}
	if !strings.Contains(out, "wa.me/123") {
		t.Errorf("sanitizeReply = %q, allow-listed link was stripped", out)
	}
}

func TestSanitizeReply_Truncates(t *testing.T) {
	long := strings.Repeat("a", maxReplyLength+500)
	out := sanitizeReply(long)
	if len(out) > maxReplyLength+1 { // the 3-byte ellipsis counts inside the cap; +1 is slack
		t.Errorf("len(out) = %d, want <= %d", len(out), maxReplyLength+1)
	}
	if !strings.HasSuffix(out, "…") {
		t.Errorf("out does not end with truncation marker")
	}
}

func TestGenerate_TransportErrorFallsBack(t *testing.T) {
	gw := llm.New(&fakeProvider{err: errTransport{}}, time.Second, nil)
	h := New(gw, "step-small", testEnforcer())

	r, _, err := h.Generate(context.Background(), Input{Stage: "INSTALLATION_STEP"})
	if err == nil {
		t.Fatalf("Generate = nil error, want failure surfaced for FALLBACK_USED")
	}
	if r.Reply == "" {
		t.Fatalf("fallback Reply is empty")
	}
}

type errTransport struct{}

func (errTransport) Error() string { return "boom" }
