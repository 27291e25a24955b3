package classifier

import (
	"context"
	"testing"
	"time"

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

func TestClassify_ValidResponse(t *testing.T) {
	const body = `{"intent":"network","needs_clarification":false,"missing":[],"suggested_next_ask":"CONNECTIVITY_FLOW","risk_level":"low","suggest_modes":{},"confidence":0.8}`
	gw := llm.New(&fakeProvider{content: body}, time.Second, nil)
	h := New(gw, "classifier-small")

	r, _, err := h.Classify(context.Background(), Input{UserText: "no tengo internet"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if r.Intent != IntentNetwork {
		t.Errorf("Intent = %q, want network", r.Intent)
	}
	if r.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", r.Confidence)
	}
}

func TestClassify_InvalidJSONFallsBack(t *testing.T) {
	gw := llm.New(&fakeProvider{content: "not json at all"}, time.Second, nil)
	h := New(gw, "classifier-small")

	r, _, err := h.Classify(context.Background(), Input{UserText: "hola"})
	if err == nil {
		t.Fatalf("Classify = nil error, want failure surfaced for FALLBACK_USED")
	}
	if r.Intent != IntentUnknown || r.SuggestedNextAsk != "ASK_DEVICE_CATEGORY" {
		t.Errorf("r = %+v, want Fallback()", r)
	}
}

func TestClassify_UnknownIntentRejected(t *testing.T) {
	const body = `{"intent":"not_a_real_intent","suggested_next_ask":"ASK_PROBLEM","risk_level":"low","confidence":0.5}`
	gw := llm.New(&fakeProvider{content: body}, time.Second, nil)
	h := New(gw, "classifier-small")

	r, _, err := h.Classify(context.Background(), Input{})
	if err == nil {
		t.Fatalf("Classify = nil error, want schema rejection")
	}
	if r.Intent != IntentUnknown {
		t.Errorf("r.Intent = %q, want fallback unknown", r.Intent)
	}
}

func TestClassify_ConfidenceOutOfRangeRejected(t *testing.T) {
	const body = `{"intent":"network","suggested_next_ask":"ASK_PROBLEM","risk_level":"low","confidence":1.5}`
	gw := llm.New(&fakeProvider{content: body}, time.Second, nil)
	h := New(gw, "classifier-small")

	if _, _, err := h.Classify(context.Background(), Input{}); err == nil {
		t.Fatalf("Classify = nil error, want schema rejection for out-of-range confidence")
	}
}

func TestResult_ActivatesGuidedStory_StrictThreshold(t *testing.T) {
	cases := []struct {
		confidence float64
		want       bool
	}{
		{0.29, true},
		{0.3, false}, // boundary: strictly less-than, not less-than-or-equal
		{0.31, false},
	}
	for _, c := range cases {
		r := Result{Confidence: c.confidence}
		if got := r.ActivatesGuidedStory(); got != c.want {
			t.Errorf("confidence=%v ActivatesGuidedStory = %v, want %v", c.confidence, got, c.want)
		}
	}
}

func TestClassify_ModelResponseWrappedInProse(t *testing.T) {
	const body = "Aquí está el resultado:\n{\"intent\":\"hardware\",\"suggested_next_ask\":\"ASK_DEVICE_CATEGORY\",\"risk_level\":\"medium\",\"confidence\":0.6}\nFin."
	gw := llm.New(&fakeProvider{content: body}, time.Second, nil)
	h := New(gw, "classifier-small")

	r, _, err := h.Classify(context.Background(), Input{})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if r.Intent != IntentHardware {
		t.Errorf("Intent = %q, want hardware", r.Intent)
	}
}
