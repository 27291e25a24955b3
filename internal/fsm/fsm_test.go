package fsm

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/ids"
	"github.com/mesadeayuda/conversa/internal/store"
)

type fakeEscalator struct {
	calls int
	url   string
}

func (f *fakeEscalator) Escalate(ctx context.Context, rec *store.Record, reason string) (string, error) {
	f.calls++
	if f.url == "" {
		return "https://wa.me/5491100000000", nil
	}
	return f.url, nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeEscalator) {
	t.Helper()
	idSvc, err := ids.New(t.TempDir())
	if err != nil {
		t.Fatalf("ids.New: %v", err)
	}
	catalog := buttons.DefaultCatalog()
	enforcer := buttons.NewEnforcer(func() map[string]buttons.StageRule { return catalog })
	esc := &fakeEscalator{}
	e := New(idSvc, nil, nil, enforcer, esc, Config{DiagnosticAttemptThreshold: 2, ClarificationFailThreshold: 3})
	return e, esc
}

func press(token string) Input {
	return Input{Button: &ButtonPress{Token: token}, Now: time.Now()}
}

func text(s string) Input {
	return Input{Text: s, Now: time.Now()}
}

// TestHappyPath_NetworkIssueOnNotebook exercises the onboarding part of
// spec.md §8 scenario 1: consent -> language (ID assigned) -> name ->
// level -> device category -> device type, ending at ASK_PROBLEM with
// exactly one CONVERSATION_ID_ASSIGNED event.
func TestHappyPath_NetworkIssueOnNotebook(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := store.New("v1", time.Now())

	steps := []struct {
		in        Input
		wantStage string
	}{
		{press(buttons.TokenConsentYes), "ASK_LANGUAGE"},
		{press(buttons.TokenLangESAR), "ASK_NAME"},
		{text("Juan"), "ASK_USER_LEVEL"},
		{press(buttons.TokenUserLevelBasic), "ASK_DEVICE_CATEGORY"},
		{press(buttons.TokenDeviceNotebook), "ASK_DEVICE_TYPE_MAIN"},
		{text("Lenovo ThinkPad"), "ASK_PROBLEM"},
	}

	var idAssignedCount int
	for i, st := range steps {
		_, events, err := e.Step(context.Background(), rec, st.in)
		if err != nil {
			t.Fatalf("step %d: Step: %v", i, err)
		}
		if rec.Stage != st.wantStage {
			t.Fatalf("step %d: Stage = %q, want %q", i, rec.Stage, st.wantStage)
		}
		for _, ev := range events {
			if ev.Name == store.EventConversationIDAssigned {
				idAssignedCount++
			}
		}
	}
	if idAssignedCount != 1 {
		t.Fatalf("CONVERSATION_ID_ASSIGNED emitted %d times, want 1", idAssignedCount)
	}
	if !strings.HasPrefix(rec.ConversationID, "") || len(rec.ConversationID) != 6 {
		t.Fatalf("ConversationID = %q, want 6-char ID", rec.ConversationID)
	}
}

// TestDiagnosticStep_TwoStrikesEscalates exercises scenario 2: pressing
// BTN_PERSIST repeatedly escalates once the attempt threshold is hit.
func TestDiagnosticStep_TwoStrikesEscalates(t *testing.T) {
	e, esc := newTestEngine(t)
	rec := store.New("v1", time.Now())
	rec.Stage = "DIAGNOSTIC_STEP"

	reply, _, err := e.Step(context.Background(), rec, press(buttons.TokenPersist))
	if err != nil {
		t.Fatalf("step 1: %v", err)
	}
	if rec.Stage != "DIAGNOSTIC_STEP" {
		t.Fatalf("after 1st persist, Stage = %q, want DIAGNOSTIC_STEP", rec.Stage)
	}
	if esc.calls != 0 {
		t.Fatalf("escalator called after only 1 attempt")
	}
	_ = reply

	_, _, err = e.Step(context.Background(), rec, press(buttons.TokenPersist))
	if err != nil {
		t.Fatalf("step 2: %v", err)
	}
	if rec.Stage != "ENDED" {
		t.Fatalf("after 2nd persist, Stage = %q, want ENDED", rec.Stage)
	}
	if esc.calls != 1 {
		t.Fatalf("escalator calls = %d, want 1", esc.calls)
	}
	if rec.Status != store.StatusEscalated {
		t.Fatalf("Status = %q, want escalated", rec.Status)
	}
}

// TestRiskConfirmation_ShownOnce exercises scenario 3: a risky diagnostic
// path gates through RISK_CONFIRMATION exactly once per conversation.
func TestRiskConfirmation_ShownOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := store.New("v1", time.Now())
	rec.Stage = "RISK_CONFIRMATION"
	rec.Context.RiskSummaryShown = false

	_, events, err := e.Step(context.Background(), rec, press(buttons.TokenRiskContinue))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !rec.Context.RiskSummaryShown {
		t.Fatalf("RiskSummaryShown not set")
	}
	var shown int
	for _, ev := range events {
		if ev.Name == store.EventRiskSummaryShown {
			shown++
		}
	}
	if shown != 1 {
		t.Fatalf("RISK_SUMMARY_SHOWN emitted %d times, want 1", shown)
	}
	if rec.Stage != "INSTALLATION_STEP" {
		t.Fatalf("Stage = %q, want INSTALLATION_STEP", rec.Stage)
	}
}

func TestRiskConfirmation_CancelReturnsToAskProblem(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := store.New("v1", time.Now())
	rec.Stage = "RISK_CONFIRMATION"

	_, _, err := e.Step(context.Background(), rec, press(buttons.TokenRiskCancel))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if rec.Stage != "ASK_PROBLEM" {
		t.Fatalf("Stage = %q, want ASK_PROBLEM", rec.Stage)
	}
}

// TestIllegalTransitionClamped verifies that an attempted transition not
// present in allowedTransitions is clamped back with a warning event,
// rather than silently accepted.
func TestIllegalTransitionClamped(t *testing.T) {
	if transitionAllowed("ASK_NAME", "ENDED") {
		t.Fatalf("ASK_NAME -> ENDED should not be an allowed transition")
	}
	if !transitionAllowed("ASK_CONSENT", "ENDED") {
		t.Fatalf("ASK_CONSENT -> ENDED should be allowed (consent declined)")
	}
}

func TestUnknownStageResetsToAskConsent(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := store.New("v1", time.Now())
	rec.Stage = "NOT_A_REAL_STAGE"

	_, events, err := e.Step(context.Background(), rec, text("hola"))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if rec.Stage != "ASK_LANGUAGE" {
		t.Fatalf("Stage = %q, want ASK_LANGUAGE (consent accepted by default text turn)", rec.Stage)
	}
	var sawReset bool
	for _, ev := range events {
		if ev.Name == store.EventStageChanged {
			sawReset = true
		}
	}
	if !sawReset {
		t.Fatalf("expected a STAGE_CHANGED event for the invalid-stage reset")
	}
}

func TestConnectTechButtonEscalatesFromAnyStage(t *testing.T) {
	e, esc := newTestEngine(t)
	rec := store.New("v1", time.Now())
	rec.Stage = "DIAGNOSTIC_STEP"

	_, _, err := e.Step(context.Background(), rec, press(buttons.TokenConnectTech))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if rec.Stage != "ENDED" || rec.Status != store.StatusEscalated {
		t.Fatalf("Stage=%q Status=%q, want ENDED/escalated", rec.Stage, rec.Status)
	}
	if esc.calls != 1 {
		t.Fatalf("escalator calls = %d, want 1", esc.calls)
	}
}

func TestEscalationIsIdempotent(t *testing.T) {
	e, esc := newTestEngine(t)
	rec := store.New("v1", time.Now())
	rec.Stage = "ENDED"
	rec.Status = store.StatusEscalated

	_, _, err := e.Step(context.Background(), rec, press(buttons.TokenConnectTech))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if esc.calls != 0 {
		t.Fatalf("escalator calls = %d, want 0 (terminal stage short-circuits before escalation check)", esc.calls)
	}
}

func TestConnectivityFlow_OrderedQuestions(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := store.New("v1", time.Now())
	rec.Stage = "ASK_PROBLEM"
	rec.Context.ConnectivitySubstage = ""

	reply, _, _, err := connectivityStart(e, rec)
	if err != nil {
		t.Fatalf("connectivityStart: %v", err)
	}
	if rec.Context.ConnectivitySubstage != substageWifiOrWired {
		t.Fatalf("Substage = %q, want %q", rec.Context.ConnectivitySubstage, substageWifiOrWired)
	}
	if len(reply.Buttons) != 2 {
		t.Fatalf("len(Buttons) = %d, want 2", len(reply.Buttons))
	}
	rec.Stage = "CONNECTIVITY_FLOW"

	_, _, err = e.Step(context.Background(), rec, press(buttons.TokenWifi))
	if err != nil {
		t.Fatalf("Step wifi: %v", err)
	}
	if rec.Context.ConnectivitySubstage != substageNotebookOrDesktop {
		t.Fatalf("Substage = %q, want %q", rec.Context.ConnectivitySubstage, substageNotebookOrDesktop)
	}
	if !rec.Context.ConnectivityWifi {
		t.Fatalf("ConnectivityWifi not set")
	}

	_, _, err = e.Step(context.Background(), rec, press(buttons.TokenDeviceNotebook))
	if err != nil {
		t.Fatalf("Step device: %v", err)
	}
	if rec.Context.ConnectivitySubstage != substageSSIDVisible {
		t.Fatalf("Substage = %q, want %q (wifi path asks SSID before peer device)", rec.Context.ConnectivitySubstage, substageSSIDVisible)
	}
}

func TestConnectivityFlow_RetryLimitEscalates(t *testing.T) {
	e, esc := newTestEngine(t)
	rec := store.New("v1", time.Now())
	rec.Stage = "CONNECTIVITY_FLOW"
	rec.Context.ConnectivitySubstage = substageWifiOrWired

	for i := 0; i < connectivityRetryLimit; i++ {
		_, _, err := e.Step(context.Background(), rec, text("no entiendo"))
		if err != nil {
			t.Fatalf("retry %d: %v", i, err)
		}
		if rec.Stage != "CONNECTIVITY_FLOW" {
			t.Fatalf("retry %d: Stage = %q, escalated too early", i, rec.Stage)
		}
	}

	_, _, err := e.Step(context.Background(), rec, text("no entiendo"))
	if err != nil {
		t.Fatalf("final retry: %v", err)
	}
	if rec.Stage != "ENDED" {
		t.Fatalf("Stage = %q, want ENDED after retry limit exceeded", rec.Stage)
	}
	if esc.calls != 1 {
		t.Fatalf("escalator calls = %d, want 1", esc.calls)
	}
}

func TestButtonAllowList_DiagnosticStepDropsForeignToken(t *testing.T) {
	catalog := buttons.DefaultCatalog()
	enforcer := buttons.NewEnforcer(func() map[string]buttons.StageRule { return catalog })
	out := enforcer.Enforce("DIAGNOSTIC_STEP", []buttons.Button{
		{Token: buttons.TokenLangEN, Label: "English"},
	})
	if len(out) != 0 {
		t.Fatalf("Enforce kept a token outside DIAGNOSTIC_STEP's allow-list: %+v", out)
	}
}

func TestAskConsent_DeclineEndsImmediately(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := store.New("v1", time.Now())

	_, _, err := e.Step(context.Background(), rec, press(buttons.TokenConsentNo))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if rec.Stage != "ENDED" {
		t.Fatalf("Stage = %q, want ENDED", rec.Stage)
	}
	if rec.ConversationID != "" {
		t.Fatalf("ConversationID = %q, want empty (declined before language/ID stage)", rec.ConversationID)
	}
}
