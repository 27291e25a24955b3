package fsm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/classifier"
	"github.com/mesadeayuda/conversa/internal/stepgen"
	"github.com/mesadeayuda/conversa/internal/store"
)

// hashRaw reduces a raw LLM completion body to a content hash, so the
// transcript can record IA_CALL_RESULT_RAW without persisting the
// model's free-text output verbatim (spec.md §3.3).
func hashRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// isValidationFailure reports whether err came from the model returning
// unparsable or schema-invalid output, as opposed to a transport/timeout
// failure on the gateway call itself.
func isValidationFailure(err error) bool {
	return errors.Is(err, classifier.ErrInvalidJSON) || errors.Is(err, classifier.ErrSchema) ||
		errors.Is(err, stepgen.ErrInvalidJSON) || errors.Is(err, stepgen.ErrSchema)
}

func handleAskProblem(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return Reply{Text: "Contame con tus palabras qué problema estás teniendo."}, "", nil, nil
	}
	rec.Context.ProblemDescription = text

	var events []store.Event
	events = append(events, store.System(in.Now, store.EventIACallStart, map[string]any{"kind": "classifier"}))
	events = append(events, store.System(in.Now, store.EventIACallPayloadSummary, map[string]any{
		"kind":            "classifier",
		"device_category": rec.Context.DeviceCategory,
		"user_level":      string(rec.UserLevel),
		"text_length":     len(text),
	}))

	result, raw, err := e.classifier.Classify(ctx, classifier.Input{
		UserText:       text,
		Language:       rec.Language,
		UserLevel:      string(rec.UserLevel),
		DeviceCategory: rec.Context.DeviceCategory,
	})
	if raw != "" {
		events = append(events, store.System(in.Now, store.EventIACallResultRaw, map[string]any{
			"kind": "classifier", "sha256": hashRaw(raw),
		}))
	}
	if err != nil {
		if isValidationFailure(err) {
			events = append(events, store.System(in.Now, store.EventIACallValidationFail, map[string]any{
				"kind": "classifier", "error": err.Error(),
			}))
		}
		events = append(events, store.System(in.Now, store.EventFallbackUsed, map[string]any{"component": "classifier"}))
	}
	events = append(events, store.System(in.Now, store.EventIAClassifierResult, classifier.RecordEvent(result)))

	rec.Context.ProblemCategory = string(result.Intent)

	if result.RiskLevel == classifier.RiskMedium || result.RiskLevel == classifier.RiskHigh {
		if !rec.Context.RiskSummaryShown {
			return Reply{
				Text:    "Este paso puede implicar cierto riesgo para tu equipo. ¿Querés continuar igualmente?",
				Buttons: e.enforcer.Defaults("RISK_CONFIRMATION"),
			}, "RISK_CONFIRMATION", events, nil
		}
	}

	if result.ActivatesGuidedStory() {
		return Reply{Text: "Contame un poco más: ¿qué estabas haciendo cuando empezó el problema?"}, "GUIDED_STORY", events, nil
	}

	if result.NeedsClarification {
		return Reply{Text: "Para entender mejor, ¿me das un poco más de detalle?"}, "ASK_PROBLEM_CLARIFICATION", events, nil
	}

	if result.Intent == classifier.IntentNetwork {
		rec.Context.ConnectivitySubstage = ""
		reply, next, _, err := connectivityStart(e, rec)
		return reply, next, events, err
	}

	if result.SuggestModes.AskInteractionMode {
		return Reply{
			Text:    "¿Querés que te haga algunas preguntas para entender mejor cómo ayudarte?",
			Buttons: e.enforcer.Defaults("ASK_INTERACTION_MODE"),
		}, "ASK_INTERACTION_MODE", events, nil
	}

	return stepgenTurn(ctx, e, rec, in, "DIAGNOSTIC_STEP", events)
}

func handleAskProblemClarification(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		rec.Context.ClarificationAttempts++
		if rec.Context.ClarificationAttempts >= e.clarificationThreshold {
			return e.triggerEscalationInline(ctx, rec, "multiple_attempts_failed", in)
		}
		return Reply{Text: "Necesito un poco más de detalle para poder ayudarte."}, "", nil, nil
	}

	rec.Context.ProblemDescription = rec.Context.ProblemDescription + " " + text
	rec.Context.ClarificationAttempts = 0

	return stepgenTurn(ctx, e, rec, in, "DIAGNOSTIC_STEP", nil)
}

func handleRiskConfirmation(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	rec.Context.RiskSummaryShown = true
	events := []store.Event{store.System(in.Now, store.EventRiskSummaryShown, nil)}

	if pressed(in, buttons.TokenRiskCancel) {
		return Reply{
			Text:    "Entendido, volvamos a contarme el problema.",
			Buttons: e.enforcer.Defaults("ASK_PROBLEM"),
		}, "ASK_PROBLEM", events, nil
	}
	if pressed(in, buttons.TokenRiskContinue) {
		return stepgenTurn(ctx, e, rec, in, "INSTALLATION_STEP", events)
	}

	return Reply{
		Text:    "Por favor confirmá si querés continuar con este paso.",
		Buttons: e.enforcer.Defaults("RISK_CONFIRMATION"),
	}, "", events, nil
}

func handleDiagnosticStep(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	if pressed(in, buttons.TokenSolved) {
		return Reply{
			Text:    "¡Buenísimo! ¿Cómo calificarías la ayuda recibida?",
			Buttons: e.enforcer.Defaults("ASK_FEEDBACK"),
		}, "ASK_FEEDBACK", nil, nil
	}
	if pressed(in, buttons.TokenPersist) {
		rec.Context.DiagnosticAttempts++
		if rec.Context.DiagnosticAttempts >= e.diagnosticThreshold {
			return e.triggerEscalationInline(ctx, rec, "multiple_attempts_failed", in)
		}
		rec.Context.LastButtonResult = "persists"
	}

	return stepgenTurn(ctx, e, rec, in, "DIAGNOSTIC_STEP", nil)
}

func handleInstallationStep(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	if pressed(in, buttons.TokenSolved) {
		return Reply{
			Text:    "¡Buenísimo! ¿Cómo calificarías la ayuda recibida?",
			Buttons: e.enforcer.Defaults("ASK_FEEDBACK"),
		}, "ASK_FEEDBACK", nil, nil
	}
	if pressed(in, buttons.TokenPersist) {
		rec.Context.DiagnosticAttempts++
		if rec.Context.DiagnosticAttempts >= e.diagnosticThreshold {
			return e.triggerEscalationInline(ctx, rec, "multiple_attempts_failed", in)
		}
		rec.Context.LastButtonResult = "persists"
	}

	return stepgenTurn(ctx, e, rec, in, "INSTALLATION_STEP", nil)
}

func handleGuidedStory(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	text := strings.TrimSpace(in.Text)
	if text != "" {
		rec.Context.ProblemDescription = rec.Context.ProblemDescription + " " + text
	}
	return stepgenTurn(ctx, e, rec, in, "DIAGNOSTIC_STEP", nil)
}

func handleEmotionalRelease(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	rec.Modes.EmotionalReleaseUsed = true
	return stepgenTurn(ctx, e, rec, in, "ASK_PROBLEM", nil)
}

// stepgenTurn invokes the Step Generator for nextStage and builds the
// reply/events pair shared by every LLM-governed handler that ends in a
// step-generation call.
func stepgenTurn(ctx context.Context, e *Engine, rec *store.Record, in Input, nextStage string, events []store.Event) (Reply, string, []store.Event, error) {
	if pressed(in, buttons.TokenPersist) {
		rec.Context.LastButtonResult = "persists"
	}

	events = append(events, store.System(in.Now, store.EventIACallStart, map[string]any{"kind": "step_generator"}))
	events = append(events, store.System(in.Now, store.EventIACallPayloadSummary, map[string]any{
		"kind":             "step_generator",
		"next_stage":       nextStage,
		"problem_category": rec.Context.ProblemCategory,
		"user_level":       string(rec.UserLevel),
	}))

	result, raw, err := e.stepgen.Generate(ctx, stepgen.Input{
		Stage:            nextStage,
		Language:         rec.Language,
		UserLevel:        string(rec.UserLevel),
		DeviceType:       rec.Context.DeviceType,
		ProblemCategory:  rec.Context.ProblemCategory,
		LastBotSteps:     lastN(rec.Context.LastBotSteps, 3),
		LastButtonResult: rec.Context.LastButtonResult,
		UserName:         rec.User.DisplayName,
		AllowedTokens:    e.enforcer.AllowedTokens(nextStage),
	})
	if raw != "" {
		events = append(events, store.System(in.Now, store.EventIACallResultRaw, map[string]any{
			"kind": "step_generator", "sha256": hashRaw(raw),
		}))
	}
	if err != nil {
		if isValidationFailure(err) {
			events = append(events, store.System(in.Now, store.EventIACallValidationFail, map[string]any{
				"kind": "step_generator", "error": err.Error(),
			}))
		}
		events = append(events, store.System(in.Now, store.EventFallbackUsed, map[string]any{"component": "step_generator"}))
	}
	events = append(events, store.System(in.Now, store.EventIAStepResult, map[string]any{"emotion": string(result.Emotion)}))

	rec.Context.LastBotSteps = append(rec.Context.LastBotSteps, result.Reply)
	rec.Context.LastButtonResult = ""

	return Reply{Text: result.Reply, Buttons: result.Buttons}, nextStage, events, nil
}

func lastN(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// triggerEscalationInline mirrors Engine.triggerEscalation but is callable
// from within a handler (which must return via the handlerFunc signature
// rather than Engine.Step's own return path).
func (e *Engine) triggerEscalationInline(ctx context.Context, rec *store.Record, reason string, in Input) (Reply, string, []store.Event, error) {
	contactURL, err := e.escalator.Escalate(ctx, rec, reason)
	if err != nil {
		return Reply{}, "", nil, fmt.Errorf("fsm: escalate: %w", err)
	}
	rec.Status = store.StatusEscalated
	events := []store.Event{store.System(in.Now, store.EventEscalated, map[string]any{"reason": reason})}

	return Reply{
		Text:    fmt.Sprintf("Te derivamos con un técnico humano. Continuá la conversación acá: %s", contactURL),
		Buttons: e.enforcer.Defaults("ENDED"),
	}, "ENDED", events, nil
}
