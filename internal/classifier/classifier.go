// Package classifier implements the Classifier Handler: it maps raw
// user input to intent, risk, missing-info, and a suggested next stage
// via the LLM Gateway, with a deterministic fallback on timeout or
// schema failure.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mesadeayuda/conversa/internal/llm"
)

// Intent is the closed set of recognized user intents.
type Intent string

const (
	IntentNetwork    Intent = "network"
	IntentInstallOS  Intent = "install_os"
	IntentInstallApp Intent = "install_app"
	IntentHardware   Intent = "hardware"
	IntentSoftware   Intent = "software"
	IntentPeripheral Intent = "peripheral"
	IntentAccount    Intent = "account"
	IntentBilling    Intent = "billing"
	IntentOther      Intent = "other"
	IntentUnknown    Intent = "unknown"
)

var validIntents = map[Intent]struct{}{
	IntentNetwork: {}, IntentInstallOS: {}, IntentInstallApp: {}, IntentHardware: {},
	IntentSoftware: {}, IntentPeripheral: {}, IntentAccount: {}, IntentBilling: {},
	IntentOther: {}, IntentUnknown: {},
}

// RiskLevel is the closed set of physical/operational risk tiers.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

var validRiskLevels = map[RiskLevel]struct{}{RiskLow: {}, RiskMedium: {}, RiskHigh: {}}

// SuggestModes flags cross-cutting mode questions the FSM may ask next.
type SuggestModes struct {
	AskInteractionMode   bool `json:"ask_interaction_mode"`
	AskLearningDepth     bool `json:"ask_learning_depth"`
	AskExecutorRole      bool `json:"ask_executor_role"`
	ActivateAdvisoryMode bool `json:"activate_advisory_mode"`
}

// Result is the Classifier schema (spec.md §4.8).
type Result struct {
	Intent             Intent       `json:"intent"`
	NeedsClarification bool         `json:"needs_clarification"`
	Missing            []string     `json:"missing"`
	SuggestedNextAsk   string       `json:"suggested_next_ask"`
	RiskLevel          RiskLevel    `json:"risk_level"`
	SuggestModes       SuggestModes `json:"suggest_modes"`
	Confidence         float64      `json:"confidence"`
}

// GuidedStoryConfidenceThreshold is the cutoff below which GUIDED_STORY
// activates instead of another clarification round. The comparison is
// strict: a confidence of exactly this value does NOT activate it.
const GuidedStoryConfidenceThreshold = 0.3

// Fallback is the canned result substituted on LLM timeout or schema
// failure (spec.md §4.8).
func Fallback() Result {
	return Result{
		Intent:             IntentUnknown,
		NeedsClarification: true,
		Missing:            []string{"device_type"},
		SuggestedNextAsk:   "ASK_DEVICE_CATEGORY",
		RiskLevel:          RiskLow,
		SuggestModes:       SuggestModes{},
		Confidence:         0.0,
	}
}

// Handler invokes the Classifier through the LLM Gateway.
type Handler struct {
	gateway *llm.Gateway
	model   string
}

// New returns a Handler that calls model through gateway.
func New(gateway *llm.Gateway, model string) *Handler {
	return &Handler{gateway: gateway, model: model}
}

// Input is the caller-assembled context fed into the classifier prompt.
type Input struct {
	UserText        string
	Language        string
	UserLevel       string
	DeviceCategory  string
	PriorClarifications int
}

// Classify runs the classifier. On any transport, parse, or schema
// failure it returns Fallback() with a non-nil error describing why, so
// callers can emit FALLBACK_USED while still proceeding with a usable
// result. raw is the model's unparsed response body, empty when the
// gateway call itself failed; callers use it to emit IA_CALL_RESULT_RAW.
func (h *Handler) Classify(ctx context.Context, in Input) (result Result, raw string, err error) {
	req := llm.Request{
		Model:       h.model,
		Temperature: 0.2,
		MaxTokens:   450,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt()},
			{Role: "user", Content: userPrompt(in)},
		},
	}

	resp, err := h.gateway.Complete(ctx, "classifier", req)
	if err != nil {
		return Fallback(), "", fmt.Errorf("classifier: gateway call: %w", err)
	}
	raw = resp.Content

	result, err = parse(resp.Content)
	if err != nil {
		return Fallback(), raw, fmt.Errorf("classifier: %w", err)
	}
	return result, raw, nil
}

func systemPrompt() string {
	return "Sos un clasificador de intenciones para un chatbot de soporte técnico. " +
		"Respondé ÚNICAMENTE con un objeto JSON que cumpla el esquema provisto, sin texto adicional."
}

func userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "idioma: %s\n", in.Language)
	fmt.Fprintf(&b, "nivel_usuario: %s\n", in.UserLevel)
	fmt.Fprintf(&b, "categoria_dispositivo: %s\n", in.DeviceCategory)
	fmt.Fprintf(&b, "clarificaciones_previas: %d\n", in.PriorClarifications)
	fmt.Fprintf(&b, "mensaje_usuario: %q\n", in.UserText)
	b.WriteString("Esquema: {intent, needs_clarification, missing[], suggested_next_ask, risk_level, suggest_modes{}, confidence}")
	return b.String()
}

// parse strictly validates the raw model output against the Classifier
// schema: unknown enum values or out-of-range confidence are rejected
// rather than silently coerced.
func parse(raw string) (Result, error) {
	var r Result
	if err := json.Unmarshal([]byte(extractJSON(raw)), &r); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	if _, ok := validIntents[r.Intent]; !ok {
		return Result{}, fmt.Errorf("%w: intent %q", ErrSchema, r.Intent)
	}
	if _, ok := validRiskLevels[r.RiskLevel]; !ok {
		return Result{}, fmt.Errorf("%w: risk_level %q", ErrSchema, r.RiskLevel)
	}
	if r.SuggestedNextAsk == "" {
		return Result{}, fmt.Errorf("%w: missing suggested_next_ask", ErrSchema)
	}
	if r.Confidence < 0.0 || r.Confidence > 1.0 {
		return Result{}, fmt.Errorf("%w: confidence %v out of range", ErrSchema, r.Confidence)
	}
	return r, nil
}

// extractJSON trims any leading/trailing prose the model might add
// despite instructions, keeping only the outermost JSON object.
func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}

// ActivatesGuidedStory reports whether r's confidence is strictly below
// the threshold that routes to GUIDED_STORY.
func (r Result) ActivatesGuidedStory() bool {
	return r.Confidence < GuidedStoryConfidenceThreshold
}

// RecordEvent renders r as a system transcript event payload for
// IA_CLASSIFIER_RESULT.
func RecordEvent(r Result) map[string]any {
	return map[string]any{
		"intent":              string(r.Intent),
		"needs_clarification": r.NeedsClarification,
		"missing":             r.Missing,
		"suggested_next_ask":  r.SuggestedNextAsk,
		"risk_level":          string(r.RiskLevel),
		"confidence":          r.Confidence,
	}
}
