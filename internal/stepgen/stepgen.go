// Package stepgen implements the Step Handler: produces one diagnostic
// reply adapted to user level, emotion, and history, via the LLM
// Gateway, with post-generation sanitization and a deterministic
// per-stage fallback.
package stepgen

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/llm"
)

// Emotion is the closed set of emotional readings the generator may tag
// its reply with, driving tone/length adaptation.
type Emotion string

const (
	EmotionNeutral     Emotion = "neutral"
	EmotionFrustrated  Emotion = "frustrated"
	EmotionAnxious     Emotion = "anxious"
	EmotionConfused    Emotion = "confused"
	EmotionFocused     Emotion = "focused"
	EmotionSatisfied   Emotion = "satisfied"
)

var validEmotions = map[Emotion]struct{}{
	EmotionNeutral: {}, EmotionFrustrated: {}, EmotionAnxious: {}, EmotionConfused: {},
	EmotionFocused: {}, EmotionSatisfied: {},
}

// rawButton mirrors the wire shape the model emits, before enforcement.
type rawButton struct {
	Token string `json:"token"`
	Label string `json:"label"`
	Order int    `json:"order,omitempty"`
}

// Result is the Step Generator schema (spec.md §4.9). Generate returns it
// with Buttons already passed through button enforcement.
type Result struct {
	Reply   string            `json:"reply"`
	Buttons []buttons.Button  `json:"-"`
	Emotion Emotion           `json:"emotion"`
}

type rawResult struct {
	Reply   string      `json:"reply"`
	Buttons []rawButton `json:"buttons"`
	Emotion Emotion     `json:"emotion"`
}

const maxReplyLength = 1200

// Input assembles everything the prompt composition rules (spec.md
// §4.9) require the generator to see.
type Input struct {
	Stage              string
	Language           string
	UserLevel          string
	DeviceType         string
	ProblemCategory    string
	LastBotSteps       []string // most recent first; caller passes at most N=3
	LastButtonResult   string
	UserName           string
	AllowedTokens      []string
}

// Handler invokes the Step Generator through the LLM Gateway.
type Handler struct {
	gateway  *llm.Gateway
	model    string
	enforcer *buttons.Enforcer
}

// New returns a Handler backed by gateway, enforcing button proposals
// through enforcer.
func New(gateway *llm.Gateway, model string, enforcer *buttons.Enforcer) *Handler {
	return &Handler{gateway: gateway, model: model, enforcer: enforcer}
}

// Generate runs the step generator and applies sanitization + button
// enforcement to its output. On any failure it returns the stage's canned
// reply and default buttons with a non-nil error, so the caller can emit
// FALLBACK_USED; a nil Handler returns the canned reply without buttons
// and a non-nil error. raw is the model's unparsed response body, empty
// when the gateway call itself failed; callers use it to emit
// IA_CALL_RESULT_RAW.
func (h *Handler) Generate(ctx context.Context, in Input) (result Result, raw string, err error) {
	if h == nil {
		return Result{Reply: canned(in.Stage), Emotion: EmotionNeutral}, "", fmt.Errorf("stepgen: no step generator configured")
	}

	req := llm.Request{
		Model:       h.model,
		Temperature: 0.3,
		MaxTokens:   900,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt(in)},
			{Role: "user", Content: userPrompt(in)},
		},
	}

	resp, err := h.gateway.Complete(ctx, "step_generator", req)
	if err != nil {
		return h.fallback(in.Stage), "", fmt.Errorf("stepgen: gateway call: %w", err)
	}
	raw = resp.Content

	result, err = parse(resp.Content)
	if err != nil {
		return h.fallback(in.Stage), raw, fmt.Errorf("stepgen: %w", err)
	}

	result.Reply = sanitizeReply(result.Reply)
	result.Buttons = h.enforcer.Enforce(in.Stage, result.Buttons)
	return result, raw, nil
}

func (h *Handler) fallback(stage string) Result {
	return Result{
		Reply:   canned(stage),
		Buttons: h.enforcer.Defaults(stage),
		Emotion: EmotionNeutral,
	}
}

func canned(stage string) string {
	switch stage {
	case "DIAGNOSTIC_STEP", "CONNECTIVITY_FLOW":
		return "Probemos un paso a la vez: decime qué ves en pantalla y seguimos desde ahí."
	case "INSTALLATION_STEP":
		return "Vamos con calma: confirmame en qué paso de la instalación estás."
	default:
		return "Contame un poco más para poder ayudarte mejor."
	}
}

func systemPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("Sos un asistente de soporte técnico paso a paso. ")
	b.WriteString("Respondé ÚNICAMENTE con un objeto JSON {reply, buttons[], emotion}, sin texto adicional.\n")
	fmt.Fprintf(&b, "Nivel del usuario: %s. ", in.UserLevel)
	if in.UserLevel == "basic" || in.UserLevel == "intermediate" {
		b.WriteString("No sugieras comandos destructivos (formateo, particionado, edición de BIOS, apertura física del equipo, terminal compleja sin explicación completa); si aparece riesgo, recomendá escalar a un humano. ")
	}
	if len(in.AllowedTokens) > 0 {
		fmt.Fprintf(&b, "Los únicos tokens de botón permitidos son: %s. ", strings.Join(in.AllowedTokens, ", "))
	}
	if len(in.LastBotSteps) > 0 {
		b.WriteString("No repitas estos pasos ya mostrados: ")
		b.WriteString(strings.Join(in.LastBotSteps, " | "))
		b.WriteString(". ")
	}
	return b.String()
}

func userPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "etapa: %s\n", in.Stage)
	fmt.Fprintf(&b, "idioma: %s\n", in.Language)
	fmt.Fprintf(&b, "tipo_dispositivo: %s\n", in.DeviceType)
	fmt.Fprintf(&b, "categoria_problema: %s\n", in.ProblemCategory)
	if in.LastButtonResult != "" {
		fmt.Fprintf(&b, "resultado_boton_anterior: %s\n", in.LastButtonResult)
	}
	if in.UserName != "" {
		fmt.Fprintf(&b, "nombre_usuario: %s (usalo con moderación)\n", in.UserName)
	}
	return b.String()
}

func parse(raw string) (Result, error) {
	var rr rawResult
	if err := json.Unmarshal([]byte(extractJSON(raw)), &rr); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if strings.TrimSpace(rr.Reply) == "" {
		return Result{}, fmt.Errorf("%w: empty reply", ErrSchema)
	}
	if rr.Emotion == "" {
		rr.Emotion = EmotionNeutral
	}
	if _, ok := validEmotions[rr.Emotion]; !ok {
		return Result{}, fmt.Errorf("%w: emotion %q", ErrSchema, rr.Emotion)
	}

	btns := make([]buttons.Button, 0, len(rr.Buttons))
	for i, rb := range rr.Buttons {
		order := rb.Order
		if order == 0 {
			order = i + 1
		}
		btns = append(btns, buttons.Button{Token: rb.Token, Label: rb.Label, Order: order})
	}

	return Result{Reply: rr.Reply, Buttons: btns, Emotion: rr.Emotion}, nil
}

func extractJSON(raw string) string {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end < start {
		return raw
	}
	return raw[start : end+1]
}
