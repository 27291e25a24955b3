// Package fsm implements the FSM Runtime: stage dispatch, transition
// rules, and the split between deterministic and LLM-governed handlers.
package fsm

import (
	"context"
	"fmt"
	"time"

	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/classifier"
	"github.com/mesadeayuda/conversa/internal/ids"
	"github.com/mesadeayuda/conversa/internal/stepgen"
	"github.com/mesadeayuda/conversa/internal/store"
)

// ButtonPress is a user's button click, normalized from the wire.
type ButtonPress struct {
	Token string
	Label string
	Value string
}

// Input is one user turn.
type Input struct {
	Text   string
	Button *ButtonPress
	Now    time.Time
}

// Reply is the engine's response to one turn.
type Reply struct {
	Text    string
	Buttons []buttons.Button
}

// Escalator is the subset of the Escalation & Ticket Emitter the FSM
// depends on. Defined here (not imported from internal/escalation) to
// keep the dependency direction leaf-ward; internal/escalation implements it.
type Escalator interface {
	Escalate(ctx context.Context, rec *store.Record, reason string) (contactURL string, err error)
}

// Engine runs the stage dispatch table against a conversation record.
type Engine struct {
	ids        *ids.Service
	classifier *classifier.Handler
	stepgen    *stepgen.Handler
	enforcer   *buttons.Enforcer
	escalator  Escalator

	diagnosticThreshold    int
	clarificationThreshold int
}

// Config bundles Engine's tunables (spec.md §6.3 defaults).
type Config struct {
	DiagnosticAttemptThreshold int
	ClarificationFailThreshold int
}

// New returns an Engine. Any of classifier/stepgen/escalator may be nil
// if the corresponding stages are never reached in a given deployment
// (e.g. tests exercising only deterministic stages).
func New(idSvc *ids.Service, clf *classifier.Handler, step *stepgen.Handler, enforcer *buttons.Enforcer, esc Escalator, cfg Config) *Engine {
	if cfg.DiagnosticAttemptThreshold <= 0 {
		cfg.DiagnosticAttemptThreshold = 2
	}
	if cfg.ClarificationFailThreshold <= 0 {
		cfg.ClarificationFailThreshold = 3
	}
	return &Engine{
		ids:                    idSvc,
		classifier:             clf,
		stepgen:                step,
		enforcer:               enforcer,
		escalator:              esc,
		diagnosticThreshold:    cfg.DiagnosticAttemptThreshold,
		clarificationThreshold: cfg.ClarificationFailThreshold,
	}
}

// handlerFunc is one stage's logic: given the record (mutable in place)
// and the turn's input, compute the reply and the next stage.
type handlerFunc func(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error)

// Step runs one full turn: validates the stage, dispatches to the
// stage's handler, verifies the resulting transition, and returns the
// reply plus the system events to append alongside the user/bot turn
// events (the caller owns appending the user/bot events themselves).
func (e *Engine) Step(ctx context.Context, rec *store.Record, in Input) (Reply, []store.Event, error) {
	var events []store.Event

	stage := rec.Stage
	if isTerminal(stage) {
		return e.handleTerminal(rec), events, nil
	}

	if _, known := dispatchTable[stage]; !known {
		events = append(events, store.System(in.Now, store.EventStageChanged, map[string]any{
			"from": stage, "to": "ASK_CONSENT", "reason": "stage_invalid",
		}))
		stage = "ASK_CONSENT"
		rec.Stage = stage
	}

	if press := in.Button; press != nil && press.Token == buttons.TokenConnectTech {
		return e.triggerEscalation(ctx, rec, "user_requested", in, events)
	}

	handler := dispatchTable[stage]
	reply, next, handlerEvents, err := handler(ctx, e, rec, in)
	if err != nil {
		return Reply{}, nil, err
	}
	events = append(events, handlerEvents...)

	if next != "" && next != stage {
		if !transitionAllowed(stage, next) {
			events = append(events, store.System(in.Now, "TRANSITION_CLAMPED", map[string]any{
				"attempted_from": stage, "attempted_to": next,
			}))
			next = stage
		} else {
			events = append(events, store.System(in.Now, store.EventStageChanged, map[string]any{
				"from": stage, "to": next,
			}))
		}
	}
	if next != "" {
		rec.Stage = next
	}

	return reply, events, nil
}

// Opening returns the greeting turn for a brand-new conversation, before
// any user input has been received. It does not mutate rec or dispatch
// through the stage table — rec.Stage is expected to already be
// "ASK_CONSENT" (store.New's default).
func (e *Engine) Opening(rec *store.Record) Reply {
	return Reply{
		Text:    "¡Hola! Soy el asistente de soporte técnico. ¿Querés que te ayude a resolver un problema con tu equipo?",
		Buttons: e.enforcer.Defaults("ASK_CONSENT"),
	}
}

func (e *Engine) handleTerminal(rec *store.Record) Reply {
	return Reply{
		Text:    terminalMessage(rec),
		Buttons: e.enforcer.Defaults(rec.Stage),
	}
}

func terminalMessage(rec *store.Record) string {
	if rec.Status == store.StatusEscalated {
		return "Tu consulta ya fue derivada a un técnico. Te vamos a contactar por el canal indicado."
	}
	return "Gracias por contactarnos. ¡Que tengas un buen día!"
}

func isTerminal(stage string) bool {
	return stage == "ENDED"
}

func (e *Engine) triggerEscalation(ctx context.Context, rec *store.Record, reason string, in Input, events []store.Event) (Reply, []store.Event, error) {
	if rec.Status == store.StatusEscalated {
		return Reply{
			Text:    "Ya derivamos tu consulta a un técnico, te va a contactar a la brevedad.",
			Buttons: e.enforcer.Defaults("ENDED"),
		}, events, nil
	}

	contactURL, err := e.escalator.Escalate(ctx, rec, reason)
	if err != nil {
		return Reply{}, nil, fmt.Errorf("fsm: escalate: %w", err)
	}

	rec.Status = store.StatusEscalated
	events = append(events, store.System(in.Now, store.EventEscalated, map[string]any{"reason": reason}))
	events = append(events, store.System(in.Now, store.EventStageChanged, map[string]any{
		"from": rec.Stage, "to": "ENDED", "reason": "escalated",
	}))
	rec.Stage = "ENDED"

	return Reply{
		Text:    fmt.Sprintf("Te derivamos con un técnico humano. Continuá la conversación acá: %s", contactURL),
		Buttons: e.enforcer.Defaults("ENDED"),
	}, events, nil
}
