package fsm

import (
	"context"
	"fmt"
	"strings"

	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/store"
)

func pressed(in Input, token string) bool {
	return in.Button != nil && in.Button.Token == token
}

func handleAskConsent(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	if pressed(in, buttons.TokenConsentNo) {
		return Reply{
			Text:    "Entendido, no vamos a continuar. ¡Que tengas un buen día!",
			Buttons: e.enforcer.Defaults("ENDED"),
		}, "ENDED", nil, nil
	}

	return Reply{
		Text:    "¡Hola! Para ayudarte, primero elegí tu idioma preferido.",
		Buttons: e.enforcer.Defaults("ASK_LANGUAGE"),
	}, "ASK_LANGUAGE", nil, nil
}

func handleAskLanguage(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	switch {
	case pressed(in, buttons.TokenLangESAR):
		rec.Language = "es-AR"
	case pressed(in, buttons.TokenLangEN):
		rec.Language = "en"
	default:
		return Reply{
			Text:    "Por favor, elegí una de las opciones de idioma.",
			Buttons: e.enforcer.Defaults("ASK_LANGUAGE"),
		}, "", nil, nil
	}

	id, err := e.ids.Reserve()
	if err != nil {
		return Reply{}, "", nil, fmt.Errorf("fsm: reserve conversation id: %w", err)
	}
	rec.ConversationID = id

	events := []store.Event{store.System(in.Now, store.EventConversationIDAssigned, map[string]any{
		"conversation_id": id,
	})}

	return Reply{
		Text:    fmt.Sprintf("Perfecto. Tu número de conversación es %s. ¿Cómo te llamás?", id),
		Buttons: e.enforcer.Defaults("ASK_NAME"),
	}, "ASK_NAME", events, nil
}

func handleAskName(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	name := strings.TrimSpace(in.Text)
	if name == "" {
		return Reply{Text: "¿Cómo te llamás?"}, "", nil, nil
	}
	rec.User.DisplayName = name

	return Reply{
		Text:    fmt.Sprintf("Un gusto, %s. ¿Cómo describirías tu nivel técnico?", name),
		Buttons: e.enforcer.Defaults("ASK_USER_LEVEL"),
	}, "ASK_USER_LEVEL", nil, nil
}

func handleAskUserLevel(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	switch {
	case pressed(in, buttons.TokenUserLevelBasic):
		rec.UserLevel = store.UserLevelBasic
	case pressed(in, buttons.TokenUserLevelInter):
		rec.UserLevel = store.UserLevelIntermediate
	case pressed(in, buttons.TokenUserLevelAdv):
		rec.UserLevel = store.UserLevelAdvanced
	default:
		return Reply{
			Text:    "Elegí tu nivel técnico de las opciones.",
			Buttons: e.enforcer.Defaults("ASK_USER_LEVEL"),
		}, "", nil, nil
	}

	return Reply{
		Text:    "¿Con qué tipo de equipo tenés el problema?",
		Buttons: e.enforcer.Defaults("ASK_DEVICE_CATEGORY"),
	}, "ASK_DEVICE_CATEGORY", nil, nil
}

func handleAskDeviceCategory(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	switch {
	case pressed(in, buttons.TokenDeviceNotebook):
		rec.Context.DeviceCategory = "notebook"
		return Reply{Text: "¿Qué modelo o marca es?"}, "ASK_DEVICE_TYPE_MAIN", nil, nil
	case pressed(in, buttons.TokenDeviceDesktop):
		rec.Context.DeviceCategory = "desktop"
		return Reply{Text: "¿Qué modelo o marca es?"}, "ASK_DEVICE_TYPE_MAIN", nil, nil
	case pressed(in, buttons.TokenDeviceExternal):
		rec.Context.DeviceCategory = "external"
		return Reply{Text: "¿Qué dispositivo externo es?"}, "ASK_DEVICE_TYPE_EXTERNAL", nil, nil
	default:
		return Reply{
			Text:    "Elegí el tipo de equipo de las opciones.",
			Buttons: e.enforcer.Defaults("ASK_DEVICE_CATEGORY"),
		}, "", nil, nil
	}
}

func handleAskDeviceTypeMain(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	if strings.TrimSpace(in.Text) == "" {
		return Reply{Text: "¿Qué modelo o marca es?"}, "", nil, nil
	}
	rec.Context.DeviceType = strings.TrimSpace(in.Text)
	return Reply{
		Text:    "Contame qué problema estás teniendo.",
		Buttons: e.enforcer.Defaults("ASK_PROBLEM"),
	}, "ASK_PROBLEM", nil, nil
}

func handleAskDeviceTypeExternal(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	if strings.TrimSpace(in.Text) == "" {
		return Reply{Text: "¿Qué dispositivo externo es?"}, "", nil, nil
	}
	rec.Context.DeviceType = strings.TrimSpace(in.Text)
	return Reply{
		Text:    "Contame qué problema estás teniendo.",
		Buttons: e.enforcer.Defaults("ASK_PROBLEM"),
	}, "ASK_PROBLEM", nil, nil
}

func handleAskInteractionMode(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	rec.Modes.InteractionMode = pressed(in, buttons.TokenYes)
	return Reply{
		Text:    "¿Querés que te explique en detalle por qué pasa esto?",
		Buttons: e.enforcer.Defaults("ASK_LEARNING_DEPTH"),
	}, "ASK_LEARNING_DEPTH", nil, nil
}

func handleAskLearningDepth(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	rec.Modes.LearningDepth = pressed(in, buttons.TokenYes)
	return Reply{
		Text:    "¿Preferís hacerlo vos mismo o que te guíe paso a paso?",
		Buttons: e.enforcer.Defaults("ASK_EXECUTOR_ROLE"),
	}, "ASK_EXECUTOR_ROLE", nil, nil
}

func handleAskExecutorRole(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	rec.Modes.ExecutorRole = pressed(in, buttons.TokenYes)
	return Reply{
		Text:    "Contame qué problema estás teniendo.",
		Buttons: e.enforcer.Defaults("ASK_PROBLEM"),
	}, "ASK_PROBLEM", nil, nil
}

func handleAskFeedback(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	switch {
	case pressed(in, buttons.TokenFeedbackGood):
		rec.Feedback = store.FeedbackPositive
	case pressed(in, buttons.TokenFeedbackBad):
		rec.Feedback = store.FeedbackNegative
	}
	rec.Status = store.StatusClosed
	return Reply{
		Text:    "¡Gracias por tu feedback! Que tengas un buen día.",
		Buttons: e.enforcer.Defaults("ENDED"),
	}, "ENDED", nil, nil
}

func handleContextResume(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	if pressed(in, buttons.TokenSolved) {
		return Reply{
			Text:    "¡Buenísimo que se solucionó! ¿Cómo calificarías la ayuda recibida?",
			Buttons: e.enforcer.Defaults("ASK_FEEDBACK"),
		}, "ASK_FEEDBACK", nil, nil
	}
	return Reply{Text: "Retomemos donde quedamos."}, "ASK_PROBLEM", nil, nil
}
