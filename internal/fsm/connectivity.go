package fsm

import (
	"context"

	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/store"
)

// Connectivity substage names. The order here is the fixed diagnostic
// ordering guarantee (spec.md §4.7): connection type, device type,
// SSID visibility, peer device reachability, router box count, link
// lights, then an ordered power cycle.
const (
	substageWifiOrWired         = "wifi_or_wired"
	substageNotebookOrDesktop   = "notebook_or_desktop"
	substageSSIDVisible         = "ssid_visible"
	substageAnotherDeviceOnline = "another_device_online"
	substageOneOrTwoBoxes       = "one_or_two_boxes"
	substageLights              = "lights"
	substagePowerCycle          = "power_cycle"
)

const connectivityRetryLimit = 2

// connectivityStart resets the sub-FSM and asks the first question. It
// is invoked by handleAskProblem when the classifier routes a network
// intent into the deterministic connectivity flow.
func connectivityStart(e *Engine, rec *store.Record) (Reply, string, []store.Event, error) {
	rec.Context.ConnectivitySubstage = substageWifiOrWired
	rec.Context.ConnectivityRetries = 0
	return Reply{
		Text:    "Empecemos por lo básico: ¿te conectás por WiFi o por cable?",
		Buttons: connectivityButtons(buttons.TokenWifi, "WiFi", buttons.TokenWired, "Cable"),
	}, "CONNECTIVITY_FLOW", nil, nil
}

func handleConnectivityFlow(ctx context.Context, e *Engine, rec *store.Record, in Input) (Reply, string, []store.Event, error) {
	if pressed(in, buttons.TokenConnectTech) {
		return e.triggerEscalationInline(ctx, rec, "user_requested", in)
	}

	switch rec.Context.ConnectivitySubstage {
	case "", substageWifiOrWired:
		switch {
		case pressed(in, buttons.TokenWifi):
			rec.Context.ConnectivityWifi = true
			rec.Context.ConnectivitySubstage = substageNotebookOrDesktop
			return Reply{
				Text:    "¿Tu equipo es una notebook o una PC de escritorio?",
				Buttons: connectivityButtons(buttons.TokenDeviceNotebook, "Notebook", buttons.TokenDeviceDesktop, "Escritorio"),
			}, "CONNECTIVITY_FLOW", nil, nil
		case pressed(in, buttons.TokenWired):
			rec.Context.ConnectivityWifi = false
			rec.Context.ConnectivitySubstage = substageNotebookOrDesktop
			return Reply{
				Text:    "¿Tu equipo es una notebook o una PC de escritorio?",
				Buttons: connectivityButtons(buttons.TokenDeviceNotebook, "Notebook", buttons.TokenDeviceDesktop, "Escritorio"),
			}, "CONNECTIVITY_FLOW", nil, nil
		}
		return e.connectivityRetry(ctx, rec, "Elegí una de las opciones: WiFi o cable.",
			connectivityButtons(buttons.TokenWifi, "WiFi", buttons.TokenWired, "Cable"), in)

	case substageNotebookOrDesktop:
		if pressed(in, buttons.TokenDeviceNotebook) || pressed(in, buttons.TokenDeviceDesktop) {
			if rec.Context.ConnectivityWifi {
				rec.Context.ConnectivitySubstage = substageSSIDVisible
				return Reply{
					Text:    "¿Ves el nombre de tu red WiFi (SSID) en la lista de redes disponibles?",
					Buttons: connectivityButtons(buttons.TokenYes, "Sí", buttons.TokenNo, "No"),
				}, "CONNECTIVITY_FLOW", nil, nil
			}
			rec.Context.ConnectivitySubstage = substageAnotherDeviceOnline
			return Reply{
				Text:    "¿Tenés otro equipo conectado a la misma red que sí tiene internet?",
				Buttons: connectivityButtons(buttons.TokenYes, "Sí", buttons.TokenNo, "No"),
			}, "CONNECTIVITY_FLOW", nil, nil
		}
		return e.connectivityRetry(ctx, rec, "Elegí una de las opciones: notebook o escritorio.",
			connectivityButtons(buttons.TokenDeviceNotebook, "Notebook", buttons.TokenDeviceDesktop, "Escritorio"), in)

	case substageSSIDVisible:
		if pressed(in, buttons.TokenYes) || pressed(in, buttons.TokenNo) {
			rec.Context.ConnectivitySubstage = substageAnotherDeviceOnline
			return Reply{
				Text:    "¿Tenés otro equipo conectado a la misma red que sí tiene internet?",
				Buttons: connectivityButtons(buttons.TokenYes, "Sí", buttons.TokenNo, "No"),
			}, "CONNECTIVITY_FLOW", nil, nil
		}
		return e.connectivityRetry(ctx, rec, "Respondé sí o no.",
			connectivityButtons(buttons.TokenYes, "Sí", buttons.TokenNo, "No"), in)

	case substageAnotherDeviceOnline:
		if pressed(in, buttons.TokenYes) || pressed(in, buttons.TokenNo) {
			rec.Context.ConnectivitySubstage = substageOneOrTwoBoxes
			return Reply{
				Text:    "¿Tenés un solo equipo de red (router) o dos (módem y router separados)?",
				Buttons: connectivityButtons(buttons.TokenOneBox, "Uno", buttons.TokenTwoBoxes, "Dos"),
			}, "CONNECTIVITY_FLOW", nil, nil
		}
		return e.connectivityRetry(ctx, rec, "Respondé sí o no.",
			connectivityButtons(buttons.TokenYes, "Sí", buttons.TokenNo, "No"), in)

	case substageOneOrTwoBoxes:
		if pressed(in, buttons.TokenOneBox) || pressed(in, buttons.TokenTwoBoxes) {
			rec.Context.ConnectivitySubstage = substageLights
			return Reply{
				Text:    "Mirá las luces del equipo: ¿están encendidas y estables, o parpadean/apagadas?",
				Buttons: connectivityButtons(buttons.TokenLightsOn, "Encendidas", buttons.TokenLightsOff, "Apagadas/parpadean"),
			}, "CONNECTIVITY_FLOW", nil, nil
		}
		return e.connectivityRetry(ctx, rec, "Elegí una de las opciones: uno o dos equipos.",
			connectivityButtons(buttons.TokenOneBox, "Uno", buttons.TokenTwoBoxes, "Dos"), in)

	case substageLights:
		if pressed(in, buttons.TokenLightsOn) || pressed(in, buttons.TokenLightsOff) {
			rec.Context.ConnectivitySubstage = substagePowerCycle
			return Reply{
				Text:    powerCycleInstructions(rec),
				Buttons: connectivityButtons(buttons.TokenSolved, "Se solucionó", buttons.TokenPersist, "Sigue igual"),
			}, "CONNECTIVITY_FLOW", nil, nil
		}
		return e.connectivityRetry(ctx, rec, "Elegí una de las opciones sobre las luces.",
			connectivityButtons(buttons.TokenLightsOn, "Encendidas", buttons.TokenLightsOff, "Apagadas/parpadean"), in)

	case substagePowerCycle:
		if pressed(in, buttons.TokenSolved) {
			return Reply{
				Text:    "¡Buenísimo! ¿Cómo calificarías la ayuda recibida?",
				Buttons: e.enforcer.Defaults("ASK_FEEDBACK"),
			}, "ASK_FEEDBACK", nil, nil
		}
		if pressed(in, buttons.TokenPersist) {
			return e.triggerEscalationInline(ctx, rec, "multiple_attempts_failed", in)
		}
		return e.connectivityRetry(ctx, rec, "Contame si se solucionó o si sigue igual.",
			connectivityButtons(buttons.TokenSolved, "Se solucionó", buttons.TokenPersist, "Sigue igual"), in)
	}

	return connectivityStart(e, rec)
}

// connectivityRetry re-asks the current question up to
// connectivityRetryLimit times and escalates on the next unrecognised
// answer, bounding how long an unparseable answer can loop the sub-FSM.
func (e *Engine) connectivityRetry(ctx context.Context, rec *store.Record, prompt string, btns []buttons.Button, in Input) (Reply, string, []store.Event, error) {
	rec.Context.ConnectivityRetries++
	if rec.Context.ConnectivityRetries > connectivityRetryLimit {
		return e.triggerEscalationInline(ctx, rec, "multiple_attempts_failed", in)
	}
	return Reply{Text: prompt, Buttons: btns}, "", nil, nil
}

func powerCycleInstructions(rec *store.Record) string {
	if rec.Context.ConnectivityWifi {
		return "Hagamos un reinicio ordenado: apagá el módem y el router, esperá 30 segundos, " +
			"encendé primero el módem y esperá a que sus luces se estabilicen, luego encendé el router."
	}
	return "Hagamos un reinicio ordenado: apagá el módem y el router, esperá 30 segundos, " +
		"encendé primero el módem, esperá a que sus luces se estabilicen, encendé el router, " +
		"y por último revisá que el cable de red esté bien conectado en ambos extremos."
}

func connectivityButtons(tokenA, labelA, tokenB, labelB string) []buttons.Button {
	return []buttons.Button{
		{Token: tokenA, Label: labelA, Order: 1},
		{Token: tokenB, Label: labelB, Order: 2},
	}
}
