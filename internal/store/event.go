package store

import "time"

// Role identifies who produced a transcript event.
type Role string

const (
	RoleUser   Role = "user"
	RoleBot    Role = "bot"
	RoleSystem Role = "system"
)

// Kind further narrows the event within a role.
type Kind string

const (
	KindText    Kind = "text"
	KindButton  Kind = "button"
	KindButtons Kind = "buttons"
	KindEvent   Kind = "event"
)

// System event names (spec.md §3.3).
const (
	EventStageChanged          = "STAGE_CHANGED"
	EventConversationIDAssigned = "CONVERSATION_ID_ASSIGNED"
	EventIACallStart           = "IA_CALL_START"
	EventIACallPayloadSummary  = "IA_CALL_PAYLOAD_SUMMARY"
	EventIACallResultRaw       = "IA_CALL_RESULT_RAW"
	EventIAClassifierResult    = "IA_CLASSIFIER_RESULT"
	EventIAStepResult          = "IA_STEP_RESULT"
	EventIACallValidationFail  = "IA_CALL_VALIDATION_FAIL"
	EventFallbackUsed          = "FALLBACK_USED"
	EventRiskSummaryShown      = "RISK_SUMMARY_SHOWN"
	EventEscalated             = "ESCALATED"
	EventImageShared           = "IMAGE_SHARED"
)

// ButtonRef is a button as it appears on a transcript turn.
type ButtonRef struct {
	Token string `json:"token"`
	Label string `json:"label"`
	Order int    `json:"order"`
}

// Event is one immutable, append-only transcript entry. It is
// polymorphic over Role/Kind the way spec.md §3.3 describes; Go encodes
// the sum type as one struct with a discriminator pair (Role, Kind) and
// tag-specific optional fields, rather than an interface hierarchy.
type Event struct {
	T    time.Time `json:"t"`
	Role Role      `json:"role"`
	Kind Kind      `json:"kind"`

	// user/bot text
	Text string `json:"text,omitempty"`

	// user button press
	Label string `json:"label,omitempty"`
	Value string `json:"value,omitempty"`

	// bot buttons offered
	Buttons []ButtonRef `json:"buttons,omitempty"`

	// system event
	Name    string          `json:"name,omitempty"`
	Payload map[string]any  `json:"payload,omitempty"`
}

// UserText builds a user text event.
func UserText(t time.Time, text string) Event {
	return Event{T: t, Role: RoleUser, Kind: KindText, Text: text}
}

// UserButton builds a user button-press event.
func UserButton(t time.Time, label, value string) Event {
	return Event{T: t, Role: RoleUser, Kind: KindButton, Label: label, Value: value}
}

// BotText builds a bot text-only event.
func BotText(t time.Time, text string) Event {
	return Event{T: t, Role: RoleBot, Kind: KindText, Text: text}
}

// BotButtons builds a bot reply-with-buttons event.
func BotButtons(t time.Time, text string, buttons []ButtonRef) Event {
	return Event{T: t, Role: RoleBot, Kind: KindButtons, Text: text, Buttons: buttons}
}

// System builds a system trace event.
func System(t time.Time, name string, payload map[string]any) Event {
	return Event{T: t, Role: RoleSystem, Kind: KindEvent, Name: name, Payload: payload}
}

// ImageShared builds an event recording an accepted image upload, so the
// transcript carries a reference to what handleImage later serves.
func ImageShared(t time.Time, url string, width, height int) Event {
	return Event{T: t, Role: RoleUser, Kind: KindEvent, Name: EventImageShared, Payload: map[string]any{
		"url":    url,
		"width":  width,
		"height": height,
	}}
}

// clone returns a deep copy of ev, so a cache's Transcript slice never
// shares Buttons/Payload with whatever holds the original.
func (ev Event) clone() Event {
	c := ev
	if ev.Buttons != nil {
		c.Buttons = append([]ButtonRef(nil), ev.Buttons...)
	}
	if ev.Payload != nil {
		c.Payload = make(map[string]any, len(ev.Payload))
		for k, v := range ev.Payload {
			c.Payload[k] = v
		}
	}
	return c
}
