// Package store implements the Conversation Store: durable, append-only
// per-conversation records with atomic writes. It is the authoritative
// copy of conversation state — the session cache (internal/cache) is a
// write-through mirror, never the source of truth.
package store

import "time"

// CurrentSchemaVersion is the schema_version written to every new record.
const CurrentSchemaVersion = "2.0.0"

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusOpen       Status = "open"
	StatusEscalated  Status = "escalated"
	StatusClosed     Status = "closed"
)

// Feedback is the user's closing sentiment, if any.
type Feedback string

const (
	FeedbackNone     Feedback = "none"
	FeedbackPositive Feedback = "positive"
	FeedbackNegative Feedback = "negative"
)

// UserLevel is the user's self-reported technical proficiency.
type UserLevel string

const (
	UserLevelBasic        UserLevel = "basic"
	UserLevelIntermediate UserLevel = "intermediate"
	UserLevelAdvanced     UserLevel = "advanced"
)

// Record is the durable conversation document, keyed by ConversationID.
// Field layout matches spec.md §3.2.
type Record struct {
	ConversationID string `json:"conversation_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FlowVersion   string `json:"flow_version"`
	SchemaVersion string `json:"schema_version"`

	Language string   `json:"language"`
	Status   Status   `json:"status"`
	Feedback Feedback `json:"feedback"`

	User      UserInfo  `json:"user"`
	UserLevel UserLevel `json:"user_level,omitempty"`

	Context Context `json:"context"`
	Modes   Modes   `json:"modes"`

	Stage string `json:"stage"`

	// ProcessedRequestIDs is a bounded, oldest-evicted set of recent
	// client request_ids, used for idempotent /chat retries.
	ProcessedRequestIDs []ProcessedRequest `json:"processed_request_ids"`

	Transcript []Event `json:"transcript"`

	// LegacyIncompatible marks a record whose schema_version could not be
	// migrated; new turns route to a cold-start flow instead of touching it.
	LegacyIncompatible bool `json:"legacy_incompatible,omitempty"`
}

// Clone returns a deep copy of r, safe to hand to a caller that will
// mutate it independently of whatever holds r (spec.md §5: cache
// entries are not pointer-shared with in-flight handlers).
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r

	clone.Context.LastBotSteps = append([]string(nil), r.Context.LastBotSteps...)

	if r.ProcessedRequestIDs != nil {
		clone.ProcessedRequestIDs = make([]ProcessedRequest, len(r.ProcessedRequestIDs))
		for i, pr := range r.ProcessedRequestIDs {
			clone.ProcessedRequestIDs[i] = ProcessedRequest{
				RequestID: pr.RequestID,
				Response:  append([]byte(nil), pr.Response...),
			}
		}
	}

	if r.Transcript != nil {
		clone.Transcript = make([]Event, len(r.Transcript))
		for i, ev := range r.Transcript {
			clone.Transcript[i] = ev.clone()
		}
	}

	return &clone
}

const processedRequestCap = 32

// RememberRequest records a client request_id with its serialized response,
// evicting the oldest entry once the bounded set is full.
func (r *Record) RememberRequest(requestID string, response []byte) {
	for _, pr := range r.ProcessedRequestIDs {
		if pr.RequestID == requestID {
			return
		}
	}
	r.ProcessedRequestIDs = append(r.ProcessedRequestIDs, ProcessedRequest{
		RequestID: requestID,
		Response:  response,
	})
	if len(r.ProcessedRequestIDs) > processedRequestCap {
		r.ProcessedRequestIDs = r.ProcessedRequestIDs[len(r.ProcessedRequestIDs)-processedRequestCap:]
	}
}

// FindProcessedRequest returns the stored response for a previously
// processed request_id, if any.
func (r *Record) FindProcessedRequest(requestID string) ([]byte, bool) {
	if requestID == "" {
		return nil, false
	}
	for _, pr := range r.ProcessedRequestIDs {
		if pr.RequestID == requestID {
			return pr.Response, true
		}
	}
	return nil, false
}

// ProcessedRequest is one idempotency-cache entry.
type ProcessedRequest struct {
	RequestID string `json:"request_id"`
	Response  []byte `json:"response"`
}

// UserInfo is the partial identity carried by a conversation.
type UserInfo struct {
	DisplayName string `json:"display_name,omitempty"`
}

// Context is the FSM's working memory for one conversation.
type Context struct {
	DeviceCategory       string `json:"device_category,omitempty"`
	DeviceType           string `json:"device_type,omitempty"`
	ProblemDescription   string `json:"problem_description,omitempty"`
	ProblemCategory      string `json:"problem_category,omitempty"`
	LastDiagnosticStep   string `json:"last_diagnostic_step,omitempty"`
	ClarificationAttempts int   `json:"clarification_attempts,omitempty"`
	DiagnosticAttempts    int   `json:"diagnostic_attempts,omitempty"`
	RiskSummaryShown      bool  `json:"risk_summary_shown,omitempty"`
	LastBotSteps          []string `json:"last_bot_steps,omitempty"`
	LastButtonResult       string  `json:"last_button_result,omitempty"`
	ConnectivitySubstage   string  `json:"connectivity_substage,omitempty"`
	ConnectivityWifi       bool    `json:"connectivity_wifi,omitempty"`
	ConnectivityRetries    int     `json:"connectivity_retries,omitempty"`
}

// Modes holds cross-cutting conversation toggles.
type Modes struct {
	EmotionalReleaseUsed bool `json:"emotional_release_used,omitempty"`
	AdvisoryMode         bool `json:"advisory_mode,omitempty"`
	TechFormat           bool `json:"tech_format,omitempty"`
	InteractionMode      bool `json:"interaction_mode,omitempty"`
	LearningDepth        bool `json:"learning_depth,omitempty"`
	ExecutorRole         bool `json:"executor_role,omitempty"`
}

// New returns a freshly created, pre-ID-assignment conversation record.
// flowVersion identifies the FSM/stage catalog version in force.
func New(flowVersion string, now time.Time) *Record {
	return &Record{
		CreatedAt:     now,
		UpdatedAt:     now,
		FlowVersion:   flowVersion,
		SchemaVersion: CurrentSchemaVersion,
		Language:      "es-AR",
		Status:        StatusOpen,
		Feedback:      FeedbackNone,
		Stage:         "ASK_CONSENT",
	}
}
