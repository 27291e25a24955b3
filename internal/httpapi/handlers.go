package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/fsm"
	"github.com/mesadeayuda/conversa/internal/ids"
	"github.com/mesadeayuda/conversa/internal/store"
	"github.com/mesadeayuda/conversa/internal/tracing"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "status": "serving"})
}

// greetingRequest optionally carries a previously issued session_id so a
// retried /greeting call replays the same opening turn instead of
// minting a second in-memory session.
type greetingRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type greetingResponse struct {
	OK             bool             `json:"ok"`
	SessionID      string           `json:"session_id,omitempty"`
	ConversationID string           `json:"conversation_id,omitempty"`
	Stage          string           `json:"stage"`
	Reply          string           `json:"reply"`
	Buttons        []buttons.Button `json:"buttons"`
	RequestID      string           `json:"request_id"`
}

func (s *Server) handleGreeting(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	var req greetingRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrValidationFailed, "invalid JSON body", requestID)
			return
		}
	}

	if req.SessionID != "" {
		if rec, ok := s.sessions.get(req.SessionID); ok {
			s.respondWithCurrentTurn(w, rec, req.SessionID, requestID)
			return
		}
		if rec, err := s.cache.Get(req.SessionID); err == nil {
			s.respondWithCurrentTurn(w, rec, "", requestID)
			return
		}
	}

	now := time.Now().UTC()
	rec := store.New(flowVersion, now)
	sessionID := uuid.NewString()
	s.sessions.put(sessionID, rec)

	engine := s.newEngine("")
	reply := engine.Opening(rec)
	rec.Transcript = append(rec.Transcript, store.BotButtons(now, reply.Text, toButtonRefs(reply.Buttons)))

	s.telemetry.IncRequests()

	writeJSON(w, http.StatusOK, greetingResponse{
		OK:        true,
		SessionID: sessionID,
		Stage:     rec.Stage,
		Reply:     reply.Text,
		Buttons:   reply.Buttons,
		RequestID: requestID,
	})
}

func (s *Server) respondWithCurrentTurn(w http.ResponseWriter, rec *store.Record, sessionID, requestID string) {
	var lastBot *store.Event
	for i := len(rec.Transcript) - 1; i >= 0; i-- {
		if rec.Transcript[i].Role == store.RoleBot {
			lastBot = &rec.Transcript[i]
			break
		}
	}
	text := ""
	var refs []store.ButtonRef
	if lastBot != nil {
		text = lastBot.Text
		refs = lastBot.Buttons
	}
	writeJSON(w, http.StatusOK, greetingResponse{
		OK:             true,
		SessionID:      sessionID,
		ConversationID: rec.ConversationID,
		Stage:          rec.Stage,
		Reply:          text,
		Buttons:        fromButtonRefs(refs),
		RequestID:      requestID,
	})
}

// chatAction is the button-press half of chatRequest's union ("text" or
// "action", per spec.md §4.11).
type chatAction struct {
	Action string `json:"action"`
	Value  string `json:"value"`
	Label  string `json:"label"`
}

type chatRequest struct {
	ConversationID string      `json:"conversation_id,omitempty"`
	SessionID      string      `json:"session_id,omitempty"`
	RequestID      string      `json:"request_id"`
	Text           string      `json:"text,omitempty"`
	Action         *chatAction `json:"action,omitempty"`
	ImageBase64    string      `json:"image_base64,omitempty"`
}

type ticketRef struct {
	ConversationID string `json:"conversation_id"`
	ContactURL     string `json:"contact_url"`
}

type chatResponse struct {
	OK             bool             `json:"ok"`
	ConversationID string           `json:"conversation_id"`
	Stage          string           `json:"stage"`
	Reply          string           `json:"reply"`
	Buttons        []buttons.Button `json:"buttons"`
	End            bool             `json:"end"`
	Ticket         *ticketRef       `json:"ticket"`
	ImageURL       string           `json:"image_url,omitempty"`
	RequestID      string           `json:"request_id"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if isBodyTooLarge(err) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrPayloadTooLarge, "request body too large", requestID)
			return
		}
		writeError(w, http.StatusBadRequest, ErrValidationFailed, "invalid JSON body", requestID)
		return
	}

	if req.RequestID == "" {
		writeError(w, http.StatusBadRequest, ErrValidationFailed, "request_id is required", requestID)
		return
	}
	if strings.TrimSpace(req.Text) == "" && req.Action == nil {
		writeError(w, http.StatusBadRequest, ErrValidationFailed, "text or action is required", requestID)
		return
	}
	if req.ConversationID == "" && req.SessionID == "" {
		writeError(w, http.StatusBadRequest, ErrValidationFailed, "conversation_id or session_id is required", requestID)
		return
	}
	if req.ConversationID != "" && !ids.Valid(req.ConversationID) {
		writeError(w, http.StatusBadRequest, ErrValidationFailed, "malformed conversation_id", requestID)
		return
	}

	lockKey := req.ConversationID
	if lockKey == "" {
		lockKey = req.SessionID
	}

	var status int
	var payload []byte
	var code, message string

	err := s.locks.withLock(r.Context(), lockKey, lockTimeout, func() error {
		status, payload, code, message = s.processChatTurn(r.Context(), req, requestID)
		return nil
	})
	if errors.Is(err, ErrLockTimeout) {
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusServiceUnavailable, ErrConflict, "conversation is busy, retry shortly", requestID)
		return
	}
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, ErrInternal, "request cancelled", requestID)
		return
	}

	if payload != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(payload)
		return
	}
	writeError(w, status, code, message, requestID)
}

// processChatTurn runs inside the per-conversation lock: it resolves the
// record, checks idempotency, advances the FSM, and persists the result.
// It returns either a ready-to-write JSON payload, or an error code/message
// for the caller to format.
func (s *Server) processChatTurn(ctx context.Context, req chatRequest, requestID string) (status int, payload []byte, code, message string) {
	rec, pending, err := s.loadForChat(req)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return http.StatusNotFound, nil, ErrNotFound, "conversation not found"
		}
		return http.StatusInternalServerError, nil, ErrInternal, "failed to load conversation"
	}

	if cached, ok := rec.FindProcessedRequest(req.RequestID); ok {
		s.telemetry.IncIdempotentHits()
		return http.StatusOK, cached, "", ""
	}

	now := time.Now().UTC()
	in := fsm.Input{Now: now}

	if req.Action != nil {
		rec.Transcript = append(rec.Transcript, store.UserButton(now, req.Action.Label, req.Action.Value))
		in.Button = &fsm.ButtonPress{Token: req.Action.Value, Label: req.Action.Label, Value: req.Action.Value}
	} else {
		text := strings.TrimSpace(req.Text)
		rec.Transcript = append(rec.Transcript, store.UserText(now, text))
		in.Text = text
	}

	var imageURL string
	if req.ImageBase64 != "" {
		if rec.ConversationID == "" {
			return http.StatusBadRequest, nil, ErrValidationFailed, "images require an assigned conversation"
		}
		stored, err := s.images.Accept(rec.ConversationID, req.ImageBase64)
		if err != nil {
			s.telemetry.IncImagesRejected()
			return http.StatusBadRequest, nil, ErrValidationFailed, "invalid image payload"
		}
		s.telemetry.IncImagesAccepted()

		imageURL = "/images/" + rec.ConversationID + "/" + filepath.Base(stored.Path)
		rec.Transcript = append(rec.Transcript, store.ImageShared(now, imageURL, stored.Width, stored.Height))
	}

	if s.isLLMGovernedStage(rec.Stage) && !s.llmLimiter.Allow(lockKeyFor(rec, req)) {
		return http.StatusTooManyRequests, nil, ErrRateLimited, "too many LLM calls for this conversation, slow down"
	}

	prevStatus := rec.Status
	engine := s.newEngine(rec.ConversationID)
	reply, events, stepErr := engine.Step(ctx, rec, in)
	if stepErr != nil {
		return http.StatusInternalServerError, nil, ErrInternal, "failed to process turn"
	}
	rec.Transcript = append(rec.Transcript, events...)
	rec.Transcript = append(rec.Transcript, store.BotButtons(now, reply.Text, toButtonRefs(reply.Buttons)))

	s.telemetry.IncChatTurns()
	for _, ev := range events {
		if ev.Name == store.EventFallbackUsed {
			s.telemetry.IncFallbacks()
		}
	}
	if rec.Status == store.StatusEscalated && prevStatus != store.StatusEscalated {
		s.telemetry.IncEscalations()
	}

	var ticket *ticketRef
	if rec.Status == store.StatusEscalated && s.escalation != nil {
		if t, err := s.escalation.Get(rec.ConversationID); err == nil {
			ticket = &ticketRef{ConversationID: t.ConversationID, ContactURL: t.ContactURL}
		}
	}

	resp := chatResponse{
		OK:             true,
		ConversationID: rec.ConversationID,
		Stage:          rec.Stage,
		Reply:          reply.Text,
		Buttons:        reply.Buttons,
		End:            rec.Stage == "ENDED",
		Ticket:         ticket,
		ImageURL:       imageURL,
		RequestID:      requestID,
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return http.StatusInternalServerError, nil, ErrInternal, "failed to encode response"
	}
	rec.RememberRequest(req.RequestID, body)

	if err := s.persistAfterChat(rec, pending, req); err != nil {
		return http.StatusInternalServerError, nil, ErrInternal, "failed to persist conversation"
	}

	return http.StatusOK, body, "", ""
}

// loadForChat resolves the record to mutate for this turn, reporting
// whether it is still a pre-ID pending session.
func (s *Server) loadForChat(req chatRequest) (rec *store.Record, pending bool, err error) {
	if req.ConversationID != "" {
		rec, err = s.cache.Get(req.ConversationID)
		return rec, false, err
	}
	if rec, ok := s.sessions.get(req.SessionID); ok {
		return rec, true, nil
	}
	return nil, false, store.ErrNotFound
}

// persistAfterChat writes rec back to durable storage. A pending
// (pre-ID) session is promoted into the store exactly once it has been
// assigned a conversation_id; until then it stays in-memory only,
// honoring the "no bot turn persists before CONVERSATION_ID_ASSIGNED"
// invariant.
func (s *Server) persistAfterChat(rec *store.Record, wasPending bool, req chatRequest) error {
	if rec.ConversationID == "" {
		return nil
	}
	if wasPending {
		s.sessions.delete(req.SessionID)
	}
	return s.cache.Put(rec)
}

func lockKeyFor(rec *store.Record, req chatRequest) string {
	if rec.ConversationID != "" {
		return rec.ConversationID
	}
	return req.SessionID
}

// isLLMGovernedStage reports whether stage's handler may call the LLM
// Gateway, for the purposes of the per-conversation call budget.
func (s *Server) isLLMGovernedStage(stage string) bool {
	switch stage {
	case "ASK_PROBLEM", "ASK_PROBLEM_CLARIFICATION", "DIAGNOSTIC_STEP", "INSTALLATION_STEP", "GUIDED_STORY", "RISK_CONFIRMATION", "EMOTIONAL_RELEASE":
		return true
	default:
		return false
	}
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	id := r.PathValue("id")

	if !ids.Valid(id) {
		writeError(w, http.StatusBadRequest, ErrValidationFailed, "malformed conversation id", requestID)
		return
	}

	// Acquire the same per-conversation lock /chat uses: a read here must
	// not interleave with a concurrent processChatTurn mutating this
	// conversation's record.
	var rec *store.Record
	var loadErr error
	err := s.locks.withLock(r.Context(), id, lockTimeout, func() error {
		rec, loadErr = s.cache.Get(id)
		return nil
	})
	if errors.Is(err, ErrLockTimeout) {
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusServiceUnavailable, ErrConflict, "conversation is busy, retry shortly", requestID)
		return
	}
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, ErrInternal, "request cancelled", requestID)
		return
	}
	if loadErr != nil {
		if errors.Is(loadErr, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrNotFound, "conversation not found", requestID)
			return
		}
		writeError(w, http.StatusInternalServerError, ErrInternal, "failed to load conversation", requestID)
		return
	}

	s.respondWithCurrentTurn(w, rec, "", requestID)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	id := r.PathValue("id")
	file := r.PathValue("file")

	if !ids.Valid(id) || strings.Contains(file, "..") || strings.ContainsAny(file, "/\\") {
		writeError(w, http.StatusBadRequest, ErrValidationFailed, "invalid image reference", requestID)
		return
	}

	path := s.images.PathFor(id, file)
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, ErrNotFound, "image not found", requestID)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, file, time.Time{}, f)
}

type traceResponse struct {
	OK    bool           `json:"ok"`
	Spans []tracing.Span `json:"spans"`
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	id := r.PathValue("id")

	if !ids.Valid(id) {
		writeError(w, http.StatusBadRequest, ErrValidationFailed, "malformed conversation id", requestID)
		return
	}
	if s.tracing == nil {
		writeJSON(w, http.StatusOK, traceResponse{OK: true, Spans: nil})
		return
	}
	writeJSON(w, http.StatusOK, traceResponse{OK: true, Spans: s.tracing.Recent(id, 200)})
}

type historialResponse struct {
	OK             bool          `json:"ok"`
	ConversationID string        `json:"conversation_id"`
	Status         store.Status  `json:"status"`
	Transcript     []store.Event `json:"transcript"`
}

func (s *Server) handleHistorial(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r.Context())
	id := r.PathValue("id")

	if !ids.Valid(id) {
		writeError(w, http.StatusBadRequest, ErrValidationFailed, "malformed conversation id", requestID)
		return
	}

	// Same reasoning as handleResume: without the lock, this read can
	// race a concurrent /chat turn mutating rec.Transcript in place.
	var rec *store.Record
	var loadErr error
	err := s.locks.withLock(r.Context(), id, lockTimeout, func() error {
		rec, loadErr = s.cache.Get(id)
		return nil
	})
	if errors.Is(err, ErrLockTimeout) {
		w.Header().Set("Retry-After", "2")
		writeError(w, http.StatusServiceUnavailable, ErrConflict, "conversation is busy, retry shortly", requestID)
		return
	}
	if err != nil {
		writeError(w, http.StatusGatewayTimeout, ErrInternal, "request cancelled", requestID)
		return
	}
	if loadErr != nil {
		if errors.Is(loadErr, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrNotFound, "conversation not found", requestID)
			return
		}
		writeError(w, http.StatusInternalServerError, ErrInternal, "failed to load conversation", requestID)
		return
	}

	writeJSON(w, http.StatusOK, historialResponse{
		OK:             true,
		ConversationID: rec.ConversationID,
		Status:         rec.Status,
		Transcript:     rec.Transcript,
	})
}

func toButtonRefs(btns []buttons.Button) []store.ButtonRef {
	refs := make([]store.ButtonRef, len(btns))
	for i, b := range btns {
		refs[i] = store.ButtonRef{Token: b.Token, Label: b.Label, Order: b.Order}
	}
	return refs
}

func fromButtonRefs(refs []store.ButtonRef) []buttons.Button {
	btns := make([]buttons.Button, len(refs))
	for i, r := range refs {
		btns[i] = buttons.Button{Token: r.Token, Label: r.Label, Order: r.Order}
	}
	return btns
}

func isBodyTooLarge(err error) bool {
	return err != nil && strings.Contains(err.Error(), "http: request body too large")
}
