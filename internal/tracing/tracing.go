// Package tracing records LLM-call spans for forensic/debugging
// purposes, independent of the durable conversation transcript (see
// internal/store). It is deliberately small: a bounded in-memory ring
// per process, not a distributed tracing backend — there is no
// OpenTelemetry collector in this deployment's footprint.
package tracing

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SpanType identifies what a span represents.
type SpanType string

const (
	SpanTypeLLMCall SpanType = "llm_call"
	SpanTypeAgent   SpanType = "turn"
)

// Status is a span's terminal outcome.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Span is one recorded unit of work.
type Span struct {
	ID             uuid.UUID  `json:"id"`
	TraceID        uuid.UUID  `json:"trace_id"`
	ConversationID string     `json:"conversation_id"`
	SpanType       SpanType   `json:"span_type"`
	Name           string     `json:"name"`
	StartTime      time.Time  `json:"start_time"`
	EndTime        time.Time  `json:"end_time"`
	DurationMS     int64      `json:"duration_ms"`
	Model          string     `json:"model,omitempty"`
	Status         Status     `json:"status"`
	Error          string     `json:"error,omitempty"`
	ParentSpanID   *uuid.UUID `json:"parent_span_id,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// defaultCapacity bounds memory use; the store is a debugging aid, not
// an audit trail (the transcript in internal/store is authoritative).
const defaultCapacity = 2000

// Collector is a bounded, process-local span buffer.
type Collector struct {
	mu       sync.Mutex
	spans    []Span
	capacity int
}

// NewCollector returns a Collector holding at most capacity spans,
// evicting the oldest once full. capacity <= 0 uses defaultCapacity.
func NewCollector(capacity int) *Collector {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Collector{capacity: capacity}
}

// Emit appends span, evicting the oldest entry if at capacity.
func (c *Collector) Emit(span Span) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spans = append(c.spans, span)
	if len(c.spans) > c.capacity {
		c.spans = c.spans[len(c.spans)-c.capacity:]
	}
}

// Recent returns up to n most recent spans for conversationID (all
// spans if conversationID is empty), newest first.
func (c *Collector) Recent(conversationID string, n int) []Span {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Span
	for i := len(c.spans) - 1; i >= 0 && len(out) < n; i-- {
		if conversationID == "" || c.spans[i].ConversationID == conversationID {
			out = append(out, c.spans[i])
		}
	}
	return out
}

// Len reports how many spans are currently buffered.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.spans)
}

// Recorder adapts a Collector to llm.SpanRecorder for one conversation,
// so callers deep in the FSM don't need to thread a conversation ID
// through every gateway call.
type Recorder struct {
	collector      *Collector
	conversationID string
	traceID        uuid.UUID
}

// NewRecorder returns a Recorder that tags every emitted span with
// conversationID and a single traceID shared by every call made through
// this Recorder.
func NewRecorder(c *Collector, conversationID string) *Recorder {
	return &Recorder{collector: c, conversationID: conversationID, traceID: uuid.New()}
}

// RecordLLMCall implements llm.SpanRecorder.
func (r *Recorder) RecordLLMCall(name string, start, end time.Time, model string, status string) {
	if r.collector == nil {
		return
	}
	st := StatusCompleted
	if status != "completed" {
		st = StatusError
	}
	r.collector.Emit(Span{
		ID:             uuid.New(),
		TraceID:        r.traceID,
		ConversationID: r.conversationID,
		SpanType:       SpanTypeLLMCall,
		Name:           name,
		StartTime:      start,
		EndTime:        end,
		DurationMS:     end.Sub(start).Milliseconds(),
		Model:          model,
		Status:         st,
		CreatedAt:      time.Now(),
	})
}
