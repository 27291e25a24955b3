// Package llm implements the LLM Gateway: a timeout- and retry-bounded
// completion call with span emission, sitting between the FSM's
// LLM-governed stages (internal/classifier, internal/stepgen) and a
// concrete model provider.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when a completion does not finish within the
// caller's configured timeout.
var ErrTimeout = errors.New("llm: call timed out")

// Message is one turn in a completion request.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
	Images  []Image
}

// Image is a base64-encoded image attached to a user message.
type Image struct {
	MimeType string
	Data     string
}

// Request is one completion call.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Response is a completion result.
type Response struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Provider is the minimal surface a concrete model backend must
// implement. Gateway wraps it with timeout, retry, and span emission;
// providers themselves stay dumb transport.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// SpanRecorder receives one record per Complete call, spanning every
// attempt that call made (including a retry). Implementations
// typically forward into internal/tracing; nil is a valid no-op recorder.
type SpanRecorder interface {
	RecordLLMCall(name string, start, end time.Time, model string, status string)
}

// Gateway wraps a Provider with a bounded timeout, a single retry on
// transient failure, and span emission.
type Gateway struct {
	provider Provider
	timeout  time.Duration
	recorder SpanRecorder
	retry    RetryPolicy
}

// New returns a Gateway over provider with the given per-call timeout.
// A nil recorder disables span emission.
func New(provider Provider, timeout time.Duration, recorder SpanRecorder) *Gateway {
	return &Gateway{
		provider: provider,
		timeout:  timeout,
		recorder: recorder,
		retry:    DefaultRetryPolicy(),
	}
}

// Complete issues req against the wrapped provider, retrying once on a
// transient error and enforcing the gateway's timeout via ctx.
func (g *Gateway) Complete(ctx context.Context, name string, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := RetryDo(ctx, g.retry, func() (*Response, error) {
		return g.provider.Complete(ctx, req)
	})
	end := time.Now()

	status := "completed"
	if err != nil {
		status = "failed"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = ErrTimeout
		}
	}
	if g.recorder != nil {
		g.recorder.RecordLLMCall(name, start, end, req.Model, status)
	}
	return resp, err
}
