// Package telemetry is a small in-process counter registry, incremented
// by the HTTP handlers; no HTTP route serves its Snapshot. It is not a
// Prometheus exporter — there's no
// such dependency in this deployment's stack — just the numbers the
// rest of the codebase's slog lines already imply are worth counting:
// requests, fallbacks, escalations.
package telemetry

import "sync/atomic"

// Registry holds a fixed, known set of named counters. Counters are
// pre-declared rather than created ad hoc by name, so a typo in a
// counter name fails at compile time instead of silently going missing.
type Registry struct {
	requestsTotal       atomic.Int64
	chatTurnsTotal      atomic.Int64
	fallbacksTotal      atomic.Int64
	escalationsTotal    atomic.Int64
	idempotentHitsTotal atomic.Int64
	imagesAcceptedTotal atomic.Int64
	imagesRejectedTotal atomic.Int64
}

// New returns a zeroed Registry.
func New() *Registry {
	return &Registry{}
}

func (r *Registry) IncRequests()       { r.requestsTotal.Add(1) }
func (r *Registry) IncChatTurns()      { r.chatTurnsTotal.Add(1) }
func (r *Registry) IncFallbacks()      { r.fallbacksTotal.Add(1) }
func (r *Registry) IncEscalations()    { r.escalationsTotal.Add(1) }
func (r *Registry) IncIdempotentHits() { r.idempotentHitsTotal.Add(1) }
func (r *Registry) IncImagesAccepted() { r.imagesAcceptedTotal.Add(1) }
func (r *Registry) IncImagesRejected() { r.imagesRejectedTotal.Add(1) }

// Snapshot is a point-in-time read of every counter, with JSON tags for
// encoding.
type Snapshot struct {
	RequestsTotal       int64 `json:"requests_total"`
	ChatTurnsTotal      int64 `json:"chat_turns_total"`
	FallbacksTotal      int64 `json:"fallbacks_total"`
	EscalationsTotal    int64 `json:"escalations_total"`
	IdempotentHitsTotal int64 `json:"idempotent_hits_total"`
	ImagesAcceptedTotal int64 `json:"images_accepted_total"`
	ImagesRejectedTotal int64 `json:"images_rejected_total"`
}

// Snapshot returns the current value of every counter.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		RequestsTotal:       r.requestsTotal.Load(),
		ChatTurnsTotal:      r.chatTurnsTotal.Load(),
		FallbacksTotal:      r.fallbacksTotal.Load(),
		EscalationsTotal:    r.escalationsTotal.Load(),
		IdempotentHitsTotal: r.idempotentHitsTotal.Load(),
		ImagesAcceptedTotal: r.imagesAcceptedTotal.Load(),
		ImagesRejectedTotal: r.imagesRejectedTotal.Load(),
	}
}
