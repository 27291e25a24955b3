package httpapi

import (
	"sync"

	"github.com/mesadeayuda/conversa/internal/store"
)

// flowVersion tags every record created by this deployment's FSM/stage
// catalog. Bump it when the stage graph changes shape.
const flowVersion = "1.0.0"

// pendingSessions holds conversations that exist only in memory, before
// the FSM has reserved a conversation_id (spec.md §3.1, §8 invariant 6:
// no bot turn persists before CONVERSATION_ID_ASSIGNED). Keyed by the
// opaque session_id that handleGreeting generates and the client sends
// back.
type pendingSessions struct {
	mu    sync.Mutex
	byID  map[string]*store.Record
}

func newPendingSessions() *pendingSessions {
	return &pendingSessions{byID: make(map[string]*store.Record)}
}

func (p *pendingSessions) put(sessionID string, rec *store.Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byID[sessionID] = rec
}

func (p *pendingSessions) get(sessionID string) (*store.Record, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.byID[sessionID]
	return rec, ok
}

func (p *pendingSessions) delete(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byID, sessionID)
}
