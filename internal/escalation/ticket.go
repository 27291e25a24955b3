// Package escalation implements the Escalation & Ticket Emitter:
// idempotent ticket creation and a pre-computed human-contact deep-link,
// built the same way internal/store and internal/ids persist records —
// write-temp-then-rename, never edited in place.
package escalation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mesadeayuda/conversa/internal/store"
)

// ErrNotFound is returned when no ticket exists for a conversation.
var ErrNotFound = errors.New("escalation: ticket not found")

// Ticket is the durable handover record (spec.md §3.5).
type Ticket struct {
	ConversationID    string    `json:"conversation_id"`
	CreatedAt         time.Time `json:"created_at"`
	User              string    `json:"user"`
	Problem           string    `json:"problem"`
	Reason            string    `json:"reason"`
	TranscriptPointer string    `json:"transcript_pointer"`
	ContactURL        string    `json:"contact_url"`
}

// Emitter mints tickets and persists them one-per-conversation.
type Emitter struct {
	dir        string
	contactURL string // e.g. "https://wa.me/5491100000000"
	publicBase string // e.g. "https://soporte.example.com"

	mu sync.Mutex
}

// New returns an Emitter that writes ticket JSON files under dir and
// builds contact deep-links against contactURL.
func New(dir, contactURL, publicBase string) (*Emitter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("escalation: create dir: %w", err)
	}
	return &Emitter{dir: dir, contactURL: contactURL, publicBase: publicBase}, nil
}

// Escalate implements fsm.Escalator. If rec is already escalated with an
// existing ticket, it returns that ticket's contact_url unchanged rather
// than minting a second ticket (spec.md §4.10 step 1).
func (em *Emitter) Escalate(ctx context.Context, rec *store.Record, reason string) (string, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	if existing, err := em.load(rec.ConversationID); err == nil {
		return existing.ContactURL, nil
	} else if !errors.Is(err, ErrNotFound) {
		return "", err
	}

	t := Ticket{
		ConversationID:    rec.ConversationID,
		CreatedAt:         time.Now(),
		User:              maskName(rec.User.DisplayName),
		Problem:           oneLineSummary(rec.Context.ProblemDescription),
		Reason:            reason,
		TranscriptPointer: fmt.Sprintf("%s/conversations/%s", em.publicBase, rec.ConversationID),
	}
	t.ContactURL = buildContactURL(em.contactURL, t.User, rec.ConversationID, t.Problem)

	if err := em.save(&t); err != nil {
		return "", err
	}
	return t.ContactURL, nil
}

// Get returns the ticket for conversationID, or ErrNotFound.
func (em *Emitter) Get(conversationID string) (*Ticket, error) {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.load(conversationID)
}

func (em *Emitter) path(conversationID string) string {
	return filepath.Join(em.dir, conversationID+".json")
}

func (em *Emitter) load(conversationID string) (*Ticket, error) {
	data, err := os.ReadFile(em.path(conversationID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("escalation: read ticket: %w", err)
	}
	var t Ticket
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("escalation: decode ticket: %w", err)
	}
	return &t, nil
}

func (em *Emitter) save(t *Ticket) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("escalation: encode ticket: %w", err)
	}

	tmp, err := os.CreateTemp(em.dir, t.ConversationID+"-*.tmp")
	if err != nil {
		return fmt.Errorf("escalation: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("escalation: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("escalation: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("escalation: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), em.path(t.ConversationID)); err != nil {
		return fmt.Errorf("escalation: rename into place: %w", err)
	}
	return nil
}

// buildContactURL implements spec.md §4.10's format:
// <CONTACT_URL_BASE><CONTACT_NUMBER>?text=<urlencoded body>.
// contactURL is expected to already combine base and number (e.g.
// "https://wa.me/5491100000000"); this function appends the query string.
func buildContactURL(contactURL, userMasked, conversationID, problem string) string {
	body := fmt.Sprintf("Hola, soy %s. Conversación %s. Problema: %s", userMasked, conversationID, problem)
	return contactURL + "?text=" + url.QueryEscape(body)
}

// maskName keeps only the first name and masks the rest, so the
// contact-URL query string (visible in logs, browser history, etc.)
// never carries a full name.
func maskName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Usuario"
	}
	parts := strings.Fields(name)
	if len(parts) == 1 {
		return parts[0]
	}
	return parts[0] + " " + strings.Repeat("*", len(parts[len(parts)-1]))
}

const maxSummaryLength = 140

// oneLineSummary collapses a free-text problem description to a single
// line capped at maxSummaryLength, for inclusion in a URL query string.
func oneLineSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "sin descripción"
	}
	if len(s) > maxSummaryLength {
		const ellipsis = "…"
		return s[:maxSummaryLength-len(ellipsis)] + ellipsis
	}
	return s
}
