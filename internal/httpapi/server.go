// Package httpapi implements the HTTP Surface: the seven public
// endpoints, their middleware stack, and the per-conversation
// serialization and rate-limiting that guard the FSM underneath them.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/cache"
	"github.com/mesadeayuda/conversa/internal/classifier"
	"github.com/mesadeayuda/conversa/internal/config"
	"github.com/mesadeayuda/conversa/internal/escalation"
	"github.com/mesadeayuda/conversa/internal/fsm"
	"github.com/mesadeayuda/conversa/internal/ids"
	"github.com/mesadeayuda/conversa/internal/images"
	"github.com/mesadeayuda/conversa/internal/llm"
	"github.com/mesadeayuda/conversa/internal/stepgen"
	"github.com/mesadeayuda/conversa/internal/telemetry"
	"github.com/mesadeayuda/conversa/internal/tracing"
)

// Server wires every backend component into the HTTP surface. Durable
// conversation state lives in its dependencies; the Server itself keeps
// only in-memory pre-ID sessions, per-conversation locks and rate-limit
// state.
//
// The FSM engine is built fresh per request (see newEngine) rather than
// shared, so each turn's LLM calls get their own tracing.Recorder, tagged
// with the conversation ID and grouped under one trace ID; construction is cheap
// (struct literals over shared provider/collector/store handles).
type Server struct {
	cfg *config.Config

	cache      *cache.Cache
	ids        *ids.Service
	images     *images.Intake
	enforcer   *buttons.Enforcer
	escalation *escalation.Emitter
	telemetry  *telemetry.Registry
	tracing    *tracing.Collector

	llmProvider    llm.Provider
	fsmConfig      fsm.Config

	sessions     *pendingSessions
	locks        *conversationLocks
	chatLimiter  *ipLimiters
	greetLimiter *ipLimiters
	plainLimiter *ipLimiters
	llmLimiter   *conversationCallLimiter

	log *slog.Logger
}

// New builds a Server. provider may be nil in a deployment that never
// reaches an LLM-governed stage (e.g. exercising only the deterministic
// onboarding stages); escalation/tracing may also be nil, in which case
// the corresponding behavior degrades gracefully.
func New(
	cfg *config.Config,
	c *cache.Cache,
	idSvc *ids.Service,
	imgs *images.Intake,
	enforcer *buttons.Enforcer,
	provider llm.Provider,
	esc *escalation.Emitter,
	reg *telemetry.Registry,
	trc *tracing.Collector,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		cache:      c,
		ids:        idSvc,
		images:     imgs,
		enforcer:   enforcer,
		escalation: esc,
		telemetry:  reg,
		tracing:    trc,
		llmProvider: provider,
		fsmConfig: fsm.Config{
			DiagnosticAttemptThreshold: cfg.DiagnosticAttemptThreshold,
			ClarificationFailThreshold: cfg.ClarificationFailThreshold,
		},
		sessions:     newPendingSessions(),
		locks:        newConversationLocks(),
		chatLimiter:  newIPLimiters(cfg.ChatRateLimitPerMinute),
		greetLimiter: newIPLimiters(cfg.GreetingRateLimitPerMinute),
		plainLimiter: newIPLimiters(60),
		llmLimiter:   newConversationCallLimiter(cfg.LLMCallsPerMinutePerConvo),
		log:          log,
	}
}

// newEngine assembles an Engine scoped to one conversation, wiring a
// fresh LLM Gateway whose tracing.Recorder tags every span emitted
// during this turn with conversationID and a shared trace ID.
func (s *Server) newEngine(conversationID string) *fsm.Engine {
	var clf *classifier.Handler
	var step *stepgen.Handler

	if s.llmProvider != nil {
		recorder := tracing.NewRecorder(s.tracing, conversationID)
		gateway := llm.New(s.llmProvider, s.cfg.LLMTimeout, recorder)
		clf = classifier.New(gateway, s.cfg.LLMModelClassifier)
		step = stepgen.New(gateway, s.cfg.LLMModelStep, s.enforcer)
	}

	var esc fsm.Escalator
	if s.escalation != nil {
		esc = s.escalation
	}
	return fsm.New(s.ids, clf, step, s.enforcer, esc, s.fsmConfig)
}

// Handler assembles the routed, middleware-wrapped http.Handler for the
// whole HTTP surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.wrap(s.handleHealth, nil))
	mux.HandleFunc("POST /greeting", s.wrap(s.handleGreeting, s.greetLimiter))
	mux.HandleFunc("POST /chat", s.wrapBody(s.handleChat, s.chatLimiter, s.cfg.MaxImageBodyBytes))
	mux.HandleFunc("GET /resume/{id}", s.wrap(s.handleResume, s.plainLimiter))
	mux.HandleFunc("GET /images/{id}/{file}", s.wrap(s.handleImage, s.plainLimiter))
	mux.HandleFunc("GET /trace/{id}", s.wrapAdmin(s.handleTrace))
	mux.HandleFunc("GET /historial/{id}", s.wrapAdmin(s.handleHistorial))
	// A preflight request matches none of the method-qualified routes
	// above, so it gets a catch-all that corsMiddleware answers.
	mux.HandleFunc("OPTIONS /", s.wrap(func(http.ResponseWriter, *http.Request) {}, nil))

	return mux
}

// wrap applies the common middleware stack (request-id, CORS, optional
// per-IP rate limit) ahead of a handler.
func (s *Server) wrap(h http.HandlerFunc, limiter *ipLimiters) http.HandlerFunc {
	wrapped := bodyLimitMiddleware(s.cfg.MaxBodyBytes, h)
	if limiter != nil {
		wrapped = ipRateLimitMiddleware(limiter, wrapped)
	}
	return requestIDMiddleware(s.corsMiddleware(wrapped))
}

// wrapBody is wrap with a caller-specified body size ceiling, used for
// /chat which may carry an inline image payload.
func (s *Server) wrapBody(h http.HandlerFunc, limiter *ipLimiters, maxBytes int64) http.HandlerFunc {
	wrapped := bodyLimitMiddleware(maxBytes, h)
	if limiter != nil {
		wrapped = ipRateLimitMiddleware(limiter, wrapped)
	}
	return requestIDMiddleware(s.corsMiddleware(wrapped))
}

// wrapAdmin is wrap plus the bearer-token gate for the admin surface.
func (s *Server) wrapAdmin(h http.HandlerFunc) http.HandlerFunc {
	wrapped := bodyLimitMiddleware(s.cfg.MaxBodyBytes, s.adminAuthMiddleware(h))
	wrapped = ipRateLimitMiddleware(s.plainLimiter, wrapped)
	return requestIDMiddleware(s.corsMiddleware(wrapped))
}

// lockTimeout is the bounded wait for a per-conversation mutex before
// returning 503 (spec.md §5).
const lockTimeout = 2 * time.Second
