package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/adhocore/gronx"

	"github.com/mesadeayuda/conversa/internal/buttons"
	"github.com/mesadeayuda/conversa/internal/cache"
	"github.com/mesadeayuda/conversa/internal/config"
	"github.com/mesadeayuda/conversa/internal/escalation"
	"github.com/mesadeayuda/conversa/internal/httpapi"
	"github.com/mesadeayuda/conversa/internal/ids"
	"github.com/mesadeayuda/conversa/internal/images"
	"github.com/mesadeayuda/conversa/internal/llm"
	"github.com/mesadeayuda/conversa/internal/store"
	"github.com/mesadeayuda/conversa/internal/telemetry"
	"github.com/mesadeayuda/conversa/internal/tracing"
)

func runServer() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	idSvc, err := ids.New(filepath.Join(cfg.DataRoot, "ids"))
	if err != nil {
		slog.Error("failed to open id reservation service", "error", err)
		os.Exit(1)
	}

	fileStore, err := store.NewFileStore(filepath.Join(cfg.DataRoot, "conversations"))
	if err != nil {
		slog.Error("failed to open conversation store", "error", err)
		os.Exit(1)
	}
	sessionCache := cache.New(fileStore, cfg.SessionCacheCapacity)

	imageIntake, err := images.New(filepath.Join(cfg.DataRoot, "uploads"), cfg.MaxImageBytes)
	if err != nil {
		slog.Error("failed to open image intake", "error", err)
		os.Exit(1)
	}

	buttonStore, err := buttons.NewStore(cfg.ButtonCatalogPath)
	if err != nil {
		slog.Error("failed to load button catalog", "error", err)
		os.Exit(1)
	}
	defer buttonStore.Close()
	enforcer := buttons.NewEnforcer(buttonStore.Catalog)

	var llmProvider llm.Provider
	if err := cfg.RequireLLM(); err != nil {
		slog.Warn("LLM-governed stages disabled", "error", err)
	} else {
		llmProvider = llm.NewAnthropicProvider(cfg.LLMAPIKey)
	}

	var escalator *escalation.Emitter
	if err := cfg.RequireEscalation(); err != nil {
		slog.Warn("escalation disabled", "error", err)
	} else {
		escalator, err = escalation.New(filepath.Join(cfg.DataRoot, "tickets"), cfg.ContactURLBase+cfg.ContactNumber, cfg.PublicBaseURL)
		if err != nil {
			slog.Error("failed to open escalation emitter", "error", err)
			os.Exit(1)
		}
	}

	traceCollector := tracing.NewCollector(2000)
	reg := telemetry.New()

	srv := httpapi.New(cfg, sessionCache, idSvc, imageIntake, enforcer, llmProvider, escalator, reg, traceCollector, logger)

	httpSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     srv.Handler(),
		IdleTimeout: cfg.HTTPIdleTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runLockSweeper(ctx, idSvc, cfg.LockSweepCron)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("graceful shutdown initiated", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
	}()

	slog.Info("conversa serving", "version", Version, "port", cfg.Port, "llm_enabled", llmProvider != nil, "escalation_enabled", escalator != nil)

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// runLockSweeper reclaims orphaned ID-reservation locks (from a crashed
// process holding the lock file) once at startup and then on the
// schedule given by expr, a standard 5-field cron expression.
func runLockSweeper(ctx context.Context, idSvc *ids.Service, expr string) {
	gron := gronx.New()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	idSvc.SweepOrphanLocks()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := gron.IsDue(expr)
			if err != nil {
				slog.Warn("lock sweep: invalid cron expression", "expr", expr, "error", err)
				continue
			}
			if due {
				idSvc.SweepOrphanLocks()
			}
		}
	}
}
