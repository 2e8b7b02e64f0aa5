// Command agentswarm runs the multi-agent task orchestration core: the task
// queue, the agent fleet with its workers, the health monitor, and the
// brainstorming/evaluation/refinement services behind a REST + WebSocket API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	swarmhttp "github.com/mvanek/agentswarm/internal/adapter/http"
	"github.com/mvanek/agentswarm/internal/adapter/inproc"
	"github.com/mvanek/agentswarm/internal/adapter/jsonfile"
	"github.com/mvanek/agentswarm/internal/adapter/litellm"
	swarmnats "github.com/mvanek/agentswarm/internal/adapter/nats"
	"github.com/mvanek/agentswarm/internal/adapter/otel"
	"github.com/mvanek/agentswarm/internal/adapter/ristretto"
	"github.com/mvanek/agentswarm/internal/adapter/ws"
	"github.com/mvanek/agentswarm/internal/agent"
	"github.com/mvanek/agentswarm/internal/config"
	"github.com/mvanek/agentswarm/internal/logger"
	"github.com/mvanek/agentswarm/internal/resilience"
	"github.com/mvanek/agentswarm/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	slog.SetDefault(logger.New(cfg.Logging))
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"llm_url", cfg.LLM.URL,
		"nats_enabled", cfg.NATS.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	b := inproc.New(cfg.Bus.BufferSize)
	defer b.Close()

	impactCache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer impactCache.Close()

	know, err := jsonfile.NewRepository(cfg.Knowledge.Dir)
	if err != nil {
		return fmt.Errorf("knowledge: %w", err)
	}
	project := jsonfile.NewContextProvider(cfg.Knowledge.Dir)

	llm := litellm.NewClient(cfg.LLM.URL, cfg.LLM.APIKey, cfg.LLM.Timeout)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	llm.SetBreaker(breaker)

	// --- Services ---

	queue := service.NewQueueService(b, cfg.Queue.Retention)
	queue.StartJanitor(ctx, cfg.Queue.CleanupInterval)

	fleet := agent.NewFleet(llm)

	deps := service.WorkerDeps{
		Queue:     queue,
		Bus:       b,
		Project:   project,
		Knowledge: know,
		Metrics:   metrics,
	}
	workers := make([]*service.Worker, 0, len(fleet))
	for _, spec := range agent.AllSpecializations {
		w := service.NewWorker(fleet[spec+"-agent"], deps, cfg.Worker)
		w.Start(ctx)
		workers = append(workers, w)
	}
	defer func() {
		for _, w := range workers {
			w.Stop()
		}
	}()

	health := service.NewHealthService(workers, queue, b, metrics, cfg.Health)
	health.Start(ctx)

	deviation := service.NewDeviationService(cfg.Deviation, llm)
	evaluator := service.NewEvaluatorService(project, impactCache, cfg.Evaluator, cfg.Cache.ImpactTTL)
	refinement := service.NewRefinementService(fleet, evaluator, deviation, know, cfg.Refinement)
	brainstorm := service.NewBrainstormService(
		fleet, deviation, evaluator, refinement, project, know, b, metrics, cfg.Brainstorm)

	// --- Observability surfaces ---

	hub := ws.NewHub(b)
	defer hub.Close()

	if cfg.NATS.Enabled {
		bridge, err := swarmnats.Connect(ctx, cfg.NATS.URL, b)
		if err != nil {
			return fmt.Errorf("nats bridge: %w", err)
		}
		defer bridge.Close()
	}

	// --- HTTP server ---

	handlers := &swarmhttp.Handlers{
		Queue:      queue,
		Brainstorm: brainstorm,
		Health:     health,
		Bus:        b,
		Breaker:    breaker,
		WS:         hub.HandleWS,
	}
	router := swarmhttp.NewRouter(handlers, cfg.Server)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	return nil
}
