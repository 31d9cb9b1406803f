package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/overseerhq/overseer/internal/agentlink"
	"github.com/overseerhq/overseer/internal/config"
	"github.com/overseerhq/overseer/internal/coordinator"
	"github.com/overseerhq/overseer/internal/execctx"
	"github.com/overseerhq/overseer/internal/httpapi"
	"github.com/overseerhq/overseer/internal/inbox"
	"github.com/overseerhq/overseer/internal/observability"
	"github.com/overseerhq/overseer/internal/taskqueue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	storeMode := "in-memory"
	itemStore, err := taskqueue.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("work item store init failed: %v", err)
	}
	eventStore, err := inbox.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("inbox store init failed: %v", err)
	}
	if itemStore != nil {
		storeMode = "postgres"
		defer itemStore.Close()
	}
	if eventStore != nil {
		defer eventStore.Close()
	}

	contexts := execctx.NewManager(cfg.ContextInactivityTimeout)
	queue := taskqueue.NewService(contexts)
	queue.SetMetrics(metrics)
	if itemStore != nil {
		queue.SetStore(itemStore)
	}
	contexts.SetEndHook(func(c *execctx.Context) {
		queue.DetachContext(c.ID)
		metrics.ActiveContexts.Set(float64(contexts.ActiveCount()))
	})

	link, err := agentlink.NewChannel(cfg.AgentLinkURL, cfg.AgentLinkToken)
	if err != nil {
		log.Fatalf("agent link init failed: %v", err)
	}
	events := inbox.NewService(link, cfg.EventHistoryLimit)
	events.SetMetrics(metrics)
	if eventStore != nil {
		events.SetStore(eventStore)
	}
	defer link.Close()

	coord := coordinator.New(events, queue)

	if cfg.AgentLinkAutoStart {
		if err := events.Connect(ctx); err != nil {
			log.Printf("agent link connect failed (will retry on demand): %v", err)
		}
	}

	api := httpapi.New(cfg, contexts, queue, events, coord, metrics, storeMode)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	contexts.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s (store: %s)", cfg.BindAddr, storeMode)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
