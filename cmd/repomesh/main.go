// Package main is the unified entry point for RepoMesh.
// The single binary serves the REST API, the event stream, the MCP HTTP
// endpoint, and the background runtimes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/repomesh/repomesh/internal/adapter"
	"github.com/repomesh/repomesh/internal/agent"
	"github.com/repomesh/repomesh/internal/codetools"
	"github.com/repomesh/repomesh/internal/common/config"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/contextbundle"
	"github.com/repomesh/repomesh/internal/db"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/httpapi"
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/mcp"
	"github.com/repomesh/repomesh/internal/orchestrator"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/stream"
	"github.com/repomesh/repomesh/internal/summarizer"
	"github.com/repomesh/repomesh/internal/task"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting RepoMesh...")

	pool, err := db.Open(cfg.Database.URL)
	if err != nil {
		log.Fatal("Failed to open database", zap.Error(err))
	}
	defer pool.Close()

	st, err := store.New(pool)
	if err != nil {
		log.Fatal("Failed to initialize store", zap.Error(err))
	}

	broker := stream.NewBroker()
	events := event.NewService(st, broker)
	locks := lock.NewService(st, log)
	agents := agent.NewService(st, log, cfg.Session.SessionTTL())
	tasks := task.NewService(st, locks, log)
	adapters := adapter.NewService(st, tasks, events, adapter.Config{
		WorkspaceRoot:   cfg.Adapter.WorkspaceRoot,
		AllowedCommands: cfg.Adapter.AllowedCommandList(),
		PrepassCommands: cfg.Adapter.PrepassCommandList(),
		DefaultTimeout:  cfg.Adapter.DefaultTimeout(),
	}, log)
	summarizers := summarizer.NewService(st, events, log)
	bundle := contextbundle.NewService(tasks, events, locks)
	codeTools := codetools.NewService(cfg.Adapter.WorkspaceRoot)
	engine := orchestrator.NewEngine(st, agents, tasks, events, log)

	runtimes := mcp.Runtimes{
		Orchestrator: orchestrator.NewRuntime(engine, broker,
			cfg.Orchestrator.PollInterval(), cfg.Orchestrator.DispatchLimit, log),
		Adapter: adapter.NewRuntime(adapters, st,
			cfg.Adapter.PollInterval(), cfg.Adapter.MaxTasksPerAgentCycle, log),
		Summarizer: summarizer.NewRuntime(summarizers,
			cfg.Summarizer.PollInterval(), cfg.Summarizer.MaxTasksCycle, log),
	}

	mcpService := mcp.NewService(mcp.ServiceDeps{
		Store:                   st,
		Agents:                  agents,
		Tasks:                   tasks,
		Locks:                   locks,
		Events:                  events,
		Bundle:                  bundle,
		Engine:                  engine,
		Adapters:                adapters,
		Summarizers:             summarizers,
		CodeTools:               codeTools,
		Runtimes:                runtimes,
		AdapterMaxTasksPerAgent: cfg.Adapter.MaxTasksPerAgentCycle,
	})
	dispatcher := mcp.NewDispatcher(mcpService)

	router := httpapi.NewRouter(httpapi.Deps{
		Store:       st,
		Agents:      agents,
		Tasks:       tasks,
		Locks:       locks,
		Events:      events,
		Bundle:      bundle,
		Adapters:    adapters,
		Summarizers: summarizers,
		Engine:      engine,
		Runtimes:    runtimes,
		Broker:      broker,
		Dispatcher:  dispatcher,
		AuthToken:   cfg.Auth.LocalToken,
		Logger:      log,
	})

	if cfg.Orchestrator.Autostart {
		runtimes.Orchestrator.Start()
		log.Info("Orchestrator runtime started")
	}
	if cfg.Adapter.Autostart {
		runtimes.Adapter.Start()
		log.Info("Adapter runtime started")
	}
	if cfg.Summarizer.Autostart {
		runtimes.Summarizer.Start()
		log.Info("Summarizer runtime started")
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		runtimes.Orchestrator.Stop()
		runtimes.Adapter.Stop()
		runtimes.Summarizer.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal("Server error", zap.Error(err))
	}
	log.Info("RepoMesh stopped")
}
