// Package main runs the MCP server over stdio: one JSON-RPC request per
// line on stdin, one response per line on stdout. Logs go to stderr so
// they never corrupt the protocol stream.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/repomesh/repomesh/internal/adapter"
	"github.com/repomesh/repomesh/internal/agent"
	"github.com/repomesh/repomesh/internal/codetools"
	"github.com/repomesh/repomesh/internal/common/config"
	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/contextbundle"
	"github.com/repomesh/repomesh/internal/db"
	"github.com/repomesh/repomesh/internal/event"
	"github.com/repomesh/repomesh/internal/lock"
	"github.com/repomesh/repomesh/internal/mcp"
	"github.com/repomesh/repomesh/internal/orchestrator"
	"github.com/repomesh/repomesh/internal/store"
	"github.com/repomesh/repomesh/internal/stream"
	"github.com/repomesh/repomesh/internal/summarizer"
	"github.com/repomesh/repomesh/internal/task"
	"github.com/repomesh/repomesh/pkg/jsonrpc"
)

const maxLineBytes = 4 * 1024 * 1024

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: "stderr",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

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

	dispatcher := mcp.NewDispatcher(mcp.NewService(mcp.ServiceDeps{
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
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("MCP stdio server ready")
	if err := serve(ctx, dispatcher, log); err != nil {
		log.Fatal("MCP stdio server error", zap.Error(err))
	}

	runtimes.Orchestrator.Stop()
	runtimes.Adapter.Stop()
	runtimes.Summarizer.Stop()
}

func serve(ctx context.Context, dispatcher *mcp.Dispatcher, log *logger.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	encoder := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req jsonrpc.Request
		if err := json.Unmarshal(line, &req); err != nil {
			if err := encoder.Encode(jsonrpc.NewError(nil, jsonrpc.ParseError, "invalid JSON", nil)); err != nil {
				return err
			}
			continue
		}

		resp := dispatcher.Dispatch(ctx, &req)
		if resp == nil {
			continue
		}
		if err := encoder.Encode(resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn("stdin read error", zap.Error(err))
		return err
	}
	return nil
}
