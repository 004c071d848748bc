package adapter

import (
	"context"
	"time"

	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/orchestrator"
	"github.com/repomesh/repomesh/internal/runtime"
	"github.com/repomesh/repomesh/internal/store"
)

// NewRuntime wraps the adapter in a supervised loop that sweeps every
// active worker's claimed tasks each cycle.
func NewRuntime(service *Service, st *store.Store, interval time.Duration, maxTasksPerAgent int, log *logger.Logger) *runtime.Supervisor {
	return runtime.NewSupervisor(runtime.Config{
		Name:        "adapter",
		CounterName: "executed_tasks",
		Interval:    interval,
		Cycle: func(ctx context.Context) (int, error) {
			agents, err := st.ListActiveAgents(ctx, orchestrator.AgentType)
			if err != nil {
				return 0, err
			}
			executed := 0
			for _, agent := range agents {
				report, err := service.Execute(ctx, ExecuteInput{
					AgentID:  agent.ID,
					MaxTasks: maxTasksPerAgent,
				})
				if err != nil {
					return executed, err
				}
				executed += len(report.Executed)
			}
			return executed, nil
		},
	}, log)
}
