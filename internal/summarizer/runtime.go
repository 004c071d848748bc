package summarizer

import (
	"context"
	"time"

	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/runtime"
)

// NewRuntime wraps the summarizer in a supervised polling loop.
func NewRuntime(service *Service, interval time.Duration, maxTasksPerCycle int, log *logger.Logger) *runtime.Supervisor {
	return runtime.NewSupervisor(runtime.Config{
		Name:        "summarizer",
		CounterName: "compressed",
		Interval:    interval,
		Cycle: func(ctx context.Context) (int, error) {
			result, err := service.RunOnce(ctx, maxTasksPerCycle)
			if err != nil {
				return 0, err
			}
			return result.Count, nil
		},
	}, log)
}
