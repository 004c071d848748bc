package orchestrator

import (
	"context"
	"time"

	"github.com/repomesh/repomesh/internal/common/logger"
	"github.com/repomesh/repomesh/internal/models"
	"github.com/repomesh/repomesh/internal/runtime"
	"github.com/repomesh/repomesh/internal/stream"
)

// NewRuntime wraps the engine in a supervised loop. The loop polls on the
// configured interval and wakes early whenever anything lands on the
// orchestration channel.
func NewRuntime(engine *Engine, broker *stream.Broker, interval time.Duration, dispatchLimit int, log *logger.Logger) *runtime.Supervisor {
	return runtime.NewSupervisor(runtime.Config{
		Name:        "orchestrator",
		CounterName: "assignments",
		Interval:    interval,
		Cycle: func(ctx context.Context) (int, error) {
			result, err := engine.RunOnce(ctx, dispatchLimit)
			if err != nil {
				return 0, err
			}
			return len(result.Assignments), nil
		},
		Wake: func() (<-chan *models.Event, func()) {
			sub := broker.Subscribe("", AssignmentChannel, true)
			return sub.C, func() { broker.Unsubscribe(sub.ID) }
		},
	}, log)
}
