package control

import (
	"context"
	"fmt"

	"github.com/steveyegge/deflect/internal/processor"
	"github.com/steveyegge/deflect/internal/types"
)

// Controller is the processor surface exposed to operators.
// *processor.Processor implements it.
type Controller interface {
	Pause() bool
	Resume() bool
	Status() processor.Status
	Stats(ctx context.Context) (*types.QueueStats, error)
	RecoverStale(ctx context.Context) (int, error)
	Cleanup(ctx context.Context) (*processor.CleanupResult, error)
}

// NewProcessorHandler maps control commands onto a processor
func NewProcessorHandler(p Controller) HandlerFunc {
	return func(ctx context.Context, cmd Command) (map[string]interface{}, error) {
		switch cmd.Type {
		case CmdPause:
			changed := p.Pause()
			if changed && cmd.Reason != "" {
				fmt.Printf("Control: Paused by operator: %s\n", cmd.Reason)
			}
			return statusData(p.Status(), map[string]interface{}{"changed": changed}), nil

		case CmdResume:
			changed := p.Resume()
			return statusData(p.Status(), map[string]interface{}{"changed": changed}), nil

		case CmdStatus:
			data := statusData(p.Status(), nil)
			stats, err := p.Stats(ctx)
			if err != nil {
				return nil, err
			}
			counts := make(map[string]interface{}, len(stats.Counts))
			for status, n := range stats.Counts {
				counts[string(status)] = n
			}
			data["counts"] = counts
			data["total"] = stats.Total
			data["since"] = stats.Since
			return data, nil

		case CmdRecover:
			n, err := p.RecoverStale(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"requeued": n}, nil

		case CmdCleanup:
			res, err := p.Cleanup(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"jobs_deleted":   res.JobsDeleted,
				"events_deleted": res.EventsDeleted,
			}, nil

		default:
			return nil, fmt.Errorf("unknown command %q", cmd.Type)
		}
	}
}

func statusData(s processor.Status, extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"instance_id": s.InstanceID,
		"running":     s.Running,
		"paused":      s.Paused,
		"in_flight":   s.InFlight,
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
