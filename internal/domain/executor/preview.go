package executor

import (
	"context"

	"github.com/substratehq/substrate/internal/protocol"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// executePreview plans the command against the preview runtime without
// executing it anywhere.
func (e *Executor) executePreview(ctx context.Context, cmd protocol.Command) (map[string]interface{}, error) {
	if e.planner == nil {
		return nil, errdefs.InvalidRequest("execution.mode", "preview runtime is not configured")
	}

	plan, err := e.planner.Plan(ctx, cmd)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"executed": false,
		"summary":  plan.Summary,
		"effects":  plan.Effects,
	}, nil
}
