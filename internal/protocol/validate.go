package protocol

import (
	"fmt"
	"strings"

	"github.com/substratehq/substrate/internal/shared/errdefs"
)

var validModes = map[string]bool{
	ModeLocal:   true,
	ModeSSH:     true,
	ModePreview: true,
}

var validFileOps = map[string]bool{
	FileOpRead:   true,
	FileOpWrite:  true,
	FileOpStat:   true,
	FileOpDelete: true,
	FileOpList:   true,
}

var validInfoFields = map[string]bool{
	InfoHostname: true,
	InfoPlatform: true,
	InfoArch:     true,
	InfoCPUs:     true,
	InfoKernel:   true,
}

// Validate checks the envelope before execution. Every failure reports
// InvalidRequest naming the offending field.
func (r *Request) Validate() error {
	if r.Version != Version {
		return errdefs.InvalidRequest("version", fmt.Sprintf("unsupported version %q, want %q", r.Version, Version))
	}

	switch r.Command.Type {
	case CommandSystemInfo:
		for _, f := range r.Command.Fields {
			if !validInfoFields[f] {
				return errdefs.InvalidRequest("command.fields", fmt.Sprintf("unknown system info field %q", f))
			}
		}
	case CommandRunScript:
		if strings.TrimSpace(r.Command.Script) == "" {
			return errdefs.InvalidRequest("command.script", "run_script requires a script")
		}
	case CommandFileOp:
		if !validFileOps[r.Command.Op] {
			return errdefs.InvalidRequest("command.op", fmt.Sprintf("unknown file operation %q", r.Command.Op))
		}
		if r.Command.Path == "" {
			return errdefs.InvalidRequest("command.path", "file_op requires a path")
		}
	case "":
		return errdefs.InvalidRequest("command.type", "command type is required")
	default:
		return errdefs.InvalidRequest("command.type", fmt.Sprintf("unknown command type %q", r.Command.Type))
	}

	switch {
	case r.Execution.Mode == "":
		return errdefs.InvalidRequest("execution.mode", "execution mode is required")
	case !validModes[r.Execution.Mode]:
		return errdefs.InvalidRequest("execution.mode", fmt.Sprintf("unknown execution mode %q", r.Execution.Mode))
	}
	if r.Execution.Mode == ModeSSH && r.Execution.Host == "" {
		return errdefs.InvalidRequest("execution.host", "ssh mode requires a host")
	}
	if r.Execution.TimeoutMS < 0 {
		return errdefs.InvalidRequest("execution.timeout_ms", "timeout must not be negative")
	}

	if p := r.Execution.Retry; p != nil {
		if p.MaxAttempts < 1 {
			return errdefs.InvalidRequest("execution.retry_policy.max_attempts", "must be at least 1")
		}
		if p.BaseBackoffMS < 0 {
			return errdefs.InvalidRequest("execution.retry_policy.base_backoff_ms", "must not be negative")
		}
		if p.Multiplier != 0 && p.Multiplier < 1 {
			return errdefs.InvalidRequest("execution.retry_policy.multiplier", "must be at least 1")
		}
	}
	return nil
}
