package protocol

import (
	"math"
	"time"
)

// Version is the only envelope version this server speaks.
const Version = "1.0"

// Command types.
const (
	CommandSystemInfo = "system_info"
	CommandRunScript  = "run_script"
	CommandFileOp     = "file_op"
)

// Execution modes.
const (
	ModeLocal   = "local"
	ModeSSH     = "ssh"
	ModePreview = "preview"
)

// File operations.
const (
	FileOpRead   = "read"
	FileOpWrite  = "write"
	FileOpStat   = "stat"
	FileOpDelete = "delete"
	FileOpList   = "list"
)

// System info fields. An empty fields list selects all of them.
const (
	InfoHostname = "hostname"
	InfoPlatform = "platform"
	InfoArch     = "arch"
	InfoCPUs     = "cpus"
	InfoKernel   = "kernel"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// DefaultBackoffMultiplier applies when a retry policy leaves the
// multiplier unset.
const DefaultBackoffMultiplier = 2.0

// Request is the versioned command envelope.
type Request struct {
	Version   string    `json:"version" binding:"required"`
	Command   Command   `json:"command" binding:"required"`
	Execution Execution `json:"execution" binding:"required"`
}

// Command describes what to run. Type selects which of the remaining
// fields apply.
type Command struct {
	Type string `json:"type" binding:"required"`

	// system_info
	Fields []string `json:"fields,omitempty"`

	// run_script
	Script      string            `json:"script,omitempty"`
	Interpreter string            `json:"interpreter,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`

	// file_op
	Op      string `json:"op,omitempty"`
	Path    string `json:"path,omitempty"`
	Content string `json:"content,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// Execution describes where and how to run the command.
type Execution struct {
	Mode      string       `json:"mode" binding:"required"`
	Host      string       `json:"host,omitempty"`
	Port      int          `json:"port,omitempty"`
	User      string       `json:"user,omitempty"`
	TimeoutMS int64        `json:"timeout_ms,omitempty"`
	Retry     *RetryPolicy `json:"retry_policy,omitempty"`
}

// Timeout returns the requested execution bound, or zero when unset.
func (e Execution) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// RetryPolicy controls re-execution of transiently failed commands.
type RetryPolicy struct {
	MaxAttempts   int     `json:"max_attempts"`
	BaseBackoffMS int64   `json:"base_backoff_ms"`
	Multiplier    float64 `json:"multiplier"`
}

// Attempts returns the allowed attempt count, at least one. A nil policy
// means a single attempt.
func (p *RetryPolicy) Attempts() int {
	if p == nil || p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// Backoff returns the delay after failedAttempt (1-based) before the
// next attempt: base * multiplier^(failedAttempt-1).
func (p *RetryPolicy) Backoff(failedAttempt int) time.Duration {
	if p == nil || p.BaseBackoffMS <= 0 || failedAttempt < 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = DefaultBackoffMultiplier
	}
	ms := float64(p.BaseBackoffMS) * math.Pow(mult, float64(failedAttempt-1))
	return time.Duration(ms) * time.Millisecond
}

// Response is the versioned result envelope.
type Response struct {
	Version  string   `json:"version"`
	Result   Result   `json:"result"`
	Metadata Metadata `json:"metadata"`
}

// Result carries either success data or a structured error, never both.
type Result struct {
	Status string                 `json:"status"`
	Data   map[string]interface{} `json:"data,omitempty"`
	Error  *ErrorBody             `json:"error,omitempty"`
}

// ErrorBody is the wire form of a structured error.
type ErrorBody struct {
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	UserMessage string                 `json:"user_message,omitempty"`
}

// Metadata describes how the result was produced.
type Metadata struct {
	DurationMS int64 `json:"duration_ms"`
	Attempts   int   `json:"attempts"`
	Cached     bool  `json:"cached"`
}
