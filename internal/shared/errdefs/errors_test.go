package errdefs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		code Code
	}{
		{"not found", NotFound("session", "sess_123"), CodeNotFound},
		{"connect timeout", ConnectTimeout("10.0.0.5:22", 10*time.Second), CodeConnectionTimeout},
		{"exec timeout", ExecTimeout(30 * time.Second), CodeExecutionTimeout},
		{"wait timeout", WaitTimeout("pool slot", 5*time.Second), CodeTimeout},
		{"connect failed", ConnectFailed("10.0.0.5:22", errors.New("refused")), CodeConnectFailed},
		{"spawn failed", SpawnFailed("/bin/bash", errors.New("no such file")), CodeSpawnFailed},
		{"no shell", NoShellFound([]string{"/bin/bash", "/bin/sh"}), CodeNoShellFound},
		{"exec failed", ExecFailed(127, "command not found"), CodeExecFailed},
		{"output too large", OutputTooLarge(1024, 2048), CodeOutputTooLarge},
		{"circuit open", CircuitOpen("root@10.0.0.5:22"), CodeCircuitOpen},
		{"invalid encoding", InvalidEncoding("shift_jis"), CodeInvalidEncoding},
		{"invalid request", InvalidRequest("execution.mode", "must be one of local, ssh, preview"), CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.code, CodeOf(tt.err))
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestDetails(t *testing.T) {
	err := OutputTooLarge(10*1024*1024, 10*1024*1024+512)
	assert.Equal(t, 10*1024*1024, err.Details["max_bytes"])
	assert.Equal(t, 10*1024*1024+512, err.Details["actual_bytes"])

	timeout := ConnectTimeout("10.0.0.5:22", 30*time.Second)
	assert.Equal(t, "10.0.0.5:22", timeout.Details["host"])
	assert.Equal(t, int64(30000), timeout.Details["timeout_ms"])

	exec := ExecFailed(2, "ls: /nope: No such file or directory")
	assert.Equal(t, 2, exec.Details["exit_code"])
	assert.Contains(t, exec.Details["stderr"], "No such file")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := ConnectFailed("host:22", cause)

	require.ErrorIs(t, err, cause)

	var structured *Error
	require.True(t, errors.As(fmt.Errorf("acquire: %w", err), &structured))
	assert.Equal(t, CodeConnectFailed, structured.Code)
}

func TestCodeOfWrapped(t *testing.T) {
	err := fmt.Errorf("execute: %w", ExecTimeout(time.Second))
	assert.Equal(t, CodeExecutionTimeout, CodeOf(err))

	assert.Equal(t, Code(""), CodeOf(errors.New("plain")))
	assert.Equal(t, Code(""), CodeOf(nil))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"connect timeout", ConnectTimeout("h:22", time.Second), true},
		{"exec timeout", ExecTimeout(time.Second), true},
		{"wait timeout", WaitTimeout("slot", time.Second), true},
		{"connect failed", ConnectFailed("h:22", nil), true},
		{"auth failed", AuthFailed("h:22", errors.New("permission denied")), false},
		{"exec failed", ExecFailed(1, ""), false},
		{"circuit open", CircuitOpen("k"), false},
		{"not found", NotFound("session", "x"), false},
		{"spawn failed", SpawnFailed("/bin/sh", nil), false},
		{"invalid request", InvalidRequest("version", "unsupported"), false},
		{"plain error", errors.New("boom"), false},
		{"wrapped transient", fmt.Errorf("attempt 1: %w", ConnectTimeout("h:22", time.Second)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, IsTransient(tt.err))
		})
	}
}

func TestWithHint(t *testing.T) {
	err := NotFound("session", "sess_gone").WithHint("the session may have been closed")
	assert.Equal(t, "the session may have been closed", err.Hint)
}
