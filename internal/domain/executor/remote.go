package executor

import (
	"context"
	"fmt"
	"io"
	"os/user"
	"strconv"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/substratehq/substrate/internal/domain/output"
	"github.com/substratehq/substrate/internal/domain/pool"
	"github.com/substratehq/substrate/internal/protocol"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// remoteMissingExit is the sentinel exit code remote file commands use
// to distinguish a missing path from a genuine command failure.
const remoteMissingExit = 44

// systemProbe collects host facts in one round trip, one fact per line.
const systemProbe = "hostname; uname -s; uname -m; nproc 2>/dev/null || sysctl -n hw.ncpu 2>/dev/null || echo 1; uname -r"

// remoteCommand is one shell invocation plus the renderer that shapes
// its result for the response envelope.
type remoteCommand struct {
	command string
	stdin   io.Reader
	render  renderFunc
}

type renderFunc func(res *pool.ExecResult, execErr error) (map[string]interface{}, error)

func (e *Executor) executeRemote(ctx context.Context, execution protocol.Execution, cmd protocol.Command) (map[string]interface{}, error) {
	if e.pool == nil || e.creds == nil || e.breakers == nil {
		return nil, errdefs.InvalidRequest("execution.mode", "ssh mode is not configured")
	}

	remote, err := buildRemoteCommand(cmd)
	if err != nil {
		return nil, err
	}

	key := pool.NewHostKey(execution.Host, execution.Port, userOrDefault(execution.User))

	cred, err := e.creds.Lookup(key)
	if err != nil {
		return nil, err
	}

	// Command failures carry an exit code from a live host, so they are
	// pulled out of the breaker's accounting; only transport and connect
	// faults count against the circuit.
	var execErr error
	res, err := e.breakers.Execute(key.String(), func() (interface{}, error) {
		lease, aerr := e.pool.Acquire(ctx, key, cred)
		if aerr != nil {
			return nil, aerr
		}
		defer lease.Release()

		r, rerr := lease.Exec(ctx, remote.command, pool.ExecOptions{
			Stdin:          remote.stdin,
			MaxOutputBytes: e.cfg.MaxOutputBytes,
		})
		if rerr != nil && r != nil && errdefs.CodeOf(rerr) == errdefs.CodeExecFailed {
			execErr = rerr
			return r, nil
		}
		return r, rerr
	})
	if err != nil {
		return nil, err
	}

	return remote.render(res.(*pool.ExecResult), execErr)
}

func buildRemoteCommand(cmd protocol.Command) (*remoteCommand, error) {
	switch cmd.Type {
	case protocol.CommandSystemInfo:
		return &remoteCommand{command: systemProbe, render: renderSystemInfo(cmd.Fields)}, nil
	case protocol.CommandRunScript:
		return &remoteCommand{command: scriptCommand(cmd), render: renderScript}, nil
	case protocol.CommandFileOp:
		return fileOpRemote(cmd)
	}
	return nil, errdefs.InvalidRequest("command.type", "unknown command "+cmd.Type)
}

// scriptCommand renders a run_script invocation as one shell line, env
// assignments first, every word single-quoted.
func scriptCommand(cmd protocol.Command) string {
	interp := cmd.Interpreter
	if interp == "" {
		interp = "sh"
	}

	words := make([]string, 0, 8)
	if env := sortedEnv(cmd.Env); len(env) > 0 {
		words = append(words, "env")
		for _, kv := range env {
			words = append(words, shellQuote(kv))
		}
	}
	for _, arg := range scriptArgv(interp, cmd.Script, cmd.Args) {
		words = append(words, shellQuote(arg))
	}
	return strings.Join(words, " ")
}

func fileOpRemote(cmd protocol.Command) (*remoteCommand, error) {
	q := shellQuote(cmd.Path)

	switch cmd.Op {
	case protocol.FileOpRead:
		return &remoteCommand{
			command: fmt.Sprintf("test -e %s || exit %d; cat -- %s", q, remoteMissingExit, q),
			render:  renderRead(cmd.Path),
		}, nil

	case protocol.FileOpWrite:
		return &remoteCommand{
			command: "cat > " + q,
			stdin:   strings.NewReader(cmd.Content),
			render:  renderWrite(cmd.Path, len(cmd.Content)),
		}, nil

	case protocol.FileOpStat:
		return &remoteCommand{
			command: fmt.Sprintf(
				"test -e %s || exit %d; if test -d %s; then echo dir; else echo file; fi; (wc -c < %s) 2>/dev/null || echo 0",
				q, remoteMissingExit, q, q,
			),
			render: renderStat(cmd.Path),
		}, nil

	case protocol.FileOpDelete:
		return &remoteCommand{
			command: "rm -f -- " + q,
			render:  renderDelete(cmd.Path),
		}, nil

	case protocol.FileOpList:
		if cmd.Pattern != "" && !doublestar.ValidatePattern(cmd.Pattern) {
			return nil, errdefs.InvalidRequest("command.pattern", "malformed glob pattern")
		}
		return &remoteCommand{
			command: fmt.Sprintf("test -d %s || exit %d; ls -1A -p -- %s", q, remoteMissingExit, q),
			render:  renderList(cmd.Path, cmd.Pattern),
		}, nil
	}
	return nil, errdefs.InvalidRequest("command.op", "unknown file op "+cmd.Op)
}

func renderSystemInfo(fields []string) renderFunc {
	return func(res *pool.ExecResult, execErr error) (map[string]interface{}, error) {
		if execErr != nil {
			return nil, execErr
		}
		text, err := output.Text(res.Stdout)
		if err != nil {
			return nil, err
		}
		lines := strings.Split(strings.TrimSpace(text), "\n")
		if len(lines) < 5 {
			return nil, errdefs.ExecFailed(res.ExitCode, "malformed system probe output")
		}
		cpus, aerr := strconv.Atoi(strings.TrimSpace(lines[3]))
		if aerr != nil {
			cpus = 1
		}
		return filterInfo(map[string]interface{}{
			protocol.InfoHostname: strings.TrimSpace(lines[0]),
			protocol.InfoPlatform: strings.ToLower(strings.TrimSpace(lines[1])),
			protocol.InfoArch:     strings.TrimSpace(lines[2]),
			protocol.InfoCPUs:     cpus,
			protocol.InfoKernel:   strings.TrimSpace(lines[4]),
		}, fields), nil
	}
}

func renderScript(res *pool.ExecResult, execErr error) (map[string]interface{}, error) {
	if execErr != nil {
		return nil, execErr
	}
	text, err := output.Text(res.Stdout)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"stdout":      text,
		"stderr":      res.Stderr,
		"exit_code":   res.ExitCode,
		"duration_ms": res.Duration.Milliseconds(),
	}, nil
}

func renderRead(path string) renderFunc {
	return func(res *pool.ExecResult, execErr error) (map[string]interface{}, error) {
		if missingExit(execErr) {
			return nil, errdefs.NotFound("file", path)
		}
		if execErr != nil {
			return nil, execErr
		}
		return fileContent(path, res.Stdout), nil
	}
}

func renderWrite(path string, size int) renderFunc {
	return func(res *pool.ExecResult, execErr error) (map[string]interface{}, error) {
		if execErr != nil {
			return nil, execErr
		}
		return map[string]interface{}{
			"path":    path,
			"written": true,
			"bytes":   size,
		}, nil
	}
}

func renderStat(path string) renderFunc {
	return func(res *pool.ExecResult, execErr error) (map[string]interface{}, error) {
		if missingExit(execErr) {
			return nil, errdefs.NotFound("file", path)
		}
		if execErr != nil {
			return nil, execErr
		}
		text, err := output.Text(res.Stdout)
		if err != nil {
			return nil, err
		}
		lines := strings.Split(strings.TrimSpace(text), "\n")
		if len(lines) < 2 {
			return nil, errdefs.ExecFailed(res.ExitCode, "malformed stat output")
		}
		isDir := strings.TrimSpace(lines[0]) == "dir"
		size, serr := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
		if serr != nil || isDir {
			size = 0
		}
		return map[string]interface{}{
			"path":   path,
			"is_dir": isDir,
			"size":   size,
		}, nil
	}
}

func renderDelete(path string) renderFunc {
	return func(res *pool.ExecResult, execErr error) (map[string]interface{}, error) {
		if execErr != nil {
			return nil, execErr
		}
		return map[string]interface{}{"path": path, "deleted": true}, nil
	}
}

func renderList(path, pattern string) renderFunc {
	return func(res *pool.ExecResult, execErr error) (map[string]interface{}, error) {
		if missingExit(execErr) {
			return nil, errdefs.NotFound("directory", path)
		}
		if execErr != nil {
			return nil, execErr
		}
		text, err := output.Text(res.Stdout)
		if err != nil {
			return nil, err
		}

		listed := make([]map[string]interface{}, 0)
		for _, line := range strings.Split(text, "\n") {
			name := strings.TrimSpace(line)
			if name == "" {
				continue
			}
			isDir := strings.HasSuffix(name, "/")
			name = strings.TrimSuffix(name, "/")
			if pattern != "" {
				if ok, _ := doublestar.Match(pattern, name); !ok {
					continue
				}
			}
			listed = append(listed, map[string]interface{}{
				"name":   name,
				"is_dir": isDir,
			})
		}

		return map[string]interface{}{
			"path":    path,
			"entries": listed,
			"count":   len(listed),
		}, nil
	}
}

// missingExit reports whether execErr carries the missing-path sentinel.
func missingExit(execErr error) bool {
	se, ok := errdefs.As(execErr)
	if !ok || se.Code != errdefs.CodeExecFailed {
		return false
	}
	code, ok := se.Details["exit_code"].(int)
	return ok && code == remoteMissingExit
}

// shellQuote wraps s in single quotes, escaping embedded quotes, so the
// remote shell sees one literal word.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

var (
	defaultUserOnce sync.Once
	defaultUserName string
)

// userOrDefault falls back to the process owner when the request names
// no user.
func userOrDefault(name string) string {
	if name != "" {
		return name
	}
	defaultUserOnce.Do(func() {
		defaultUserName = "root"
		if u, err := user.Current(); err == nil && u.Username != "" {
			defaultUserName = u.Username
		}
	})
	return defaultUserName
}
