package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/creack/pty"
	"github.com/gabriel-vasile/mimetype"

	"github.com/substratehq/substrate/internal/domain/output"
	"github.com/substratehq/substrate/internal/domain/terminal"
	"github.com/substratehq/substrate/internal/protocol"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// errTail bounds how much captured output rides along in an ExecFailed.
const errTail = 2048

func (e *Executor) executeLocal(ctx context.Context, cmd protocol.Command) (map[string]interface{}, error) {
	switch cmd.Type {
	case protocol.CommandSystemInfo:
		return e.systemInfoLocal(cmd.Fields)
	case protocol.CommandRunScript:
		return e.runScriptLocal(ctx, cmd)
	case protocol.CommandFileOp:
		return e.fileOpLocal(cmd)
	}
	return nil, errdefs.InvalidRequest("command.type", "unknown command "+cmd.Type)
}

func (e *Executor) systemInfoLocal(fields []string) (map[string]interface{}, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return filterInfo(map[string]interface{}{
		protocol.InfoHostname: hostname,
		protocol.InfoPlatform: runtime.GOOS,
		protocol.InfoArch:     runtime.GOARCH,
		protocol.InfoCPUs:     runtime.NumCPU(),
		protocol.InfoKernel:   kernelRelease(),
	}, fields), nil
}

// filterInfo trims facts down to the requested fields. An empty request
// keeps everything.
func filterInfo(facts map[string]interface{}, fields []string) map[string]interface{} {
	if len(fields) == 0 {
		return facts
	}
	out := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		if v, ok := facts[f]; ok {
			out[f] = v
		}
	}
	return out
}

// kernelRelease reads the running kernel version where the platform
// exposes it.
func kernelRelease() string {
	data, err := os.ReadFile("/proc/sys/kernel/osrelease")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// runScriptLocal executes a script under a PTY so it sees terminal
// semantics. Stdout and stderr arrive merged, the way a terminal would
// show them.
func (e *Executor) runScriptLocal(ctx context.Context, cmd protocol.Command) (map[string]interface{}, error) {
	interp := cmd.Interpreter
	if interp == "" {
		shell, err := terminal.ResolveShell(e.cfg.Shell)
		if err != nil {
			return nil, err
		}
		interp = shell
	}

	argv := scriptArgv(interp, cmd.Script, cmd.Args)
	c := exec.Command(argv[0], argv[1:]...)
	c.Env = append(os.Environ(), "TERM=xterm-256color")
	c.Env = append(c.Env, sortedEnv(cmd.Env)...)

	start := time.Now()
	ptmx, err := pty.Start(c)
	if err != nil {
		return nil, errdefs.SpawnFailed(argv[0], err)
	}
	defer ptmx.Close()

	acc := output.New(e.cfg.MaxOutputBytes)

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			n, rerr := ptmx.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if perr := acc.Push(chunk); perr != nil {
					readDone <- perr
					return
				}
			}
			if rerr != nil {
				// PTY reads fail with EIO once the child exits; treat any
				// read error as end of stream.
				readDone <- nil
				return
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- c.Wait() }()

	var waitErr error
	waited := false
	reading := readDone
	for !waited {
		select {
		case <-ctx.Done():
			c.Process.Kill()
			<-waitDone
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errdefs.ExecTimeout(time.Since(start))
			}
			return nil, ctx.Err()

		case perr := <-reading:
			if perr != nil {
				c.Process.Kill()
				<-waitDone
				return nil, perr
			}
			reading = nil

		case waitErr = <-waitDone:
			waited = true
		}
	}

	// The child has exited; drain whatever the PTY still buffers.
	if reading != nil {
		if perr := <-reading; perr != nil {
			return nil, perr
		}
	}

	text, err := acc.FinalizeText()
	if err != nil {
		return nil, err
	}

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, errdefs.ExecFailed(-1, fmt.Sprintf("wait: %v", waitErr))
		}
	}

	if exitCode != 0 {
		return nil, errdefs.ExecFailed(exitCode, tail(text, errTail))
	}

	return map[string]interface{}{
		"stdout":      text,
		"stderr":      "",
		"exit_code":   0,
		"duration_ms": time.Since(start).Milliseconds(),
	}, nil
}

// scriptArgv builds the interpreter invocation for a script. Shell
// interpreters get an explicit $0 so positional args land in $1.
func scriptArgv(interp, script string, args []string) []string {
	argv := []string{interp, "-c", script}
	if isShellInterpreter(interp) && len(args) > 0 {
		argv = append(argv, filepath.Base(interp))
	}
	return append(argv, args...)
}

func isShellInterpreter(interp string) bool {
	switch filepath.Base(interp) {
	case "sh", "bash", "zsh", "dash", "ksh":
		return true
	}
	return false
}

// sortedEnv renders env pairs in stable key order.
func sortedEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}

// tail returns at most n trailing bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func (e *Executor) fileOpLocal(cmd protocol.Command) (map[string]interface{}, error) {
	switch cmd.Op {
	case protocol.FileOpRead:
		return e.readFileLocal(cmd.Path)
	case protocol.FileOpWrite:
		return writeFileLocal(cmd.Path, cmd.Content)
	case protocol.FileOpStat:
		return statLocal(cmd.Path)
	case protocol.FileOpDelete:
		return deleteLocal(cmd.Path)
	case protocol.FileOpList:
		return listLocal(cmd.Path, cmd.Pattern)
	}
	return nil, errdefs.InvalidRequest("command.op", "unknown file op "+cmd.Op)
}

func (e *Executor) readFileLocal(path string) (map[string]interface{}, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("file", path)
		}
		return nil, errdefs.ExecFailed(-1, err.Error())
	}
	defer f.Close()

	acc := output.New(e.cfg.MaxOutputBytes)
	buf := make([]byte, 64*1024)
	for {
		n, rerr := f.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if perr := acc.Push(chunk); perr != nil {
				return nil, perr
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, errdefs.ExecFailed(-1, rerr.Error())
		}
	}

	data, _ := acc.Finalize()
	return fileContent(path, data), nil
}

// fileContent renders file bytes for the JSON envelope: UTF-8 content
// inline, anything else base64.
func fileContent(path string, data []byte) map[string]interface{} {
	result := map[string]interface{}{
		"path": path,
		"size": len(data),
		"mime": mimetype.Detect(data).String(),
	}
	if text, err := output.Text(data); err == nil {
		result["content"] = text
	} else {
		result["content_base64"] = base64.StdEncoding.EncodeToString(data)
		result["encoding"] = "base64"
	}
	return result
}

func writeFileLocal(path, content string) (map[string]interface{}, error) {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return nil, errdefs.ExecFailed(-1, err.Error())
	}
	return map[string]interface{}{
		"path":    path,
		"written": true,
		"bytes":   len(content),
	}, nil
}

func statLocal(path string) (map[string]interface{}, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("file", path)
		}
		return nil, errdefs.ExecFailed(-1, err.Error())
	}

	result := map[string]interface{}{
		"path":     path,
		"size":     info.Size(),
		"is_dir":   info.IsDir(),
		"mode":     info.Mode().String(),
		"modified": info.ModTime().UTC().Format(time.RFC3339),
	}
	if !info.IsDir() {
		if mt, merr := mimetype.DetectFile(path); merr == nil {
			result["mime"] = mt.String()
		}
	}
	return result, nil
}

// deleteLocal removes path. A missing path counts as success so deletes
// are idempotent.
func deleteLocal(path string) (map[string]interface{}, error) {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, errdefs.ExecFailed(-1, err.Error())
	}
	return map[string]interface{}{"path": path, "deleted": true}, nil
}

func listLocal(path, pattern string) (map[string]interface{}, error) {
	if pattern != "" && !doublestar.ValidatePattern(pattern) {
		return nil, errdefs.InvalidRequest("command.pattern", "malformed glob pattern")
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFound("directory", path)
		}
		return nil, errdefs.ExecFailed(-1, err.Error())
	}

	listed := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		if pattern != "" {
			if ok, _ := doublestar.Match(pattern, entry.Name()); !ok {
				continue
			}
		}
		item := map[string]interface{}{
			"name":   entry.Name(),
			"is_dir": entry.IsDir(),
		}
		if info, ierr := entry.Info(); ierr == nil && !entry.IsDir() {
			item["size"] = info.Size()
		}
		listed = append(listed, item)
	}

	return map[string]interface{}{
		"path":    path,
		"entries": listed,
		"count":   len(listed),
	}, nil
}
