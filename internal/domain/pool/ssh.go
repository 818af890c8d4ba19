package pool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/substratehq/substrate/internal/domain/output"
	"github.com/substratehq/substrate/internal/shared/errdefs"
)

// maxStderrBytes caps captured stderr per command. Overflow is discarded
// rather than failing the execution.
const maxStderrBytes = 64 * 1024

// SSHDialer establishes SSH transports and satisfies Dialer.
type SSHDialer struct{}

// NewSSHDialer creates the production dialer.
func NewSSHDialer() *SSHDialer {
	return &SSHDialer{}
}

// Dial connects and authenticates to key's host. The ctx deadline bounds
// the whole handshake. Timeouts map to ConnectionTimeout, credential
// rejections to AuthFailed, and everything else to ConnectFailed.
func (d *SSHDialer) Dial(ctx context.Context, key HostKey, cred Credential) (Conn, error) {
	var timeout time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	config, err := clientConfig(key, cred, timeout)
	if err != nil {
		return nil, errdefs.ConnectFailed(key.String(), err)
	}

	addr := key.Addr()
	var client *ssh.Client
	var dialErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		client, dialErr = ssh.Dial("tcp", addr, config)
	}()

	select {
	case <-ctx.Done():
		// The dial goroutine is bounded by config.Timeout; close any
		// connection it lands after we have already given up.
		go func() {
			<-done
			if dialErr == nil && client != nil {
				client.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, errdefs.ConnectTimeout(addr, timeout)
		}
		return nil, ctx.Err()
	case <-done:
	}

	if dialErr != nil {
		switch {
		case isAuthError(dialErr):
			return nil, errdefs.AuthFailed(addr, dialErr)
		case isTimeoutError(dialErr):
			return nil, errdefs.ConnectTimeout(addr, timeout)
		default:
			return nil, errdefs.ConnectFailed(addr, dialErr)
		}
	}
	return &sshConn{client: client}, nil
}

func clientConfig(key HostKey, cred Credential, timeout time.Duration) (*ssh.ClientConfig, error) {
	var methods []ssh.AuthMethod
	if len(cred.PrivateKeyPEM) > 0 {
		var signer ssh.Signer
		var err error
		if cred.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(cred.PrivateKeyPEM, []byte(cred.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(cred.PrivateKeyPEM)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if cred.Password != "" {
		methods = append(methods, ssh.Password(cred.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("credential for %s has no usable auth method", key)
	}

	callback := ssh.InsecureIgnoreHostKey()
	if len(cred.HostPublicKey) > 0 {
		pub, _, _, _, err := ssh.ParseAuthorizedKey(cred.HostPublicKey)
		if err != nil {
			return nil, fmt.Errorf("parse pinned host key: %w", err)
		}
		callback = ssh.FixedHostKey(pub)
	}

	return &ssh.ClientConfig{
		User:            key.User,
		Auth:            methods,
		HostKeyCallback: callback,
		Timeout:         timeout,
	}, nil
}

func isAuthError(err error) bool {
	return strings.Contains(err.Error(), "unable to authenticate")
}

func isTimeoutError(err error) bool {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// sshConn wraps one authenticated SSH client. Each Run opens a fresh
// session on the shared transport.
type sshConn struct {
	client *ssh.Client
	broken atomic.Bool
}

func (c *sshConn) Healthy() bool {
	return !c.broken.Load()
}

func (c *sshConn) Close() error {
	return c.client.Close()
}

// Run executes command, streaming stdout through a bounded accumulator.
// A non-zero exit returns the captured result together with ExecFailed.
// Transport faults mark the connection broken so the pool drops it.
func (c *sshConn) Run(ctx context.Context, command string, opts ExecOptions) (*ExecResult, error) {
	start := time.Now()

	session, err := c.client.NewSession()
	if err != nil {
		c.broken.Store(true)
		return nil, errdefs.ExecFailed(-1, fmt.Sprintf("open session: %v", err))
	}
	defer session.Close()

	if opts.Stdin != nil {
		session.Stdin = opts.Stdin
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		c.broken.Store(true)
		return nil, errdefs.ExecFailed(-1, fmt.Sprintf("stdout pipe: %v", err))
	}

	var stderr bytes.Buffer
	session.Stderr = &capWriter{buf: &stderr, max: maxStderrBytes}

	acc := output.New(opts.MaxOutputBytes)

	if err := session.Start(command); err != nil {
		c.broken.Store(true)
		return nil, errdefs.ExecFailed(-1, fmt.Sprintf("start command: %v", err))
	}

	readDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, rerr := stdout.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if perr := acc.Push(chunk); perr != nil {
					readDone <- perr
					return
				}
			}
			if rerr != nil {
				if rerr == io.EOF {
					readDone <- nil
				} else {
					readDone <- rerr
				}
				return
			}
		}
	}()

	waitDone := make(chan error, 1)
	go func() { waitDone <- session.Wait() }()

	var waitErr error
	waited := false
	reading := readDone
	for !waited {
		select {
		case <-ctx.Done():
			session.Signal(ssh.SIGKILL)
			session.Close()
			<-waitDone
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errdefs.ExecTimeout(time.Since(start))
			}
			return nil, ctx.Err()

		case perr := <-reading:
			if perr != nil {
				// Output ceiling hit or the stream broke mid-read. Kill
				// the remote command and reap it before reporting.
				session.Signal(ssh.SIGKILL)
				session.Close()
				<-waitDone
				if _, ok := errdefs.As(perr); ok {
					return nil, perr
				}
				c.broken.Store(true)
				return nil, errdefs.ExecFailed(-1, fmt.Sprintf("read output: %v", perr))
			}
			reading = nil

		case waitErr = <-waitDone:
			waited = true
		}
	}

	// The command has exited; drain the reader to EOF if it is still going.
	if reading != nil {
		if perr := <-reading; perr != nil {
			if _, ok := errdefs.As(perr); ok {
				return nil, perr
			}
			c.broken.Store(true)
			return nil, errdefs.ExecFailed(-1, fmt.Sprintf("read output: %v", perr))
		}
	}

	data, _ := acc.Finalize()
	exitCode := 0
	if waitErr != nil {
		var exitErr *ssh.ExitError
		switch {
		case errors.As(waitErr, &exitErr):
			exitCode = exitErr.ExitStatus()
		case isExitMissing(waitErr):
			exitCode = -1
		default:
			c.broken.Store(true)
			return nil, errdefs.ExecFailed(-1, fmt.Sprintf("wait: %v", waitErr))
		}
	}

	res := &ExecResult{
		Stdout:   data,
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		Duration: time.Since(start),
	}
	if exitCode != 0 {
		return res, errdefs.ExecFailed(exitCode, res.Stderr)
	}
	return res, nil
}

func isExitMissing(err error) bool {
	var missing *ssh.ExitMissingError
	return errors.As(err, &missing)
}

// capWriter forwards writes into buf up to max bytes and silently drops
// the remainder, never failing the writer.
type capWriter struct {
	buf *bytes.Buffer
	max int
}

func (w *capWriter) Write(p []byte) (int, error) {
	if remain := w.max - w.buf.Len(); remain > 0 {
		if len(p) > remain {
			w.buf.Write(p[:remain])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
