package terminal

import (
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/internal/infrastructure/monitoring"
	"github.com/substratehq/substrate/internal/shared/errdefs"
	"github.com/substratehq/substrate/internal/shared/id"
)

// Config bounds the manager's resources
type Config struct {
	// MaxSessions caps concurrent sessions; 0 means unlimited
	MaxSessions int
	// BufferSize is the per-session pending-output ring size in bytes
	BufferSize int
	// DefaultRows and DefaultCols apply when spawn options leave them zero
	DefaultRows int
	DefaultCols int
}

// Manager owns zero or more terminal sessions
type Manager struct {
	cfg      Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	sessions sync.Map // map[string]*Session
}

// NewManager creates a session manager
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256 * 1024
	}
	if cfg.DefaultRows <= 0 {
		cfg.DefaultRows = 24
	}
	if cfg.DefaultCols <= 0 {
		cfg.DefaultCols = 80
	}
	return &Manager{cfg: cfg, logger: logger}
}

// WithMetrics enables session lifecycle metrics
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Spawn creates a new session running a shell under a PTY
func (m *Manager) Spawn(opts SpawnOptions) (*SessionInfo, error) {
	if m.cfg.MaxSessions > 0 && m.count() >= m.cfg.MaxSessions {
		return nil, errdefs.SpawnFailed(opts.Shell,
			fmt.Errorf("session limit of %d reached", m.cfg.MaxSessions))
	}

	shell, err := ResolveShell(opts.Shell)
	if err != nil {
		return nil, err
	}

	workingDir := opts.WorkingDir
	if workingDir == "" {
		workingDir = os.Getenv("HOME")
		if workingDir == "" {
			workingDir = "/tmp"
		}
	}

	rows := opts.Rows
	if rows <= 0 {
		rows = m.cfg.DefaultRows
	}
	cols := opts.Cols
	if cols <= 0 {
		cols = m.cfg.DefaultCols
	}

	sessionID := string(id.NewSessionID())

	cmd := exec.Command(shell)
	cmd.Dir = workingDir
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, "TERM=xterm-256color")
	for key, value := range opts.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
	if err != nil {
		return nil, errdefs.SpawnFailed(shell, err)
	}

	session := &Session{
		ID:         sessionID,
		Shell:      shell,
		WorkingDir: workingDir,
		Rows:       rows,
		Cols:       cols,
		StartedAt:  time.Now(),
		cmd:        cmd,
		ptmx:       ptmx,
		output:     NewBuffer(m.cfg.BufferSize),
	}

	m.sessions.Store(sessionID, session)

	go m.readPump(session)
	go m.monitorProcess(session)

	if m.metrics != nil {
		m.metrics.IncSessionsSpawned()
		m.metrics.SetSessionsActive(m.count())
	}

	m.logger.Info("session spawned",
		zap.String("session_id", sessionID),
		zap.String("shell", shell),
		zap.Int("rows", rows),
		zap.Int("cols", cols),
	)

	info := session.info()
	return &info, nil
}

// readPump continuously reads from the PTY into the session's ring buffer
func (m *Manager) readPump(session *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := session.ptmx.Read(buf)
		if n > 0 {
			session.output.Write(buf[:n])
		}
		if err != nil {
			if err != io.EOF {
				m.logger.Debug("session read ended",
					zap.String("session_id", session.ID),
					zap.Error(err),
				)
			}
			return
		}
	}
}

// monitorProcess waits for the child to exit and marks the session closed
func (m *Manager) monitorProcess(session *Session) {
	session.cmd.Wait()

	session.mu.Lock()
	alreadyClosed := session.closed
	session.closed = true
	session.mu.Unlock()

	if !alreadyClosed {
		session.ptmx.Close()
		m.logger.Info("session process exited",
			zap.String("session_id", session.ID),
		)
	}
}

// Write sends input bytes to a session's PTY
func (m *Manager) Write(sessionID string, input []byte) error {
	session, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	if !session.alive() {
		return errdefs.NotFound("session", sessionID)
	}

	session.writeMu.Lock()
	defer session.writeMu.Unlock()

	if _, err := session.ptmx.Write(input); err != nil {
		return errdefs.NotFound("session", sessionID)
	}
	return nil
}

// Read drains and returns pending output; empty when nothing is buffered.
// It never blocks waiting for the process to produce more.
func (m *Manager) Read(sessionID string) ([]byte, error) {
	session, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	return session.output.ReadAll(), nil
}

// Resize changes the terminal dimensions. Dimensions must fit the PTY
// winsize fields, so both sides are bounded to 1..65535.
func (m *Manager) Resize(sessionID string, rows, cols int) error {
	if rows <= 0 || cols <= 0 || rows > math.MaxUint16 || cols > math.MaxUint16 {
		return errdefs.InvalidRequest("dimensions",
			fmt.Sprintf("rows and cols must be within 1..65535, got %dx%d", rows, cols))
	}

	session, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.closed {
		return errdefs.NotFound("session", sessionID)
	}

	session.Rows = rows
	session.Cols = cols

	return pty.Setsize(session.ptmx, &pty.Winsize{
		Rows: uint16(rows),
		Cols: uint16(cols),
	})
}

// Close terminates a session. Closing an unknown or already-closed session
// is not an error; the ID is permanently invalid afterwards.
func (m *Manager) Close(sessionID string) error {
	value, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return nil
	}
	session := value.(*Session)

	if m.metrics != nil {
		m.metrics.IncSessionsClosed()
		m.metrics.SetSessionsActive(m.count())
	}

	session.mu.Lock()
	defer session.mu.Unlock()

	if session.closed {
		return nil
	}
	session.closed = true

	if session.cmd.Process != nil {
		session.cmd.Process.Kill()
	}
	session.ptmx.Close()

	m.logger.Info("session closed",
		zap.String("session_id", sessionID),
	)

	return nil
}

// List returns the public view of every session
func (m *Manager) List() []SessionInfo {
	var sessions []SessionInfo

	m.sessions.Range(func(_, value interface{}) bool {
		sessions = append(sessions, value.(*Session).info())
		return true
	})

	return sessions
}

// Get returns the public view of one session
func (m *Manager) Get(sessionID string) (*SessionInfo, error) {
	session, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	info := session.info()
	return &info, nil
}

// Shutdown closes every session
func (m *Manager) Shutdown() {
	m.sessions.Range(func(key, _ interface{}) bool {
		m.Close(key.(string))
		return true
	})
}

// lookup resolves a session ID to its live session
func (m *Manager) lookup(sessionID string) (*Session, error) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, errdefs.NotFound("session", sessionID)
	}
	return value.(*Session), nil
}

// count returns the number of tracked sessions
func (m *Manager) count() int {
	n := 0
	m.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
