package terminal

import (
	"os"
	"os/exec"
	"sync"
	"time"
)

// SpawnOptions configures a new session. Zero values pick defaults:
// shell resolution chain, $HOME working directory, 80x24 dimensions.
type SpawnOptions struct {
	Shell      string
	WorkingDir string
	Rows       int
	Cols       int
	Env        map[string]string
}

// Session represents one live terminal session
type Session struct {
	ID         string
	Shell      string
	WorkingDir string
	Rows       int
	Cols       int
	StartedAt  time.Time

	// Process management
	cmd  *exec.Cmd
	ptmx *os.File

	// Output buffering
	output *Buffer

	// Input writes are serialized so concurrent callers cannot
	// interleave bytes into the PTY
	writeMu sync.Mutex

	// Lifecycle
	mu     sync.RWMutex
	closed bool
}

// alive reports whether the session still accepts input
func (s *Session) alive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

// SessionInfo is the public representation of a session
type SessionInfo struct {
	ID         string    `json:"id"`
	Shell      string    `json:"shell"`
	WorkingDir string    `json:"working_dir"`
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	StartedAt  time.Time `json:"started_at"`
	Active     bool      `json:"active"`
}

// info builds the public view under the session lock
func (s *Session) info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		ID:         s.ID,
		Shell:      s.Shell,
		WorkingDir: s.WorkingDir,
		Rows:       s.Rows,
		Cols:       s.Cols,
		StartedAt:  s.StartedAt,
		Active:     !s.closed,
	}
}
