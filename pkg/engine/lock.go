package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/casepilot/casepilot/pkg/logging"
)

// lockFileName is the PID file guarding against concurrent runs sharing
// one browser profile.
const lockFileName = "run.lock"

// RunLock is an exclusive filesystem lock for the automation session. Two
// concurrent runs against the same vendor account would interleave
// navigation and corrupt both; the lock makes the second starter fail fast
// instead.
type RunLock struct {
	path string
	held bool
	log  *logging.Logger
}

// NewRunLock creates a lock rooted in dir. When dir is empty the default
// application directory under the user's home is used.
func NewRunLock(dir string, log *logging.Logger) (*RunLock, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".casepilot")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &RunLock{path: filepath.Join(dir, lockFileName), log: log}, nil
}

// Acquire takes the lock, writing this process's PID. A lock file left by
// a process that no longer exists is treated as stale and replaced.
func (l *RunLock) Acquire() error {
	if l.held {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		owner, stale := l.inspect()
		if !stale {
			return fmt.Errorf("another run is already active (pid %d, lock %s)", owner, l.path)
		}
		l.log.Warnf("removing stale run lock %s (pid %d is gone)", l.path, owner)
		if err := os.Remove(l.path); err != nil {
			return fmt.Errorf("failed to remove stale lock: %w", err)
		}
		f, err = os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return fmt.Errorf("failed to take over stale lock: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		os.Remove(l.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	l.held = true
	return nil
}

// Held reports whether this process currently owns the lock.
func (l *RunLock) Held() bool {
	return l.held
}

// Path returns the lock file location, for diagnostics.
func (l *RunLock) Path() string {
	return l.path
}

// Release drops the lock. Safe to call when not held.
func (l *RunLock) Release() error {
	if !l.held {
		return nil
	}
	l.held = false
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// inspect reads the owner PID from the lock file and reports whether that
// process is gone. An unreadable or malformed file counts as stale.
func (l *RunLock) inspect() (pid int, stale bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, true
	}
	pid, err = strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, true
	}
	// Signal 0 probes for existence without delivering anything.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, true
	}
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return pid, true
	}
	return pid, false
}
