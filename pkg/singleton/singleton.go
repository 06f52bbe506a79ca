// Package singleton resolves the daemon's singleton invariant: at most
// one fbuildd process owns a given daemon directory at a time. It pairs
// an OS-level exclusive, non-blocking file lock (flock) with an
// atomically written PID file so a concurrent spawn race resolves to
// exactly one winner instead of two daemons fighting over the same
// ports and ledger.
package singleton

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/cuemby/fbuildd/pkg/atomicfile"
	"github.com/cuemby/fbuildd/pkg/errs"
)

// pollInterval/pollTimeout bound how long a losing Acquire call polls
// daemon.pid for a live owner before giving up and reporting failure.
// Variables rather than constants so tests can shrink them.
var (
	pollInterval = 200 * time.Millisecond
	pollTimeout  = 12 * time.Second
)

// AlreadyRunning is Acquire's outcome when another, live daemon process
// already owns daemonDir. It is a normal outcome, not a failure: a
// losing caller attaches to the existing daemon instead of treating it
// as an error, even when the PID found doesn't match whatever process
// the caller expected to find.
type AlreadyRunning struct {
	PID int
}

// Handle represents a held singleton lock. Release drops the lock and
// removes the PID file; a crashed process that never calls Release
// leaves a stale PID file behind, which the next Acquire overwrites
// because the flock itself (not the PID file) is the source of truth.
type Handle struct {
	lock    *flock.Flock
	pidPath string
}

// Acquire attempts to become the singleton owner of daemonDir.
//
// On success it returns a Handle (non-nil) with no AlreadyRunning
// outcome and no error: the caller is the winner.
//
// On losing the race (the lock was never taken, so there is nothing to
// release), it polls daemon.pid for up to a bounded timeout; as soon as the
// recorded PID corresponds to a live process it returns a nil Handle
// plus a non-nil *AlreadyRunning describing that PID -- never an
// error. Only if no live owner is ever observed before the timeout
// does Acquire return a genuine error.
func Acquire(daemonDir string) (*Handle, *AlreadyRunning, error) {
	if err := os.MkdirAll(daemonDir, 0o755); err != nil {
		return nil, nil, errs.Wrap("singleton.Acquire", errs.KindInternal, err)
	}

	lockPath := filepath.Join(daemonDir, "daemon.lock")
	pidPath := filepath.Join(daemonDir, "daemon.pid")
	lock := flock.New(lockPath)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, nil, errs.Wrap("singleton.Acquire", errs.KindInternal, err)
	}
	if ok {
		if err := atomicfile.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
			_ = lock.Unlock()
			return nil, nil, errs.Wrap("singleton.Acquire", errs.KindInternal, err)
		}
		return &Handle{lock: lock, pidPath: pidPath}, nil, nil
	}

	// Lost the race. The lock was never acquired so there is nothing of
	// ours to release; poll the PID file rather than reporting failure
	// for what may simply be a live daemon that hasn't finished writing
	// it yet.
	deadline := time.Now().Add(pollTimeout)
	for {
		if pid, perr := ReadPID(daemonDir); perr == nil && processAlive(pid) {
			return nil, &AlreadyRunning{PID: pid}, nil
		}
		if time.Now().After(deadline) {
			return nil, nil, errs.New("singleton.Acquire", errs.KindInternal)
		}
		time.Sleep(pollInterval)
	}
}

// Release drops the singleton lock and removes the PID file.
func (h *Handle) Release() error {
	err := os.Remove(h.pidPath)
	if uerr := h.lock.Unlock(); uerr != nil {
		return uerr
	}
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ReadPID returns the PID recorded by the current (or last) lock holder
// for daemonDir, for use by CLI subcommands like "status"/"stop" that
// need to signal a running daemon without holding the lock themselves.
func ReadPID(daemonDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(daemonDir, "daemon.pid"))
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, fmt.Errorf("singleton: malformed pid file: %w", err)
	}
	return pid, nil
}

// IsAlive reports whether daemonDir's recorded owner is a live process.
func IsAlive(daemonDir string) bool {
	pid, err := ReadPID(daemonDir)
	if err != nil {
		return false
	}
	return processAlive(pid)
}
