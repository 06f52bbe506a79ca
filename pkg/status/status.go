// Package status owns the daemon-wide status snapshot: a single file
// containing the daemon's current state, the map of port states, and
// lock holders. Writes are atomic (temp file + rename); reads tolerate
// an absent or corrupted file by returning a default Idle snapshot.
package status

import (
	"os"
	"sync"
	"time"

	"github.com/cuemby/fbuildd/pkg/atomicfile"
	"github.com/cuemby/fbuildd/pkg/lockmgr"
	"github.com/cuemby/fbuildd/pkg/types"
)

// Manager owns the persisted status snapshot for one daemon instance.
type Manager struct {
	path      string
	daemonPID int
	startTime time.Time

	mu         sync.Mutex
	portStates map[string]types.PortState
}

// Path returns the file path this Manager persists its snapshot to, so
// other subsystems (the HTTP transport's /ready and info handlers) can
// read the same file without duplicating the path.
func (m *Manager) Path() string { return m.path }

// New constructs a Manager that persists to path.
func New(path string, daemonPID int, startTime time.Time) *Manager {
	return &Manager{path: path, daemonPID: daemonPID, startTime: startTime, portStates: make(map[string]types.PortState)}
}

// SetPortState records a port's current coarse state, visible on the
// next Update/snapshot.
func (m *Manager) SetPortState(ps types.PortState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portStates[ps.Port] = ps
}

// ClearPortState resets a port to Idle with no owner.
func (m *Manager) ClearPortState(port string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.portStates[port] = types.PortState{Port: port, State: types.PortIdle}
}

// Update writes a fresh snapshot reflecting state/message/current
// operation, the tracked port states, and the lock manager's current
// holders.
func (m *Manager) Update(state types.DaemonState, message, currentOperation string, inProgress bool, locks *lockmgr.Manager) error {
	m.mu.Lock()
	ports := make(map[string]types.PortState, len(m.portStates))
	for k, v := range m.portStates {
		ports[k] = v
	}
	m.mu.Unlock()

	var holders map[string]types.LockHolder
	if locks != nil {
		holders = locks.Holders()
	}

	snap := types.StatusSnapshot{
		DaemonPID:           m.daemonPID,
		StartTime:           m.startTime,
		State:               state,
		Message:             message,
		CurrentOperation:    currentOperation,
		OperationInProgress: inProgress,
		PortStates:          ports,
		LockHolders:         holders,
		UpdatedAt:           time.Now(),
	}
	return atomicfile.WriteJSON(m.path, snap, 0o644)
}

// Read loads the snapshot at path, tolerating a missing or corrupted
// file by returning a default Idle snapshot instead of an error.
func Read(path string) types.StatusSnapshot {
	var snap types.StatusSnapshot
	if err := atomicfile.ReadJSON(path, &snap); err != nil {
		if !os.IsNotExist(err) {
			// Corrupted file: fall through to the default below rather
			// than surfacing a parse error to status callers.
		}
		return types.StatusSnapshot{State: types.DaemonIdle, PortStates: map[string]types.PortState{}}
	}
	return snap
}
