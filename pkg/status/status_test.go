package status

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fbuildd/pkg/lockmgr"
	"github.com/cuemby/fbuildd/pkg/types"
)

func TestRead_MissingFileReturnsIdleDefault(t *testing.T) {
	snap := Read(filepath.Join(t.TempDir(), "does_not_exist.json"))
	assert.Equal(t, types.DaemonIdle, snap.State)
	assert.NotNil(t, snap.PortStates)
}

func TestUpdateThenRead_RoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon_status.json")
	start := time.Now()
	m := New(path, 4242, start)

	require.NoError(t, m.Update(types.DaemonCompleted, "build ok", "op-1", false, nil))

	snap := Read(path)
	assert.Equal(t, types.DaemonCompleted, snap.State)
	assert.Equal(t, "build ok", snap.Message)
	assert.Equal(t, "op-1", snap.CurrentOperation)
	assert.Equal(t, 4242, snap.DaemonPID)
}

func TestSetPortState_AppearsInNextUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon_status.json")
	m := New(path, 1, time.Now())

	m.SetPortState(types.PortState{Port: "/dev/ttyUSB0", State: types.PortMonitoring})
	require.NoError(t, m.Update(types.DaemonIdle, "", "", false, nil))

	snap := Read(path)
	ps, ok := snap.PortStates["/dev/ttyUSB0"]
	require.True(t, ok)
	assert.Equal(t, types.PortMonitoring, ps.State)
}

func TestClearPortState_ResetsToIdle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon_status.json")
	m := New(path, 1, time.Now())

	m.SetPortState(types.PortState{Port: "/dev/ttyUSB0", State: types.PortUploading})
	m.ClearPortState("/dev/ttyUSB0")
	require.NoError(t, m.Update(types.DaemonIdle, "", "", false, nil))

	snap := Read(path)
	assert.Equal(t, types.PortIdle, snap.PortStates["/dev/ttyUSB0"].State)
}

func TestUpdate_IncludesLockHoldersWhenLocksProvided(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon_status.json")
	m := New(path, 1, time.Now())
	locks := lockmgr.New()

	release, ok := locks.TryAcquire(types.LockKindPort, "/dev/ttyUSB0", "op-1")
	require.True(t, ok)
	defer release()

	require.NoError(t, m.Update(types.DaemonBuilding, "building", "op-1", true, locks))

	snap := Read(path)
	require.Contains(t, snap.LockHolders, "port:/dev/ttyUSB0")
	assert.Equal(t, "op-1", snap.LockHolders["port:/dev/ttyUSB0"].OperationID)
}

func TestPath_ReturnsConstructorPath(t *testing.T) {
	m := New("/tmp/whatever.json", 1, time.Now())
	assert.Equal(t, "/tmp/whatever.json", m.Path())
}
