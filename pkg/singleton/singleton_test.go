package singleton

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_WinnerWritesOwnPID(t *testing.T) {
	dir := t.TempDir()

	h, already, err := Acquire(dir)
	require.NoError(t, err)
	require.Nil(t, already)
	require.NotNil(t, h)
	defer h.Release()

	pid, err := ReadPID(dir)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.True(t, IsAlive(dir))
}

func TestAcquire_LoserGetsAlreadyRunningNotError(t *testing.T) {
	dir := t.TempDir()

	h, already, err := Acquire(dir)
	require.NoError(t, err)
	require.Nil(t, already)
	defer h.Release()

	// A second Acquire call against the same daemonDir loses the flock
	// race; since the winner already wrote a live PID, it must resolve
	// as AlreadyRunning, not an error, and should not need to wait out
	// the full poll timeout.
	h2, already2, err := Acquire(dir)
	assert.NoError(t, err)
	assert.Nil(t, h2)
	require.NotNil(t, already2)
	assert.Equal(t, os.Getpid(), already2.PID)
}

func TestAcquire_LoserPollsUntilPIDFileAppears(t *testing.T) {
	dir := t.TempDir()

	// Hold the flock directly (simulating a winner that has claimed the
	// lock but hasn't yet written daemon.pid) without going through
	// Acquire.
	lockPath := filepath.Join(dir, "daemon.lock")
	holder := flock.New(lockPath)
	ok, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer holder.Unlock()

	origInterval := pollInterval
	pollInterval = 5 * time.Millisecond
	defer func() { pollInterval = origInterval }()

	done := make(chan struct{})
	var h *Handle
	var already *AlreadyRunning
	var acquireErr error
	go func() {
		h, already, acquireErr = Acquire(dir)
		close(done)
	}()

	// Simulate the winner finishing its PID write shortly after grabbing
	// the flock.
	time.Sleep(20 * time.Millisecond)
	pidPath := filepath.Join(dir, "daemon.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Acquire never observed the PID file appear")
	}

	require.NoError(t, acquireErr)
	assert.Nil(t, h)
	require.NotNil(t, already)
	assert.Equal(t, os.Getpid(), already.PID)
}

func TestAcquire_TimesOutWhenNoLiveOwnerEverAppears(t *testing.T) {
	dir := t.TempDir()

	lockPath := filepath.Join(dir, "daemon.lock")
	holder := flock.New(lockPath)
	ok, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer holder.Unlock()

	origInterval, origTimeout := pollInterval, pollTimeout
	pollInterval = 2 * time.Millisecond
	pollTimeout = 20 * time.Millisecond
	defer func() { pollInterval, pollTimeout = origInterval, origTimeout }()

	h, already, err := Acquire(dir)
	assert.Error(t, err)
	assert.Nil(t, h)
	assert.Nil(t, already)
}

func TestRelease_RemovesPIDFileAndUnlocks(t *testing.T) {
	dir := t.TempDir()

	h, already, err := Acquire(dir)
	require.NoError(t, err)
	require.Nil(t, already)

	require.NoError(t, h.Release())

	_, err = ReadPID(dir)
	assert.Error(t, err, "pid file must be removed on release")
	assert.False(t, IsAlive(dir))

	// A fresh Acquire should now win cleanly.
	h2, already2, err := Acquire(dir)
	require.NoError(t, err)
	require.Nil(t, already2)
	require.NotNil(t, h2)
	defer h2.Release()
}
