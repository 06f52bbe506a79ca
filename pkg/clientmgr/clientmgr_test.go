package clientmgr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fbuildd/pkg/types"
)

func TestRegisterClient_GeneratesIDWhenEmpty(t *testing.T) {
	m := New(time.Minute)
	c := m.RegisterClient("", 42, nil)
	assert.NotEmpty(t, c.ClientID)
	assert.Equal(t, 42, c.PID)
	assert.True(t, m.IsClientAlive(c.ClientID))
}

func TestIsClientAlive_FalseForUnknownClient(t *testing.T) {
	m := New(time.Minute)
	assert.False(t, m.IsClientAlive("nope"))
}

func TestIsClientAlive_FalseAfterHeartbeatTimeout(t *testing.T) {
	m := New(10 * time.Millisecond)
	c := m.RegisterClient("cli-1", 1, nil)
	assert.True(t, m.IsClientAlive(c.ClientID))

	time.Sleep(20 * time.Millisecond)
	assert.False(t, m.IsClientAlive(c.ClientID))
}

func TestUpdateHeartbeat_ExtendsLiveness(t *testing.T) {
	m := New(30 * time.Millisecond)
	c := m.RegisterClient("cli-1", 1, nil)

	time.Sleep(20 * time.Millisecond)
	require.True(t, m.UpdateHeartbeat(c.ClientID))
	assert.True(t, m.IsClientAlive(c.ClientID))
}

func TestUpdateHeartbeat_FalseForUnknownClient(t *testing.T) {
	m := New(time.Minute)
	assert.False(t, m.UpdateHeartbeat("nope"))
}

func TestAttachDetachResource_TracksResourceSet(t *testing.T) {
	m := New(time.Minute)
	c := m.RegisterClient("cli-1", 1, nil)

	require.True(t, m.AttachResource(c.ClientID, "port:/dev/ttyUSB0"))
	assert.ElementsMatch(t, []string{"port:/dev/ttyUSB0"}, m.GetClientResources(c.ClientID))

	require.True(t, m.DetachResource(c.ClientID, "port:/dev/ttyUSB0"))
	assert.Empty(t, m.GetClientResources(c.ClientID))
}

func TestAttachResource_FalseForUnknownClient(t *testing.T) {
	m := New(time.Minute)
	assert.False(t, m.AttachResource("nope", "port:/dev/ttyUSB0"))
}

func TestCleanupDeadClients_FiresCallbackOncePerDeadClient(t *testing.T) {
	m := New(10 * time.Millisecond)
	c := m.RegisterClient("cli-1", 1, nil)
	m.AttachResource(c.ClientID, "port:/dev/ttyUSB0")

	var gotClient types.Client
	calls := 0
	m.RegisterCleanupCallback(func(cl types.Client) {
		calls++
		gotClient = cl
	})

	time.Sleep(20 * time.Millisecond)
	n := m.CleanupDeadClients()

	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
	assert.Equal(t, c.ClientID, gotClient.ClientID)
	assert.Contains(t, gotClient.ResourceIDs, "port:/dev/ttyUSB0")
	assert.False(t, m.IsClientAlive(c.ClientID))
}

func TestRemoveClient_FiresCallbackOnExplicitRemoval(t *testing.T) {
	m := New(time.Minute)
	c := m.RegisterClient("cli-1", 1, nil)

	calls := 0
	m.RegisterCleanupCallback(func(types.Client) { calls++ })

	assert.True(t, m.RemoveClient(c.ClientID))
	assert.Equal(t, 1, calls)
	assert.False(t, m.RemoveClient(c.ClientID), "second removal of the same client is a no-op")
}

func TestCleanupCallback_PanicDoesNotStopOtherCallbacks(t *testing.T) {
	m := New(10 * time.Millisecond)
	c := m.RegisterClient("cli-1", 1, nil)

	secondRan := false
	m.RegisterCleanupCallback(func(types.Client) { panic("boom") })
	m.RegisterCleanupCallback(func(types.Client) { secondRan = true })

	time.Sleep(20 * time.Millisecond)
	assert.NotPanics(t, func() { m.CleanupDeadClients() })
	assert.True(t, secondRan)
}
