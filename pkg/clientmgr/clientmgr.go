// Package clientmgr tracks every connection a daemon client holds open:
// liveness via heartbeat age, attached resource IDs so teardown is
// complete, and cleanup callbacks fired once on client death.
package clientmgr

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fbuildd/pkg/log"
	"github.com/cuemby/fbuildd/pkg/types"
)

// CleanupCallback is invoked once per dead or explicitly-removed client,
// receiving a copy of its final ClientInfo. Panics inside a callback are
// recovered and logged so one misbehaving callback can't block cleanup
// of the others.
type CleanupCallback func(types.Client)

// Manager owns every tracked client connection.
type Manager struct {
	heartbeatTimeout time.Duration

	mu        sync.RWMutex
	clients   map[string]*types.Client
	callbacks []CleanupCallback
}

// New constructs a Manager that considers a client dead once its last
// heartbeat is older than heartbeatTimeout.
func New(heartbeatTimeout time.Duration) *Manager {
	return &Manager{heartbeatTimeout: heartbeatTimeout, clients: make(map[string]*types.Client)}
}

// RegisterClient adds a new client, generating a client ID if id is
// empty.
func (m *Manager) RegisterClient(id string, pid int, metadata map[string]string) types.Client {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	c := &types.Client{
		ClientID:      id,
		PID:           pid,
		ConnectTime:   now,
		LastHeartbeat: now,
		Metadata:      metadata,
		ResourceIDs:   make(map[string]struct{}),
	}

	m.mu.Lock()
	m.clients[id] = c
	m.mu.Unlock()
	return *c
}

// UpdateHeartbeat bumps id's last-heartbeat time to now.
func (m *Manager) UpdateHeartbeat(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok {
		return false
	}
	c.LastHeartbeat = time.Now()
	return true
}

// IsClientAlive reports whether id's last heartbeat is within the
// configured timeout.
func (m *Manager) IsClientAlive(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return false
	}
	return time.Since(c.LastHeartbeat) < m.heartbeatTimeout
}

// GetDeadClients returns every client whose heartbeat has expired.
func (m *Manager) GetDeadClients() []types.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Client
	for _, c := range m.clients {
		if time.Since(c.LastHeartbeat) >= m.heartbeatTimeout {
			out = append(out, *c)
		}
	}
	return out
}

// CleanupDeadClients removes every dead client, firing all registered
// cleanup callbacks for each.
func (m *Manager) CleanupDeadClients() int {
	dead := m.GetDeadClients()
	for _, c := range dead {
		m.removeClient(c.ClientID)
	}
	return len(dead)
}

// RegisterCleanupCallback adds cb to the set invoked whenever a client
// is removed (dead or explicit).
func (m *Manager) RegisterCleanupCallback(cb CleanupCallback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

// RemoveClient explicitly removes id (e.g. on clean Detach), firing
// cleanup callbacks the same as a heartbeat-timeout removal.
func (m *Manager) RemoveClient(id string) bool {
	return m.removeClient(id)
}

func (m *Manager) removeClient(id string) bool {
	m.mu.Lock()
	c, ok := m.clients[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	snapshot := *c
	delete(m.clients, id)
	callbacks := make([]CleanupCallback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, cb := range callbacks {
		invokeSafely(cb, snapshot)
	}
	return true
}

func invokeSafely(cb CleanupCallback, c types.Client) {
	defer func() {
		if r := recover(); r != nil {
			log.WithComponent("clientmgr").Error().
				Interface("panic", r).
				Str("client_id", c.ClientID).
				Msg("cleanup callback panicked, continuing")
		}
	}()
	cb(c)
}

// AttachResource ties resourceID (an opaque ID such as "port:/dev/ttyUSB0"
// or an operation ID) to client so teardown on death is complete.
func (m *Manager) AttachResource(clientID, resourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return false
	}
	c.ResourceIDs[resourceID] = struct{}{}
	return true
}

// DetachResource untracks resourceID from client.
func (m *Manager) DetachResource(clientID, resourceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[clientID]
	if !ok {
		return false
	}
	delete(c.ResourceIDs, resourceID)
	return true
}

// GetClientResources returns the set of resource IDs attached to client.
func (m *Manager) GetClientResources(clientID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[clientID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.ResourceIDs))
	for id := range c.ResourceIDs {
		out = append(out, id)
	}
	return out
}
