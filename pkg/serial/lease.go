package serial

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fbuildd/pkg/errs"
)

// LeaseManager grants exclusive, time-boxed ownership of a port to one
// client, distinct from the per-request port lock taken by a single
// Monitor/Deploy processor run: a lease lets a test harness hold a
// board across several short-lived requests without racing other
// clients. A lease that expires without renewal is simply dropped --
// callers are expected to consult IsLeased before acquiring the
// underlying resource lock.
type LeaseManager struct {
	mu     sync.Mutex
	leases map[string]*lease // port -> lease
}

type lease struct {
	id        string
	clientID  string
	expiresAt time.Time
}

// NewLeaseManager constructs an empty LeaseManager.
func NewLeaseManager() *LeaseManager {
	return &LeaseManager{leases: make(map[string]*lease)}
}

// Lease grants clientID exclusive ownership of port for ttl, failing if
// another client already holds an unexpired lease on it.
func (lm *LeaseManager) Lease(port, clientID string, ttl time.Duration) (string, error) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if existing, ok := lm.leases[port]; ok && time.Now().Before(existing.expiresAt) && existing.clientID != clientID {
		return "", errs.New("serial.Lease", errs.KindPortBusy)
	}

	id := uuid.NewString()
	lm.leases[port] = &lease{id: id, clientID: clientID, expiresAt: time.Now().Add(ttl)}
	return id, nil
}

// Renew extends an existing lease's expiry by ttl.
func (lm *LeaseManager) Renew(port, leaseID string, ttl time.Duration) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.leases[port]
	if !ok || l.id != leaseID {
		return errs.New("serial.Renew", errs.KindNotFound)
	}
	l.expiresAt = time.Now().Add(ttl)
	return nil
}

// Release drops a lease early.
func (lm *LeaseManager) Release(port, leaseID string) error {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.leases[port]
	if !ok || l.id != leaseID {
		return errs.New("serial.Release", errs.KindNotFound)
	}
	delete(lm.leases, port)
	return nil
}

// IsLeased reports whether port is currently leased to a client other
// than clientID.
func (lm *LeaseManager) IsLeased(port, clientID string) bool {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	l, ok := lm.leases[port]
	if !ok || time.Now().After(l.expiresAt) {
		return false
	}
	return l.clientID != clientID
}
