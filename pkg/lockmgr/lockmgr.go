// Package lockmgr implements fbuildd's resource lock manager: named,
// reentrant locks over two domains (port, project). Holding a lock is
// equivalent to having called Acquire without a matching Release yet;
// release is guaranteed by scoped acquisition (callers always defer the
// returned release func).
package lockmgr

import (
	"context"
	"sync"

	"github.com/cuemby/fbuildd/pkg/types"
)

// entry is one named lock: a reentrant mutex plus bookkeeping used for
// idle cleanup and status reporting. The mutex is reentrant only with
// respect to a single holder identity (ownerID) recorded while held --
// this is bookkeeping, not a true recursive mutex, and a second
// acquisition by a different owner still blocks on sem.
//
// depth and acquisitions are deliberately distinct counters: depth is
// the current holder's reentrancy nesting, reset to 0 on full release;
// acquisitions is a monotonic count of every successful top-level
// acquire this entry has ever seen, never reset, and is what
// get_lock_status reports.
type entry struct {
	sem          chan struct{} // capacity 1, acts as a non-blocking-acquirable mutex
	mu           sync.Mutex    // protects the fields below
	held         bool
	ownerID      string
	depth        int
	acquisitions int
}

func newEntry() *entry {
	return &entry{sem: make(chan struct{}, 1)}
}

// Manager owns every named resource lock, keyed by (kind, key).
type Manager struct {
	mu    sync.Mutex
	locks map[types.LockKind]map[string]*entry
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{locks: make(map[types.LockKind]map[string]*entry)}
}

func (m *Manager) entryFor(kind types.LockKind, key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.locks[kind]
	if !ok {
		byKey = make(map[string]*entry)
		m.locks[kind] = byKey
	}
	e, ok := byKey[key]
	if !ok {
		e = newEntry()
		byKey[key] = e
	}
	return e
}

// Acquire blocks (respecting ctx cancellation) until the named lock is
// held by ownerID, then returns a release func. Reentrant: if ownerID
// already holds this lock, the call returns immediately and the
// returned release func only decrements the reentrancy depth, fully
// releasing on the matching outermost call.
func (m *Manager) Acquire(ctx context.Context, kind types.LockKind, key, ownerID string) (func(), error) {
	e := m.entryFor(kind, key)

	e.mu.Lock()
	if e.held && e.ownerID == ownerID {
		e.depth++
		e.mu.Unlock()
		return func() { m.release(e) }, nil
	}
	e.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.mu.Lock()
	e.held = true
	e.ownerID = ownerID
	e.depth = 1
	e.acquisitions++
	e.mu.Unlock()

	return func() { m.release(e) }, nil
}

// TryAcquire is the non-blocking form of Acquire: it returns ok=false
// immediately instead of waiting if the lock is held by another owner.
func (m *Manager) TryAcquire(kind types.LockKind, key, ownerID string) (release func(), ok bool) {
	e := m.entryFor(kind, key)

	e.mu.Lock()
	if e.held && e.ownerID == ownerID {
		e.depth++
		e.mu.Unlock()
		return func() { m.release(e) }, true
	}
	e.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	default:
		return nil, false
	}

	e.mu.Lock()
	e.held = true
	e.ownerID = ownerID
	e.depth = 1
	e.acquisitions++
	e.mu.Unlock()

	return func() { m.release(e) }, true
}

func (m *Manager) release(e *entry) {
	e.mu.Lock()
	if !e.held {
		e.mu.Unlock()
		return
	}
	e.depth--
	if e.depth > 0 {
		e.mu.Unlock()
		return
	}
	e.held = false
	e.ownerID = ""
	e.mu.Unlock()
	<-e.sem
}

// Holders returns a status snapshot of every lock this Manager has ever
// seen, keyed by "kind:key", independent of whether it is currently
// held: acquisitions is a bookkeeping counter that never resets, so
// get_lock_status can report a project's lock count long after the
// project lock has been released.
func (m *Manager) Holders() map[string]types.LockHolder {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]types.LockHolder)
	for kind, byKey := range m.locks {
		for key, e := range byKey {
			e.mu.Lock()
			out[string(kind)+":"+key] = types.LockHolder{
				Kind:           kind,
				Key:            key,
				OperationID:    e.ownerID,
				AcquisitionCnt: e.acquisitions,
			}
			e.mu.Unlock()
		}
	}
	return out
}

// Cleanup removes idle (never-held, or currently-unheld) lock entries
// to bound memory growth across the lifetime of a long-running daemon.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, byKey := range m.locks {
		for key, e := range byKey {
			e.mu.Lock()
			idle := !e.held
			e.mu.Unlock()
			if idle {
				delete(byKey, key)
			}
		}
		if len(byKey) == 0 {
			delete(m.locks, kind)
		}
	}
}
