// Package cancel implements fbuildd's cancellation registry: a running
// operation can be cancelled either by a client dropping a signal file
// next to the daemon's working directory, or implicitly, by its calling
// process having died. Results are cached for a short TTL to keep tight
// inner loops (e.g. per-translation-unit checks during a build) from
// hammering the filesystem or the process table.
package cancel

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/log"
	"github.com/cuemby/fbuildd/pkg/types"
)

// Reason identifies why check_cancellation considers a request
// cancelled.
type Reason string

const (
	NotCancelled Reason = "not_cancelled"
	SignalFile   Reason = "signal_file"
	ProcessDead  Reason = "process_dead"
)

// cancellableKinds lists operation kinds that should actually stop
// mid-flight on cancellation. Install Dependencies is deliberately
// excluded: cancelling mid-download is worse than letting it finish.
var cancellableKinds = map[types.RequestKind]bool{
	types.RequestBuild:   true,
	types.RequestDeploy:  true,
	types.RequestMonitor: true,
}

type cacheEntry struct {
	reason   Reason
	cachedAt time.Time
}

// Registry tracks signal files dropped under dir and answers liveness
// checks against caller PIDs.
type Registry struct {
	dir string
	ttl time.Duration

	mu    sync.Mutex
	cache map[string]cacheEntry

	watcher *fsnotify.Watcher
	signals map[string]struct{} // fast-path set updated by the watcher
	sigMu   sync.RWMutex
}

// New constructs a Registry watching dir for "cancel_<request_id>.signal"
// files, caching results for ttl.
func New(dir string, ttl time.Duration) (*Registry, error) {
	if ttl <= 0 {
		ttl = 100 * time.Millisecond
	}
	r := &Registry{
		dir:     dir,
		ttl:     ttl,
		cache:   make(map[string]cacheEntry),
		signals: make(map[string]struct{}),
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// fsnotify is a fast-path optimization only; CheckCancellation
		// still works via direct os.Stat if the watcher can't start.
		log.WithComponent("cancel").Warn().Err(err).Msg("fsnotify watcher unavailable, falling back to stat-only checks")
		return r, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		log.WithComponent("cancel").Warn().Err(err).Msg("fsnotify watch add failed, falling back to stat-only checks")
		return r, nil
	}
	r.watcher = watcher
	go r.watchLoop()
	return r, nil
}

func (r *Registry) watchLoop() {
	for event := range r.watcher.Events {
		if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
			r.sigMu.Lock()
			r.signals[event.Name] = struct{}{}
			r.sigMu.Unlock()
		}
	}
}

// Close stops the underlying filesystem watcher, if any.
func (r *Registry) Close() error {
	if r.watcher != nil {
		return r.watcher.Close()
	}
	return nil
}

// CheckCancellation reports why requestID is considered cancelled, if
// at all, consulting (and refreshing) the TTL cache.
func (r *Registry) CheckCancellation(requestID string, callerPID int) Reason {
	r.mu.Lock()
	if e, ok := r.cache[requestID]; ok && time.Since(e.cachedAt) < r.ttl {
		r.mu.Unlock()
		return e.reason
	}
	r.mu.Unlock()

	reason := r.compute(requestID, callerPID)

	r.mu.Lock()
	r.cache[requestID] = cacheEntry{reason: reason, cachedAt: time.Now()}
	r.mu.Unlock()
	return reason
}

func (r *Registry) compute(requestID string, callerPID int) Reason {
	if signalFileExists(r.dir, requestID) {
		return SignalFile
	}
	if callerPID > 0 && !processAlive(callerPID) {
		return ProcessDead
	}
	return NotCancelled
}

// CheckAndRaiseIfCancelled returns a cancellation error only for
// cancellable operation kinds; kinds classified "continue" (dependency
// download) never raise even if a cancellation signal is present.
func (r *Registry) CheckAndRaiseIfCancelled(requestID string, callerPID int, kind types.RequestKind) error {
	if !cancellableKinds[kind] {
		return nil
	}
	if reason := r.CheckCancellation(requestID, callerPID); reason != NotCancelled {
		return errs.New("cancel.CheckAndRaiseIfCancelled", errs.KindCancelled)
	}
	return nil
}
