// Package opregistry is the structured replacement for a bare "busy"
// flag: it tracks every accepted request as an Operation moving through
// Queued -> Running -> a terminal state, with bounded retention so a
// long-running daemon's memory doesn't grow without bound.
package opregistry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/fbuildd/pkg/types"
)

// Registry owns every tracked Operation.
type Registry struct {
	mu         sync.RWMutex
	ops        map[string]*types.Operation
	order      []string // insertion order, oldest first, for eviction
	maxHistory int
}

// New constructs a Registry retaining up to maxHistory terminal
// operations (oldest evicted first beyond that).
func New(maxHistory int) *Registry {
	if maxHistory <= 0 {
		maxHistory = 100
	}
	return &Registry{ops: make(map[string]*types.Operation), maxHistory: maxHistory}
}

// RegisterOperation creates and stores a new Queued operation, returning
// its assigned ID.
func (r *Registry) RegisterOperation(kind types.RequestKind, projectDir, environment string, callerPID int, requestID string) string {
	opID := uuid.NewString()
	op := &types.Operation{
		OperationID: opID,
		Kind:        kind,
		ProjectDir:  projectDir,
		Environment: environment,
		State:       types.OperationQueued,
		CallerPID:   callerPID,
		RequestID:   requestID,
		CreatedAt:   time.Now(),
	}

	r.mu.Lock()
	r.ops[opID] = op
	r.order = append(r.order, opID)
	r.mu.Unlock()
	return opID
}

// UpdateFields carries the optional fields UpdateState applies; zero
// values leave the operation's corresponding field unchanged.
type UpdateFields struct {
	SubprocessID  string
	CompileJobID  string
	Error         string
	Result        interface{}
}

// UpdateState transitions opID to newState, auto-stamping StartedAt on
// Running and CompletedAt on any terminal state, and applies any
// non-zero fields.
func (r *Registry) UpdateState(opID string, newState types.OperationState, fields UpdateFields) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[opID]
	if !ok {
		return false
	}

	op.State = newState
	now := time.Now()
	if newState == types.OperationRunning && op.StartedAt == nil {
		op.StartedAt = &now
	}
	if newState.IsTerminal() && op.CompletedAt == nil {
		op.CompletedAt = &now
	}
	if fields.SubprocessID != "" {
		op.SubprocessIDs = append(op.SubprocessIDs, fields.SubprocessID)
	}
	if fields.CompileJobID != "" {
		op.CompileJobIDs = append(op.CompileJobIDs, fields.CompileJobID)
	}
	if fields.Error != "" {
		op.Error = fields.Error
	}
	if fields.Result != nil {
		op.Result = fields.Result
	}

	if newState.IsTerminal() {
		r.evictLocked()
	}
	return true
}

// evictLocked drops the oldest terminal operations beyond maxHistory.
// Must be called with r.mu held.
func (r *Registry) evictLocked() {
	terminalCount := 0
	for _, id := range r.order {
		if op, ok := r.ops[id]; ok && op.State.IsTerminal() {
			terminalCount++
		}
	}
	kept := r.order[:0]
	for _, id := range r.order {
		op, ok := r.ops[id]
		if !ok {
			continue
		}
		if terminalCount > r.maxHistory && op.State.IsTerminal() {
			delete(r.ops, id)
			terminalCount--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

// GetOperation returns a copy of the operation record, if known.
func (r *Registry) GetOperation(opID string) (types.Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[opID]
	if !ok {
		return types.Operation{}, false
	}
	return *op, true
}

// GetActiveOperations returns every operation not yet in a terminal
// state.
func (r *Registry) GetActiveOperations() []types.Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Operation
	for _, id := range r.order {
		op, ok := r.ops[id]
		if ok && !op.State.IsTerminal() {
			out = append(out, *op)
		}
	}
	return out
}

// GetOperationsByProject returns every known operation for projectDir.
func (r *Registry) GetOperationsByProject(projectDir string) []types.Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.Operation
	for _, id := range r.order {
		op, ok := r.ops[id]
		if ok && op.ProjectDir == projectDir {
			out = append(out, *op)
		}
	}
	return out
}

// IsProjectBusy reports whether projectDir has any non-terminal
// operation in flight.
func (r *Registry) IsProjectBusy(projectDir string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, op := range r.ops {
		if op.ProjectDir == projectDir && !op.State.IsTerminal() {
			return true
		}
	}
	return false
}

// Statistics summarizes the registry for the status/metrics surface.
type Statistics struct {
	Total    int
	Active   int
	Terminal int
}

// GetStatistics reports current registry-wide counts.
func (r *Registry) GetStatistics() Statistics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := Statistics{Total: len(r.ops)}
	for _, op := range r.ops {
		if op.State.IsTerminal() {
			stats.Terminal++
		} else {
			stats.Active++
		}
	}
	return stats
}
