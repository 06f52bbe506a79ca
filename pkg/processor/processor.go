// Package processor implements the request processor framework: the
// common lifecycle every concrete processor (Build, Deploy, Monitor,
// Install Dependencies) shares -- register the operation, acquire its
// required locks in a fixed, deadlock-free order, run, then record the
// terminal state and release the locks -- is driven once here so each
// concrete processor only implements its own execution logic.
package processor

import (
	"context"
	"sort"
	"time"

	"github.com/cuemby/fbuildd/pkg/cancel"
	"github.com/cuemby/fbuildd/pkg/compqueue"
	"github.com/cuemby/fbuildd/pkg/errs"
	"github.com/cuemby/fbuildd/pkg/events"
	"github.com/cuemby/fbuildd/pkg/lockmgr"
	"github.com/cuemby/fbuildd/pkg/log"
	"github.com/cuemby/fbuildd/pkg/metrics"
	"github.com/cuemby/fbuildd/pkg/opregistry"
	"github.com/cuemby/fbuildd/pkg/status"
	"github.com/cuemby/fbuildd/pkg/types"
)

// LockRequirement is one (domain, key) pair a processor needs held for
// the duration of its run.
type LockRequirement struct {
	Kind types.LockKind
	Key  string
}

// Context is the shared, read-only collaborator set every processor
// executes against. It is constructed once by the Daemon Context and
// passed to every processor invocation.
type Context struct {
	Locks      *lockmgr.Manager
	Operations *opregistry.Registry
	Status     *status.Manager
	Cancel     *cancel.Registry
	Events     *events.Broker
	Compile    *compqueue.Queue
}

// publish is a nil-safe helper: a Context built without an Events
// broker (e.g. in unit tests) just skips publication.
func (c *Context) publish(ev *events.Event) {
	if c.Events != nil {
		c.Events.Publish(ev)
	}
}

// Processor is implemented by each concrete request handler.
type Processor interface {
	OperationType() types.RequestKind
	RequiredLocks(req types.Request) []LockRequirement
	ValidateRequest(req types.Request) error
	StartingState() types.DaemonState
	StartingMessage(req types.Request) string
	SuccessMessage(req types.Request) string
	FailureMessage(req types.Request, err error) string
	Execute(ctx context.Context, req types.Request, pctx *Context, opID string) (interface{}, error)
}

// Run drives the common lifecycle around p.Execute: register, acquire
// locks (sorted project-before-port so two processors needing both
// never deadlock), mark Running, execute, record the terminal state,
// and publish status throughout; the held locks are released in
// reverse order as Run returns.
func Run(ctx context.Context, p Processor, req types.Request, pctx *Context) (types.Operation, error) {
	if err := p.ValidateRequest(req); err != nil {
		return types.Operation{}, err
	}

	opID := pctx.Operations.RegisterOperation(p.OperationType(), req.ProjectDir, req.Environment, req.CallerPID, req.RequestID)
	opLog := log.WithOperationID(opID)

	locks := sortedLocks(p.RequiredLocks(req))

	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	for _, lr := range locks {
		release, ok := pctx.Locks.TryAcquire(lr.Kind, lr.Key, opID)
		if !ok {
			msg := string(lr.Kind) + " \"" + lr.Key + "\" in use"
			pctx.Operations.UpdateState(opID, types.OperationFailed, opregistry.UpdateFields{Error: msg})
			_ = pctx.Status.Update(types.DaemonFailed, msg, opID, false, pctx.Locks)
			opLog.Warn().Str("lock_key", lr.Key).Msg("lock busy, operation rejected")
			metrics.LockWaitRejectionsTotal.WithLabelValues(string(lr.Kind)).Inc()
			pctx.publish(&events.Event{Type: events.EventLockRejected, Message: msg, Metadata: map[string]string{"operation_id": opID}})
			op, _ := pctx.Operations.GetOperation(opID)
			return op, errs.New("processor.Run", errs.KindLockBusy)
		}
		releases = append(releases, release)
	}

	pctx.Operations.UpdateState(opID, types.OperationRunning, opregistry.UpdateFields{})
	_ = pctx.Status.Update(p.StartingState(), p.StartingMessage(req), opID, true, pctx.Locks)
	opLog.Info().Str("kind", string(p.OperationType())).Msg("operation started")
	pctx.publish(&events.Event{Type: events.EventOperationStarted, Message: p.StartingMessage(req), Metadata: map[string]string{"operation_id": opID}})

	start := time.Now()
	result, execErr := p.Execute(ctx, req, pctx, opID)
	elapsed := time.Since(start)
	kind := string(p.OperationType())

	if execErr != nil {
		pctx.Operations.UpdateState(opID, types.OperationFailed, opregistry.UpdateFields{Error: execErr.Error()})
		_ = pctx.Status.Update(types.DaemonFailed, p.FailureMessage(req, execErr), opID, false, pctx.Locks)
		opLog.Error().Err(execErr).Dur("elapsed", elapsed).Msg("operation failed")
		metrics.OperationsTotal.WithLabelValues(kind, string(types.OperationFailed)).Inc()
		metrics.OperationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
		pctx.publish(&events.Event{Type: events.EventOperationFailed, Message: execErr.Error(), Metadata: map[string]string{"operation_id": opID}})
		op, _ := pctx.Operations.GetOperation(opID)
		return op, execErr
	}

	pctx.Operations.UpdateState(opID, types.OperationCompleted, opregistry.UpdateFields{Result: result})
	_ = pctx.Status.Update(types.DaemonCompleted, p.SuccessMessage(req), opID, false, pctx.Locks)
	opLog.Info().Dur("elapsed", elapsed).Msg("operation completed")
	metrics.OperationsTotal.WithLabelValues(kind, string(types.OperationCompleted)).Inc()
	metrics.OperationDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	pctx.publish(&events.Event{Type: events.EventOperationCompleted, Message: p.SuccessMessage(req), Metadata: map[string]string{"operation_id": opID}})

	op, _ := pctx.Operations.GetOperation(opID)
	return op, nil
}

// sortedLocks orders project locks before port locks, then by key, so
// two processors that both need a project and a port lock always
// acquire them in the same order.
func sortedLocks(locks []LockRequirement) []LockRequirement {
	out := append([]LockRequirement{}, locks...)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind == types.LockKindProject
		}
		return out[i].Key < out[j].Key
	})
	return out
}
