// Package daemon owns the Daemon Context: the single object that
// constructs every subsystem in dependency order, wires cross-component
// cleanup callbacks, and drives an ordered, logged shutdown.
package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/fbuildd/pkg/cancel"
	"github.com/cuemby/fbuildd/pkg/clientmgr"
	"github.com/cuemby/fbuildd/pkg/compqueue"
	"github.com/cuemby/fbuildd/pkg/config"
	"github.com/cuemby/fbuildd/pkg/errcollector"
	"github.com/cuemby/fbuildd/pkg/events"
	"github.com/cuemby/fbuildd/pkg/filecache"
	"github.com/cuemby/fbuildd/pkg/ledger"
	"github.com/cuemby/fbuildd/pkg/lockmgr"
	"github.com/cuemby/fbuildd/pkg/log"
	"github.com/cuemby/fbuildd/pkg/opregistry"
	"github.com/cuemby/fbuildd/pkg/processor"
	"github.com/cuemby/fbuildd/pkg/serial"
	"github.com/cuemby/fbuildd/pkg/singleton"
	"github.com/cuemby/fbuildd/pkg/status"
	"github.com/cuemby/fbuildd/pkg/types"
)

// Context is the process-wide owner of every daemon subsystem. It is
// constructed once per daemon invocation; no other component keeps its
// own copy of a subsystem's state.
type Context struct {
	Dir    string
	Config config.Config

	Singleton  *singleton.Handle
	Locks      *lockmgr.Manager
	Operations *opregistry.Registry
	Clients    *clientmgr.Manager
	Serial     *serial.Manager
	Leases     *serial.LeaseManager
	Cancel     *cancel.Registry
	Status     *status.Manager
	FileCache  *filecache.Cache
	Ledger     *ledger.Ledger
	Errors     *errcollector.Collector
	Compile    *compqueue.Queue
	Events     *events.Broker

	shutdownMu       sync.RWMutex
	isShuttingDown   bool
	shutdownCancel   context.CancelFunc
	ShutdownCtx      context.Context
}

// ProcessorContext returns the read-only collaborator set passed to
// every processor invocation.
func (c *Context) ProcessorContext() *processor.Context {
	return &processor.Context{Locks: c.Locks, Operations: c.Operations, Status: c.Status, Cancel: c.Cancel, Events: c.Events, Compile: c.Compile}
}

// New constructs every subsystem in dependency order and wires the
// client-death cleanup callback, which detaches the dead client from
// each serial session it was attached to and publishes a
// client-disconnected event; it does not release resource locks held
// by the client's operations. daemonDir is created if it does not
// already exist.
//
// If another, live daemon already owns daemonDir, New returns a nil
// Context and a non-nil *singleton.AlreadyRunning instead of an error:
// losing the singleton race is a normal outcome, not a failure.
func New(daemonDir string, cfg config.Config) (*Context, *singleton.AlreadyRunning, error) {
	if err := os.MkdirAll(daemonDir, 0o755); err != nil {
		return nil, nil, err
	}

	handle, alreadyRunning, err := singleton.Acquire(daemonDir)
	if err != nil {
		return nil, nil, err
	}
	if alreadyRunning != nil {
		return nil, alreadyRunning, nil
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	locks := lockmgr.New()
	operations := opregistry.New(cfg.MaxHistory)
	clients := clientmgr.New(cfg.HeartbeatTimeout)
	serialMgr := serial.New(nil, cfg.SerialRetryUnix, cfg.SerialRetryWindows)
	leases := serial.NewLeaseManager()

	cancelRegistry, err := cancel.New(daemonDir, cfg.CancellationCacheTTL)
	if err != nil {
		handle.Release()
		return nil, nil, err
	}

	statusMgr := status.New(filepath.Join(daemonDir, "daemon_status.json"), os.Getpid(), time.Now())

	fileCache, err := filecache.Load(filepath.Join(daemonDir, "file_cache.json"))
	if err != nil {
		handle.Release()
		return nil, nil, err
	}

	firmwareLedger, err := ledger.Load(filepath.Join(daemonDir, "firmware_ledger.json"))
	if err != nil {
		handle.Release()
		return nil, nil, err
	}

	errCollector := errcollector.New(100)
	compileQueue := compqueue.New(cfg.CompileWorkers)
	broker := events.NewBroker()
	broker.Start()

	c := &Context{
		Dir:            daemonDir,
		Config:         cfg,
		Singleton:      handle,
		Locks:          locks,
		Operations:     operations,
		Clients:        clients,
		Serial:         serialMgr,
		Leases:         leases,
		Cancel:         cancelRegistry,
		Status:         statusMgr,
		FileCache:      fileCache,
		Ledger:         firmwareLedger,
		Errors:         errCollector,
		Compile:        compileQueue,
		Events:         broker,
		shutdownCancel: shutdownCancel,
		ShutdownCtx:    shutdownCtx,
	}

	clients.RegisterCleanupCallback(func(cl types.Client) {
		if c.IsShuttingDown() {
			return
		}
		clog := log.WithClientID(cl.ClientID)
		for resourceID := range cl.ResourceIDs {
			serialMgr.DisconnectClient(resourceID, cl.ClientID)
		}
		c.Events.Publish(&events.Event{
			Type:     events.EventClientDisconnected,
			Message:  "client disconnected, resources released",
			Metadata: map[string]string{"client_id": cl.ClientID},
		})
		clog.Info().Msg("client cleanup: released resources")
	})

	return c, nil, nil
}

// IsShuttingDown reports whether Shutdown has begun; cleanup callbacks
// and background loops consult this to avoid submitting new work during
// teardown.
func (c *Context) IsShuttingDown() bool {
	c.shutdownMu.RLock()
	defer c.shutdownMu.RUnlock()
	return c.isShuttingDown
}

// Shutdown sets the shutdown flag first (so concurrently running
// cleanup callbacks short-circuit), then tears down subsystems in
// reverse dependency order. Each stage logs and continues on failure.
func (c *Context) Shutdown() {
	c.shutdownMu.Lock()
	c.isShuttingDown = true
	c.shutdownMu.Unlock()
	c.shutdownCancel()

	dlog := log.WithComponent("daemon")

	c.Serial.CloseAll()
	c.Events.Publish(&events.Event{Type: events.EventPortClosed, Message: "daemon shutdown: all serial ports closed"})
	dlog.Info().Msg("shared serial manager closed all ports")

	dead := c.Clients.CleanupDeadClients()
	dlog.Info().Int("count", dead).Msg("client connection manager cleaned up")

	c.Compile.Shutdown()
	dlog.Info().Msg("compilation queue drained")

	if err := c.Cancel.Close(); err != nil {
		dlog.Warn().Err(err).Msg("cancellation registry close failed")
	}

	c.Locks.Cleanup()
	dlog.Info().Msg("resource lock manager cleared")

	if err := c.Singleton.Release(); err != nil {
		dlog.Warn().Err(err).Msg("singleton release failed")
	}
	c.Events.Stop()
	dlog.Info().Msg("daemon shutdown complete")
}
