package metrics

import (
	"time"

	"github.com/cuemby/fbuildd/pkg/compqueue"
	"github.com/cuemby/fbuildd/pkg/opregistry"
)

// Sources bundles the subsystems Collector polls on each tick. Fields
// may be nil if that subsystem isn't wired in a given build (e.g. a
// test harness without a compile queue).
type Sources struct {
	Operations  *opregistry.Registry
	Compile     *compqueue.Queue
	SerialInfo  func() int // returns the current open-session count
}

// Collector periodically samples daemon subsystems into the Prometheus
// gauges defined in metrics.go, since those subsystems don't push
// metrics themselves.
type Collector struct {
	sources Sources
	stopCh  chan struct{}
}

// NewCollector creates a metrics collector over sources.
func NewCollector(sources Sources) *Collector {
	return &Collector{sources: sources, stopCh: make(chan struct{})}
}

// Start begins collecting metrics on a 15s tick.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if c.sources.Operations != nil {
		stats := c.sources.Operations.GetStatistics()
		ActiveOperations.Set(float64(stats.Active))
	}
	if c.sources.SerialInfo != nil {
		SerialSessions.Set(float64(c.sources.SerialInfo()))
	}
	if c.sources.Compile != nil {
		CompileQueueDepth.Set(float64(c.sources.Compile.QueuedJobs()))
	}
}
