package metrics

import (
	"time"

	"github.com/cuemby/dagent/pkg/queue"
)

// Collector periodically samples gauges that aren't naturally updated at
// the point of mutation, such as queue depth while the orchestrator is
// idle between polls.
type Collector struct {
	queue  *queue.DeploymentQueue
	stopCh chan struct{}
}

// NewCollector creates a metrics collector sampling q.
func NewCollector(q *queue.DeploymentQueue) *Collector {
	return &Collector{
		queue:  q,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics.
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
	QueueDepth.Set(float64(len(c.queue.Snapshot())))
}
