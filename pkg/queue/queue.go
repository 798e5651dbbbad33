// Package queue implements the deduplicating deployment queue. The queue
// has no capacity limit.
// All mutations happen under a single mutex; polling is non-blocking.
package queue

import (
	"errors"
	"sync"

	log "github.com/cuemby/dagent/pkg/agentlog"
	"github.com/cuemby/dagent/pkg/domain"
)

// ErrNullDeployment is returned by Offer when handed a nil Deployment.
var ErrNullDeployment = errors.New("queue: nil deployment")

// DeploymentQueue is a FIFO with key-based deduplication and replacement.
// It has no capacity limit: Offer never rejects an entry for lack of room.
type DeploymentQueue struct {
	mu      sync.Mutex
	entries []*domain.Deployment
}

// New creates an empty queue.
func New() *DeploymentQueue {
	return &DeploymentQueue{}
}

// Offer attempts to enqueue d, applying the dedup/replace rules in order.
// It returns false when d is rejected as a duplicate-no-op,
// true if it was enqueued or replaced an existing entry.
func (q *DeploymentQueue) Offer(d *domain.Deployment) (bool, error) {
	if d == nil {
		return false, ErrNullDeployment
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		// Rule 1: exact (type, id, stage, cancelled) match is a duplicate.
		if e.Type == d.Type && e.DeploymentID == d.DeploymentID && e.Stage == d.Stage && e.Cancelled == d.Cancelled {
			return false, nil
		}

		// Rule 2: BOOTSTRAP supersedes a queued DEFAULT for the same id.
		if d.Stage == domain.StageBootstrap && e.SameDeployment(d) && e.Stage == domain.StageDefault {
			q.entries[i] = d
			return true, nil
		}

		// Rule 3: a cancellation marker replaces the matching entry, unless
		// that entry is a BOOTSTRAP (which cannot be cancelled via the
		// queue once enqueued).
		if d.Cancelled && e.SameDeployment(d) {
			if e.Stage == domain.StageBootstrap {
				return false, nil
			}
			q.entries[i] = d
			return true, nil
		}
	}

	// Rule 4: at most one enqueued SHADOW beyond any currently-executing
	// one: replace the first non-head SHADOW entry in its slot.
	if d.Type == domain.TypeShadow {
		for i := 1; i < len(q.entries); i++ {
			if q.entries[i].Type == domain.TypeShadow {
				q.entries[i] = d
				return true, nil
			}
		}
	}

	// Rule 5: otherwise append to the tail.
	q.entries = append(q.entries, d)
	log.Debug("deployment enqueued")
	return true, nil
}

// Poll removes and returns the head of the queue, or nil if empty.
func (q *DeploymentQueue) Poll() *domain.Deployment {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return nil
	}
	d := q.entries[0]
	q.entries = q.entries[1:]
	return d
}

// IsEmpty reports whether the queue currently has no entries.
func (q *DeploymentQueue) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) == 0
}

// Snapshot returns a copy of the current queue contents, head first.
func (q *DeploymentQueue) Snapshot() []*domain.Deployment {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.Deployment, len(q.entries))
	copy(out, q.entries)
	return out
}
