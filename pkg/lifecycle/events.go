// Package events implements an in-memory broker for deployment lifecycle
// events, used by the agent's status/watch surface to stream progress
// without polling the store.
package events

import (
	"sync"
	"time"
)

// EventType identifies a point in a deployment's lifecycle.
type EventType string

const (
	EventDeploymentQueued     EventType = "deployment.queued"
	EventDeploymentStarted    EventType = "deployment.started"
	EventDeploymentSucceeded  EventType = "deployment.succeeded"
	EventDeploymentFailed     EventType = "deployment.failed"
	EventDeploymentRolledBack EventType = "deployment.rolled_back"
	EventDeploymentCancelled  EventType = "deployment.cancelled"
	EventHostAgentRestart     EventType = "deployment.host_agent_restart_requested"
)

// Event is one lifecycle transition, identified by the deployment it
// concerns.
type Event struct {
	ID           string
	Type         EventType
	Timestamp    time.Time
	DeploymentID string
	Message      string
	Metadata     map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. Each subscriber is
// registered with a deployment filter: an empty filter receives every
// event, a non-empty one only events for that DeploymentID, so a `dagent
// watch <deployment-id>` caller isn't handed every other deployment's
// traffic on a shared bus.
type Broker struct {
	subscribers map[Subscriber]string
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]string),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel. deploymentID
// filters the stream to that one deployment's events; pass "" to receive
// every event the broker publishes.
func (b *Broker) Subscribe(deploymentID string) Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = deploymentID
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers. A nil Broker is a valid
// no-op receiver, so callers that only sometimes wire a broker don't need
// a separate nil check.
func (b *Broker) Publish(event *Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub, filter := range b.subscribers {
		if filter != "" && filter != event.DeploymentID {
			continue
		}
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
