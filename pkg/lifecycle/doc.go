/*
Package events provides an in-memory event broker for the deployment
agent's lifecycle notifications.

The events package implements a lightweight pub/sub bus broadcasting
deployment lifecycle transitions (queued, started, succeeded, failed,
rolled back, cancelled) to interested subscribers, such as a `dagent
watch` CLI command or an embedding process that wants to react to
deployment outcomes without polling the BoltDB store.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe("dep-123") // "" subscribes to every deployment
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			fmt.Println(ev.Type, ev.DeploymentID, ev.Message)
		}
	}()

	broker.Publish(&events.Event{
		Type:         events.EventDeploymentSucceeded,
		DeploymentID: "dep-123",
	})

# Integration Points

This package integrates with:

  - pkg/orchestrator: publishes EventDeploymentStarted on dispatch
  - pkg/finisher: publishes the terminal event for every completed
    deployment

# Design Patterns

Non-blocking Publish: the broker buffers 100 pending events and each
subscriber buffers 50; a slow subscriber drops events rather than
blocking the publisher.

Nil-safe Publish: a nil *Broker is a valid receiver for Publish, so a
caller that only sometimes wires an events.Broker doesn't need a
separate nil check at every call site.
*/
package events
