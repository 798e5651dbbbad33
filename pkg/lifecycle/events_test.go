package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversOnlyMatchingDeploymentToFilteredSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("dep-1")
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventDeploymentStarted, DeploymentID: "dep-2"})
	b.Publish(&Event{Type: EventDeploymentSucceeded, DeploymentID: "dep-1"})

	select {
	case ev := <-sub:
		assert.Equal(t, "dep-1", ev.DeploymentID)
		assert.Equal(t, EventDeploymentSucceeded, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("expected the dep-1 event")
	}

	select {
	case ev := <-sub:
		t.Fatalf("unexpected second event for filtered subscriber: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBrokerUnfilteredSubscriberReceivesEveryDeployment(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventDeploymentStarted, DeploymentID: "dep-1"})
	b.Publish(&Event{Type: EventDeploymentStarted, DeploymentID: "dep-2"})

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub:
			seen[ev.DeploymentID] = true
		case <-time.After(time.Second):
			t.Fatal("expected two events")
		}
	}
	assert.True(t, seen["dep-1"])
	assert.True(t, seen["dep-2"])
}

func TestBrokerPublishStampsTimestamp(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventDeploymentQueued, DeploymentID: "dep-1"})

	select {
	case ev := <-sub:
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
}

func TestBrokerPublishOnNilReceiverIsNoop(t *testing.T) {
	var b *Broker
	assert.NotPanics(t, func() {
		b.Publish(&Event{Type: EventDeploymentQueued, DeploymentID: "dep-1"})
	})
}

func TestBrokerSubscriberCount(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	require.Equal(t, 0, b.SubscriberCount())
	sub := b.Subscribe("")
	assert.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}
