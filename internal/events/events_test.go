package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/rental-discovery/internal/discovery"
)

func TestBrokerRoutesBySession(t *testing.T) {
	b := NewBroker()
	defer b.Close()

	one, cancelOne := b.Subscribe("s1", 4)
	defer cancelOne()
	all, cancelAll := b.Subscribe("", 4)
	defer cancelAll()

	b.Listener("s1").Handle(discovery.Event{Kind: discovery.EventResults, Sequence: 1})
	b.Listener("s2").Handle(discovery.Event{Kind: discovery.EventLoading, Sequence: 1})

	got := <-one
	assert.Equal(t, "s1", got.SessionID)
	assert.Equal(t, discovery.EventResults, got.Event.Kind)
	assert.Empty(t, one)

	assert.Equal(t, "s1", (<-all).SessionID)
	assert.Equal(t, "s2", (<-all).SessionID)
}

func TestBrokerDropsWhenSaturated(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("s", 1)
	defer cancel()

	b.Publish(Envelope{SessionID: "s", Event: discovery.Event{Sequence: 1}})
	b.Publish(Envelope{SessionID: "s", Event: discovery.Event{Sequence: 2}})

	assert.Equal(t, uint64(1), (<-ch).Event.Sequence)
	assert.Empty(t, ch)
}

func TestBrokerCancelAndClose(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("s", 1)
	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)

	other, _ := b.Subscribe("", 1)
	b.Close()
	_, ok = <-other
	assert.False(t, ok)

	late, _ := b.Subscribe("", 1)
	_, ok = <-late
	require.False(t, ok, "subscribing after close yields a closed channel")
	b.Publish(Envelope{SessionID: "s"})
}
