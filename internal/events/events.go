// Package events fans engine events out to stream subscribers. Publishing
// never blocks the session loop: a subscriber that cannot keep up loses
// events.
package events

import (
	"sync"

	"github.com/yourorg/rental-discovery/internal/discovery"
	"github.com/yourorg/rental-discovery/internal/metrics"
)

// Envelope is an engine event tagged with the session that emitted it.
type Envelope struct {
	SessionID string          `json:"session_id"`
	Event     discovery.Event `json:"event"`
}

type subscriber struct {
	session string // empty receives every session
	ch      chan Envelope
}

type Broker struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[*subscriber]struct{})}
}

// Subscribe returns a channel of events for sessionID, or for all sessions
// when sessionID is empty. The cancel func unsubscribes and closes the
// channel.
func (b *Broker) Subscribe(sessionID string, buffer int) (<-chan Envelope, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	s := &subscriber{session: sessionID, ch: make(chan Envelope, buffer)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(s.ch)
		return s.ch, func() {}
	}
	b.subs[s] = struct{}{}

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[s]; ok {
				delete(b.subs, s)
				close(s.ch)
			}
		})
	}
}

func (b *Broker) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.session != "" && s.session != env.SessionID {
			continue
		}
		select {
		case s.ch <- env:
		default:
			metrics.EventsDropped.Inc()
		}
	}
}

// Listener adapts the broker to a session's discovery.Listener.
func (b *Broker) Listener(sessionID string) discovery.Listener {
	return discovery.ListenerFunc(func(ev discovery.Event) {
		b.Publish(Envelope{SessionID: sessionID, Event: ev})
	})
}

// Close closes every subscriber channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		close(s.ch)
	}
	clear(b.subs)
}
