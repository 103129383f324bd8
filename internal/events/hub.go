// Package events fans controller events out to subscribers: in-process
// subscribers (the SSE endpoint) through Hub and other processes through
// Redis pub/sub.
package events

import (
	"sync"
	"sync/atomic"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// Metrics receives event counters
type Metrics interface {
	IncEventsEmitted(method string)
	IncEventsDropped(sink string)
}

// Subscription receives the events of one channel, or of every channel when
// the filter is empty
type Subscription struct {
	C <-chan channel.Event

	hub    *Hub
	filter string
	ch     chan channel.Event
	once   sync.Once
}

// Close unsubscribes; C is closed afterwards
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.remove(s) })
}

// Hub is an EventSink delivering events to subscriptions. Emit never
// blocks: a subscriber whose queue is full loses the event.
type Hub struct {
	buffer  int
	metrics Metrics

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	dropped atomic.Int64
}

// NewHub creates a hub with per-subscriber queues of buffer events
func NewHub(buffer int, metrics Metrics) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		buffer:  buffer,
		metrics: metrics,
		subs:    make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscription. An empty filter matches every channel.
func (h *Hub) Subscribe(filter string) *Subscription {
	ch := make(chan channel.Event, h.buffer)
	s := &Subscription{C: ch, hub: h, filter: filter, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return s
	}
	h.subs[s] = struct{}{}
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Emit implements channel.EventSink
func (h *Hub) Emit(e channel.Event) {
	if h.metrics != nil {
		h.metrics.IncEventsEmitted(e.Method)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		if s.filter != "" && s.filter != e.Channel {
			continue
		}
		select {
		case s.ch <- e:
		default:
			h.dropped.Add(1)
			if h.metrics != nil {
				h.metrics.IncEventsDropped("sse")
			}
			logger.Channel(e.Channel).Warn().
				Str("method", e.Method).
				Msg("Subscriber queue full, dropping event")
		}
	}
}

// Subscribers returns the number of open subscriptions
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns the number of events lost to full queues
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close ends every subscription
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.subs {
		delete(h.subs, s)
		close(s.ch)
	}
}
