package events

import (
	"sync"
	"testing"
	"time"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
)

type countingMetrics struct {
	mu      sync.Mutex
	emitted map[string]int
	dropped map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{emitted: map[string]int{}, dropped: map[string]int{}}
}

func (m *countingMetrics) IncEventsEmitted(method string) {
	m.mu.Lock()
	m.emitted[method]++
	m.mu.Unlock()
}

func (m *countingMetrics) IncEventsDropped(sink string) {
	m.mu.Lock()
	m.dropped[sink]++
	m.mu.Unlock()
}

func (m *countingMetrics) droppedFor(sink string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[sink]
}

func receive(t *testing.T, s *Subscription) channel.Event {
	t.Helper()
	select {
	case e := <-s.C:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return channel.Event{}
	}
}

func TestHubFiltersByChannel(t *testing.T) {
	h := NewHub(4, nil)
	defer h.Close()

	all := h.Subscribe("")
	one := h.Subscribe("native-1")
	defer all.Close()
	defer one.Close()

	h.Emit(channel.Event{Channel: "banner-1", Method: "loading"})
	h.Emit(channel.Event{Channel: "native-1", Method: "onAdLoading"})

	if e := receive(t, all); e.Channel != "banner-1" {
		t.Errorf("expected banner-1 first, got %+v", e)
	}
	if e := receive(t, all); e.Channel != "native-1" {
		t.Errorf("expected native-1 second, got %+v", e)
	}
	if e := receive(t, one); e.Method != "onAdLoading" {
		t.Errorf("unexpected event %+v", e)
	}
	select {
	case e := <-one.C:
		t.Errorf("filtered subscription got %+v", e)
	default:
	}
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	metrics := newCountingMetrics()
	h := NewHub(1, metrics)
	defer h.Close()
	s := h.Subscribe("")
	defer s.Close()

	for i := 0; i < 3; i++ {
		h.Emit(channel.Event{Channel: "native-1", Method: "onAdChanged"})
	}

	if h.Dropped() != 2 {
		t.Errorf("expected 2 dropped events, got %d", h.Dropped())
	}
	if metrics.droppedFor("sse") != 2 {
		t.Errorf("expected 2 sse drops in metrics, got %d", metrics.droppedFor("sse"))
	}
	if metrics.emitted["onAdChanged"] != 3 {
		t.Errorf("expected 3 emitted, got %d", metrics.emitted["onAdChanged"])
	}
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub(1, nil)
	s := h.Subscribe("")
	if h.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.Subscribers())
	}

	s.Close()
	s.Close()
	if _, ok := <-s.C; ok {
		t.Error("expected closed channel")
	}
	if h.Subscribers() != 0 {
		t.Errorf("expected 0 subscribers, got %d", h.Subscribers())
	}

	h.Emit(channel.Event{Channel: "x", Method: "y"})
}

func TestHubClose(t *testing.T) {
	h := NewHub(1, nil)
	s := h.Subscribe("")
	h.Close()

	if _, ok := <-s.C; ok {
		t.Error("expected subscription closed with the hub")
	}
	s.Close()

	late := h.Subscribe("")
	if _, ok := <-late.C; ok {
		t.Error("expected subscription on closed hub to be closed")
	}
}
