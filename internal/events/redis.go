package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// publishTimeout bounds one PUBLISH
const publishTimeout = 2 * time.Second

// Publisher is the Redis surface RedisPublisher needs
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// RedisPublisher is an EventSink publishing every event to
// <prefix><channel name>. Publishing happens on a worker goroutine; when
// its queue is full events are dropped.
type RedisPublisher struct {
	client  Publisher
	prefix  string
	metrics Metrics

	queue chan channel.Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRedisPublisher starts a publisher with a queue of queueSize events
func NewRedisPublisher(client Publisher, prefix string, queueSize int, metrics Metrics) *RedisPublisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	p := &RedisPublisher{
		client:  client,
		prefix:  prefix,
		metrics: metrics,
		queue:   make(chan channel.Event, queueSize),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

func (p *RedisPublisher) worker() {
	defer p.wg.Done()
	for e := range p.queue {
		p.publish(e)
	}
}

func (p *RedisPublisher) publish(e channel.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		logger.Channel(e.Channel).Error().Err(err).Str("method", e.Method).Msg("Failed to encode event")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.prefix+e.Channel, data); err != nil {
		if p.metrics != nil {
			p.metrics.IncEventsDropped("redis")
		}
		logger.Channel(e.Channel).Warn().Err(err).Str("method", e.Method).Msg("Failed to publish event")
	}
}

// Emit implements channel.EventSink
func (p *RedisPublisher) Emit(e channel.Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- e:
	default:
		if p.metrics != nil {
			p.metrics.IncEventsDropped("redis")
		}
		logger.Channel(e.Channel).Warn().Str("method", e.Method).Msg("Publish queue full, dropping event")
	}
}

// Close publishes the queued events and stops the worker
func (p *RedisPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
