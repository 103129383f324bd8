package channel

import (
	"fmt"
	"sync"

	"github.com/thenexusengine/tne_adbridge/internal/looper"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// MethodCallHandler handles calls arriving on one channel.
// Handlers run on the messenger's owner loop.
type MethodCallHandler interface {
	OnMethodCall(call MethodCall, result Result)
}

// HandlerFunc adapts a function to MethodCallHandler
type HandlerFunc func(call MethodCall, result Result)

// OnMethodCall implements MethodCallHandler
func (f HandlerFunc) OnMethodCall(call MethodCall, result Result) {
	f(call, result)
}

// Event is an unsolicited message emitted by a channel owner
type Event struct {
	Channel   string      `json:"channel"`
	Method    string      `json:"method"`
	Arguments interface{} `json:"arguments"`
}

// EventSink receives emitted events. Emit must not block for long.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(Event)

// Emit implements EventSink
func (f EventSinkFunc) Emit(e Event) { f(e) }

// MultiSink fans an event out to several sinks
type MultiSink []EventSink

// Emit implements EventSink
func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Messenger routes calls by channel name and carries events out
type Messenger struct {
	exec looper.Executor
	sink EventSink

	mu       sync.RWMutex
	handlers map[string]MethodCallHandler
}

// NewMessenger creates a messenger dispatching on exec
func NewMessenger(exec looper.Executor, sink EventSink) *Messenger {
	if sink == nil {
		sink = EventSinkFunc(func(Event) {})
	}
	return &Messenger{
		exec:     exec,
		sink:     sink,
		handlers: make(map[string]MethodCallHandler),
	}
}

// SetHandler registers h for name; a nil handler unregisters
func (m *Messenger) SetHandler(name string, h MethodCallHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h == nil {
		delete(m.handlers, name)
		return
	}
	m.handlers[name] = h
}

// HasHandler reports whether a handler is registered for name
func (m *Messenger) HasHandler(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handlers[name]
	return ok
}

// Send dispatches call to the handler registered for name on the owner
// loop. The result resolves exactly once, including when the handler panics.
func (m *Messenger) Send(name string, call MethodCall, result Result) {
	result = Once(result)
	m.exec.Post(func() {
		m.mu.RLock()
		h, ok := m.handlers[name]
		m.mu.RUnlock()

		if !ok {
			result.Error(CodeNotFound, fmt.Sprintf("no handler registered for channel %q", name), nil)
			return
		}

		defer func() {
			if r := recover(); r != nil {
				logger.Channel(name).Error().
					Str("method", call.Method).
					Interface("panic", r).
					Msg("Method call handler panicked")
				result.Error(CodeInternal, fmt.Sprintf("handler for %q failed", call.Method), nil)
			}
		}()
		h.OnMethodCall(call, result)
	})
}

// Emit hands an event to the sink
func (m *Messenger) Emit(e Event) {
	m.sink.Emit(e)
}

// MethodChannel is one named channel bound to a messenger
type MethodChannel struct {
	name      string
	messenger *Messenger
}

// NewMethodChannel binds name to messenger
func NewMethodChannel(messenger *Messenger, name string) *MethodChannel {
	return &MethodChannel{name: name, messenger: messenger}
}

// Name returns the channel name
func (c *MethodChannel) Name() string {
	return c.name
}

// SetMethodCallHandler registers h; nil unregisters the channel
func (c *MethodChannel) SetMethodCallHandler(h MethodCallHandler) {
	c.messenger.SetHandler(c.name, h)
}

// InvokeMethod emits an event on this channel
func (c *MethodChannel) InvokeMethod(method string, args interface{}) {
	c.messenger.Emit(Event{Channel: c.name, Method: method, Arguments: args})
}
