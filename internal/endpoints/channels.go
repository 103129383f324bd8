package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/internal/events"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// heartbeatInterval keeps idle event streams open through proxies
const heartbeatInterval = 15 * time.Second

// CodeTimeout is returned when a call does not resolve within the call timeout
const CodeTimeout = "timeout"

// Sender dispatches a method call to a named channel
type Sender interface {
	Send(name string, call channel.MethodCall, result channel.Result)
}

// CallMetrics records method call outcomes
type CallMetrics interface {
	RecordChannelCall(method, code string, duration time.Duration)
}

// callResponse is the wire form of a resolved call. Result is always
// present on success, null included.
type callResponse struct {
	Status  string      `json:"status"`
	Result  interface{} `json:"result"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// ChannelHandler exposes message channels over HTTP: method calls as POST
// requests and events as Server-Sent Events
type ChannelHandler struct {
	sender  Sender
	hub     *events.Hub
	timeout time.Duration
	metrics CallMetrics
}

// NewChannelHandler creates a channel handler. metrics may be nil.
func NewChannelHandler(sender Sender, hub *events.Hub, timeout time.Duration, metrics CallMetrics) *ChannelHandler {
	return &ChannelHandler{
		sender:  sender,
		hub:     hub,
		timeout: timeout,
		metrics: metrics,
	}
}

// Call handles POST /channels/:channel/:method. The body is the JSON
// arguments object; an empty body means no arguments.
func (h *ChannelHandler) Call(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name, method := ps.ByName("channel"), ps.ByName("method")
	log := logger.FromContext(r.Context()).With().Str("channel", name).Str("method", method).Logger()
	start := time.Now()

	args, err := decodeArguments(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			sendError(w, http.StatusRequestEntityTooLarge, "too_large", "arguments exceed the size limit")
			return
		}
		h.respond(w, method, start, channel.Outcome{
			Status:  channel.StatusError,
			Code:    channel.CodeInvalidArgument,
			Message: err.Error(),
		})
		return
	}

	p := channel.NewPending()
	h.sender.Send(name, channel.NewMethodCall(method, args), p.Result())

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	select {
	case o := <-p.Done():
		h.respond(w, method, start, o)
	case <-timer.C:
		// the call keeps running; its result is dropped
		log.Warn().Dur("timeout", h.timeout).Msg("Method call timed out")
		h.respond(w, method, start, channel.Outcome{
			Status:  channel.StatusError,
			Code:    CodeTimeout,
			Message: fmt.Sprintf("no result within %s", h.timeout),
		})
	case <-r.Context().Done():
		log.Debug().Msg("Client went away before the call resolved")
	}
}

func decodeArguments(body io.Reader) (map[string]interface{}, error) {
	if body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("arguments must be a JSON object: %w", err)
	}
	return args, nil
}

func (h *ChannelHandler) respond(w http.ResponseWriter, method string, start time.Time, o channel.Outcome) {
	code := o.Status
	if o.Status == channel.StatusError {
		code = o.Code
	}
	if h.metrics != nil {
		label := method
		if o.Status == channel.StatusNotImplemented {
			// unbounded caller input
			label = "unimplemented"
		}
		h.metrics.RecordChannelCall(label, code, time.Since(start))
	}

	sendJSON(w, statusFor(o), callResponse{
		Status:  o.Status,
		Result:  o.Result,
		Code:    o.Code,
		Message: o.Message,
		Details: o.Details,
	})
}

// statusFor maps a call outcome to an HTTP status
func statusFor(o channel.Outcome) int {
	switch o.Status {
	case channel.StatusSuccess:
		return http.StatusOK
	case channel.StatusNotImplemented:
		return http.StatusNotImplemented
	}
	switch o.Code {
	case channel.CodeNotFound:
		return http.StatusNotFound
	case channel.CodeInvalidArgument:
		return http.StatusBadRequest
	case channel.CodeInvalidState, channel.CodeBusy, channel.CodeDisposed:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Events handles GET /channels/:channel/events and GET /events. Each event
// is written as "event: <method>" with the JSON event as data.
func (h *ChannelHandler) Events(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		sendError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot stream")
		return
	}

	name := ps.ByName("channel")
	sub := h.hub.Subscribe(name)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	log := logger.FromContext(r.Context()).With().Str("channel", name).Logger()
	log.Debug().Msg("Event stream opened")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Error().Err(err).Str("method", e.Method).Msg("Failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Method, data); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			log.Debug().Msg("Event stream closed")
			return
		}
	}
}
