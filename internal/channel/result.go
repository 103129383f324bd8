package channel

import (
	"sync/atomic"

	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// Standard error codes sent back over a channel
const (
	CodeNotFound        = "not_found"
	CodeInvalidState    = "invalid_state"
	CodeBusy            = "busy"
	CodeInvalidArgument = "invalid_argument"
	CodeDisposed        = "disposed"
	CodeInternal        = "internal"
)

// Result receives the outcome of one method call
type Result interface {
	Success(result interface{})
	Error(code, message string, details interface{})
	NotImplemented()
}

// Outcome is a resolved Result in value form
type Outcome struct {
	Status  string      `json:"status"` // success, error, not_implemented
	Result  interface{} `json:"result,omitempty"`
	Code    string      `json:"code,omitempty"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// Outcome statuses
const (
	StatusSuccess        = "success"
	StatusError          = "error"
	StatusNotImplemented = "not_implemented"
)

// FuncResult adapts a callback to Result
type FuncResult func(Outcome)

// Success implements Result
func (f FuncResult) Success(result interface{}) {
	f(Outcome{Status: StatusSuccess, Result: result})
}

// Error implements Result
func (f FuncResult) Error(code, message string, details interface{}) {
	f(Outcome{Status: StatusError, Code: code, Message: message, Details: details})
}

// NotImplemented implements Result
func (f FuncResult) NotImplemented() {
	f(Outcome{Status: StatusNotImplemented})
}

// Pending is a Result that can be awaited
type Pending struct {
	ch chan Outcome
}

// NewPending creates an awaitable Result
func NewPending() *Pending {
	return &Pending{ch: make(chan Outcome, 1)}
}

// Result returns the Result side; it resolves at most once
func (p *Pending) Result() Result {
	return Once(FuncResult(func(o Outcome) { p.ch <- o }))
}

// Done delivers the outcome once the call resolves
func (p *Pending) Done() <-chan Outcome {
	return p.ch
}

// onceResult delivers only the first resolution
type onceResult struct {
	inner Result
	done  atomic.Bool
}

// Once wraps r so that only the first resolution is delivered
func Once(r Result) Result {
	if o, ok := r.(*onceResult); ok {
		return o
	}
	return &onceResult{inner: r}
}

func (o *onceResult) first(kind string) bool {
	if o.done.CompareAndSwap(false, true) {
		return true
	}
	logger.Log.Warn().Str("resolution", kind).Msg("Method call already resolved, dropping result")
	return false
}

func (o *onceResult) Success(result interface{}) {
	if o.first(StatusSuccess) {
		o.inner.Success(result)
	}
}

func (o *onceResult) Error(code, message string, details interface{}) {
	if o.first(StatusError) {
		o.inner.Error(code, message, details)
	}
}

func (o *onceResult) NotImplemented() {
	if o.first(StatusNotImplemented) {
		o.inner.NotImplemented()
	}
}
