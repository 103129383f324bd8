package controller

import (
	"errors"
	"fmt"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
)

// Error is a controller failure carrying the channel error code it maps to
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code so wrapped state errors compare equal
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	// ErrNotFound is returned for an unregistered identifier
	ErrNotFound = &Error{Code: channel.CodeNotFound, Message: "controller not found"}
	// ErrBusy is returned when a load is already in flight
	ErrBusy = &Error{Code: channel.CodeBusy, Message: "a load is already in progress"}
	// ErrDisposed is returned for commands sent to a disposed controller
	ErrDisposed = &Error{Code: channel.CodeDisposed, Message: "controller disposed"}
	// ErrInvalidState matches every state error
	ErrInvalidState = &Error{Code: channel.CodeInvalidState}
)

func stateError(op string, s State) *Error {
	return &Error{Code: channel.CodeInvalidState, Message: fmt.Sprintf("cannot %s while %s", op, s)}
}

func invalidArgument(key, reason string) error {
	return &channel.ArgumentError{Key: key, Reason: reason}
}

// Fail resolves result with the channel error matching err
func Fail(result channel.Result, err error) {
	var cerr *Error
	var argErr *channel.ArgumentError
	switch {
	case errors.As(err, &cerr):
		result.Error(cerr.Code, cerr.Message, nil)
	case errors.As(err, &argErr):
		result.Error(channel.CodeInvalidArgument, argErr.Error(), map[string]interface{}{"argument": argErr.Key})
	default:
		result.Error(channel.CodeInternal, err.Error(), nil)
	}
}
