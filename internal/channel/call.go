// Package channel implements named duplex message channels: method calls
// flow in to a handler and resolve exactly once, events flow out to a sink.
package channel

import (
	"encoding/json"
	"fmt"
	"math"
)

// MethodCall is one invocation received on a channel
type MethodCall struct {
	Method    string
	Arguments map[string]interface{}
}

// NewMethodCall creates a method call; nil arguments become an empty map
func NewMethodCall(method string, args map[string]interface{}) MethodCall {
	if args == nil {
		args = map[string]interface{}{}
	}
	return MethodCall{Method: method, Arguments: args}
}

// ArgumentError reports a missing or mistyped argument
type ArgumentError struct {
	Key    string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Key, e.Reason)
}

// Has reports whether the argument is present and non-null
func (c MethodCall) Has(key string) bool {
	v, ok := c.Arguments[key]
	return ok && v != nil
}

// String returns a required string argument
func (c MethodCall) String(key string) (string, error) {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return "", &ArgumentError{Key: key, Reason: "missing"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgumentError{Key: key, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

// StringOr returns a string argument or def when absent
func (c MethodCall) StringOr(key, def string) string {
	s, err := c.String(key)
	if err != nil {
		return def
	}
	return s
}

// Bool returns a required bool argument
func (c MethodCall) Bool(key string) (bool, error) {
	b, err := c.OptionalBool(key)
	if err != nil {
		return false, err
	}
	if b == nil {
		return false, &ArgumentError{Key: key, Reason: "missing"}
	}
	return *b, nil
}

// OptionalBool returns a tri-state bool: nil when absent or null
func (c MethodCall) OptionalBool(key string) (*bool, error) {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, &ArgumentError{Key: key, Reason: fmt.Sprintf("expected bool, got %T", v)}
	}
	return &b, nil
}

// Int returns a required integer argument
func (c MethodCall) Int(key string) (int, error) {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return 0, &ArgumentError{Key: key, Reason: "missing"}
	}
	i, ok := toInt(v)
	if !ok {
		return 0, &ArgumentError{Key: key, Reason: fmt.Sprintf("expected integer, got %v", v)}
	}
	return i, nil
}

// Float returns a required numeric argument
func (c MethodCall) Float(key string) (float64, error) {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return 0, &ArgumentError{Key: key, Reason: "missing"}
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, &ArgumentError{Key: key, Reason: fmt.Sprintf("expected number, got %T", v)}
	}
	return f, nil
}

// Map returns a nested object argument, nil when absent
func (c MethodCall) Map(key string) (map[string]interface{}, error) {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return nil, nil
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, &ArgumentError{Key: key, Reason: fmt.Sprintf("expected object, got %T", v)}
	}
	return m, nil
}

// Strings returns a list-of-strings argument, nil when absent
func (c MethodCall) Strings(key string) ([]string, error) {
	v, ok := c.Arguments[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, &ArgumentError{Key: key, Reason: fmt.Sprintf("element %d is %T, not string", i, item)}
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, &ArgumentError{Key: key, Reason: fmt.Sprintf("expected list, got %T", v)}
}

// toInt accepts the numeric shapes a decoded JSON body or a Go caller produce
func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	}
	return 0, false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
