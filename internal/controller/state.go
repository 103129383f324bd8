// Package controller implements the per-ad-unit controllers and their
// registries. All controller state is confined to the owner loop: commands
// arrive through the messenger on the loop, ad loads run on their own
// goroutines and hand their outcome back to the loop.
package controller

// State is the lifecycle state of a controller
type State int

const (
	Idle State = iota
	Loading
	Loaded
	Failed
	Disposed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	case Disposed:
		return "disposed"
	default:
		return "unknown"
	}
}
