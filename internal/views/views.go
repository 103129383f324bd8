// Package views provides a headless ViewHost. A headless view has no pixels:
// attaching an ad records its impression and the call-to-action click is
// forwarded to the ad.
package views

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/thenexusengine/tne_adbridge/internal/controller"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// ErrDestroyed is returned when attaching to a destroyed view
var ErrDestroyed = errors.New("view destroyed")

// clickable is implemented by ads with a call-to-action
type clickable interface {
	PerformClick()
}

// impressionRecorder is implemented by ads that fire impression trackers
type impressionRecorder interface {
	RecordImpression()
}

// Host inflates headless views. InflateDelay simulates layout inflation.
type Host struct {
	InflateDelay time.Duration

	mu    sync.Mutex
	live  map[*View]struct{}
	total int
}

// NewHost creates a headless view host
func NewHost(inflateDelay time.Duration) *Host {
	return &Host{
		InflateDelay: inflateDelay,
		live:         make(map[*View]struct{}),
	}
}

// Inflate implements controller.ViewHost
func (h *Host) Inflate(ctx context.Context, req controller.ViewRequest) (controller.View, error) {
	if h.InflateDelay > 0 {
		timer := time.NewTimer(h.InflateDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	v := &View{host: h, controllerID: req.ControllerID, format: req.Format}
	h.mu.Lock()
	h.live[v] = struct{}{}
	h.total++
	h.mu.Unlock()
	return v, nil
}

// Live returns the number of views not yet destroyed
func (h *Host) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.live)
}

// Inflated returns the number of views ever inflated
func (h *Host) Inflated() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

func (h *Host) remove(v *View) {
	h.mu.Lock()
	delete(h.live, v)
	h.mu.Unlock()
}

// View is one headless view
type View struct {
	host         *Host
	controllerID string
	format       sdk.Format

	mu        sync.Mutex
	ad        sdk.Ad
	destroyed bool
}

// Attach implements controller.View. The first attach of an ad records its
// impression.
func (v *View) Attach(ad sdk.Ad) error {
	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return ErrDestroyed
	}
	same := v.ad == ad
	v.ad = ad
	v.mu.Unlock()

	if same {
		return nil
	}
	if r, ok := ad.(impressionRecorder); ok {
		r.RecordImpression()
	}
	logger.Log.Debug().
		Str("controller_id", v.controllerID).
		Str("format", string(v.format)).
		Msg("Ad attached to view")
	return nil
}

// PerformClick implements controller.View
func (v *View) PerformClick() bool {
	v.mu.Lock()
	ad, destroyed := v.ad, v.destroyed
	v.mu.Unlock()

	if destroyed || ad == nil {
		return false
	}
	c, ok := ad.(clickable)
	if !ok {
		return false
	}
	c.PerformClick()
	return true
}

// Destroy implements controller.View
func (v *View) Destroy() {
	v.mu.Lock()
	if v.destroyed {
		v.mu.Unlock()
		return
	}
	v.destroyed = true
	v.ad = nil
	v.mu.Unlock()
	v.host.remove(v)
}
