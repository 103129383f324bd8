package controller

import (
	"context"

	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

// ViewRequest describes the view a controller wants inflated
type ViewRequest struct {
	ControllerID string
	Format       sdk.Format
}

// View is a host view an ad is attached to
type View interface {
	// Attach binds ad to the view, replacing any previous ad
	Attach(ad sdk.Ad) error
	// PerformClick clicks the call-to-action; false when there is none
	PerformClick() bool
	Destroy()
}

// ViewHost inflates views. Inflate may take a while; it is never called on
// the owner loop.
type ViewHost interface {
	Inflate(ctx context.Context, req ViewRequest) (View, error)
}

// mountSlot tracks one mounted view. wanted is the live flag an inflation
// checks when it completes; unmount clears it.
type mountSlot struct {
	wanted    bool
	inflating bool
	view      View
}

func (b *base) mounted(m *mountSlot) bool {
	return m.view != nil
}

// mount asks the host for a view and attaches current() once it arrives,
// unless the mount was withdrawn in the meantime
func (b *base) mount(m *mountSlot, current func() sdk.Ad) {
	m.wanted = true
	if m.view != nil || m.inflating || b.deps.Views == nil {
		return
	}
	m.inflating = true

	req := ViewRequest{ControllerID: b.id, Format: b.format}
	ctx := b.deps.Context
	go func() {
		view, err := b.deps.Views.Inflate(ctx, req)
		b.post(func() {
			m.inflating = false
			if err != nil {
				b.log.Warn().Err(err).Msg("View inflation failed")
				m.wanted = false
				return
			}
			ad := current()
			if !m.wanted || b.state == Disposed || ad == nil {
				view.Destroy()
				return
			}
			if err := view.Attach(ad); err != nil {
				b.log.Warn().Err(err).Msg("Failed to attach ad to view")
				view.Destroy()
				m.wanted = false
				return
			}
			m.view = view
		})
	}()
}

// unmount withdraws the mount and destroys an attached view
func (b *base) unmount(m *mountSlot) {
	m.wanted = false
	if m.view != nil {
		m.view.Destroy()
		m.view = nil
	}
}

// reattach moves a mounted view over to a freshly loaded ad
func (b *base) reattach(m *mountSlot, ad sdk.Ad) {
	if m.view == nil {
		return
	}
	if err := m.view.Attach(ad); err != nil {
		b.log.Warn().Err(err).Msg("Failed to attach refreshed ad to view")
		b.unmount(m)
	}
}
