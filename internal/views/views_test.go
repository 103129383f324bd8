package views

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/thenexusengine/tne_adbridge/internal/controller"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

type trackedAd struct {
	impressions int
	clicks      int
	destroyed   bool
}

func (a *trackedAd) RecordImpression() { a.impressions++ }
func (a *trackedAd) PerformClick()     { a.clicks++ }
func (a *trackedAd) Destroy()          { a.destroyed = true }

type plainAd struct{}

func (plainAd) Destroy() {}

func TestViewLifecycle(t *testing.T) {
	host := NewHost(0)
	v, err := host.Inflate(context.Background(), controller.ViewRequest{ControllerID: "n1", Format: sdk.FormatNative})
	if err != nil {
		t.Fatalf("Inflate failed: %v", err)
	}

	if v.PerformClick() {
		t.Error("expected no click on an empty view")
	}

	ad := &trackedAd{}
	if err := v.Attach(ad); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := v.Attach(ad); err != nil {
		t.Fatalf("second Attach failed: %v", err)
	}
	if ad.impressions != 1 {
		t.Errorf("expected one impression, got %d", ad.impressions)
	}

	if !v.PerformClick() || ad.clicks != 1 {
		t.Errorf("expected click forwarded, got %d clicks", ad.clicks)
	}
	if host.Live() != 1 {
		t.Errorf("expected 1 live view, got %d", host.Live())
	}

	v.Destroy()
	v.Destroy()
	if host.Live() != 0 || host.Inflated() != 1 {
		t.Errorf("unexpected view counts live=%d inflated=%d", host.Live(), host.Inflated())
	}
	if err := v.Attach(ad); !errors.Is(err, ErrDestroyed) {
		t.Errorf("expected ErrDestroyed, got %v", err)
	}
	if ad.destroyed {
		t.Error("destroying a view must not destroy the ad")
	}
}

func TestViewWithoutCallToAction(t *testing.T) {
	host := NewHost(0)
	v, _ := host.Inflate(context.Background(), controller.ViewRequest{ControllerID: "b1", Format: sdk.FormatBanner})

	if err := v.Attach(plainAd{}); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if v.PerformClick() {
		t.Error("expected no click for an ad without a call-to-action")
	}
}

func TestInflateHonoursContext(t *testing.T) {
	host := NewHost(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := host.Inflate(ctx, controller.ViewRequest{ControllerID: "n1"}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
