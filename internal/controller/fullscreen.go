package controller

import (
	"context"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

// Full-screen events
const (
	EventAdShowed         = "onAdShowed"
	EventAdImpression     = "onAdImpression"
	EventAdDismissed      = "onAdDismissed"
	EventAdFailedToShow   = "onAdFailedToShow"
	EventUserEarnedReward = "onUserEarnedReward"
)

// FullScreenController owns one interstitial, rewarded or app-open ad.
// The ad is single use: after it is dismissed the controller is Idle again.
type FullScreenController struct {
	base

	ad      sdk.FullScreenAd
	payload map[string]interface{}
	showing bool
}

// NewFullScreenController creates a controller for a full-screen format
func NewFullScreenController(id string, format sdk.Format, deps Deps, release func()) *FullScreenController {
	c := &FullScreenController{base: newBase(id, format, deps, release)}
	c.register(c)
	return c
}

// Ad returns the loaded ad, nil unless Loaded
func (c *FullScreenController) Ad() sdk.FullScreenAd { return c.ad }

// Showing reports whether the ad is on screen
func (c *FullScreenController) Showing() bool { return c.showing }

// Info implements Controller
func (c *FullScreenController) Info() Info { return c.info(c.showing) }

// OnMethodCall implements channel.MethodCallHandler
func (c *FullScreenController) OnMethodCall(call channel.MethodCall, result channel.Result) {
	if c.state == Disposed {
		if call.Method == "dispose" {
			result.Success(nil)
			return
		}
		Fail(result, ErrDisposed)
		return
	}

	switch call.Method {
	case "load", "loadAd":
		c.load(call, result)
	case "show":
		if err := c.show(); err != nil {
			Fail(result, err)
			return
		}
		result.Success(nil)
	case "dismiss":
		if !c.showing {
			Fail(result, &Error{Code: channel.CodeInvalidState, Message: "ad is not showing"})
			return
		}
		c.ad.Dismiss()
		result.Success(nil)
	case "dispose":
		c.Dispose()
		result.Success(nil)
	default:
		result.NotImplemented()
	}
}

func (c *FullScreenController) load(call channel.MethodCall, result channel.Result) {
	if c.showing {
		Fail(result, &Error{Code: channel.CodeInvalidState, Message: "cannot load while the ad is showing"})
		return
	}
	unitID := call.StringOr("unitId", sdk.TestUnitID(c.format))

	gen, err := c.beginLoad()
	if err != nil {
		Fail(result, err)
		return
	}
	c.emit(EventAdLoading, nil)

	req := c.adRequest(unitID)
	loader := c.deps.Loader
	format := c.format
	c.runLoad(func(ctx context.Context) (sdk.Ad, error) {
		ad, err := loader.LoadFullScreen(ctx, req, format)
		if ad == nil {
			return nil, err
		}
		return ad, err
	}, func(ad sdk.Ad, err error) {
		c.settle(gen, ad, err, result, c.adopt, c.clear)
	})
}

func (c *FullScreenController) adopt(a sdk.Ad) map[string]interface{} {
	ad := a.(sdk.FullScreenAd)
	if c.ad != nil && c.ad != ad {
		c.ad.Destroy()
	}
	c.ad = ad
	c.payload = EncodeFullScreen(ad)
	return c.payload
}

func (c *FullScreenController) show() error {
	if c.showing {
		return &Error{Code: channel.CodeInvalidState, Message: "ad is already showing"}
	}
	if c.state != Loaded {
		return stateError("show", c.state)
	}
	c.showing = true

	ad := c.ad
	forward := func(fn func()) {
		c.post(func() {
			if c.ad == ad && c.state != Disposed {
				fn()
			}
		})
	}
	ad.Show(sdk.FullScreenContentCallback{
		OnAdShowed:     func() { forward(func() { c.emit(EventAdShowed, nil) }) },
		OnAdImpression: func() { forward(func() { c.emit(EventAdImpression, nil) }) },
		OnUserEarnedReward: func(r sdk.RewardItem) {
			forward(func() { c.emit(EventUserEarnedReward, EncodeReward(r)) })
		},
		OnAdDismissed: func() {
			forward(func() {
				c.emit(EventAdDismissed, nil)
				c.finishShow()
			})
		},
		OnAdFailedToShow: func(err *sdk.AdError) {
			forward(func() {
				c.log.Warn().Err(err).Msg("Ad failed to show")
				c.emit(EventAdFailedToShow, EncodeError(err))
				c.finishShow()
			})
		},
	})
	return nil
}

// finishShow releases the used ad and returns to Idle
func (c *FullScreenController) finishShow() {
	c.showing = false
	c.clear()
	if c.state == Loaded {
		c.state = Idle
	}
}

// Dispose releases the ad. Safe to call repeatedly.
func (c *FullScreenController) Dispose() {
	if !c.teardown() {
		return
	}
	c.clear()
}

func (c *FullScreenController) clear() {
	c.showing = false
	if c.ad != nil {
		c.ad.Destroy()
		c.ad = nil
	}
	c.payload = nil
}
