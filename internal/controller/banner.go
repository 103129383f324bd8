package controller

import (
	"context"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

// EventBannerLoading is emitted when a banner load starts
const EventBannerLoading = "loading"

// BannerController owns one banner slot
type BannerController struct {
	base

	ad      sdk.BannerAd
	payload map[string]interface{}
	slot    mountSlot
}

// NewBannerController creates a banner controller and registers its channel
func NewBannerController(id string, deps Deps, release func()) *BannerController {
	c := &BannerController{base: newBase(id, sdk.FormatBanner, deps, release)}
	c.register(c)
	return c
}

// Ad returns the loaded banner, nil unless Loaded
func (c *BannerController) Ad() sdk.BannerAd { return c.ad }

// Info implements Controller
func (c *BannerController) Info() Info { return c.info(c.mounted(&c.slot)) }

// OnMethodCall implements channel.MethodCallHandler
func (c *BannerController) OnMethodCall(call channel.MethodCall, result channel.Result) {
	if c.state == Disposed {
		if call.Method == "dispose" {
			result.Success(nil)
			return
		}
		Fail(result, ErrDisposed)
		return
	}

	switch call.Method {
	case "loadAd", "load":
		c.load(call, result)
	case "mountView":
		if c.state != Loaded {
			result.Success(false)
			return
		}
		c.mount(&c.slot, func() sdk.Ad { return c.ad })
		result.Success(true)
	case "unmountView":
		c.unmount(&c.slot)
		result.Success(nil)
	case "dispose":
		c.Dispose()
		result.Success(nil)
	default:
		result.NotImplemented()
	}
}

func (c *BannerController) load(call channel.MethodCall, result channel.Result) {
	unitID := call.StringOr("unitId", sdk.BannerTestUnitID)
	size := sdk.AdSizeByName(call.StringOr("size", ""))
	if call.Has("width") || call.Has("height") {
		w, err := call.Int("width")
		if err != nil {
			Fail(result, err)
			return
		}
		h, err := call.Int("height")
		if err != nil {
			Fail(result, err)
			return
		}
		if w <= 0 || h <= 0 {
			Fail(result, invalidArgument("width", "banner size must be positive"))
			return
		}
		size = sdk.AdSize{Width: w, Height: h}
	}

	gen, err := c.beginLoad()
	if err != nil {
		Fail(result, err)
		return
	}
	c.emit(EventBannerLoading, nil)

	req := c.adRequest(unitID)
	loader := c.deps.Loader
	c.runLoad(func(ctx context.Context) (sdk.Ad, error) {
		ad, err := loader.LoadBanner(ctx, req, size)
		if ad == nil {
			return nil, err
		}
		return ad, err
	}, func(ad sdk.Ad, err error) {
		c.settle(gen, ad, err, result, c.adopt, c.clear)
	})
}

func (c *BannerController) adopt(a sdk.Ad) map[string]interface{} {
	ad := a.(sdk.BannerAd)
	if c.ad != nil && c.ad != ad {
		c.ad.Destroy()
	}
	c.ad = ad
	c.payload = EncodeBanner(ad)
	c.reattach(&c.slot, ad)
	return c.payload
}

// Dispose releases the banner and any mounted view. Safe to call repeatedly.
func (c *BannerController) Dispose() {
	if !c.teardown() {
		return
	}
	c.clear()
}

func (c *BannerController) clear() {
	c.unmount(&c.slot)
	if c.ad != nil {
		c.ad.Destroy()
		c.ad = nil
	}
	c.payload = nil
}
