package controller

import (
	"context"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

// Native events
const (
	EventAdMuted    = "onAdMuted"
	EventVideoStart = "onVideoStart"
	EventVideoPlay  = "onVideoPlay"
	EventVideoPause = "onVideoPause"
	EventVideoEnd   = "onVideoEnd"
	EventVideoMute  = "onVideoMute"
)

// NativeController owns one native ad slot
type NativeController struct {
	base

	showVideoContent bool
	ad               sdk.NativeAd
	payload          map[string]interface{}
	slot             mountSlot
}

// NewNativeController creates a native controller and registers its channel.
// With showVideoContent, video ads are left to the host's platform view and
// their lifecycle is forwarded as events.
func NewNativeController(id string, deps Deps, showVideoContent bool, release func()) *NativeController {
	c := &NativeController{
		base:             newBase(id, sdk.FormatNative, deps, release),
		showVideoContent: showVideoContent,
	}
	c.register(c)
	return c
}

// Ad returns the loaded ad, nil unless Loaded
func (c *NativeController) Ad() sdk.NativeAd { return c.ad }

// Payload returns the payload of the loaded ad
func (c *NativeController) Payload() map[string]interface{} { return c.payload }

// Info implements Controller
func (c *NativeController) Info() Info { return c.info(c.mounted(&c.slot)) }

// OnMethodCall implements channel.MethodCallHandler
func (c *NativeController) OnMethodCall(call channel.MethodCall, result channel.Result) {
	if c.state == Disposed {
		if call.Method == "dispose" {
			result.Success(nil)
			return
		}
		Fail(result, ErrDisposed)
		return
	}

	switch call.Method {
	case "load":
		c.load(call, result)
	case "mountView":
		result.Success(c.mountView())
	case "unmountView":
		c.unmount(&c.slot)
		result.Success(nil)
	case "click":
		result.Success(c.click())
	case "mute":
		if err := c.mute(call); err != nil {
			Fail(result, err)
			return
		}
		result.Success(nil)
	case "playVideo", "pauseVideo", "muteVideo":
		if err := c.driveVideo(call); err != nil {
			Fail(result, err)
			return
		}
		result.Success(nil)
	case "dispose":
		c.Dispose()
		result.Success(nil)
	default:
		result.NotImplemented()
	}
}

func (c *NativeController) load(call channel.MethodCall, result channel.Result) {
	unitID := call.StringOr("unitId", sdk.NativeTestUnitID)
	optionsArg, err := call.Map("options")
	if err != nil {
		Fail(result, err)
		return
	}
	opts, err := ParseNativeAdOptions(optionsArg)
	if err != nil {
		Fail(result, err)
		return
	}

	gen, err := c.beginLoad()
	if err != nil {
		Fail(result, err)
		return
	}
	c.emit(EventAdLoading, nil)

	req := c.adRequest(unitID)
	loader := c.deps.Loader
	c.runLoad(func(ctx context.Context) (sdk.Ad, error) {
		ad, err := loader.LoadNative(ctx, req, opts)
		if ad == nil {
			return nil, err
		}
		return ad, err
	}, func(ad sdk.Ad, err error) {
		c.settle(gen, ad, err, result, c.adopt, c.clear)
	})
}

// adopt takes ownership of a freshly loaded ad
func (c *NativeController) adopt(a sdk.Ad) map[string]interface{} {
	ad := a.(sdk.NativeAd)
	if c.ad != nil && c.ad != ad {
		c.ad.Destroy()
	}
	c.ad = ad
	c.payload = EncodeNativeAd(ad)

	ad.SetMuteThisAdListener(func() {
		c.post(func() {
			if c.ad != ad || c.state == Disposed {
				return
			}
			reasons := ad.MuteThisAdReasons()
			descriptions := make([]string, 0, len(reasons))
			for _, r := range reasons {
				descriptions = append(descriptions, r.Description)
			}
			c.emit(EventAdMuted, descriptions)
		})
	})

	if media := ad.MediaContent(); c.showVideoContent && media != nil && media.HasVideoContent() {
		media.VideoController().SetVideoLifecycleCallbacks(c.videoCallbacks(ad))
	}

	c.reattach(&c.slot, ad)
	return c.payload
}

func (c *NativeController) videoCallbacks(ad sdk.NativeAd) sdk.VideoLifecycleCallbacks {
	forward := func(method string, args interface{}) {
		c.post(func() {
			if c.ad == ad && c.state != Disposed {
				c.emit(method, args)
			}
		})
	}
	return sdk.VideoLifecycleCallbacks{
		OnVideoStart: func() { forward(EventVideoStart, nil) },
		OnVideoPlay:  func() { forward(EventVideoPlay, nil) },
		OnVideoPause: func() { forward(EventVideoPause, nil) },
		OnVideoEnd:   func() { forward(EventVideoEnd, nil) },
		OnVideoMute:  func(muted bool) { forward(EventVideoMute, muted) },
	}
}

// mountView reports whether a mount was requested. Video ads shown through
// the platform view are never mounted here.
func (c *NativeController) mountView() bool {
	if c.state != Loaded || c.ad == nil {
		return false
	}
	if media := c.ad.MediaContent(); c.showVideoContent && media != nil && media.HasVideoContent() {
		return false
	}
	c.mount(&c.slot, func() sdk.Ad { return c.ad })
	return true
}

func (c *NativeController) click() bool {
	if c.slot.view == nil {
		return false
	}
	return c.slot.view.PerformClick()
}

func (c *NativeController) mute(call channel.MethodCall) error {
	if c.state != Loaded {
		return stateError("mute", c.state)
	}
	if !c.ad.IsCustomMuteThisAdEnabled() {
		return nil
	}
	index, err := call.Int("reason")
	if err != nil {
		return err
	}
	reasons := c.ad.MuteThisAdReasons()
	if index < 0 || index >= len(reasons) {
		return invalidArgument("reason", "index out of range")
	}
	c.ad.MuteThisAd(reasons[index])
	return nil
}

func (c *NativeController) driveVideo(call channel.MethodCall) error {
	if c.state != Loaded {
		return stateError(call.Method, c.state)
	}
	media := c.ad.MediaContent()
	if media == nil || !media.HasVideoContent() {
		return &Error{Code: channel.CodeInvalidState, Message: "ad has no video content"}
	}
	video := media.VideoController()

	switch call.Method {
	case "playVideo":
		video.Play()
	case "pauseVideo":
		video.Pause()
	case "muteVideo":
		muted, err := call.Bool("muted")
		if err != nil {
			return err
		}
		video.Mute(muted)
	}
	return nil
}

// Dispose releases the ad and any mounted view. Safe to call repeatedly.
func (c *NativeController) Dispose() {
	if !c.teardown() {
		return
	}
	c.clear()
}

// clear unmounts and releases the current ad
func (c *NativeController) clear() {
	c.unmount(&c.slot)
	if c.ad != nil {
		c.ad.Destroy()
		c.ad = nil
	}
	c.payload = nil
}

// ParseNativeAdOptions reads the load options object. Absent keys keep the
// SDK defaults.
func ParseNativeAdOptions(options map[string]interface{}) (sdk.NativeAdOptions, error) {
	opts := sdk.DefaultNativeAdOptions()
	if options == nil {
		return opts, nil
	}
	args := channel.NewMethodCall("options", options)

	videoArgs, err := args.Map("videoOptions")
	if err != nil {
		return opts, err
	}
	if videoArgs != nil {
		startMuted, err := channel.NewMethodCall("videoOptions", videoArgs).OptionalBool("startMuted")
		if err != nil {
			return opts, err
		}
		if startMuted != nil {
			opts.VideoOptions.StartMuted = *startMuted
		}
	}

	for key, dst := range map[string]*bool{
		"returnUrlsForImageAssets": &opts.ReturnUrlsForImageAssets,
		"requestMultipleImages":    &opts.RequestMultipleImages,
		"requestCustomMuteThisAd":  &opts.RequestCustomMuteThisAd,
	} {
		v, err := args.OptionalBool(key)
		if err != nil {
			return opts, err
		}
		if v != nil {
			*dst = *v
		}
	}

	for key, dst := range map[string]*int{
		"adChoicesPlacement": &opts.AdChoicesPlacement,
		"mediaAspectRatio":   &opts.MediaAspectRatio,
	} {
		if !args.Has(key) {
			continue
		}
		v, err := args.Int(key)
		if err != nil {
			return opts, err
		}
		*dst = v
	}
	return opts, nil
}
