package ortb

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prebid/openrtb/v20/native1"
	nativeResponse "github.com/prebid/openrtb/v20/native1/response"

	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

// nativeAd is a native ad built from exchange markup
type nativeAd struct {
	headline     string
	body         string
	advertiser   string
	price        string
	store        string
	callToAction string
	starRating   *float64
	icon         *sdk.Image
	images       []sdk.Image
	adChoices    *sdk.AdChoicesInfo
	media        *mediaContent

	customMute bool

	tracker       *Tracker
	impTrackers   []string
	clickTrackers []string

	mu           sync.Mutex
	impressed    bool
	destroyed    bool
	muteListener func()
}

func newNativeAd(resp *nativeResponse.Response, opts sdk.NativeAdOptions, tracker *Tracker, burl string) *nativeAd {
	ad := &nativeAd{
		customMute: opts.RequestCustomMuteThisAd,
		tracker:    tracker,
	}

	var mainImages []sdk.Image
	var aspectRatio float64
	var vastTag string
	for _, asset := range resp.Assets {
		if asset.Link != nil {
			ad.clickTrackers = append(ad.clickTrackers, asset.Link.ClickTrackers...)
		}
		switch {
		case asset.Title != nil:
			ad.headline = asset.Title.Text
		case asset.Video != nil:
			vastTag = asset.Video.VASTTag
		case asset.Img != nil:
			img := sdk.Image{URI: asset.Img.URL, Scale: 1}
			if asset.ID != nil && *asset.ID == assetIcon {
				ad.icon = &img
			} else {
				if len(mainImages) == 0 && asset.Img.H > 0 {
					aspectRatio = float64(asset.Img.W) / float64(asset.Img.H)
				}
				mainImages = append(mainImages, img)
			}
		case asset.Data != nil && asset.ID != nil:
			ad.setData(*asset.ID, asset.Data.Value)
		}
	}
	if len(mainImages) > 1 && !opts.RequestMultipleImages {
		mainImages = mainImages[:1]
	}
	ad.images = mainImages

	ad.clickTrackers = append(ad.clickTrackers, resp.Link.ClickTrackers...)

	ad.impTrackers = append(ad.impTrackers, resp.ImpTrackers...)
	for _, et := range resp.EventTrackers {
		if et.Event == native1.EventTypeImpression && et.Method == native1.EventTrackingMethodImage {
			ad.impTrackers = append(ad.impTrackers, et.URL)
		}
	}
	if burl != "" {
		ad.impTrackers = append(ad.impTrackers, burl)
	}

	if resp.Privacy != "" {
		ad.adChoices = &sdk.AdChoicesInfo{Text: "AdChoices"}
	}

	ad.media = newMediaContent(aspectRatio, vastTag, opts.VideoOptions.StartMuted)
	return ad
}

func (a *nativeAd) setData(id int64, value string) {
	switch id {
	case assetSponsored:
		a.advertiser = value
	case assetBody:
		a.body = value
	case assetPrice:
		a.price = value
	case assetStore:
		a.store = value
	case assetCTA:
		a.callToAction = value
	case assetRating:
		if rating, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			a.starRating = &rating
		}
	}
}

func (a *nativeAd) Advertiser() string                { return a.advertiser }
func (a *nativeAd) Body() string                      { return a.body }
func (a *nativeAd) Headline() string                  { return a.headline }
func (a *nativeAd) Price() string                     { return a.price }
func (a *nativeAd) Store() string                     { return a.store }
func (a *nativeAd) CallToAction() string              { return a.callToAction }
func (a *nativeAd) StarRating() *float64              { return a.starRating }
func (a *nativeAd) Icon() *sdk.Image                  { return a.icon }
func (a *nativeAd) Images() []sdk.Image               { return a.images }
func (a *nativeAd) AdChoicesInfo() *sdk.AdChoicesInfo { return a.adChoices }
func (a *nativeAd) MediaContent() sdk.MediaContent    { return a.media }

// Clicks are reported by the host, so custom click gestures are always on
func (a *nativeAd) IsCustomClickGestureEnabled() bool { return true }

func (a *nativeAd) IsCustomMuteThisAdEnabled() bool { return a.customMute }

func (a *nativeAd) MuteThisAdReasons() []sdk.MuteThisAdReason {
	if !a.customMute {
		return nil
	}
	reasons := make([]sdk.MuteThisAdReason, len(muteReasons))
	copy(reasons, muteReasons)
	return reasons
}

func (a *nativeAd) SetMuteThisAdListener(fn func()) {
	a.mu.Lock()
	a.muteListener = fn
	a.mu.Unlock()
}

func (a *nativeAd) MuteThisAd(reason sdk.MuteThisAdReason) {
	a.mu.Lock()
	listener := a.muteListener
	destroyed := a.destroyed
	a.mu.Unlock()

	if destroyed || !a.customMute || listener == nil {
		return
	}
	listener()
}

// RecordImpression fires impression trackers once
func (a *nativeAd) RecordImpression() {
	a.mu.Lock()
	if a.impressed || a.destroyed {
		a.mu.Unlock()
		return
	}
	a.impressed = true
	a.mu.Unlock()

	a.tracker.Fire(a.impTrackers...)
}

func (a *nativeAd) PerformClick() {
	a.mu.Lock()
	destroyed := a.destroyed
	a.mu.Unlock()
	if destroyed {
		return
	}
	a.tracker.Fire(a.clickTrackers...)
}

func (a *nativeAd) Destroy() {
	a.mu.Lock()
	a.destroyed = true
	a.muteListener = nil
	a.mu.Unlock()
	a.media.video.stop()
}

// mediaContent is the main media of a native ad
type mediaContent struct {
	aspectRatio float64
	duration    float64
	hasVideo    bool
	video       *videoController
}

func newMediaContent(aspectRatio float64, vastTag string, startMuted bool) *mediaContent {
	m := &mediaContent{aspectRatio: aspectRatio}
	if vastTag != "" {
		m.hasVideo = true
		m.duration = vastDuration(vastTag)
		if m.aspectRatio == 0 {
			m.aspectRatio = 16.0 / 9.0
		}
	}
	m.video = newVideoController(time.Duration(m.duration*float64(time.Second)), startMuted)
	return m
}

func (m *mediaContent) AspectRatio() float64                 { return m.aspectRatio }
func (m *mediaContent) HasVideoContent() bool                { return m.hasVideo }
func (m *mediaContent) DurationSeconds() float64             { return m.duration }
func (m *mediaContent) VideoController() sdk.VideoController { return m.video }

// videoController plays a video headlessly: playback is a timer over
// the creative's duration.
type videoController struct {
	duration time.Duration

	mu        sync.Mutex
	cb        sdk.VideoLifecycleCallbacks
	muted     bool
	started   bool
	playing   bool
	ended     bool
	remaining time.Duration
	playedAt  time.Time
	timer     *time.Timer
}

func newVideoController(duration time.Duration, muted bool) *videoController {
	return &videoController{duration: duration, remaining: duration, muted: muted}
}

func (v *videoController) SetVideoLifecycleCallbacks(cb sdk.VideoLifecycleCallbacks) {
	v.mu.Lock()
	v.cb = cb
	v.mu.Unlock()
}

func (v *videoController) IsMuted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

func (v *videoController) Play() {
	v.mu.Lock()
	if v.playing {
		v.mu.Unlock()
		return
	}
	if v.ended {
		v.ended = false
		v.remaining = v.duration
	}
	first := !v.started
	v.started = true
	v.playing = true
	v.playedAt = time.Now()
	// unknown durations play until paused
	if v.remaining > 0 {
		v.timer = time.AfterFunc(v.remaining, v.finish)
	}
	cb := v.cb
	v.mu.Unlock()

	if first && cb.OnVideoStart != nil {
		cb.OnVideoStart()
	}
	if cb.OnVideoPlay != nil {
		cb.OnVideoPlay()
	}
}

func (v *videoController) Pause() {
	v.mu.Lock()
	if !v.playing {
		v.mu.Unlock()
		return
	}
	if v.timer != nil {
		v.timer.Stop()
	}
	v.playing = false
	v.remaining -= time.Since(v.playedAt)
	if v.remaining < 0 {
		v.remaining = 0
	}
	cb := v.cb
	v.mu.Unlock()

	if cb.OnVideoPause != nil {
		cb.OnVideoPause()
	}
}

func (v *videoController) Mute(muted bool) {
	v.mu.Lock()
	changed := v.muted != muted
	v.muted = muted
	cb := v.cb
	v.mu.Unlock()

	if changed && cb.OnVideoMute != nil {
		cb.OnVideoMute(muted)
	}
}

func (v *videoController) finish() {
	v.mu.Lock()
	if !v.playing {
		v.mu.Unlock()
		return
	}
	v.playing = false
	v.ended = true
	v.remaining = 0
	cb := v.cb
	v.mu.Unlock()

	if cb.OnVideoEnd != nil {
		cb.OnVideoEnd()
	}
}

// stop ends playback without callbacks
func (v *videoController) stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.timer != nil {
		v.timer.Stop()
	}
	v.playing = false
	v.cb = sdk.VideoLifecycleCallbacks{}
}
