package controller

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/internal/looper"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

type fakeVideo struct {
	mu    sync.Mutex
	cb    sdk.VideoLifecycleCallbacks
	muted bool
}

func (v *fakeVideo) Play() {
	v.mu.Lock()
	cb := v.cb
	v.mu.Unlock()
	if cb.OnVideoPlay != nil {
		cb.OnVideoPlay()
	}
}

func (v *fakeVideo) Pause() {
	v.mu.Lock()
	cb := v.cb
	v.mu.Unlock()
	if cb.OnVideoPause != nil {
		cb.OnVideoPause()
	}
}

func (v *fakeVideo) Mute(muted bool) {
	v.mu.Lock()
	v.muted = muted
	cb := v.cb
	v.mu.Unlock()
	if cb.OnVideoMute != nil {
		cb.OnVideoMute(muted)
	}
}

func (v *fakeVideo) IsMuted() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.muted
}

func (v *fakeVideo) SetVideoLifecycleCallbacks(cb sdk.VideoLifecycleCallbacks) {
	v.mu.Lock()
	v.cb = cb
	v.mu.Unlock()
}

type fakeMedia struct {
	video    bool
	duration float64
	ctrl     *fakeVideo
}

func (m *fakeMedia) AspectRatio() float64                 { return 1.5 }
func (m *fakeMedia) HasVideoContent() bool                { return m.video }
func (m *fakeMedia) DurationSeconds() float64             { return m.duration }
func (m *fakeMedia) VideoController() sdk.VideoController { return m.ctrl }

type fakeNativeAd struct {
	headline   string
	starRating *float64
	images     []sdk.Image
	customMute bool
	media      *fakeMedia

	mu          sync.Mutex
	muteFn      func()
	muted       []sdk.MuteThisAdReason
	impressions int
	clicks      int
	destroyed   atomic.Bool
}

func newFakeNativeAd(headline string) *fakeNativeAd {
	return &fakeNativeAd{headline: headline, media: &fakeMedia{ctrl: &fakeVideo{}}}
}

func (a *fakeNativeAd) Advertiser() string   { return "Acme" }
func (a *fakeNativeAd) Body() string         { return "Body text" }
func (a *fakeNativeAd) Headline() string     { return a.headline }
func (a *fakeNativeAd) Price() string        { return "" }
func (a *fakeNativeAd) Store() string        { return "" }
func (a *fakeNativeAd) CallToAction() string { return "Install" }
func (a *fakeNativeAd) StarRating() *float64 { return a.starRating }
func (a *fakeNativeAd) Icon() *sdk.Image {
	return &sdk.Image{URI: "https://cdn.example.com/icon.png", Scale: 1}
}
func (a *fakeNativeAd) Images() []sdk.Image               { return a.images }
func (a *fakeNativeAd) IsCustomClickGestureEnabled() bool { return true }
func (a *fakeNativeAd) IsCustomMuteThisAdEnabled() bool   { return a.customMute }
func (a *fakeNativeAd) MediaContent() sdk.MediaContent    { return a.media }
func (a *fakeNativeAd) AdChoicesInfo() *sdk.AdChoicesInfo { return nil }
func (a *fakeNativeAd) MuteThisAdReasons() []sdk.MuteThisAdReason {
	if !a.customMute {
		return nil
	}
	return []sdk.MuteThisAdReason{{Description: "Not interested"}, {Description: "Seen this ad multiple times"}}
}

func (a *fakeNativeAd) SetMuteThisAdListener(fn func()) {
	a.mu.Lock()
	a.muteFn = fn
	a.mu.Unlock()
}

func (a *fakeNativeAd) MuteThisAd(reason sdk.MuteThisAdReason) {
	a.mu.Lock()
	a.muted = append(a.muted, reason)
	fn := a.muteFn
	a.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (a *fakeNativeAd) RecordImpression() {
	a.mu.Lock()
	a.impressions++
	a.mu.Unlock()
}

func (a *fakeNativeAd) PerformClick() {
	a.mu.Lock()
	a.clicks++
	a.mu.Unlock()
}

func (a *fakeNativeAd) Destroy() { a.destroyed.Store(true) }

type fakeBanner struct {
	size      sdk.AdSize
	destroyed atomic.Bool
}

func (b *fakeBanner) Size() sdk.AdSize  { return b.size }
func (b *fakeBanner) Markup() string    { return "<div></div>" }
func (b *fakeBanner) RecordImpression() {}
func (b *fakeBanner) PerformClick()     {}
func (b *fakeBanner) Destroy()          { b.destroyed.Store(true) }

type fakeFullScreen struct {
	format    sdk.Format
	reward    *sdk.RewardItem
	cb        sdk.FullScreenContentCallback
	destroyed atomic.Bool
}

func (f *fakeFullScreen) Format() sdk.Format      { return f.format }
func (f *fakeFullScreen) Reward() *sdk.RewardItem { return f.reward }
func (f *fakeFullScreen) Destroy()                { f.destroyed.Store(true) }
func (f *fakeFullScreen) Show(cb sdk.FullScreenContentCallback) {
	f.cb = cb
	cb.OnAdShowed()
	cb.OnAdImpression()
}

func (f *fakeFullScreen) Dismiss() {
	if f.reward != nil {
		f.cb.OnUserEarnedReward(*f.reward)
	}
	f.cb.OnAdDismissed()
}

// fakeLoader answers loads with preset ads. With a gate, loads block until
// the gate is closed.
type fakeLoader struct {
	mu         sync.Mutex
	native     sdk.NativeAd
	banner     sdk.BannerAd
	fullScreen sdk.FullScreenAd
	err        error
	gate       chan struct{}
	started    chan sdk.AdRequest
	requests   []sdk.AdRequest
	nativeOpts []sdk.NativeAdOptions
}

func (l *fakeLoader) wait(ctx context.Context, req sdk.AdRequest) error {
	l.mu.Lock()
	l.requests = append(l.requests, req)
	gate, started := l.gate, l.started
	l.mu.Unlock()

	if started != nil {
		started <- req
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (l *fakeLoader) LoadNative(ctx context.Context, req sdk.AdRequest, opts sdk.NativeAdOptions) (sdk.NativeAd, error) {
	l.mu.Lock()
	l.nativeOpts = append(l.nativeOpts, opts)
	l.mu.Unlock()
	if err := l.wait(ctx, req); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.native, nil
}

func (l *fakeLoader) LoadBanner(ctx context.Context, req sdk.AdRequest, size sdk.AdSize) (sdk.BannerAd, error) {
	if err := l.wait(ctx, req); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	if l.banner == nil {
		return &fakeBanner{size: size}, nil
	}
	return l.banner, nil
}

func (l *fakeLoader) LoadFullScreen(ctx context.Context, req sdk.AdRequest, format sdk.Format) (sdk.FullScreenAd, error) {
	if err := l.wait(ctx, req); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.fullScreen, nil
}

type fakeView struct {
	mu        sync.Mutex
	attached  []sdk.Ad
	clicks    int
	destroyed bool
}

func (v *fakeView) Attach(ad sdk.Ad) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.destroyed {
		return errors.New("view destroyed")
	}
	v.attached = append(v.attached, ad)
	return nil
}

func (v *fakeView) PerformClick() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.attached) == 0 {
		return false
	}
	v.clicks++
	return true
}

func (v *fakeView) Destroy() {
	v.mu.Lock()
	v.destroyed = true
	v.mu.Unlock()
}

type fakeViewHost struct {
	mu    sync.Mutex
	gate  chan struct{}
	views []*fakeView
}

func (h *fakeViewHost) Inflate(ctx context.Context, _ ViewRequest) (View, error) {
	h.mu.Lock()
	gate := h.gate
	h.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	v := &fakeView{}
	h.mu.Lock()
	h.views = append(h.views, v)
	h.mu.Unlock()
	return v, nil
}

func (h *fakeViewHost) inflated() []*fakeView {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*fakeView(nil), h.views...)
}

type countingObserver struct {
	mu       sync.Mutex
	created  int
	disposed int
	outcomes []string
}

func (o *countingObserver) ControllerCreated(sdk.Format) {
	o.mu.Lock()
	o.created++
	o.mu.Unlock()
}

func (o *countingObserver) ControllerDisposed(sdk.Format) {
	o.mu.Lock()
	o.disposed++
	o.mu.Unlock()
}

func (o *countingObserver) LoadStarted(sdk.Format) {}

func (o *countingObserver) LoadCompleted(_ sdk.Format, outcome string, _ time.Duration) {
	o.mu.Lock()
	o.outcomes = append(o.outcomes, outcome)
	o.mu.Unlock()
}

type recordingSink struct {
	mu     sync.Mutex
	events []channel.Event
}

func (s *recordingSink) Emit(e channel.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// methods returns the event names emitted on one channel
func (s *recordingSink) methods(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.events {
		if e.Channel == name {
			out = append(out, e.Method)
		}
	}
	return out
}

func (s *recordingSink) last(name, method string) (channel.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if e := s.events[i]; e.Channel == name && e.Method == method {
			return e, true
		}
	}
	return channel.Event{}, false
}

type harness struct {
	loop      *looper.Looper
	messenger *channel.Messenger
	sink      *recordingSink
	loader    *fakeLoader
	views     *fakeViewHost
	observer  *countingObserver
	mobileAds *sdk.MobileAds
	deps      Deps
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		loop:      looper.New(0),
		sink:      &recordingSink{},
		loader:    &fakeLoader{},
		views:     &fakeViewHost{},
		observer:  &countingObserver{},
		mobileAds: sdk.NewMobileAds(sdk.Options{DeviceID: "device-1"}),
	}
	h.messenger = channel.NewMessenger(h.loop, h.sink)
	h.deps = Deps{
		Messenger: h.messenger,
		Exec:      h.loop,
		SDK:       h.mobileAds,
		Loader:    h.loader,
		Views:     h.views,
		Observer:  h.observer,
	}
	t.Cleanup(h.loop.Stop)
	return h
}

// sync runs fn on the owner loop and waits for it
func (h *harness) sync(t *testing.T, fn func()) {
	t.Helper()
	if err := h.loop.Sync(fn); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
}

// flush waits for tasks already posted to the loop
func (h *harness) flush(t *testing.T) {
	t.Helper()
	h.sync(t, func() {})
}

func (h *harness) send(name, method string, args map[string]interface{}) *channel.Pending {
	p := channel.NewPending()
	h.messenger.Send(name, channel.NewMethodCall(method, args), p.Result())
	return p
}

func (h *harness) call(t *testing.T, name, method string, args map[string]interface{}) channel.Outcome {
	t.Helper()
	return await(t, h.send(name, method, args))
}

func await(t *testing.T, p *channel.Pending) channel.Outcome {
	t.Helper()
	select {
	case o := <-p.Done():
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for method call result")
		return channel.Outcome{}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
