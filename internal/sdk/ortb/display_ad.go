package ortb

import (
	"sync"

	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

// bannerAd is an HTML banner. Clicks inside the markup are tracked by the
// creative itself.
type bannerAd struct {
	size    sdk.AdSize
	markup  string
	tracker *Tracker
	burl    string

	mu        sync.Mutex
	impressed bool
	destroyed bool
}

func newBannerAd(size sdk.AdSize, markup string, tracker *Tracker, burl string) *bannerAd {
	return &bannerAd{size: size, markup: markup, tracker: tracker, burl: burl}
}

func (b *bannerAd) Size() sdk.AdSize { return b.size }
func (b *bannerAd) Markup() string   { return b.markup }

func (b *bannerAd) RecordImpression() {
	b.mu.Lock()
	if b.impressed || b.destroyed {
		b.mu.Unlock()
		return
	}
	b.impressed = true
	b.mu.Unlock()
	b.tracker.Fire(b.burl)
}

func (b *bannerAd) PerformClick() {}

func (b *bannerAd) Destroy() {
	b.mu.Lock()
	b.destroyed = true
	b.mu.Unlock()
}

// fullScreenAd is an interstitial, rewarded or app-open ad presented
// headlessly. Rewards are granted when the ad is dismissed.
type fullScreenAd struct {
	format  sdk.Format
	markup  string
	reward  *sdk.RewardItem
	tracker *Tracker
	burl    string

	mu        sync.Mutex
	shown     bool
	showing   bool
	destroyed bool
	cb        sdk.FullScreenContentCallback
}

func newFullScreenAd(format sdk.Format, markup string, reward *sdk.RewardItem, tracker *Tracker, burl string) *fullScreenAd {
	return &fullScreenAd{format: format, markup: markup, reward: reward, tracker: tracker, burl: burl}
}

func (f *fullScreenAd) Format() sdk.Format { return f.format }

func (f *fullScreenAd) Reward() *sdk.RewardItem {
	if f.reward == nil {
		return nil
	}
	r := *f.reward
	return &r
}

// Show presents the ad. An ad can be shown once.
func (f *fullScreenAd) Show(cb sdk.FullScreenContentCallback) {
	f.mu.Lock()
	var failure *sdk.AdError
	switch {
	case f.destroyed:
		failure = &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainSDK, Message: "The ad has been destroyed."}
	case f.shown:
		failure = &sdk.AdError{Code: sdk.ErrorCodeInvalidRequest, Domain: sdk.ErrorDomainSDK, Message: "The ad has already been shown."}
	default:
		f.shown = true
		f.showing = true
		f.cb = cb
	}
	f.mu.Unlock()

	if failure != nil {
		if cb.OnAdFailedToShow != nil {
			cb.OnAdFailedToShow(failure)
		}
		return
	}

	if cb.OnAdShowed != nil {
		cb.OnAdShowed()
	}
	f.tracker.Fire(f.burl)
	if cb.OnAdImpression != nil {
		cb.OnAdImpression()
	}
}

// Dismiss closes a showing ad
func (f *fullScreenAd) Dismiss() {
	f.mu.Lock()
	if !f.showing {
		f.mu.Unlock()
		return
	}
	f.showing = false
	cb := f.cb
	f.cb = sdk.FullScreenContentCallback{}
	f.mu.Unlock()

	if f.reward != nil && cb.OnUserEarnedReward != nil {
		cb.OnUserEarnedReward(*f.reward)
	}
	if cb.OnAdDismissed != nil {
		cb.OnAdDismissed()
	}
}

func (f *fullScreenAd) Destroy() {
	f.mu.Lock()
	f.destroyed = true
	f.showing = false
	f.cb = sdk.FullScreenContentCallback{}
	f.mu.Unlock()
}
