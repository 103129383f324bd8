package sdk

import "fmt"

// Format is an ad format
type Format string

const (
	FormatNative       Format = "native"
	FormatBanner       Format = "banner"
	FormatInterstitial Format = "interstitial"
	FormatRewarded     Format = "rewarded"
	FormatAppOpen      Format = "app_open"
)

// Error domains
const (
	ErrorDomainSDK      = "adbridge.sdk"
	ErrorDomainExchange = "adbridge.exchange"
)

// Error codes, numbered like the mobile ads SDK's load error codes
const (
	ErrorCodeInternalError   = 0
	ErrorCodeInvalidRequest  = 1
	ErrorCodeNetworkError    = 2
	ErrorCodeNoFill          = 3
	ErrorCodeMediationNoFill = 9
	ErrorCodeInvalidAdString = 11
)

// AdError describes a failed load or show, with an optional cause chain
type AdError struct {
	Code    int
	Domain  string
	Message string
	Cause   *AdError
}

func (e *AdError) Error() string {
	return fmt.Sprintf("%s: %d: %s", e.Domain, e.Code, e.Message)
}

// Unwrap exposes the cause chain to errors.Is/As
func (e *AdError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// NoFillError returns the error reported when no ad is available
func NoFillError(domain string) *AdError {
	return &AdError{Code: ErrorCodeNoFill, Domain: domain, Message: "No fill"}
}

// Ad is any loaded ad object
type Ad interface {
	// Destroy releases the ad; further use is invalid
	Destroy()
}

// Drawable is decoded image content
type Drawable struct {
	Width  int
	Height int
	Bytes  []byte
}

// Image is an image asset of an ad
type Image struct {
	URI   string
	Scale float64
	// Drawable is nil when the source returned only a URL
	Drawable *Drawable
}

// MuteThisAdReason is one reason a user can give for muting an ad
type MuteThisAdReason struct {
	Description string
}

// VideoLifecycleCallbacks receives video playback events. Callbacks may
// arrive on any goroutine.
type VideoLifecycleCallbacks struct {
	OnVideoStart func()
	OnVideoPlay  func()
	OnVideoPause func()
	OnVideoEnd   func()
	OnVideoMute  func(muted bool)
}

// VideoController drives video playback of an ad
type VideoController interface {
	Play()
	Pause()
	Mute(muted bool)
	IsMuted() bool
	SetVideoLifecycleCallbacks(cb VideoLifecycleCallbacks)
}

// MediaContent describes the main media asset of a native ad
type MediaContent interface {
	AspectRatio() float64
	HasVideoContent() bool
	// DurationSeconds is 0 when there is no video
	DurationSeconds() float64
	VideoController() VideoController
}

// AdChoicesInfo is the ad-choices overlay content
type AdChoicesInfo struct {
	Text   string
	Images []Image
}

// NativeAd is a loaded native ad. Empty strings mean the asset is absent.
type NativeAd interface {
	Ad
	Advertiser() string
	Body() string
	Headline() string
	Price() string
	Store() string
	CallToAction() string
	// StarRating is nil when the ad carries no rating
	StarRating() *float64
	Icon() *Image
	Images() []Image
	IsCustomClickGestureEnabled() bool
	IsCustomMuteThisAdEnabled() bool
	MuteThisAdReasons() []MuteThisAdReason
	MuteThisAd(reason MuteThisAdReason)
	SetMuteThisAdListener(fn func())
	MediaContent() MediaContent
	AdChoicesInfo() *AdChoicesInfo
	RecordImpression()
	PerformClick()
}

// AdSize is a banner size in density-independent pixels
type AdSize struct {
	Width  int
	Height int
}

// Standard banner sizes
var (
	AdSizeBanner          = AdSize{Width: 320, Height: 50}
	AdSizeLargeBanner     = AdSize{Width: 320, Height: 100}
	AdSizeMediumRectangle = AdSize{Width: 300, Height: 250}
	AdSizeFullBanner      = AdSize{Width: 468, Height: 60}
	AdSizeLeaderboard     = AdSize{Width: 728, Height: 90}
)

// AdSizeByName resolves a size name, falling back to the standard banner
func AdSizeByName(name string) AdSize {
	switch name {
	case "largeBanner":
		return AdSizeLargeBanner
	case "mediumRectangle":
		return AdSizeMediumRectangle
	case "fullBanner":
		return AdSizeFullBanner
	case "leaderboard":
		return AdSizeLeaderboard
	default:
		return AdSizeBanner
	}
}

// BannerAd is a loaded banner
type BannerAd interface {
	Ad
	Size() AdSize
	Markup() string
	RecordImpression()
	PerformClick()
}

// RewardItem is the reward granted by a rewarded ad
type RewardItem struct {
	Type   string
	Amount int
}

// FullScreenContentCallback receives full-screen presentation events.
// Callbacks may arrive on any goroutine.
type FullScreenContentCallback struct {
	OnAdShowed         func()
	OnAdImpression     func()
	OnAdDismissed      func()
	OnAdFailedToShow   func(err *AdError)
	OnUserEarnedReward func(reward RewardItem)
}

// FullScreenAd is a loaded interstitial, rewarded or app-open ad.
// It can be shown once.
type FullScreenAd interface {
	Ad
	Format() Format
	// Reward is nil for formats without a reward
	Reward() *RewardItem
	Show(cb FullScreenContentCallback)
	Dismiss()
}
