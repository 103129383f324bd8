package sdk

import "context"

// Test ad units used when a caller omits the unit id
const (
	NativeTestUnitID       = "ca-app-pub-3940256099942544/2247696110"
	BannerTestUnitID       = "ca-app-pub-3940256099942544/6300978111"
	InterstitialTestUnitID = "ca-app-pub-3940256099942544/1033173712"
	RewardedTestUnitID     = "ca-app-pub-3940256099942544/5224354917"
	AppOpenTestUnitID      = "ca-app-pub-3940256099942544/3419835294"
)

// TestUnitID returns the test ad unit for a format
func TestUnitID(format Format) string {
	switch format {
	case FormatBanner:
		return BannerTestUnitID
	case FormatInterstitial:
		return InterstitialTestUnitID
	case FormatRewarded:
		return RewardedTestUnitID
	case FormatAppOpen:
		return AppOpenTestUnitID
	default:
		return NativeTestUnitID
	}
}

// AdChoices placements
const (
	AdChoicesTopLeft     = 0
	AdChoicesTopRight    = 1
	AdChoicesBottomRight = 2
	AdChoicesBottomLeft  = 3
)

// Media aspect ratios
const (
	MediaAspectRatioUnknown   = 0
	MediaAspectRatioAny       = 1
	MediaAspectRatioLandscape = 2
	MediaAspectRatioPortrait  = 3
	MediaAspectRatioSquare    = 4
)

// VideoOptions configures video assets
type VideoOptions struct {
	StartMuted bool
}

// NativeAdOptions configures a native ad request
type NativeAdOptions struct {
	VideoOptions             VideoOptions
	ReturnUrlsForImageAssets bool
	RequestMultipleImages    bool
	AdChoicesPlacement       int
	MediaAspectRatio         int
	RequestCustomMuteThisAd  bool
}

// DefaultNativeAdOptions returns the SDK defaults
func DefaultNativeAdOptions() NativeAdOptions {
	return NativeAdOptions{
		VideoOptions:       VideoOptions{StartMuted: true},
		AdChoicesPlacement: AdChoicesTopRight,
		MediaAspectRatio:   MediaAspectRatioUnknown,
	}
}

// AdRequest carries what every load needs
type AdRequest struct {
	UnitID string
	// Config is the request configuration snapshot taken when the load began
	Config RequestConfiguration
	// TestDevice marks the request as coming from a test device
	TestDevice bool
}

// AdLoader loads ads from an ad source. Loads block until the source
// answers or ctx ends; callers run them off the owner loop.
// Failures are returned as *AdError.
type AdLoader interface {
	LoadNative(ctx context.Context, req AdRequest, opts NativeAdOptions) (NativeAd, error)
	LoadBanner(ctx context.Context, req AdRequest, size AdSize) (BannerAd, error)
	LoadFullScreen(ctx context.Context, req AdRequest, format Format) (FullScreenAd, error)
}
