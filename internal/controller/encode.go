package controller

import (
	"errors"

	"github.com/thenexusengine/tne_adbridge/internal/sdk"
)

// Payload kinds
const (
	KindDefault = "default"
	KindError   = "error"
)

const disposedMessage = "controller disposed"

// EncodeNativeAd captures a loaded native ad. Every key is always present;
// absent assets are encoded as nil and numbers as float64. A present but
// empty image list stays an empty list.
func EncodeNativeAd(ad sdk.NativeAd) map[string]interface{} {
	var starRating interface{}
	if r := ad.StarRating(); r != nil {
		starRating = *r
	}

	var icon interface{}
	if img := ad.Icon(); img != nil {
		icon = encodeImage(*img)
	}

	var images interface{}
	if imgs := ad.Images(); imgs != nil {
		images = encodeImages(imgs)
	}

	var muteReasons interface{}
	if ad.IsCustomMuteThisAdEnabled() {
		reasons := ad.MuteThisAdReasons()
		descriptions := make([]string, 0, len(reasons))
		for _, r := range reasons {
			descriptions = append(descriptions, r.Description)
		}
		muteReasons = descriptions
	}

	return map[string]interface{}{
		"kind":                        KindDefault,
		"advertiser":                  optionalString(ad.Advertiser()),
		"body":                        optionalString(ad.Body()),
		"headline":                    optionalString(ad.Headline()),
		"price":                       optionalString(ad.Price()),
		"store":                       optionalString(ad.Store()),
		"callToAction":                optionalString(ad.CallToAction()),
		"starRating":                  starRating,
		"icon":                        icon,
		"images":                      images,
		"isCustomClickGestureEnabled": ad.IsCustomClickGestureEnabled(),
		"isCustomMuteThisAdEnabled":   ad.IsCustomMuteThisAdEnabled(),
		"muteThisAdReasons":           muteReasons,
		"mediaContent":                encodeMediaContent(ad.MediaContent()),
		"adChoicesInfo":               encodeAdChoices(ad.AdChoicesInfo()),
	}
}

func encodeMediaContent(m sdk.MediaContent) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{
			"aspectRatio":     float64(0),
			"hasVideoContent": false,
			"durationSeconds": float64(0),
		}
	}
	return map[string]interface{}{
		"aspectRatio":     m.AspectRatio(),
		"hasVideoContent": m.HasVideoContent(),
		"durationSeconds": m.DurationSeconds(),
	}
}

func encodeAdChoices(info *sdk.AdChoicesInfo) map[string]interface{} {
	if info == nil {
		return map[string]interface{}{"text": nil, "images": []interface{}{}}
	}
	return map[string]interface{}{
		"text":   optionalString(info.Text),
		"images": encodeImages(info.Images),
	}
}

func encodeImages(imgs []sdk.Image) []interface{} {
	out := make([]interface{}, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, encodeImage(img))
	}
	return out
}

func encodeImage(img sdk.Image) map[string]interface{} {
	var bitmap interface{}
	if d := img.Drawable; d != nil {
		bitmap = map[string]interface{}{
			"width":  float64(d.Width),
			"height": float64(d.Height),
			"bytes":  d.Bytes,
		}
	}
	return map[string]interface{}{
		"uri":    img.URI,
		"scale":  img.Scale,
		"bitmap": bitmap,
	}
}

// EncodeBanner captures a loaded banner
func EncodeBanner(ad sdk.BannerAd) map[string]interface{} {
	size := ad.Size()
	return map[string]interface{}{
		"kind":   KindDefault,
		"width":  float64(size.Width),
		"height": float64(size.Height),
	}
}

// EncodeFullScreen captures a loaded interstitial, rewarded or app-open ad
func EncodeFullScreen(ad sdk.FullScreenAd) map[string]interface{} {
	var reward interface{}
	if r := ad.Reward(); r != nil {
		reward = EncodeReward(*r)
	}
	return map[string]interface{}{
		"kind":   KindDefault,
		"format": string(ad.Format()),
		"reward": reward,
	}
}

// EncodeReward encodes a reward item
func EncodeReward(r sdk.RewardItem) map[string]interface{} {
	return map[string]interface{}{
		"type":   r.Type,
		"amount": float64(r.Amount),
	}
}

// EncodeError encodes an ad error and its cause chain. A nil error encodes
// as nil, which also terminates the chain.
func EncodeError(err *sdk.AdError) interface{} {
	if err == nil {
		return nil
	}
	return map[string]interface{}{
		"errorCode": float64(err.Code),
		"domain":    optionalString(err.Domain),
		"message":   optionalString(err.Message),
		"cause":     EncodeError(err.Cause),
	}
}

// FailurePayload is the onAdChanged payload of a failed load
func FailurePayload(err *sdk.AdError) map[string]interface{} {
	return map[string]interface{}{
		"kind":    KindError,
		"message": err.Message,
		"error":   EncodeError(err),
	}
}

func disposedPayload() map[string]interface{} {
	return map[string]interface{}{
		"kind":    KindError,
		"message": disposedMessage,
		"error":   nil,
	}
}

// asAdError normalises a loader error; loaders should already return *AdError
func asAdError(err error) *sdk.AdError {
	var adErr *sdk.AdError
	if errors.As(err, &adErr) {
		return adErr
	}
	if err == nil {
		return &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainSDK, Message: "Ad source returned no ad"}
	}
	return &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainSDK, Message: err.Error()}
}

func optionalString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
