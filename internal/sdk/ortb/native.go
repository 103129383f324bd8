package ortb

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"image"
	_ "image/gif" // register decoders for image assets
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prebid/openrtb/v20/native1"
	nativeRequest "github.com/prebid/openrtb/v20/native1/request"
	nativeResponse "github.com/prebid/openrtb/v20/native1/response"

	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

const nativeVersion = "1.2"

// Asset ids of the native request. Responses are mapped back by id.
const (
	assetTitle int64 = iota + 1
	assetIcon
	assetMainImage
	assetSponsored
	assetBody
	assetRating
	assetPrice
	assetStore
	assetCTA
)

// maxImageSize bounds one downloaded image asset
const maxImageSize = 2 * 1024 * 1024

// mainImageSize returns the minimum main image size for an aspect ratio option
func mainImageSize(aspectRatio int) (w, h int64) {
	switch aspectRatio {
	case sdk.MediaAspectRatioLandscape:
		return 1200, 627
	case sdk.MediaAspectRatioPortrait:
		return 627, 1200
	case sdk.MediaAspectRatioSquare:
		return 627, 627
	default:
		return 0, 0
	}
}

// buildNativeRequest encodes the native 1.2 request for the given options
func buildNativeRequest(opts sdk.NativeAdOptions) (string, error) {
	mainW, mainH := mainImageSize(opts.MediaAspectRatio)

	req := nativeRequest.Request{
		Ver:       nativeVersion,
		Context:   native1.ContextType(1),   // content-centric
		PlcmtType: native1.PlacementType(1), // in feed
		Assets: []nativeRequest.Asset{
			{ID: assetTitle, Required: 1, Title: &nativeRequest.Title{Len: 90}},
			{ID: assetIcon, Img: &nativeRequest.Image{Type: native1.ImageAssetTypeIcon, WMin: 50, HMin: 50}},
			{ID: assetMainImage, Img: &nativeRequest.Image{Type: native1.ImageAssetTypeMain, WMin: mainW, HMin: mainH}},
			{ID: assetSponsored, Data: &nativeRequest.Data{Type: native1.DataAssetTypeSponsored, Len: 25}},
			{ID: assetBody, Data: &nativeRequest.Data{Type: native1.DataAssetTypeDesc, Len: 140}},
			{ID: assetRating, Data: &nativeRequest.Data{Type: native1.DataAssetTypeRating}},
			{ID: assetPrice, Data: &nativeRequest.Data{Type: native1.DataAssetTypePrice}},
			{ID: assetStore, Data: &nativeRequest.Data{Type: native1.DataAssetTypeDispayURL}},
			{ID: assetCTA, Data: &nativeRequest.Data{Type: native1.DataAssetTypeCTAText, Len: 15}},
		},
		EventTrackers: []nativeRequest.EventTracker{
			{Event: native1.EventTypeImpression, Methods: []native1.EventTrackingMethod{native1.EventTrackingMethodImage}},
		},
		Privacy: 1,
	}
	if opts.RequestMultipleImages {
		req.PlcmtCnt = 1
	}

	data, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal native request: %w", err)
	}
	return string(data), nil
}

// parseNativeMarkup decodes native 1.2 markup, accepting the legacy
// {"native": {...}} wrapper
func parseNativeMarkup(adm string) (*nativeResponse.Response, error) {
	var wrapped struct {
		Native *nativeResponse.Response `json:"native"`
	}
	if err := json.Unmarshal([]byte(adm), &wrapped); err == nil && wrapped.Native != nil {
		return wrapped.Native, nil
	}

	var resp nativeResponse.Response
	if err := json.Unmarshal([]byte(adm), &resp); err != nil {
		return nil, fmt.Errorf("invalid native markup: %w", err)
	}
	if len(resp.Assets) == 0 {
		return nil, errors.New("native markup has no assets")
	}
	return &resp, nil
}

// vastDocument holds the parts of a VAST tag the ad needs
type vastDocument struct {
	Durations []string `xml:"Ad>InLine>Creatives>Creative>Linear>Duration"`
}

// vastDuration returns the linear creative duration in seconds, 0 when absent
func vastDuration(tag string) float64 {
	var doc vastDocument
	if err := xml.Unmarshal([]byte(tag), &doc); err != nil {
		return 0
	}
	for _, d := range doc.Durations {
		if secs, ok := parseClock(strings.TrimSpace(d)); ok {
			return secs
		}
	}
	return 0
}

// parseClock parses HH:MM:SS or HH:MM:SS.mmm
func parseClock(s string) (float64, bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return 0, false
	}
	return float64(h*3600+m*60) + sec, true
}

// muteReasons are offered when custom mute is requested
var muteReasons = []sdk.MuteThisAdReason{
	{Description: "Not interested in this ad"},
	{Description: "Seen this ad multiple times"},
	{Description: "Ad was inappropriate"},
	{Description: "Ad covered content"},
}

// fetchImages downloads image assets and decodes their dimensions.
// A failed download leaves the image without a drawable.
func (l *Loader) fetchImages(ctx context.Context, ad *nativeAd) {
	if ad.icon != nil {
		ad.icon.Drawable = l.fetchDrawable(ctx, ad.icon.URI)
	}
	for i := range ad.images {
		ad.images[i].Drawable = l.fetchDrawable(ctx, ad.images[i].URI)
	}
}

func (l *Loader) fetchDrawable(ctx context.Context, url string) *sdk.Drawable {
	if url == "" {
		return nil
	}
	drawable, err := l.download(ctx, url)
	if err != nil {
		logger.Exchange().Debug().Err(err).Str("url", url).Msg("Failed to fetch image asset")
		return nil
	}
	return drawable
}

func (l *Loader) download(ctx context.Context, url string) (*sdk.Drawable, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageSize+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageSize {
		return nil, errors.New("image too large")
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return &sdk.Drawable{Width: cfg.Width, Height: cfg.Height, Bytes: data}, nil
}
