// Package ortb loads ads from an OpenRTB 2.6 exchange
package ortb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prebid/openrtb/v20/adcom1"
	"github.com/prebid/openrtb/v20/openrtb2"
	"github.com/prebid/openrtb/v20/openrtb3"

	"github.com/thenexusengine/tne_adbridge/internal/config"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/pkg/breaker"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

const (
	displayManager    = "adbridge"
	displayManagerVer = "1.0"

	// auctionPriceMacro is substituted in win notice URLs
	auctionPriceMacro = "${AUCTION_PRICE}"
)

// Placement maps an ad unit to exchange inventory
type Placement struct {
	TagID        string
	BidFloor     float64
	BidFloorCur  string
	RewardType   string
	RewardAmount int
}

// PlacementResolver looks up the placement of an ad unit. A nil placement
// with a nil error means the unit is not in the catalogue.
type PlacementResolver interface {
	ResolvePlacement(ctx context.Context, unitID string, format sdk.Format) (*Placement, error)
}

// Config configures the exchange loader
type Config struct {
	Endpoint    string
	Timeout     time.Duration
	AppBundle   string
	AppName     string
	PublisherID string
	// OS reported in the device object
	OS string
	// OSVersion reported in the device object
	OSVersion  string
	DeviceID   string
	HTTPClient *http.Client
	Breaker    *breaker.Config
	// Tracker fires trackers; one is created when nil
	Tracker    *Tracker
	Placements PlacementResolver
}

// Loader implements sdk.AdLoader against an OpenRTB exchange
type Loader struct {
	cfg         Config
	client      *http.Client
	breaker     *breaker.Breaker
	tracker     *Tracker
	ownsTracker bool
}

// NewLoader creates an exchange loader
func NewLoader(cfg Config) (*Loader, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("exchange endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = config.DefaultExchangeTimeout
	}

	client := cfg.HTTPClient
	if client == nil {
		transport := &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     config.ExchangeMaxConnsPerHost,
			IdleConnTimeout:     config.ExchangeIdleConnTimeout,
		}
		client = &http.Client{Transport: transport}
	}

	bcfg := cfg.Breaker
	if bcfg == nil {
		bcfg = breaker.DefaultConfig()
	}
	if bcfg.IsFailure == nil {
		bcfg.IsFailure = countsAgainstExchange
	}

	l := &Loader{
		cfg:     cfg,
		client:  client,
		breaker: breaker.New(bcfg),
		tracker: cfg.Tracker,
	}
	if l.tracker == nil {
		l.tracker = NewTracker(nil, config.TrackerBufferSize)
		l.ownsTracker = true
	}
	return l, nil
}

// countsAgainstExchange keeps no-fill and rejected requests from opening
// the breaker
func countsAgainstExchange(err error) bool {
	var adErr *sdk.AdError
	if errors.As(err, &adErr) {
		return adErr.Code != sdk.ErrorCodeNoFill && adErr.Code != sdk.ErrorCodeInvalidRequest
	}
	return true
}

// Close stops the tracker if the loader created it
func (l *Loader) Close() {
	if l.ownsTracker {
		l.tracker.Close()
	}
	l.breaker.Close()
}

// BreakerStats returns the exchange breaker statistics
func (l *Loader) BreakerStats() breaker.Stats {
	return l.breaker.Stats()
}

// TrackerStats returns the tracker counters
func (l *Loader) TrackerStats() TrackerStats {
	return l.tracker.Stats()
}

// LoadNative requests a native ad
func (l *Loader) LoadNative(ctx context.Context, req sdk.AdRequest, opts sdk.NativeAdOptions) (sdk.NativeAd, error) {
	nativeReq, err := buildNativeRequest(opts)
	if err != nil {
		return nil, &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainSDK, Message: err.Error()}
	}

	imp := openrtb2.Imp{
		Native: &openrtb2.Native{Request: nativeReq, Ver: nativeVersion},
	}
	won, err := l.auction(ctx, req, sdk.FormatNative, imp)
	if err != nil {
		return nil, err
	}

	markup, err := parseNativeMarkup(won.bid.AdM)
	if err != nil {
		return nil, &sdk.AdError{Code: sdk.ErrorCodeInvalidAdString, Domain: sdk.ErrorDomainExchange, Message: err.Error()}
	}

	ad := newNativeAd(markup, opts, l.tracker, won.bid.BURL)
	if !opts.ReturnUrlsForImageAssets {
		l.fetchImages(ctx, ad)
	}
	return ad, nil
}

// LoadBanner requests a banner of the given size
func (l *Loader) LoadBanner(ctx context.Context, req sdk.AdRequest, size sdk.AdSize) (sdk.BannerAd, error) {
	w, h := int64(size.Width), int64(size.Height)
	imp := openrtb2.Imp{
		Banner: &openrtb2.Banner{
			W:      &w,
			H:      &h,
			Format: []openrtb2.Format{{W: w, H: h}},
		},
	}
	won, err := l.auction(ctx, req, sdk.FormatBanner, imp)
	if err != nil {
		return nil, err
	}
	if won.bid.W > 0 && won.bid.H > 0 {
		size = sdk.AdSize{Width: int(won.bid.W), Height: int(won.bid.H)}
	}
	return newBannerAd(size, won.bid.AdM, l.tracker, won.bid.BURL), nil
}

// LoadFullScreen requests an interstitial, rewarded or app-open ad
func (l *Loader) LoadFullScreen(ctx context.Context, req sdk.AdRequest, format sdk.Format) (sdk.FullScreenAd, error) {
	imp := openrtb2.Imp{
		Instl: 1,
		Banner: &openrtb2.Banner{
			Format: []openrtb2.Format{{W: 320, H: 480}, {W: 480, H: 320}},
		},
	}
	if format == sdk.FormatRewarded {
		imp.Rwdd = 1
	}
	won, err := l.auction(ctx, req, format, imp)
	if err != nil {
		return nil, err
	}

	var reward *sdk.RewardItem
	if format == sdk.FormatRewarded {
		reward = &sdk.RewardItem{Type: "coins", Amount: 1}
		if won.placement != nil && won.placement.RewardType != "" {
			reward = &sdk.RewardItem{Type: won.placement.RewardType, Amount: won.placement.RewardAmount}
		}
	}
	return newFullScreenAd(format, won.bid.AdM, reward, l.tracker, won.bid.BURL), nil
}

type auctionResult struct {
	bid       *openrtb2.Bid
	placement *Placement
}

// auction runs one single-impression auction and returns the winning bid
func (l *Loader) auction(ctx context.Context, req sdk.AdRequest, format sdk.Format, imp openrtb2.Imp) (*auctionResult, error) {
	log := logger.Exchange()

	placement := l.resolvePlacement(ctx, req.UnitID, format)
	imp.ID = "1"
	imp.TagID = req.UnitID
	imp.DisplayManager = displayManager
	imp.DisplayManagerVer = displayManagerVer
	secure := int8(1)
	imp.Secure = &secure
	if placement != nil {
		if placement.TagID != "" {
			imp.TagID = placement.TagID
		}
		imp.BidFloor = placement.BidFloor
		imp.BidFloorCur = placement.BidFloorCur
	}

	bidReq := l.buildBidRequest(req, imp)
	body, err := json.Marshal(bidReq)
	if err != nil {
		return nil, &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainSDK, Message: fmt.Sprintf("failed to marshal request: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Timeout)
	defer cancel()

	var resp *openrtb2.BidResponse
	start := time.Now()
	err = l.breaker.Do(ctx, func(ctx context.Context) error {
		var postErr error
		resp, postErr = l.post(ctx, body)
		return postErr
	})
	if err != nil {
		log.Debug().
			Err(err).
			Str("request_id", bidReq.ID).
			Str("unit_id", req.UnitID).
			Dur("duration", time.Since(start)).
			Msg("Exchange request failed")
		return nil, toAdError(err)
	}

	bid := selectBid(resp, req.Config.MaxAdContentRating.QAGMediaRating())
	if bid == nil {
		return nil, sdk.NoFillError(sdk.ErrorDomainExchange)
	}
	if strings.TrimSpace(bid.AdM) == "" {
		return nil, &sdk.AdError{Code: sdk.ErrorCodeInvalidAdString, Domain: sdk.ErrorDomainExchange, Message: "Winning bid has no markup"}
	}

	if bid.NURL != "" {
		l.tracker.Fire(substitutePrice(bid.NURL, bid.Price))
	}
	bid.BURL = substitutePrice(bid.BURL, bid.Price)

	log.Debug().
		Str("request_id", bidReq.ID).
		Str("unit_id", req.UnitID).
		Str("format", string(format)).
		Float64("price", bid.Price).
		Dur("duration", time.Since(start)).
		Msg("Exchange auction won")

	return &auctionResult{bid: bid, placement: placement}, nil
}

func (l *Loader) resolvePlacement(ctx context.Context, unitID string, format sdk.Format) *Placement {
	if l.cfg.Placements == nil {
		return nil
	}
	placement, err := l.cfg.Placements.ResolvePlacement(ctx, unitID, format)
	if err != nil {
		logger.Exchange().Warn().Err(err).Str("unit_id", unitID).Msg("Failed to resolve placement, using unit id")
		return nil
	}
	return placement
}

func (l *Loader) buildBidRequest(req sdk.AdRequest, imp openrtb2.Imp) *openrtb2.BidRequest {
	bidReq := &openrtb2.BidRequest{
		ID:   uuid.New().String(),
		Imp:  []openrtb2.Imp{imp},
		AT:   1,
		TMax: l.cfg.Timeout.Milliseconds(),
		Cur:  []string{"USD"},
		App: &openrtb2.App{
			Bundle: l.cfg.AppBundle,
			Name:   l.cfg.AppName,
		},
		Device: &openrtb2.Device{
			DeviceType: adcom1.DevicePhone,
			OS:         l.cfg.OS,
			OSV:        l.cfg.OSVersion,
			IFA:        l.cfg.DeviceID,
		},
	}
	if l.cfg.PublisherID != "" {
		bidReq.App.Publisher = &openrtb2.Publisher{ID: l.cfg.PublisherID}
	}
	if req.TestDevice {
		bidReq.Test = 1
	}

	cfg := req.Config
	if cfg.TagForChildDirectedTreatment == sdk.ChildDirectedTrue {
		bidReq.Regs = &openrtb2.Regs{COPPA: 1}
	}
	if cfg.TagForUnderAgeOfConsent == sdk.UnderAgeOfConsentTrue {
		if bidReq.Regs == nil {
			bidReq.Regs = &openrtb2.Regs{}
		}
		bidReq.Regs.Ext = json.RawMessage(`{"tfua":1}`)
		lmt := int8(1)
		bidReq.Device.Lmt = &lmt
	}
	return bidReq
}

// post sends the bid request. A 204 answer is a no-fill.
func (l *Loader) post(ctx context.Context, body []byte) (*openrtb2.BidResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainSDK, Message: fmt.Sprintf("failed to create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json;charset=utf-8")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Openrtb-Version", "2.6")

	resp, err := l.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, sdk.NoFillError(sdk.ErrorDomainExchange)
	case resp.StatusCode == http.StatusBadRequest:
		return nil, &sdk.AdError{Code: sdk.ErrorCodeInvalidRequest, Domain: sdk.ErrorDomainExchange, Message: "Exchange rejected the request"}
	case resp.StatusCode != http.StatusOK:
		return nil, &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainExchange, Message: fmt.Sprintf("Exchange returned status %d", resp.StatusCode)}
	}

	limited := io.LimitReader(resp.Body, config.ExchangeMaxResponseSize+1) // +1 to detect overflow
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > config.ExchangeMaxResponseSize {
		return nil, &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainExchange, Message: "Exchange response too large"}
	}

	var bidResp openrtb2.BidResponse
	if err := json.Unmarshal(data, &bidResp); err != nil {
		return nil, &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainExchange, Message: fmt.Sprintf("Invalid bid response: %v", err)}
	}
	if len(bidResp.SeatBid) == 0 {
		noFill := sdk.NoFillError(sdk.ErrorDomainExchange)
		if bidResp.NBR != nil {
			noFill.Message = "No fill: " + noBidMessage(*bidResp.NBR)
		}
		return nil, noFill
	}
	return &bidResp, nil
}

// selectBid picks the highest priced bid within the rating ceiling. Bids
// without a media rating are allowed.
func selectBid(resp *openrtb2.BidResponse, maxRating int) *openrtb2.Bid {
	var best *openrtb2.Bid
	for i := range resp.SeatBid {
		for j := range resp.SeatBid[i].Bid {
			bid := &resp.SeatBid[i].Bid[j]
			if int(bid.QAGMediaRating) > maxRating {
				continue
			}
			if best == nil || bid.Price > best.Price {
				best = bid
			}
		}
	}
	return best
}

func noBidMessage(reason openrtb3.NoBidReason) string {
	switch reason {
	case openrtb3.NoBidTechnicalError:
		return "technical error"
	case openrtb3.NoBidInvalidRequest:
		return "invalid request"
	case openrtb3.NoBidProxy:
		return "invalid traffic"
	case openrtb3.NoBidBlockedPublisher:
		return "blocked publisher"
	case openrtb3.NoBidInsufficientTime:
		return "insufficient time"
	case openrtb3.NoBidUnknownError:
		return "unknown"
	}
	return "reason " + strconv.FormatInt(int64(reason), 10)
}

func substitutePrice(url string, price float64) string {
	if url == "" {
		return ""
	}
	return strings.ReplaceAll(url, auctionPriceMacro, strconv.FormatFloat(price, 'f', -1, 64))
}

// toAdError converts transport and breaker failures to load errors
func toAdError(err error) *sdk.AdError {
	var adErr *sdk.AdError
	if errors.As(err, &adErr) {
		return adErr
	}

	switch {
	case errors.Is(err, breaker.ErrOpen), errors.Is(err, breaker.ErrTooManyRequests):
		return &sdk.AdError{Code: sdk.ErrorCodeNetworkError, Domain: sdk.ErrorDomainExchange, Message: "Exchange unavailable"}
	case errors.Is(err, context.DeadlineExceeded):
		return &sdk.AdError{Code: sdk.ErrorCodeNetworkError, Domain: sdk.ErrorDomainExchange, Message: "Exchange request timed out"}
	case errors.Is(err, context.Canceled):
		return &sdk.AdError{Code: sdk.ErrorCodeInternalError, Domain: sdk.ErrorDomainSDK, Message: "Request cancelled"}
	default:
		return &sdk.AdError{Code: sdk.ErrorCodeNetworkError, Domain: sdk.ErrorDomainExchange, Message: err.Error()}
	}
}
