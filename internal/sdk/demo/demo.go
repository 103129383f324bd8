// Package demo implements an in-process exchange that answers ad requests
// with mock ads. It is useful for running the bridge without an exchange.
package demo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prebid/openrtb/v20/openrtb2"
)

// Host is the host name the demo exchange answers on
const Host = "demo.adbridge.local"

// Endpoint is the auction URL of the demo exchange
const Endpoint = "http://" + Host + "/openrtb2/auction"

// Options configures the demo exchange
type Options struct {
	// FillRate is the probability of returning a bid (0.0-1.0)
	FillRate float64
	MinCPM   float64
	MaxCPM   float64
	// Video adds a VAST video asset to native ads
	Video bool
	// Seed makes responses reproducible; 0 seeds from the clock
	Seed int64
}

// DefaultOptions returns the demo defaults
func DefaultOptions() Options {
	return Options{
		FillRate: 0.80, // 80% fill rate
		MinCPM:   0.50, // $0.50 CPM minimum
		MaxCPM:   5.00, // $5.00 CPM maximum
	}
}

// Transport is an http.RoundTripper serving the demo exchange
type Transport struct {
	opts Options

	mu  sync.Mutex
	rng *rand.Rand
}

// NewTransport creates a demo exchange transport
func NewTransport(opts Options) *Transport {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Transport{
		opts: opts,
		// #nosec G404 -- math/rand is acceptable for mock ad generation
		rng: rand.New(rand.NewSource(seed)),
	}
}

// NewClient returns an HTTP client bound to the demo exchange
func NewClient(opts Options) *http.Client {
	return &http.Client{Transport: NewTransport(opts)}
}

// RoundTrip implements http.RoundTripper
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		defer req.Body.Close()
	}
	if req.URL.Host != Host {
		return nil, fmt.Errorf("demo exchange cannot serve host %q", req.URL.Host)
	}

	switch {
	case req.URL.Path == "/openrtb2/auction":
		return t.auction(req)
	case strings.HasPrefix(req.URL.Path, "/img/"):
		return t.image(req)
	default:
		// trackers
		return respond(req, http.StatusOK, "text/plain", nil), nil
	}
}

func (t *Transport) auction(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	var bidReq openrtb2.BidRequest
	if err := json.Unmarshal(body, &bidReq); err != nil {
		return respond(req, http.StatusBadRequest, "text/plain", []byte(err.Error())), nil
	}

	resp := t.generateMockResponse(&bidReq)
	if len(resp.SeatBid) == 0 {
		return respond(req, http.StatusNoContent, "", nil), nil
	}
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mock response: %w", err)
	}
	return respond(req, http.StatusOK, "application/json", data), nil
}

// bannerSize reads the explicit size, then the first format, then 320x50
func bannerSize(b *openrtb2.Banner) (int64, int64) {
	switch {
	case b == nil:
	case b.W != nil && b.H != nil && *b.W > 0:
		return *b.W, *b.H
	case len(b.Format) > 0:
		return b.Format[0].W, b.Format[0].H
	}
	return 320, 50
}

// generateMockResponse creates a mock bid response
func (t *Transport) generateMockResponse(request *openrtb2.BidRequest) *openrtb2.BidResponse {
	t.mu.Lock()
	defer t.mu.Unlock()

	response := &openrtb2.BidResponse{
		ID:  request.ID,
		Cur: "USD",
	}

	bids := make([]openrtb2.Bid, 0, len(request.Imp))
	for _, imp := range request.Imp {
		if t.rng.Float64() >= t.opts.FillRate {
			continue
		}

		cpm := t.opts.MinCPM + t.rng.Float64()*(t.opts.MaxCPM-t.opts.MinCPM)
		crid := t.rng.Intn(1000)

		bid := openrtb2.Bid{
			ID:             fmt.Sprintf("demo-bid-%s-%d", imp.ID, time.Now().UnixNano()),
			ImpID:          imp.ID,
			Price:          cpm,
			CrID:           fmt.Sprintf("demo-creative-%d", crid),
			ADomain:        []string{"demo-advertiser.example.com"},
			QAGMediaRating: 1,
			NURL:           trackerURL("win", crid) + "&price=${AUCTION_PRICE}",
			BURL:           trackerURL("bill", crid) + "&price=${AUCTION_PRICE}",
		}

		switch {
		case imp.Native != nil:
			bid.AdM = t.nativeMarkup(crid, cpm)
		default:
			width, height := bannerSize(imp.Banner)
			bid.W, bid.H = width, height
			bid.AdM = generateMockCreative(int(width), int(height), cpm)
		}

		bids = append(bids, bid)
	}

	if len(bids) > 0 {
		response.SeatBid = []openrtb2.SeatBid{{Bid: bids, Seat: "demo-dsp"}}
	}
	return response
}

// nativeMarkup builds native 1.2 markup keyed by the asset ids the
// loader requests
func (t *Transport) nativeMarkup(crid int, cpm float64) string {
	assets := []map[string]interface{}{
		{"id": 1, "title": map[string]interface{}{"text": fmt.Sprintf("Demo Ad #%d", crid)}},
		{"id": 2, "img": map[string]interface{}{"url": imageURL(128, 128), "w": 128, "h": 128}},
		{"id": 3, "img": map[string]interface{}{"url": imageURL(1200, 627), "w": 1200, "h": 627}},
		{"id": 4, "data": map[string]interface{}{"value": "Demo Advertiser"}},
		{"id": 5, "data": map[string]interface{}{"value": fmt.Sprintf("A demo ad worth $%.2f CPM", cpm)}},
		{"id": 6, "data": map[string]interface{}{"value": strconv.FormatFloat(3+float64(crid%5)/2, 'f', 1, 64)}},
		{"id": 7, "data": map[string]interface{}{"value": "Free"}},
		{"id": 8, "data": map[string]interface{}{"value": "Demo Store"}},
		{"id": 9, "data": map[string]interface{}{"value": "Install"}},
	}
	if t.opts.Video {
		assets = append(assets, map[string]interface{}{
			"id":    10,
			"video": map[string]interface{}{"vasttag": vastTag(15)},
		})
	}

	markup := map[string]interface{}{
		"ver":    "1.2",
		"assets": assets,
		"link": map[string]interface{}{
			"url":           "https://demo-advertiser.example.com",
			"clicktrackers": []string{trackerURL("click", crid)},
		},
		"imptrackers": []string{trackerURL("imp", crid)},
		"privacy":     "https://demo-advertiser.example.com/privacy",
	}
	data, _ := json.Marshal(markup)
	return string(data)
}

func (t *Transport) image(req *http.Request) (*http.Response, error) {
	var w, h int
	if _, err := fmt.Sscanf(strings.TrimPrefix(req.URL.Path, "/img/"), "%dx%d.png", &w, &h); err != nil || w <= 0 || h <= 0 || w > 2000 || h > 2000 {
		return respond(req, http.StatusNotFound, "text/plain", nil), nil
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	fill := color.RGBA{R: 0x66, G: 0x7e, B: 0xea, A: 0xff}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return respond(req, http.StatusOK, "image/png", buf.Bytes()), nil
}

// generateMockCreative creates a simple HTML creative for demo purposes
func generateMockCreative(width, height int, cpm float64) string {
	return fmt.Sprintf(`<div style="width:%dpx;height:%dpx;background:linear-gradient(135deg,#667eea 0%%,#764ba2 100%%);display:flex;align-items:center;justify-content:center;font-family:system-ui;color:white;text-align:center;">
<div>
<div style="font-size:24px;font-weight:bold;">Demo Ad</div>
<div style="font-size:14px;opacity:0.8;">$%.2f CPM</div>
</div>
</div>`, width, height, cpm)
}

func vastTag(seconds int) string {
	return fmt.Sprintf(`<VAST version="3.0"><Ad id="demo"><InLine><AdSystem>demo</AdSystem><AdTitle>Demo</AdTitle><Creatives><Creative><Linear><Duration>00:00:%02d</Duration><MediaFiles><MediaFile delivery="progressive" type="video/mp4" width="640" height="360"><![CDATA[https://demo-advertiser.example.com/video.mp4]]></MediaFile></MediaFiles></Linear></Creative></Creatives></InLine></Ad></VAST>`, seconds)
}

func imageURL(w, h int) string {
	return fmt.Sprintf("http://%s/img/%dx%d.png", Host, w, h)
}

func trackerURL(event string, crid int) string {
	return fmt.Sprintf("http://%s/track/%s?crid=%d", Host, event, crid)
}

func respond(req *http.Request, status int, contentType string, body []byte) *http.Response {
	header := make(http.Header)
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode:    status,
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
