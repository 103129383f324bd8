package controller

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/internal/looper"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// Events shared by every format
const (
	EventAdLoading = "onAdLoading"
	EventAdChanged = "onAdChanged"
)

// Load outcomes reported to the Observer
const (
	LoadLoaded    = "loaded"
	LoadFailed    = "failed"
	LoadDiscarded = "discarded"
)

// Observer receives lifecycle notifications, typically for metrics.
// Calls happen on the owner loop.
type Observer interface {
	ControllerCreated(format sdk.Format)
	ControllerDisposed(format sdk.Format)
	LoadStarted(format sdk.Format)
	LoadCompleted(format sdk.Format, outcome string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) ControllerCreated(sdk.Format)                    {}
func (nopObserver) ControllerDisposed(sdk.Format)                   {}
func (nopObserver) LoadStarted(sdk.Format)                          {}
func (nopObserver) LoadCompleted(sdk.Format, string, time.Duration) {}

// Deps are the collaborators every controller shares
type Deps struct {
	Messenger *channel.Messenger
	// Exec is the owner loop the messenger dispatches on
	Exec   looper.Executor
	SDK    *sdk.MobileAds
	Loader sdk.AdLoader
	// Views inflates views for mountView; nil disables mounting
	Views    ViewHost
	Observer Observer
	// Context bounds loads and inflation; cancelled on shutdown
	Context context.Context
}

func (d Deps) withDefaults() Deps {
	if d.Observer == nil {
		d.Observer = nopObserver{}
	}
	if d.Context == nil {
		d.Context = context.Background()
	}
	return d
}

// base carries the lifecycle shared by every format. Its fields are only
// touched on the owner loop.
type base struct {
	id      string
	format  sdk.Format
	deps    Deps
	ch      *channel.MethodChannel
	release func()
	log     *zerolog.Logger

	state      State
	generation uint64
	loadStart  time.Time
}

func newBase(id string, format sdk.Format, deps Deps, release func()) base {
	deps = deps.withDefaults()
	return base{
		id:      id,
		format:  format,
		deps:    deps,
		ch:      channel.NewMethodChannel(deps.Messenger, id),
		release: release,
		log:     logger.Controller(string(format), id),
		state:   Idle,
	}
}

// register binds the channel to h and reports the new controller
func (b *base) register(h channel.MethodCallHandler) {
	b.ch.SetMethodCallHandler(h)
	b.deps.Observer.ControllerCreated(b.format)
	b.log.Debug().Msg("Controller created")
}

// ID returns the controller identifier, which is also its channel name
func (b *base) ID() string { return b.id }

// Format returns the ad format
func (b *base) Format() sdk.Format { return b.format }

// State returns the lifecycle state
func (b *base) State() State { return b.state }

func (b *base) emit(method string, args interface{}) {
	b.ch.InvokeMethod(method, args)
}

// adRequest snapshots the global configuration for one load
func (b *base) adRequest(unitID string) sdk.AdRequest {
	req := sdk.AdRequest{UnitID: unitID, Config: sdk.DefaultRequestConfiguration()}
	if b.deps.SDK != nil {
		req.Config = b.deps.SDK.RequestConfiguration()
		req.TestDevice = b.deps.SDK.IsTestDevice()
	}
	return req
}

// beginLoad moves to Loading and returns the generation the load belongs to
func (b *base) beginLoad() (uint64, error) {
	switch b.state {
	case Disposed:
		return 0, ErrDisposed
	case Loading:
		return 0, ErrBusy
	}
	b.generation++
	b.state = Loading
	b.loadStart = time.Now()
	b.deps.Observer.LoadStarted(b.format)
	return b.generation, nil
}

// current reports whether a load of generation gen may still land
func (b *base) current(gen uint64) bool {
	return b.state != Disposed && gen == b.generation
}

// runLoad executes fn off the loop and delivers its outcome to done on the loop
func (b *base) runLoad(fn func(ctx context.Context) (sdk.Ad, error), done func(ad sdk.Ad, err error)) {
	ctx := logger.WithControllerID(b.deps.Context, b.id)
	go func() {
		ad, err := fn(ctx)
		b.deps.Exec.Post(func() { done(ad, err) })
	}()
}

// settle finishes a load on the loop. adopt takes ownership of a fresh ad
// and returns its payload; drop releases the previous ad after a failed refresh.
func (b *base) settle(gen uint64, ad sdk.Ad, err error, result channel.Result, adopt func(sdk.Ad) map[string]interface{}, drop func()) {
	elapsed := time.Since(b.loadStart)

	if !b.current(gen) {
		if ad != nil {
			ad.Destroy()
		}
		b.deps.Observer.LoadCompleted(b.format, LoadDiscarded, elapsed)
		b.log.Debug().Uint64("generation", gen).Msg("Discarding load result for disposed controller")
		result.Success(disposedPayload())
		return
	}

	if err != nil || ad == nil {
		adErr := asAdError(err)
		drop()
		b.state = Failed
		b.deps.Observer.LoadCompleted(b.format, LoadFailed, elapsed)
		b.log.Info().
			Int("error_code", adErr.Code).
			Str("error_message", adErr.Message).
			Dur("elapsed", elapsed).
			Msg("Ad failed to load")
		payload := FailurePayload(adErr)
		b.emit(EventAdChanged, payload)
		result.Success(payload)
		return
	}

	payload := adopt(ad)
	b.state = Loaded
	b.deps.Observer.LoadCompleted(b.format, LoadLoaded, elapsed)
	b.log.Debug().Dur("elapsed", elapsed).Msg("Ad loaded")
	b.emit(EventAdChanged, payload)
	result.Success(payload)
}

// teardown moves to Disposed. It returns false when already disposed.
func (b *base) teardown() bool {
	if b.state == Disposed {
		return false
	}
	b.state = Disposed
	b.generation++
	b.ch.SetMethodCallHandler(nil)
	if b.release != nil {
		b.release()
	}
	b.deps.Observer.ControllerDisposed(b.format)
	b.log.Debug().Msg("Controller disposed")
	return true
}

// post runs fn on the owner loop
func (b *base) post(fn func()) {
	b.deps.Exec.Post(fn)
}

func (b *base) info(mounted bool) Info {
	return Info{ID: b.id, Format: b.format, State: b.state.String(), Mounted: mounted}
}
