// Package plugin implements the top-level admob channel: SDK initialization,
// global request configuration and the controller factories of every format.
package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/internal/config"
	"github.com/thenexusengine/tne_adbridge/internal/controller"
	"github.com/thenexusengine/tne_adbridge/internal/looper"
	"github.com/thenexusengine/tne_adbridge/internal/sdk"
	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// Loop is the owner loop the plugin and its controllers live on
type Loop interface {
	looper.Executor
	Sync(fn func()) error
}

type handler func(call channel.MethodCall, result channel.Result)

// Plugin dispatches calls on the admob channel. All fields are confined to
// the owner loop except where noted.
type Plugin struct {
	loop    Loop
	deps    controller.Deps
	channel *channel.MethodChannel
	log     *zerolog.Logger

	native       *controller.Registry[*controller.NativeController]
	banner       *controller.Registry[*controller.BannerController]
	interstitial *controller.Registry[*controller.FullScreenController]
	rewarded     *controller.Registry[*controller.FullScreenController]
	appOpen      *controller.Registry[*controller.FullScreenController]

	handlers map[string]handler
}

// New creates the plugin and registers the admob channel on deps.Messenger.
// deps.Exec defaults to loop.
func New(loop Loop, deps controller.Deps) *Plugin {
	if deps.Exec == nil {
		deps.Exec = loop
	}
	if deps.Context == nil {
		deps.Context = context.Background()
	}

	p := &Plugin{
		loop:    loop,
		deps:    deps,
		channel: channel.NewMethodChannel(deps.Messenger, config.PluginChannel),
		log:     logger.Channel(config.PluginChannel),
	}

	p.native = controller.NewRegistry(sdk.FormatNative, func(id string, release func()) *controller.NativeController {
		return controller.NewNativeController(id, p.deps, true, release)
	})
	p.banner = controller.NewRegistry(sdk.FormatBanner, func(id string, release func()) *controller.BannerController {
		return controller.NewBannerController(id, p.deps, release)
	})
	p.interstitial = controller.NewRegistry(sdk.FormatInterstitial, p.fullScreenFactory(sdk.FormatInterstitial))
	p.rewarded = controller.NewRegistry(sdk.FormatRewarded, p.fullScreenFactory(sdk.FormatRewarded))
	p.appOpen = controller.NewRegistry(sdk.FormatAppOpen, p.fullScreenFactory(sdk.FormatAppOpen))

	p.handlers = map[string]handler{
		"initialize":                 p.initialize,
		"isTestDevice":               p.isTestDevice,
		"setChildDirected":           p.setChildDirected,
		"setTagForUnderAgeOfConsent": p.setTagForUnderAgeOfConsent,
		"setMaxAdContentRating":      p.setMaxAdContentRating,
		"setAppVolume":               p.setAppVolume,
		"setAppMuted":                p.setAppMuted,
	}
	p.route(p.initNative, p.disposeWith(p.native), "NativeAdController", "NativeController")
	p.route(p.initBanner, p.disposeWith(p.banner), "BannerAdController", "BannerController")
	p.route(p.initFullScreen(p.interstitial), p.disposeWith(p.interstitial), "InterstitialAd", "InterstitialController")
	p.route(p.initFullScreen(p.rewarded), p.disposeWith(p.rewarded), "RewardedAd", "RewardedController")
	p.route(p.initFullScreen(p.appOpen), p.disposeWith(p.appOpen), "AppOpenAd", "AppOpenController")

	p.channel.SetMethodCallHandler(p)
	return p
}

func (p *Plugin) fullScreenFactory(format sdk.Format) controller.Factory[*controller.FullScreenController] {
	return func(id string, release func()) *controller.FullScreenController {
		return controller.NewFullScreenController(id, format, p.deps, release)
	}
}

// route registers init<suffix> and dispose<suffix> for every suffix
func (p *Plugin) route(init, dispose handler, suffixes ...string) {
	for _, s := range suffixes {
		p.handlers["init"+s] = init
		p.handlers["dispose"+s] = dispose
	}
}

// OnMethodCall implements channel.MethodCallHandler
func (p *Plugin) OnMethodCall(call channel.MethodCall, result channel.Result) {
	h, ok := p.handlers[call.Method]
	if !ok {
		p.log.Debug().Str("method", call.Method).Msg("Method not implemented")
		result.NotImplemented()
		return
	}
	h(call, result)
}

// Methods returns the names the plugin answers, sorted
func (p *Plugin) Methods() []string {
	names := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// initialize restores the persisted configuration off the loop, then
// applies debugDeviceIds and answers with the platform version
func (p *Plugin) initialize(call channel.MethodCall, result channel.Result) {
	var debugIDs []string
	if call.Has("debugDeviceIds") {
		ids, err := call.Strings("debugDeviceIds")
		if err != nil {
			controller.Fail(result, err)
			return
		}
		debugIDs = ids
	}

	go func() {
		if err := p.deps.SDK.Initialize(p.deps.Context); err != nil {
			p.log.Warn().Err(err).Msg("Starting with default request configuration")
		}
		p.loop.Post(func() {
			if len(debugIDs) > 0 {
				p.deps.SDK.UpdateRequestConfiguration(func(b *sdk.RequestConfigurationBuilder) {
					b.SetTestDeviceIDs(debugIDs)
				})
			}
			p.log.Info().Int("test_devices", len(debugIDs)).Msg("Mobile ads initialized")
			result.Success(p.deps.SDK.PlatformVersion())
		})
	}()
}

// controllerID reads the id argument and rejects identifiers that would
// collide with another channel
func (p *Plugin) controllerID(call channel.MethodCall, has func(string) bool) (string, error) {
	id, err := call.String("id")
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", &channel.ArgumentError{Key: "id", Reason: "must not be empty"}
	}
	if id == config.PluginChannel {
		return "", &channel.ArgumentError{Key: "id", Reason: fmt.Sprintf("%q is reserved", id)}
	}
	if !has(id) && p.deps.Messenger.HasHandler(id) {
		return "", &channel.ArgumentError{Key: "id", Reason: fmt.Sprintf("channel %q is used by another controller", id)}
	}
	return id, nil
}

func (p *Plugin) initNative(call channel.MethodCall, result channel.Result) {
	id, err := p.controllerID(call, p.native.Has)
	if err != nil {
		controller.Fail(result, err)
		return
	}
	v, err := call.OptionalBool("showVideoContent")
	if err != nil {
		controller.Fail(result, err)
		return
	}
	showVideo := v == nil || *v

	p.native.CreateWith(id, func(id string, release func()) *controller.NativeController {
		return controller.NewNativeController(id, p.deps, showVideo, release)
	})
	result.Success(nil)
}

func (p *Plugin) initBanner(call channel.MethodCall, result channel.Result) {
	id, err := p.controllerID(call, p.banner.Has)
	if err != nil {
		controller.Fail(result, err)
		return
	}
	p.banner.Create(id)
	result.Success(nil)
}

func (p *Plugin) initFullScreen(r *controller.Registry[*controller.FullScreenController]) handler {
	return func(call channel.MethodCall, result channel.Result) {
		id, err := p.controllerID(call, r.Has)
		if err != nil {
			controller.Fail(result, err)
			return
		}
		r.Create(id)
		result.Success(nil)
	}
}

// disposer is the part of a registry dispose needs
type disposer interface {
	Remove(id string) bool
}

// disposeWith removes the controller; an unknown id is not an error
func (p *Plugin) disposeWith(r disposer) handler {
	return func(call channel.MethodCall, result channel.Result) {
		id, err := call.String("id")
		if err != nil {
			controller.Fail(result, err)
			return
		}
		if !r.Remove(id) {
			p.log.Debug().Str("id", id).Str("method", call.Method).Msg("Dispose for unknown controller")
		}
		result.Success(nil)
	}
}

func (p *Plugin) isTestDevice(_ channel.MethodCall, result channel.Result) {
	result.Success(p.deps.SDK.IsTestDevice())
}

func (p *Plugin) setChildDirected(call channel.MethodCall, result channel.Result) {
	directed, err := call.OptionalBool("directed")
	if err != nil {
		controller.Fail(result, err)
		return
	}
	p.deps.SDK.UpdateRequestConfiguration(func(b *sdk.RequestConfigurationBuilder) {
		b.SetTagForChildDirectedTreatment(sdk.ChildDirectedFromBool(directed))
	})
	result.Success(nil)
}

func (p *Plugin) setTagForUnderAgeOfConsent(call channel.MethodCall, result channel.Result) {
	under, err := call.OptionalBool("under")
	if err != nil {
		controller.Fail(result, err)
		return
	}
	p.deps.SDK.UpdateRequestConfiguration(func(b *sdk.RequestConfigurationBuilder) {
		b.SetTagForUnderAgeOfConsent(sdk.UnderAgeOfConsentFromBool(under))
	})
	result.Success(nil)
}

// setMaxAdContentRating maps 0..3 to G, PG, T, MA; a missing or out of
// range rating selects G
func (p *Plugin) setMaxAdContentRating(call channel.MethodCall, result channel.Result) {
	index := -1
	if call.Has("maxRating") {
		i, err := call.Int("maxRating")
		if err != nil {
			controller.Fail(result, err)
			return
		}
		index = i
	}
	p.deps.SDK.UpdateRequestConfiguration(func(b *sdk.RequestConfigurationBuilder) {
		b.SetMaxAdContentRating(sdk.MaxAdContentRatingFromIndex(index))
	})
	result.Success(nil)
}

func (p *Plugin) setAppVolume(call channel.MethodCall, result channel.Result) {
	volume, err := call.Float("volume")
	if err != nil {
		controller.Fail(result, err)
		return
	}
	if err := p.deps.SDK.SetAppVolume(volume); err != nil {
		controller.Fail(result, &channel.ArgumentError{Key: "volume", Reason: err.Error()})
		return
	}
	result.Success(nil)
}

func (p *Plugin) setAppMuted(call channel.MethodCall, result channel.Result) {
	muted, err := call.Bool("muted")
	if err != nil {
		controller.Fail(result, err)
		return
	}
	p.deps.SDK.SetAppMuted(muted)
	result.Success(nil)
}

// Controllers lists every live controller. Safe to call from any goroutine.
func (p *Plugin) Controllers() ([]controller.Info, error) {
	var out []controller.Info
	err := p.loop.Sync(func() {
		out = p.infos()
	})
	return out, err
}

func (p *Plugin) infos() []controller.Info {
	out := p.native.Infos()
	out = append(out, p.banner.Infos()...)
	out = append(out, p.interstitial.Infos()...)
	out = append(out, p.rewarded.Infos()...)
	return append(out, p.appOpen.Infos()...)
}

// Counts returns the number of live controllers per format. Safe to call
// from any goroutine.
func (p *Plugin) Counts() (map[sdk.Format]int, error) {
	counts := make(map[sdk.Format]int, 5)
	err := p.loop.Sync(func() {
		counts[p.native.Format()] = p.native.Len()
		counts[p.banner.Format()] = p.banner.Len()
		counts[p.interstitial.Format()] = p.interstitial.Len()
		counts[p.rewarded.Format()] = p.rewarded.Len()
		counts[p.appOpen.Format()] = p.appOpen.Len()
	})
	return counts, err
}

// Shutdown disposes every controller and unregisters the admob channel.
// Safe to call from any goroutine.
func (p *Plugin) Shutdown() error {
	return p.loop.Sync(func() {
		p.native.DisposeAll()
		p.banner.DisposeAll()
		p.interstitial.DisposeAll()
		p.rewarded.DisposeAll()
		p.appOpen.DisposeAll()
		p.channel.SetMethodCallHandler(nil)
		p.log.Info().Msg("Plugin shut down")
	})
}
