package sdk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thenexusengine/tne_adbridge/pkg/logger"
)

// persistTimeout bounds one write of the request configuration
const persistTimeout = 2 * time.Second

// ConfigStore persists the request configuration across restarts
type ConfigStore interface {
	Load(ctx context.Context) (*RequestConfiguration, error)
	Save(ctx context.Context, cfg RequestConfiguration) error
}

// Options configures MobileAds
type Options struct {
	// DeviceID identifies this device for test-device matching
	DeviceID string
	// PlatformVersion is reported by initialize
	PlatformVersion int
	// Store persists the request configuration (optional)
	Store ConfigStore
}

// MobileAds holds process-wide SDK state. Reads happen from loader
// goroutines, so the state is guarded even though writes come from the
// owner loop. The lock is never held across a store round trip.
type MobileAds struct {
	deviceID        string
	platformVersion int
	store           ConfigStore

	mu          sync.RWMutex
	config      RequestConfiguration
	generation  uint64 // bumped by every SetRequestConfiguration
	volume      float64
	muted       bool
	initialized bool

	// one writer saves the latest pending configuration
	persistMu   sync.Mutex
	pending     *RequestConfiguration
	persistDone chan struct{}
	wake        chan struct{}
	closed      bool
}

// NewMobileAds creates SDK state with default configuration
func NewMobileAds(opts Options) *MobileAds {
	m := &MobileAds{
		deviceID:        opts.DeviceID,
		platformVersion: opts.PlatformVersion,
		store:           opts.Store,
		config:          DefaultRequestConfiguration(),
		volume:          1,
	}
	if m.store != nil {
		m.wake = make(chan struct{}, 1)
		m.persistDone = make(chan struct{})
		go m.persistLoop()
	}
	return m
}

// Initialize restores the persisted configuration. A configuration set
// while the restore is in flight wins over the stored one. Calling it
// again is a no-op.
func (m *MobileAds) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	started := m.generation
	m.mu.Unlock()

	if m.store == nil {
		return nil
	}
	cfg, err := m.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore request configuration: %w", err)
	}
	if cfg == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.generation != started {
		logger.Log.Debug().Msg("Request configuration changed during restore, keeping the newer one")
		return nil
	}
	m.config = cfg.ToBuilder().Build()
	return nil
}

// IsInitialized reports whether Initialize has run
func (m *MobileAds) IsInitialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// PlatformVersion returns the platform version reported to callers
func (m *MobileAds) PlatformVersion() int {
	return m.platformVersion
}

// DeviceID returns the device identifier
func (m *MobileAds) DeviceID() string {
	return m.deviceID
}

// RequestConfiguration returns a copy of the current configuration
func (m *MobileAds) RequestConfiguration() RequestConfiguration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ToBuilder().Build()
}

// SetRequestConfiguration replaces the configuration. Persisting happens in
// the background so the caller never waits on the store; writes are saved
// in order and intermediate values may be skipped.
func (m *MobileAds) SetRequestConfiguration(cfg RequestConfiguration) {
	m.mu.Lock()
	m.config = cfg.ToBuilder().Build()
	m.generation++
	m.mu.Unlock()

	if m.store == nil {
		return
	}
	saved := cfg.ToBuilder().Build()

	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	if m.closed {
		return
	}
	m.pending = &saved
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *MobileAds) persistLoop() {
	defer close(m.persistDone)
	for range m.wake {
		for cfg := m.takePending(); cfg != nil; cfg = m.takePending() {
			ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
			if err := m.store.Save(ctx, *cfg); err != nil {
				logger.Log.Warn().Err(err).Msg("Failed to persist request configuration")
			}
			cancel()
		}
	}
}

func (m *MobileAds) takePending() *RequestConfiguration {
	m.persistMu.Lock()
	defer m.persistMu.Unlock()
	cfg := m.pending
	m.pending = nil
	return cfg
}

// UpdateRequestConfiguration applies fn to a builder seeded with the
// current configuration and stores the result
func (m *MobileAds) UpdateRequestConfiguration(fn func(*RequestConfigurationBuilder)) RequestConfiguration {
	b := m.RequestConfiguration().ToBuilder()
	fn(b)
	cfg := b.Build()
	m.SetRequestConfiguration(cfg)
	return cfg
}

// IsTestDevice reports whether this device is a configured test device
func (m *MobileAds) IsTestDevice() bool {
	return m.RequestConfiguration().IsTestDevice(m.deviceID)
}

// SetAppVolume sets the relative volume of video ads, 0 (silent) to 1
func (m *MobileAds) SetAppVolume(volume float64) error {
	if volume < 0 || volume > 1 {
		return fmt.Errorf("app volume %v out of range [0, 1]", volume)
	}
	m.mu.Lock()
	m.volume = volume
	m.mu.Unlock()
	return nil
}

// AppVolume returns the app volume
func (m *MobileAds) AppVolume() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.volume
}

// SetAppMuted mutes or unmutes all ad audio
func (m *MobileAds) SetAppMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

// AppMuted reports whether ad audio is muted
func (m *MobileAds) AppMuted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.muted
}

// Close saves the latest pending configuration and stops the writer.
// Later updates are kept in memory only.
func (m *MobileAds) Close() {
	if m.store == nil {
		return
	}
	m.persistMu.Lock()
	if !m.closed {
		m.closed = true
		close(m.wake)
	}
	m.persistMu.Unlock()
	<-m.persistDone
}
