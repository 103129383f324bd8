package sdk

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/thenexusengine/tne_adbridge/pkg/redis"
)

func setupStore(t *testing.T) (*miniredis.Miniredis, *RedisConfigStore) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := redis.New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	return mr, NewRedisConfigStore(client, "test:request_config")
}

func TestRedisConfigStoreRoundTrip(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	cfg, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected nil configuration before save, got %+v", cfg)
	}

	saved := DefaultRequestConfiguration().ToBuilder().
		SetTestDeviceIDs([]string{"device-1"}).
		SetTagForChildDirectedTreatment(ChildDirectedTrue).
		SetMaxAdContentRating(MaxAdContentRatingPG).
		Build()
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected stored configuration")
	}
	if len(cfg.TestDeviceIDs) != 1 || cfg.TestDeviceIDs[0] != "device-1" {
		t.Errorf("unexpected device ids %v", cfg.TestDeviceIDs)
	}
	if cfg.TagForChildDirectedTreatment != ChildDirectedTrue {
		t.Errorf("expected child directed, got %d", cfg.TagForChildDirectedTreatment)
	}
	if cfg.TagForUnderAgeOfConsent != UnderAgeOfConsentUnspecified {
		t.Errorf("expected under age unspecified, got %d", cfg.TagForUnderAgeOfConsent)
	}
	if cfg.MaxAdContentRating != MaxAdContentRatingPG {
		t.Errorf("expected PG, got %s", cfg.MaxAdContentRating)
	}
}

func TestRedisConfigStoreCorruptField(t *testing.T) {
	mr, store := setupStore(t)
	mr.HSet("test:request_config", fieldChildDirected, "yes")

	if _, err := store.Load(context.Background()); err == nil {
		t.Error("expected error for corrupt field")
	}
}

func TestMobileAdsPersistsAndRestores(t *testing.T) {
	_, store := setupStore(t)
	ctx := context.Background()

	first := NewMobileAds(Options{DeviceID: "device-1", PlatformVersion: 34, Store: store})
	if err := first.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	first.UpdateRequestConfiguration(func(b *RequestConfigurationBuilder) {
		b.SetTestDeviceIDs([]string{"device-1"})
	})
	first.Close()

	if !first.IsTestDevice() {
		t.Error("expected device to be a test device")
	}

	second := NewMobileAds(Options{DeviceID: "device-1", Store: store})
	if second.IsTestDevice() {
		t.Error("expected default configuration before Initialize")
	}
	if err := second.Initialize(ctx); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !second.IsTestDevice() {
		t.Error("expected configuration restored from store")
	}
	if !second.IsInitialized() {
		t.Error("expected initialized")
	}
}

func TestMobileAdsVolume(t *testing.T) {
	m := NewMobileAds(Options{})

	if m.AppVolume() != 1 {
		t.Errorf("expected default volume 1, got %f", m.AppVolume())
	}

	tests := []struct {
		volume  float64
		wantErr bool
	}{
		{0, false},
		{0.5, false},
		{1, false},
		{-0.1, true},
		{1.5, true},
	}
	for _, tt := range tests {
		err := m.SetAppVolume(tt.volume)
		if (err != nil) != tt.wantErr {
			t.Errorf("SetAppVolume(%f) error = %v, wantErr %v", tt.volume, err, tt.wantErr)
		}
	}
	if m.AppVolume() != 1 {
		t.Errorf("expected last valid volume 1, got %f", m.AppVolume())
	}

	m.SetAppMuted(true)
	if !m.AppMuted() {
		t.Error("expected muted")
	}
}

func TestRequestConfigurationReturnsCopy(t *testing.T) {
	m := NewMobileAds(Options{})
	m.SetRequestConfiguration(DefaultRequestConfiguration().ToBuilder().SetTestDeviceIDs([]string{"a"}).Build())

	cfg := m.RequestConfiguration()
	cfg.TestDeviceIDs[0] = "b"

	if m.RequestConfiguration().TestDeviceIDs[0] != "a" {
		t.Error("expected RequestConfiguration to return a copy")
	}
}

// slowStore delays the first Save and can hold Load until released
type slowStore struct {
	firstSaveDelay time.Duration
	loadGate       chan struct{}
	loaded         *RequestConfiguration

	mu    sync.Mutex
	saves []RequestConfiguration
}

func (s *slowStore) Load(ctx context.Context) (*RequestConfiguration, error) {
	if s.loadGate != nil {
		select {
		case <-s.loadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.loaded, nil
}

func (s *slowStore) Save(_ context.Context, cfg RequestConfiguration) error {
	s.mu.Lock()
	first := len(s.saves) == 0
	s.mu.Unlock()
	if first {
		time.Sleep(s.firstSaveDelay)
	}
	s.mu.Lock()
	s.saves = append(s.saves, cfg)
	s.mu.Unlock()
	return nil
}

func (s *slowStore) last() (RequestConfiguration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return RequestConfiguration{}, false
	}
	return s.saves[len(s.saves)-1], true
}

func TestMobileAdsPersistsLatestConfiguration(t *testing.T) {
	store := &slowStore{firstSaveDelay: 50 * time.Millisecond}
	m := NewMobileAds(Options{Store: store})

	m.UpdateRequestConfiguration(func(b *RequestConfigurationBuilder) {
		b.SetMaxAdContentRating(MaxAdContentRatingPG)
	})
	m.UpdateRequestConfiguration(func(b *RequestConfigurationBuilder) {
		b.SetMaxAdContentRating(MaxAdContentRatingMA)
	})
	m.Close()

	saved, ok := store.last()
	if !ok {
		t.Fatal("expected the configuration to be saved")
	}
	if saved.MaxAdContentRating != MaxAdContentRatingMA {
		t.Errorf("last saved rating = %s, want MA", saved.MaxAdContentRating)
	}
	if got := m.RequestConfiguration().MaxAdContentRating; got != MaxAdContentRatingMA {
		t.Errorf("in-memory rating = %s, want MA", got)
	}

	// closed: later updates stay in memory
	m.SetRequestConfiguration(DefaultRequestConfiguration())
	m.Close()
	if saved, _ := store.last(); saved.MaxAdContentRating != MaxAdContentRatingMA {
		t.Errorf("expected no save after Close, got %s", saved.MaxAdContentRating)
	}
}

func TestMobileAdsReadsDuringInitialize(t *testing.T) {
	stored := DefaultRequestConfiguration().ToBuilder().SetMaxAdContentRating(MaxAdContentRatingG).Build()
	store := &slowStore{loadGate: make(chan struct{}), loaded: &stored}
	m := NewMobileAds(Options{Store: store})
	defer m.Close()

	done := make(chan error, 1)
	go func() { done <- m.Initialize(context.Background()) }()

	// wait until Initialize has started
	deadline := time.Now().Add(time.Second)
	for !m.IsInitialized() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	read := make(chan struct{})
	go func() {
		m.RequestConfiguration()
		m.IsTestDevice()
		close(read)
	}()
	select {
	case <-read:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("configuration reads blocked on the store")
	}

	m.UpdateRequestConfiguration(func(b *RequestConfigurationBuilder) {
		b.SetTagForChildDirectedTreatment(ChildDirectedTrue)
	})
	close(store.loadGate)
	if err := <-done; err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	cfg := m.RequestConfiguration()
	if cfg.TagForChildDirectedTreatment != ChildDirectedTrue {
		t.Error("expected the update made during Initialize to survive the restore")
	}
	if cfg.MaxAdContentRating == MaxAdContentRatingG {
		t.Error("expected the stale stored rating not to be applied")
	}
}

func TestMobileAdsRestoresWhenUnchanged(t *testing.T) {
	stored := DefaultRequestConfiguration().ToBuilder().SetMaxAdContentRating(MaxAdContentRatingT).Build()
	m := NewMobileAds(Options{Store: &slowStore{loaded: &stored}})
	defer m.Close()

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if got := m.RequestConfiguration().MaxAdContentRating; got != MaxAdContentRatingT {
		t.Errorf("restored rating = %s, want T", got)
	}
}
