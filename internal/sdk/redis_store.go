package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/thenexusengine/tne_adbridge/pkg/redis"
)

// Hash fields of the persisted request configuration
const (
	fieldTestDeviceIDs     = "test_device_ids"
	fieldChildDirected     = "child_directed"
	fieldUnderAgeOfConsent = "under_age_of_consent"
	fieldMaxContentRating  = "max_ad_content_rating"
)

// RedisConfigStore keeps the request configuration in a Redis hash
type RedisConfigStore struct {
	client *redis.Client
	key    string
}

// NewRedisConfigStore creates a store writing to key
func NewRedisConfigStore(client *redis.Client, key string) *RedisConfigStore {
	return &RedisConfigStore{client: client, key: key}
}

// Load returns the stored configuration, or nil when nothing was stored
func (s *RedisConfigStore) Load(ctx context.Context) (*RequestConfiguration, error) {
	fields, err := s.client.HGetAll(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to read request configuration: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	cfg := DefaultRequestConfiguration()

	if raw := fields[fieldTestDeviceIDs]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &cfg.TestDeviceIDs); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", fieldTestDeviceIDs, err)
		}
	}
	if raw := fields[fieldChildDirected]; raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", fieldChildDirected, err)
		}
		cfg.TagForChildDirectedTreatment = TagForChildDirectedTreatment(v)
	}
	if raw := fields[fieldUnderAgeOfConsent]; raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", fieldUnderAgeOfConsent, err)
		}
		cfg.TagForUnderAgeOfConsent = TagForUnderAgeOfConsent(v)
	}
	cfg.MaxAdContentRating = MaxAdContentRating(fields[fieldMaxContentRating])

	return &cfg, nil
}

// Save writes the whole configuration
func (s *RedisConfigStore) Save(ctx context.Context, cfg RequestConfiguration) error {
	ids := cfg.TestDeviceIDs
	if ids == nil {
		ids = []string{}
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode test device ids: %w", err)
	}

	err = s.client.HSetAll(ctx, s.key, map[string]interface{}{
		fieldTestDeviceIDs:     string(idsJSON),
		fieldChildDirected:     int(cfg.TagForChildDirectedTreatment),
		fieldUnderAgeOfConsent: int(cfg.TagForUnderAgeOfConsent),
		fieldMaxContentRating:  string(cfg.MaxAdContentRating),
	})
	if err != nil {
		return fmt.Errorf("failed to write request configuration: %w", err)
	}
	return nil
}
