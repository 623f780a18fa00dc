package remote

import (
	"context"
	"path/filepath"
	"time"

	storagejson "github.com/coredpl/dpl/storage/json"
)

// cacheTTL bounds how long a discovered address is trusted before a fresh
// sweep is required: an entry younger than this is probed first, falling
// back to Discover on failure; an older entry is not probed at all.
const cacheTTL = 10 * time.Minute

// discoveryCacheData is the on-disk shape of the client-side discovery
// cache, persisted via storage/json the same way the teacher persists its
// local metadata sidecars.
type discoveryCacheData struct {
	BaseURL    string    `json:"baseUrl"`
	DiscoveredAt time.Time `json:"discoveredAt"`
}

// DiscoveryCache remembers the last address Discover found, re-validating
// it on next use instead of re-sweeping the whole subnet every call.
type DiscoveryCache struct {
	store *storagejson.Store[discoveryCacheData]
}

// NewDiscoveryCache builds a DiscoveryCache backed by a JSON sidecar under
// basePath, cross-process-locked the same way the ledger's housekeeping
// prune step is (gofrs/flock).
func NewDiscoveryCache(basePath string) *DiscoveryCache {
	return &DiscoveryCache{
		store: storagejson.New[discoveryCacheData](
			filepath.Join(basePath, ".discovery.lock"),
			filepath.Join(basePath, ".discovery.json"),
		),
	}
}

// Resolve returns a known-good base URL: the cached address if it still
// answers /health within ttl of discovery, else a fresh Discover sweep
// whose result is cached for next time.
func (d *DiscoveryCache) Resolve(ctx context.Context, opts DiscoverOptions) (string, error) {
	var cached discoveryCacheData
	_ = d.store.With(ctx, func(data *discoveryCacheData) error {
		cached = *data
		return nil
	})

	if cached.BaseURL != "" && time.Since(cached.DiscoveredAt) < cacheTTL {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		_, err := NewClient(cached.BaseURL, nil).Health(probeCtx)
		cancel()
		if err == nil {
			return cached.BaseURL, nil
		}
	}

	url, err := Discover(ctx, opts)
	if err != nil {
		return "", err
	}
	_ = d.store.Update(ctx, func(data *discoveryCacheData) error {
		data.BaseURL = url
		data.DiscoveredAt = time.Now().UTC()
		return nil
	})
	return url, nil
}

// Invalidate clears the cached address, forcing the next Resolve to sweep.
func (d *DiscoveryCache) Invalidate(ctx context.Context) error {
	return d.store.Update(ctx, func(data *discoveryCacheData) error {
		*data = discoveryCacheData{}
		return nil
	})
}
