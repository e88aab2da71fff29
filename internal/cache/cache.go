package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iradkot/glucose-oracle/internal/models"
)

// Storage keys for the four persisted values.
const (
	keyEntries      = "oracle:entries"
	keyTreatments   = "oracle:treatments"
	keyDeviceStatus = "oracle:devicestatus"
	keyMeta         = "oracle:meta"
)

// DefaultRetentionDays is the rolling history window kept by the cache.
const DefaultRetentionDays = 90

// syncOverlap is how far behind the previous watermark an incremental sync
// re-fetches, absorbing records the server had not finalized last time.
const syncOverlap = 5 * time.Minute

// Fetcher is the remote collaborator the cache refreshes from. All three
// calls return records within [start, end] in any order.
type Fetcher interface {
	FetchEntries(ctx context.Context, start, end time.Time) ([]models.BgEntry, error)
	FetchTreatments(ctx context.Context, start, end time.Time) ([]models.Treatment, error)
	FetchDeviceStatus(ctx context.Context, start, end time.Time) ([]models.DeviceStatusSnapshot, error)
}

// Snapshot is the cache content: three deduplicated, ascending streams plus
// the sync watermark.
type Snapshot struct {
	Entries      []models.BgEntry
	Treatments   []models.Treatment
	DeviceStatus []models.DeviceStatusSnapshot
	Meta         models.CacheMeta
}

// SyncResult is a freshly merged snapshot plus whether this was the first
// usable sync, so callers can distinguish "fresh install" from a refresh.
type SyncResult struct {
	Snapshot
	DidFullSync bool
}

// TimeSeriesCache keeps a locally durable, time-bounded mirror of the three
// remote record streams, refreshed incrementally.
type TimeSeriesCache struct {
	store   Store
	fetcher Fetcher
	logger  *slog.Logger
	group   singleflight.Group
}

// New creates a cache over the given store and remote fetcher.
func New(store Store, fetcher Fetcher, logger *slog.Logger) *TimeSeriesCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &TimeSeriesCache{store: store, fetcher: fetcher, logger: logger}
}

// Load reads the persisted snapshot. Missing keys, malformed JSON and
// version mismatches all degrade to an empty snapshot, never an error:
// corrupt storage must not take the engine down.
func (c *TimeSeriesCache) Load() Snapshot {
	var snap Snapshot

	metaRaw, err := c.store.Get(keyMeta)
	if err != nil {
		return snap
	}
	var meta models.CacheMeta
	if json.Unmarshal([]byte(metaRaw), &meta) != nil || meta.Version != models.CacheVersion {
		return snap
	}
	snap.Meta = meta

	snap.Entries = loadStream[models.BgEntry](c.store, keyEntries)
	snap.Treatments = loadStream[models.Treatment](c.store, keyTreatments)
	snap.DeviceStatus = loadStream[models.DeviceStatusSnapshot](c.store, keyDeviceStatus)
	return snap
}

func loadStream[T any](store Store, key string) []T {
	raw, err := store.Get(key)
	if err != nil {
		return nil
	}
	var items []T
	if json.Unmarshal([]byte(raw), &items) != nil {
		return nil
	}
	return items
}

// Sync refreshes the cache from the remote source and returns the merged
// result. Overlapping calls are coalesced: a second caller during an
// in-flight sync awaits that sync's result instead of racing the store.
// Remote fetch failures propagate; persistence failures are logged and
// swallowed so the in-memory result is still usable.
func (c *TimeSeriesCache) Sync(ctx context.Context, now time.Time, retentionDays int) (*SyncResult, error) {
	v, err, _ := c.group.Do("sync", func() (interface{}, error) {
		return c.syncOnce(ctx, now, retentionDays)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SyncResult), nil
}

func (c *TimeSeriesCache) syncOnce(ctx context.Context, now time.Time, retentionDays int) (*SyncResult, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	windowStart := now.Add(-time.Duration(retentionDays) * 24 * time.Hour)

	prev := c.Load()
	didFullSync := prev.Meta.LastSyncedMs == 0 || len(prev.Entries) == 0

	fetchStart := windowStart
	if !didFullSync {
		overlapStart := time.UnixMilli(prev.Meta.LastSyncedMs).Add(-syncOverlap)
		if overlapStart.After(windowStart) {
			fetchStart = overlapStart
		}
	}

	entries, err := c.fetcher.FetchEntries(ctx, fetchStart, now)
	if err != nil {
		return nil, err
	}
	treatments, err := c.fetcher.FetchTreatments(ctx, fetchStart, now)
	if err != nil {
		return nil, err
	}
	statuses, err := c.fetcher.FetchDeviceStatus(ctx, fetchStart, now)
	if err != nil {
		return nil, err
	}

	lo, hi := windowStart.UnixMilli(), now.UnixMilli()
	merged := Snapshot{
		Entries:      mergeStreams(prev.Entries, entries, func(e models.BgEntry) int64 { return e.Mills }, lo, hi),
		Treatments:   mergeStreams(prev.Treatments, treatments, func(t models.Treatment) int64 { return t.Mills }, lo, hi),
		DeviceStatus: mergeStreams(prev.DeviceStatus, statuses, func(d models.DeviceStatusSnapshot) int64 { return d.Mills }, lo, hi),
		Meta:         models.CacheMeta{Version: models.CacheVersion, LastSyncedMs: now.UnixMilli()},
	}

	c.persist(merged)

	return &SyncResult{Snapshot: merged, DidFullSync: didFullSync}, nil
}

// mergeStreams combines the previously cached stream with freshly fetched
// records: dedupe by exact timestamp with last-write-wins (fetched records
// override cached ones), sort ascending, then bound to [lo, hi].
func mergeStreams[T any](prev, fetched []T, mills func(T) int64, lo, hi int64) []T {
	byMills := make(map[int64]T, len(prev)+len(fetched))
	for _, item := range prev {
		byMills[mills(item)] = item
	}
	for _, item := range fetched {
		byMills[mills(item)] = item
	}

	merged := make([]T, 0, len(byMills))
	for ts, item := range byMills {
		if ts < lo || ts > hi {
			continue
		}
		merged = append(merged, item)
	}
	sort.Slice(merged, func(i, j int) bool {
		return mills(merged[i]) < mills(merged[j])
	})
	return merged
}

func (c *TimeSeriesCache) persist(snap Snapshot) {
	persistValue(c, keyEntries, snap.Entries)
	persistValue(c, keyTreatments, snap.Treatments)
	persistValue(c, keyDeviceStatus, snap.DeviceStatus)
	persistValue(c, keyMeta, snap.Meta)
}

func persistValue[T any](c *TimeSeriesCache, key string, value T) {
	data, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache: marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(key, string(data)); err != nil {
		c.logger.Warn("cache: persist failed", "key", key, "error", err)
	}
}
