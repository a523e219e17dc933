// Package cache provides the shared fetch cache: one download per fingerprint,
// reference counted artifacts and idle/capacity eviction.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"groovecast/internal/core"
)

// ErrClosed is returned by Acquire after the cache has shut down.
var ErrClosed = errors.New("cache closed")

// tombstonePrefix names evicted artifacts awaiting removal. It shares the
// scratch prefix so a restart cleans up leftovers.
const tombstonePrefix = ".fetch-evicted-"

// Fetcher produces the artifact for a track at dest.
type Fetcher interface {
	Fetch(ctx context.Context, track core.TrackDescriptor, dest string) (*core.Artifact, error)
}

// Index remembers which artifacts exist on disk.
type Index interface {
	Get(fingerprint string) (core.Artifact, bool)
	Add(artifact core.Artifact)
	Remove(fingerprint string)
}

// Tier is a second-level artifact store shared between instances.
type Tier interface {
	// Get downloads the artifact into dest and reports whether it existed.
	Get(ctx context.Context, fingerprint, dest string) (bool, error)
	Put(ctx context.Context, fingerprint, path string) error
}

type entryState int

const (
	statePending entryState = iota
	stateReady
	stateFailed
)

type entry struct {
	fingerprint string
	state       entryState
	refCount    int
	artifact    core.Artifact
	err         error
	done        chan struct{}
	lastUsed    time.Time
}

// Stats is a point-in-time view of the cache.
type Stats struct {
	Entries   int    `json:"entries"`
	Ready     int    `json:"ready"`
	Pending   int    `json:"pending"`
	Pinned    int    `json:"pinned"`
	Bytes     int64  `json:"bytes"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Coalesced uint64 `json:"coalesced"`
	DiskHits  uint64 `json:"disk_hits"`
	TierHits  uint64 `json:"tier_hits"`
	Failures  uint64 `json:"failures"`
	Evictions uint64 `json:"evictions"`
}

// Option configures a Cache.
type Option func(*Cache)

// WithIndex lets the cache reuse artifacts already on disk.
func WithIndex(index Index) Option {
	return func(c *Cache) { c.index = index }
}

// WithTier enables the shared second-level store.
func WithTier(tier Tier) Option {
	return func(c *Cache) { c.tier = tier }
}

// Cache is safe for concurrent use.
type Cache struct {
	config  core.CacheConfig
	fetcher Fetcher
	index   Index
	tier    Tier
	logger  *zap.Logger
	pool    *semaphore.Weighted

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu      sync.Mutex
	entries map[string]*entry
	recency *simplelru.LRU[string, struct{}]
	bytes   int64
	closed  bool
	stats   Stats
	tombs   uint64

	now func() time.Time
}

func New(config core.CacheConfig, fetcher Fetcher, logger *zap.Logger, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", config.Dir, err)
	}

	// Recency only orders keys; capacity is enforced by evict.
	recency, err := simplelru.NewLRU[string, struct{}](math.MaxInt32, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create recency index: %w", err)
	}

	if config.Preset != "" {
		if _, err := presetBands(config.Preset); err != nil {
			return nil, err
		}
	}

	workers := config.FetchWorkers
	if workers < 1 {
		workers = core.DefaultFetchWorkers
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		config:  config,
		fetcher: fetcher,
		logger:  logger,
		pool:    semaphore.NewWeighted(int64(workers)),
		baseCtx: ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
		recency: recency,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Warm registers artifacts found on disk as ready, unpinned entries.
func (c *Cache) Warm(artifacts []core.Artifact) {
	c.mu.Lock()
	for _, a := range artifacts {
		if _, ok := c.entries[a.Fingerprint]; ok {
			continue
		}
		done := make(chan struct{})
		close(done)
		c.entries[a.Fingerprint] = &entry{
			fingerprint: a.Fingerprint,
			state:       stateReady,
			artifact:    a,
			done:        done,
			lastUsed:    c.now(),
		}
		c.recency.Add(a.Fingerprint, struct{}{})
		c.bytes += a.Size
	}
	paths := c.evictLocked(false)
	total := c.bytes
	c.mu.Unlock()

	removeFiles(c.logger, paths)
	c.logger.Info("Cache warmed", zap.Int("artifacts", len(artifacts)), zap.Int64("bytes", total))
}

// Acquire returns the artifact for a track, fetching it at most once no matter
// how many callers ask concurrently. Every successful Acquire must be paired
// with a Release of the returned artifact's fingerprint, which includes the
// configured preset.
func (c *Cache) Acquire(ctx context.Context, track core.TrackDescriptor) (*core.Artifact, error) {
	fp := track.Fingerprint
	if fp == "" {
		fp = core.Fingerprint(track.Platform, track.SourceID)
	}
	fp = core.VariantFingerprint(fp, strings.ToLower(c.config.Preset))
	track.Fingerprint = fp

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[fp]
	switch {
	case !ok:
		e = &entry{fingerprint: fp, state: statePending, done: make(chan struct{})}
		c.entries[fp] = e
		c.stats.Misses++
		c.wg.Add(1)
		go c.fetch(e, track)
	case e.state == statePending:
		c.stats.Coalesced++
	default:
		c.stats.Hits++
	}
	e.refCount++
	e.lastUsed = c.now()
	c.recency.Add(fp, struct{}{})
	c.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		c.release(e)
		return nil, ctx.Err()
	}

	if e.err != nil {
		c.release(e)
		return nil, e.err
	}
	artifact := e.artifact
	return &artifact, nil
}

// Release drops one reference taken by Acquire.
func (c *Cache) Release(fingerprint string) {
	c.mu.Lock()
	e, ok := c.entries[fingerprint]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("Release of unknown artifact", zap.String("fingerprint", fingerprint))
		return
	}
	c.release(e)
}

func (c *Cache) release(e *entry) {
	c.mu.Lock()
	if e.refCount > 0 {
		e.refCount--
	}
	e.lastUsed = c.now()
	paths := c.evictLocked(false)
	c.mu.Unlock()

	removeFiles(c.logger, paths)
}

func (c *Cache) fetch(e *entry, track core.TrackDescriptor) {
	defer c.wg.Done()

	artifact, err := c.load(track)

	c.mu.Lock()
	if err != nil {
		e.state = stateFailed
		e.err = err
		if c.entries[e.fingerprint] == e {
			delete(c.entries, e.fingerprint)
			c.recency.Remove(e.fingerprint)
		}
		c.stats.Failures++
		close(e.done)
		c.mu.Unlock()

		c.logger.Warn("Fetch failed",
			zap.String("fingerprint", e.fingerprint),
			zap.String("title", track.Title),
			zap.Error(err))
		return
	}

	e.state = stateReady
	e.artifact = *artifact
	e.lastUsed = c.now()
	c.bytes += artifact.Size
	close(e.done)
	paths := c.evictLocked(false)
	c.mu.Unlock()

	if c.index != nil {
		c.index.Add(*artifact)
	}
	removeFiles(c.logger, paths)
	c.logger.Debug("Artifact ready",
		zap.String("fingerprint", e.fingerprint),
		zap.Int64("size", artifact.Size))
}

// load finds the artifact on disk or in the shared tier, or fetches it within
// the worker pool and retry budget.
func (c *Cache) load(track core.TrackDescriptor) (*core.Artifact, error) {
	fp := track.Fingerprint
	dest := c.pathFor(fp)

	if a, ok := c.fromDisk(fp, dest, track.Duration); ok {
		c.count(func(s *Stats) { s.DiskHits++ })
		return a, nil
	}

	if err := c.pool.Acquire(c.baseCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrFetchFailed, err)
	}
	defer c.pool.Release(1)

	if c.tier != nil {
		ctx, cancel := context.WithTimeout(c.baseCtx, c.fetchTimeout())
		found, err := c.tier.Get(ctx, fp, dest)
		cancel()
		if err != nil {
			c.logger.Warn("Shared tier lookup failed", zap.String("fingerprint", fp), zap.Error(err))
		}
		if found {
			if info, statErr := os.Stat(dest); statErr == nil {
				c.count(func(s *Stats) { s.TierHits++ })
				return &core.Artifact{Fingerprint: fp, Path: dest, Size: info.Size(), Duration: track.Duration}, nil
			}
		}
	}

	var artifact *core.Artifact
	err := core.Retry(c.baseCtx, c.config.FetchAttempts, c.config.Backoff, func(ctx context.Context, attempt int) error {
		// Each attempt gets the full fetch timeout.
		ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout())
		defer cancel()

		a, err := c.fetcher.Fetch(ctx, track, dest)
		if err != nil {
			c.logger.Info("Fetch attempt failed",
				zap.String("fingerprint", fp),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return err
		}
		artifact = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrFetchFailed, track.DisplayName(), err)
	}

	artifact.Fingerprint = fp

	if c.tier != nil {
		ctx, cancel := context.WithTimeout(c.baseCtx, c.fetchTimeout())
		defer cancel()
		if err := c.tier.Put(ctx, fp, artifact.Path); err != nil {
			c.logger.Warn("Shared tier upload failed", zap.String("fingerprint", fp), zap.Error(err))
		}
	}
	return artifact, nil
}

func (c *Cache) fromDisk(fp, dest string, duration time.Duration) (*core.Artifact, bool) {
	if c.index == nil {
		return nil, false
	}
	known, ok := c.index.Get(fp)
	if !ok {
		return nil, false
	}
	info, err := os.Stat(dest)
	if err != nil {
		c.index.Remove(fp)
		return nil, false
	}
	if known.Duration > 0 {
		duration = known.Duration
	}
	return &core.Artifact{Fingerprint: fp, Path: dest, Size: info.Size(), Duration: duration}, true
}

// Run sweeps idle entries until ctx is done, then stops in-flight fetches.
func (c *Cache) Run(ctx context.Context) error {
	interval := c.config.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-ctx.Done():
			c.Close()
			return nil
		}
	}
}

// Sweep evicts entries idle for longer than the TTL, then enforces capacity.
func (c *Cache) Sweep() {
	c.mu.Lock()
	paths := c.evictLocked(true)
	c.mu.Unlock()

	if len(paths) > 0 {
		c.logger.Info("Cache sweep", zap.Int("evicted", len(paths)))
	}
	removeFiles(c.logger, paths)
}

// Close cancels in-flight fetches and waits for them to finish.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.Entries = len(c.entries)
	s.Bytes = c.bytes
	for _, e := range c.entries {
		switch e.state {
		case stateReady:
			s.Ready++
		case statePending:
			s.Pending++
		}
		if e.refCount > 0 {
			s.Pinned++
		}
	}
	return s
}

// evictLocked removes unpinned ready entries, oldest first, and returns the
// files to delete. With idle set, entries past the idle TTL go first.
func (c *Cache) evictLocked(idle bool) []string {
	var paths []string
	now := c.now()

	if idle && c.config.IdleTTL > 0 {
		for _, fp := range c.recency.Keys() {
			e := c.entries[fp]
			if e != nil && evictable(e) && now.Sub(e.lastUsed) > c.config.IdleTTL {
				paths = append(paths, c.dropLocked(e))
			}
		}
	}

	for c.overCapacity() {
		victim := c.oldestEvictable()
		if victim == nil {
			break
		}
		paths = append(paths, c.dropLocked(victim))
	}
	return paths
}

func (c *Cache) overCapacity() bool {
	if c.config.MaxEntries > 0 && len(c.entries) > c.config.MaxEntries {
		return true
	}
	return c.config.MaxBytes > 0 && c.bytes > c.config.MaxBytes
}

func (c *Cache) oldestEvictable() *entry {
	for _, fp := range c.recency.Keys() {
		if e := c.entries[fp]; e != nil && evictable(e) {
			return e
		}
	}
	return nil
}

func evictable(e *entry) bool {
	return e.state == stateReady && e.refCount == 0
}

// dropLocked forgets an entry and moves its file to a tombstone path, which
// the caller removes after unlocking. A refetch of the same fingerprint may
// write the original path before then.
func (c *Cache) dropLocked(e *entry) string {
	delete(c.entries, e.fingerprint)
	c.recency.Remove(e.fingerprint)
	c.bytes -= e.artifact.Size
	c.stats.Evictions++
	if c.index != nil {
		c.index.Remove(e.fingerprint)
	}
	return c.tombstoneLocked(e.artifact.Path)
}

func (c *Cache) tombstoneLocked(path string) string {
	if path == "" {
		return ""
	}
	c.tombs++
	tomb := filepath.Join(filepath.Dir(path), fmt.Sprintf("%s%d-%s", tombstonePrefix, c.tombs, filepath.Base(path)))
	if err := os.Rename(path, tomb); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to move evicted artifact aside", zap.String("path", path), zap.Error(err))
		}
		return ""
	}
	return tomb
}

func (c *Cache) count(fn func(*Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func (c *Cache) pathFor(fingerprint string) string {
	return filepath.Join(c.config.Dir, fingerprint+ArtifactExt)
}

func (c *Cache) fetchTimeout() time.Duration {
	if c.config.FetchTimeout > 0 {
		return c.config.FetchTimeout
	}
	return 5 * time.Minute
}

func removeFiles(logger *zap.Logger, paths []string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn("Failed to remove evicted artifact", zap.String("path", p), zap.Error(err))
		}
	}
}
