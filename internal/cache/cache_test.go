package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"groovecast/internal/core"
)

type fakeFetcher struct {
	gate     chan struct{}
	failures int32 // number of leading calls that fail
	err      error
	calls    atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, track core.TrackDescriptor, dest string) (*core.Artifact, error) {
	n := f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	if n <= f.failures {
		return nil, errors.New("transient download error")
	}
	if err := os.WriteFile(dest, []byte("opus-data"), 0o644); err != nil {
		return nil, err
	}
	return &core.Artifact{Fingerprint: track.Fingerprint, Path: dest, Size: 9, Duration: track.Duration}, nil
}

func testCacheConfig(t *testing.T) core.CacheConfig {
	return core.CacheConfig{
		Dir:           t.TempDir(),
		FetchWorkers:  2,
		FetchTimeout:  time.Second,
		FetchAttempts: 3,
		Backoff:       core.Backoff{Initial: time.Millisecond},
		IdleTTL:       time.Hour,
		SweepInterval: time.Hour,
		MaxEntries:    10,
		MaxBytes:      1 << 20,
	}
}

func newTestCache(t *testing.T, config core.CacheConfig, fetcher Fetcher, opts ...Option) *Cache {
	t.Helper()
	c, err := New(config, fetcher, zap.NewNop(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func track(id string) core.TrackDescriptor {
	return core.NewTrackDescriptor(core.PlatformYouTube, id, "Title "+id, "Artist", "", 3*time.Minute)
}

func TestCache_CoalescesConcurrentAcquires(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	c := newTestCache(t, testCacheConfig(t), fetcher)
	tr := track("a")

	const callers = 5
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Acquire(context.Background(), tr)
			errs <- err
		}()
	}

	waitUntil(t, func() bool { s := c.Stats(); return s.Misses+s.Coalesced == callers })
	close(fetcher.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}

	stats := c.Stats()
	if stats.Misses != 1 || stats.Coalesced != callers-1 {
		t.Errorf("misses = %d coalesced = %d, want 1 and %d", stats.Misses, stats.Coalesced, callers-1)
	}
	if stats.Pinned != 1 || stats.Ready != 1 {
		t.Errorf("pinned = %d ready = %d, want 1 and 1", stats.Pinned, stats.Ready)
	}
}

func TestCache_HitAfterReady(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := newTestCache(t, testCacheConfig(t), fetcher)
	tr := track("a")

	first, err := c.Acquire(context.Background(), tr)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	c.Release(tr.Fingerprint)

	second, err := c.Acquire(context.Background(), tr)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if first.Path != second.Path {
		t.Errorf("paths differ: %s != %s", first.Path, second.Path)
	}
	if got := c.Stats().Hits; got != 1 {
		t.Errorf("hits = %d, want 1", got)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
}

func TestCache_FailedEntryIsRemoved(t *testing.T) {
	fetcher := &fakeFetcher{err: core.Permanent(ErrTooLong)}
	c := newTestCache(t, testCacheConfig(t), fetcher)
	tr := track("a")

	_, err := c.Acquire(context.Background(), tr)
	if !errors.Is(err, core.ErrFetchFailed) {
		t.Fatalf("Acquire() error = %v, want %v", err, core.ErrFetchFailed)
	}
	if !errors.Is(err, ErrTooLong) {
		t.Errorf("Acquire() error = %v, want cause %v", err, ErrTooLong)
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("permanent failure fetched %d times, want 1", got)
	}
	if got := c.Stats().Entries; got != 0 {
		t.Errorf("entries = %d, want 0", got)
	}

	_, _ = c.Acquire(context.Background(), tr)
	if got := fetcher.calls.Load(); got != 2 {
		t.Errorf("fetch calls after retry = %d, want 2", got)
	}
}

func TestCache_RetriesTransientFailures(t *testing.T) {
	fetcher := &fakeFetcher{failures: 2}
	c := newTestCache(t, testCacheConfig(t), fetcher)

	if _, err := c.Acquire(context.Background(), track("a")); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := fetcher.calls.Load(); got != 3 {
		t.Errorf("fetch calls = %d, want 3", got)
	}
}

func TestCache_RetryBudgetExhausted(t *testing.T) {
	fetcher := &fakeFetcher{failures: 10}
	c := newTestCache(t, testCacheConfig(t), fetcher)

	_, err := c.Acquire(context.Background(), track("a"))
	if core.KindOf(err) != core.KindFetchFailed {
		t.Errorf("KindOf() = %v, want %v", core.KindOf(err), core.KindFetchFailed)
	}
	if got := fetcher.calls.Load(); got != 3 {
		t.Errorf("fetch calls = %d, want 3", got)
	}
}

func TestCache_PinnedEntriesAreNeverEvicted(t *testing.T) {
	config := testCacheConfig(t)
	config.MaxEntries = 1
	c := newTestCache(t, config, &fakeFetcher{})
	a, b := track("a"), track("b")

	artA, err := c.Acquire(context.Background(), a)
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	if _, err := c.Acquire(context.Background(), b); err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}

	if got := c.Stats().Entries; got != 2 {
		t.Fatalf("entries = %d, want 2 while both are pinned", got)
	}
	if _, err := os.Stat(artA.Path); err != nil {
		t.Fatalf("pinned artifact removed: %v", err)
	}

	c.Release(a.Fingerprint)

	stats := c.Stats()
	if stats.Entries != 1 || stats.Evictions != 1 {
		t.Errorf("entries = %d evictions = %d, want 1 and 1", stats.Entries, stats.Evictions)
	}
	if _, err := os.Stat(artA.Path); !os.IsNotExist(err) {
		t.Errorf("evicted artifact still on disk: %v", err)
	}
}

func TestCache_SweepEvictsIdleEntries(t *testing.T) {
	c := newTestCache(t, testCacheConfig(t), &fakeFetcher{})
	now := time.Now()
	c.now = func() time.Time { return now }

	a, b := track("a"), track("b")
	if _, err := c.Acquire(context.Background(), a); err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	if _, err := c.Acquire(context.Background(), b); err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}
	c.Release(a.Fingerprint)

	now = now.Add(2 * time.Hour)
	c.Sweep()

	stats := c.Stats()
	if stats.Entries != 1 {
		t.Errorf("entries = %d, want 1 (only the pinned one)", stats.Entries)
	}
	if stats.Pinned != 1 {
		t.Errorf("pinned = %d, want 1", stats.Pinned)
	}
}

func TestCache_CancelledWaiterLeavesFetchRunning(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	c := newTestCache(t, testCacheConfig(t), fetcher)
	tr := track("a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Acquire(ctx, tr)
		done <- err
	}()

	waitUntil(t, func() bool { return fetcher.calls.Load() == 1 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Acquire() error = %v, want %v", err, context.Canceled)
	}

	close(fetcher.gate)
	waitUntil(t, func() bool { return c.Stats().Ready == 1 })
	if got := c.Stats().Pinned; got != 0 {
		t.Errorf("pinned = %d, want 0", got)
	}
}

type fakeIndex struct {
	mu        sync.Mutex
	artifacts map[string]core.Artifact
}

func (i *fakeIndex) Get(fp string) (core.Artifact, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	a, ok := i.artifacts[fp]
	return a, ok
}

func (i *fakeIndex) Add(a core.Artifact) {
	i.mu.Lock()
	i.artifacts[a.Fingerprint] = a
	i.mu.Unlock()
}

func (i *fakeIndex) Remove(fp string) {
	i.mu.Lock()
	delete(i.artifacts, fp)
	i.mu.Unlock()
}

func TestCache_ReusesIndexedArtifact(t *testing.T) {
	config := testCacheConfig(t)
	tr := track("a")
	path := filepath.Join(config.Dir, tr.Fingerprint+ArtifactExt)
	if err := os.WriteFile(path, []byte("cached"), 0o644); err != nil {
		t.Fatal(err)
	}

	index := &fakeIndex{artifacts: map[string]core.Artifact{tr.Fingerprint: {Fingerprint: tr.Fingerprint, Path: path}}}
	fetcher := &fakeFetcher{}
	c := newTestCache(t, config, fetcher, WithIndex(index))

	art, err := c.Acquire(context.Background(), tr)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if art.Size != 6 {
		t.Errorf("size = %d, want 6", art.Size)
	}
	if fetcher.calls.Load() != 0 {
		t.Error("indexed artifact should not be fetched")
	}
	if got := c.Stats().DiskHits; got != 1 {
		t.Errorf("disk hits = %d, want 1", got)
	}
}

func TestCache_WarmCountsTowardsCapacity(t *testing.T) {
	config := testCacheConfig(t)
	config.MaxEntries = 2
	c := newTestCache(t, config, &fakeFetcher{})

	var artifacts []core.Artifact
	for _, id := range []string{"a", "b", "c"} {
		tr := track(id)
		path := filepath.Join(config.Dir, tr.Fingerprint+ArtifactExt)
		_ = os.WriteFile(path, []byte("x"), 0o644)
		artifacts = append(artifacts, core.Artifact{Fingerprint: tr.Fingerprint, Path: path, Size: 1})
	}
	c.Warm(artifacts)

	stats := c.Stats()
	if stats.Entries != 2 || stats.Evictions != 1 {
		t.Errorf("entries = %d evictions = %d, want 2 and 1", stats.Entries, stats.Evictions)
	}
	if _, err := os.Stat(artifacts[0].Path); !os.IsNotExist(err) {
		t.Error("oldest warmed artifact should have been removed")
	}
}

type fakeTier struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (f *fakeTier) Get(_ context.Context, fp, dest string) (bool, error) {
	f.mu.Lock()
	data, ok := f.objects[fp]
	f.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, os.WriteFile(dest, data, 0o644)
}

func (f *fakeTier) Put(_ context.Context, fp, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.objects[fp] = data
	f.puts++
	f.mu.Unlock()
	return nil
}

func TestCache_SharedTier(t *testing.T) {
	tier := &fakeTier{objects: map[string][]byte{track("b").Fingerprint: []byte("remote")}}
	fetcher := &fakeFetcher{}
	c := newTestCache(t, testCacheConfig(t), fetcher, WithTier(tier))

	if _, err := c.Acquire(context.Background(), track("a")); err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	if tier.puts != 1 {
		t.Errorf("tier puts = %d, want 1", tier.puts)
	}

	art, err := c.Acquire(context.Background(), track("b"))
	if err != nil {
		t.Fatalf("Acquire(b) error = %v", err)
	}
	if art.Size != int64(len("remote")) {
		t.Errorf("size = %d, want %d", art.Size, len("remote"))
	}
	if got := fetcher.calls.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want 1", got)
	}
	if got := c.Stats().TierHits; got != 1 {
		t.Errorf("tier hits = %d, want 1", got)
	}
}

func TestCache_AcquireAfterClose(t *testing.T) {
	c := newTestCache(t, testCacheConfig(t), &fakeFetcher{})
	c.Close()

	if _, err := c.Acquire(context.Background(), track("a")); !errors.Is(err, ErrClosed) {
		t.Errorf("Acquire() error = %v, want %v", err, ErrClosed)
	}
}

func TestCache_EvictionDoesNotRemoveRefetchedArtifact(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := newTestCache(t, testCacheConfig(t), fetcher)
	tr := track("a")

	first, err := c.Acquire(context.Background(), tr)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	c.Release(first.Fingerprint)

	// Evict, but hold the file removal until the track has been fetched again.
	c.mu.Lock()
	pending := c.dropLocked(c.entries[first.Fingerprint])
	c.mu.Unlock()
	if pending == "" || pending == first.Path {
		t.Fatalf("evicted path = %q, want a tombstone distinct from %q", pending, first.Path)
	}

	second, err := c.Acquire(context.Background(), tr)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	defer c.Release(second.Fingerprint)
	if second.Path != first.Path {
		t.Fatalf("refetched path = %q, want %q", second.Path, first.Path)
	}

	removeFiles(c.logger, []string{pending})

	if _, err := os.Stat(second.Path); err != nil {
		t.Errorf("refetched artifact missing after eviction cleanup: %v", err)
	}
	if _, err := os.Stat(pending); !os.IsNotExist(err) {
		t.Errorf("tombstone %q still present", pending)
	}
	if got := fetcher.calls.Load(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
}

type fetcherFunc func(ctx context.Context, track core.TrackDescriptor, dest string) (*core.Artifact, error)

func (f fetcherFunc) Fetch(ctx context.Context, track core.TrackDescriptor, dest string) (*core.Artifact, error) {
	return f(ctx, track, dest)
}

func TestCache_FetchTimeoutAppliesPerAttempt(t *testing.T) {
	config := testCacheConfig(t)
	config.FetchTimeout = 200 * time.Millisecond
	config.FetchAttempts = 2

	var calls atomic.Int32
	var remaining time.Duration
	fetcher := fetcherFunc(func(ctx context.Context, tr core.TrackDescriptor, dest string) (*core.Artifact, error) {
		if calls.Add(1) == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		deadline, ok := ctx.Deadline()
		if !ok {
			return nil, errors.New("attempt has no deadline")
		}
		remaining = time.Until(deadline)
		if err := os.WriteFile(dest, []byte("opus-data"), 0o644); err != nil {
			return nil, err
		}
		return &core.Artifact{Path: dest, Size: 9, Duration: tr.Duration}, nil
	})
	c := newTestCache(t, config, fetcher)

	a, err := c.Acquire(context.Background(), track("a"))
	if err != nil {
		t.Fatalf("Acquire() error = %v, want success on the second attempt", err)
	}
	c.Release(a.Fingerprint)

	if got := calls.Load(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
	if remaining < 100*time.Millisecond {
		t.Errorf("second attempt had %v left, want close to the full timeout", remaining)
	}
}

func TestCache_PresetIsPartOfTheKey(t *testing.T) {
	config := testCacheConfig(t)
	config.Preset = "BassBoost"
	fetcher := &fakeFetcher{}
	c := newTestCache(t, config, fetcher)
	tr := track("a")

	a, err := c.Acquire(context.Background(), tr)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	want := core.VariantFingerprint(tr.Fingerprint, "bassboost")
	if a.Fingerprint != want {
		t.Errorf("fingerprint = %q, want %q", a.Fingerprint, want)
	}
	if a.Fingerprint == tr.Fingerprint {
		t.Error("preset artifact shares the plain track's key")
	}
	if filepath.Base(a.Path) != want+ArtifactExt {
		t.Errorf("path = %q, want file named after %q", a.Path, want)
	}

	c.Release(a.Fingerprint)
	if got := c.Stats().Pinned; got != 0 {
		t.Errorf("pinned = %d after release, want 0", got)
	}
}

func TestNew_UnknownPreset(t *testing.T) {
	config := testCacheConfig(t)
	config.Preset = "karaoke"
	if _, err := New(config, &fakeFetcher{}, zap.NewNop()); err == nil {
		t.Fatal("New() should reject an unknown preset")
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
