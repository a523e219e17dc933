// Package store keeps track of cached artifacts and persists session queues.
package store

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"groovecast/internal/core"
)

// workDirPrefix marks scratch directories of interrupted fetches and evicted
// artifacts that were never removed.
const workDirPrefix = ".fetch-"

// ArtifactIndex is a thread-safe index of artifacts on disk, fronted by a Bloom
// filter so misses are cheap.
type ArtifactIndex struct {
	artifacts         map[string]core.Artifact
	bloom             *bloom.BloomFilter
	lru               *lru.Cache[string, struct{}]
	mutex             sync.RWMutex
	maxArtifacts      int
	falsePositiveRate float64
}

// NewArtifactIndex creates an index holding at most maxArtifacts entries.
func NewArtifactIndex(maxArtifacts int, falsePositiveRate float64) *ArtifactIndex {
	if maxArtifacts < 1 {
		maxArtifacts = core.DefaultCacheMaxEntries
	}
	// One spare slot so the LRU never drops a key before evictOldest does.
	lruCache, _ := lru.New[string, struct{}](maxArtifacts + 1)

	return &ArtifactIndex{
		artifacts:         make(map[string]core.Artifact),
		bloom:             bloom.NewWithEstimates(uint(maxArtifacts), falsePositiveRate),
		lru:               lruCache,
		maxArtifacts:      maxArtifacts,
		falsePositiveRate: falsePositiveRate,
	}
}

// Has checks if an artifact is indexed.
func (ix *ArtifactIndex) Has(fingerprint string) bool {
	ix.mutex.RLock()
	defer ix.mutex.RUnlock()

	if !ix.bloom.TestString(fingerprint) {
		return false
	}
	_, exists := ix.artifacts[fingerprint]
	return exists
}

// Get returns the indexed artifact and marks it recently used.
func (ix *ArtifactIndex) Get(fingerprint string) (core.Artifact, bool) {
	ix.mutex.RLock()
	defer ix.mutex.RUnlock()

	if !ix.bloom.TestString(fingerprint) {
		return core.Artifact{}, false
	}
	a, exists := ix.artifacts[fingerprint]
	if exists {
		ix.lru.Get(fingerprint)
	}
	return a, exists
}

// Add indexes an artifact, evicting the least recently used one when full.
func (ix *ArtifactIndex) Add(artifact core.Artifact) {
	ix.mutex.Lock()
	defer ix.mutex.Unlock()

	ix.add(artifact)
	if len(ix.artifacts) > ix.maxArtifacts {
		ix.evictOldest()
	}
}

func (ix *ArtifactIndex) add(artifact core.Artifact) {
	ix.artifacts[artifact.Fingerprint] = artifact
	ix.bloom.AddString(artifact.Fingerprint)
	ix.lru.Add(artifact.Fingerprint, struct{}{})
}

// Remove drops an artifact from the index. The Bloom filter keeps its bits;
// Has and Get fall through to the map.
func (ix *ArtifactIndex) Remove(fingerprint string) {
	ix.mutex.Lock()
	defer ix.mutex.Unlock()

	if _, exists := ix.artifacts[fingerprint]; !exists {
		return
	}
	delete(ix.artifacts, fingerprint)
	ix.lru.Remove(fingerprint)
}

// Load clears the index and loads the given artifacts, oldest first.
func (ix *ArtifactIndex) Load(artifacts []core.Artifact) {
	ix.mutex.Lock()
	defer ix.mutex.Unlock()

	ix.clear()
	for _, a := range artifacts {
		if a.Fingerprint == "" {
			continue
		}
		ix.add(a)
		if len(ix.artifacts) > ix.maxArtifacts {
			ix.evictOldest()
		}
	}
}

// LoadDir scans a cache directory for artifacts named <fingerprint><ext>,
// loads them into the index and returns them oldest first. Leftover scratch
// directories and tombstones are removed.
func (ix *ArtifactIndex) LoadDir(dir, ext string) ([]core.Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	type found struct {
		artifact core.Artifact
		modTime  int64
	}
	var artifacts []found
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, workDirPrefix) {
			_ = os.RemoveAll(filepath.Join(dir, name))
			continue
		}
		if e.IsDir() {
			continue
		}
		fp, ok := strings.CutSuffix(name, ext)
		if !ok || !isFingerprint(fp) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, found{
			artifact: core.Artifact{Fingerprint: fp, Path: filepath.Join(dir, name), Size: info.Size()},
			modTime:  info.ModTime().UnixNano(),
		})
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].modTime < artifacts[j].modTime })
	out := make([]core.Artifact, len(artifacts))
	for i := range artifacts {
		out[i] = artifacts[i].artifact
	}
	ix.Load(out)
	return out, nil
}

func isFingerprint(s string) bool {
	if len(s) != 32 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Size returns the number of indexed artifacts.
func (ix *ArtifactIndex) Size() int {
	ix.mutex.RLock()
	defer ix.mutex.RUnlock()
	return len(ix.artifacts)
}

// Clear removes all artifacts from the index.
func (ix *ArtifactIndex) Clear() {
	ix.mutex.Lock()
	defer ix.mutex.Unlock()
	ix.clear()
}

func (ix *ArtifactIndex) clear() {
	ix.artifacts = make(map[string]core.Artifact)
	ix.bloom = bloom.NewWithEstimates(uint(ix.maxArtifacts), ix.falsePositiveRate)
	ix.lru.Purge()
}

func (ix *ArtifactIndex) evictOldest() {
	oldestKey, _, ok := ix.lru.GetOldest()
	if !ok {
		return
	}
	delete(ix.artifacts, oldestKey)
	ix.lru.Remove(oldestKey)
}
