// Package flood limits how many play requests a user may make in a chat.
package flood

import (
	"sync"
	"time"
)

const (
	// cleanupInterval is how often idle entries are dropped
	cleanupInterval = 10 * time.Minute
	// minIdleTimeout is the shortest time an entry is kept after its last request
	minIdleTimeout = 10 * time.Minute
)

// Floodgate is a per-user, per-chat sliding window limiter. It satisfies
// core.RateLimiter.
type Floodgate struct {
	limit       int
	window      time.Duration
	idleTimeout time.Duration
	entries     map[string]*userEntry // Key: "chatID:userID"
	mutex       sync.RWMutex
	stopCleanup chan struct{}
	stopOnce    sync.Once
	now         func() time.Time
}

type userEntry struct {
	timestamps []time.Time
	lastSeen   time.Time
}

// New creates a Floodgate allowing limit requests per window. A limit of zero
// or less blocks everything; callers that want no limit should not install one.
func New(limit int, window time.Duration) *Floodgate {
	if window <= 0 {
		window = time.Minute
	}
	idle := minIdleTimeout
	if window > idle {
		idle = window
	}
	fg := &Floodgate{
		limit:       limit,
		window:      window,
		idleTimeout: idle,
		entries:     make(map[string]*userEntry),
		stopCleanup: make(chan struct{}),
		now:         time.Now,
	}

	go fg.cleanup()

	return fg
}

// Stop stops the background cleanup goroutine. It is safe to call twice.
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() { close(fg.stopCleanup) })
}

// CheckMessage records a request from userID in chatID and reports whether it is allowed.
func (fg *Floodgate) CheckMessage(chatID, userID string) bool {
	key := chatID + ":" + userID
	now := fg.now()

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, exists := fg.entries[key]
	if !exists {
		capacity := fg.limit + 1
		if capacity < 1 {
			capacity = 1
		}
		entry = &userEntry{timestamps: make([]time.Time, 0, capacity)}
		fg.entries[key] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-fg.window)
	valid := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= fg.limit {
		return false
	}

	entry.timestamps = append(entry.timestamps, now)
	return true
}

// Remaining reports how many more requests userID may make in chatID right now.
func (fg *Floodgate) Remaining(chatID, userID string) int {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	entry, ok := fg.entries[chatID+":"+userID]
	if !ok {
		return max(fg.limit, 0)
	}
	windowStart := fg.now().Add(-fg.window)
	used := 0
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			used++
		}
	}
	return max(fg.limit-used, 0)
}

func (fg *Floodgate) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.performCleanup()
		case <-fg.stopCleanup:
			return
		}
	}
}

// performCleanup removes entries that have been idle for too long
func (fg *Floodgate) performCleanup() {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	cutoff := fg.now().Add(-fg.idleTimeout)
	for key, entry := range fg.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fg.entries, key)
		}
	}
}

// GetStats returns statistics for the status endpoint.
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	return Stats{
		ActiveUsers:   len(fg.entries),
		Limit:         fg.limit,
		WindowSeconds: int(fg.window.Seconds()),
	}
}

type Stats struct {
	ActiveUsers   int `json:"active_users"`
	Limit         int `json:"limit"`
	WindowSeconds int `json:"window_seconds"`
}
