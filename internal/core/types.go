package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// fingerprintBytes is the number of SHA-256 bytes kept in a fingerprint.
const fingerprintBytes = 16

type Platform string

const (
	PlatformYouTube    Platform = "youtube"
	PlatformSpotify    Platform = "spotify"
	PlatformAppleMusic Platform = "applemusic"
	PlatformSoundCloud Platform = "soundcloud"
	PlatformResso      Platform = "resso"
	PlatformOther      Platform = "other"
)

// Platforms lists every supported platform.
var Platforms = []Platform{
	PlatformYouTube, PlatformSpotify, PlatformAppleMusic, PlatformSoundCloud, PlatformResso, PlatformOther,
}

// ParsePlatform maps a configuration string to a Platform.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Platforms {
		if p == known {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown platform %q", s)
}

// TrackDescriptor identifies a playable piece of audio on a specific platform.
// Values are never mutated after the resolver creates them.
type TrackDescriptor struct {
	Platform    Platform      `json:"platform"`
	SourceID    string        `json:"source_id"`
	Title       string        `json:"title"`
	Artist      string        `json:"artist,omitempty"`
	Duration    time.Duration `json:"duration"`
	URL         string        `json:"url,omitempty"`
	RequestedBy string        `json:"requested_by,omitempty"`
	Fingerprint string        `json:"fingerprint"`
}

// NewTrackDescriptor builds a descriptor and derives its fingerprint.
func NewTrackDescriptor(platform Platform, sourceID, title, artist, url string, duration time.Duration) TrackDescriptor {
	return TrackDescriptor{
		Platform:    platform,
		SourceID:    sourceID,
		Title:       title,
		Artist:      artist,
		Duration:    duration,
		URL:         url,
		Fingerprint: Fingerprint(platform, sourceID),
	}
}

// Fingerprint derives the cache key for a platform track.
func Fingerprint(platform Platform, sourceID string) string {
	sum := sha256.Sum256([]byte(string(platform) + ":" + sourceID))
	return hex.EncodeToString(sum[:fingerprintBytes])
}

// VariantFingerprint derives the cache key for one processed variant of a
// track. An empty variant returns fp unchanged.
func VariantFingerprint(fp, variant string) string {
	if variant == "" {
		return fp
	}
	sum := sha256.Sum256([]byte(fp + "#" + variant))
	return hex.EncodeToString(sum[:fingerprintBytes])
}

// DurationSeconds returns the duration in whole seconds.
func (d TrackDescriptor) DurationSeconds() int {
	return int(d.Duration / time.Second)
}

// RequestedByUser returns a copy attributed to the given user.
func (d TrackDescriptor) RequestedByUser(userID string) TrackDescriptor {
	d.RequestedBy = userID
	return d
}

// DisplayName renders "Artist - Title", or just the title.
func (d TrackDescriptor) DisplayName() string {
	if d.Artist == "" {
		return d.Title
	}
	return d.Artist + " - " + d.Title
}

type LoopMode int

const (
	// LoopOff discards the current item on advance.
	LoopOff LoopMode = iota
	// LoopTrack re-presents the current item on advance.
	LoopTrack
	// LoopQueue moves the current item to the back of the queue on advance.
	LoopQueue
)

func (m LoopMode) String() string {
	switch m {
	case LoopOff:
		return "off"
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return fmt.Sprintf("LoopMode(%d)", int(m))
	}
}

// ParseLoopMode parses "off", "track" or "queue".
func ParseLoopMode(s string) (LoopMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none", "":
		return LoopOff, nil
	case "track", "one", "single":
		return LoopTrack, nil
	case "queue", "all":
		return LoopQueue, nil
	}
	return LoopOff, fmt.Errorf("%w: unknown loop mode %q", ErrInvalidCommand, s)
}

type PlaybackState int

const (
	// StateIdle indicates the session has nothing to play
	StateIdle PlaybackState = iota
	// StateLoading indicates the current item is being fetched or its stream opened
	StateLoading
	// StatePlaying indicates the current item is streaming
	StatePlaying
	// StatePaused indicates the stream is held open but paused
	StatePaused
	// StateSkipping indicates the current item is being abandoned for the next one
	StateSkipping
	// StateStopped indicates the session is terminated
	StateStopped
)

func (s PlaybackState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateSkipping:
		return "skipping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("PlaybackState(%d)", int(s))
	}
}

// QueueItem is a track in exactly one session's queue.
type QueueItem struct {
	Track    TrackDescriptor `json:"track"`
	Position uint64          `json:"position"`
}

// Artifact is a ready-to-stream local audio file.
type Artifact struct {
	Fingerprint string        `json:"fingerprint"`
	Path        string        `json:"path"`
	Size        int64         `json:"size"`
	Duration    time.Duration `json:"duration"`
}

// QueueSnapshot is the persisted form of a session queue.
type QueueSnapshot struct {
	ChatID       string      `json:"chat_id"`
	Current      *QueueItem  `json:"current,omitempty"`
	Items        []QueueItem `json:"items"`
	LoopMode     LoopMode    `json:"loop_mode"`
	NextPosition uint64      `json:"next_position"`
	SavedAt      time.Time   `json:"saved_at"`
}

// Empty reports whether the snapshot holds nothing to play.
func (s *QueueSnapshot) Empty() bool {
	return s == nil || (s.Current == nil && len(s.Items) == 0)
}

// SessionStatus is a read-only view of a session.
type SessionStatus struct {
	ChatID      string           `json:"chat_id"`
	State       string           `json:"state"`
	LoopMode    string           `json:"loop_mode"`
	Current     *TrackDescriptor `json:"current,omitempty"`
	QueueLength int              `json:"queue_length"`
	LastError   string           `json:"last_error,omitempty"`
}

// StreamHandle is one live connection to the voice transport for one chat.
type StreamHandle struct {
	ID     string
	ChatID string
}

type SinkEventType int

const (
	// SinkTrackEnded reports that the artifact finished playing
	SinkTrackEnded SinkEventType = iota
	// SinkStreamError reports a transport fault on a live stream
	SinkStreamError
)

// SinkEvent is reported by the voice transport for a stream handle.
type SinkEvent struct {
	Type   SinkEventType
	Handle StreamHandle
	Err    error
}

type Resolver interface {
	Resolve(ctx context.Context, query, requestedBy string) ([]TrackDescriptor, error)
}

type TrackCache interface {
	// Acquire blocks until the artifact is ready or failed. Each successful
	// Acquire must be paired with one Release.
	Acquire(ctx context.Context, track TrackDescriptor) (*Artifact, error)
	Release(fingerprint string)
}

// StreamSink is the voice transport. Events for every handle it opened are
// delivered on the Events channel.
type StreamSink interface {
	OpenStream(ctx context.Context, chatID string, artifact *Artifact) (StreamHandle, error)
	CloseStream(ctx context.Context, handle StreamHandle) error
	Pause(ctx context.Context, handle StreamHandle) error
	Resume(ctx context.Context, handle StreamHandle) error
	Events() <-chan SinkEvent
	// MaxStreams is the number of concurrent streams the transport accepts; 0 means unbounded.
	MaxStreams() int
}

// QueueStore persists queue snapshots. LoadQueueState returns (nil, nil) when
// nothing is saved for the chat.
type QueueStore interface {
	SaveQueueState(ctx context.Context, chatID string, snapshot *QueueSnapshot) error
	LoadQueueState(ctx context.Context, chatID string) (*QueueSnapshot, error)
	DeleteQueueState(ctx context.Context, chatID string) error
}

type RateLimiter interface {
	CheckMessage(chatID, userID string) bool
}
