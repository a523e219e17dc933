package core

import (
	"fmt"
	"time"
)

const (
	DefaultFetchWorkers      = 2
	DefaultFetchAttempts     = 3
	DefaultStreamAttempts    = 3
	DefaultMaxSinkFailures   = 3
	DefaultSearchLimit       = 5
	DefaultMinConfidence     = 0.35
	DefaultCacheMaxBytes     = 1 << 30
	DefaultCacheMaxEntries   = 512
	DefaultMaxFileBytes      = 100 << 20
	DefaultLoudnessTarget    = -14.0
	DefaultSampleRate        = 48000
	DefaultChannels          = 2
	DefaultCommandBuffer     = 32
	DefaultPlayLimitPerHour  = 10
	DefaultRedisQueueTTL     = 7 * 24 * time.Hour
	DefaultIdleSessionExpiry = 10 * time.Minute
	DefaultCommandTimeout    = 5 * time.Second
	DefaultMinDuration       = 5 * time.Second
	DefaultMaxQueueLength    = 50
)

type Config struct {
	Resolver ResolverConfig
	Cache    CacheConfig
	Playback PlaybackConfig
	Session  SessionConfig
	Store    StoreConfig
	Storage  StorageConfig
	Spotify  SpotifyConfig
	Server   ServerConfig
	Log      LogConfig
	App      AppConfig
}

type ResolverConfig struct {
	// Priority orders platforms when several return acceptable matches.
	Priority        []Platform
	PlatformTimeout time.Duration
	Attempts        int
	Backoff         Backoff
	SearchLimit     int
	// MinConfidence is the match score a search candidate needs to be picked automatically.
	MinConfidence float64
}

type CacheConfig struct {
	Dir           string
	FetchWorkers  int
	FetchTimeout  time.Duration
	FetchAttempts int
	Backoff       Backoff
	IdleTTL       time.Duration
	SweepInterval time.Duration
	MaxBytes      int64
	MaxEntries    int
	MinDuration   time.Duration
	MaxDuration   time.Duration
	MaxFileBytes  int64
	// Transcoding
	// Preset names an equalizer curve applied at transcode time; empty disables it.
	Preset         string
	FFmpegPath     string
	FFmpegTimeout  time.Duration
	LoudnessTarget float64
	SampleRate     int
	Channels       int
	Bitrate        string
	YTDLPProxy     string
}

type PlaybackConfig struct {
	OpenTimeout     time.Duration
	StreamAttempts  int
	Backoff         Backoff
	MaxSinkFailures int
	SinkTimeout     time.Duration
}

type SessionConfig struct {
	IdleTimeout    time.Duration
	CommandTimeout time.Duration
	CommandBuffer  int
	// MaxQueueLength caps pending items per session; 0 means unbounded.
	MaxQueueLength int
}

type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "redis" or "none".
	Backend       string
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
}

// Enabled reports whether Spotify credentials are configured.
func (c SpotifyConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type AppConfig struct {
	Language string
	// PlayLimit is the number of play requests a user may make per PlayWindow in one chat; 0 disables.
	PlayLimit  int
	PlayWindow time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Resolver: ResolverConfig{
			Priority: []Platform{
				PlatformYouTube, PlatformSpotify, PlatformAppleMusic, PlatformSoundCloud, PlatformResso,
			},
			PlatformTimeout: 5 * time.Second,
			Attempts:        2,
			Backoff:         Backoff{Initial: 200 * time.Millisecond, Max: time.Second, Multiplier: 2},
			SearchLimit:     DefaultSearchLimit,
			MinConfidence:   DefaultMinConfidence,
		},
		Cache: CacheConfig{
			Dir:            "./cache/audio",
			FetchWorkers:   DefaultFetchWorkers,
			FetchTimeout:   5 * time.Minute,
			FetchAttempts:  DefaultFetchAttempts,
			Backoff:        Backoff{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2},
			IdleTTL:        24 * time.Hour,
			SweepInterval:  30 * time.Minute,
			MaxBytes:       DefaultCacheMaxBytes,
			MaxEntries:     DefaultCacheMaxEntries,
			MinDuration:    DefaultMinDuration,
			MaxDuration:    10 * time.Minute,
			MaxFileBytes:   DefaultMaxFileBytes,
			FFmpegPath:     "ffmpeg",
			FFmpegTimeout:  300 * time.Second,
			LoudnessTarget: DefaultLoudnessTarget,
			SampleRate:     DefaultSampleRate,
			Channels:       DefaultChannels,
			Bitrate:        "128k",
		},
		Playback: PlaybackConfig{
			OpenTimeout:     15 * time.Second,
			StreamAttempts:  DefaultStreamAttempts,
			Backoff:         Backoff{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2},
			MaxSinkFailures: DefaultMaxSinkFailures,
			SinkTimeout:     5 * time.Second,
		},
		Session: SessionConfig{
			IdleTimeout:    DefaultIdleSessionExpiry,
			CommandTimeout: 5 * time.Second,
			CommandBuffer:  DefaultCommandBuffer,
			MaxQueueLength: DefaultMaxQueueLength,
		},
		Store: StoreConfig{
			Backend:    "memory",
			SQLitePath: "./groovecast.db",
			RedisAddr:  "localhost:6379",
			RedisTTL:   DefaultRedisQueueTTL,
		},
		Storage: StorageConfig{
			Bucket: "groovecast",
			Region: "us-east-1",
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		App: AppConfig{
			Language:   "en",
			PlayLimit:  DefaultPlayLimitPerHour,
			PlayWindow: time.Hour,
		},
	}
}

// Validate checks settings the engine cannot run without.
func (c *Config) Validate() error {
	if len(c.Resolver.Priority) == 0 {
		return fmt.Errorf("resolver priority must list at least one platform")
	}
	if c.Resolver.PlatformTimeout <= 0 {
		return fmt.Errorf("resolver platform timeout must be positive")
	}
	if c.Cache.FetchWorkers < 1 {
		return fmt.Errorf("cache fetch workers must be at least 1, got %d", c.Cache.FetchWorkers)
	}
	if c.Cache.FetchAttempts < 1 {
		return fmt.Errorf("cache fetch attempts must be at least 1, got %d", c.Cache.FetchAttempts)
	}
	if c.Cache.MaxDuration > 0 && c.Cache.MinDuration > c.Cache.MaxDuration {
		return fmt.Errorf("cache min duration %s exceeds max duration %s", c.Cache.MinDuration, c.Cache.MaxDuration)
	}
	if c.Session.MaxQueueLength < 0 {
		return fmt.Errorf("max queue length must not be negative, got %d", c.Session.MaxQueueLength)
	}
	if c.Playback.StreamAttempts < 1 {
		return fmt.Errorf("stream attempts must be at least 1, got %d", c.Playback.StreamAttempts)
	}
	if c.Playback.MaxSinkFailures < 1 {
		return fmt.Errorf("max sink failures must be at least 1, got %d", c.Playback.MaxSinkFailures)
	}
	switch c.Store.Backend {
	case "memory", "sqlite", "redis", "none":
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return fmt.Errorf("storage endpoint and bucket are required when storage is enabled")
	}
	return nil
}
