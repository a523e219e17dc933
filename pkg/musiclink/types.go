// Package musiclink provides per-platform music lookup and search behind a single provider capability.
package musiclink

import (
	"context"
	"errors"
	"time"
)

// Platform identifiers reported by providers.
const (
	PlatformYouTube    = "youtube"
	PlatformSpotify    = "spotify"
	PlatformAppleMusic = "applemusic"
	PlatformSoundCloud = "soundcloud"
	PlatformResso      = "resso"
	PlatformOther      = "other"
)

var (
	// ErrNotFound is returned when a provider has no track for a URL or query.
	ErrNotFound = errors.New("track not found")
	// ErrSearchUnsupported is returned by providers that can only look up URLs.
	ErrSearchUnsupported = errors.New("search not supported")
	// ErrUnsupportedURL is returned when a provider is asked to look up a URL it does not own.
	ErrUnsupportedURL = errors.New("unsupported URL")
)

// TrackInfo holds track metadata extracted from a music platform.
type TrackInfo struct {
	Platform string        // Platform identifier, one of the Platform constants.
	ID       string        // Platform-native identifier.
	Title    string        // Track title.
	Artist   string        // Artist name(s).
	Duration time.Duration // Zero when the platform does not report it.
	URL      string        // Canonical URL of the track on its platform.
	ISRC     string        // International Standard Recording Code (if available).
}

// Provider is the capability every platform client implements.
type Provider interface {
	// Platform returns the platform identifier.
	Platform() string

	// CanResolve checks if this provider can handle the given URL.
	CanResolve(url string) bool

	// Lookup extracts track information from a platform URL.
	Lookup(ctx context.Context, url string) (*TrackInfo, error)

	// Search returns up to limit candidates for a free-text query, best first.
	Search(ctx context.Context, query string, limit int) ([]TrackInfo, error)
}
