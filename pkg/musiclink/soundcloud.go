package musiclink

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// SoundCloudOEmbedURL is the SoundCloud oEmbed API endpoint.
const SoundCloudOEmbedURL = "https://soundcloud.com/oembed"

// SoundCloudOEmbedResponse represents the response from SoundCloud's oEmbed API.
type SoundCloudOEmbedResponse struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
}

// SoundCloudProvider resolves SoundCloud links. SoundCloud search needs an API
// key, so only lookups are supported.
type SoundCloudProvider struct {
	client    *http.Client
	oembedURL string
	limiter   *rate.Limiter
}

// NewSoundCloudProvider creates a new SoundCloud provider.
func NewSoundCloudProvider() *SoundCloudProvider {
	return &SoundCloudProvider{
		client:    newHTTPClient(),
		oembedURL: SoundCloudOEmbedURL,
		limiter:   newLimiter(),
	}
}

// WithOEmbedURL overrides the oEmbed endpoint.
func (p *SoundCloudProvider) WithOEmbedURL(endpoint string) *SoundCloudProvider {
	p.oembedURL = endpoint
	return p
}

// Platform implements Provider.
func (p *SoundCloudProvider) Platform() string { return PlatformSoundCloud }

// CanResolve checks if the URL is a SoundCloud link.
func (p *SoundCloudProvider) CanResolve(rawURL string) bool {
	return hostIn(rawURL, "soundcloud.com", "www.soundcloud.com", "m.soundcloud.com", "on.soundcloud.com")
}

// Lookup extracts track information from a SoundCloud URL using the oEmbed API.
func (p *SoundCloudProvider) Lookup(ctx context.Context, rawURL string) (*TrackInfo, error) {
	if !p.CanResolve(rawURL) {
		return nil, ErrUnsupportedURL
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp SoundCloudOEmbedResponse
	if err := fetchOEmbedJSON(ctx, p.client, p.oembedURL, rawURL, &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch oEmbed data: %w", err)
	}

	title, artist := parseSoundCloudTitle(&resp)
	return &TrackInfo{
		Platform: PlatformSoundCloud,
		ID:       soundCloudTrackPath(rawURL),
		Title:    title,
		Artist:   artist,
		URL:      rawURL,
	}, nil
}

// Search implements Provider.
func (p *SoundCloudProvider) Search(context.Context, string, int) ([]TrackInfo, error) {
	return nil, ErrSearchUnsupported
}

// parseSoundCloudTitle splits the usual "Track Title by Artist Name" oEmbed title.
func parseSoundCloudTitle(resp *SoundCloudOEmbedResponse) (title, artist string) {
	if strings.Contains(resp.Title, " by ") {
		parts := strings.SplitN(resp.Title, " by ", expectedSplitParts)
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(resp.Title), strings.TrimSpace(resp.AuthorName)
}

// soundCloudTrackPath returns "artist/track" which identifies a track on SoundCloud.
func soundCloudTrackPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.Trim(u.Path, "/")
}
