package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

var (
	spotifyTrackRegex = regexp.MustCompile(`(?:https?://)?(?:open\.)?spotify\.com/(?:intl-[a-z]+/)?track/([a-zA-Z0-9]+)`)
	spotifyURIRegex   = regexp.MustCompile(`^spotify:track:([a-zA-Z0-9]+)$`)
)

// SpotifyProvider resolves Spotify track links and searches the Spotify catalog.
// Spotify does not serve audio; the fetch pipeline finds a playable source by metadata.
type SpotifyProvider struct {
	client  *spotify.Client
	limiter *rate.Limiter
}

// NewSpotifyHTTPClient returns an HTTP client authenticated with the client credentials flow.
func NewSpotifyHTTPClient(ctx context.Context, clientID, clientSecret string) *http.Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	return cfg.Client(ctx)
}

// NewSpotifyProvider creates a Spotify provider over an authenticated HTTP client.
func NewSpotifyProvider(httpClient *http.Client) *SpotifyProvider {
	return &SpotifyProvider{
		client:  spotify.New(httpClient),
		limiter: newLimiter(),
	}
}

// Platform implements Provider.
func (p *SpotifyProvider) Platform() string { return PlatformSpotify }

// CanResolve checks if the URL is a Spotify track link or URI.
func (p *SpotifyProvider) CanResolve(rawURL string) bool {
	_, err := ExtractSpotifyTrackID(rawURL)
	return err == nil
}

// Lookup fetches a track by its link.
func (p *SpotifyProvider) Lookup(ctx context.Context, rawURL string) (*TrackInfo, error) {
	trackID, err := ExtractSpotifyTrackID(rawURL)
	if err != nil {
		return nil, err
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	track, err := p.client.GetTrack(ctx, spotify.ID(trackID))
	if err != nil {
		return nil, spotifyError("failed to get track", err)
	}

	info := convertSpotifyTrack(track)
	return &info, nil
}

// Search runs a Spotify track search.
func (p *SpotifyProvider) Search(ctx context.Context, query string, limit int) ([]TrackInfo, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	results, err := p.client.Search(ctx, query, spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, spotifyError("search failed", err)
	}

	if results.Tracks == nil || len(results.Tracks.Tracks) == 0 {
		return nil, ErrNotFound
	}

	tracks := make([]TrackInfo, 0, len(results.Tracks.Tracks))
	for i := range results.Tracks.Tracks {
		if len(tracks) >= limit {
			break
		}
		tracks = append(tracks, convertSpotifyTrack(&results.Tracks.Tracks[i]))
	}
	return tracks, nil
}

func spotifyError(msg string, err error) error {
	var apiErr spotify.Error
	if errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Status == http.StatusBadRequest) {
		return fmt.Errorf("%s: %w", msg, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func convertSpotifyTrack(track *spotify.FullTrack) TrackInfo {
	artists := make([]string, 0, len(track.Artists))
	for _, artist := range track.Artists {
		artists = append(artists, artist.Name)
	}

	return TrackInfo{
		Platform: PlatformSpotify,
		ID:       string(track.ID),
		Title:    track.Name,
		Artist:   strings.Join(artists, ", "),
		Duration: time.Duration(track.Duration) * time.Millisecond,
		URL:      track.ExternalURLs["spotify"],
		ISRC:     track.ExternalIDs["isrc"],
	}
}

// ExtractSpotifyTrackID extracts the track ID from a Spotify link or spotify:track: URI.
func ExtractSpotifyTrackID(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)

	if matches := spotifyURIRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	if host != "open.spotify.com" && host != "spotify.com" {
		return "", ErrUnsupportedURL
	}

	if matches := spotifyTrackRegex.FindStringSubmatch(rawURL); len(matches) > 1 {
		return matches[1], nil
	}
	return "", fmt.Errorf("no track ID in Spotify URL: %w", ErrUnsupportedURL)
}
