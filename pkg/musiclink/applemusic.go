package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// iTunesBaseURL is the iTunes/Apple Music API root.
const iTunesBaseURL = "https://itunes.apple.com"

// iTunesResponse represents the response from the iTunes lookup and search APIs.
type iTunesResponse struct {
	ResultCount int                 `json:"resultCount"`
	Results     []iTunesTrackResult `json:"results"`
}

// iTunesTrackResult represents a track result from iTunes API.
type iTunesTrackResult struct {
	WrapperType     string `json:"wrapperType"`
	TrackID         int64  `json:"trackId"`
	TrackName       string `json:"trackName"`
	ArtistName      string `json:"artistName"`
	TrackTimeMillis int64  `json:"trackTimeMillis"`
	TrackViewURL    string `json:"trackViewUrl"`
	ISRC            string `json:"isrc"`
}

func (r *iTunesTrackResult) toTrackInfo() TrackInfo {
	return TrackInfo{
		Platform: PlatformAppleMusic,
		ID:       strconv.FormatInt(r.TrackID, 10),
		Title:    r.TrackName,
		Artist:   r.ArtistName,
		Duration: time.Duration(r.TrackTimeMillis) * time.Millisecond,
		URL:      r.TrackViewURL,
		ISRC:     r.ISRC,
	}
}

// AppleMusicProvider resolves Apple Music links and searches the iTunes catalog.
type AppleMusicProvider struct {
	client  *http.Client
	baseURL string
	limiter *rate.Limiter
}

// NewAppleMusicProvider creates a new Apple Music provider.
func NewAppleMusicProvider() *AppleMusicProvider {
	return &AppleMusicProvider{
		client:  newHTTPClient(),
		baseURL: iTunesBaseURL,
		limiter: newLimiter(),
	}
}

// WithBaseURL points the provider at a different iTunes API root.
func (p *AppleMusicProvider) WithBaseURL(baseURL string) *AppleMusicProvider {
	p.baseURL = strings.TrimRight(baseURL, "/")
	return p
}

// Platform implements Provider.
func (p *AppleMusicProvider) Platform() string { return PlatformAppleMusic }

// CanResolve checks if the URL is an Apple Music link.
func (p *AppleMusicProvider) CanResolve(rawURL string) bool {
	return hostIn(rawURL, "music.apple.com", "itunes.apple.com")
}

// Lookup extracts track information from an Apple Music URL using the iTunes API.
func (p *AppleMusicProvider) Lookup(ctx context.Context, rawURL string) (*TrackInfo, error) {
	if !p.CanResolve(rawURL) {
		return nil, ErrUnsupportedURL
	}

	trackID, err := extractAppleTrackID(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract track ID: %w", err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp iTunesResponse
	reqURL := fmt.Sprintf("%s/lookup?id=%s&entity=song", p.baseURL, url.QueryEscape(trackID))
	if err := fetchJSON(ctx, p.client, reqURL, "iTunes API", &resp); err != nil {
		return nil, err
	}

	for i := range resp.Results {
		if resp.Results[i].TrackName != "" {
			info := resp.Results[i].toTrackInfo()
			if info.URL == "" {
				info.URL = rawURL
			}
			return &info, nil
		}
	}
	return nil, fmt.Errorf("iTunes track %s: %w", trackID, ErrNotFound)
}

// Search queries the iTunes catalog for songs.
func (p *AppleMusicProvider) Search(ctx context.Context, query string, limit int) ([]TrackInfo, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var resp iTunesResponse
	reqURL := fmt.Sprintf("%s/search?term=%s&entity=song&limit=%d", p.baseURL, url.QueryEscape(query), limit)
	if err := fetchJSON(ctx, p.client, reqURL, "iTunes API", &resp); err != nil {
		return nil, err
	}

	var tracks []TrackInfo
	for i := range resp.Results {
		if resp.Results[i].TrackName == "" {
			continue
		}
		tracks = append(tracks, resp.Results[i].toTrackInfo())
	}
	if len(tracks) == 0 {
		return nil, ErrNotFound
	}
	return tracks, nil
}

// extractAppleTrackID extracts the track ID from an Apple Music URL.
func extractAppleTrackID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	// Album links carry the track in ?i=<trackId>.
	if trackID := u.Query().Get("i"); trackID != "" {
		return trackID, nil
	}

	// Direct song links: /us/song/<song-name>/<song-id>.
	if strings.Contains(u.Path, "/song/") {
		if songID := lastPathSegment(rawURL); songID != "" {
			return songID, nil
		}
	}

	return "", errors.New("no track ID found in Apple Music URL")
}
