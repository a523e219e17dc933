package musiclink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/lrstanley/go-ytdlp"
	"golang.org/x/time/rate"
)

const (
	// youtubeWatchURL is the canonical watch URL prefix.
	youtubeWatchURL = "https://www.youtube.com/watch?v="
	// youtubeSearchFields is the number of tab-separated fields printed per search hit.
	youtubeSearchFields = 4
)

var (
	camelCaseRegex = regexp.MustCompile(`([a-z])([A-Z])`)

	// Common video-only decorations removed from titles.
	titleNoiseRegexes = func() []*regexp.Regexp {
		patterns := []string{
			`\(Official Video\)`,
			`\(Official Music Video\)`,
			`\(Official Audio\)`,
			`\(Lyric Video\)`,
			`\(Lyrics\)`,
			`\[Official Video\]`,
			`\[Official Music Video\]`,
			`\[Official Audio\]`,
			`\[Lyric Video\]`,
			`\[Lyrics\]`,
			`\(HD\)`,
			`\[HD\]`,
			`\(4K\)`,
			`\[4K\]`,
		}
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			out = append(out, regexp.MustCompile(`(?i)`+p))
		}
		return out
	}()
)

// YouTubeSearchFunc performs a free-text YouTube search.
type YouTubeSearchFunc func(ctx context.Context, query string, limit int) ([]TrackInfo, error)

// YouTubeProvider looks up YouTube and YouTube Music links and searches YouTube.
type YouTubeProvider struct {
	client  *youtube.Client
	search  YouTubeSearchFunc
	limiter *rate.Limiter
}

// NewYouTubeProvider creates a YouTube provider. Lookups use the YouTube player API,
// searches shell out to yt-dlp.
func NewYouTubeProvider() *YouTubeProvider {
	return &YouTubeProvider{
		client:  &youtube.Client{HTTPClient: newHTTPClient()},
		search:  ytdlpSearch,
		limiter: newLimiter(),
	}
}

// WithSearch replaces the search backend.
func (p *YouTubeProvider) WithSearch(fn YouTubeSearchFunc) *YouTubeProvider {
	p.search = fn
	return p
}

// Platform implements Provider.
func (p *YouTubeProvider) Platform() string { return PlatformYouTube }

// CanResolve checks if the URL is a YouTube or YouTube Music link.
func (p *YouTubeProvider) CanResolve(rawURL string) bool {
	return hostIn(rawURL, "youtube.com", "www.youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be")
}

// Lookup fetches video metadata for a YouTube URL.
func (p *YouTubeProvider) Lookup(ctx context.Context, rawURL string) (*TrackInfo, error) {
	if !p.CanResolve(rawURL) {
		return nil, ErrUnsupportedURL
	}

	videoID, err := extractVideoID(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to extract video ID: %w", err)
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	video, err := p.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch video %s: %w", videoID, err)
	}

	return &TrackInfo{
		Platform: PlatformYouTube,
		ID:       video.ID,
		Title:    cleanTitle(video.Title),
		Artist:   extractArtist(video.Title, video.Author),
		Duration: video.Duration,
		URL:      youtubeWatchURL + video.ID,
	}, nil
}

// Search runs a YouTube search for the query.
func (p *YouTubeProvider) Search(ctx context.Context, query string, limit int) ([]TrackInfo, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	results, err := p.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrNotFound
	}
	return results, nil
}

// ytdlpSearch uses yt-dlp's ytsearch extractor in flat mode.
func ytdlpSearch(ctx context.Context, query string, limit int) ([]TrackInfo, error) {
	res, err := ytdlp.New().
		Quiet().
		NoWarnings().
		IgnoreConfig().
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(uploader)s\t%(duration)s").
		Run(ctx, fmt.Sprintf("ytsearch%d:%s", limit, query))
	if err != nil {
		return nil, fmt.Errorf("yt-dlp search failed: %w", err)
	}
	return parseSearchOutput(res.Stdout), nil
}

// parseSearchOutput parses "id\ttitle\tuploader\tduration" lines.
func parseSearchOutput(out string) []TrackInfo {
	var results []TrackInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.Split(line, "\t")
		if len(parts) < youtubeSearchFields || parts[0] == "" {
			continue
		}
		var duration time.Duration
		if secs, err := strconv.ParseFloat(parts[3], 64); err == nil {
			duration = time.Duration(secs * float64(time.Second))
		}
		results = append(results, TrackInfo{
			Platform: PlatformYouTube,
			ID:       parts[0],
			Title:    cleanTitle(parts[1]),
			Artist:   extractArtist(parts[1], parts[2]),
			Duration: duration,
			URL:      youtubeWatchURL + parts[0],
		})
	}
	return results
}

// extractVideoID extracts the YouTube video ID from various URL formats.
func extractVideoID(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}

	if strings.ToLower(u.Hostname()) == "youtu.be" {
		path := strings.Trim(u.Path, "/")
		if path == "" {
			return "", errors.New("no video ID in youtu.be URL")
		}
		return path, nil
	}

	if strings.HasPrefix(u.Path, "/shorts/") {
		if id := strings.Trim(strings.TrimPrefix(u.Path, "/shorts/"), "/"); id != "" {
			return id, nil
		}
	}

	videoID := u.Query().Get("v")
	if videoID == "" {
		return "", errors.New("no video ID in YouTube URL")
	}
	return videoID, nil
}

// cleanTitle removes common YouTube video metadata from titles.
func cleanTitle(title string) string {
	cleaned := title
	for _, re := range titleNoiseRegexes {
		cleaned = re.ReplaceAllString(cleaned, "")
	}
	return strings.TrimSpace(cleaned)
}

// extractArtist attempts to extract the artist name from title and channel name.
func extractArtist(title, authorName string) string {
	if strings.HasSuffix(authorName, "VEVO") {
		// "RickAstleyVEVO" -> "Rick Astley".
		return camelCaseRegex.ReplaceAllString(strings.TrimSuffix(authorName, "VEVO"), "$1 $2")
	}

	if strings.HasSuffix(authorName, " - Topic") {
		return strings.TrimSuffix(authorName, " - Topic")
	}

	// "Artist - Song Title" is the most common upload format.
	if strings.Contains(title, " - ") {
		parts := strings.SplitN(title, " - ", expectedSplitParts)
		return strings.TrimSpace(parts[0])
	}

	return authorName
}
