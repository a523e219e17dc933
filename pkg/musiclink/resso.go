package musiclink

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/time/rate"
)

const (
	// ressoTitleSuffix is appended to every Resso page title.
	ressoTitleSuffix = " | Resso"
	// ressoTitleSeparator separates track and artist in Resso page titles.
	ressoTitleSeparator = " - "
)

// RessoProvider resolves Resso share links by reading the track page title.
type RessoProvider struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewRessoProvider creates a new Resso provider.
func NewRessoProvider() *RessoProvider {
	return &RessoProvider{
		client:  newHTTPClient(),
		limiter: newLimiter(),
	}
}

// Platform implements Provider.
func (p *RessoProvider) Platform() string { return PlatformResso }

// CanResolve checks if the URL is a Resso link.
func (p *RessoProvider) CanResolve(rawURL string) bool {
	return hostIn(rawURL, "resso.com", "www.resso.com", "m.resso.com", "resso.app")
}

// Lookup scrapes the track page for title and artist.
func (p *RessoProvider) Lookup(ctx context.Context, rawURL string) (*TrackInfo, error) {
	if !p.CanResolve(rawURL) {
		return nil, ErrUnsupportedURL
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	html, err := fetchHTMLFromURL(ctx, p.client, rawURL, "Resso")
	if err != nil {
		return nil, err
	}

	title, artist := extractTitleAndArtistFromTitleTag(html, ressoTitleSuffix, ressoTitleSeparator)
	if title == "" {
		return nil, fmt.Errorf("no title on Resso page: %w", ErrNotFound)
	}

	return &TrackInfo{
		Platform: PlatformResso,
		ID:       lastPathSegment(rawURL),
		Title:    title,
		Artist:   artist,
		URL:      rawURL,
	}, nil
}

// Search implements Provider.
func (p *RessoProvider) Search(context.Context, string, int) ([]TrackInfo, error) {
	return nil, ErrSearchUnsupported
}
