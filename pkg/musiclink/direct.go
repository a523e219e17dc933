package musiclink

import (
	"context"
	"net/url"
	"path"
	"strings"
)

// DirectProvider accepts any http(s) URL not claimed by a platform provider.
// The URL itself is the identifier and is handed to the downloader unchanged.
type DirectProvider struct{}

// NewDirectProvider creates the catch-all provider.
func NewDirectProvider() *DirectProvider {
	return &DirectProvider{}
}

// Platform implements Provider.
func (p *DirectProvider) Platform() string { return PlatformOther }

// CanResolve accepts absolute http and https URLs.
func (p *DirectProvider) CanResolve(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Lookup derives a title from the last path element.
func (p *DirectProvider) Lookup(_ context.Context, rawURL string) (*TrackInfo, error) {
	if !p.CanResolve(rawURL) {
		return nil, ErrUnsupportedURL
	}
	u, _ := url.Parse(rawURL)

	title := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	if title == "" || title == "." || title == "/" {
		title = u.Host
	}

	return &TrackInfo{
		Platform: PlatformOther,
		ID:       rawURL,
		Title:    title,
		URL:      rawURL,
	}, nil
}

// Search implements Provider.
func (p *DirectProvider) Search(context.Context, string, int) ([]TrackInfo, error) {
	return nil, ErrSearchUnsupported
}
