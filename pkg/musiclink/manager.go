package musiclink

import (
	"context"
	"fmt"
)

// Manager dispatches URLs to the provider that owns them.
type Manager struct {
	providers []Provider
}

// NewManager creates a manager over the given providers. Order matters: the first
// provider whose CanResolve matches handles a URL, so catch-all providers go last.
func NewManager(providers ...Provider) *Manager {
	return &Manager{providers: providers}
}

// Providers returns the registered providers in dispatch order.
func (m *Manager) Providers() []Provider {
	out := make([]Provider, len(m.providers))
	copy(out, m.providers)
	return out
}

// Provider returns the provider registered for a platform, or nil.
func (m *Manager) Provider(platform string) Provider {
	for _, p := range m.providers {
		if p.Platform() == platform {
			return p
		}
	}
	return nil
}

// Match returns the first provider that can handle the URL, or nil.
func (m *Manager) Match(url string) Provider {
	for _, p := range m.providers {
		if p.CanResolve(url) {
			return p
		}
	}
	return nil
}

// Lookup resolves a URL using the matching provider.
func (m *Manager) Lookup(ctx context.Context, url string) (*TrackInfo, error) {
	p := m.Match(url)
	if p == nil {
		return nil, fmt.Errorf("no provider found for URL: %w", ErrUnsupportedURL)
	}
	return p.Lookup(ctx, url)
}

// CanResolve checks if any provider can handle the given URL.
func (m *Manager) CanResolve(url string) bool {
	return m.Match(url) != nil
}
