package musiclink

import (
	"context"
	"errors"
	"testing"
)

func newTestManager() *Manager {
	return NewManager(
		NewYouTubeProvider(),
		NewSpotifyProvider(nil),
		NewAppleMusicProvider(),
		NewSoundCloudProvider(),
		NewRessoProvider(),
		NewDirectProvider(),
	)
}

func TestManager_Match(t *testing.T) {
	manager := newTestManager()

	tests := []struct {
		name     string
		url      string
		expected string
	}{
		{"YouTube", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", PlatformYouTube},
		{"YouTube Music", "https://music.youtube.com/watch?v=dQw4w9WgXcQ", PlatformYouTube},
		{"Spotify", "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC", PlatformSpotify},
		{"Spotify URI", "spotify:track:4uLU6hMCjMI75M1A2tKUQC", PlatformSpotify},
		{"Apple Music", "https://music.apple.com/us/album/test/123?i=456", PlatformAppleMusic},
		{"SoundCloud", "https://soundcloud.com/artist/track", PlatformSoundCloud},
		{"Resso", "https://m.resso.com/track/7102345678", PlatformResso},
		{"Direct file", "https://example.com/audio/song.mp3", PlatformOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := manager.Match(tt.url)
			if p == nil {
				t.Fatalf("Match() = nil, want %s", tt.expected)
			}
			if p.Platform() != tt.expected {
				t.Errorf("Match() platform = %s, want %s", p.Platform(), tt.expected)
			}
		})
	}
}

func TestManager_NoProviderFound(t *testing.T) {
	manager := newTestManager()

	for _, raw := range []string{"", "not-a-url", "ftp://example.com/file"} {
		t.Run(raw, func(t *testing.T) {
			if manager.CanResolve(raw) {
				t.Errorf("CanResolve(%q) = true, want false", raw)
			}
			_, err := manager.Lookup(context.Background(), raw)
			if !errors.Is(err, ErrUnsupportedURL) {
				t.Errorf("Lookup() error = %v, want ErrUnsupportedURL", err)
			}
		})
	}
}

func TestManager_Provider(t *testing.T) {
	manager := newTestManager()

	if p := manager.Provider(PlatformSoundCloud); p == nil || p.Platform() != PlatformSoundCloud {
		t.Errorf("Provider(soundcloud) = %v", p)
	}
	if p := manager.Provider("tidal"); p != nil {
		t.Errorf("Provider(tidal) = %v, want nil", p)
	}
	if got := len(manager.Providers()); got != 6 {
		t.Errorf("Providers() len = %d, want 6", got)
	}
}

func TestDirectProvider_Lookup(t *testing.T) {
	provider := NewDirectProvider()

	info, err := provider.Lookup(context.Background(), "https://cdn.example.com/music/my-song.mp3")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if info.Title != "my-song" || info.ID != "https://cdn.example.com/music/my-song.mp3" {
		t.Errorf("unexpected track: %+v", info)
	}

	info, err = provider.Lookup(context.Background(), "https://radio.example.com")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if info.Title != "radio.example.com" {
		t.Errorf("Title = %q, want host", info.Title)
	}
}
