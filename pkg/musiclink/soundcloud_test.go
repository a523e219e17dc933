package musiclink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

//nolint:dupl // CanResolve tests intentionally follow the same pattern across all providers.
func TestSoundCloudProvider_CanResolve(t *testing.T) {
	provider := NewSoundCloudProvider()

	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"soundcloud.com", "https://soundcloud.com/artist/track-name", true},
		{"www", "https://www.soundcloud.com/artist/track-name", true},
		{"mobile", "https://m.soundcloud.com/artist/track-name", true},
		{"short link", "https://on.soundcloud.com/abc123", true},
		{"query parameters", "https://soundcloud.com/artist/track?in=artist/sets/playlist", true},
		{"non-SoundCloud", "https://example.com", false},
		{"malformed", "not-a-valid-url", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := provider.CanResolve(tt.url); got != tt.expected {
				t.Errorf("CanResolve() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseSoundCloudTitle(t *testing.T) {
	tests := []struct {
		name           string
		resp           SoundCloudOEmbedResponse
		expectedTitle  string
		expectedArtist string
	}{
		{
			name:           "title with by",
			resp:           SoundCloudOEmbedResponse{Title: "Flickermood by Forss", AuthorName: "Forss"},
			expectedTitle:  "Flickermood",
			expectedArtist: "Forss",
		},
		{
			name:           "fallback to author",
			resp:           SoundCloudOEmbedResponse{Title: " Untitled ", AuthorName: " Someone "},
			expectedTitle:  "Untitled",
			expectedArtist: "Someone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			title, artist := parseSoundCloudTitle(&tt.resp)
			if title != tt.expectedTitle || artist != tt.expectedArtist {
				t.Errorf("parseSoundCloudTitle() = (%q, %q), want (%q, %q)",
					title, artist, tt.expectedTitle, tt.expectedArtist)
			}
		})
	}
}

func TestSoundCloudProvider_Lookup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") != "https://soundcloud.com/forss/flickermood" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"title":"Flickermood by Forss","author_name":"Forss"}`))
	}))
	defer server.Close()

	provider := NewSoundCloudProvider().WithOEmbedURL(server.URL)

	info, err := provider.Lookup(context.Background(), "https://soundcloud.com/forss/flickermood")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if info.ID != "forss/flickermood" || info.Title != "Flickermood" || info.Artist != "Forss" {
		t.Errorf("unexpected track: %+v", info)
	}

	_, err = provider.Lookup(context.Background(), "https://soundcloud.com/forss/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() missing error = %v, want ErrNotFound", err)
	}

	if _, err := provider.Search(context.Background(), "q", 1); !errors.Is(err, ErrSearchUnsupported) {
		t.Errorf("Search() error = %v, want ErrSearchUnsupported", err)
	}
}
