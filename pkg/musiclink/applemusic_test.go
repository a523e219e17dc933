package musiclink

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

//nolint:dupl // CanResolve tests intentionally follow the same pattern across all providers.
func TestAppleMusicProvider_CanResolve(t *testing.T) {
	provider := NewAppleMusicProvider()

	tests := []struct {
		name     string
		url      string
		expected bool
	}{
		{"Apple Music album track", "https://music.apple.com/us/album/test/123?i=456", true},
		{"Apple Music song", "https://music.apple.com/us/song/test/456", true},
		{"Legacy iTunes", "https://itunes.apple.com/us/album/test/123?i=456", true},
		{"Spotify URL", "https://open.spotify.com/track/123", false},
		{"Unrelated", "https://apple.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := provider.CanResolve(tt.url); got != tt.expected {
				t.Errorf("CanResolve() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestExtractAppleTrackID(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		expectedID  string
		expectError bool
	}{
		{"Album with track param", "https://music.apple.com/us/album/never-gonna/1558533900?i=1558534271", "1558534271", false},
		{"Song link", "https://music.apple.com/us/song/never-gonna-give-you-up/1558534271", "1558534271", false},
		{"Album without track", "https://music.apple.com/us/album/never-gonna/1558533900", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := extractAppleTrackID(tt.url)
			if (err != nil) != tt.expectError {
				t.Fatalf("extractAppleTrackID() error = %v, expectError %v", err, tt.expectError)
			}
			if id != tt.expectedID {
				t.Errorf("extractAppleTrackID() = %q, want %q", id, tt.expectedID)
			}
		})
	}
}

func newITunesServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/lookup":
			if r.URL.Query().Get("id") != "42" {
				_, _ = w.Write([]byte(`{"resultCount":0,"results":[]}`))
				return
			}
			_, _ = w.Write([]byte(`{"resultCount":1,"results":[{"wrapperType":"track","trackId":42,` +
				`"trackName":"Song","artistName":"Artist","trackTimeMillis":200000,` +
				`"trackViewUrl":"https://music.apple.com/us/song/song/42"}]}`))
		case "/search":
			if r.URL.Query().Get("term") != "song artist" {
				_, _ = w.Write([]byte(`{"resultCount":0,"results":[]}`))
				return
			}
			_, _ = w.Write([]byte(`{"resultCount":2,"results":[` +
				`{"trackId":1,"trackName":"Song","artistName":"Artist","trackTimeMillis":1000},` +
				`{"trackId":2,"trackName":"Song (Live)","artistName":"Artist","trackTimeMillis":2000}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestAppleMusicProvider_Lookup(t *testing.T) {
	server := newITunesServer(t)
	defer server.Close()

	provider := NewAppleMusicProvider().WithBaseURL(server.URL)

	info, err := provider.Lookup(context.Background(), "https://music.apple.com/us/album/x/1?i=42")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if info.ID != "42" || info.Title != "Song" || info.Artist != "Artist" {
		t.Errorf("unexpected track: %+v", info)
	}
	if info.Duration != 200*time.Second {
		t.Errorf("Duration = %v, want 200s", info.Duration)
	}
	if info.Platform != PlatformAppleMusic {
		t.Errorf("Platform = %q", info.Platform)
	}

	_, err = provider.Lookup(context.Background(), "https://music.apple.com/us/album/x/1?i=7")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup() unknown id error = %v, want ErrNotFound", err)
	}
}

func TestAppleMusicProvider_Search(t *testing.T) {
	server := newITunesServer(t)
	defer server.Close()

	provider := NewAppleMusicProvider().WithBaseURL(server.URL)

	tracks, err := provider.Search(context.Background(), "song artist", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(tracks) != 2 || tracks[0].ID != "1" || tracks[1].ID != "2" {
		t.Errorf("unexpected results: %+v", tracks)
	}

	_, err = provider.Search(context.Background(), "nothing", 5)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Search() empty error = %v, want ErrNotFound", err)
	}
}
