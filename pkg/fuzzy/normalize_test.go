package fuzzy

import (
	"testing"
	"time"
)

// runStringTransformationTest is a helper to run tests for string transformation functions.
func runStringTransformationTest(t *testing.T, testName string,
	transformFunc func(string) string, testCases []struct {
		name     string
		input    string
		expected string
	}) {
	t.Helper()
	for _, tt := range testCases {
		t.Run(tt.name, func(t *testing.T) {
			result := transformFunc(tt.input)
			if result != tt.expected {
				t.Errorf("%s() = %q, want %q", testName, result, tt.expected)
			}
		})
	}
}

func TestNormalizer_NormalizeArtist(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple artist name", "The Beatles", "the beatles"},
		{"Artist with feat", "Artist feat. Someone", "artist feat. someone"},
		{"Artist with and", "Artist and Someone", "artist & someone"},
		{"Artist with vs", "Artist vs Someone", "artist vs. someone"},
		{"Artist with punctuation", "P!nk", "p nk"},
		{"Artist with accents", "Björk", "bjork"},
	}

	runStringTransformationTest(t, "NormalizeArtist", normalizer.NormalizeArtist, tests)
}

func TestNormalizer_NormalizeTitle(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple title", "Hey Jude", "hey jude"},
		{"Bracketed featuring", "Song Title (feat. Artist)", "song title"},
		{"Trailing featuring", "Song Title ft. Artist", "song title"},
		{"Remix", "Song Title (Remix)", "song title"},
		{"Named remix", "Song Title [Artist Remix]", "song title"},
		{"Remaster", "Song Title (Remastered)", "song title"},
		{"Dash version", "Song Title - Radio Edit", "song title"},
		{"Everything at once", "Hey Jude (Remastered 2009) [feat. Orchestra] - Radio Edit", "hey jude"},
		{"Punctuation", "Don't Stop Me Now!", "don t stop me now"},
		{"Multiple spaces", "Song    Title", "song title"},
		{"Dash without version", "Artist - Song", "artist song"},
	}

	runStringTransformationTest(t, "NormalizeTitle", normalizer.NormalizeTitle, tests)
}

func TestNormalizer_basicNormalize(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Simple text", "Hello World", "hello world"},
		{"Punctuation", "Hello, World!", "hello world"},
		{"Accents", "Café", "cafe"},
		{"Leading and trailing spaces", "  Hello World  ", "hello world"},
		{"Mixed punctuation and spaces", "Hello,  World!!!", "hello world"},
	}

	runStringTransformationTest(t, "basicNormalize", normalizer.basicNormalize, tests)
}

func TestNormalizer_CalculateSimilarity(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		s1       string
		s2       string
		expected float64
		delta    float64
	}{
		{"Identical strings", "hello", "hello", 1.0, 0.0},
		{"Completely different strings", "hello", "world", 0.2, 0.01},
		{"Similar strings", "hello", "hallo", 0.8, 0.01},
		{"Empty strings", "", "", 1.0, 0.0},
		{"One empty string", "hello", "", 0.0, 0.0},
		{"Substring", "hello world", "hello", 0.45, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizer.CalculateSimilarity(tt.s1, tt.s2)
			if abs64(result-tt.expected) > tt.delta {
				t.Errorf("CalculateSimilarity() = %f, want %f (±%f)", result, tt.expected, tt.delta)
			}
		})
	}
}

func TestNormalizer_MatchScore(t *testing.T) {
	normalizer := NewNormalizer()

	exact := normalizer.MatchScore("bohemian rhapsody", "Bohemian Rhapsody (Remastered 2011)", "Queen")
	if exact != 1.0 {
		t.Errorf("MatchScore() title-only query = %f, want 1.0", exact)
	}

	withArtist := normalizer.MatchScore("queen bohemian rhapsody", "Bohemian Rhapsody", "Queen")
	if withArtist != 1.0 {
		t.Errorf("MatchScore() artist-first query = %f, want 1.0", withArtist)
	}

	reversed := normalizer.MatchScore("bohemian rhapsody queen", "Bohemian Rhapsody", "Queen")
	if reversed != 1.0 {
		t.Errorf("MatchScore() artist-last query = %f, want 1.0", reversed)
	}

	unrelated := normalizer.MatchScore("bohemian rhapsody", "Never Gonna Give You Up", "Rick Astley")
	if unrelated >= 0.35 {
		t.Errorf("MatchScore() unrelated = %f, want < 0.35", unrelated)
	}
}

func TestNormalizer_DurationTolerance(t *testing.T) {
	normalizer := NewNormalizer()

	tests := []struct {
		name     string
		d1       time.Duration
		d2       time.Duration
		expected float64
		delta    float64
	}{
		{"Identical durations", 3 * time.Minute, 3 * time.Minute, 1.0, 0.0},
		{"Within tolerance", 3 * time.Minute, 3*time.Minute + 20*time.Second, 1.0, 0.0},
		{"Just outside tolerance", 3 * time.Minute, 3*time.Minute + 40*time.Second, 0.9, 0.1},
		{"Very different durations", 1 * time.Minute, 5 * time.Minute, 0.0, 0.0},
		{"Negative difference", 4 * time.Minute, 3 * time.Minute, 0.667, 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := normalizer.DurationTolerance(tt.d1, tt.d2)
			if abs64(result-tt.expected) > tt.delta {
				t.Errorf("DurationTolerance() = %f, want %f (±%f)", result, tt.expected, tt.delta)
			}
		})
	}
}

func BenchmarkNormalizer_MatchScore(b *testing.B) {
	normalizer := NewNormalizer()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		normalizer.MatchScore("queen bohemian rhapsody", "Bohemian Rhapsody (Remastered 2011)", "Queen")
	}
}

// Helper function for floating point comparison.
func abs64(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
