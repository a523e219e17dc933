package main

import (
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"

	"groovecast/internal/core"
)

func TestFlagToEnvVar(t *testing.T) {
	tests := []struct {
		flag string
		want string
	}{
		{"cache-dir", "GROOVECAST_CACHE_DIR"},
		{"log-level", "GROOVECAST_LOG_LEVEL"},
		{"redis-ttl", "GROOVECAST_REDIS_TTL"},
	}
	for _, tt := range tests {
		if got := flagToEnvVar(tt.flag); got != tt.want {
			t.Errorf("flagToEnvVar(%q) = %q, want %q", tt.flag, got, tt.want)
		}
	}
}

func TestParsePlatforms(t *testing.T) {
	got := parsePlatforms(" spotify, youtube,,bogus ")
	want := []core.Platform{core.PlatformSpotify, core.PlatformYouTube}
	if len(got) != len(want) {
		t.Fatalf("parsePlatforms() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("parsePlatforms()[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if joined := joinPlatforms(want); joined != "spotify,youtube" {
		t.Errorf("joinPlatforms() = %q", joined)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"WARN", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"info", zapcore.InfoLevel},
		{"nonsense", zapcore.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.level); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestGenerateEnvExampleContent(t *testing.T) {
	content := generateEnvExampleContent(rootCmd)

	for _, section := range envSections {
		for _, e := range section.entries {
			if rootCmd.PersistentFlags().Lookup(e.flag) == nil {
				t.Errorf("env example lists unknown flag %q", e.flag)
			}
			if !strings.Contains(content, flagToEnvVar(e.flag)+"=") {
				t.Errorf("env example missing %s", flagToEnvVar(e.flag))
			}
		}
	}

	if !strings.Contains(content, "GROOVECAST_STORE_BACKEND=memory") {
		t.Error("env example should carry the default store backend")
	}
	if !strings.Contains(content, "GROOVECAST_STORAGE_ENDPOINT=localhost:9000") {
		t.Error("env example should carry the storage endpoint example")
	}
}
