package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

type envEntry struct {
	flag    string
	example string
	comment string
}

type envSection struct {
	title   string
	note    string
	entries []envEntry
}

var envSections = []envSection{
	{
		title: "Resolver",
		note:  "Platforms: youtube, spotify, applemusic, soundcloud, resso",
		entries: []envEntry{
			{flag: "resolver-priority", comment: "Platform order for search results"},
			{flag: "resolver-platform-timeout", comment: "Timeout per platform call"},
			{flag: "resolver-attempts", comment: "Attempts per platform call"},
			{flag: "resolver-search-limit", comment: "Candidates per platform search"},
			{flag: "resolver-min-confidence", comment: "Score needed to pick a match without asking"},
		},
	},
	{
		title: "Spotify (optional)",
		note:  "Get these from https://developer.spotify.com/dashboard",
		entries: []envEntry{
			{flag: "spotify-client-id", example: "your_spotify_client_id_here", comment: "Spotify app client ID"},
			{flag: "spotify-client-secret", example: "your_spotify_client_secret_here", comment: "Spotify app client secret"},
		},
	},
	{
		title: "Fetch cache",
		note:  "Requires yt-dlp and ffmpeg on PATH",
		entries: []envEntry{
			{flag: "cache-dir", comment: "Directory for transcoded artifacts"},
			{flag: "cache-fetch-workers", comment: "Concurrent download/transcode jobs"},
			{flag: "cache-fetch-timeout", comment: "Timeout for one fetch"},
			{flag: "cache-fetch-attempts", comment: "Attempts per fetch"},
			{flag: "cache-idle-ttl", comment: "Evict unused artifacts after this long"},
			{flag: "cache-sweep-interval", comment: "Idle sweep interval"},
			{flag: "cache-max-bytes", comment: "Total size before LRU eviction"},
			{flag: "cache-max-entries", comment: "Artifact count before LRU eviction"},
			{flag: "cache-min-duration", comment: "Refuse shorter tracks"},
			{flag: "cache-max-duration", comment: "Refuse longer tracks"},
			{flag: "cache-max-file-bytes", comment: "Refuse larger artifacts"},
			{flag: "ffmpeg-path", comment: "ffmpeg binary"},
			{flag: "loudness-target", comment: "LUFS, 0 disables normalisation"},
			{flag: "audio-bitrate", comment: "Opus bitrate"},
			{flag: "audio-preset", example: "", comment: "Equalizer preset, empty disables it"},
			{flag: "ytdlp-proxy", example: "", comment: "Proxy for yt-dlp"},
		},
	},
	{
		title: "Playback",
		entries: []envEntry{
			{flag: "stream-open-timeout", comment: "Timeout for opening a stream"},
			{flag: "stream-attempts", comment: "Attempts to open a stream"},
			{flag: "max-sink-failures", comment: "Consecutive failures before a session stops"},
			{flag: "sink-max-streams", comment: "Concurrent streams, 0 is unbounded"},
			{flag: "sink-speed", comment: "Loopback sink playback speed"},
			{flag: "session-idle-timeout", comment: "Close idle sessions after this long"},
			{flag: "command-timeout", comment: "Timeout for one session command"},
			{flag: "session-max-queue", comment: "Pending tracks per session, 0 is unbounded"},
		},
	},
	{
		title: "Queue state",
		note:  "Backends: memory, sqlite, redis, none",
		entries: []envEntry{
			{flag: "store-backend", comment: "Where queue state survives restarts"},
			{flag: "sqlite-path", comment: "SQLite database"},
			{flag: "redis-addr", comment: "Redis address"},
			{flag: "redis-password", example: "", comment: "Redis password"},
			{flag: "redis-db", comment: "Redis database"},
			{flag: "redis-ttl", comment: "Expiry of saved queues"},
		},
	},
	{
		title: "Shared artifact storage (optional)",
		entries: []envEntry{
			{flag: "storage-enabled", comment: "Share artifacts through S3-compatible storage"},
			{flag: "storage-endpoint", example: "localhost:9000", comment: "Endpoint host:port"},
			{flag: "storage-access-key", example: "minioadmin", comment: "Access key"},
			{flag: "storage-secret-key", example: "minioadmin", comment: "Secret key"},
			{flag: "storage-bucket", comment: "Bucket"},
			{flag: "storage-region", comment: "Region"},
			{flag: "storage-use-ssl", comment: "Use TLS"},
		},
	},
	{
		title: "Application",
		entries: []envEntry{
			{flag: "language", comment: "Notification language"},
			{flag: "play-limit", comment: "Play requests per user per window, 0 disables"},
			{flag: "play-window", comment: "Window for the play limit"},
		},
	},
	{
		title: "Server",
		entries: []envEntry{
			{flag: "server-host", comment: "HTTP server host"},
			{flag: "server-port", comment: "HTTP server port"},
		},
	},
	{
		title: "Logging",
		entries: []envEntry{
			{flag: "log-level", comment: "debug, info, warn, error"},
			{flag: "log-file", example: "", comment: "Rotated log file, empty logs to stderr only"},
			{flag: "log-max-size-mb", comment: "Rotate after this many megabytes"},
			{flag: "log-max-backups", comment: "Rotated files to keep"},
			{flag: "log-max-age-days", comment: "Days to keep rotated files"},
		},
	},
}

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("✅ Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# groovecast Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	fmt.Fprintf(&content, "# Format: %s_<SECTION>_<SETTING>=value\n", envPrefix)
	content.WriteString("# CLI equivalent: --<section>-<setting>\n")
	content.WriteString("#\n\n")

	for _, section := range envSections {
		generateSection(&content, cmd, section)
	}
	return content.String()
}

func generateSection(content *strings.Builder, cmd *cobra.Command, section envSection) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", section.title)
	content.WriteString("# -----------------------------------------------------------------------------\n")
	if section.note != "" {
		fmt.Fprintf(content, "# %s\n", section.note)
	}

	flags := make([]string, len(section.entries))
	for i, e := range section.entries {
		flags[i] = "--" + e.flag
	}
	fmt.Fprintf(content, "# CLI: %s\n", strings.Join(flags, ", "))

	for _, e := range section.entries {
		def := getDefaultValueString(cmd, e.flag)
		value := e.example
		if value == "" {
			value = def
		}
		if def != "" {
			fmt.Fprintf(content, "%s=%s  # %s (default: %s)\n", flagToEnvVar(e.flag), value, e.comment, def)
		} else {
			fmt.Fprintf(content, "%s=%s  # %s\n", flagToEnvVar(e.flag), value, e.comment)
		}
	}
	content.WriteString("\n")
}

func flagToEnvVar(flagName string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

func getDefaultValueString(cmd *cobra.Command, flagName string) string {
	if f := cmd.PersistentFlags().Lookup(flagName); f != nil {
		return f.DefValue
	}
	return ""
}
