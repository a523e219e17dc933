package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"go.uber.org/zap"

	"groovecast/internal/core"
)

// ArtifactExt is the extension of transcoded artifacts in the cache directory.
const ArtifactExt = ".opus"

var (
	// ErrTooLong is returned for tracks over the configured maximum duration.
	ErrTooLong = errors.New("track exceeds maximum duration")
	// ErrTooShort is returned for tracks under the configured minimum duration.
	ErrTooShort = errors.New("track is shorter than minimum duration")
	// ErrTooLarge is returned for artifacts over the configured maximum size.
	ErrTooLarge = errors.New("artifact exceeds maximum size")
)

// Downloader fetches the source audio for a track into workDir.
type Downloader interface {
	Download(ctx context.Context, track core.TrackDescriptor, workDir string) (path string, duration time.Duration, err error)
}

// Transcoder converts a downloaded file into the streaming format.
type Transcoder interface {
	Transcode(ctx context.Context, input, output string) error
}

// Pipeline downloads, transcodes and size-checks a track. It implements Fetcher.
type Pipeline struct {
	downloader Downloader
	transcoder Transcoder
	config     core.CacheConfig
	logger     *zap.Logger
}

func NewPipeline(downloader Downloader, transcoder Transcoder, config core.CacheConfig, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		downloader: downloader,
		transcoder: transcoder,
		config:     config,
		logger:     logger,
	}
}

// Fetch writes the artifact to dest atomically. Limit violations are permanent.
func (p *Pipeline) Fetch(ctx context.Context, track core.TrackDescriptor, dest string) (*core.Artifact, error) {
	if err := p.checkDuration(track.Duration); err != nil {
		return nil, core.Permanent(err)
	}

	workDir, err := os.MkdirTemp(filepath.Dir(dest), ".fetch-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	start := time.Now()
	source, duration, err := p.downloader.Download(ctx, track, workDir)
	if err != nil {
		return nil, err
	}
	if err := p.checkDuration(duration); err != nil {
		return nil, core.Permanent(err)
	}

	tmp := filepath.Join(workDir, "out"+ArtifactExt)
	if err := p.transcoder.Transcode(ctx, source, tmp); err != nil {
		return nil, err
	}

	info, err := os.Stat(tmp)
	if err != nil {
		return nil, fmt.Errorf("transcoded file missing: %w", err)
	}
	if p.config.MaxFileBytes > 0 && info.Size() > p.config.MaxFileBytes {
		return nil, core.Permanent(fmt.Errorf("%w: %d bytes", ErrTooLarge, info.Size()))
	}
	if err := os.Rename(tmp, dest); err != nil {
		return nil, fmt.Errorf("failed to move artifact into place: %w", err)
	}

	if duration == 0 {
		duration = track.Duration
	}
	p.logger.Info("Track fetched",
		zap.String("fingerprint", track.Fingerprint),
		zap.String("title", track.Title),
		zap.Int64("size", info.Size()),
		zap.Duration("elapsed", time.Since(start)))

	return &core.Artifact{
		Fingerprint: track.Fingerprint,
		Path:        dest,
		Size:        info.Size(),
		Duration:    duration,
	}, nil
}

// checkDuration treats 0 as unknown.
func (p *Pipeline) checkDuration(d time.Duration) error {
	if p.config.MaxDuration > 0 && d > p.config.MaxDuration {
		return fmt.Errorf("%w: %s > %s", ErrTooLong, d, p.config.MaxDuration)
	}
	if p.config.MinDuration > 0 && d > 0 && d < p.config.MinDuration {
		return fmt.Errorf("%w: %s < %s", ErrTooShort, d, p.config.MinDuration)
	}
	return nil
}

// YTDLPDownloader downloads audio with yt-dlp. Tracks from catalogue-only
// platforms are matched to a YouTube upload by artist and title.
type YTDLPDownloader struct {
	proxy string
}

func NewYTDLPDownloader(proxy string) *YTDLPDownloader {
	return &YTDLPDownloader{proxy: proxy}
}

func (d *YTDLPDownloader) command() *ytdlp.Command {
	cmd := ytdlp.New().NoWarnings().IgnoreConfig().NoPlaylist()
	if d.proxy != "" {
		cmd = cmd.Proxy(d.proxy)
	}
	return cmd
}

func (d *YTDLPDownloader) Download(ctx context.Context, track core.TrackDescriptor, workDir string) (string, time.Duration, error) {
	source, err := sourceFor(track)
	if err != nil {
		return "", 0, core.Permanent(err)
	}

	res, err := d.command().
		Format("bestaudio[ext=webm]/bestaudio").
		Output(filepath.Join(workDir, "source.%(ext)s")).
		Print("after_move:%(duration)s").
		NoSimulate().
		NoPart().
		Run(ctx, source)
	if err != nil {
		stderr := ""
		if res != nil {
			stderr = strings.ToLower(res.Stderr)
		}
		if strings.Contains(stderr, "drm") || strings.Contains(stderr, "video unavailable") {
			return "", 0, core.Permanent(fmt.Errorf("yt-dlp: %w", err))
		}
		return "", 0, fmt.Errorf("yt-dlp: %w", err)
	}

	matches, _ := filepath.Glob(filepath.Join(workDir, "source.*"))
	if len(matches) == 0 {
		return "", 0, errors.New("yt-dlp produced no output file")
	}
	return matches[0], parseSeconds(res.Stdout), nil
}

// sourceFor maps a track to the input yt-dlp understands.
func sourceFor(track core.TrackDescriptor) (string, error) {
	switch track.Platform {
	case core.PlatformYouTube:
		return "https://www.youtube.com/watch?v=" + track.SourceID, nil
	case core.PlatformSpotify, core.PlatformAppleMusic, core.PlatformResso:
		query := track.Title
		if track.Artist != "" {
			query = track.Artist + " - " + track.Title
		}
		if strings.TrimSpace(query) == "" {
			return "", fmt.Errorf("no title to search for %s track %s", track.Platform, track.SourceID)
		}
		return "ytsearch1:" + query, nil
	default:
		if track.URL == "" {
			return "", fmt.Errorf("no URL for %s track %s", track.Platform, track.SourceID)
		}
		return track.URL, nil
	}
}

func parseSeconds(out string) time.Duration {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	secs, err := strconv.ParseFloat(strings.TrimSpace(lines[len(lines)-1]), 64)
	if err != nil {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}

// FFmpegTranscoder converts audio to loudness-normalised Opus, optionally
// shaped by an equalizer preset.
type FFmpegTranscoder struct {
	ffmpegPath string
	equalizer  string
	config     core.CacheConfig
}

// NewFFmpegTranscoder fails for an unknown preset.
func NewFFmpegTranscoder(config core.CacheConfig) (*FFmpegTranscoder, error) {
	path := config.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	t := &FFmpegTranscoder{ffmpegPath: path, config: config}
	if config.Preset != "" {
		eq, err := equalizerFilter(config.Preset)
		if err != nil {
			return nil, err
		}
		t.equalizer = eq
	}
	return t, nil
}

func (t *FFmpegTranscoder) Transcode(ctx context.Context, input, output string) error {
	if t.config.FFmpegTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.FFmpegTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, t.ffmpegPath, t.args(input, output)...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (t *FFmpegTranscoder) args(input, output string) []string {
	sampleRate := t.config.SampleRate
	if sampleRate <= 0 {
		sampleRate = core.DefaultSampleRate
	}
	channels := t.config.Channels
	if channels <= 0 {
		channels = core.DefaultChannels
	}
	bitrate := t.config.Bitrate
	if bitrate == "" {
		bitrate = "128k"
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", input,
		"-vn",
	}
	var filters []string
	if t.equalizer != "" {
		filters = append(filters, t.equalizer)
	}
	// loudnorm runs last so the preset's gain does not shift the target.
	if t.config.LoudnessTarget < 0 {
		filters = append(filters, fmt.Sprintf("loudnorm=I=%.1f:TP=-1.5:LRA=11", t.config.LoudnessTarget))
	}
	if len(filters) > 0 {
		args = append(args, "-af", strings.Join(filters, ","))
	}
	return append(args,
		"-ar", strconv.Itoa(sampleRate),
		"-ac", strconv.Itoa(channels),
		"-c:a", "libopus",
		"-b:a", bitrate,
		"-f", "opus",
		output,
	)
}
