// Package main provides the groovecast CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"groovecast/internal/cache"
	"groovecast/internal/core"
	"groovecast/internal/flood"
	httpserver "groovecast/internal/http"
	"groovecast/internal/i18n"
	"groovecast/internal/notify"
	"groovecast/internal/resolver"
	"groovecast/internal/sink"
	"groovecast/internal/storage"
	"groovecast/internal/store"
	"groovecast/pkg/musiclink"
)

const (
	envPrefix          = "GROOVECAST"
	notifyBuffer       = 256
	artifactIndexRatio = 2
	artifactFPRate     = 0.001
)

var (
	cfgFile    string
	config     *core.Config
	sinkConfig sink.Config
	logger     *zap.Logger
	logLevel   = zap.NewAtomicLevel()
)

var rootCmd = &cobra.Command{
	Use:   "groovecast",
	Short: "groovecast - playback orchestration for voice chats",
	Long: `groovecast resolves play requests against several music platforms, downloads and
transcodes the audio once, and drives one playback session per chat with its own queue,
loop mode and retry policy.`,
	RunE: runGroovecast,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	d := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "env file (default is .env)")
	flags.String("config-file", "", "optional YAML config file, watched for log level changes")
	flags.String("log-level", d.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-file", "", "also write logs to this file, rotated")
	flags.Int("log-max-size-mb", d.Log.MaxSizeMB, "rotate the log file after this many megabytes")
	flags.Int("log-max-backups", d.Log.MaxBackups, "rotated log files to keep")
	flags.Int("log-max-age-days", d.Log.MaxAgeDays, "days to keep rotated log files")

	supportedLangs := strings.Join(i18n.GetSupportedLanguages(), ", ")
	flags.String("language", d.App.Language, fmt.Sprintf("notification language (%s)", supportedLangs))
	flags.Int("play-limit", d.App.PlayLimit, "play requests per user per window in one chat (0 disables)")
	flags.Duration("play-window", d.App.PlayWindow, "window for --play-limit")

	flags.String("resolver-priority", joinPlatforms(d.Resolver.Priority), "platform priority for search results")
	flags.Duration("resolver-platform-timeout", d.Resolver.PlatformTimeout, "timeout per platform call")
	flags.Int("resolver-attempts", d.Resolver.Attempts, "attempts per platform call")
	flags.Int("resolver-search-limit", d.Resolver.SearchLimit, "candidates requested per platform search")
	flags.Float64("resolver-min-confidence", d.Resolver.MinConfidence, "score a candidate needs to be picked without asking")

	flags.String("cache-dir", d.Cache.Dir, "directory for transcoded artifacts")
	flags.Int("cache-fetch-workers", d.Cache.FetchWorkers, "concurrent download/transcode jobs")
	flags.Duration("cache-fetch-timeout", d.Cache.FetchTimeout, "timeout for one download and transcode")
	flags.Int("cache-fetch-attempts", d.Cache.FetchAttempts, "attempts per fetch")
	flags.Duration("cache-idle-ttl", d.Cache.IdleTTL, "evict unused artifacts after this long")
	flags.Duration("cache-sweep-interval", d.Cache.SweepInterval, "how often to look for idle artifacts")
	flags.Int64("cache-max-bytes", d.Cache.MaxBytes, "total artifact size before LRU eviction")
	flags.Int("cache-max-entries", d.Cache.MaxEntries, "artifact count before LRU eviction")
	flags.Duration("cache-min-duration", d.Cache.MinDuration, "refuse tracks shorter than this")
	flags.Duration("cache-max-duration", d.Cache.MaxDuration, "refuse tracks longer than this")
	flags.Int64("cache-max-file-bytes", d.Cache.MaxFileBytes, "refuse artifacts larger than this")
	flags.String("ffmpeg-path", d.Cache.FFmpegPath, "ffmpeg binary")
	flags.Float64("loudness-target", d.Cache.LoudnessTarget, "loudness normalisation target in LUFS (0 disables)")
	flags.String("audio-bitrate", d.Cache.Bitrate, "opus bitrate")
	flags.String("audio-preset", d.Cache.Preset,
		fmt.Sprintf("equalizer preset applied when transcoding (%s)", strings.Join(cache.Presets(), ", ")))
	flags.String("ytdlp-proxy", "", "proxy for yt-dlp downloads")

	flags.Duration("stream-open-timeout", d.Playback.OpenTimeout, "timeout for opening a stream")
	flags.Int("stream-attempts", d.Playback.StreamAttempts, "attempts to open or reopen a stream")
	flags.Int("max-sink-failures", d.Playback.MaxSinkFailures, "consecutive stream failures before a session stops")
	flags.Int("sink-max-streams", 0, "concurrent streams the voice transport accepts (0 is unbounded)")
	flags.Float64("sink-speed", 1, "playback speed of the loopback sink")

	flags.Duration("session-idle-timeout", d.Session.IdleTimeout, "close idle sessions after this long")
	flags.Duration("command-timeout", d.Session.CommandTimeout, "timeout for one session command")
	flags.Int("session-max-queue", d.Session.MaxQueueLength, "pending tracks per session (0 is unbounded)")

	flags.String("store-backend", d.Store.Backend, "queue state store (memory, sqlite, redis, none)")
	flags.String("sqlite-path", d.Store.SQLitePath, "SQLite database for queue state")
	flags.String("redis-addr", d.Store.RedisAddr, "Redis address for queue state")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", d.Store.RedisDB, "Redis database")
	flags.Duration("redis-ttl", d.Store.RedisTTL, "expiry of saved queue state in Redis")

	flags.Bool("storage-enabled", false, "share artifacts through an S3-compatible bucket")
	flags.String("storage-endpoint", "", "object storage endpoint (host:port)")
	flags.String("storage-access-key", "", "object storage access key")
	flags.String("storage-secret-key", "", "object storage secret key")
	flags.String("storage-bucket", d.Storage.Bucket, "object storage bucket")
	flags.String("storage-region", d.Storage.Region, "object storage region")
	flags.Bool("storage-use-ssl", false, "use TLS for object storage")

	flags.String("spotify-client-id", "", "Spotify client ID (enables Spotify)")
	flags.String("spotify-client-secret", "", "Spotify client secret")

	flags.String("server-host", d.Server.Host, "HTTP server host")
	flags.Int("server-port", d.Server.Port, "HTTP server port")

	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}
	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	configFile := viper.GetString("config-file")
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %v\n", err)
		}
	}

	config = buildConfig()
	sinkConfig = sink.Config{
		MaxStreams: viper.GetInt("sink-max-streams"),
		Speed:      viper.GetFloat64("sink-speed"),
	}
	logger = buildLogger(&config.Log)

	if configFile != "" {
		viper.OnConfigChange(func(e fsnotify.Event) {
			level := viper.GetString("log-level")
			logLevel.SetLevel(parseLevel(level))
			logger.Info("Config file changed", zap.String("file", e.Name), zap.String("log_level", level))
		})
		viper.WatchConfig()
	}
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureResolver(cfg)
	configureCache(cfg)
	configurePlayback(cfg)
	configureStore(cfg)
	configureServer(cfg)
	configureApp(cfg)

	return cfg
}

func configureResolver(cfg *core.Config) {
	if priority := parsePlatforms(viper.GetString("resolver-priority")); len(priority) > 0 {
		cfg.Resolver.Priority = priority
	}
	cfg.Resolver.PlatformTimeout = viper.GetDuration("resolver-platform-timeout")
	cfg.Resolver.Attempts = viper.GetInt("resolver-attempts")
	cfg.Resolver.SearchLimit = viper.GetInt("resolver-search-limit")
	cfg.Resolver.MinConfidence = viper.GetFloat64("resolver-min-confidence")
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
}

func configureCache(cfg *core.Config) {
	cfg.Cache.Dir = viper.GetString("cache-dir")
	cfg.Cache.FetchWorkers = viper.GetInt("cache-fetch-workers")
	cfg.Cache.FetchTimeout = viper.GetDuration("cache-fetch-timeout")
	cfg.Cache.FetchAttempts = viper.GetInt("cache-fetch-attempts")
	cfg.Cache.IdleTTL = viper.GetDuration("cache-idle-ttl")
	cfg.Cache.SweepInterval = viper.GetDuration("cache-sweep-interval")
	cfg.Cache.MaxBytes = viper.GetInt64("cache-max-bytes")
	cfg.Cache.MaxEntries = viper.GetInt("cache-max-entries")
	cfg.Cache.MinDuration = viper.GetDuration("cache-min-duration")
	cfg.Cache.MaxDuration = viper.GetDuration("cache-max-duration")
	cfg.Cache.MaxFileBytes = viper.GetInt64("cache-max-file-bytes")
	cfg.Cache.FFmpegPath = viper.GetString("ffmpeg-path")
	cfg.Cache.LoudnessTarget = viper.GetFloat64("loudness-target")
	cfg.Cache.Bitrate = viper.GetString("audio-bitrate")
	cfg.Cache.Preset = viper.GetString("audio-preset")
	cfg.Cache.YTDLPProxy = viper.GetString("ytdlp-proxy")
}

func configurePlayback(cfg *core.Config) {
	cfg.Playback.OpenTimeout = viper.GetDuration("stream-open-timeout")
	cfg.Playback.StreamAttempts = viper.GetInt("stream-attempts")
	cfg.Playback.MaxSinkFailures = viper.GetInt("max-sink-failures")
	cfg.Session.IdleTimeout = viper.GetDuration("session-idle-timeout")
	cfg.Session.CommandTimeout = viper.GetDuration("command-timeout")
	cfg.Session.MaxQueueLength = viper.GetInt("session-max-queue")
}

func configureStore(cfg *core.Config) {
	cfg.Store.Backend = strings.ToLower(viper.GetString("store-backend"))
	cfg.Store.SQLitePath = viper.GetString("sqlite-path")
	cfg.Store.RedisAddr = viper.GetString("redis-addr")
	cfg.Store.RedisPassword = viper.GetString("redis-password")
	cfg.Store.RedisDB = viper.GetInt("redis-db")
	cfg.Store.RedisTTL = viper.GetDuration("redis-ttl")

	cfg.Storage.Enabled = viper.GetBool("storage-enabled")
	cfg.Storage.Endpoint = viper.GetString("storage-endpoint")
	cfg.Storage.AccessKey = viper.GetString("storage-access-key")
	cfg.Storage.SecretKey = viper.GetString("storage-secret-key")
	cfg.Storage.Bucket = viper.GetString("storage-bucket")
	cfg.Storage.Region = viper.GetString("storage-region")
	cfg.Storage.UseSSL = viper.GetBool("storage-use-ssl")
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	cfg.Server.Port = viper.GetInt("server-port")

	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.File = viper.GetString("log-file")
	cfg.Log.MaxSizeMB = viper.GetInt("log-max-size-mb")
	cfg.Log.MaxBackups = viper.GetInt("log-max-backups")
	cfg.Log.MaxAgeDays = viper.GetInt("log-max-age-days")
}

func configureApp(cfg *core.Config) {
	requested := viper.GetString("language")
	cfg.App.Language = i18n.Resolve(requested)
	if requested != "" && !strings.HasPrefix(strings.ToLower(requested), cfg.App.Language) {
		fmt.Fprintf(os.Stderr, "Warning: Unsupported language '%s', falling back to '%s'. Supported languages: %s\n",
			requested, cfg.App.Language, strings.Join(i18n.GetSupportedLanguages(), ", "))
	}

	cfg.App.PlayLimit = viper.GetInt("play-limit")
	cfg.App.PlayWindow = viper.GetDuration("play-window")
}

func parsePlatforms(s string) []core.Platform {
	var out []core.Platform
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		p, err := core.ParsePlatform(part)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: ignoring unknown platform %q\n", part)
			continue
		}
		out = append(out, p)
	}
	return out
}

func joinPlatforms(platforms []core.Platform) string {
	names := make([]string, len(platforms))
	for i, p := range platforms {
		names[i] = string(p)
	}
	return strings.Join(names, ",")
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func buildLogger(cfg *core.LogConfig) *zap.Logger {
	logLevel.SetLevel(parseLevel(cfg.Level))

	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stderr)}
	if cfg.File != "" {
		sinks = append(sinks, zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}))
	}

	zapCore := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), logLevel)
	return zap.New(zapCore, zap.AddCaller())
}

func runGroovecast(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting groovecast",
		zap.String("store", config.Store.Backend),
		zap.String("cache_dir", config.Cache.Dir),
		zap.Bool("spotify_enabled", config.Spotify.Enabled()),
		zap.Bool("storage_enabled", config.Storage.Enabled),
		zap.String("language", config.App.Language))

	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.close()

	return runServices(ctx, svcs)
}

type services struct {
	coordinator *core.Coordinator
	cache       *cache.Cache
	sink        *sink.PacedSink
	hub         *httpserver.Hub
	notifier    *notify.Async
	httpServer  *httpserver.Server
	limiter     *flood.Floodgate
	closers     []func() error
}

func (s *services) close() {
	s.sink.Close()
	s.hub.Close()
	if s.limiter != nil {
		s.limiter.Stop()
	}
	for _, c := range s.closers {
		if err := c(); err != nil {
			logger.Debug("Failed to close resource", zap.Error(err))
		}
	}
}

func initializeServices(ctx context.Context) (*services, error) {
	svcs := &services{}
	localizer := i18n.NewLocalizer(config.App.Language)
	metrics := httpserver.NewMetrics()

	res := resolver.New(createMusicLinkManager(ctx), config.Resolver, logger.Named("resolver"))

	fetchCache, err := createCache(ctx)
	if err != nil {
		return nil, err
	}
	svcs.cache = fetchCache

	queueStore, err := createQueueStore(ctx, svcs)
	if err != nil {
		return nil, err
	}

	var limiter core.RateLimiter
	if config.App.PlayLimit > 0 {
		svcs.limiter = flood.New(config.App.PlayLimit, config.App.PlayWindow)
		limiter = svcs.limiter
	}

	svcs.sink = sink.NewPacedSink(sinkConfig, logger.Named("sink"))
	svcs.hub = httpserver.NewHub(logger.Named("ws"))
	svcs.notifier = notify.NewAsync(notify.NewLogNotifier(localizer, logger.Named("notify")), notifyBuffer, logger.Named("notify"))

	events := core.MultiEventSink{metrics, svcs.hub, svcs.notifier}
	svcs.coordinator = core.NewCoordinator(config, httpserver.InstrumentResolver(res, metrics),
		fetchCache, svcs.sink, queueStore, limiter, events, logger.Named("coordinator"))

	metrics.ObserveSessions(svcs.coordinator.ActiveSessions)
	metrics.ObserveCache(fetchCache.Stats)

	svcs.httpServer = httpserver.NewServer(&config.Server, httpserver.Routes{
		API:     httpserver.NewAPI(svcs.coordinator, localizer, metrics, logger.Named("api")),
		Hub:     svcs.hub,
		Metrics: metrics,
		Ready:   checkReady,
	}, logger.Named("http"))

	return svcs, nil
}

func createMusicLinkManager(ctx context.Context) *musiclink.Manager {
	providers := []musiclink.Provider{
		musiclink.NewYouTubeProvider(),
		musiclink.NewAppleMusicProvider(),
		musiclink.NewSoundCloudProvider(),
		musiclink.NewRessoProvider(),
	}
	if config.Spotify.Enabled() {
		httpClient := musiclink.NewSpotifyHTTPClient(ctx, config.Spotify.ClientID, config.Spotify.ClientSecret)
		providers = append(providers, musiclink.NewSpotifyProvider(httpClient))
	} else {
		logger.Info("Spotify credentials not set, Spotify links are played through their page metadata")
	}
	// Catch-all for direct audio links; must stay last.
	providers = append(providers, musiclink.NewDirectProvider())
	return musiclink.NewManager(providers...)
}

func createCache(ctx context.Context) (*cache.Cache, error) {
	index := store.NewArtifactIndex(config.Cache.MaxEntries*artifactIndexRatio, artifactFPRate)
	opts := []cache.Option{cache.WithIndex(index)}

	if config.Storage.Enabled {
		tier, err := storage.NewMinioTier(ctx, config.Storage, logger.Named("storage"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact storage: %w", err)
		}
		opts = append(opts, cache.WithTier(tier))
	}

	transcoder, err := cache.NewFFmpegTranscoder(config.Cache)
	if err != nil {
		return nil, fmt.Errorf("invalid audio preset: %w", err)
	}
	pipeline := cache.NewPipeline(
		cache.NewYTDLPDownloader(config.Cache.YTDLPProxy),
		transcoder,
		config.Cache,
		logger.Named("fetch"))

	fetchCache, err := cache.New(config.Cache, pipeline, logger.Named("cache"), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch cache: %w", err)
	}

	artifacts, err := index.LoadDir(config.Cache.Dir, cache.ArtifactExt)
	if err != nil {
		logger.Warn("Failed to scan cache directory", zap.Error(err))
	}
	fetchCache.Warm(artifacts)
	return fetchCache, nil
}

func createQueueStore(ctx context.Context, svcs *services) (core.QueueStore, error) {
	switch config.Store.Backend {
	case "none":
		return nil, nil
	case "sqlite":
		s, err := store.NewSQLiteQueueStore(config.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		svcs.closers = append(svcs.closers, s.Close)
		logger.Info("Using SQLite queue store", zap.String("path", config.Store.SQLitePath))
		return s, nil
	case "redis":
		client, err := store.NewRedisClient(ctx, config.Store.RedisAddr, config.Store.RedisPassword, config.Store.RedisDB)
		if err != nil {
			return nil, err
		}
		s := store.NewRedisQueueStore(client, config.Store.RedisTTL)
		svcs.closers = append(svcs.closers, s.Close)
		logger.Info("Using Redis queue store", zap.String("addr", config.Store.RedisAddr))
		return s, nil
	default:
		return store.NewMemoryQueueStore(), nil
	}
}

func checkReady() error {
	if _, err := os.Stat(config.Cache.Dir); err != nil {
		return fmt.Errorf("cache directory: %w", err)
	}
	if _, err := exec.LookPath(config.Cache.FFmpegPath); err != nil {
		return fmt.Errorf("ffmpeg: %w", err)
	}
	return nil
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.Start(gCtx)
	})
	g.Go(func() error {
		return svcs.coordinator.Run(gCtx)
	})
	g.Go(func() error {
		return svcs.cache.Run(gCtx)
	})
	g.Go(func() error {
		return svcs.notifier.Run(gCtx)
	})

	logger.Info("groovecast started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)),
		zap.Duration("fetch_timeout", config.Cache.FetchTimeout))

	start := time.Now()
	if err := g.Wait(); err != nil {
		logger.Error("groovecast stopped with error", zap.Error(err))
		return err
	}

	logger.Info("groovecast stopped gracefully", zap.Duration("uptime", time.Since(start)))
	return nil
}
