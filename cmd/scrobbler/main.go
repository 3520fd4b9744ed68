// Package main provides the scrobbler CLI application entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"scrobbler/internal/auth"
	"scrobbler/internal/core"
	httpserver "scrobbler/internal/http"
	"scrobbler/internal/lastfm"
	"scrobbler/internal/librespot"
	"scrobbler/internal/spotify"
	"scrobbler/internal/store"
)

const (
	defaultServerHost = "0.0.0.0"
	envPrefix         = "SCROBBLER"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "scrobbler",
	Short: "Scrobbler - now-playing observer for Last.fm",
	Long: `Scrobbler watches what your player is playing (Spotify or go-librespot), announces it to
Last.fm as "now playing" and scrobbles every play that was listened to long enough.`,
	RunE: runScrobbler,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "json", "log format (json, console)")
	flags.String("lastfm-api-key", "", "Last.fm API key")
	flags.String("lastfm-shared-secret", "", "Last.fm shared secret")
	flags.String("lastfm-base-url", "https://ws.audioscrobbler.com/2.0/", "Last.fm API endpoint")
	flags.String("lastfm-auth-url", "https://www.last.fm/api/auth/", "Last.fm authorization page")
	flags.Float64("lastfm-requests-per-second", core.DefaultLastFMRequestsPerSecond, "Maximum Last.fm API requests per second")
	flags.Int("poll-interval-ms", core.DefaultPollIntervalMs, "Poll loop interval in milliseconds")
	flags.Bool("strict-music-validation", true, "Only scrobble tracks the catalog knows as music")
	flags.Int("flush-idle-mins", core.DefaultFlushIdleMins, "Flush queued plays after this many idle minutes")
	flags.Int("flush-retry-secs", core.DefaultFlushRetrySecs, "Minimum gap between failed idle flushes in seconds")
	flags.Int("batch-size", core.DefaultBatchSize, "Maximum plays per scrobble request (1-50)")
	flags.Int("request-timeout-secs", core.DefaultRequestTimeoutSecs, "Timeout for a single Last.fm call in seconds")
	flags.Int("auth-max-attempts", core.DefaultAuthMaxAttempts, "Session exchange attempts while waiting for authorization")
	flags.String("source", core.SourceSpotify, "Playback source (spotify, librespot)")
	flags.String("spotify-client-id", "", "Spotify client ID")
	flags.String("spotify-client-secret", "", "Spotify client secret")
	flags.String("spotify-redirect-url", "", "Spotify OAuth redirect URL")
	flags.String("spotify-token-path", "./spotify_token.json", "Spotify token storage path")
	flags.Int("spotify-poll-interval-secs", core.DefaultSpotifyPollIntervalSecs, "Spotify player poll interval in seconds")
	flags.String("librespot-host", "localhost", "go-librespot API host")
	flags.Int("librespot-port", core.DefaultLibrespotPort, "go-librespot API port")
	flags.String("store-path", "./scrobbler.db", "SQLite settings database path")
	flags.Int("ledger-size", core.DefaultLedgerSize, "Number of submitted plays remembered for duplicate suppression")
	flags.Bool("metrics-enabled", true, "Serve health and Prometheus metrics endpoints")
	flags.String("server-host", defaultServerHost, "HTTP server host")
	flags.Int("server-port", 8080, "HTTP server port")
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

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureLastFM(cfg)
	configureSource(cfg)
	configureSpotify(cfg)
	configureLibrespot(cfg)
	configureStore(cfg)
	configureApp(cfg)

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Enabled = viper.GetBool("metrics-enabled")
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureLastFM(cfg *core.Config) {
	cfg.LastFM.APIKey = viper.GetString("lastfm-api-key")
	cfg.LastFM.SharedSecret = viper.GetString("lastfm-shared-secret")
	if baseURL := viper.GetString("lastfm-base-url"); baseURL != "" {
		cfg.LastFM.BaseURL = baseURL
	}
	if authURL := viper.GetString("lastfm-auth-url"); authURL != "" {
		cfg.LastFM.AuthURL = authURL
	}
	if rps := viper.GetFloat64("lastfm-requests-per-second"); rps > 0 {
		cfg.LastFM.RequestsPerSecond = rps
	}
}

func configureSource(cfg *core.Config) {
	cfg.Source.Kind = strings.ToLower(viper.GetString("source"))
	if cfg.Source.Kind == "" {
		cfg.Source.Kind = core.SourceSpotify
	}
}

func configureSpotify(cfg *core.Config) {
	cfg.Spotify.ClientID = viper.GetString("spotify-client-id")
	cfg.Spotify.ClientSecret = viper.GetString("spotify-client-secret")
	cfg.Spotify.RedirectURL = viper.GetString("spotify-redirect-url")
	cfg.Spotify.TokenPath = viper.GetString("spotify-token-path")
	if cfg.Spotify.TokenPath == "" {
		cfg.Spotify.TokenPath = "./spotify_token.json"
	}
	cfg.Spotify.PollIntervalSecs = viper.GetInt("spotify-poll-interval-secs")
	if cfg.Spotify.PollIntervalSecs <= 0 {
		cfg.Spotify.PollIntervalSecs = core.DefaultSpotifyPollIntervalSecs
	}

	// Build default redirect URL based on server configuration if not explicitly set
	if cfg.Spotify.RedirectURL == "" {
		serverHost := cfg.Server.Host
		if serverHost == defaultServerHost {
			serverHost = "127.0.0.1"
		}
		cfg.Spotify.RedirectURL = fmt.Sprintf("http://%s:%d/callback", serverHost, cfg.Server.Port)
	}
}

func configureLibrespot(cfg *core.Config) {
	if host := viper.GetString("librespot-host"); host != "" {
		cfg.Librespot.Host = host
	}
	if port := viper.GetInt("librespot-port"); port > 0 {
		cfg.Librespot.Port = port
	}
}

func configureStore(cfg *core.Config) {
	if path := viper.GetString("store-path"); path != "" {
		cfg.Store.Path = path
	}
	if size := viper.GetInt("ledger-size"); size > 0 {
		cfg.Store.LedgerSize = size
	}
}

func configureApp(cfg *core.Config) {
	cfg.App.PollIntervalMs = viper.GetInt("poll-interval-ms")
	cfg.App.StrictMusicValidation = viper.GetBool("strict-music-validation")
	cfg.App.FlushIdleMins = viper.GetInt("flush-idle-mins")
	cfg.App.FlushRetrySecs = viper.GetInt("flush-retry-secs")
	cfg.App.RequestTimeoutSecs = viper.GetInt("request-timeout-secs")
	cfg.LastFM.RequestTimeout = cfg.App.RequestTimeout()

	cfg.App.BatchSize = viper.GetInt("batch-size")
	if cfg.App.BatchSize <= 0 || cfg.App.BatchSize > lastfm.MaxScrobbleBatch {
		fmt.Fprintf(os.Stderr, "Warning: Invalid batch size (%d), using default (%d)\n",
			cfg.App.BatchSize, core.DefaultBatchSize)
		cfg.App.BatchSize = core.DefaultBatchSize
	}

	cfg.App.AuthMaxAttempts = viper.GetInt("auth-max-attempts")
	if cfg.App.AuthMaxAttempts <= 0 {
		cfg.App.AuthMaxAttempts = core.DefaultAuthMaxAttempts
	}
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if strings.EqualFold(format, "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runScrobbler(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting scrobbler",
		zap.String("version", "1.0.0"),
		zap.String("source", config.Source.Kind),
		zap.Bool("strictMusicValidation", config.App.StrictMusicValidation),
		zap.Bool("metricsEnabled", config.Server.Enabled))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	services, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := services.settings.Close(); closeErr != nil {
			logger.Debug("Failed to close settings store", zap.Error(closeErr))
		}
	}()

	return runServices(ctx, services)
}

type services struct {
	settings   *store.SettingsStore
	ledger     *store.PlayLedger
	metrics    *httpserver.Metrics
	lastfm     *lastfm.Client
	session    *auth.SessionManager
	source     core.PlaybackSource
	httpServer *httpserver.Server
	dispatcher *core.Dispatcher
}

func initializeServices(ctx context.Context) (*services, error) {
	settings, err := store.OpenSettings(ctx, config.Store.Path)
	if err != nil {
		return nil, err
	}

	ledger := store.NewPlayLedger(config.Store.LedgerSize, config.Store.LedgerFalsePositiveRate)
	metrics := httpserver.NewMetrics()
	lastfmClient := lastfm.NewClient(&config.LastFM, metrics, logger.Named("lastfm"))

	session := auth.NewSessionManager(
		lastfmClient,
		settings,
		auth.NewBrowserAuthorizer(logger.Named("authorizer")),
		retryPolicy(&config.App),
		logger.Named("auth"),
	)
	session.OnStateChange(func(state auth.State) {
		metrics.SetAuthState(state.String())
	})
	metrics.SetAuthState(session.State().String())

	source, err := createPlaybackSource(ctx)
	if err != nil {
		_ = settings.Close()
		return nil, err
	}

	var httpServer *httpserver.Server
	if config.Server.Enabled {
		httpServer = httpserver.NewServer(&config.Server, metrics, session.Authenticated, logger.Named("http"))
	}

	dispatcher := core.NewDispatcher(config, source, session, lastfmClient, ledger, metrics,
		logger.Named("dispatcher"))

	return &services{
		settings:   settings,
		ledger:     ledger,
		metrics:    metrics,
		lastfm:     lastfmClient,
		session:    session,
		source:     source,
		httpServer: httpServer,
		dispatcher: dispatcher,
	}, nil
}

func retryPolicy(app *core.AppConfig) auth.RetryPolicy {
	policy := auth.DefaultRetryPolicy()
	if app.AuthMaxAttempts > 0 {
		policy.MaxAttempts = app.AuthMaxAttempts
	}
	if app.AuthBaseDelayMs > 0 {
		policy.BaseDelay = time.Duration(app.AuthBaseDelayMs) * time.Millisecond
	}
	if app.AuthMaxDelayMs > 0 {
		policy.MaxDelay = time.Duration(app.AuthMaxDelayMs) * time.Millisecond
	}
	return policy
}

func createPlaybackSource(ctx context.Context) (core.PlaybackSource, error) {
	switch config.Source.Kind {
	case core.SourceLibrespot:
		logger.Info("Using go-librespot as playback source",
			zap.String("host", config.Librespot.Host),
			zap.Int("port", config.Librespot.Port))
		return librespot.NewSource(&config.Librespot, logger.Named("librespot")), nil
	case core.SourceSpotify:
		source := spotify.NewSource(&config.Spotify, logger.Named("spotify"))
		if err := source.Authenticate(ctx); err != nil {
			return nil, fmt.Errorf("failed to authenticate with Spotify: %w", err)
		}
		logger.Info("Using Spotify Web API as playback source",
			zap.Int("pollIntervalSecs", config.Spotify.PollIntervalSecs))
		return source, nil
	default:
		return nil, fmt.Errorf("unknown playback source: %s", config.Source.Kind)
	}
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	if svcs.httpServer != nil {
		g.Go(func() error {
			return svcs.httpServer.Start(gCtx)
		})
	}

	g.Go(func() error {
		return svcs.dispatcher.Start(gCtx)
	})

	logger.Info("Scrobbler started successfully",
		zap.String("httpAddr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("Scrobbler stopped with error", zap.Error(err))
		if stopErr := svcs.dispatcher.Stop(context.Background()); stopErr != nil {
			logger.Debug("Failed to stop dispatcher gracefully", zap.Error(stopErr))
		}
		return err
	}

	if err := svcs.dispatcher.Stop(context.Background()); err != nil {
		logger.Debug("Failed to stop dispatcher gracefully", zap.Error(err))
	}

	logger.Info("Scrobbler stopped gracefully",
		zap.Int("unsubmittedPlays", svcs.dispatcher.Queue().Len()),
		zap.Int("rememberedPlays", svcs.ledger.Size()))
	return nil
}

func validateConfig() error {
	if err := validateLastFMConfig(); err != nil {
		return err
	}

	if err := validateSourceConfig(); err != nil {
		return err
	}

	return nil
}

func validateLastFMConfig() error {
	if config.LastFM.APIKey == "" {
		return fmt.Errorf("last.fm API key is required")
	}

	if config.LastFM.SharedSecret == "" {
		return fmt.Errorf("last.fm shared secret is required")
	}

	return nil
}

// validateTokenPath checks that the Spotify token file can be written where it is configured.
func validateTokenPath(path string) error {
	if path == "" {
		return fmt.Errorf("spotify token path is required")
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return fmt.Errorf("spotify token path %s is a directory", path)
	}
	dir, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("spotify token directory is not accessible: %w", err)
	}
	if !dir.IsDir() {
		return fmt.Errorf("spotify token path %s is not inside a directory", path)
	}
	return nil
}

func validateSourceConfig() error {
	switch config.Source.Kind {
	case core.SourceSpotify:
		if config.Spotify.ClientID == "" {
			return fmt.Errorf("spotify client ID is required")
		}
		if config.Spotify.ClientSecret == "" {
			return fmt.Errorf("spotify client secret is required")
		}
		if err := validateTokenPath(config.Spotify.TokenPath); err != nil {
			return err
		}
	case core.SourceLibrespot:
		if config.Librespot.Port <= 0 {
			return fmt.Errorf("librespot port must be positive")
		}
	default:
		return fmt.Errorf("unknown playback source %q (supported: %s, %s)",
			config.Source.Kind, core.SourceSpotify, core.SourceLibrespot)
	}
	return nil
}
