package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func generateEnvExample(cmd *cobra.Command) error {
	fmt.Println("Generating .env.example file from current configuration...")

	content := generateEnvExampleContent(cmd)

	if err := os.WriteFile(".env.example", []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("Successfully generated .env.example file")
	return nil
}

func generateEnvExampleContent(cmd *cobra.Command) string {
	var content strings.Builder

	content.WriteString("# =============================================================================\n")
	content.WriteString("# Scrobbler Configuration\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values\n")
	content.WriteString("# All environment variables have CLI flag equivalents (use --help to see them)\n")
	content.WriteString("#\n")
	content.WriteString("# Format: SCROBBLER_<SETTING>=value\n")
	content.WriteString("# CLI equivalent: --<setting>\n")
	content.WriteString("#\n\n")

	generateLastFMSection(&content, cmd)
	generateSourceSection(&content, cmd)
	generateSpotifySection(&content, cmd)
	generateLibrespotSection(&content, cmd)
	generateAppSection(&content, cmd)
	generateStoreSection(&content, cmd)
	generateServerSection(&content, cmd)
	generateLoggingSection(&content, cmd)
	generateQuickSetupGuide(&content)

	return content.String()
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

func writeSectionHeader(content *strings.Builder, title, cli string) {
	content.WriteString("# -----------------------------------------------------------------------------\n")
	fmt.Fprintf(content, "# %s\n", title)
	content.WriteString("# -----------------------------------------------------------------------------\n")
	if cli != "" {
		fmt.Fprintf(content, "# CLI: %s\n", cli)
	}
}

// writeFlag writes one documented variable, using the flag default unless an example is given.
func writeFlag(content *strings.Builder, cmd *cobra.Command, flagName, example, help string) {
	value := example
	if value == "" {
		value = getDefaultValueString(cmd, flagName)
	}
	defaultValue := getDefaultValueString(cmd, flagName)
	if defaultValue == "" {
		fmt.Fprintf(content, "%s=%s    # %s\n", flagToEnvVar(flagName), value, help)
		return
	}
	fmt.Fprintf(content, "%s=%s    # %s (default: %s)\n", flagToEnvVar(flagName), value, help, defaultValue)
}

func generateLastFMSection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# LAST.FM CONFIGURATION - Required\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("# Create an API account at https://www.last.fm/api/account/create\n")
	writeSectionHeader(content, "API credentials", "--lastfm-api-key, --lastfm-shared-secret")
	writeFlag(content, cmd, "lastfm-api-key", "your_lastfm_api_key_here", "Last.fm API key")
	writeFlag(content, cmd, "lastfm-shared-secret", "your_lastfm_shared_secret_here", "Last.fm shared secret")
	writeFlag(content, cmd, "lastfm-requests-per-second", "", "Client-side request rate limit")
	content.WriteString("\n")
}

func generateSourceSection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# PLAYBACK SOURCE - Choose one\n")
	content.WriteString("# =============================================================================\n")
	writeSectionHeader(content, "Source selection", "--source")
	writeFlag(content, cmd, "source", "", "Playback source: spotify, librespot")
	content.WriteString("\n")
}

func generateSpotifySection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "Spotify Web API (source=spotify)",
		"--spotify-client-id, --spotify-client-secret, --spotify-redirect-url, --spotify-token-path")
	content.WriteString("# Get these from https://developer.spotify.com/dashboard\n")
	writeFlag(content, cmd, "spotify-client-id", "your_spotify_client_id_here", "Spotify app client ID")
	writeFlag(content, cmd, "spotify-client-secret", "your_spotify_client_secret_here", "Spotify app client secret")
	writeFlag(content, cmd, "spotify-redirect-url", "http://127.0.0.1:8080/callback", "OAuth callback URL (default: auto-generated)")
	writeFlag(content, cmd, "spotify-token-path", "", "Token storage path")
	writeFlag(content, cmd, "spotify-poll-interval-secs", "", "Player poll interval in seconds")
	content.WriteString("\n")
}

func generateLibrespotSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "go-librespot daemon (source=librespot)", "--librespot-host, --librespot-port")
	writeFlag(content, cmd, "librespot-host", "", "Daemon API host")
	writeFlag(content, cmd, "librespot-port", "", "Daemon API port")
	content.WriteString("\n")
}

func generateAppSection(content *strings.Builder, cmd *cobra.Command) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# APPLICATION SETTINGS\n")
	content.WriteString("# =============================================================================\n")
	writeSectionHeader(content, "Scrobbling", "--strict-music-validation, --poll-interval-ms")
	writeFlag(content, cmd, "strict-music-validation", "", "Require catalog evidence that a track is music")
	writeFlag(content, cmd, "poll-interval-ms", "", "Poll loop interval in milliseconds")
	content.WriteString("\n")

	writeSectionHeader(content, "Submission batching", "--batch-size, --flush-idle-mins, --flush-retry-secs")
	writeFlag(content, cmd, "batch-size", "", "Plays per scrobble request, at most 50")
	writeFlag(content, cmd, "flush-idle-mins", "", "Flush queued plays after this many idle minutes")
	writeFlag(content, cmd, "flush-retry-secs", "", "Minimum gap between failed idle flushes")
	content.WriteString("\n")

	writeSectionHeader(content, "Timeouts and Retries", "--request-timeout-secs, --auth-max-attempts")
	writeFlag(content, cmd, "request-timeout-secs", "", "Timeout for a single Last.fm call")
	writeFlag(content, cmd, "auth-max-attempts", "", "Session exchange attempts while waiting for authorization")
	content.WriteString("\n")
}

func generateStoreSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "Storage", "--store-path, --ledger-size")
	writeFlag(content, cmd, "store-path", "", "SQLite database holding the Last.fm session key")
	writeFlag(content, cmd, "ledger-size", "", "Submitted plays remembered to avoid duplicates")
	content.WriteString("\n")
}

func generateServerSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "HTTP Server Configuration", "--metrics-enabled, --server-host, --server-port")
	writeFlag(content, cmd, "metrics-enabled", "", "Serve /healthz, /readyz and /metrics")
	writeFlag(content, cmd, "server-host", "127.0.0.1", "Server bind address")
	writeFlag(content, cmd, "server-port", "", "Server port")
	content.WriteString("\n")
}

func generateLoggingSection(content *strings.Builder, cmd *cobra.Command) {
	writeSectionHeader(content, "Logging Configuration", "--log-level, --log-format")
	writeFlag(content, cmd, "log-level", "", "Log level: debug, info, warn, error")
	writeFlag(content, cmd, "log-format", "", "Log format: json, console")
	content.WriteString("\n")
}

func generateQuickSetupGuide(content *strings.Builder) {
	content.WriteString("# =============================================================================\n")
	content.WriteString("# QUICK SETUP GUIDE\n")
	content.WriteString("# =============================================================================\n")
	content.WriteString("#\n")
	content.WriteString("# 1. LAST.FM SETUP (Required):\n")
	content.WriteString("#    - Create an API account at https://www.last.fm/api/account/create\n")
	fmt.Fprintf(content, "#    - Copy the API key and shared secret to %s and %s above\n",
		flagToEnvVar("lastfm-api-key"), flagToEnvVar("lastfm-shared-secret"))
	content.WriteString("#    - On first start a browser opens the Last.fm authorization page; approve it\n")
	content.WriteString("#      within a few minutes. The session key is then stored and reused.\n")
	content.WriteString("#\n")
	content.WriteString("# 2. SPOTIFY SETUP (source=spotify):\n")
	content.WriteString("#    - Go to https://developer.spotify.com/dashboard and create an app\n")
	content.WriteString("#    - Add redirect URI: http://127.0.0.1:8080/callback\n")
	content.WriteString("#    - Copy Client ID and Secret to config above\n")
	content.WriteString("#\n")
	content.WriteString("# 3. GO-LIBRESPOT SETUP (source=librespot):\n")
	content.WriteString("#    - Run go-librespot with its API server enabled on the configured port\n")
	content.WriteString("#\n")
	content.WriteString("# 4. TEST CONFIGURATION:\n")
	content.WriteString("#    go run ./cmd/scrobbler --help                 # See all CLI options\n")
	content.WriteString("#    go run ./cmd/scrobbler --log-level=debug      # Run with debug logging\n")
}
