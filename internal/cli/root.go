// Package cli implements the gallery command line tool.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mediaembed/gallery/internal/config"
	"github.com/mediaembed/gallery/pkg/client"
)

const defaultAPIURL = "http://localhost:8080"

var (
	apiURL     string
	apiKey     string
	logLevel   string
	jsonOutput bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "gallery",
	Short: "Multimodal embedding gallery - ingest, search and browse media by similarity",
	Long: `gallery embeds text, images and videos into a shared vector space and finds
similar media.

Example usage:
  gallery ingest 'exports/**/*.json' --platform fal   # Bulk embed generation exports
  gallery search "a cat on a skateboard"              # Query by text
  gallery similar 123 --limit 20                      # Records near an existing one
  gallery browse                                      # Interactive session
  gallery admin list --page 2                         # Page through stored records`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		config.LoadDotEnv()
		setupLogging(logLevel)

		if apiURL == "" {
			apiURL = envOr("GALLERY_API_URL", defaultAPIURL)
		}

		if apiKey == "" {
			apiKey = os.Getenv("API_KEY")
		}

		return nil
	},
}

// Execute runs the root command and exits non-zero on failure. SIGINT and SIGTERM cancel the
// command's context so an ingest run stops between items.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "gallery API base URL (default $GALLERY_API_URL or "+defaultAPIURL+")")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (default $API_KEY)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "per-request timeout")
}

func newAPIClient() (*client.Client, error) {
	return client.New(client.Options{
		BaseURL: apiURL,
		APIKey:  apiKey,
		Timeout: timeout,
		Logger:  slog.Default(),
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

// setupLogging writes text logs to stderr so command output stays parseable.
func setupLogging(level string) {
	var lvl slog.Level

	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelWarn
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
