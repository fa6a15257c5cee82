// Package cmd implements the CLI commands using Cobra.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"clipdrop/internal/config"
	"clipdrop/internal/download"
	"clipdrop/internal/extract"
	"clipdrop/internal/httputil"
	"clipdrop/internal/store"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Global flags
var (
	flagConfig       string
	flagListen       string
	flagDownloadDir  string
	flagPublicURL    string
	flagTunnel       string
	flagStrictFormat bool
	flagTranscode    bool
	flagDebug        bool
)

// cfg holds the loaded configuration (merged: defaults < config file < flags).
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "clipdrop",
	Short: "Download online videos and hand them out over HTTP",
	Long: `Clipdrop downloads a video or its audio track from a URL and serves the
result under a public link. Run "clipdrop serve" for the HTTP service or
"clipdrop fetch <url>" for a one-shot download.`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file (default: $XDG_CONFIG_HOME/clipdrop/config.toml)")
	rootCmd.PersistentFlags().StringVar(&flagListen, "listen", "", "Listen address, e.g. :5000")
	rootCmd.PersistentFlags().StringVarP(&flagDownloadDir, "download-dir", "o", "", "Directory downloads are written to")
	rootCmd.PersistentFlags().StringVar(&flagPublicURL, "public-url", "", "Base URL used in download links")
	rootCmd.PersistentFlags().StringVar(&flagTunnel, "tunnel", "", "Public tunnel: none | ngrok")
	rootCmd.PersistentFlags().BoolVar(&flagStrictFormat, "strict-format", false, "Reject formats other than mp4 and mp3")
	rootCmd.PersistentFlags().BoolVar(&flagTranscode, "transcode", false, "Convert audio downloads to MP3 with ffmpeg")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "x", false, "Debug logging to stderr")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads and merges configuration: defaults < config file < CLI flags.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFile(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// CLI flags override config file values
	if flagListen != "" {
		cfg.Listen = flagListen
	}
	if flagDownloadDir != "" {
		cfg.DownloadDir = flagDownloadDir
	}
	if flagPublicURL != "" {
		cfg.PublicURL = flagPublicURL
	}
	if flagTunnel != "" {
		cfg.Tunnel = flagTunnel
	}
	if flagStrictFormat {
		cfg.StrictFormat = true
	}
	if flagTranscode {
		cfg.TranscodeAudio = true
	}
	if flagDebug {
		cfg.Debug = true
	}

	// Re-validate after flag overrides
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg.Debug)
	return nil
}

// setupLogging points the global logger at stderr: human-readable on a
// terminal, JSON lines otherwise.
func setupLogging(debug bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// newService wires the download pipeline for the loaded config. publicURL is
// the base of the links it hands out.
func newService(publicURL string) (*download.Service, *store.Store, error) {
	dir, err := cfg.ExpandDownloadDir()
	if err != nil {
		return nil, nil, fmt.Errorf("resolving download dir: %w", err)
	}

	st, err := store.New(dir)
	if err != nil {
		return nil, nil, err
	}

	opts := download.Options{
		PublicURL:    publicURL,
		Timeout:      cfg.DownloadTimeout.Duration,
		StrictFormat: cfg.StrictFormat,
	}
	if cfg.TranscodeAudio {
		ff, err := download.NewFFmpeg()
		if err != nil {
			return nil, nil, fmt.Errorf("transcode_audio: %w", err)
		}
		opts.Transcoder = ff
	}

	client := httputil.NewClient()
	if cfg.AllowPrivate {
		log.Warn().Msg("extractors may reach private and loopback addresses")
		client = httputil.NewClientWithControl(nil)
	}
	ex := extract.New(client)
	log.Debug().Str("dir", st.Root()).Str("public_url", publicURL).Msg("download service ready")
	return download.NewService(ex, st, opts), st, nil
}
