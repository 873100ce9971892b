package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"esiauth/internal/authflow"
	"esiauth/internal/store"
	"esiauth/pkg/sso"
)

// Exit codes for CLI commands. These follow common conventions so scripts
// can branch on the kind of failure.
const (
	// ExitCodeSuccess indicates successful execution.
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error.
	ExitCodeError = 1
	// ExitCodeAuthFailed indicates the OAuth flow itself failed (timeout,
	// denial, state mismatch, rejected refresh).
	ExitCodeAuthFailed = 3
)

var (
	flagConfigDir string
	flagDebug     bool
)

// rootCmd is the entry point when esiauth is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "esiauth",
	Short: "Authenticate EVE Online characters and keep their tokens fresh",
	Long: `esiauth manages OAuth2 PKCE authentication against EVE Online's SSO.

It runs the browser-based authorization flow, stores issued tokens next to
the application credentials they belong to, and refreshes tokens on read so
callers always receive a currently valid access token.`,
	// SilenceUsage keeps error output clean; usage is not helpful when a
	// network call failed.
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if flagDebug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigDir, "config-dir", "", "Configuration directory (default ~/.config/esiauth)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
}

// SetVersion sets the version for the root command, injected at build time.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI, called by main.main().
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "esiauth version %s\n" .Version}}`)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(getExitCode(err))
	}
}

// getExitCode maps error classes to semantic exit codes.
func getExitCode(err error) int {
	switch {
	case errors.Is(err, authflow.ErrCallbackTimeout),
		errors.Is(err, authflow.ErrStateMismatch),
		errors.Is(err, authflow.ErrCallbackDenied),
		errors.Is(err, sso.ErrRefreshRejected):
		return ExitCodeAuthFailed
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDuplicateIdentifier),
		errors.Is(err, store.ErrStoreCorrupt):
		return ExitCodeError
	default:
		return ExitCodeError
	}
}
