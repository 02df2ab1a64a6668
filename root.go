package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudmail-upload/internal/config"
)

// version is set at build time via ldflags.
var version = "dev"

// Flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagCookies    string
	flagVerbose    bool
	flagDebug      bool
	flagQuiet      bool
)

// newRootCmd builds the command. The upload is the root command itself:
// the tool does one thing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloudmail-upload <login> <password> <local_folder> <cloud_folder>",
		Short: "Upload a local folder tree to Mail.ru Cloud",
		Long: "Recursively upload local_folder into cloud_folder on Mail.ru Cloud, creating\n" +
			"every remote folder and overwriting files that already exist.\n\n" +
			"With --cookies, the session is loaded from the file when it is still valid\n" +
			"and written back after a successful upload.",
		Version: version,
		Args:    cobra.ExactArgs(4),
		// Silence Cobra's default error/usage printing; main prints errors.
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          runUpload,
	}

	cmd.Flags().StringVar(&flagCookies, "cookies", "", "file to load the session from and save it to")
	cmd.Flags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log every remote operation")
	cmd.Flags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	cmd.Flags().BoolVarP(&flagQuiet, "quiet", "q", false, "only print errors")
	cmd.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	return cmd
}

// loadConfig resolves the effective configuration from the four-layer
// override chain.
func loadConfig() (*config.Config, error) {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		LogLevel:   cliLogLevel(),
	}

	cfg, err := config.Resolve(config.ReadEnvOverrides(), cli, nil)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// cliLogLevel maps the verbosity flags to a config log level, or "" when
// none is set and the config baseline applies.
func cliLogLevel() string {
	switch {
	case flagDebug:
		return "debug"
	case flagVerbose:
		return "info"
	case flagQuiet:
		return "error"
	default:
		return ""
	}
}

// buildLogger creates an slog.Logger writing to w at the resolved level in
// the configured format.
func buildLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelWarn

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
