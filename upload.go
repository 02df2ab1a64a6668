package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/tonimelisma/cloudmail-upload/internal/cloudmail"
	"github.com/tonimelisma/cloudmail-upload/internal/config"
	"github.com/tonimelisma/cloudmail-upload/internal/uploader"
)

// runUpload is the command body: bootstrap the session, mirror the tree,
// persist the session, print a summary.
func runUpload(cmd *cobra.Command, args []string) error {
	login, password, localRoot, cloudRoot := args[0], args[1], args[2], args[3]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	stderr := cmd.ErrOrStderr()
	logger := buildLogger(cfg, stderr)

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	client, err := newCloudClient(cfg, login, password, logger)
	if err != nil {
		return err
	}

	if err := bootstrapSession(ctx, client, flagCookies, logger); err != nil {
		return err
	}

	u := uploader.New(uploader.Config{
		Remote:       client,
		Logger:       logger,
		Progress:     progressPrinter(stderr, !flagQuiet && isTerminal(stderr)),
		NormalizeNFC: cfg.NormalizeUnicode,
	})

	stats, err := u.Run(ctx, localRoot, cloudRoot)
	if err != nil {
		return err
	}

	if err := persistSession(client, flagCookies, logger); err != nil {
		return err
	}

	statusf(stderr, flagQuiet, "Uploaded %s (%s) into %s\n",
		plural(stats.Files, "file"), formatSize(stats.Bytes), plural(stats.Folders, "folder"))

	return nil
}

// newCloudClient builds the Mail.ru client with HTTP clients honoring the
// configured timeouts. API calls and file bodies get separate overall
// timeouts because uploads can legitimately run for hours.
func newCloudClient(cfg *config.Config, login, password string, logger *slog.Logger) (*cloudmail.Client, error) {
	timeouts, err := cfg.Timeouts()
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: timeouts.Connect}

	transport, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, fmt.Errorf("unexpected default transport type %T", http.DefaultTransport)
	}

	transport = transport.Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = timeouts.Connect

	client, err := cloudmail.NewClient(cloudmail.Options{
		Login:          login,
		Password:       password,
		AuthURL:        cfg.AuthURL,
		CloudURL:       cfg.CloudURL,
		UserAgent:      userAgent(cfg),
		HTTPClient:     &http.Client{Transport: transport, Timeout: timeouts.Request},
		TransferClient: &http.Client{Transport: transport, Timeout: timeouts.Upload},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}

	return client, nil
}

// userAgent returns the configured User-Agent, or one naming this build.
func userAgent(cfg *config.Config) string {
	if cfg.UserAgent != "" {
		return cfg.UserAgent
	}

	return "cloudmail-upload/" + version
}

// progressPrinter returns an uploader progress callback printing one line
// per uploaded file, or nil when disabled.
func progressPrinter(w io.Writer, enabled bool) func(uploader.Event) {
	if !enabled {
		return nil
	}

	return func(ev uploader.Event) {
		if ev.Kind == uploader.EventFile {
			fmt.Fprintf(w, "  %s -> %s (%s)\n", ev.LocalPath, ev.RemotePath, formatSize(ev.Size))
		}
	}
}

// isTerminal reports whether w is a terminal. Writers that are not files,
// such as a buffer set on the command, never are.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}

	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
