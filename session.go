package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// sessionClient is what session bootstrap needs from the cloud client.
// Satisfied by *cloudmail.Client.
type sessionClient interface {
	LoadSession(path string) error
	SessionValid(ctx context.Context) (bool, error)
	Authenticate(ctx context.Context) error
	SaveSession(path string) error
}

// bootstrapSession leaves client authenticated. A session saved in
// cookiesPath is reused when the server still accepts it; otherwise, or
// when no cookies file is given or present, the client logs in with its
// credentials. Authentication failures are returned as is.
func bootstrapSession(ctx context.Context, client sessionClient, cookiesPath string, logger *slog.Logger) error {
	reused, err := tryStoredSession(ctx, client, cookiesPath, logger)
	if err != nil {
		return err
	}

	if reused {
		return nil
	}

	if err := client.Authenticate(ctx); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}

	logger.Info("logged in with credentials")

	return nil
}

// tryStoredSession loads and validates the cookies file. It reports false
// with no error when there is nothing usable to reuse.
func tryStoredSession(ctx context.Context, client sessionClient, cookiesPath string, logger *slog.Logger) (bool, error) {
	if cookiesPath == "" {
		return false, nil
	}

	if _, err := os.Stat(cookiesPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("no cookies file yet", slog.String("path", cookiesPath))
			return false, nil
		}

		return false, fmt.Errorf("checking cookies file: %w", err)
	}

	if err := client.LoadSession(cookiesPath); err != nil {
		return false, fmt.Errorf("loading cookies: %w", err)
	}

	valid, err := client.SessionValid(ctx)
	if err != nil {
		return false, fmt.Errorf("validating saved session: %w", err)
	}

	if !valid {
		logger.Info("saved session is no longer valid, logging in", slog.String("path", cookiesPath))
		return false, nil
	}

	logger.Info("reusing saved session", slog.String("path", cookiesPath))

	return true, nil
}

// persistSession writes the session to cookiesPath, if one was given. It
// saves even when the session was reused, so cookies the server refreshed
// during the run are kept.
func persistSession(client sessionClient, cookiesPath string, logger *slog.Logger) error {
	if cookiesPath == "" {
		return nil
	}

	if err := client.SaveSession(cookiesPath); err != nil {
		return fmt.Errorf("saving cookies: %w", err)
	}

	logger.Debug("saved session", slog.String("path", cookiesPath))

	return nil
}
