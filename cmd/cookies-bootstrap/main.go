// Logs in to Mail.ru Cloud once and writes a cookies file, so the E2E suite
// and manual runs can start from a saved session.
//
// Usage: go run ./cmd/cookies-bootstrap [--out path]
// Credentials come from CLOUDMAIL_TEST_LOGIN / CLOUDMAIL_TEST_PASSWORD
// (environment or .env at the module root).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tonimelisma/cloudmail-upload/internal/cloudmail"
	"github.com/tonimelisma/cloudmail-upload/testutil"
)

func main() {
	root := testutil.FindModuleRoot(".")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	login := os.Getenv(testutil.EnvTestLogin)
	out := flag.String("out", "", "cookies file to write (default .testdata/cookies_<login>.json)")
	flag.Parse()

	if login == "" {
		fmt.Fprintf(os.Stderr, "%s is not set\n", testutil.EnvTestLogin)
		os.Exit(1)
	}

	if *out == "" {
		*out = filepath.Join(root, ".testdata", testutil.CookiesFileName(login))
	}

	logger := slog.Default()

	client, err := cloudmail.NewClient(cloudmail.Options{
		Login:     login,
		Password:  os.Getenv(testutil.EnvTestPassword),
		UserAgent: "cloudmail-upload/cookies-bootstrap",
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating client: %v\n", err)
		os.Exit(1)
	}

	if err := client.Authenticate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "login failed: %v\n", err)
		os.Exit(1)
	}

	if err := client.SaveSession(*out); err != nil {
		fmt.Fprintf(os.Stderr, "saving cookies: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Login successful for %s. Cookies saved to %s\n", client.Login(), *out)
}
