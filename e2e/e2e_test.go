//go:build e2e

package e2e

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudmail-upload/testutil"
)

var (
	binaryPath string
	login      string
	password   string
	moduleRoot string
)

func TestMain(m *testing.M) {
	moduleRoot = testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(moduleRoot, ".env"))

	login = testutil.RequireEnv(testutil.EnvTestLogin)
	password = testutil.RequireEnv(testutil.EnvTestPassword)
	testutil.ValidateAllowlist(login)

	// Build binary to temp dir.
	tmpDir, err := os.MkdirTemp("", "cloudmail-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "cloudmail-upload")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = moduleRoot
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	// Keep the user's config out of the run.
	os.Setenv("XDG_CONFIG_HOME", filepath.Join(tmpDir, "config"))
	os.Unsetenv("CLOUDMAIL_UPLOAD_CONFIG")
	os.Unsetenv("CLOUDMAIL_UPLOAD_LOG_LEVEL")

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// runCLI runs the binary and returns stderr. It fails the test on a
// non-zero exit unless wantErr is set.
func runCLI(t *testing.T, wantErr bool, args ...string) string {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if wantErr {
		require.Error(t, err, "stderr: %s", stderr.String())
	} else {
		require.NoError(t, err, "stderr: %s", stderr.String())
	}

	return stderr.String()
}

// remoteFolder returns a unique destination so runs never collide.
func remoteFolder(t *testing.T) string {
	t.Helper()

	return fmt.Sprintf("/e2e-cloudmail-upload/%s-%d", t.Name(), time.Now().UnixNano())
}

func makeTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deeper"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "emptydir"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("beta\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deeper", "empty.bin"), nil, 0o644))

	return root
}

func TestE2E_UploadTree(t *testing.T) {
	out := runCLI(t, false, login, password, makeTree(t), remoteFolder(t))
	assert.Contains(t, out, "Uploaded 3 files")
	assert.Contains(t, out, "into 4 folders")
}

func TestE2E_UploadTwiceIsIdempotent(t *testing.T) {
	root := makeTree(t)
	dest := remoteFolder(t)

	first := runCLI(t, false, login, password, root, dest)
	second := runCLI(t, false, login, password, root, dest)

	assert.Contains(t, first, "Uploaded 3 files")
	assert.Contains(t, second, "Uploaded 3 files")
}

func TestE2E_CookiesRoundTrip(t *testing.T) {
	cookies := filepath.Join(t.TempDir(), "cookies.json")
	root := makeTree(t)
	dest := remoteFolder(t)

	runCLI(t, false, "--cookies", cookies, login, password, root, dest)
	require.FileExists(t, cookies)

	info, err := os.Stat(cookies)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// The saved session must carry the second run: a wrong password would
	// fail if a credential login were attempted.
	out := runCLI(t, false, "--verbose", "--cookies", cookies, login, "not-the-password", root, dest)
	assert.Contains(t, out, "reusing saved session")
}

func TestE2E_WrongPasswordFails(t *testing.T) {
	cookies := filepath.Join(t.TempDir(), "cookies.json")

	out := runCLI(t, true, "--cookies", cookies, login, "not-the-password", makeTree(t), remoteFolder(t))
	assert.Contains(t, out, "authentication failed")
	assert.NoFileExists(t, cookies)
}

func TestE2E_BootstrappedCookies(t *testing.T) {
	src := filepath.Join(moduleRoot, ".testdata", testutil.CookiesFileName(login))
	if _, err := os.Stat(src); err != nil {
		t.Skip("no bootstrapped cookies; run go run ./cmd/cookies-bootstrap")
	}

	cookies := filepath.Join(t.TempDir(), "cookies.json")
	testutil.CopyFile(src, cookies, 0o600)

	runCLI(t, false, "--cookies", cookies, login, password, makeTree(t), remoteFolder(t))
}
