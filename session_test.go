package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSession records which session operations ran.
type fakeSession struct {
	calls []string

	loadErr   error
	valid     bool
	validErr  error
	authErr   error
	saveErr   error
	savedPath string
}

func (f *fakeSession) LoadSession(string) error {
	f.calls = append(f.calls, "load")
	return f.loadErr
}

func (f *fakeSession) SessionValid(context.Context) (bool, error) {
	f.calls = append(f.calls, "valid")
	return f.valid, f.validErr
}

func (f *fakeSession) Authenticate(context.Context) error {
	f.calls = append(f.calls, "auth")
	return f.authErr
}

func (f *fakeSession) SaveSession(path string) error {
	f.calls = append(f.calls, "save")
	f.savedPath = path

	return f.saveErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func existingCookies(t *testing.T) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(p, []byte("{}"), 0o600))

	return p
}

func TestBootstrapSession_ValidCookiesSkipAuthentication(t *testing.T) {
	f := &fakeSession{valid: true}

	require.NoError(t, bootstrapSession(context.Background(), f, existingCookies(t), discardLogger()))
	assert.Equal(t, []string{"load", "valid"}, f.calls)
}

func TestBootstrapSession_InvalidCookiesAuthenticateOnce(t *testing.T) {
	f := &fakeSession{valid: false}

	require.NoError(t, bootstrapSession(context.Background(), f, existingCookies(t), discardLogger()))
	assert.Equal(t, []string{"load", "valid", "auth"}, f.calls)
}

func TestBootstrapSession_MissingCookiesAuthenticateOnce(t *testing.T) {
	f := &fakeSession{}
	path := filepath.Join(t.TempDir(), "absent.json")

	require.NoError(t, bootstrapSession(context.Background(), f, path, discardLogger()))
	assert.Equal(t, []string{"auth"}, f.calls)
}

func TestBootstrapSession_NoCookiesFlag(t *testing.T) {
	f := &fakeSession{valid: true}

	require.NoError(t, bootstrapSession(context.Background(), f, "", discardLogger()))
	assert.Equal(t, []string{"auth"}, f.calls, "no session file is read without --cookies")
}

func TestBootstrapSession_AuthFailurePropagates(t *testing.T) {
	authErr := errors.New("bad credentials")
	f := &fakeSession{authErr: authErr}

	err := bootstrapSession(context.Background(), f, "", discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, []string{"auth"}, f.calls, "authentication is not retried")
}

func TestBootstrapSession_CorruptCookiesFatal(t *testing.T) {
	loadErr := errors.New("decoding")
	f := &fakeSession{loadErr: loadErr}

	err := bootstrapSession(context.Background(), f, existingCookies(t), discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, loadErr)
	assert.Equal(t, []string{"load"}, f.calls)
}

func TestBootstrapSession_ValidationErrorFatal(t *testing.T) {
	validErr := errors.New("network down")
	f := &fakeSession{validErr: validErr}

	err := bootstrapSession(context.Background(), f, existingCookies(t), discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, validErr)
	assert.Equal(t, []string{"load", "valid"}, f.calls)
}

func TestPersistSession_SavesWhenPathGiven(t *testing.T) {
	f := &fakeSession{}

	require.NoError(t, persistSession(f, "/tmp/c.json", discardLogger()))
	assert.Equal(t, []string{"save"}, f.calls)
	assert.Equal(t, "/tmp/c.json", f.savedPath)
}

func TestPersistSession_NoPathNoWrite(t *testing.T) {
	f := &fakeSession{}

	require.NoError(t, persistSession(f, "", discardLogger()))
	assert.Empty(t, f.calls)
}

func TestPersistSession_ErrorPropagates(t *testing.T) {
	saveErr := errors.New("read-only")
	f := &fakeSession{saveErr: saveErr}

	err := persistSession(f, "/tmp/c.json", discardLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, saveErr)
}
