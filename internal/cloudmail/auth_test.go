package cloudmail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/cloudmail-upload/internal/cookiefile"
)

func TestAuthenticate_Success(t *testing.T) {
	srv := newFake(t)
	c := newTestClient(t, srv.URL, testLogin, testPassword)

	require.NoError(t, c.Authenticate(context.Background()))

	assert.Equal(t, 1, srv.Logins())
	assert.NotEmpty(t, c.csrfToken)
	assert.Equal(t, testLogin, c.sessionLogin)
}

func TestAuthenticate_WrongPassword(t *testing.T) {
	srv := newFake(t)
	c := newTestClient(t, srv.URL, testLogin, "wrong")

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, 0, srv.Logins())
	assert.NotContains(t, err.Error(), "wrong", "password must not appear in errors")
}

func TestAuthenticate_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testLogin, testPassword)

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAuthFailed)
	assert.ErrorIs(t, err, ErrServerError)
}

func TestAuthenticate_SendsLoginForm(t *testing.T) {
	var got url.Values

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/cgi-bin/auth" {
			assert.NoError(t, r.ParseForm())
			got = r.PostForm
		}

		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testLogin, testPassword)

	err := c.Authenticate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuthFailed)

	require.NotNil(t, got)
	assert.Equal(t, testLogin, got.Get("Login"))
	assert.Equal(t, testPassword, got.Get("Password"))
	assert.Equal(t, srv.URL+"/home", got.Get("page"))
}

func TestSessionValid_AfterAuthenticate(t *testing.T) {
	srv := newFake(t)
	c := newTestClient(t, srv.URL, testLogin, testPassword)
	require.NoError(t, c.Authenticate(context.Background()))

	ok, err := c.SessionValid(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSessionValid_EmptyJar(t *testing.T) {
	srv := newFake(t)
	c := newTestClient(t, srv.URL, testLogin, testPassword)

	ok, err := c.SessionValid(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, srv.Logins(), "validation must never log in")
}

func TestSessionValid_RevokedSession(t *testing.T) {
	srv := newFake(t)
	c := newTestClient(t, srv.URL, testLogin, testPassword)
	require.NoError(t, c.Authenticate(context.Background()))

	srv.RevokeSessions()

	ok, err := c.SessionValid(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionValid_OtherAccount(t *testing.T) {
	srv := newFake(t)
	c := newTestClient(t, srv.URL, testLogin, testPassword)
	c.sessionLogin = "someone@mail.ru"

	ok, err := c.SessionValid(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSessionValid_ServerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, testLogin, testPassword)

	ok, err := c.SessionValid(context.Background())
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrServerError)
}

func TestSaveAndLoadSession_RoundTrip(t *testing.T) {
	srv := newFake(t)
	path := filepath.Join(t.TempDir(), "cookies.json")

	first := newTestClient(t, srv.URL, testLogin, testPassword)
	require.NoError(t, first.Authenticate(context.Background()))
	require.NoError(t, first.SaveSession(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(cookiefile.FilePerms), info.Mode().Perm())

	second := newTestClient(t, srv.URL, testLogin, "")
	require.NoError(t, second.LoadSession(path))

	ok, err := second.SessionValid(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, srv.Logins(), "restored session must not log in again")
}

func TestSaveSession_RecordsLogin(t *testing.T) {
	srv := newFake(t)
	path := filepath.Join(t.TempDir(), "cookies.json")

	c := newTestClient(t, srv.URL, testLogin, testPassword)
	require.NoError(t, c.Authenticate(context.Background()))
	require.NoError(t, c.SaveSession(path))

	f, err := cookiefile.Load(path)
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, testLogin, f.Login)
	assert.Contains(t, f.Sites, srv.URL+"/")
	assert.False(t, f.SavedAt.IsZero())
}

func TestLoadSession_MissingFile(t *testing.T) {
	c := newTestClient(t, "http://unused.test", testLogin, "")

	err := c.LoadSession(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session file")
}

func TestLoadSession_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	c := newTestClient(t, "http://unused.test", testLogin, "")

	err := c.LoadSession(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestLoadSession_RecordsSessionLogin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, cookiefile.Save(path, &cookiefile.File{
		Login: "other@mail.ru",
		Sites: map[string][]cookiefile.Cookie{"https://cloud.mail.ru/": {{Name: "Mpop", Value: "x"}}},
	}))

	c := newTestClient(t, "https://cloud.mail.ru", testLogin, "")
	require.NoError(t, c.LoadSession(path))

	assert.Equal(t, "other@mail.ru", c.sessionLogin)

	u, _ := url.Parse("https://cloclo1.cloud.mail.ru/upload/")
	cookies := c.jar.Cookies(u)
	require.Len(t, cookies, 1, "restored cookies are domain cookies and reach upload shards")
	assert.Equal(t, "Mpop", cookies[0].Name)
}

func TestAuthenticate_DropsLoadedCookies(t *testing.T) {
	srv := newFake(t)
	path := filepath.Join(t.TempDir(), "cookies.json")
	require.NoError(t, cookiefile.Save(path, &cookiefile.File{
		Login: "other@mail.ru",
		Sites: map[string][]cookiefile.Cookie{srv.URL + "/": {{Name: "stale", Value: "other-account"}}},
	}))

	c := newTestClient(t, srv.URL, testLogin, testPassword)
	require.NoError(t, c.LoadSession(path))

	ok, err := c.SessionValid(context.Background())
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, c.Authenticate(context.Background()))

	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)

	cookies := c.jar.Cookies(u)
	require.NotEmpty(t, cookies, "the new login sets its own session cookie")

	for _, ck := range cookies {
		assert.NotEqual(t, "stale", ck.Name)
	}

	assert.Same(t, c.jar, c.httpClient.Jar)
	assert.Same(t, c.jar, c.transfer.Jar)
	assert.Equal(t, testLogin, c.sessionLogin)
}

func TestCookieDomain(t *testing.T) {
	assert.Equal(t, "mail.ru", cookieDomain("cloud.mail.ru"))
	assert.Equal(t, "mail.ru", cookieDomain("auth.mail.ru"))
	assert.Equal(t, "", cookieDomain("127.0.0.1"))
	assert.Equal(t, "", cookieDomain("localhost"))
}
