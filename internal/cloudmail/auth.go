package cloudmail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/tonimelisma/cloudmail-upload/internal/cookiefile"
)

// csrfResponse is the body of /api/v2/tokens/csrf.
type csrfResponse struct {
	Token string `json:"token"`
}

// Authenticate performs a full credential login:
//  1. Posts the login form to the auth service
//  2. Visits the SDC endpoint so the cloud domain receives its session cookie
//  3. Fetches a CSRF token, which only succeeds for an accepted session
//
// Returns an error wrapping ErrAuthFailed when the credentials are rejected.
// Authenticate does not retry beyond the transport-level retry in Do.
func (c *Client) Authenticate(ctx context.Context) error {
	c.logger.Info("authenticating with credentials", slog.String("login", c.login))

	// Cookies restored from a session file, possibly another account's,
	// must not ride along with the new login.
	if err := c.resetJar(); err != nil {
		return err
	}

	c.sessionLogin = ""
	c.csrfToken = ""
	c.uploadURL = ""

	form := url.Values{
		"Login":         {c.login},
		"Password":      {c.password},
		"saveauth":      {"1"},
		"new_auth_form": {"1"},
		"page":          {c.cloudURL + "/home"},
	}

	resp, err := c.Do(ctx, http.MethodPost, c.authURL+"/cgi-bin/auth", formContentType, []byte(form.Encode()))
	if err != nil {
		if isSessionRejected(err) {
			return fmt.Errorf("%w: login form rejected for %s: %w", ErrAuthFailed, c.login, err)
		}

		return fmt.Errorf("cloudmail: posting login form: %w", err)
	}

	drain(resp)

	sdcURL := c.authURL + "/sdc?from=" + url.QueryEscape(c.cloudURL+"/home")

	resp, err = c.Do(ctx, http.MethodGet, sdcURL, "", nil)
	if err != nil {
		if isSessionRejected(err) {
			return fmt.Errorf("%w: cloud session refused for %s: %w", ErrAuthFailed, c.login, err)
		}

		return fmt.Errorf("cloudmail: requesting cloud session: %w", err)
	}

	drain(resp)

	if err := c.fetchCSRF(ctx); err != nil {
		if isSessionRejected(err) {
			return fmt.Errorf("%w: credentials not accepted for %s: %w", ErrAuthFailed, c.login, err)
		}

		return fmt.Errorf("cloudmail: fetching csrf token: %w", err)
	}

	c.sessionLogin = c.login

	c.logger.Info("authentication successful", slog.String("login", c.login))

	return nil
}

// SessionValid reports whether the cookies currently in the jar belong to an
// accepted session for this client's login. It never sends credentials.
// A session the server refuses yields (false, nil). Transport and server
// failures are returned as errors.
func (c *Client) SessionValid(ctx context.Context) (bool, error) {
	if c.sessionLogin != "" && c.sessionLogin != c.login {
		c.logger.Warn("saved session belongs to a different account",
			slog.String("session_login", c.sessionLogin),
			slog.String("login", c.login),
		)

		return false, nil
	}

	if err := c.fetchCSRF(ctx); err != nil {
		if isSessionRejected(err) {
			c.logger.Info("saved session rejected by server", slog.String("error", err.Error()))
			return false, nil
		}

		return false, fmt.Errorf("cloudmail: validating session: %w", err)
	}

	c.logger.Debug("saved session accepted")

	return true, nil
}

// fetchCSRF obtains the per-session token required by API write calls.
func (c *Client) fetchCSRF(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodPost, c.cloudURL+"/api/v2/tokens/csrf", formContentType, []byte("api=2"))
	if err != nil {
		return err
	}

	var body csrfResponse
	if err := decodeBody(resp, &body); err != nil {
		return fmt.Errorf("cloudmail: csrf response: %w", err)
	}

	if body.Token == "" {
		return errors.New("cloudmail: csrf response carried no token")
	}

	c.csrfToken = body.Token

	return nil
}

// LoadSession restores cookies from a session file into the jar. The file
// must exist; callers check existence first. A file that cannot be decoded
// is an error.
func (c *Client) LoadSession(path string) error {
	f, err := cookiefile.Load(path)
	if err != nil {
		return err
	}

	if f == nil {
		return fmt.Errorf("cloudmail: no session file at %s", path)
	}

	for site, saved := range f.Sites {
		u, err := url.Parse(site)
		if err != nil {
			return fmt.Errorf("cloudmail: session file %s: bad site %q: %w", path, site, err)
		}

		domain := cookieDomain(u.Hostname())

		cookies := make([]*http.Cookie, 0, len(saved))
		for _, sc := range saved {
			cookies = append(cookies, &http.Cookie{
				Name:   sc.Name,
				Value:  sc.Value,
				Path:   "/",
				Domain: domain,
			})
		}

		c.jar.SetCookies(u, cookies)
	}

	c.sessionLogin = f.Login

	c.logger.Info("loaded saved session",
		slog.String("path", path),
		slog.String("session_login", f.Login),
		slog.Int("cookies", f.Len()),
		slog.Time("saved_at", f.SavedAt),
	)

	return nil
}

// SaveSession writes the jar's cookies for every service endpoint to path.
func (c *Client) SaveSession(path string) error {
	f := &cookiefile.File{
		Login:   c.login,
		SavedAt: time.Now().UTC(),
		Sites:   make(map[string][]cookiefile.Cookie),
	}

	for _, site := range c.sessionSites() {
		u, err := url.Parse(site)
		if err != nil {
			return fmt.Errorf("cloudmail: bad site %q: %w", site, err)
		}

		jarCookies := c.jar.Cookies(u)
		if len(jarCookies) == 0 {
			continue
		}

		saved := make([]cookiefile.Cookie, 0, len(jarCookies))
		for _, jc := range jarCookies {
			saved = append(saved, cookiefile.Cookie{Name: jc.Name, Value: jc.Value})
		}

		f.Sites[site] = saved
	}

	if err := cookiefile.Save(path, f); err != nil {
		return err
	}

	c.logger.Info("saved session",
		slog.String("path", path),
		slog.Int("cookies", f.Len()),
	)

	return nil
}

// sessionSites lists the URLs whose cookies make up a session.
func (c *Client) sessionSites() []string {
	sites := []string{c.authURL + "/", c.cloudURL + "/"}
	if c.uploadURL != "" {
		if u, err := url.Parse(c.uploadURL); err == nil {
			sites = append(sites, u.Scheme+"://"+u.Host+"/")
		}
	}

	return sites
}

// cookieDomain returns the registrable domain for host so restored cookies
// reach every service host (auth, cloud, upload shards). IP literals and
// hosts without a public suffix get host-only cookies.
func cookieDomain(host string) string {
	if net.ParseIP(host) != nil {
		return ""
	}

	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}

	return domain
}
