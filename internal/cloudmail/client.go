package cloudmail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Default service endpoints.
const (
	DefaultAuthURL  = "https://auth.mail.ru"
	DefaultCloudURL = "https://cloud.mail.ru"
)

// Retry and backoff constants.
const (
	maxRetries     = 5
	baseBackoff    = 1 * time.Second
	maxBackoff     = 60 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
)

// Form content type used by every Mail.ru Cloud API write call.
const formContentType = "application/x-www-form-urlencoded"

// Options configures a Client. Login and Password are only sent when
// Authenticate runs; a session restored from disk never uses them.
type Options struct {
	Login    string
	Password string

	AuthURL   string // default DefaultAuthURL
	CloudURL  string // default DefaultCloudURL
	UserAgent string // empty leaves net/http's default

	// HTTPClient is used for API calls and TransferClient for file bodies.
	// Both are copied and given the client's cookie jar. Nil means a
	// zero-value http.Client.
	HTTPClient     *http.Client
	TransferClient *http.Client
}

// Client is an HTTP client for the Mail.ru Cloud web API. It owns the cookie
// jar that carries the session, the CSRF token the API requires on every call
// and the upload shard URL. A Client is not safe for concurrent use.
type Client struct {
	authURL   string
	cloudURL  string
	login     string
	password  string
	userAgent string

	jar        http.CookieJar
	httpClient *http.Client
	transfer   *http.Client
	logger     *slog.Logger

	// sessionLogin is the account a loaded session file was saved for.
	sessionLogin string
	csrfToken    string
	uploadURL    string

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Mail.ru Cloud client with an empty cookie jar.
func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Login == "" {
		return nil, errors.New("cloudmail: login is required")
	}

	jar, err := newJar()
	if err != nil {
		return nil, err
	}

	c := &Client{
		authURL:    strings.TrimRight(withDefault(opts.AuthURL, DefaultAuthURL), "/"),
		cloudURL:   strings.TrimRight(withDefault(opts.CloudURL, DefaultCloudURL), "/"),
		login:      opts.Login,
		password:   opts.Password,
		userAgent:  opts.UserAgent,
		jar:        jar,
		httpClient: withJar(opts.HTTPClient, jar),
		transfer:   withJar(opts.TransferClient, jar),
		logger:     logger,
		sleepFunc:  timeSleep,
	}

	return c, nil
}

func newJar() (http.CookieJar, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("cloudmail: creating cookie jar: %w", err)
	}

	return jar, nil
}

// resetJar replaces the jar on both HTTP clients, dropping every cookie.
func (c *Client) resetJar() error {
	jar, err := newJar()
	if err != nil {
		return err
	}

	c.jar = jar
	c.httpClient.Jar = jar
	c.transfer.Jar = jar

	return nil
}

func withDefault(v, def string) string {
	if v == "" {
		return def
	}

	return v
}

// withJar returns a shallow copy of tmpl that stores cookies in jar.
func withJar(tmpl *http.Client, jar http.CookieJar) *http.Client {
	hc := &http.Client{}
	if tmpl != nil {
		cp := *tmpl
		hc = &cp
	}

	hc.Jar = jar

	return hc
}

// Login returns the account this client authenticates as.
func (c *Client) Login() string {
	return c.login
}

// Do executes a request against rawURL with retry on transient failures.
// body is resent in full on every attempt. The caller is responsible for
// closing the response body on success.
func (c *Client) Do(ctx context.Context, method, rawURL, contentType string, body []byte) (*http.Response, error) {
	path := logPath(rawURL)

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, rawURL, contentType, body)
		if err != nil {
			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("cloudmail: request canceled: %w", ctx.Err())
			}

			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("cloudmail: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, fmt.Errorf("cloudmail: %s %s failed after %d retries: %w", method, path, maxRetries, err)
		}

		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return resp, nil
		}

		errBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("cloudmail: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    strings.TrimSpace(string(errBody)),
			Err:        classifyStatus(resp.StatusCode),
		}
	}
}

// doOnce executes a single request (no retry).
func (c *Client) doOnce(ctx context.Context, method, rawURL, contentType string, body []byte) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	c.setHeaders(req)

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return c.httpClient.Do(req)
}

func (c *Client) setHeaders(req *http.Request) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Accept", "application/json, text/plain, */*")
}

// postForm sends an API write call. The CSRF token and API version are added
// to the form.
func (c *Client) postForm(ctx context.Context, apiPath string, form url.Values) (*http.Response, error) {
	form.Set("api", "2")
	form.Set("token", c.csrfToken)

	return c.Do(ctx, http.MethodPost, c.cloudURL+apiPath, formContentType, []byte(form.Encode()))
}

// envelope is the JSON wrapper around every Mail.ru Cloud API response.
type envelope struct {
	Email  string          `json:"email"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// decodeBody reads an API response and decodes its "body" field into v.
func decodeBody(resp *http.Response, v any) error {
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decoding response envelope: %w", err)
	}

	if v == nil || len(env.Body) == 0 {
		return nil
	}

	if err := json.Unmarshal(env.Body, v); err != nil {
		return fmt.Errorf("decoding response body: %w", err)
	}

	return nil
}

// drain discards and closes a response body the caller does not need.
func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// logPath strips the query string so tokens never reach the log.
func logPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	return u.Host + u.Path
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
				return time.Duration(seconds) * time.Second
			}
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
