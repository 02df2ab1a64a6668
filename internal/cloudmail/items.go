package cloudmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// Conflict modes understood by folder/add and file/add.
const (
	conflictStrict  = "strict"
	conflictRewrite = "rewrite"
)

// fieldErrorCodeExists is the per-field error code for an existing name.
const fieldErrorCodeExists = "exists"

// fieldError is the shape of a rejected field in a 400 response body.
type fieldError struct {
	Error string `json:"error"`
	Value any    `json:"value,omitempty"`
}

// CreateFolder creates the folder at remotePath, including missing parents.
// Creating a folder that already exists succeeds without changing anything.
func (c *Client) CreateFolder(ctx context.Context, remotePath string) error {
	home := rootedPath(remotePath)
	if home == "/" {
		c.logger.Debug("skipping create for cloud root")
		return nil
	}

	c.logger.Info("creating folder", slog.String("remote_path", home))

	resp, err := c.postForm(ctx, "/api/v2/folder/add", url.Values{
		"home":     {home},
		"conflict": {conflictStrict},
	})
	if err != nil {
		if fieldErrorCode(err, "home") == fieldErrorCodeExists {
			c.logger.Debug("folder already exists", slog.String("remote_path", home))
			return nil
		}

		return fmt.Errorf("cloudmail: creating folder %q: %w", home, err)
	}

	drain(resp)

	return nil
}

// addFile links uploaded content (identified by hash) at remotePath,
// replacing any file already there.
func (c *Client) addFile(ctx context.Context, home, hash string, size int64) error {
	resp, err := c.postForm(ctx, "/api/v2/file/add", url.Values{
		"home":     {home},
		"hash":     {hash},
		"size":     {fmt.Sprint(size)},
		"conflict": {conflictRewrite},
	})
	if err != nil {
		return fmt.Errorf("cloudmail: adding file %q: %w", home, err)
	}

	drain(resp)

	return nil
}

// fieldErrorCode extracts the error code the API reported for field from a
// 400 response, or "" when err is not such a response.
func fieldErrorCode(err error, field string) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		return ""
	}

	var env envelope
	if jsonErr := json.Unmarshal([]byte(apiErr.Message), &env); jsonErr != nil {
		return ""
	}

	var fields map[string]fieldError
	if jsonErr := json.Unmarshal(env.Body, &fields); jsonErr != nil {
		return ""
	}

	return fields[field].Error
}

// rootedPath turns a cloud path into the absolute form the API expects.
// "dest" and "/dest" both address the same folder.
func rootedPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		return "/" + p
	}

	return p
}
