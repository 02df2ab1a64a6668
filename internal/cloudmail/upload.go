package cloudmail

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// maxHashResponse bounds how much of a shard response is read as the hash.
const maxHashResponse = 1024

// dispatcherResponse is the body of /api/v2/dispatcher.
type dispatcherResponse struct {
	Upload []shard `json:"upload"`
}

type shard struct {
	URL   string `json:"url"`
	Count string `json:"count"`
}

// UploadFile uploads the bytes of localPath to remotePath. An existing file
// at remotePath is replaced. The parent folder must already exist.
func (c *Client) UploadFile(ctx context.Context, localPath, remotePath string) error {
	home := rootedPath(remotePath)

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening local file: %w", err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stating local file: %w", err)
	}

	c.logger.Info("uploading file",
		slog.String("local_path", localPath),
		slog.String("remote_path", home),
		slog.Int64("size", fi.Size()),
	)

	shardURL, err := c.uploadShard(ctx)
	if err != nil {
		return err
	}

	hash, err := c.putContent(ctx, shardURL, f, fi.Size())
	if err != nil {
		return fmt.Errorf("cloudmail: uploading %q: %w", home, err)
	}

	if err := c.addFile(ctx, home, hash, fi.Size()); err != nil {
		return err
	}

	c.logger.Debug("upload complete", slog.String("remote_path", home), slog.String("hash", hash))

	return nil
}

// uploadShard returns the upload endpoint, asking the dispatcher once per
// client.
func (c *Client) uploadShard(ctx context.Context) (string, error) {
	if c.uploadURL != "" {
		return c.uploadURL, nil
	}

	q := url.Values{"api": {"2"}, "token": {c.csrfToken}}

	resp, err := c.Do(ctx, http.MethodGet, c.cloudURL+"/api/v2/dispatcher?"+q.Encode(), "", nil)
	if err != nil {
		return "", fmt.Errorf("cloudmail: querying dispatcher: %w", err)
	}

	var body dispatcherResponse
	if err := decodeBody(resp, &body); err != nil {
		return "", fmt.Errorf("cloudmail: dispatcher response: %w", err)
	}

	if len(body.Upload) == 0 || body.Upload[0].URL == "" {
		return "", ErrNoUploadShard
	}

	c.uploadURL = body.Upload[0].URL

	c.logger.Debug("resolved upload shard", slog.String("shard", logPath(c.uploadURL)))

	return c.uploadURL, nil
}

// putContent streams r to the upload shard and returns the content hash the
// shard assigns. Unlike Do, this does not retry: a partially consumed
// reader cannot be replayed.
func (c *Client) putContent(ctx context.Context, shardURL string, r io.Reader, size int64) (string, error) {
	sep := "?"
	if strings.Contains(shardURL, "?") {
		sep = "&"
	}

	target := shardURL + sep + url.Values{"cloud_domain": {"2"}, "x-email": {c.login}}.Encode()

	resp, err := c.doRawUpload(ctx, http.MethodPut, target, "application/octet-stream", r, size)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxHashResponse))
	if err != nil {
		return "", fmt.Errorf("reading shard response: %w", err)
	}

	hash := strings.TrimSpace(string(raw))
	if hash == "" {
		return "", fmt.Errorf("shard returned an empty hash")
	}

	return hash, nil
}

// doRawUpload sends a single request with a streamed body on the transfer
// client.
func (c *Client) doRawUpload(
	ctx context.Context, method, rawURL, contentType string, body io.Reader, size int64,
) (*http.Response, error) {
	path := logPath(rawURL)

	c.logger.Debug("preparing raw upload request",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int64("size", size),
	)

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("creating raw upload request: %w", err)
	}

	// Without an explicit length the request would be sent chunked, which
	// upload shards reject.
	req.ContentLength = size
	if size == 0 {
		req.Body = http.NoBody
	}

	c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.transfer.Do(req)
	if err != nil {
		c.logger.Error("raw upload request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		return nil, fmt.Errorf("raw upload request failed: %w", err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		errBody, _ := io.ReadAll(resp.Body) //nolint:errcheck // best-effort read for error message
		resp.Body.Close()

		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    strings.TrimSpace(string(errBody)),
			Err:        classifyStatus(resp.StatusCode),
		}
	}

	return resp, nil
}
