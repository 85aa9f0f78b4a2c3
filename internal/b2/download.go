package b2

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// FileURL returns the download URL for an object name: the session's
// download base URL joined with "file", the bucket name, and the name.
// It requires a session (the download base URL is only known after
// authorization) but makes no further network calls.
func (c *Client) FileURL(ctx context.Context, name string) (string, error) {
	sess, _, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}

	return sess.downloadURL + "/file/" + escapeFileName(c.opts.BucketName) + "/" + escapeFileName(name), nil
}

// Download fetches the full object body and streams it to w, returning the
// number of bytes written. There is no partial or resumable download; a
// non-success status is a classified error, never returned as content.
// The first 401 re-authorizes once and retries the request once.
func (c *Client) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	c.logger.Info("downloading file",
		slog.String("name", name),
	)

	sess, _, err := c.ensureSession(ctx)
	if err != nil {
		return 0, err
	}

	resp, err := c.doDownload(ctx, sess, name)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // best effort
		resp.Body.Close()

		sess, _, err = c.reauthorize(ctx, sess.token)
		if err != nil {
			return 0, err
		}

		resp, err = c.doDownload(ctx, sess, name)
		if err != nil {
			return 0, err
		}
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, parseAPIError(resp)
	}

	n, copyErr := io.Copy(w, resp.Body)
	if copyErr != nil {
		c.logger.Error("streaming download content failed",
			slog.String("name", name),
			slog.Int64("bytes_before_error", n),
			slog.String("error", copyErr.Error()),
		)

		return n, fmt.Errorf("b2: streaming download content: %w", copyErr)
	}

	c.logger.Debug("download complete",
		slog.String("name", name),
		slog.Int64("bytes_written", n),
	)

	return n, nil
}

// doDownload issues a single authorized GET for the object (no retry).
func (c *Client) doDownload(ctx context.Context, sess session, name string) (*http.Response, error) {
	downloadURL := sess.downloadURL + "/file/" + escapeFileName(c.opts.BucketName) + "/" + escapeFileName(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("b2: creating download request: %w", err)
	}

	req.Header.Set("Authorization", sess.token)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("b2: download request failed: %w", err)
	}

	return resp, nil
}
