package b2

import (
	"context"
	"crypto/sha1" //nolint:gosec // the B2 protocol mandates SHA-1 content hashes
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// uploadTarget is a short-lived {URL, token} pair authorizing uploads to one
// destination. Obtained per upload (or per part) and never reused across
// unrelated uploads.
type uploadTarget struct {
	url   string
	token string
}

// retryPolicy bounds upload attempts. maxRetries counts retries after the
// first attempt, so maxRetries+1 attempts are made in total.
type retryPolicy struct {
	maxRetries int
}

func (p retryPolicy) attempts() int {
	if p.maxRetries < 0 {
		return 1
	}

	return p.maxRetries + 1
}

// errRewind marks content-stream positioning failures, which no retry fixes.
var errRewind = errors.New("b2: repositioning content stream")

// Upload stores the stream under the given object name and returns the
// service's description of the stored file. The stream must be exclusively
// owned by this call for its duration: its seek position is used to measure
// length, compute hashes, and re-read bytes on retry.
//
// Streams no longer than the configured minimum part size (or any stream,
// when no part size is configured) take the single-shot path; larger streams
// take the chunked large-file path. Re-uploading an existing name creates a
// new version on the service; nothing here deduplicates.
func (c *Client) Upload(ctx context.Context, name string, content io.ReadSeeker) (*FileInfo, error) {
	size, err := streamLength(content)
	if err != nil {
		return nil, err
	}

	if c.opts.MinimumPartSize > 0 && size > c.opts.MinimumPartSize {
		return c.uploadLarge(ctx, name, content, size)
	}

	return c.uploadSingle(ctx, name, content, size)
}

// uploadSingle uploads the whole stream in one request against a fresh
// upload target descriptor.
func (c *Client) uploadSingle(ctx context.Context, name string, content io.ReadSeeker, size int64) (*FileInfo, error) {
	c.logger.Info("uploading file",
		slog.String("name", name),
		slog.Int64("size", size),
		slog.String("path", "single-shot"),
	)

	target, err := c.uploadTargetForBucket(ctx)
	if err != nil {
		return nil, err
	}

	sha, err := hashSection(content, 0, size)
	if err != nil {
		return nil, err
	}

	policy := retryPolicy{maxRetries: c.opts.MaxRetries}

	resp, err := c.runUploadAttempts(ctx, fmt.Sprintf("upload of %q", name), policy,
		func(ctx context.Context) (*http.Response, error) {
			if _, seekErr := content.Seek(0, io.SeekStart); seekErr != nil {
				return nil, fmt.Errorf("%w: %v", errRewind, seekErr)
			}

			return c.doUpload(ctx, target, fileUploadHeaders(name, c.opts.ContentType, sha, size), io.LimitReader(content, size))
		},
		func(ctx context.Context) error {
			// The old descriptor was issued under a now-stale session and
			// must not be reused.
			fresh, refreshErr := c.uploadTargetForBucket(ctx)
			if refreshErr != nil {
				return refreshErr
			}

			target = fresh

			return nil
		})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fir fileInfoResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&fir); decErr != nil {
		return nil, fmt.Errorf("b2: decoding upload response: %w", decErr)
	}

	fi := fir.toFileInfo()

	c.logger.Debug("upload complete",
		slog.String("file_id", fi.FileID),
		slog.String("sha1", fi.ContentSHA1),
	)

	return &fi, nil
}

// uploadLarge drives the chunked large-file protocol: start a large-file
// session, upload sequentially numbered parts of exactly the minimum part
// size (short final remainder allowed, zero-length parts never emitted), and
// commit the ordered part hash list. A failed part aborts the whole upload;
// the unfinished large-file session is left for the service's lifecycle
// rules to clean up.
func (c *Client) uploadLarge(ctx context.Context, name string, content io.ReadSeeker, size int64) (*FileInfo, error) {
	partSize := c.opts.MinimumPartSize
	partCount := int((size + partSize - 1) / partSize)

	c.logger.Info("uploading file",
		slog.String("name", name),
		slog.Int64("size", size),
		slog.String("path", "large-file"),
		slog.Int("parts", partCount),
	)

	fileID, err := c.startLargeFile(ctx, name)
	if err != nil {
		return nil, err
	}

	partSHA1s := make([]string, partCount)

	if c.opts.Concurrency > 1 {
		if ra, ok := content.(io.ReaderAt); ok {
			if parErr := c.uploadPartsParallel(ctx, fileID, ra, size, partSHA1s); parErr != nil {
				return nil, parErr
			}

			return c.finishLargeFile(ctx, fileID, partSHA1s, size)
		}

		c.logger.Warn("content does not support random access, uploading parts sequentially")
	}

	pu := &partUploader{c: c, fileID: fileID}

	var totalSent int64
	for part := 1; totalSent < size; part++ {
		length := partSize
		if remaining := size - totalSent; remaining < partSize {
			length = remaining
		}

		sha, partErr := pu.uploadPart(ctx, content, totalSent, length, part)
		if partErr != nil {
			return nil, partErr
		}

		partSHA1s[part-1] = sha
		totalSent += length
	}

	return c.finishLargeFile(ctx, fileID, partSHA1s, totalSent)
}

// uploadPartsParallel uploads all parts through a bounded errgroup. Each
// part's hash lands at its own index, so the committed list order is
// identical to the sequential path.
func (c *Client) uploadPartsParallel(ctx context.Context, fileID string, content io.ReaderAt, size int64, partSHA1s []string) error {
	partSize := c.opts.MinimumPartSize

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)

	for i := range partSHA1s {
		offset := int64(i) * partSize
		length := min(partSize, size-offset)
		partNumber := i + 1

		g.Go(func() error {
			// One upload-part descriptor per part: a descriptor's URL must
			// not be used by two goroutines at once.
			pu := &partUploader{c: c, fileID: fileID}

			sha, err := pu.uploadPart(gctx, io.NewSectionReader(content, offset, length), 0, length, partNumber)
			if err != nil {
				return err
			}

			partSHA1s[i] = sha

			return nil
		})
	}

	return g.Wait()
}

// partUploader uploads the numbered parts of one large-file session. It
// holds the current upload-part target descriptor, fetched lazily and
// refreshed whenever the service rejects its token.
type partUploader struct {
	c      *Client
	fileID string
	target *uploadTarget
}

// uploadPart hashes and uploads length bytes starting at offset, returning
// the part's hex SHA-1.
func (pu *partUploader) uploadPart(ctx context.Context, content io.ReadSeeker, offset, length int64, partNumber int) (string, error) {
	if pu.target == nil {
		target, err := pu.c.partUploadTarget(ctx, pu.fileID)
		if err != nil {
			return "", err
		}

		pu.target = target
	}

	sha, err := hashSection(content, offset, length)
	if err != nil {
		return "", err
	}

	pu.c.logger.Debug("uploading part",
		slog.Int("part_number", partNumber),
		slog.Int64("offset", offset),
		slog.Int64("length", length),
	)

	policy := retryPolicy{maxRetries: pu.c.opts.MaxRetries}

	resp, err := pu.c.runUploadAttempts(ctx, fmt.Sprintf("upload of part %d", partNumber), policy,
		func(ctx context.Context) (*http.Response, error) {
			if _, seekErr := content.Seek(offset, io.SeekStart); seekErr != nil {
				return nil, fmt.Errorf("%w: %v", errRewind, seekErr)
			}

			return pu.c.doUpload(ctx, pu.target, partUploadHeaders(partNumber, sha, length), io.LimitReader(content, length))
		},
		func(ctx context.Context) error {
			target, refreshErr := pu.c.partUploadTarget(ctx, pu.fileID)
			if refreshErr != nil {
				return refreshErr
			}

			pu.target = target

			return nil
		})
	if err != nil {
		return "", err
	}

	// The part response carries nothing we need. Drain to reuse the connection.
	io.Copy(io.Discard, resp.Body) //nolint:errcheck // best effort
	resp.Body.Close()

	return sha, nil
}

// runUploadAttempts drives the uniform upload retry policy over attempt:
// a transport error retries immediately, 200 succeeds, 400 aborts without
// retry, 401 expires the session and calls refresh before continuing, and
// any other status retries until the budget is exhausted. On success the
// response body is open and owned by the caller.
func (c *Client) runUploadAttempts(
	ctx context.Context, what string, policy retryPolicy,
	attempt func(ctx context.Context) (*http.Response, error),
	refresh func(ctx context.Context) error,
) (*http.Response, error) {
	var lastErr error

	for i := 1; i <= policy.attempts(); i++ {
		resp, err := attempt(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("b2: %s canceled: %w", what, ctx.Err())
			}

			if errors.Is(err, errRewind) {
				return nil, err
			}

			lastErr = err

			c.logger.Warn("connection error, retrying",
				slog.String("operation", what),
				slog.Int("attempt", i),
				slog.String("error", err.Error()),
			)

			continue
		}

		switch resp.StatusCode {
		case http.StatusOK:
			return resp, nil

		case http.StatusBadRequest:
			// Malformed request. Retrying cannot help.
			apiErr := parseAPIError(resp)
			resp.Body.Close()

			return nil, apiErr

		case http.StatusUnauthorized:
			apiErr := parseAPIError(resp)
			resp.Body.Close()
			lastErr = apiErr

			c.expireSession()

			if refreshErr := refresh(ctx); refreshErr != nil {
				return nil, refreshErr
			}

		default:
			apiErr := parseAPIError(resp)
			resp.Body.Close()
			lastErr = apiErr

			c.logger.Warn("upload attempt failed, retrying",
				slog.String("operation", what),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", i),
			)
		}
	}

	c.logger.Error("upload failed after retries",
		slog.String("operation", what),
		slog.Int("attempts", policy.attempts()),
	)

	return nil, fmt.Errorf("b2: %s failed after %d attempts: %w: %w", what, policy.attempts(), ErrRetryBudgetExhausted, lastErr)
}

// doUpload sends one data upload request to a target descriptor. Data calls
// carry the descriptor's token, not the session token.
func (c *Client) doUpload(ctx context.Context, target *uploadTarget, h uploadHeaders, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.url, body)
	if err != nil {
		return nil, fmt.Errorf("b2: creating upload request: %w", err)
	}

	req.ContentLength = h.length
	req.Header.Set("Authorization", target.token)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Bz-Content-Sha1", h.sha1)

	if h.partNumber > 0 {
		req.Header.Set("X-Bz-Part-Number", strconv.Itoa(h.partNumber))
	} else {
		req.Header.Set("X-Bz-File-Name", escapeFileName(h.fileName))
		req.Header.Set("Content-Type", h.contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("b2: upload request failed: %w", err)
	}

	return resp, nil
}

// uploadHeaders carries the per-request B2 upload headers. partNumber > 0
// selects part-upload headers, otherwise whole-file headers.
type uploadHeaders struct {
	fileName    string
	contentType string
	sha1        string
	partNumber  int
	length      int64
}

func fileUploadHeaders(name, contentType, sha string, length int64) uploadHeaders {
	return uploadHeaders{fileName: name, contentType: contentType, sha1: sha, length: length}
}

func partUploadHeaders(partNumber int, sha string, length int64) uploadHeaders {
	return uploadHeaders{partNumber: partNumber, sha1: sha, length: length}
}

// Control-call request/response mirrors for the upload protocol.

type getUploadURLRequest struct {
	BucketID string `json:"bucketId"`
}

type getUploadURLResponse struct {
	UploadURL          string `json:"uploadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

// uploadTargetForBucket requests a fresh bucket-scoped upload target
// descriptor for single-shot uploads.
func (c *Client) uploadTargetForBucket(ctx context.Context) (*uploadTarget, error) {
	var out getUploadURLResponse

	err := c.callAPI(ctx, "/b2_get_upload_url", func(_ session, bucketID string) any {
		return getUploadURLRequest{BucketID: bucketID}
	}, &out)
	if err != nil {
		return nil, err
	}

	return &uploadTarget{url: out.UploadURL, token: out.AuthorizationToken}, nil
}

type getUploadPartURLRequest struct {
	FileID string `json:"fileId"`
}

// partUploadTarget requests a fresh upload target descriptor scoped to one
// large-file session.
func (c *Client) partUploadTarget(ctx context.Context, fileID string) (*uploadTarget, error) {
	var out getUploadURLResponse

	err := c.callAPI(ctx, "/b2_get_upload_part_url", func(session, string) any {
		return getUploadPartURLRequest{FileID: fileID}
	}, &out)
	if err != nil {
		return nil, err
	}

	return &uploadTarget{url: out.UploadURL, token: out.AuthorizationToken}, nil
}

type startLargeFileRequest struct {
	BucketID    string `json:"bucketId"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

type startLargeFileResponse struct {
	FileID string `json:"fileId"`
}

// startLargeFile opens a large-file session and returns its file ID.
func (c *Client) startLargeFile(ctx context.Context, name string) (string, error) {
	var out startLargeFileResponse

	err := c.callAPI(ctx, "/b2_start_large_file", func(_ session, bucketID string) any {
		return startLargeFileRequest{
			BucketID:    bucketID,
			FileName:    name,
			ContentType: c.opts.ContentType,
		}
	}, &out)
	if err != nil {
		return "", err
	}

	return out.FileID, nil
}

type finishLargeFileRequest struct {
	FileID        string   `json:"fileId"`
	PartSHA1Array []string `json:"partSha1Array"`
}

// finishLargeFile commits the ordered part hash list, completing the chunked
// upload. The list is a cryptographic commitment: element i must be the
// digest of exactly the bytes sent as part i+1. The server's reassembled
// content length must equal the bytes this client sent; disagreement is a
// protocol violation surfaced as ErrIntegrity.
func (c *Client) finishLargeFile(ctx context.Context, fileID string, partSHA1s []string, bytesSent int64) (*FileInfo, error) {
	var out fileInfoResponse

	err := c.callAPI(ctx, "/b2_finish_large_file", func(session, string) any {
		return finishLargeFileRequest{FileID: fileID, PartSHA1Array: partSHA1s}
	}, &out)
	if err != nil {
		return nil, err
	}

	if out.ContentLength != bytesSent {
		return nil, fmt.Errorf("b2: finished file %s reports %d bytes, sent %d: %w",
			fileID, out.ContentLength, bytesSent, ErrIntegrity)
	}

	fi := out.toFileInfo()

	c.logger.Debug("large file finished",
		slog.String("file_id", fi.FileID),
		slog.Int64("content_length", fi.ContentLength),
	)

	return &fi, nil
}

// streamLength measures a seekable stream and rewinds it to the start.
func streamLength(content io.ReadSeeker) (int64, error) {
	size, err := content.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("b2: measuring content length: %w", err)
	}

	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("b2: rewinding content: %w", err)
	}

	return size, nil
}

// hashSection computes the hex SHA-1 of length bytes starting at offset.
// The stream position is left at offset+length; callers reposition before
// reading the same bytes for upload.
func hashSection(content io.ReadSeeker, offset, length int64) (string, error) {
	if _, err := content.Seek(offset, io.SeekStart); err != nil {
		return "", fmt.Errorf("b2: seeking content for hashing: %w", err)
	}

	h := sha1.New() //nolint:gosec // protocol-mandated digest
	if _, err := io.CopyN(h, content, length); err != nil {
		return "", fmt.Errorf("b2: hashing content: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// escapeFileName percent-encodes each path segment of an object name,
// preserving "/" separators as the service expects.
func escapeFileName(name string) string {
	segs := strings.Split(name, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}

	return strings.Join(segs, "/")
}
