package b2

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultAuthURL is the fixed account authorization endpoint. Every other
// endpoint is derived from the API URL the authorization response returns.
const DefaultAuthURL = "https://api.backblazeb2.com/b2api/v2/b2_authorize_account"

const (
	apiPrefix = "/b2api/v2"
	userAgent = "b2-go/0.1"

	// defaultContentType lets the service sniff the content type itself.
	defaultContentType = "b2/x-auto"

	// requestTimeout bounds a single HTTP request. Generous because one
	// part of a large upload can be hundreds of megabytes on a slow link.
	requestTimeout = 1 * time.Hour
)

// Options configures a Client. AccountID, ApplicationKey, and BucketName are
// required. A zero MinimumPartSize disables the chunked upload path entirely.
type Options struct {
	AccountID      string
	ApplicationKey string
	BucketName     string

	// MaxRetries is the number of retries after the first upload attempt,
	// so MaxRetries+1 attempts are made in total.
	MaxRetries int

	// ContentType overrides the content type sent with single-shot uploads
	// and large-file starts. Empty means "b2/x-auto".
	ContentType string

	// MinimumPartSize is both the chunking threshold and the size of every
	// part except the final remainder. Zero disables chunked upload.
	MinimumPartSize int64

	// Concurrency bounds parallel part uploads for the chunked path. Values
	// below 2 keep parts strictly sequential. Parallel upload additionally
	// requires the content to implement io.ReaderAt.
	Concurrency int

	// AuthURL overrides the authorization endpoint. Tests point this at an
	// httptest server; production code leaves it empty for DefaultAuthURL.
	AuthURL string
}

// session is the authenticated context returned by b2_authorize_account.
// It is valid until the service answers 401, at which point it is discarded
// and re-established.
type session struct {
	apiURL      string
	downloadURL string
	token       string
}

// authorizeAccountResponse mirrors the b2_authorize_account JSON response.
type authorizeAccountResponse struct {
	AccountID          string `json:"accountId"`
	APIURL             string `json:"apiUrl"`
	DownloadURL        string `json:"downloadUrl"`
	AuthorizationToken string `json:"authorizationToken"`
}

// Client is a B2 API client bound to one bucket. The session token and the
// resolved bucket ID are shared mutable state guarded by mu, so one Client
// may be used from multiple goroutines: the first caller to observe a
// missing or rejected session re-authorizes while the others wait and reuse
// the result.
type Client struct {
	opts       Options
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	sess     *session
	bucketID string
}

// NewClient creates a B2 client for the bucket named in opts.
// No network traffic happens until the first operation needs a session.
func NewClient(opts Options, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: requestTimeout}
	}

	if opts.AuthURL == "" {
		opts.AuthURL = DefaultAuthURL
	}

	if opts.ContentType == "" {
		opts.ContentType = defaultContentType
	}

	return &Client{
		opts:       opts,
		httpClient: httpClient,
		logger:     logger,
	}
}

// authorize exchanges the account credentials for a fresh session via HTTP
// Basic auth. Pure network call — it does not touch client state.
func (c *Client) authorize(ctx context.Context) (*session, error) {
	c.logger.Info("authorizing account",
		slog.String("account_id", c.opts.AccountID),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.AuthURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("b2: creating authorization request: %w", err)
	}

	cred := base64.StdEncoding.EncodeToString([]byte(c.opts.AccountID + ":" + c.opts.ApplicationKey))
	req.Header.Set("Authorization", "Basic "+cred)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("b2: authorization request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		apiErr := parseAPIError(resp)
		// Whatever the status, a failed authorize is an authentication
		// failure to callers.
		apiErr.Err = ErrAuthentication

		c.logger.Error("authorization failed",
			slog.Int("status", resp.StatusCode),
		)

		return nil, apiErr
	}

	var ar authorizeAccountResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&ar); decErr != nil {
		return nil, fmt.Errorf("b2: decoding authorization response: %w", decErr)
	}

	c.logger.Debug("authorized",
		slog.String("api_url", ar.APIURL),
		slog.String("download_url", ar.DownloadURL),
	)

	return &session{
		apiURL:      ar.APIURL,
		downloadURL: ar.DownloadURL,
		token:       ar.AuthorizationToken,
	}, nil
}

// ensureSession returns the current session and bucket ID, establishing them
// on first use. Calling it twice in a row performs exactly one authorization.
func (c *Client) ensureSession(ctx context.Context) (session, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil {
		return *c.sess, c.bucketID, nil
	}

	return c.establishLocked(ctx)
}

// establishLocked authorizes and resolves the bucket ID. Caller holds mu.
func (c *Client) establishLocked(ctx context.Context) (session, string, error) {
	sess, err := c.authorize(ctx)
	if err != nil {
		return session{}, "", err
	}

	bucketID, err := c.resolveBucketID(ctx, *sess)
	if err != nil {
		return session{}, "", err
	}

	c.sess = sess
	c.bucketID = bucketID

	return *sess, bucketID, nil
}

// reauthorize discards the session identified by staleToken and establishes
// a fresh one. If another goroutine already replaced the session, that one
// is reused instead of authorizing again.
func (c *Client) reauthorize(ctx context.Context, staleToken string) (session, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sess != nil && c.sess.token != staleToken {
		return *c.sess, c.bucketID, nil
	}

	c.logger.Info("session rejected, re-authorizing")

	c.sess = nil
	c.bucketID = ""

	return c.establishLocked(ctx)
}

// expireSession drops the current session so the next call re-authorizes.
// Used when a data upload token is rejected, where the session token that
// issued it must be considered stale as well.
func (c *Client) expireSession() {
	c.mu.Lock()
	c.sess = nil
	c.bucketID = ""
	c.mu.Unlock()
}

// callAPI performs one session-scoped control call: a POST with a JSON body
// against the session's API URL. The body is built by makeBody from the
// session and resolved bucket ID so it always reflects the session actually
// used. The first 401 re-authorizes exactly once and retries the request
// exactly once; a second 401 surfaces as an error.
func (c *Client) callAPI(ctx context.Context, endpoint string, makeBody func(sess session, bucketID string) any, out any) error {
	sess, bucketID, err := c.ensureSession(ctx)
	if err != nil {
		return err
	}

	resp, err := c.doControl(ctx, sess, endpoint, makeBody(sess, bucketID))
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		// Drain and close before reissuing so the connection is reusable.
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // best effort
		resp.Body.Close()

		sess, bucketID, err = c.reauthorize(ctx, sess.token)
		if err != nil {
			return err
		}

		resp, err = c.doControl(ctx, sess, endpoint, makeBody(sess, bucketID))
		if err != nil {
			return err
		}
	}

	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return parseAPIError(resp)
	}

	if out == nil {
		return nil
	}

	if decErr := json.NewDecoder(resp.Body).Decode(out); decErr != nil {
		return fmt.Errorf("b2: decoding %s response: %w", endpoint, decErr)
	}

	return nil
}

// doControl executes a single control request (no retry, no 401 handling).
func (c *Client) doControl(ctx context.Context, sess session, endpoint string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("b2: marshaling %s request: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sess.apiURL+apiPrefix+endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("b2: creating %s request: %w", endpoint, err)
	}

	req.Header.Set("Authorization", sess.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("b2: %s request failed: %w", endpoint, err)
	}

	return resp, nil
}
