package b2

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// listBucketsRequest mirrors the b2_list_buckets JSON request.
type listBucketsRequest struct {
	AccountID string `json:"accountId"`
}

// bucketResponse mirrors one bucket entry in the b2_list_buckets response.
type bucketResponse struct {
	BucketID   string `json:"bucketId"`
	BucketName string `json:"bucketName"`
	BucketType string `json:"bucketType"`
}

type listBucketsResponse struct {
	Buckets []bucketResponse `json:"buckets"`
}

// resolveBucketID lists the account's buckets and scans for the configured
// bucket name (case-sensitive exact match). The API has no lookup-by-name
// endpoint, so the linear scan is unavoidable; it runs at most once per
// session. Called with a freshly authorized session, so a 401 here is not
// retried — a token the service just issued should not be rejected.
func (c *Client) resolveBucketID(ctx context.Context, sess session) (string, error) {
	c.logger.Info("resolving bucket",
		slog.String("bucket_name", c.opts.BucketName),
	)

	resp, err := c.doControl(ctx, sess, "/b2_list_buckets", listBucketsRequest{AccountID: c.opts.AccountID})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", parseAPIError(resp)
	}

	var lbr listBucketsResponse
	if decErr := json.NewDecoder(resp.Body).Decode(&lbr); decErr != nil {
		return "", fmt.Errorf("b2: decoding bucket list response: %w", decErr)
	}

	for _, bucket := range lbr.Buckets {
		if bucket.BucketName == c.opts.BucketName {
			c.logger.Debug("resolved bucket",
				slog.String("bucket_id", bucket.BucketID),
			)

			return bucket.BucketID, nil
		}
	}

	return "", fmt.Errorf("b2: bucket %q not in account's bucket list: %w", c.opts.BucketName, ErrBucketNotFound)
}
