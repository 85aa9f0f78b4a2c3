package b2

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // protocol digest
	"encoding/hex"
	"math/rand/v2"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// randomBytes returns deterministic pseudo-random content of the given size.
func randomBytes(t *testing.T, size int) []byte {
	t.Helper()

	rng := rand.NewChaCha8([32]byte{1})
	buf := make([]byte, size)
	_, _ = rng.Read(buf)

	return buf
}

func sha1Hex(data []byte) string {
	sum := sha1.Sum(data) //nolint:gosec // protocol digest
	return hex.EncodeToString(sum[:])
}

func TestUpload_PathSelection(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		wantStarts  int
		wantUploads int
		wantParts   int
	}{
		{"below threshold", 50, 0, 1, 0},
		{"exactly threshold", 100, 0, 1, 0},
		{"one byte over", 101, 1, 0, 2},
		{"evenly divisible", 300, 1, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeB2(t)
			client := newTestClient(t, f, func(o *Options) {
				o.MinimumPartSize = 100
			})

			content := randomBytes(t, tt.size)

			fi, err := client.Upload(context.Background(), "sel.bin", bytes.NewReader(content))
			require.NoError(t, err)
			assert.Equal(t, int64(tt.size), fi.ContentLength)

			assert.Equal(t, tt.wantStarts, f.startCalls)
			assert.Equal(t, tt.wantUploads, f.uploadPosts)
			assert.Equal(t, tt.wantParts, f.partPosts)
		})
	}
}

func TestUpload_NoThresholdAlwaysSingleShot(t *testing.T) {
	f := newFakeB2(t)
	client := newTestClient(t, f) // MinimumPartSize zero

	content := randomBytes(t, 64*1024)

	_, err := client.Upload(context.Background(), "big.bin", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 1, f.uploadPosts)
	assert.Zero(t, f.startCalls)
}

func TestUpload_SingleShotRoundTrip(t *testing.T) {
	f := newFakeB2(t)
	client := newTestClient(t, f, func(o *Options) {
		o.ContentType = "text/plain"
	})

	content := randomBytes(t, 1024)

	fi, err := client.Upload(context.Background(), "docs/readme.txt", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, "docs/readme.txt", fi.FileName)
	assert.Equal(t, int64(1024), fi.ContentLength)
	assert.Equal(t, sha1Hex(content), fi.ContentSHA1)
	assert.Equal(t, "text/plain", fi.ContentType)

	var got bytes.Buffer

	n, err := client.Download(context.Background(), "docs/readme.txt", &got)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), n)
	assert.Equal(t, content, got.Bytes())
}

func TestUpload_ChunkedRoundTrip(t *testing.T) {
	f := newFakeB2(t)
	client := newTestClient(t, f, func(o *Options) {
		o.MinimumPartSize = 100
	})

	// 250 bytes with a 100-byte part size: parts of 100, 100, and 50.
	content := randomBytes(t, 250)

	fi, err := client.Upload(context.Background(), "media/clip.bin", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(250), fi.ContentLength)

	assert.Equal(t, 1, f.startCalls)
	assert.Equal(t, 3, f.partPosts)
	assert.Equal(t, 1, f.finishCalls)
	assert.Zero(t, f.uploadPosts, "chunked path must not touch the single-shot endpoint")

	lf := f.largeFiles["lf-1"]
	require.NotNil(t, lf)
	require.Len(t, lf.parts, 3)
	assert.Len(t, lf.parts[1], 100)
	assert.Len(t, lf.parts[2], 100)
	assert.Len(t, lf.parts[3], 50)

	// Element i of the committed hash list is the digest of exactly the
	// bytes sent as part i+1.
	assert.Equal(t, sha1Hex(content[0:100]), lf.shas[1])
	assert.Equal(t, sha1Hex(content[100:200]), lf.shas[2])
	assert.Equal(t, sha1Hex(content[200:250]), lf.shas[3])

	var got bytes.Buffer

	_, err = client.Download(context.Background(), "media/clip.bin", &got)
	require.NoError(t, err)
	assert.Equal(t, content, got.Bytes())
}

func TestUpload_ChunkedParallelRoundTrip(t *testing.T) {
	f := newFakeB2(t)
	client := newTestClient(t, f, func(o *Options) {
		o.MinimumPartSize = 100
		o.Concurrency = 3
	})

	content := randomBytes(t, 450)

	fi, err := client.Upload(context.Background(), "par.bin", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(450), fi.ContentLength)
	assert.Equal(t, 5, f.partPosts)
	assert.Equal(t, 1, f.finishCalls)

	// Hash list order must match part number order regardless of upload
	// interleaving.
	lf := f.largeFiles["lf-1"]
	require.NotNil(t, lf)

	for part := 1; part <= 5; part++ {
		lo := (part - 1) * 100
		hi := min(part*100, 450)
		assert.Equal(t, sha1Hex(content[lo:hi]), lf.shas[part], "part %d", part)
	}

	var got bytes.Buffer

	_, err = client.Download(context.Background(), "par.bin", &got)
	require.NoError(t, err)
	assert.Equal(t, content, got.Bytes())
}

func TestUpload_EmptyStream(t *testing.T) {
	f := newFakeB2(t)
	client := newTestClient(t, f)

	fi, err := client.Upload(context.Background(), "empty.bin", bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Zero(t, fi.ContentLength)
	assert.Equal(t, sha1Hex(nil), fi.ContentSHA1)
}

func TestUpload_BadRequestNotRetried(t *testing.T) {
	f := newFakeB2(t)
	f.uploadStatus = http.StatusBadRequest
	client := newTestClient(t, f)

	_, err := client.Upload(context.Background(), "bad.bin", bytes.NewReader(randomBytes(t, 16)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadRequest)
	assert.NotErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.Equal(t, 1, f.uploadPosts, "400 must never be retried")
}

func TestUpload_RetryBudgetExhausted(t *testing.T) {
	f := newFakeB2(t)
	f.uploadStatus = http.StatusInternalServerError
	client := newTestClient(t, f, func(o *Options) {
		o.MaxRetries = 2
	})

	_, err := client.Upload(context.Background(), "flaky.bin", bytes.NewReader(randomBytes(t, 16)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetryBudgetExhausted)
	assert.ErrorIs(t, err, ErrServerError)
	assert.Equal(t, 3, f.uploadPosts, "initial attempt plus two retries")
}

func TestUpload_TransportErrorRetriedImmediately(t *testing.T) {
	f := newFakeB2(t)
	f.dropUploadConns = 1
	client := newTestClient(t, f)

	content := randomBytes(t, 256)

	fi, err := client.Upload(context.Background(), "drop.bin", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, int64(256), fi.ContentLength)
	assert.Equal(t, 2, f.uploadPosts, "severed connection retried once")

	var got bytes.Buffer

	_, err = client.Download(context.Background(), "drop.bin", &got)
	require.NoError(t, err)
	assert.Equal(t, content, got.Bytes())
}

func TestUpload_StaleUploadTokenRefreshesDescriptor(t *testing.T) {
	f := newFakeB2(t)
	f.invalidateNextUploadToken = true
	client := newTestClient(t, f)

	fi, err := client.Upload(context.Background(), "stale.bin", bytes.NewReader(randomBytes(t, 32)))
	require.NoError(t, err)
	assert.Equal(t, int64(32), fi.ContentLength)
	assert.Equal(t, 2, f.uploadPosts, "rejected token retried once with a fresh descriptor")
	assert.Equal(t, 2, f.authCalls, "a rejected upload token expires the session too")
}

func TestUpload_StalePartTokenRefreshesDescriptor(t *testing.T) {
	f := newFakeB2(t)
	f.invalidateNextUploadToken = true
	client := newTestClient(t, f, func(o *Options) {
		o.MinimumPartSize = 100
	})

	content := randomBytes(t, 250)

	_, err := client.Upload(context.Background(), "stalepart.bin", bytes.NewReader(content))
	require.NoError(t, err)
	assert.Equal(t, 4, f.partPosts, "part 1 retried once after token refresh")
	assert.Equal(t, 1, f.finishCalls)

	var got bytes.Buffer

	_, err = client.Download(context.Background(), "stalepart.bin", &got)
	require.NoError(t, err)
	assert.Equal(t, content, got.Bytes())
}

func TestUpload_FinishIntegrityMismatch(t *testing.T) {
	f := newFakeB2(t)
	f.finishLength = 9999
	client := newTestClient(t, f, func(o *Options) {
		o.MinimumPartSize = 100
	})

	fi, err := client.Upload(context.Background(), "mismatch.bin", bytes.NewReader(randomBytes(t, 250)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIntegrity)
	assert.Nil(t, fi, "no success value on an integrity failure")
}

func TestRetryPolicy_Attempts(t *testing.T) {
	assert.Equal(t, 1, retryPolicy{maxRetries: 0}.attempts())
	assert.Equal(t, 4, retryPolicy{maxRetries: 3}.attempts())
	assert.Equal(t, 1, retryPolicy{maxRetries: -1}.attempts())
}

func TestEscapeFileName(t *testing.T) {
	assert.Equal(t, "a/b/c.txt", escapeFileName("a/b/c.txt"))
	assert.Equal(t, "dir/with%20space.txt", escapeFileName("dir/with space.txt"))
}
