package storage

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // protocol digest
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vericant/b2-go/internal/b2"
)

// newBackend spins up a minimal single-shot B2 fake and a backend bound to
// it. Only the endpoints the facade exercises are implemented.
func newBackend(t *testing.T) *B2Backend {
	t.Helper()

	var (
		mu      sync.Mutex
		objects = map[string][]byte{}
	)

	mux := http.NewServeMux()

	var srv *httptest.Server

	mux.HandleFunc("GET /b2api/v2/b2_authorize_account", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"accountId":          "acct-1",
			"apiUrl":             srv.URL,
			"downloadUrl":        srv.URL,
			"authorizationToken": "session-1",
		})
	})

	mux.HandleFunc("POST /b2api/v2/b2_list_buckets", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"buckets": []map[string]string{
				{"bucketId": "bucket-1", "bucketName": "media", "bucketType": "allPrivate"},
			},
		})
	})

	mux.HandleFunc("POST /b2api/v2/b2_get_upload_url", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"uploadUrl":          srv.URL + "/upload",
			"authorizationToken": "upload-1",
		})
	})

	mux.HandleFunc("POST /upload", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		name, err := url.PathUnescape(r.Header.Get("X-Bz-File-Name"))
		require.NoError(t, err)

		mu.Lock()
		objects[name] = body
		mu.Unlock()

		sum := sha1.Sum(body) //nolint:gosec // protocol digest
		_ = json.NewEncoder(w).Encode(map[string]any{
			"fileId":        "file-1",
			"fileName":      name,
			"contentLength": len(body),
			"contentSha1":   hex.EncodeToString(sum[:]),
		})
	})

	mux.HandleFunc("GET /file/media/{name...}", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		body, ok := objects[r.PathValue("name")]
		mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)

			return
		}

		_, _ = w.Write(body)
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := b2.NewClient(b2.Options{
		AccountID:      "acct-1",
		ApplicationKey: "key-1",
		BucketName:     "media",
		AuthURL:        srv.URL + "/b2api/v2/b2_authorize_account",
	}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	return NewB2Backend(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestB2Backend_SaveOpenRoundTrip(t *testing.T) {
	backend := newBackend(t)

	name, err := backend.Save(context.Background(), "notes/today.txt", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, "notes/today.txt", name)

	rc, err := backend.Open(context.Background(), "notes/today.txt")
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

func TestB2Backend_OpenMissing(t *testing.T) {
	backend := newBackend(t)

	_, err := backend.Open(context.Background(), "ghost.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err, b2.ErrNotFound)
}

func TestB2Backend_URL(t *testing.T) {
	backend := newBackend(t)

	got, err := backend.URL(context.Background(), "a/b.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(got, "/file/media/a/b.txt"), got)
}

func TestB2Backend_ExistsAlwaysFalse(t *testing.T) {
	backend := newBackend(t)

	// Even for an object that was just saved: the API has no cheap probe.
	_, err := backend.Save(context.Background(), "present.txt", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	exists, err := backend.Exists(context.Background(), "present.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}
