// Package storage exposes the B2 client through a generic file-storage
// interface so callers can save, open, and address objects without knowing
// the underlying service.
package storage

import (
	"bytes"
	"context"
	"io"
	"log/slog"

	"github.com/vericant/b2-go/internal/b2"
)

// Backend is a generic named-object store. Defined at the consumer per Go
// convention "accept interfaces, return structs".
type Backend interface {
	// Save stores content under name and returns the stored object name.
	Save(ctx context.Context, name string, content io.ReadSeeker) (string, error)

	// Open returns a reader over the full object body.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// URL returns the download URL for the object.
	URL(ctx context.Context, name string) (string, error)

	// Exists reports whether the object exists, when the backend can tell.
	Exists(ctx context.Context, name string) (bool, error)
}

// B2Backend adapts *b2.Client to the Backend interface.
type B2Backend struct {
	client *b2.Client
	logger *slog.Logger
}

// NewB2Backend wraps a B2 client in the generic storage interface.
func NewB2Backend(client *b2.Client, logger *slog.Logger) *B2Backend {
	if logger == nil {
		logger = slog.Default()
	}

	return &B2Backend{client: client, logger: logger}
}

// Save uploads content and returns the name the service stored it under.
// Saving an existing name creates a new version rather than overwriting.
func (b *B2Backend) Save(ctx context.Context, name string, content io.ReadSeeker) (string, error) {
	fi, err := b.client.Upload(ctx, name, content)
	if err != nil {
		return "", err
	}

	return fi.FileName, nil
}

// Open downloads the full object body into memory and returns a reader over
// it. The API offers no cheap metadata probe, so there is no way to size the
// read up front without fetching the body anyway.
func (b *B2Backend) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	var buf bytes.Buffer

	if _, err := b.client.Download(ctx, name, &buf); err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

// URL returns the object's download URL.
func (b *B2Backend) URL(ctx context.Context, name string) (string, error) {
	return b.client.FileURL(ctx, name)
}

// Exists always reports false. The API has no way to fetch object info by
// name short of downloading the whole body or paging through the bucket's
// file listing, either of which is far too expensive for an existence probe.
func (b *B2Backend) Exists(_ context.Context, name string) (bool, error) {
	b.logger.Debug("existence probe unsupported, reporting false",
		slog.String("name", name),
	)

	return false, nil
}
