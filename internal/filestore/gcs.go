package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS stores files in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS connects to bucket. credentialsJSON may be empty to use ambient
// application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsJSON string) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("filestore: gcs bucket required")
	}
	var opts []option.ClientOption
	if credentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credentialsJSON)))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("filestore: gcs client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// Open downloads the object behind ref.
func (g *GCS) Open(ctx context.Context, ref string) ([]byte, error) {
	key, err := CleanRef(ref)
	if err != nil {
		return nil, err
	}
	reader, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("filestore: gcs read %s: %w", key, err)
	}
	defer reader.Close()
	return readLimited(reader)
}

// Save uploads r as a new object.
func (g *GCS) Save(ctx context.Context, filename string, r io.Reader) (string, error) {
	ref := NewRef(filename, time.Now())
	w := g.client.Bucket(g.bucket).Object(ref).NewWriter(ctx)
	if _, err := io.Copy(w, io.LimitReader(r, MaxFileSize)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("filestore: gcs write %s: %w", ref, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("filestore: gcs close %s: %w", ref, err)
	}
	return ref, nil
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}
