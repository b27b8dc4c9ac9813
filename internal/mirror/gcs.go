package mirror

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"cloud.google.com/go/storage"
)

// maxImageBytes caps a single mirrored download; anything bigger is not
// product photography worth keeping.
const maxImageBytes = 20 << 20

// GCS mirrors images into a Cloud Storage bucket. Unlike the hosted
// provider there is no upload-by-reference API, so the image is fetched
// here and streamed into the bucket; the object name is the opaque id.
type GCS struct {
	client *storage.Client
	bucket string
	http   *http.Client
}

// NewGCS initializes a GCS client and verifies the bucket exists, so a
// misconfigured bucket fails at startup rather than on the first upload.
// Authentication uses Application Default Credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("stat gcs bucket %q: %w", bucket, err)
	}
	return &GCS{
		client: client,
		bucket: bucket,
		http:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Mirror implements Provider.
func (g *GCS) Mirror(ctx context.Context, imageURL string, meta Meta) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("build image request: %w", err)
	}
	resp, err := g.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", imageURL, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", imageURL, resp.StatusCode)
	}

	objectName := g.objectName(imageURL, meta)
	w := g.client.Bucket(g.bucket).Object(objectName).NewWriter(ctx)
	if resp.Header.Get("Content-Type") != "" {
		w.ContentType = resp.Header.Get("Content-Type")
	}
	if _, err := io.Copy(w, io.LimitReader(resp.Body, maxImageBytes)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gcs object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gcs object %s: %w", objectName, err)
	}
	return objectName, nil
}

func (g *GCS) objectName(imageURL string, meta Meta) string {
	base := "image"
	if u, err := url.Parse(imageURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "/" && b != "." {
			base = b
		}
	}
	return fmt.Sprintf("mirror/%s/%d-%s", meta.Handle, meta.Position, base)
}

// Close implements Provider.
func (g *GCS) Close() error {
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
