package libraries

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

var ErrStorageDisabled = errors.New("image storage is not configured")

// ImageStore stores event images and returns their public URL.
type ImageStore interface {
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}

type GCSClient struct {
	GCS    *storage.Client
	Bucket string
}

// NewGCSClient builds a storage client from base64 encoded service account
// JSON. It returns ErrStorageDisabled when either value is empty.
func NewGCSClient(ctx context.Context, encodedCredentials, bucket string) (*GCSClient, error) {
	if encodedCredentials == "" || bucket == "" {
		return nil, ErrStorageDisabled
	}

	// decode JSON
	decoded, err := base64.StdEncoding.DecodeString(encodedCredentials)
	if err != nil {
		return nil, fmt.Errorf("failed to decode service account json: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, decoded, storage.ScopeReadWrite)
	if err != nil {
		return nil, fmt.Errorf("CredentialsFromJSON: %w", err)
	}

	gcsClient, err := storage.NewClient(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("storage.NewClient: %w", err)
	}

	return &GCSClient{GCS: gcsClient, Bucket: bucket}, nil
}

// Upload writes r to the bucket under name.
func (c *GCSClient) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	w := c.GCS.Bucket(c.Bucket).Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=86400"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return PublicURL(c.Bucket, name), nil
}

// PublicURL is the URL an uploaded object is served from.
func PublicURL(bucket, name string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, (&url.URL{Path: name}).EscapedPath())
}

func (c *GCSClient) Close() error {
	return c.GCS.Close()
}
