// Package archive stores alarm snapshots in S3-compatible object storage.
//
// The store keeps only the most recent snapshot per camera; the archive is
// the durable trail for alarm events, keyed by camera and timestamp so a
// bucket listing reads chronologically.
package archive

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/argushq/argus/internal/config"
)

// Archiver persists snapshots long-term. Implementations must be safe for
// concurrent use.
type Archiver interface {
	// SaveSnapshot stores an image and returns a URL referencing it.
	SaveSnapshot(ctx context.Context, cameraID string, at time.Time, data []byte, contentType string) (string, error)
}

// Nop discards snapshots. Used when no object storage is configured.
type Nop struct{}

// SaveSnapshot implements Archiver.
func (Nop) SaveSnapshot(context.Context, string, time.Time, []byte, string) (string, error) {
	return "", nil
}

// MinIOArchiver implements Archiver on a MinIO / S3-compatible endpoint.
type MinIOArchiver struct {
	client *minio.Client
	bucket string
	useSSL bool
}

var _ Archiver = (*MinIOArchiver)(nil)

// NewMinIO connects to the endpoint described by cfg and ensures the bucket
// exists.
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (*MinIOArchiver, error) {
	cli, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: create minio client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := cli.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		exists, existsErr := cli.BucketExists(ctx, cfg.Bucket)
		if existsErr != nil || !exists {
			return nil, fmt.Errorf("archive: ensure bucket %q: %w", cfg.Bucket, err)
		}
	}

	return &MinIOArchiver{client: cli, bucket: cfg.Bucket, useSSL: cfg.UseSSL}, nil
}

// SaveSnapshot implements Archiver. Keys follow
// <cameraID>/<RFC3339 timestamp>.jpg.
func (a *MinIOArchiver) SaveSnapshot(ctx context.Context, cameraID string, at time.Time, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "image/jpeg"
	}

	key := fmt.Sprintf("%s/%s.jpg", cameraID, at.UTC().Format(time.RFC3339))
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("archive: put %q: %w", key, err)
	}

	scheme := "http"
	if a.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, a.client.EndpointURL().Host, a.bucket, key), nil
}

// DecodeDataURL extracts the media type and raw bytes from a data URL as
// produced by the vision service ("data:image/jpeg;base64,...").
func DecodeDataURL(dataURL string) (contentType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", nil, fmt.Errorf("archive: not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("archive: malformed data URL")
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", nil, fmt.Errorf("archive: data URL is not base64-encoded")
	}
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("archive: decode data URL payload: %w", err)
	}
	return contentType, data, nil
}
