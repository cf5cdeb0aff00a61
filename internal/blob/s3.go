// Package blob is the asset side of the remote store: an S3-compatible
// bucket addressed by "ownerID/filename" keys.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/miokidk/astra-sync/internal/config"
)

// Store is an S3-backed asset blob store.
type Store struct {
	client *s3.Client
	bucket string
}

// New builds a blob store from config. Endpoint is optional; when set it
// points the client at a MinIO or other S3-compatible server.
func New(ctx context.Context, cfg *config.BlobConfig) (*Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load blob store config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	slog.Info("blob store configured", "bucket", cfg.Bucket, "region", cfg.Region)
	return &Store{client: client, bucket: cfg.Bucket}, nil
}

// Exists reports whether an object is present at the given path. A missing
// object is (false, nil); any other failure is returned so the caller can
// decide how to treat an unknown state.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var nf *types.NotFound
		if errors.As(err, &nf) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob %s: %w", path, err)
	}
	return true, nil
}

// Upload writes an object. Uploading to an existing path overwrites it,
// which is harmless here: asset filenames are assigned once, so the same
// path always carries the same bytes.
func (s *Store) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %w", path, err)
	}
	return nil
}

// Download reads an object in full.
func (s *Store) Download(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to download blob %s: %w", path, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob %s: %w", path, err)
	}
	return data, nil
}
