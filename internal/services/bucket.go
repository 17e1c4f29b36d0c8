package services

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/slotter-org/alexus-backend/internal/logger"
)

type BucketService interface {
	UploadFile(ctx context.Context, key, contentType string, r io.Reader) error
	GetPublicURL(key string) string
	Close() error
}

type bucketService struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
}

// NewBucketService opens a GCS client for bucketName. Without a credentials
// file the client falls back to application default credentials.
func NewBucketService(ctx context.Context, log *logger.Logger, bucketName, credentialsFile string) (BucketService, error) {
	serviceLog := log.With("service", "BucketService")
	if bucketName == "" {
		return nil, fmt.Errorf("missing GCS_BUCKET_NAME")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	serviceLog.Info("GCS bucket client ready :)", "bucket", bucketName)
	return &bucketService{
		log:        serviceLog,
		client:     client,
		bucketName: bucketName,
	}, nil
}

func (bs *bucketService) UploadFile(ctx context.Context, key, contentType string, r io.Reader) error {
	w := bs.client.Bucket(bs.bucketName).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		bs.log.Warn("failed to copy object to GCS", "key", key, "error", err)
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		bs.log.Warn("failed to finalize GCS object", "key", key, "error", err)
		return fmt.Errorf("finalize %s: %w", key, err)
	}
	bs.log.Debug("Uploaded object to GCS", "bucket", bs.bucketName, "key", key)
	return nil
}

func (bs *bucketService) GetPublicURL(key string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bs.bucketName, (&url.URL{Path: key}).EscapedPath())
}

func (bs *bucketService) Close() error {
	return bs.client.Close()
}
