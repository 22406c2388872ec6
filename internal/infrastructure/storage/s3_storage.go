// Package storage issues presigned URLs for message attachments on
// S3-compatible object stores.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	messagingapp "github.com/campus/messaging/internal/application/messaging"
	infraconfig "github.com/campus/messaging/internal/infrastructure/config"
	"go.uber.org/zap"
)

var _ messagingapp.ObjectStorage = (*S3ObjectStorage)(nil)

const (
	defaultEndpoint    = "http://localhost:9000"
	defaultRegion      = "us-east-1"
	defaultPresignTTL  = 15 * time.Minute
	errStorageKeyEmpty = "storage key is required"
)

// S3ObjectStorage presigns attachment transfers against AWS S3, MinIO or
// any other store speaking the S3 API
type S3ObjectStorage struct {
	client            *s3.Client
	presignClient     *s3.PresignClient
	bucket            string
	presignExpiration time.Duration
	logger            *zap.Logger
}

// S3ObjectStorageOption configures an S3ObjectStorage
type S3ObjectStorageOption func(*S3ObjectStorage)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) S3ObjectStorageOption {
	return func(s *S3ObjectStorage) { s.logger = logger }
}

// WithPresignExpiration overrides StorageConfig.PresignExpiration
func WithPresignExpiration(d time.Duration) S3ObjectStorageOption {
	return func(s *S3ObjectStorage) { s.presignExpiration = d }
}

// NewS3ObjectStorage builds the client without contacting the store;
// EnsureBucket is the first request made.
func NewS3ObjectStorage(cfg *infraconfig.StorageConfig, opts ...S3ObjectStorageOption) (*S3ObjectStorage, error) {
	if cfg == nil {
		return nil, errors.New("storage configuration is required")
	}
	switch {
	case cfg.Bucket == "":
		return nil, errors.New("storage bucket is required")
	case cfg.AccessKey == "":
		return nil, errors.New("storage access key is required")
	case cfg.SecretKey == "":
		return nil, errors.New("storage secret key is required")
	}

	endpoint, err := resolveEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = defaultRegion
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 client config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = cfg.UsePathStyle
	})

	s := &S3ObjectStorage{
		client:            client,
		presignClient:     s3.NewPresignClient(client),
		bucket:            cfg.Bucket,
		presignExpiration: cfg.PresignExpiration,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.presignExpiration <= 0 {
		s.presignExpiration = defaultPresignTTL
	}
	return s, nil
}

// resolveEndpoint accepts a bare host:port and picks the scheme from useSSL
func resolveEndpoint(raw string, useSSL bool) (string, error) {
	if raw == "" {
		return defaultEndpoint, nil
	}
	if !strings.Contains(raw, "://") {
		scheme := "http://"
		if useSSL {
			scheme = "https://"
		}
		raw = scheme + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid storage endpoint: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid storage endpoint %q", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// EnsureBucket creates the attachment bucket on first start
func (s *S3ObjectStorage) EnsureBucket(ctx context.Context) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	if !isMissing(err) {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}

	s.logger.Info("Creating attachment bucket", zap.String("bucket", s.bucket))
	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil && apiErrorCode(err) != "BucketAlreadyOwnedByYou" {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	return nil
}

// GenerateUploadURL presigns a PUT. The client must send the same
// Content-Type header, which is part of the signature.
func (s *S3ObjectStorage) GenerateUploadURL(ctx context.Context, storageKey, contentType string, expiresIn time.Duration) (string, time.Time, error) {
	return s.presign(storageKey, expiresIn, func(ttl time.Duration) (*v4.PresignedHTTPRequest, error) {
		return s.presignClient.PresignPutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(storageKey),
			ContentType: aws.String(contentType),
		}, s3.WithPresignExpires(ttl))
	})
}

// GenerateDownloadURL presigns a GET
func (s *S3ObjectStorage) GenerateDownloadURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error) {
	return s.presign(storageKey, expiresIn, func(ttl time.Duration) (*v4.PresignedHTTPRequest, error) {
		return s.presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(storageKey),
		}, s3.WithPresignExpires(ttl))
	})
}

func (s *S3ObjectStorage) presign(storageKey string, ttl time.Duration, sign func(time.Duration) (*v4.PresignedHTTPRequest, error)) (string, time.Time, error) {
	if storageKey == "" {
		return "", time.Time{}, errors.New(errStorageKeyEmpty)
	}
	if ttl <= 0 {
		ttl = s.presignExpiration
	}
	req, err := sign(ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign %s: %w", storageKey, err)
	}
	return req.URL, time.Now().Add(ttl), nil
}

// ObjectExists reports whether the upload for storageKey has landed
func (s *S3ObjectStorage) ObjectExists(ctx context.Context, storageKey string) (bool, error) {
	if storageKey == "" {
		return false, errors.New(errStorageKeyEmpty)
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(storageKey),
	})
	switch {
	case err == nil:
		return true, nil
	case isMissing(err):
		return false, nil
	default:
		return false, fmt.Errorf("head %s: %w", storageKey, err)
	}
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isMissing covers the typed S3 errors and the bare codes some
// S3-compatible stores return instead
func isMissing(err error) bool {
	switch apiErrorCode(err) {
	case "NotFound", "NoSuchKey", "NoSuchBucket":
		return true
	}
	return false
}
