// Package service contains the business logic layer.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/image2ad/image2ad-api/internal/config"
)

// ObjectStorage is the storage surface the job services depend on.
// *StorageService implements it against S3; tests substitute fakes.
type ObjectStorage interface {
	// ResolveInputURLs turns upload keys into presigned GET URLs the
	// provider can fetch. Returns ErrInputNotFound if any key is missing.
	ResolveInputURLs(ctx context.Context, userID string, keys []string) ([]string, error)
	// UploadResult stores generated media under key in the results bucket.
	UploadResult(ctx context.Context, key string, body io.Reader, contentType string) error
	// ResultURL returns a presigned GET URL for a stored result.
	ResultURL(ctx context.Context, key string) (string, error)
}

// StorageService handles object storage operations (Tigris/S3-compatible).
// Inputs live in the uploads bucket, generated media in the results bucket.
type StorageService struct {
	client        *s3.Client
	presign       *s3.PresignClient
	uploadsBucket string
	resultsBucket string
	signedURLTTL  time.Duration
	enabled       bool
	logger        *slog.Logger
}

// NewStorageService creates a new storage service.
func NewStorageService(cfg *appconfig.Config, logger *slog.Logger) (*StorageService, error) {
	if !cfg.StorageEnabled {
		logger.Info("storage service disabled - no bucket configured")
		return &StorageService{
			enabled: false,
			logger:  logger,
		}, nil
	}

	// Load AWS config with static credentials
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.StorageRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.StorageAccessKey,
			cfg.StorageSecretKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Create S3 client with custom endpoint for S3-compatible storage (Tigris, MinIO, etc.)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.StorageEndpoint)
		o.UsePathStyle = true // Required for some S3-compatible services
	})

	logger.Info("storage service initialized",
		"uploads_bucket", cfg.UploadsBucket,
		"results_bucket", cfg.ResultsBucket,
		"endpoint", cfg.StorageEndpoint,
	)

	return &StorageService{
		client:        client,
		presign:       s3.NewPresignClient(client),
		uploadsBucket: cfg.UploadsBucket,
		resultsBucket: cfg.ResultsBucket,
		signedURLTTL:  cfg.SignedURLTTL,
		enabled:       true,
		logger:        logger,
	}, nil
}

// IsEnabled returns whether storage is configured and available.
func (s *StorageService) IsEnabled() bool {
	return s.enabled
}

// ResolveInputURLs verifies each upload key exists and returns presigned
// GET URLs for the provider to fetch. A missing key fails the whole
// batch before any credits are touched.
func (s *StorageService) ResolveInputURLs(ctx context.Context, userID string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	if !s.enabled {
		return nil, ErrStorageDisabled
	}

	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.uploadsBucket),
			Key:    aws.String(key),
		})
		if err != nil {
			s.logger.Warn("input upload not found", "user_id", userID, "key", key, "error", err)
			return nil, fmt.Errorf("%w: %s", ErrInputNotFound, key)
		}

		presigned, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(s.uploadsBucket),
			Key:    aws.String(key),
		}, s3.WithPresignExpires(s.signedURLTTL))
		if err != nil {
			return nil, fmt.Errorf("failed to presign input URL: %w", err)
		}
		urls = append(urls, presigned.URL)
	}
	return urls, nil
}

// UploadResult stores generated media in the results bucket.
func (s *StorageService) UploadResult(ctx context.Context, key string, body io.Reader, contentType string) error {
	if !s.enabled {
		return ErrStorageDisabled
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.resultsBucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload result: %w", err)
	}

	s.logger.Info("stored generation result", "key", key)
	return nil
}

// ResultURL returns a presigned URL for downloading a stored result.
func (s *StorageService) ResultURL(ctx context.Context, key string) (string, error) {
	if !s.enabled {
		return "", ErrStorageDisabled
	}

	presigned, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.resultsBucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.signedURLTTL))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}
	return presigned.URL, nil
}

// UploadURL returns a presigned PUT URL so the client can upload an
// input image directly to the uploads bucket.
func (s *StorageService) UploadURL(ctx context.Context, key, contentType string) (string, error) {
	if !s.enabled {
		return "", ErrStorageDisabled
	}

	presigned, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.uploadsBucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.signedURLTTL))
	if err != nil {
		return "", fmt.Errorf("failed to generate upload URL: %w", err)
	}
	return presigned.URL, nil
}
