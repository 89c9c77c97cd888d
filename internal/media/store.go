// Package media talks to the S3-compatible bucket holding post and reel media.
// One implementation serves every deployment (R2, Spaces, S3, MinIO), so
// uploads and deletions behave the same everywhere.
package media

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"iamstagram_engine/internal/config"
	"iamstagram_engine/internal/model"
)

// Store is the object storage collaborator.
type Store interface {
	// PresignUpload returns a presigned PUT for a new object under folder.
	PresignUpload(ctx context.Context, folder, contentType string) (*model.PresignUploadResponse, error)
	// Put uploads body under key and returns its public URL.
	Put(ctx context.Context, key string, body []byte, contentType, cacheControl string) (string, error)
	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

type S3Store struct {
	client    *s3.Client
	presign   *s3.PresignClient
	bucket    string
	publicURL string
	expiry    time.Duration
}

// NewS3Store builds a path-style client against the configured endpoint.
func NewS3Store(ctx context.Context, cfg *config.Config) (*S3Store, error) {
	if !cfg.MediaConfigured() {
		return nil, model.ErrMediaNotConfigured
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(cfg.MediaRegion),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.MediaAccessKey, cfg.MediaSecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for media: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.MediaEndpoint)
		o.UsePathStyle = true
	})

	publicURL := strings.TrimSuffix(cfg.MediaPublicURL, "/")
	if publicURL == "" {
		publicURL = strings.TrimSuffix(cfg.MediaEndpoint, "/") + "/" + cfg.MediaBucket
	}

	return &S3Store{
		client:    client,
		presign:   s3.NewPresignClient(client),
		bucket:    cfg.MediaBucket,
		publicURL: publicURL,
		expiry:    model.PresignExpirySecs * time.Second,
	}, nil
}

func (s *S3Store) PresignUpload(ctx context.Context, folder, contentType string) (*model.PresignUploadResponse, error) {
	ext, ok := model.MediaExtension(contentType)
	if !ok {
		return nil, model.ErrInvalidMediaType
	}

	key := fmt.Sprintf("%s/%s%s", folder, uuid.NewString(), ext)
	req, err := s.presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(model.MediaCacheControl),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}

	return &model.PresignUploadResponse{
		UploadURL:  req.URL,
		PublicURL:  fmt.Sprintf("%s/%s", s.publicURL, key),
		Key:        key,
		ExpiresInS: int(s.expiry.Seconds()),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, body []byte, contentType, cacheControl string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(s.bucket),
		Key:          aws.String(key),
		Body:         bytes.NewReader(body),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(cacheControl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload media %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s", s.publicURL, key), nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return nil
	}
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete media %s: %w", key, err)
	}
	return nil
}
