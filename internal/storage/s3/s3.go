package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/charlesng35/storefront/internal/storage"
)

// Config contains connection options for the S3-compatible object store.
type Config struct {
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	Endpoint        string // Optional custom endpoint for MinIO and friends
	UsePathStyle    bool
	CreateBucket    bool // Create the bucket during start-up when missing
}

// Store implements storage.Store on top of an S3-compatible service.
type Store struct {
	client *s3.Client
	bucket string
}

// New constructs the S3 gateway. The bucket is optionally created so local
// MinIO setups work out of the box.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("s3: bucket name is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	var (
		awsCfg aws.Config
		err    error
	)

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(cfg.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				"",
			)),
		)
	} else {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	var opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	store := &Store{
		client: s3.NewFromConfig(awsCfg, opts...),
		bucket: cfg.Bucket,
	}

	if cfg.CreateBucket {
		if err := store.ensureBucket(ctx, cfg.Region); err != nil {
			return nil, err
		}
	}

	return store, nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	var notFound *types.NotFound
	var noSuchBucket *types.NoSuchBucket
	if !errors.As(err, &notFound) && !errors.As(err, &noSuchBucket) &&
		!strings.Contains(err.Error(), "NoSuchBucket") {
		return fmt.Errorf("s3: check bucket: %w", err)
	}

	input := &s3.CreateBucketInput{Bucket: aws.String(s.bucket)}
	if region != "us-east-1" {
		input.CreateBucketConfiguration = &types.CreateBucketConfiguration{
			LocationConstraint: types.BucketLocationConstraint(region),
		}
	}

	if _, err := s.client.CreateBucket(ctx, input); err != nil {
		if strings.Contains(err.Error(), "BucketAlreadyExists") ||
			strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") {
			return nil
		}
		return fmt.Errorf("s3: create bucket: %w", err)
	}

	return nil
}

// Put uploads an object unless a copy already exists under the key. Because
// keys are content-addressed an existing object is byte-identical to the
// upload, so the call short-circuits to success.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	if _, err := s.Head(ctx, key); err == nil {
		return nil
	} else if !storage.IsNotFound(err) {
		return err
	}

	uploader := manager.NewUploader(s.client)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   body,
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := uploader.Upload(ctx, input); err != nil {
		return classify(err, "upload")
	}
	return nil
}

// Head retrieves object metadata, returning storage.ErrObjectNotFound for
// missing keys.
func (s *Store) Head(ctx context.Context, key string) (*storage.ObjectInfo, error) {
	result, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err, "head")
	}

	info := &storage.ObjectInfo{
		Key:         key,
		ContentType: "application/octet-stream",
	}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.ContentType != nil {
		info.ContentType = *result.ContentType
	}
	if result.ETag != nil {
		info.ETag = strings.Trim(*result.ETag, "\"")
	}
	if result.LastModified != nil {
		info.LastModified = *result.LastModified
	}
	return info, nil
}

// Get streams an object's bytes.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify(err, "get")
	}
	return result.Body, nil
}

// Delete removes an object. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		err = classify(err, "delete")
		if storage.IsNotFound(err) {
			return nil
		}
		return err
	}
	return nil
}

// classify maps SDK failures onto the storage sentinels.
func classify(err error, op string) error {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &notFound) || errors.As(err, &noSuchKey) {
		return storage.ErrObjectNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return storage.ErrObjectNotFound
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "ThrottlingException":
			return fmt.Errorf("s3: %s: %v: %w", op, err, storage.ErrTransient)
		}
	}

	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return fmt.Errorf("s3: %s: %v: %w", op, err, storage.ErrTransient)
	}

	if ctxErr := contextError(err); ctxErr != nil {
		return fmt.Errorf("s3: %s: %v: %w", op, err, storage.ErrTransient)
	}

	return fmt.Errorf("s3: %s: %w", op, err)
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	if errors.Is(err, context.Canceled) {
		return context.Canceled
	}
	return nil
}
