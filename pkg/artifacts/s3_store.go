package artifacts

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store implements Store using AWS S3. The write-once discipline rides on
// a conditional PutObject (If-None-Match: *): when two workers race, exactly
// one put lands and the loser compares content against what won.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string // Optional key prefix (e.g. "artifacts/")
}

// S3StoreConfig holds configuration for S3Store.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // Optional custom endpoint (for MinIO, LocalStack, etc.)
	Prefix   string // Optional key prefix
}

// NewS3Store creates a new S3-backed artifact store.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	clientOpts := func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Required for MinIO/LocalStack
		}
	}

	return &S3Store{
		client: s3.NewFromConfig(awsCfg, clientOpts),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *S3Store) objectKey(key Key) string {
	return s.prefix + key.ObjectPath()
}

func (s *S3Store) Put(ctx context.Context, key Key, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}

	existing, err := s.read(ctx, key)
	if err == nil {
		if sameContent(existing, data) {
			return nil
		}
		return ErrConflict
	}
	if err != ErrNotFound {
		return err
	}

	_, putErr := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.objectKey(key)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if putErr == nil {
		return nil
	}

	// The conditional put can lose a race with a concurrent writer. Read
	// back what landed and settle by content.
	existing, err = s.read(ctx, key)
	if err == nil {
		if sameContent(existing, data) {
			return nil
		}
		return ErrConflict
	}
	return fmt.Errorf("s3 put failed: %w", putErr)
}

func (s *S3Store) Get(ctx context.Context, key Key, dst any) error {
	data, err := s.read(ctx, key)
	if err != nil {
		return err
	}
	return decode(data, dst)
}

func (s *S3Store) Exists(ctx context.Context, key Key) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		// HeadObject does not distinguish missing from denied without
		// unwrapping; treat any failure as absent for the probe.
		return false, nil
	}
	return true, nil
}

func (s *S3Store) read(ctx context.Context, key Key) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		return nil, ErrNotFound
	}
	defer func() { _ = result.Body.Close() }()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("s3 read failed for %s: %w", key.ObjectPath(), err)
	}
	return data, nil
}
