//go:build gcp

package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore implements Store using Google Cloud Storage. The write-once
// discipline uses the DoesNotExist generation precondition.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string // Optional key prefix
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// NewGCSStore creates a new GCS-backed artifact store (uses ADC by default).
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (s *GCSStore) object(key Key) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + key.ObjectPath())
}

func (s *GCSStore) Put(ctx context.Context, key Key, v any) error {
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
	if !errors.Is(err, ErrNotFound) {
		return err
	}

	w := s.object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		// Precondition failure means a concurrent writer won the race.
		existing, readErr := s.read(ctx, key)
		if readErr == nil {
			if sameContent(existing, data) {
				return nil
			}
			return ErrConflict
		}
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

func (s *GCSStore) Get(ctx context.Context, key Key, dst any) error {
	data, err := s.read(ctx, key)
	if err != nil {
		return err
	}
	return decode(data, dst)
}

func (s *GCSStore) Exists(ctx context.Context, key Key) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("gcs attrs failed: %w", err)
}

func (s *GCSStore) read(ctx context.Context, key Key) ([]byte, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("gcs read failed: %w", err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed: %w", err)
	}
	return data, nil
}
