package objectstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"

	platformstore "github.com/animus-labs/mlpipe/internal/platform/objectstore"
)

// sha256MetaKey is sent as x-amz-meta-code-sha256.
const sha256MetaKey = "Code-Sha256"

var errNotInitialized = errors.New("minio store not initialized")

type MinioStore struct {
	client *minio.Client
}

func NewMinioStore(cfg platformstore.Config) (*MinioStore, error) {
	client, err := platformstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewMinioStoreWithClient(client)
}

func NewMinioStoreWithClient(client *minio.Client) (*MinioStore, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	return &MinioStore{client: client}, nil
}

func (s *MinioStore) Put(ctx context.Context, bucket string, obj Object) error {
	if s == nil || s.client == nil {
		return errNotInitialized
	}
	opts := minio.PutObjectOptions{ContentType: obj.ContentType}
	if obj.SHA256 != "" {
		opts.UserMetadata = map[string]string{sha256MetaKey: obj.SHA256}
	}
	if _, err := s.client.PutObject(ctx, bucket, obj.Key, obj.Body, obj.Size, opts); err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, obj.Key, err)
	}
	return nil
}

// Stat returns ErrObjectNotFound when the key does not exist.
func (s *MinioStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	if s == nil || s.client == nil {
		return ObjectInfo{}, errNotInitialized
	}
	info, err := s.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey", "NoSuchBucket":
			return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return ObjectInfo{}, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}
	out := ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}
	for k, v := range info.UserMetadata {
		if strings.EqualFold(k, sha256MetaKey) {
			out.SHA256 = v
		}
	}
	return out, nil
}
