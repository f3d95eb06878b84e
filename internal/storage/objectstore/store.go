package objectstore

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

// Store is the subset of S3 the code snapshot uploader needs.
type Store interface {
	Put(ctx context.Context, bucket string, obj Object) error
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)
}

// Object is an upload. SHA256 is the hex digest of Body and is stored with
// the object so later reads can be checked.
type Object struct {
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
	SHA256      string
}

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	SHA256       string
	LastModified time.Time
}
