package storage

import (
	"context"
	"os"

	"golang.org/x/xerrors"
)

type Storage interface {
	// Put stores data with the given key and returns the storage URL
	Put(ctx context.Context, key string, data []byte) (string, error)
	// Get retrieves data from the given storage URL
	Get(ctx context.Context, url string) ([]byte, error)
}

// New builds the backend named by backend ("file" or "s3") from the environment:
// DIRECTORY for file, S3_BUCKET and S3_ENDPOINT_URL for s3.
func New(ctx context.Context, backend string) (Storage, error) {
	switch backend {
	case "file", "":
		return NewFileStorage(ctx, FileConfig{
			Directory: os.Getenv("DIRECTORY"),
		})
	case "s3":
		return NewS3Storage(ctx, S3Config{
			Bucket:      os.Getenv("S3_BUCKET"),
			EndpointURL: os.Getenv("S3_ENDPOINT_URL"),
		})
	default:
		return nil, xerrors.Errorf("unknown storage backend: %s", backend)
	}
}
