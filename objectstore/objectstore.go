// This package moves compressed output segments into object storage. The
// engine only ever needs "put this local file at that key", so that is the
// whole interface; the S3 implementation talks to any S3-compatible store
// and the local implementation keeps development and tests off the network.
package objectstore

import (
	"context"

	"github.com/datafetch/dfe/config"
)

// Uploader puts a local file into the object store.
type Uploader interface {
	// Uploads the file at the given path to the given key, returning a
	// description of the stored object.
	Upload(ctx context.Context, path, key string) (UploadInfo, error)
}

// UploadInfo describes one stored object.
type UploadInfo struct {
	Key         string
	Bucket      string
	EndpointURL string
	SizeBytes   int64
}

// Returns the uploader selected by the s3 config section: a local directory
// uploader when local_dir is set, an S3 client otherwise.
func New(ctx context.Context) (Uploader, error) {
	if config.S3.LocalDir != "" {
		return NewLocalUploader(config.S3.LocalDir), nil
	}
	return NewS3Uploader(ctx)
}
