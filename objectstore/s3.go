// Copyright (c) 2023 The KBase Project and its Contributors
// Copyright (c) 2023 Cohere Consulting, LLC
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/datafetch/dfe/config"
)

// S3Uploader puts files into an S3-compatible object store using path-style
// addressing, which MinIO and friends require.
type S3Uploader struct {
	client      *s3.Client
	bucket      string
	endpointURL string
	maxAttempts int
}

// Creates an uploader from the s3 config section.
func NewS3Uploader(ctx context.Context) (*S3Uploader, error) {
	region := config.S3.Region
	if region == "" {
		region = "us-east-1"
	}
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(config.S3.KeyId, config.S3.Secret, "")),
	)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(awsConfig, func(options *s3.Options) {
		options.BaseEndpoint = aws.String(config.S3.EndpointURL)
		options.UsePathStyle = true
	})
	return &S3Uploader{
		client:      client,
		bucket:      config.S3.Bucket,
		endpointURL: config.S3.EndpointURL,
		maxAttempts: config.S3.MaxAttempts,
	}, nil
}

// Uploads the file at the given path, retrying transient failures with a
// linear backoff before giving up.
func (u *S3Uploader) Upload(ctx context.Context, path, key string) (UploadInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return UploadInfo{}, err
	}
	size := info.Size()

	var lastErr error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		lastErr = u.putObject(ctx, path, key, size)
		if lastErr == nil {
			return UploadInfo{
				Key:         key,
				Bucket:      u.bucket,
				EndpointURL: u.endpointURL,
				SizeBytes:   size,
			}, nil
		}
		slog.Warn(fmt.Sprintf("Upload of %s failed (attempt %d/%d): %s",
			key, attempt, u.maxAttempts, lastErr.Error()))
		if attempt < u.maxAttempts {
			select {
			case <-time.After(time.Duration(attempt) * time.Second):
			case <-ctx.Done():
				return UploadInfo{}, ctx.Err()
			}
		}
	}
	return UploadInfo{}, UploadFailedError{
		Key:      key,
		Attempts: u.maxAttempts,
		Err:      lastErr,
	}
}

func (u *S3Uploader) putObject(ctx context.Context, path, key string, size int64) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          file,
		ContentLength: aws.Int64(size),
	})
	return err
}
