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
	"io"
	"os"
	"path/filepath"
)

// LocalUploader "uploads" files into a directory on the local filesystem.
type LocalUploader struct {
	dir string
}

func NewLocalUploader(dir string) *LocalUploader {
	return &LocalUploader{dir: dir}
}

// Copies the file at the given path to {dir}/{key}.
func (u *LocalUploader) Upload(ctx context.Context, path, key string) (UploadInfo, error) {
	if err := ctx.Err(); err != nil {
		return UploadInfo{}, err
	}
	source, err := os.Open(path)
	if err != nil {
		return UploadInfo{}, err
	}
	defer source.Close()

	target := filepath.Join(u.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return UploadInfo{}, err
	}
	destination, err := os.Create(target)
	if err != nil {
		return UploadInfo{}, err
	}
	defer destination.Close()

	size, err := io.Copy(destination, source)
	if err != nil {
		return UploadInfo{}, err
	}
	return UploadInfo{
		Key:         key,
		Bucket:      u.dir,
		EndpointURL: "file://" + u.dir,
		SizeBytes:   size,
	}, nil
}
