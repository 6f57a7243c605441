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

// This package writes task outputs as line-delimited JSON. Each task owns one
// local segment file; when the segment reaches the configured size, a
// background goroutine compresses it with zstd, uploads the result to the
// object store, records the upload, and removes the local copies while the
// task keeps writing into a fresh segment.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/datafetch/dfe/config"
	"github.com/datafetch/dfe/objectstore"
)

// UploadRecord describes one uploaded output segment; it is appended to the
// owning task's metadata and never rewritten.
type UploadRecord struct {
	S3Key         string    `json:"s3_key"`
	S3Bucket      string    `json:"s3_bucket"`
	S3EndpointURL string    `json:"s3_endpoint_url"`
	SizeBytes     int64     `json:"size_bytes"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

// A Recorder persists one upload record.
type Recorder func(record UploadRecord) error

// Returns the path of the given task's current uncompressed output segment.
func SegmentPath(taskId int64) string {
	return filepath.Join(config.Dirs.OutputDir, fmt.Sprintf("%d.jsonl", taskId))
}

// Sink is the per-task output writer.
type Sink struct {
	taskId    int64
	s3Prefix  string
	threshold int64
	uploader  objectstore.Uploader
	record    Recorder
	logger    *slog.Logger

	path string
	file *os.File
	size atomic.Int64

	// in-flight background compressions/uploads
	pending sync.WaitGroup

	mutex    sync.Mutex
	asyncErr error
}

// Opens the output sink for the given task, writing to
// {task_output_dir}/{task_id}.jsonl. A segment left over from an earlier run
// is appended to; its size counts toward the rotation threshold.
func NewSink(taskId int64, s3Prefix string, uploader objectstore.Uploader,
	record Recorder, logger *slog.Logger) (*Sink, error) {
	if err := os.MkdirAll(config.Dirs.OutputDir, 0755); err != nil {
		return nil, err
	}
	sink := Sink{
		taskId:    taskId,
		s3Prefix:  s3Prefix,
		threshold: config.Service.SegmentThreshold,
		uploader:  uploader,
		record:    record,
		logger:    logger,
		path:      SegmentPath(taskId),
	}
	if err := sink.openSegment(); err != nil {
		return nil, err
	}
	return &sink, nil
}

// Appends one output as a JSON line, stamping it with an observed_at
// timestamp (non-object outputs are wrapped as {"data": ..., "observed_at":
// ...}). Triggers a rotation when the segment reaches the size threshold.
func (s *Sink) Write(ctx context.Context, output json.RawMessage) error {
	if err := s.takeAsyncErr(); err != nil {
		return err
	}
	line, err := stampObservedAt(output)
	if err != nil {
		return err
	}
	n, err := s.file.Write(append(line, '\n'))
	s.size.Add(int64(n))
	if err != nil {
		return err
	}
	if s.size.Load() >= s.threshold {
		return s.rotate(ctx)
	}
	return nil
}

// Returns the size of the current uncompressed segment in bytes.
func (s *Sink) Size() int64 {
	return s.size.Load()
}

// Finish flushes the sink at the end of a task: waits out in-flight
// rotations, sweeps any segments a crash left behind, then compresses and
// uploads the current segment (or just deletes it if empty). The segment
// file is closed no matter which step fails.
func (s *Sink) Finish(ctx context.Context) error {
	s.pending.Wait()
	closeErr := s.file.Close()
	if err := s.takeAsyncErr(); err != nil {
		return err
	}
	if err := s.sweepLeftovers(ctx); err != nil {
		return err
	}
	if closeErr != nil {
		return closeErr
	}
	if s.size.Load() == 0 {
		return os.Remove(s.path)
	}
	return s.sealSegment(ctx, s.path)
}

// Close releases the sink without flushing; the current segment stays on
// disk for the next run. In-flight rotations are allowed to complete.
func (s *Sink) Close() error {
	s.pending.Wait()
	err := s.file.Close()
	if asyncErr := s.takeAsyncErr(); asyncErr != nil {
		return asyncErr
	}
	return err
}

//-----------
// Internals
//-----------

func (s *Sink) openSegment() error {
	file, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return err
	}
	s.file = file
	s.size.Store(info.Size())
	return nil
}

// closes the full segment, hands it to a background goroutine for
// compression and upload, and opens a fresh one
func (s *Sink) rotate(ctx context.Context) error {
	if err := s.file.Close(); err != nil {
		return err
	}
	rotated := fmt.Sprintf("%s.%d", s.path, time.Now().UnixNano())
	if err := os.Rename(s.path, rotated); err != nil {
		return err
	}
	s.logger.Info(fmt.Sprintf("Rotating output segment (%d bytes)", s.size.Load()))

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		if err := s.sealSegment(ctx, rotated); err != nil {
			s.setAsyncErr(err)
		}
	}()
	return s.openSegment()
}

// compresses the segment at the given path, uploads it, records the upload,
// and removes the local copies
func (s *Sink) sealSegment(ctx context.Context, path string) error {
	compressed := path + ".zst"
	if err := compressFile(path, compressed); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	return s.uploadCompressed(ctx, compressed)
}

func (s *Sink) uploadCompressed(ctx context.Context, path string) error {
	stat, err := os.Stat(path)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%s_%s.jsonl.zst", s.s3Prefix,
		stat.ModTime().UTC().Format("2006-01-02_15-04-05"), serverIP())

	info, err := s.uploader.Upload(ctx, path, key)
	if err != nil {
		return err
	}
	err = s.record(UploadRecord{
		S3Key:         info.Key,
		S3Bucket:      info.Bucket,
		S3EndpointURL: info.EndpointURL,
		SizeBytes:     info.SizeBytes,
		UploadedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	s.logger.Info(fmt.Sprintf("Uploaded %s (%d bytes)", info.Key, info.SizeBytes))
	return os.Remove(path)
}

// sweeps segments a previous process left behind: compressed segments that
// never got uploaded and rotated segments that never got compressed
func (s *Sink) sweepLeftovers(ctx context.Context) error {
	leftovers, err := filepath.Glob(s.path + ".*")
	if err != nil {
		return err
	}
	for _, leftover := range leftovers {
		if strings.HasSuffix(leftover, ".zst") {
			s.logger.Info(fmt.Sprintf("Uploading leftover compressed segment %s", leftover))
			if err := s.uploadCompressed(ctx, leftover); err != nil {
				return err
			}
			continue
		}
		s.logger.Info(fmt.Sprintf("Sealing leftover rotated segment %s", leftover))
		if err := s.sealSegment(ctx, leftover); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) setAsyncErr(err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.asyncErr == nil {
		s.asyncErr = err
	}
}

func (s *Sink) takeAsyncErr() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	err := s.asyncErr
	s.asyncErr = nil
	return err
}

// injects an observed_at timestamp into the given output, wrapping outputs
// that aren't JSON objects
func stampObservedAt(output json.RawMessage) ([]byte, error) {
	observedAt := time.Now().UTC().Format(time.RFC3339Nano)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(output, &fields); err == nil && fields != nil {
		stamp, _ := json.Marshal(observedAt)
		fields["observed_at"] = stamp
		return json.Marshal(fields)
	}
	return json.Marshal(map[string]any{
		"data":        output,
		"observed_at": observedAt,
	})
}
