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

// This package contains testing utilities for the data fetch engine.
package enginetest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/datafetch/dfe/config"
	"github.com/datafetch/dfe/fetch"
)

// Enables DEBUG log messages for the engine's structured log (slog).
func EnableDebugLogging() {
	logLevel := new(slog.LevelVar)
	logLevel.Set(slog.LevelDebug)
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(h))
}

// Returns a complete service configuration rooted at the given directory,
// with every data path beneath it and the object store pointed at a local
// directory instead of S3.
func ConfigYaml(root string) []byte {
	return []byte(fmt.Sprintf(`
service:
  port: 8080
  max_connections: 100
  poll_interval: 1
  progress_log_interval: 60
  segment_threshold: 524288000
  log_level: DEBUG
dirs:
  database_file_path: %s
  task_progress_dbs_dir: %s
  task_output_dir: %s
  task_log_dir: %s
  app_log_dir: %s
s3:
  bucket: test-bucket
  local_dir: %s
`,
		filepath.Join(root, "metadata", "tasks.db"),
		filepath.Join(root, "queues"),
		filepath.Join(root, "outputs"),
		filepath.Join(root, "task-logs"),
		filepath.Join(root, "app-logs"),
		filepath.Join(root, "uploads")))
}

// Initializes the configuration with a fixture rooted at the given directory.
func Setup(root string) error {
	return config.Init(ConfigYaml(root))
}

// Registers a parameterless single-item fetch fixture under the given data
// source and task type names.
func RegisterSingle(dataSource, taskType string, fn fetch.SingleFunc) {
	fetch.Register(dataSource, taskType, fetch.Registration{
		New: func(params any) (fetch.Function, error) {
			return fetch.Function{Single: fn}, nil
		},
	})
}

// Registers a parameterless batch fetch fixture under the given data source
// and task type names.
func RegisterBatch(dataSource, taskType string, maxBatchSize int, fn fetch.BatchFunc) {
	fetch.Register(dataSource, taskType, fetch.Registration{
		New: func(params any) (fetch.Function, error) {
			return fetch.Function{Batch: fn, MaxBatchSize: maxBatchSize}, nil
		},
	})
}
