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

package fetch

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/datafetch/dfe/config"
)

// each data source logs its upstream traffic to its own file, so client
// behavior can be inspected per API
var clientLoggers sync.Map // data source name -> *slog.Logger

// Returns the path of the log file for the given data source's upstream
// client.
func ClientLogPath(dataSource string) string {
	return filepath.Join(config.Dirs.AppLogDir, fmt.Sprintf("%s.log", dataSource))
}

// Returns the logger for the given data source's upstream client, creating
// its log file under {app_log_dir} if needed. Falls back to the default
// logger if the file can't be opened.
func ClientLogger(dataSource string) *slog.Logger {
	if logger, found := clientLoggers.Load(dataSource); found {
		return logger.(*slog.Logger)
	}
	if err := os.MkdirAll(config.Dirs.AppLogDir, 0755); err != nil {
		return slog.Default()
	}
	file, err := os.OpenFile(ClientLogPath(dataSource),
		os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return slog.Default()
	}
	logger := slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: config.LogLevel(),
	}))
	actual, _ := clientLoggers.LoadOrStore(dataSource, logger)
	return actual.(*slog.Logger)
}
