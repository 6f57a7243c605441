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
)

// FatalError marks an error that stops the whole task rather than a single
// item: blocked credentials, an upstream ban, or a malformed batch result.
// The processing loop restores the in-flight inputs and moves the task to
// its error state when it sees one.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("Fatal task error: %s", e.Err.Error())
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// constructs a FatalError from a format string
func Fatalf(format string, args ...any) *FatalError {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// indicates that no fetch function is registered for a data source / task
// type pair
type UnknownTaskTypeError struct {
	DataSource string
	TaskType   string
}

func (e UnknownTaskTypeError) Error() string {
	return fmt.Sprintf("No fetch function is registered for data source %s, task type %s.",
		e.DataSource, e.TaskType)
}

// indicates that the given task parameters don't satisfy the parameter
// schema registered for the task type
type InvalidParamsError struct {
	DataSource string
	TaskType   string
	Reason     string
}

func (e InvalidParamsError) Error() string {
	return fmt.Sprintf("Invalid parameters for %s/%s task: %s",
		e.DataSource, e.TaskType, e.Reason)
}

// indicates that an upstream API responded with a non-success status code
type UpstreamError struct {
	StatusCode int
	URL        string
}

func (e UpstreamError) Error() string {
	return fmt.Sprintf("Upstream request to %s failed with status %d.",
		e.URL, e.StatusCode)
}

// indicates that an HTTPS request was redirected to plain HTTP
type DowngradedRedirectError struct {
	Endpoint string
}

func (e DowngradedRedirectError) Error() string {
	return fmt.Sprintf("Redirect to non-HTTPS endpoint %s refused.", e.Endpoint)
}
