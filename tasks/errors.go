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

package tasks

import (
	"fmt"
)

// indicates that a task is sought but not found
type NotFoundError struct {
	Id int64
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("The task %d was not found.", e.Id)
}

// indicates that an operation would move a task to a status the state
// machine doesn't allow from its current one
type InvalidStatusError struct {
	Id   int64
	From Status
	To   Status
}

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("Task %d cannot move from status %s to %s.",
		e.Id, e.From, e.To)
}

// indicates that Start() has been called when tasks are being processed
type AlreadyRunningError struct{}

func (e AlreadyRunningError) Error() string {
	return "Tasks are already running and cannot be started again."
}

// indicates that Stop() has been called when tasks are not being processed
type NotRunningError struct{}

func (e NotRunningError) Error() string {
	return "Tasks are not currently being processed."
}

// indicates that a task's pause was requested but no live processor serves it
type NoProcessorError struct {
	Id int64
}

func (e NoProcessorError) Error() string {
	return fmt.Sprintf("No processor is currently serving task %d.", e.Id)
}
