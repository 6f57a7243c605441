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

package queues

import (
	"fmt"
)

// indicates that an operation names a queue that does not exist
type UnknownQueueError struct {
	Name string
}

func (e UnknownQueueError) Error() string {
	return fmt.Sprintf("Unknown queue: %s", e.Name)
}

// indicates that a pop was attempted on a queue with no available items
type EmptyQueueError struct {
	Queue Queue
}

func (e EmptyQueueError) Error() string {
	return fmt.Sprintf("The %s queue has no items available.", e.Queue)
}

// indicates that batch processing was requested with a batch size that is
// too small (sequential processing handles single items)
type BatchSizeError struct {
	Size int
}

func (e BatchSizeError) Error() string {
	return fmt.Sprintf("Invalid batch size: %d (must be at least 2).", e.Size)
}

// indicates that inputs were added to a task with an empty payload list
type NoInputsError struct{}

func (e NoInputsError) Error() string {
	return "No input payloads were given!"
}

// indicates that a batch fetch returned a number of outputs that doesn't
// match the number of inputs it was given
type BatchMismatchError struct {
	NumInputs  int
	NumOutputs int
}

func (e BatchMismatchError) Error() string {
	return fmt.Sprintf("Batch fetch returned %d outputs for %d inputs.",
		e.NumOutputs, e.NumInputs)
}
