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
	"encoding/json"
	"time"

	"github.com/datafetch/dfe/output"
)

// the lifecycle state of a task
type Status string

const (
	// created; inputs may be added but nothing runs
	StatusPaused Status = "paused"
	// queued for execution by the dispatcher
	StatusPending Status = "pending"
	// a live processor is working through the inputs
	StatusRunning Status = "running"
	// a pause was requested; the processor finishes its current work unit
	StatusPausing Status = "pausing"
	// no inputs remain; all outputs are flushed and uploaded
	StatusDone Status = "done"
	// stopped by a fatal error; another execute request retries it
	StatusError Status = "error"
)

// the transitions the task state machine allows (running -> pending happens
// only during startup reconciliation, when no processor can exist, and
// pending -> error only when a processor cannot be built for the task)
var validTransitions = map[Status][]Status{
	StatusPaused:  {StatusPending},
	StatusError:   {StatusPending},
	StatusPending: {StatusRunning, StatusError},
	StatusRunning: {StatusPausing, StatusPaused, StatusDone, StatusError, StatusPending},
	StatusPausing: {StatusPaused, StatusDone, StatusError},
}

// returns true if the state machine allows moving from this status to next
func (s Status) canTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// returns true if the given string names a known status
func validStatus(status Status) bool {
	switch status {
	case StatusPaused, StatusPending, StatusRunning, StatusPausing, StatusDone, StatusError:
		return true
	}
	return false
}

// Task is the canonical metadata record for one fetch task.
type Task struct {
	Id         int64           `json:"id"`
	DataSource string          `json:"data_source"`
	TaskType   string          `json:"task_type"`
	Params     json.RawMessage `json:"params,omitempty"`
	Status     Status          `json:"status"`
	// prefix under which this task's output segments are uploaded
	S3Prefix    string                `json:"s3_prefix"`
	FileUploads []output.UploadRecord `json:"file_uploads"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Progress summarizes how far a task has come, derived entirely from its
// durable queues (no processor involvement needed).
type Progress struct {
	Success             int64 `json:"success"`
	Failure             int64 `json:"failure"`
	InputsWithoutOutput int64 `json:"inputs_without_output"`
	Remaining           int64 `json:"remaining"`
	// size of the current uncompressed output segment
	SegmentSizeBytes int64 `json:"segment_size_bytes"`
}

// returns true if two progress snapshots show the same queue counts
func (p Progress) sameCounts(other Progress) bool {
	return p.Success == other.Success &&
		p.Failure == other.Failure &&
		p.InputsWithoutOutput == other.InputsWithoutOutput &&
		p.Remaining == other.Remaining
}
