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
	"context"
	"encoding/json"
	"errors"

	"github.com/datafetch/dfe/fetch"
)

// Callbacks receive the outcome of each processed input. A callback error
// means the outcome couldn't be recorded (an output write failed, say), so
// the work unit is rolled back and the error stops the task.
type Callbacks struct {
	OnSuccess  func(input Item, output json.RawMessage) error
	OnNoData   func(input Item) error
	OnNonFatal func(input Item, err error) error
}

// Manager wraps a task's queue store with the processing primitives the task
// loop consumes: pop a work unit, run the fetch function over it, route each
// outcome to its terminal queue, and commit or roll back the whole unit.
type Manager struct {
	store *Store
}

func NewManager(store *Store) *Manager {
	return &Manager{store: store}
}

// Adds the given payloads to the inputs queue (deduplicated), returning the
// number actually inserted.
func (m *Manager) AddInputs(payloads []json.RawMessage) (int, error) {
	return m.store.AddInputs(payloads)
}

// Pops one input and runs the given single-item fetch function over it.
// Outcome routing: a result goes to successes, a nil result to
// inputs-without-output, a non-fatal error to failures; all three commit the
// pop. A FatalError (or a failed callback) rolls the pop back and is
// returned to stop the task. An empty inputs queue returns an
// EmptyQueueError.
func (m *Manager) ProcessNext(ctx context.Context, fn fetch.SingleFunc,
	callbacks Callbacks) error {
	item, err := m.store.PopNext()
	if err != nil {
		return err
	}

	output, err := fn(ctx, item.Data)
	if err != nil {
		var fatal *fetch.FatalError
		if errors.As(err, &fatal) || ctx.Err() != nil {
			m.store.Restore()
			return err
		}
		return m.routeNonFatal([]Item{item}, err, callbacks)
	}
	if isNullOutput(output) {
		if err := m.store.Append(InputsWithoutOutput, item.Data); err != nil {
			m.store.Restore()
			return err
		}
		if callbacks.OnNoData != nil {
			if err := callbacks.OnNoData(item); err != nil {
				m.store.Restore()
				return &fetch.FatalError{Err: err}
			}
		}
		return m.store.Ack()
	}
	if err := m.store.Append(Successes, item.Data); err != nil {
		m.store.Restore()
		return err
	}
	if callbacks.OnSuccess != nil {
		if err := callbacks.OnSuccess(item, output); err != nil {
			m.store.Restore()
			return &fetch.FatalError{Err: err}
		}
	}
	return m.store.Ack()
}

// Pops up to batchSize inputs and runs the given batch fetch function over
// them. The function must return one output per input, in order; a length
// mismatch is fatal and rolls the batch back. A nil result routes the whole
// batch to inputs-without-output, a non-fatal error routes it to failures,
// and per-item nil outputs are routed individually.
func (m *Manager) ProcessNextBatch(ctx context.Context, fn fetch.BatchFunc,
	callbacks Callbacks, batchSize int) error {
	if batchSize < 2 {
		return BatchSizeError{Size: batchSize}
	}
	items, err := m.store.PopBatch(batchSize)
	if err != nil {
		return err
	}

	inputs := make([]json.RawMessage, len(items))
	for i, item := range items {
		inputs[i] = item.Data
	}
	outputs, err := fn(ctx, inputs)
	if err != nil {
		var fatal *fetch.FatalError
		if errors.As(err, &fatal) || ctx.Err() != nil {
			m.store.Restore()
			return err
		}
		return m.routeNonFatal(items, err, callbacks)
	}
	if outputs == nil {
		for _, item := range items {
			if err := m.store.Append(InputsWithoutOutput, item.Data); err != nil {
				m.store.Restore()
				return err
			}
		}
		if callbacks.OnNoData != nil {
			for _, item := range items {
				if err := callbacks.OnNoData(item); err != nil {
					m.store.Restore()
					return &fetch.FatalError{Err: err}
				}
			}
		}
		return m.store.Ack()
	}
	if len(outputs) != len(items) {
		m.store.Restore()
		return &fetch.FatalError{Err: BatchMismatchError{
			NumInputs:  len(items),
			NumOutputs: len(outputs),
		}}
	}

	for i, item := range items {
		if isNullOutput(outputs[i]) {
			if err := m.store.Append(InputsWithoutOutput, item.Data); err != nil {
				m.store.Restore()
				return err
			}
			if callbacks.OnNoData != nil {
				if err := callbacks.OnNoData(item); err != nil {
					m.store.Restore()
					return &fetch.FatalError{Err: err}
				}
			}
			continue
		}
		if err := m.store.Append(Successes, item.Data); err != nil {
			m.store.Restore()
			return err
		}
		if callbacks.OnSuccess != nil {
			if err := callbacks.OnSuccess(item, outputs[i]); err != nil {
				m.store.Restore()
				return &fetch.FatalError{Err: err}
			}
		}
	}
	return m.store.Ack()
}

// Returns the sizes of all four queues.
func (m *Manager) Counts() (Counts, error) {
	return m.store.Counts()
}

// Returns a page of items from the given queue.
func (m *Manager) ListPage(queue Queue, cursor int64, limit int) (Page, error) {
	return m.store.ListPage(queue, cursor, limit)
}

// Deletes the items with the given IDs from the given queue.
func (m *Manager) DeleteByIds(queue Queue, ids []int64) (int64, error) {
	return m.store.DeleteByIds(queue, ids)
}

//-----------
// Internals
//-----------

// routes every item of a failed work unit to the failures queue and commits
func (m *Manager) routeNonFatal(items []Item, cause error, callbacks Callbacks) error {
	for _, item := range items {
		if err := m.store.Append(Failures, item.Data); err != nil {
			m.store.Restore()
			return err
		}
	}
	if callbacks.OnNonFatal != nil {
		for _, item := range items {
			if err := callbacks.OnNonFatal(item, cause); err != nil {
				m.store.Restore()
				return &fetch.FatalError{Err: err}
			}
		}
	}
	return m.store.Ack()
}

// a fetch function reports "no data" with a nil or JSON-null output
func isNullOutput(output json.RawMessage) bool {
	if output == nil {
		return true
	}
	trimmed := string(output)
	return trimmed == "null" || trimmed == ""
}
