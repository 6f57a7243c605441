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

// This package coordinates fetch tasks: durable metadata, per-task queue
// databases, and the processors that work through them. Start() brings the
// machinery up (reconciling tasks a crash left marked running), Stop() winds
// it down, and the remaining functions are the operations the service
// endpoints expose.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/datafetch/dfe/config"
	"github.com/datafetch/dfe/fetch"
	"github.com/datafetch/dfe/objectstore"
	"github.com/datafetch/dfe/output"
	"github.com/datafetch/dfe/queues"

	// activate the built-in data sources
	_ "github.com/datafetch/dfe/fetch/dummyapi"
	_ "github.com/datafetch/dfe/fetch/spotifyapi"
	_ "github.com/datafetch/dfe/fetch/spotifyinternal"
)

var running bool
var store *Store
var uploader objectstore.Uploader

// the context under which all processors run, canceled by Stop()
var baseContext context.Context
var cancelProcessors context.CancelFunc
var processorsWait sync.WaitGroup

// live processors by task ID
var processorTable = struct {
	sync.Mutex
	processors map[int64]*processor
}{}

// Starts task processing: opens the metadata store and the object store,
// moves tasks an earlier process left marked running back to pending, and
// dispatches everything pending. Called once at startup.
func Start() error {
	if running {
		return AlreadyRunningError{}
	}

	for _, dir := range []string{config.Dirs.QueueDir, config.Dirs.OutputDir,
		config.Dirs.TaskLogDir, config.Dirs.AppLogDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	baseContext, cancelProcessors = context.WithCancel(context.Background())
	var err error
	store, err = OpenStore(baseContext)
	if err != nil {
		cancelProcessors()
		return err
	}
	uploader, err = objectstore.New(baseContext)
	if err != nil {
		store.Close()
		cancelProcessors()
		return err
	}
	processorTable.Lock()
	processorTable.processors = make(map[int64]*processor)
	processorTable.Unlock()
	running = true

	// an earlier process died mid-run; its in-flight inputs were never
	// acknowledged, so re-running them from the inputs queue is safe
	interrupted, err := store.TasksWithStatus(baseContext, StatusRunning)
	if err != nil {
		return err
	}
	for _, task := range interrupted {
		slog.Info(fmt.Sprintf("Recovering interrupted task %d", task.Id))
		if _, err := store.SetStatus(baseContext, task.Id, StatusPending); err != nil {
			slog.Error(fmt.Sprintf("Recovering task %d: %s", task.Id, err.Error()))
		}
	}
	// a task interrupted mid-pause got what it asked for
	pausing, err := store.TasksWithStatus(baseContext, StatusPausing)
	if err != nil {
		return err
	}
	for _, task := range pausing {
		if _, err := store.SetStatus(baseContext, task.Id, StatusPaused); err != nil {
			slog.Error(fmt.Sprintf("Recovering task %d: %s", task.Id, err.Error()))
		}
	}
	pending, err := store.TasksWithStatus(baseContext, StatusPending)
	if err != nil {
		return err
	}
	for _, task := range pending {
		if err := dispatch(task); err != nil {
			slog.Error(fmt.Sprintf("Dispatching task %d: %s", task.Id, err.Error()))
		}
	}
	return nil
}

// Stops task processing: signals every live processor to wind down, waits
// them out, and closes the metadata store. Interrupted tasks keep the running
// status and are reconciled on the next Start().
func Stop() error {
	if !running {
		return NotRunningError{}
	}
	cancelProcessors()
	processorsWait.Wait()
	err := store.Close()
	store = nil
	uploader = nil
	running = false
	return err
}

// Creates a task in the paused state, validating its data source, task type,
// and parameters against the registry, and seeds its inputs queue with any
// given payloads.
func Create(ctx context.Context, dataSource, taskType string,
	params json.RawMessage, inputs []json.RawMessage) (Task, error) {
	if !running {
		return Task{}, NotRunningError{}
	}
	if err := fetch.ValidateTask(dataSource, taskType, params); err != nil {
		return Task{}, err
	}
	task, err := store.CreateTask(ctx, dataSource, taskType, params)
	if err != nil {
		return Task{}, err
	}
	// materialize the queue database up front so progress queries work
	// before the first run
	queueDb, err := queues.Open(task.Id)
	if err != nil {
		return Task{}, err
	}
	defer queueDb.Close()
	if len(inputs) > 0 {
		if _, err := queueDb.AddInputs(inputs); err != nil {
			return Task{}, err
		}
	}
	return task, nil
}

// Returns the task with the given ID.
func Get(ctx context.Context, id int64) (Task, error) {
	if !running {
		return Task{}, NotRunningError{}
	}
	return store.GetTask(ctx, id)
}

// Returns a page of tasks, newest first.
func List(ctx context.Context, cursor int64, limit int) ([]Task, *int64, error) {
	if !running {
		return nil, nil, NotRunningError{}
	}
	return store.ListTasks(ctx, cursor, limit)
}

// Moves a paused or errored task to pending and dispatches a processor for
// it. Tasks in any other status are rejected with an InvalidStatusError.
func Execute(ctx context.Context, id int64) (Task, error) {
	if !running {
		return Task{}, NotRunningError{}
	}
	task, err := store.GetTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if liveProcessor(id) != nil || task.Status != StatusPaused && task.Status != StatusError {
		return Task{}, InvalidStatusError{Id: id, From: task.Status, To: StatusPending}
	}
	task, err = store.SetStatus(ctx, id, StatusPending)
	if err != nil {
		return Task{}, err
	}
	if err := dispatch(task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Asks a running task to pause once its current work unit completes. The
// task moves to pausing now and to paused when the processor gets there.
// The live processor is found before anything is persisted, so a task whose
// processor already wound down is rejected without a status change.
func Pause(ctx context.Context, id int64) (Task, error) {
	if !running {
		return Task{}, NotRunningError{}
	}
	p := liveProcessor(id)
	if p == nil {
		task, err := store.GetTask(ctx, id)
		if err != nil {
			return Task{}, err
		}
		if task.Status.canTransitionTo(StatusPausing) {
			// the processor wound down between the caller's check and ours
			return Task{}, NoProcessorError{Id: id}
		}
		return Task{}, InvalidStatusError{Id: id, From: task.Status, To: StatusPausing}
	}
	task, err := store.SetStatus(ctx, id, StatusPausing)
	if err != nil {
		return Task{}, err
	}
	p.requestPause()
	return task, nil
}

// Returns the task's progress: its four queue counts plus the size of its
// current output segment. Works for any task, running or not.
func GetProgress(ctx context.Context, id int64) (Progress, error) {
	if !running {
		return Progress{}, NotRunningError{}
	}
	if p := liveProcessor(id); p != nil {
		return p.progress()
	}
	if _, err := store.GetTask(ctx, id); err != nil {
		return Progress{}, err
	}
	queueDb, err := queues.Open(id)
	if err != nil {
		return Progress{}, err
	}
	defer queueDb.Close()
	counts, err := queueDb.Counts()
	if err != nil {
		return Progress{}, err
	}
	var segmentSize int64
	if info, err := os.Stat(output.SegmentPath(id)); err == nil {
		segmentSize = info.Size()
	}
	return Progress{
		Success:             counts.Successes,
		Failure:             counts.Failures,
		InputsWithoutOutput: counts.InputsWithoutOutput,
		Remaining:           counts.Inputs,
		SegmentSizeBytes:    segmentSize,
	}, nil
}

// Returns a page of items from one of the task's queues.
func ListQueueItems(ctx context.Context, id int64, queueName string,
	cursor int64, limit int) (queues.Page, error) {
	if !running {
		return queues.Page{}, NotRunningError{}
	}
	queue, err := queues.ParseQueue(queueName)
	if err != nil {
		return queues.Page{}, err
	}
	if p := liveProcessor(id); p != nil {
		return p.queueMgr.ListPage(queue, cursor, limit)
	}
	if _, err := store.GetTask(ctx, id); err != nil {
		return queues.Page{}, err
	}
	queueDb, err := queues.Open(id)
	if err != nil {
		return queues.Page{}, err
	}
	defer queueDb.Close()
	return queueDb.ListPage(queue, cursor, limit)
}

// Deletes the items with the given IDs from one of the task's queues,
// returning the number removed.
func DeleteQueueItems(ctx context.Context, id int64, queueName string,
	itemIds []int64) (int64, error) {
	if !running {
		return 0, NotRunningError{}
	}
	queue, err := queues.ParseQueue(queueName)
	if err != nil {
		return 0, err
	}
	if p := liveProcessor(id); p != nil {
		return p.queueMgr.DeleteByIds(queue, itemIds)
	}
	if _, err := store.GetTask(ctx, id); err != nil {
		return 0, err
	}
	queueDb, err := queues.Open(id)
	if err != nil {
		return 0, err
	}
	defer queueDb.Close()
	return queueDb.DeleteByIds(queue, itemIds)
}

// Adds payloads to the task's inputs queue (deduplicated), returning the
// number actually inserted. Running tasks pick new inputs up on their next
// poll.
func AddInputs(ctx context.Context, id int64, payloads []json.RawMessage) (int, error) {
	if !running {
		return 0, NotRunningError{}
	}
	if p := liveProcessor(id); p != nil {
		return p.queueMgr.AddInputs(payloads)
	}
	if _, err := store.GetTask(ctx, id); err != nil {
		return 0, err
	}
	queueDb, err := queues.Open(id)
	if err != nil {
		return 0, err
	}
	defer queueDb.Close()
	return queueDb.AddInputs(payloads)
}

//-----------
// Internals
//-----------

// builds a processor for a pending task and launches its run on a goroutine;
// a task whose processor can't be built moves to the error status
func dispatch(task Task) error {
	p, err := newProcessor(task, store, uploader)
	if err != nil {
		if _, statusErr := store.SetStatus(baseContext, task.Id, StatusError); statusErr != nil {
			slog.Error(fmt.Sprintf("Recording dispatch failure for task %d: %s",
				task.Id, statusErr.Error()))
		}
		return err
	}
	processorTable.Lock()
	processorTable.processors[task.Id] = p
	processorTable.Unlock()

	processorsWait.Add(1)
	go func() {
		defer processorsWait.Done()
		p.run(baseContext)
		processorTable.Lock()
		delete(processorTable.processors, task.Id)
		processorTable.Unlock()
	}()
	return nil
}

func liveProcessor(id int64) *processor {
	processorTable.Lock()
	defer processorTable.Unlock()
	return processorTable.processors[id]
}
