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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/datafetch/dfe/config"
	"github.com/datafetch/dfe/fetch"
	"github.com/datafetch/dfe/objectstore"
	"github.com/datafetch/dfe/output"
	"github.com/datafetch/dfe/queues"
)

// processor drives one task: it owns the task's queue store, output sink,
// fetch function, and log stream for the duration of a run.
type processor struct {
	task     Task
	store    *Store
	queueMgr *queues.Manager
	queueDb  *queues.Store
	sink     *output.Sink
	fn       fetch.Function
	logger   *slog.Logger
	logFile  *os.File

	pauseRequested atomic.Bool
	done           chan struct{}
}

// materializes a processor for the given task: opens its queue store and
// output sink and builds its fetch function from the registry
func newProcessor(task Task, store *Store, uploader objectstore.Uploader) (*processor, error) {
	fn, err := fetch.New(task.DataSource, task.TaskType, task.Params)
	if err != nil {
		return nil, err
	}
	logger, logFile, err := taskLogger(task.Id)
	if err != nil {
		return nil, err
	}
	queueDb, err := queues.Open(task.Id)
	if err != nil {
		logFile.Close()
		return nil, err
	}
	sink, err := output.NewSink(task.Id, task.S3Prefix, uploader,
		func(record output.UploadRecord) error {
			return store.AddUpload(context.Background(), task.Id, record)
		}, logger)
	if err != nil {
		queueDb.Close()
		logFile.Close()
		return nil, err
	}
	return &processor{
		task:     task,
		store:    store,
		queueMgr: queues.NewManager(queueDb),
		queueDb:  queueDb,
		sink:     sink,
		fn:       fn,
		logger:   logger,
		logFile:  logFile,
		done:     make(chan struct{}),
	}, nil
}

// asks the processor to pause after its current work unit
func (p *processor) requestPause() {
	p.pauseRequested.Store(true)
}

// synthesizes the task's progress from its queue counts and segment size
func (p *processor) progress() (Progress, error) {
	counts, err := p.queueMgr.Counts()
	if err != nil {
		return Progress{}, err
	}
	return Progress{
		Success:             counts.Successes,
		Failure:             counts.Failures,
		InputsWithoutOutput: counts.InputsWithoutOutput,
		Remaining:           counts.Inputs,
		SegmentSizeBytes:    p.sink.Size(),
	}, nil
}

// The top-level processing loop, dispatched on its own goroutine. Pops work
// units until the inputs run dry (tail flush, done), a pause is observed
// (paused), or a fatal error strikes (error). A canceled context means the
// process is shutting down: resources are released and the status is left
// for startup reconciliation.
func (p *processor) run(ctx context.Context) {
	defer close(p.done)
	defer p.logFile.Close()

	runId := uuid.New()
	if _, err := p.store.SetStatus(ctx, p.task.Id, StatusRunning); err != nil {
		p.logger.Error(fmt.Sprintf("Run %s: %s", runId.String(), err.Error()))
		p.release()
		return
	}
	p.logger.Info(fmt.Sprintf("Run %s: task is now running", runId.String()))

	callbacks := queues.Callbacks{
		OnSuccess: func(item queues.Item, result json.RawMessage) error {
			return p.sink.Write(ctx, result)
		},
		OnNoData: func(item queues.Item) error {
			p.logger.Debug(fmt.Sprintf("Input %d produced no data", item.Id))
			return nil
		},
		OnNonFatal: func(item queues.Item, err error) error {
			p.logger.Warn(fmt.Sprintf("Input %d failed: %s", item.Id, err.Error()))
			return nil
		},
	}

	pollInterval := time.Duration(config.Service.PollInterval) * time.Second
	progressInterval := time.Duration(config.Service.ProgressLogInterval) * time.Second
	lastProgress := Progress{Success: -1} // force the first report
	lastReport := time.Now()

	var emptyQueue queues.EmptyQueueError
	retriedEmpty := false
	for {
		if ctx.Err() != nil {
			p.logger.Info(fmt.Sprintf("Run %s: shutting down", runId.String()))
			p.release()
			return
		}
		if p.pauseRequested.Load() {
			p.finishPaused(runId)
			return
		}

		err := p.processUnit(ctx, callbacks)
		switch {
		case err == nil:
			retriedEmpty = false
		case errors.As(err, &emptyQueue):
			// inputs may still arrive while we're running; look again once
			// before declaring the task complete
			if !retriedEmpty {
				retriedEmpty = true
				select {
				case <-time.After(pollInterval):
				case <-ctx.Done():
				}
				continue
			}
			p.finishDone(ctx, runId)
			return
		default:
			if ctx.Err() != nil {
				continue // observed on the next iteration
			}
			p.finishError(runId, err)
			return
		}

		if time.Since(lastReport) >= progressInterval {
			if progress, err := p.progress(); err == nil && !progress.sameCounts(lastProgress) {
				p.logger.Info(fmt.Sprintf(
					"Run %s: %d succeeded, %d failed, %d without output, %d remaining",
					runId.String(), progress.Success, progress.Failure,
					progress.InputsWithoutOutput, progress.Remaining))
				lastProgress = progress
				lastReport = time.Now()
			}
		}
	}
}

//-----------
// Internals
//-----------

// processes one work unit: a single input or a batch, per the fetch function
func (p *processor) processUnit(ctx context.Context, callbacks queues.Callbacks) error {
	if p.fn.Batched() {
		return p.queueMgr.ProcessNextBatch(ctx, p.fn.Batch, callbacks, p.fn.MaxBatchSize)
	}
	return p.queueMgr.ProcessNext(ctx, p.fn.Single, callbacks)
}

// the clean-exhaustion path: tail flush, then done
func (p *processor) finishDone(ctx context.Context, runId uuid.UUID) {
	if err := p.sink.Finish(ctx); err != nil {
		p.logger.Error(fmt.Sprintf("Run %s: tail flush failed: %s",
			runId.String(), err.Error()))
		p.setStatus(runId, StatusError)
		p.queueDb.Close()
		return
	}
	p.setStatus(runId, StatusDone)
	p.queueDb.Close()
}

// the cooperative-pause path: current segment stays on disk for the resume
func (p *processor) finishPaused(runId uuid.UUID) {
	p.release()
	p.setStatus(runId, StatusPaused)
}

// the fatal path: in-flight inputs were already restored by the manager
func (p *processor) finishError(runId uuid.UUID, cause error) {
	p.logger.Error(fmt.Sprintf("Run %s: %s", runId.String(), cause.Error()),
		"stack", string(debug.Stack()))
	p.release()
	p.setStatus(runId, StatusError)
}

// closes the sink and queue store without flushing
func (p *processor) release() {
	if err := p.sink.Close(); err != nil {
		p.logger.Error(fmt.Sprintf("Closing output sink: %s", err.Error()))
	}
	if err := p.queueDb.Close(); err != nil {
		p.logger.Error(fmt.Sprintf("Closing queue store: %s", err.Error()))
	}
}

func (p *processor) setStatus(runId uuid.UUID, status Status) {
	if _, err := p.store.SetStatus(context.Background(), p.task.Id, status); err != nil {
		p.logger.Error(fmt.Sprintf("Run %s: recording status %s: %s",
			runId.String(), status, err.Error()))
		return
	}
	p.logger.Info(fmt.Sprintf("Run %s: task is now %s", runId.String(), status))
}
