package services

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/datafetch/dfe/fetch"
	"github.com/datafetch/dfe/queues"
	"github.com/datafetch/dfe/tasks"
)

// this type encodes a JSON object for responding to root queries
type ServiceInfoResponse struct {
	Name          string `json:"name" example:"DFE" doc:"The name of the service API"`
	Version       string `json:"version" example:"1.0.0" doc:"The version string (major.minor.patch)"`
	Uptime        int    `json:"uptime" example:"345600" doc:"The time the service has been up (seconds)"`
	Documentation string `json:"documentation" example:"/docs" doc:"The OpenAPI documentation endpoint"`
}

// a request for a new fetch task (POST)
type TaskRequest struct {
	// name of the data source to fetch from
	DataSource string `json:"data_source" example:"spotify-api" doc:"data source identifier"`
	// name of the task type within the data source
	TaskType string `json:"task_type" example:"tracks" doc:"task type identifier"`
	// task-type-specific parameters
	Params json.RawMessage `json:"params,omitempty" doc:"task parameters as a JSON object"`
	// initial payloads for the inputs queue
	Inputs []json.RawMessage `json:"inputs,omitempty" doc:"initial inputs to enqueue"`
}

// a response for a task list query (GET)
type TaskListResponse struct {
	Tasks []tasks.Task `json:"tasks" doc:"a page of tasks, newest first"`
	// cursor fetching the next page, absent on the last one
	NextCursor *int64 `json:"next_cursor,omitempty" doc:"pass as the cursor query parameter to fetch the next page"`
}

// a request to add inputs to a task's queue (POST)
type InputsRequest struct {
	Inputs []json.RawMessage `json:"inputs" doc:"payloads to enqueue"`
}

// a response reporting how many inputs were actually enqueued
type InputsResponse struct {
	Added int `json:"added" doc:"number of payloads inserted (duplicates are dropped)"`
}

// a request to delete items from one of a task's queues (DELETE)
type QueueDeletionRequest struct {
	Ids []int64 `json:"ids" doc:"queue item IDs to delete"`
}

// a response reporting how many queue items were deleted
type QueueDeletionResponse struct {
	Removed int64 `json:"removed" doc:"number of items actually deleted"`
}

// TaskService defines the interface for our data fetching service.
type TaskService interface {
	// Starts the service on the selected port, returning an error that indicates
	// success or failure.
	Start(port int) error
	// Gracefully shuts down the service without interrupting active connections.
	Shutdown(ctx context.Context) error
	// Closes down the service, freeing all resources.
	Close()
}

// maps the typed errors surfaced by the tasks, queues, and fetch packages to
// HTTP statuses; anything unrecognized becomes a 500
func apiError(err error) error {
	var notFound tasks.NotFoundError
	var invalidStatus tasks.InvalidStatusError
	var noProcessor tasks.NoProcessorError
	var notRunning tasks.NotRunningError
	var unknownQueue queues.UnknownQueueError
	var noInputs queues.NoInputsError
	var unknownTaskType fetch.UnknownTaskTypeError
	var invalidParams fetch.InvalidParamsError
	switch {
	case errors.As(err, &notFound):
		return huma.Error404NotFound(err.Error())
	case errors.As(err, &invalidStatus):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &noProcessor):
		return huma.Error409Conflict(err.Error())
	case errors.As(err, &notRunning):
		return huma.Error503ServiceUnavailable(err.Error())
	case errors.As(err, &unknownQueue):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &noInputs):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &unknownTaskType):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &invalidParams):
		return huma.Error400BadRequest(err.Error())
	}
	return err
}
