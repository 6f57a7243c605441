package services

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humamux"
	"github.com/gorilla/mux"
	"golang.org/x/net/netutil"

	"github.com/datafetch/dfe/config"
	"github.com/datafetch/dfe/fetch"
	"github.com/datafetch/dfe/queues"
	"github.com/datafetch/dfe/tasks"
)

// Version numbers
var majorVersion = 0
var minorVersion = 1
var patchVersion = 0

// Version string
var version = fmt.Sprintf("%d.%d.%d", majorVersion, minorVersion, patchVersion)

// This type implements the TaskService interface, exposing the task engine's
// operations over HTTP.
type engine struct {
	// name of the service
	Name string
	// service version identifier
	Version string
	// time which the service was started
	StartTime time.Time
	// port on which the service currently runs
	Port int
	// router for REST endpoints
	Router *mux.Router
	// API wrapper
	API huma.API
	// HTTP server.
	Server *http.Server
}

type ServiceInfoOutput struct {
	Body ServiceInfoResponse `doc:"information about the service itself"`
}

// handler method for root
func (service *engine) getRoot(ctx context.Context,
	input *struct{}) (*ServiceInfoOutput, error) {

	slog.Info("Querying root endpoint...")
	return &ServiceInfoOutput{
		Body: ServiceInfoResponse{
			Name:          service.Name,
			Version:       service.Version,
			Uptime:        int(service.uptime()),
			Documentation: "/docs",
		},
	}, nil
}

type TaskOutput struct {
	Body   tasks.Task `doc:"The metadata record for the task"`
	Status int
}

// handler method for creating a fetch task; the task is born paused and must
// be executed explicitly
func (service *engine) createTask(ctx context.Context,
	input *struct {
		Body        TaskRequest `doc:"The body of a POST request for a new fetch task"`
		ContentType string      `header:"Content-Type" doc:"Content-Type header (must be application/json)"`
	}) (*TaskOutput, error) {

	slog.Info(fmt.Sprintf("Creating %s/%s task...",
		input.Body.DataSource, input.Body.TaskType))
	task, err := tasks.Create(ctx, input.Body.DataSource, input.Body.TaskType,
		input.Body.Params, input.Body.Inputs)
	if err != nil {
		return nil, apiError(err)
	}
	return &TaskOutput{
		Body:   task,
		Status: http.StatusCreated,
	}, nil
}

type TaskListOutput struct {
	Body TaskListResponse `doc:"A page of tasks, newest first"`
}

// handler method for listing tasks
func (service *engine) listTasks(ctx context.Context,
	input *struct {
		Cursor int64 `query:"cursor" example:"42" doc:"(Optional) List tasks starting at the given cursor"`
		Limit  int   `query:"limit" example:"50" doc:"(Optional) Limits the number of tasks returned"`
	}) (*TaskListOutput, error) {

	taskPage, nextCursor, err := tasks.List(ctx, input.Cursor, input.Limit)
	if err != nil {
		return nil, apiError(err)
	}
	return &TaskListOutput{
		Body: TaskListResponse{
			Tasks:      taskPage,
			NextCursor: nextCursor,
		},
	}, nil
}

// handler method for querying a single task
func (service *engine) getTask(ctx context.Context,
	input *struct {
		Id int64 `path:"id" example:"42" doc:"the ID of a task"`
	}) (*TaskOutput, error) {

	task, err := tasks.Get(ctx, input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	return &TaskOutput{Body: task, Status: http.StatusOK}, nil
}

// handler method for executing a paused or errored task
func (service *engine) executeTask(ctx context.Context,
	input *struct {
		Id int64 `path:"id" example:"42" doc:"the ID of a task"`
	}) (*TaskOutput, error) {

	slog.Info(fmt.Sprintf("Executing task %d...", input.Id))
	task, err := tasks.Execute(ctx, input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	return &TaskOutput{
		Body:   task,
		Status: http.StatusAccepted,
	}, nil
}

// handler method for pausing a running task
func (service *engine) pauseTask(ctx context.Context,
	input *struct {
		Id int64 `path:"id" example:"42" doc:"the ID of a task"`
	}) (*TaskOutput, error) {

	slog.Info(fmt.Sprintf("Pausing task %d...", input.Id))
	task, err := tasks.Pause(ctx, input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	return &TaskOutput{
		Body:   task,
		Status: http.StatusAccepted,
	}, nil
}

type ProgressOutput struct {
	Body tasks.Progress `doc:"The task's queue counts and current segment size"`
}

// handler method for querying a task's progress
func (service *engine) getTaskProgress(ctx context.Context,
	input *struct {
		Id int64 `path:"id" example:"42" doc:"the ID of a task"`
	}) (*ProgressOutput, error) {

	progress, err := tasks.GetProgress(ctx, input.Id)
	if err != nil {
		return nil, apiError(err)
	}
	return &ProgressOutput{Body: progress}, nil
}

type QueuePageOutput struct {
	Body queues.Page `doc:"A page of items from one of the task's queues"`
}

// handler method for listing items in one of a task's queues
func (service *engine) listQueueItems(ctx context.Context,
	input *struct {
		Id     int64  `path:"id" example:"42" doc:"the ID of a task"`
		Queue  string `path:"queue" example:"failures" doc:"one of inputs, successes, failures, inputs_without_output"`
		Cursor int64  `query:"cursor" example:"100" doc:"(Optional) List items starting at the given cursor"`
		Limit  int    `query:"limit" example:"50" doc:"(Optional) Limits the number of items returned"`
	}) (*QueuePageOutput, error) {

	page, err := tasks.ListQueueItems(ctx, input.Id, input.Queue,
		input.Cursor, input.Limit)
	if err != nil {
		return nil, apiError(err)
	}
	return &QueuePageOutput{Body: page}, nil
}

type QueueDeletionOutput struct {
	Body QueueDeletionResponse `doc:"The number of queue items deleted"`
}

// handler method for deleting items from one of a task's queues
func (service *engine) deleteQueueItems(ctx context.Context,
	input *struct {
		Id          int64                `path:"id" example:"42" doc:"the ID of a task"`
		Queue       string               `path:"queue" example:"failures" doc:"one of inputs, successes, failures, inputs_without_output"`
		Body        QueueDeletionRequest `doc:"The IDs of the queue items to delete"`
		ContentType string               `header:"Content-Type" doc:"Content-Type header (must be application/json)"`
	}) (*QueueDeletionOutput, error) {

	removed, err := tasks.DeleteQueueItems(ctx, input.Id, input.Queue, input.Body.Ids)
	if err != nil {
		return nil, apiError(err)
	}
	return &QueueDeletionOutput{
		Body: QueueDeletionResponse{Removed: removed},
	}, nil
}

type InputsOutput struct {
	Body InputsResponse `doc:"The number of inputs actually enqueued"`
}

// handler method for adding inputs to a task's queue
func (service *engine) addTaskInputs(ctx context.Context,
	input *struct {
		Id          int64         `path:"id" example:"42" doc:"the ID of a task"`
		Body        InputsRequest `doc:"The payloads to enqueue"`
		ContentType string        `header:"Content-Type" doc:"Content-Type header (must be application/json)"`
	}) (*InputsOutput, error) {

	added, err := tasks.AddInputs(ctx, input.Id, input.Body.Inputs)
	if err != nil {
		return nil, apiError(err)
	}
	return &InputsOutput{
		Body: InputsResponse{Added: added},
	}, nil
}

type LogOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte `doc:"the log stream, as line-delimited JSON records"`
}

// handler method for streaming a task's log
func (service *engine) getTaskLog(ctx context.Context,
	input *struct {
		Id int64 `path:"id" example:"42" doc:"the ID of a task"`
	}) (*LogOutput, error) {

	if _, err := tasks.Get(ctx, input.Id); err != nil {
		return nil, apiError(err)
	}
	return serveLog(tasks.TaskLogPath(input.Id))
}

// handler method for streaming a data source's client log
func (service *engine) getDataSourceLog(ctx context.Context,
	input *struct {
		Source string `path:"source" example:"spotify-api" doc:"a data source identifier"`
	}) (*LogOutput, error) {

	if _, ok := config.DataSources[input.Source]; !ok && !fetch.KnownDataSource(input.Source) {
		return nil, huma.Error404NotFound(
			fmt.Sprintf("The data source %s was not found.", input.Source))
	}
	return serveLog(fetch.ClientLogPath(input.Source))
}

// reads the log file at the given path into a plain-text response; a log
// that doesn't exist yet streams as empty rather than erroring
func serveLog(path string) (*LogOutput, error) {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return &LogOutput{
		ContentType: "application/x-ndjson",
		Body:        data,
	}, nil
}

// returns the uptime for the service in seconds
func (service *engine) uptime() float64 {
	return time.Since(service.StartTime).Seconds()
}

// constructs a task engine service given our configuration
func NewService() (TaskService, error) {
	service := new(engine)
	service.Name = "Data fetch engine"
	service.Version = version
	service.Port = -1

	// set up routing
	service.Router = mux.NewRouter()
	api := humamux.New(service.Router, huma.DefaultConfig(service.Name, service.Version))
	huma.Get(api, "/", service.getRoot)

	// API v1
	huma.Post(api, "/api/v1/tasks", service.createTask)
	huma.Get(api, "/api/v1/tasks", service.listTasks)
	huma.Get(api, "/api/v1/tasks/{id}", service.getTask)
	huma.Post(api, "/api/v1/tasks/{id}/execute", service.executeTask)
	huma.Post(api, "/api/v1/tasks/{id}/pause", service.pauseTask)
	huma.Get(api, "/api/v1/tasks/{id}/progress", service.getTaskProgress)
	huma.Get(api, "/api/v1/tasks/{id}/queues/{queue}", service.listQueueItems)
	huma.Delete(api, "/api/v1/tasks/{id}/queues/{queue}", service.deleteQueueItems)
	huma.Post(api, "/api/v1/tasks/{id}/inputs", service.addTaskInputs)
	huma.Get(api, "/api/v1/tasks/{id}/logs", service.getTaskLog)
	huma.Get(api, "/api/v1/data-sources/{source}/logs", service.getDataSourceLog)

	AddDocEndpoints(service.Router)
	service.API = api
	return service, nil
}

// starts the data fetch service
func (service *engine) Start(port int) error {
	slog.Info(fmt.Sprintf("Starting %s service on port %d...", service.Name, port))
	slog.Info(fmt.Sprintf("(Accepting up to %d connections)", config.Service.MaxConnections))

	service.StartTime = time.Now()

	// create a listener that limits the number of incoming connections
	service.Port = port
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	defer listener.Close()
	listener = netutil.LimitListener(listener, config.Service.MaxConnections)

	// start tasks processing
	err = tasks.Start()
	if err != nil {
		return err
	}

	// start the server
	service.Server = &http.Server{
		Handler: service.Router}
	err = service.Server.Serve(listener)

	// we don't report the server closing as an error
	if err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefully shuts down the service without interrupting active connections
func (service *engine) Shutdown(ctx context.Context) error {
	tasks.Stop()
	if service.Server != nil {
		return service.Server.Shutdown(ctx)
	}
	return nil
}

// closes down the service abruptly, freeing all resources
func (service *engine) Close() {
	tasks.Stop()
	if service.Server != nil {
		service.Server.Close()
	}
}
