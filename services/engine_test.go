package services

// This file defines a unit test setup for the data fetch service: it runs
// the whole engine against a local directory object store and exercises the
// REST surface with real HTTP requests.
import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/stretchr/testify/assert"
	"testing"

	"github.com/datafetch/dfe/config"
	"github.com/datafetch/dfe/enginetest"
	"github.com/datafetch/dfe/fetch/dummyapi"
	"github.com/datafetch/dfe/queues"
	"github.com/datafetch/dfe/tasks"
)

// temporary testing directory
var TESTING_DIR string

// service URLs
var (
	baseUrl   = "http://localhost:8080/"
	apiPrefix = "api/v1/"
)

// service instance
var service TaskService

// performs testing setup
func setup() {
	enginetest.EnableDebugLogging()

	log.Print("Creating testing directory...\n")
	var err error
	TESTING_DIR, err = os.MkdirTemp(os.TempDir(), "data-fetch-service-tests-")
	if err != nil {
		log.Panicf("Couldn't create testing directory: %s", err)
	}
	err = enginetest.Setup(TESTING_DIR)
	if err != nil {
		log.Panicf("Couldn't initialize configuration: %s", err)
	}
	dummyapi.MinLatency = time.Millisecond
	dummyapi.MaxLatency = 2 * time.Millisecond

	// Start the service.
	log.Print("Starting test fetch service...\n")
	go func() {
		service, err = NewService()
		if err != nil {
			log.Panicf("Couldn't construct the service: %s", err.Error())
		}
		err = service.Start(config.Service.Port)
		if err != nil {
			log.Panicf("Couldn't start fetch service: %s", err.Error())
		}
	}()

	// Give the service time to start up.
	time.Sleep(100 * time.Millisecond)
}

// Performs testing breakdown.
func breakdown() {
	if service != nil {
		// Gracefully shut the service down when it finishes its work.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		service.Shutdown(ctx)
	}

	if TESTING_DIR != "" {
		log.Printf("Deleting testing directory %s...\n", TESTING_DIR)
		os.RemoveAll(TESTING_DIR)
	}
}

// sends a GET query
func get(resource string) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodGet, resource, http.NoBody)
	if err != nil {
		return nil, err
	}
	return http.DefaultClient.Do(req)
}

// sends a POST query with a payload
func post(resource string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodPost, resource, body)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

// sends a DELETE query with a payload
func delete_(resource string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(http.MethodDelete, resource, body)
	if err != nil {
		return nil, err
	}
	req.Header.Add("Content-Type", "application/json")
	return http.DefaultClient.Do(req)
}

func readJson(t *testing.T, resp *http.Response, into any) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	assert.Nil(t, err)
	assert.Nil(t, json.Unmarshal(body, into))
}

// queries the service's root endpoint
func TestQueryRoot(t *testing.T) {
	assert := assert.New(t)

	resp, err := get(baseUrl)
	assert.Nil(err)

	var root ServiceInfoResponse
	readJson(t, resp, &root)
	assert.Equal("Data fetch engine", root.Name)
	assert.Equal(version, root.Version)
}

// drives one task through its whole life over HTTP: create with inputs,
// execute, poll progress to completion, inspect queues and logs
func TestTaskLifecycle(t *testing.T) {
	assert := assert.New(t)

	// create a task whose ids 6..8 fail
	payload, err := json.Marshal(TaskRequest{
		DataSource: "dummy-api",
		TaskType:   "throw-above-threshold",
		Params:     json.RawMessage(`{"threshold": 5}`),
		Inputs: []json.RawMessage{
			json.RawMessage(`1`), json.RawMessage(`2`), json.RawMessage(`3`),
			json.RawMessage(`6`), json.RawMessage(`7`), json.RawMessage(`8`),
		},
	})
	assert.Nil(err)
	resp, err := post(baseUrl+apiPrefix+"tasks", bytes.NewReader(payload))
	assert.Nil(err)
	assert.Equal(http.StatusCreated, resp.StatusCode)
	var task tasks.Task
	readJson(t, resp, &task)
	assert.Equal(tasks.StatusPaused, task.Status)

	// execute it
	resp, err = post(baseUrl+apiPrefix+fmt.Sprintf("tasks/%d/execute", task.Id), http.NoBody)
	assert.Nil(err)
	assert.Equal(http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	// poll until it's done
	deadline := time.Now().Add(30 * time.Second)
	for {
		resp, err = get(baseUrl + apiPrefix + fmt.Sprintf("tasks/%d", task.Id))
		assert.Nil(err)
		readJson(t, resp, &task)
		if task.Status == tasks.StatusDone || time.Now().After(deadline) {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(tasks.StatusDone, task.Status)
	assert.Equal(1, len(task.FileUploads))

	// the progress endpoint agrees
	resp, err = get(baseUrl + apiPrefix + fmt.Sprintf("tasks/%d/progress", task.Id))
	assert.Nil(err)
	var progress tasks.Progress
	readJson(t, resp, &progress)
	assert.Equal(int64(3), progress.Success)
	assert.Equal(int64(3), progress.Failure)
	assert.Equal(int64(0), progress.Remaining)

	// the failures queue holds the failed inputs
	resp, err = get(baseUrl + apiPrefix + fmt.Sprintf("tasks/%d/queues/failures", task.Id))
	assert.Nil(err)
	var page queues.Page
	readJson(t, resp, &page)
	assert.Equal(3, len(page.Items))

	// ...and can be drained
	ids, err := json.Marshal(QueueDeletionRequest{
		Ids: []int64{page.Items[0].Id, page.Items[1].Id},
	})
	assert.Nil(err)
	resp, err = delete_(baseUrl+apiPrefix+fmt.Sprintf("tasks/%d/queues/failures", task.Id),
		bytes.NewReader(ids))
	assert.Nil(err)
	var deletion QueueDeletionResponse
	readJson(t, resp, &deletion)
	assert.Equal(int64(2), deletion.Removed)

	// the task log streams
	resp, err = get(baseUrl + apiPrefix + fmt.Sprintf("tasks/%d/logs", task.Id))
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	logData, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Nil(err)
	assert.NotEmpty(logData)

	// so does the data source's client log
	resp, err = get(baseUrl + apiPrefix + "data-sources/dummy-api/logs")
	assert.Nil(err)
	assert.Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

// tests adding inputs to an existing task over HTTP
func TestAddInputs(t *testing.T) {
	assert := assert.New(t)

	payload, _ := json.Marshal(TaskRequest{
		DataSource: "dummy-api",
		TaskType:   "flaky",
		Params:     json.RawMessage(`{"flakiness": 0}`),
	})
	resp, err := post(baseUrl+apiPrefix+"tasks", bytes.NewReader(payload))
	assert.Nil(err)
	var task tasks.Task
	readJson(t, resp, &task)

	inputs, _ := json.Marshal(InputsRequest{
		Inputs: []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`),
			json.RawMessage(`1`)},
	})
	resp, err = post(baseUrl+apiPrefix+fmt.Sprintf("tasks/%d/inputs", task.Id),
		bytes.NewReader(inputs))
	assert.Nil(err)
	var added InputsResponse
	readJson(t, resp, &added)
	assert.Equal(2, added.Added, "Duplicate inputs weren't dropped.")
}

// tests the task list endpoint's pagination
func TestListTasks(t *testing.T) {
	assert := assert.New(t)

	for i := 0; i < 3; i++ {
		payload, _ := json.Marshal(TaskRequest{
			DataSource: "dummy-api",
			TaskType:   "flaky",
		})
		resp, err := post(baseUrl+apiPrefix+"tasks", bytes.NewReader(payload))
		assert.Nil(err)
		resp.Body.Close()
	}

	resp, err := get(baseUrl + apiPrefix + "tasks?limit=2")
	assert.Nil(err)
	var list TaskListResponse
	readJson(t, resp, &list)
	assert.Equal(2, len(list.Tasks))
	assert.NotNil(list.NextCursor)
	assert.True(list.Tasks[0].Id > list.Tasks[1].Id, "Tasks aren't newest-first.")
}

// tests that the service maps engine errors to sensible HTTP statuses
func TestErrorMapping(t *testing.T) {
	assert := assert.New(t)

	// unknown task -> 404
	resp, err := get(baseUrl + apiPrefix + "tasks/999999")
	assert.Nil(err)
	assert.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	// unknown data source -> 400
	payload, _ := json.Marshal(TaskRequest{DataSource: "no-such-api", TaskType: "x"})
	resp, err = post(baseUrl+apiPrefix+"tasks", bytes.NewReader(payload))
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// bad parameters -> 400
	payload, _ = json.Marshal(TaskRequest{
		DataSource: "dummy-api",
		TaskType:   "flaky",
		Params:     json.RawMessage(`{"flakiness": 7}`),
	})
	resp, err = post(baseUrl+apiPrefix+"tasks", bytes.NewReader(payload))
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// pausing a paused task -> 409
	payload, _ = json.Marshal(TaskRequest{DataSource: "dummy-api", TaskType: "flaky"})
	resp, err = post(baseUrl+apiPrefix+"tasks", bytes.NewReader(payload))
	assert.Nil(err)
	var task tasks.Task
	readJson(t, resp, &task)
	resp, err = post(baseUrl+apiPrefix+fmt.Sprintf("tasks/%d/pause", task.Id), http.NoBody)
	assert.Nil(err)
	assert.Equal(http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// unknown queue -> 400
	resp, err = get(baseUrl + apiPrefix + fmt.Sprintf("tasks/%d/queues/mistakes", task.Id))
	assert.Nil(err)
	assert.Equal(http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// unknown data source log -> 404
	resp, err = get(baseUrl + apiPrefix + "data-sources/no-such-api/logs")
	assert.Nil(err)
	assert.Equal(http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

// runs setup, runs all tests, and does breakdown
func TestMain(m *testing.M) {
	var status int
	setup()
	if TESTING_DIR != "" {
		status = m.Run()
	}
	breakdown()
	os.Exit(status)
}
