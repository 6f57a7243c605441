package tasks

// These tests verify the task metadata store: creation, lookup, listing,
// the status state machine, and upload records.
import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/assert"
	"testing"

	"github.com/datafetch/dfe/output"
)

func createTestTask(t *testing.T) Task {
	task, err := store.CreateTask(context.Background(), "dummy-api", "flaky",
		json.RawMessage(`{"flakiness": 0}`))
	assert.Nil(t, err, "Couldn't create a task.")
	return task
}

// tests that a created task starts out paused with a derived upload prefix
func TestCreateTask(t *testing.T) {
	assert := assert.New(t)
	task := createTestTask(t)

	assert.Greater(task.Id, int64(0))
	assert.Equal(StatusPaused, task.Status)
	assert.Equal("dummy-api/flaky", task.S3Prefix)
	assert.Equal(task.CreatedAt, task.UpdatedAt)

	fetched, err := store.GetTask(context.Background(), task.Id)
	assert.Nil(err)
	assert.Equal(task.Id, fetched.Id)
	assert.Equal(`{"flakiness": 0}`, string(fetched.Params))
	assert.Empty(fetched.FileUploads)
}

// tests that looking up a nonexistent task triggers a NotFoundError
func TestGetUnknownTask(t *testing.T) {
	_, err := store.GetTask(context.Background(), 999999)
	assert.IsType(t, NotFoundError{}, err)
}

// tests the full status transition matrix
func TestStatusTransitions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	legal := [][]Status{
		{StatusPending, StatusRunning, StatusPausing, StatusPaused},
		{StatusPending, StatusRunning, StatusDone},
		{StatusPending, StatusRunning, StatusError, StatusPending, StatusRunning, StatusPausing, StatusError},
		{StatusPending, StatusRunning, StatusPending, StatusRunning, StatusPaused},
	}
	for _, path := range legal {
		task := createTestTask(t)
		for _, next := range path {
			task, _ = store.SetStatus(ctx, task.Id, next)
			assert.Equal(next, task.Status, "Transition to %s was rejected.", next)
		}
	}

	// a terminal task accepts nothing
	task := createTestTask(t)
	for _, next := range []Status{StatusPending, StatusRunning, StatusDone} {
		task, _ = store.SetStatus(ctx, task.Id, next)
	}
	for _, next := range []Status{StatusPending, StatusRunning, StatusPausing,
		StatusPaused, StatusError, StatusDone} {
		_, err := store.SetStatus(ctx, task.Id, next)
		assert.IsType(InvalidStatusError{}, err,
			"A done task accepted a transition to %s.", next)
	}

	// skipping pending is not allowed
	task = createTestTask(t)
	_, err := store.SetStatus(ctx, task.Id, StatusRunning)
	assert.IsType(InvalidStatusError{}, err)

	// unknown statuses are rejected outright
	_, err = store.SetStatus(ctx, task.Id, Status("sleeping"))
	assert.IsType(InvalidStatusError{}, err)
}

// tests that status changes touch updated_at
func TestSetStatusTouchesUpdatedAt(t *testing.T) {
	assert := assert.New(t)
	task := createTestTask(t)

	time.Sleep(5 * time.Millisecond)
	updated, err := store.SetStatus(context.Background(), task.Id, StatusPending)
	assert.Nil(err)
	assert.True(updated.UpdatedAt.After(task.UpdatedAt),
		"A status change didn't advance updated_at.")
	assert.Equal(task.CreatedAt, updated.CreatedAt)
}

// tests newest-first listing with cursor pagination
func TestListTasks(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var created []Task
	for i := 0; i < 5; i++ {
		created = append(created, createTestTask(t))
	}

	page, cursor, err := store.ListTasks(ctx, 0, 3)
	assert.Nil(err)
	assert.Equal(3, len(page))
	assert.NotNil(cursor)
	// newest first
	assert.Equal(created[4].Id, page[0].Id)
	assert.True(page[0].Id > page[1].Id && page[1].Id > page[2].Id)

	rest, _, err := store.ListTasks(ctx, *cursor, 1000)
	assert.Nil(err)
	assert.Equal(created[1].Id, rest[0].Id)
}

// tests that upload records append to a task in order
func TestAddUpload(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	task := createTestTask(t)

	records := []output.UploadRecord{
		{S3Key: "dummy-api/flaky/a.jsonl.zst", S3Bucket: "b", SizeBytes: 100,
			UploadedAt: time.Now().UTC()},
		{S3Key: "dummy-api/flaky/b.jsonl.zst", S3Bucket: "b", SizeBytes: 200,
			UploadedAt: time.Now().UTC()},
	}
	for _, record := range records {
		assert.Nil(store.AddUpload(ctx, task.Id, record))
	}

	fetched, err := store.GetTask(ctx, task.Id)
	assert.Nil(err)
	assert.Equal(2, len(fetched.FileUploads))
	assert.Equal("dummy-api/flaky/a.jsonl.zst", fetched.FileUploads[0].S3Key)
	assert.Equal(int64(200), fetched.FileUploads[1].SizeBytes)

	err = store.AddUpload(ctx, 999999, records[0])
	assert.IsType(NotFoundError{}, err)
}
