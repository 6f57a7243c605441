package dummyapi

// These tests verify the simulated dummy-api data source.
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/stretchr/testify/assert"
	"testing"

	"github.com/datafetch/dfe/enginetest"
	"github.com/datafetch/dfe/fetch"
)

// the directory holding the test fixture
var testRoot string

// tests that both task types are registered with their default parameters
func TestRegistration(t *testing.T) {
	assert := assert.New(t)
	assert.True(fetch.Known(Name, "flaky"))
	assert.True(fetch.Known(Name, "throw-above-threshold"))
	assert.Nil(fetch.ValidateTask(Name, "flaky", nil))
	assert.Nil(fetch.ValidateTask(Name, "throw-above-threshold", nil))
}

// tests that out-of-range parameters are rejected
func TestParameterValidation(t *testing.T) {
	assert := assert.New(t)
	err := fetch.ValidateTask(Name, "flaky", json.RawMessage(`{"flakiness": 1.5}`))
	assert.IsType(fetch.InvalidParamsError{}, err,
		"An out-of-range flakiness didn't trigger an error.")
	err = fetch.ValidateTask(Name, "throw-above-threshold",
		json.RawMessage(`{"threshold": -1}`))
	assert.IsType(fetch.InvalidParamsError{}, err,
		"A negative threshold didn't trigger an error.")
}

// tests that a never-failing flaky task fetches every id
func TestFlakyWithZeroFlakiness(t *testing.T) {
	assert := assert.New(t)
	fn, err := fetch.New(Name, "flaky", json.RawMessage(`{"flakiness": 0}`))
	assert.Nil(err)
	assert.False(fn.Batched())

	for id := 1; id <= 5; id++ {
		output, err := fn.Single(context.Background(),
			json.RawMessage(fmt.Sprintf("%d", id)))
		assert.Nil(err)
		var item struct {
			Id   int64  `json:"id"`
			Data string `json:"data"`
		}
		assert.Nil(json.Unmarshal(output, &item))
		assert.Equal(int64(id), item.Id)
		assert.Equal("dummy data", item.Data)
	}
}

// tests the threshold semantics: ids at or below the threshold succeed, ids
// above it fail with an ordinary (non-fatal) error
func TestThrowAboveThreshold(t *testing.T) {
	assert := assert.New(t)
	fn, err := fetch.New(Name, "throw-above-threshold",
		json.RawMessage(`{"threshold": 3}`))
	assert.Nil(err)

	output, err := fn.Single(context.Background(), json.RawMessage(`3`))
	assert.Nil(err)
	assert.NotNil(output)

	_, err = fn.Single(context.Background(), json.RawMessage(`4`))
	assert.NotNil(err, "An id above the threshold didn't trigger an error.")
	var fatal *fetch.FatalError
	assert.False(errors.As(err, &fatal), "A threshold failure must not be fatal.")
}

// tests that non-integer inputs are rejected
func TestRejectsNonIntegerInputs(t *testing.T) {
	fn, err := fetch.New(Name, "flaky", json.RawMessage(`{"flakiness": 0}`))
	assert.Nil(t, err)
	_, err = fn.Single(context.Background(), json.RawMessage(`"seven"`))
	assert.NotNil(t, err, "A non-integer input didn't trigger an error.")
}

// tests that a canceled context interrupts the simulated latency
func TestCancellationInterruptsLatency(t *testing.T) {
	fn, err := fetch.New(Name, "flaky", json.RawMessage(`{"flakiness": 0}`))
	assert.Nil(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fn.Single(ctx, json.RawMessage(`1`))
	assert.Equal(t, context.Canceled, err)
}

// this function gets called at the begіnning of a test session
func setup() {
	testRoot, _ = os.MkdirTemp(os.TempDir(), "dfe-dummyapi-tests-")
	err := enginetest.Setup(testRoot)
	if err != nil {
		panic(err)
	}
	// keep the simulated latency out of the test runtime
	MinLatency = time.Millisecond
	MaxLatency = 2 * time.Millisecond
}

// this function gets called after all tests have been run
func breakdown() {
	if testRoot != "" {
		os.RemoveAll(testRoot)
	}
}

// This runs setup, runs all tests, and does breakdown.
func TestMain(m *testing.M) {
	var status int
	setup()
	status = m.Run()
	breakdown()
	os.Exit(status)
}
