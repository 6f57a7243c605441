// This package defines the fetch functions that tasks use to retrieve data
// from upstream APIs. Each data source package registers a fetch function
// factory per task type; the engine looks functions up by
// (data source, task type) and validates task parameters against the
// registered parameter schema.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// A fetch function that processes a single input, returning the fetched
// output or nil if the upstream has no data for the input.
type SingleFunc func(ctx context.Context, input json.RawMessage) (json.RawMessage, error)

// A fetch function that processes a batch of inputs, returning exactly one
// output per input in the same order (nil entries mark inputs for which the
// upstream has no data).
type BatchFunc func(ctx context.Context, inputs []json.RawMessage) ([]json.RawMessage, error)

// Function is the fetch behavior produced for a task: either a single-item
// function or a batch function with its maximum batch size.
type Function struct {
	Single       SingleFunc
	Batch        BatchFunc
	MaxBatchSize int
}

// returns true if the function processes inputs in batches
func (f Function) Batched() bool {
	return f.Batch != nil
}

// A Registration describes how to build the fetch function for one
// (data source, task type) pair.
type Registration struct {
	// returns a new parameter struct with default values, or nil if the task
	// type takes no parameters
	NewParams func() any
	// builds the fetch function from the decoded, validated parameters
	New func(params any) (Function, error)
}

// we maintain a table of registered fetch functions, keyed by
// "{data_source}/{task_type}"
var allFunctions = make(map[string]Registration)

var validate = validator.New(validator.WithRequiredStructEnabled())

func functionKey(dataSource, taskType string) string {
	return fmt.Sprintf("%s/%s", dataSource, taskType)
}

// Registers a fetch function factory for the given data source and task
// type. Called from data source packages at init time.
func Register(dataSource, taskType string, registration Registration) {
	allFunctions[functionKey(dataSource, taskType)] = registration
}

// Returns true if a fetch function is registered for the given data source
// and task type.
func Known(dataSource, taskType string) bool {
	_, found := allFunctions[functionKey(dataSource, taskType)]
	return found
}

// Returns true if any fetch function is registered for the given data source.
func KnownDataSource(dataSource string) bool {
	for key := range allFunctions {
		if strings.HasPrefix(key, dataSource+"/") {
			return true
		}
	}
	return false
}

// Decodes and validates the given raw task parameters, returning the decoded
// parameter struct (nil for parameterless task types). Unknown
// (data source, task type) pairs produce an UnknownTaskTypeError; parameters
// that fail validation produce an InvalidParamsError.
func DecodeParams(dataSource, taskType string, rawParams json.RawMessage) (any, error) {
	registration, found := allFunctions[functionKey(dataSource, taskType)]
	if !found {
		return nil, UnknownTaskTypeError{DataSource: dataSource, TaskType: taskType}
	}
	if registration.NewParams == nil {
		return nil, nil
	}
	params := registration.NewParams()
	if len(rawParams) > 0 && string(rawParams) != "null" {
		if err := json.Unmarshal(rawParams, params); err != nil {
			return nil, InvalidParamsError{
				DataSource: dataSource,
				TaskType:   taskType,
				Reason:     err.Error(),
			}
		}
	}
	if err := validate.Struct(params); err != nil {
		return nil, InvalidParamsError{
			DataSource: dataSource,
			TaskType:   taskType,
			Reason:     err.Error(),
		}
	}
	return params, nil
}

// Checks that the given (data source, task type, params) triple resolves to
// a registered fetch function with valid parameters.
func ValidateTask(dataSource, taskType string, rawParams json.RawMessage) error {
	_, err := DecodeParams(dataSource, taskType, rawParams)
	return err
}

// Produces the fetch function for the given task. The parameters are decoded
// and validated first, so a non-nil error here is a configuration error.
func New(dataSource, taskType string, rawParams json.RawMessage) (Function, error) {
	params, err := DecodeParams(dataSource, taskType, rawParams)
	if err != nil {
		return Function{}, err
	}
	registration := allFunctions[functionKey(dataSource, taskType)]
	return registration.New(params)
}
