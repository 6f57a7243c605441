package queues

// These tests verify that the queue manager routes each fetched outcome to
// its proper terminal queue and commits or rolls back whole work units.
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stretchr/testify/assert"
	"testing"

	"github.com/datafetch/dfe/fetch"
)

func testManager(t *testing.T) *Manager {
	return NewManager(testStore(t))
}

// a single-item fetch that echoes its input back
func echoSingle(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	return input, nil
}

// tests that a fetched output lands in the successes queue and reaches the
// success callback
func TestProcessNextRoutesSuccess(t *testing.T) {
	assert := assert.New(t)
	mgr := testManager(t)
	defer mgr.store.Close()

	_, err := mgr.AddInputs(payloads(1))
	assert.Nil(err)

	var gotOutput json.RawMessage
	err = mgr.ProcessNext(context.Background(), echoSingle, Callbacks{
		OnSuccess: func(input Item, output json.RawMessage) error {
			gotOutput = output
			return nil
		},
	})
	assert.Nil(err)
	assert.Equal(`{"id": 1}`, string(gotOutput))

	counts, err := mgr.Counts()
	assert.Nil(err)
	assert.Equal(int64(0), counts.Inputs)
	assert.Equal(int64(1), counts.Successes)
}

// tests that a nil output lands in the inputs-without-output queue
func TestProcessNextRoutesMissingData(t *testing.T) {
	assert := assert.New(t)
	mgr := testManager(t)
	defer mgr.store.Close()

	_, err := mgr.AddInputs(payloads(1))
	assert.Nil(err)

	noData := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	}
	err = mgr.ProcessNext(context.Background(), noData, Callbacks{})
	assert.Nil(err)

	counts, err := mgr.Counts()
	assert.Nil(err)
	assert.Equal(int64(0), counts.Inputs)
	assert.Equal(int64(1), counts.InputsWithoutOutput)
}

// tests that a non-fatal error lands the input in the failures queue and
// processing continues
func TestProcessNextRoutesNonFatalError(t *testing.T) {
	assert := assert.New(t)
	mgr := testManager(t)
	defer mgr.store.Close()

	_, err := mgr.AddInputs(payloads(1))
	assert.Nil(err)

	flaky := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, fmt.Errorf("the upstream hiccupped")
	}
	var gotErr error
	err = mgr.ProcessNext(context.Background(), flaky, Callbacks{
		OnNonFatal: func(input Item, cause error) error {
			gotErr = cause
			return nil
		},
	})
	assert.Nil(err)
	assert.NotNil(gotErr)

	counts, err := mgr.Counts()
	assert.Nil(err)
	assert.Equal(int64(0), counts.Inputs)
	assert.Equal(int64(1), counts.Failures)
}

// tests that a fatal error restores the popped input and surfaces the error
func TestProcessNextFatalErrorRestoresInput(t *testing.T) {
	assert := assert.New(t)
	mgr := testManager(t)
	defer mgr.store.Close()

	_, err := mgr.AddInputs(payloads(1))
	assert.Nil(err)

	banned := func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		return nil, fetch.Fatalf("credentials revoked")
	}
	err = mgr.ProcessNext(context.Background(), banned, Callbacks{})
	var fatal *fetch.FatalError
	assert.True(errors.As(err, &fatal), "A fatal fetch error wasn't surfaced.")

	counts, err := mgr.Counts()
	assert.Nil(err)
	assert.Equal(int64(1), counts.Inputs, "The input wasn't restored after a fatal error.")
	assert.Equal(int64(0), counts.Failures)
}

// tests that a failing success callback rolls the work unit back and becomes
// fatal (an output that can't be recorded must not be acknowledged)
func TestProcessNextCallbackFailureRollsBack(t *testing.T) {
	assert := assert.New(t)
	mgr := testManager(t)
	defer mgr.store.Close()

	_, err := mgr.AddInputs(payloads(1))
	assert.Nil(err)

	err = mgr.ProcessNext(context.Background(), echoSingle, Callbacks{
		OnSuccess: func(input Item, output json.RawMessage) error {
			return fmt.Errorf("disk full")
		},
	})
	var fatal *fetch.FatalError
	assert.True(errors.As(err, &fatal))

	counts, err := mgr.Counts()
	assert.Nil(err)
	assert.Equal(int64(1), counts.Inputs)
	assert.Equal(int64(0), counts.Successes)
}

// tests that batch processing routes each item by its own output
func TestProcessNextBatchRoutesPerItem(t *testing.T) {
	assert := assert.New(t)
	mgr := testManager(t)
	defer mgr.store.Close()

	_, err := mgr.AddInputs(payloads(1, 2, 3))
	assert.Nil(err)

	// the middle item has no data upstream
	batchFn := func(ctx context.Context, inputs []json.RawMessage) ([]json.RawMessage, error) {
		outputs := make([]json.RawMessage, len(inputs))
		for i, input := range inputs {
			if i != 1 {
				outputs[i] = input
			}
		}
		return outputs, nil
	}
	err = mgr.ProcessNextBatch(context.Background(), batchFn, Callbacks{}, 3)
	assert.Nil(err)

	counts, err := mgr.Counts()
	assert.Nil(err)
	assert.Equal(int64(0), counts.Inputs)
	assert.Equal(int64(2), counts.Successes)
	assert.Equal(int64(1), counts.InputsWithoutOutput)
}

// tests that a nil batch result routes the whole batch to
// inputs-without-output
func TestProcessNextBatchRoutesNilResult(t *testing.T) {
	assert := assert.New(t)
	mgr := testManager(t)
	defer mgr.store.Close()

	_, err := mgr.AddInputs(payloads(1, 2))
	assert.Nil(err)

	nothing := func(ctx context.Context, inputs []json.RawMessage) ([]json.RawMessage, error) {
		return nil, nil
	}
	err = mgr.ProcessNextBatch(context.Background(), nothing, Callbacks{}, 2)
	assert.Nil(err)

	counts, err := mgr.Counts()
	assert.Nil(err)
	assert.Equal(int64(2), counts.InputsWithoutOutput)
}

// tests that a batch result of the wrong length is fatal and restores the
// whole batch
func TestProcessNextBatchMismatchIsFatal(t *testing.T) {
	assert := assert.New(t)
	mgr := testManager(t)
	defer mgr.store.Close()

	_, err := mgr.AddInputs(payloads(1, 2, 3))
	assert.Nil(err)

	truncated := func(ctx context.Context, inputs []json.RawMessage) ([]json.RawMessage, error) {
		return inputs[:1], nil
	}
	err = mgr.ProcessNextBatch(context.Background(), truncated, Callbacks{}, 3)
	var fatal *fetch.FatalError
	assert.True(errors.As(err, &fatal), "A batch length mismatch wasn't fatal.")
	var mismatch BatchMismatchError
	assert.True(errors.As(err, &mismatch))

	counts, err := mgr.Counts()
	assert.Nil(err)
	assert.Equal(int64(3), counts.Inputs, "The batch wasn't restored after a mismatch.")
}

// tests that batch sizes below two are rejected
func TestProcessNextBatchRejectsSmallSizes(t *testing.T) {
	assert := assert.New(t)
	mgr := testManager(t)
	defer mgr.store.Close()

	batchFn := func(ctx context.Context, inputs []json.RawMessage) ([]json.RawMessage, error) {
		return inputs, nil
	}
	for _, size := range []int{1, 0, -1} {
		err := mgr.ProcessNextBatch(context.Background(), batchFn, Callbacks{}, size)
		assert.IsType(BatchSizeError{}, err, "A too-small batch size didn't trigger an error.")
	}
}
