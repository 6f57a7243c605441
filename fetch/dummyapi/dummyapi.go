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

// This package implements the dummy-api data source: a simulated upstream
// API used to exercise the task machinery without network traffic.
package dummyapi

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/datafetch/dfe/fetch"
)

const Name = "dummy-api"

// simulated network delay bounds (tests may lower these)
var MinLatency = 100 * time.Millisecond
var MaxLatency = 500 * time.Millisecond

// parameters for the flaky task type
type FlakyParams struct {
	// probability that any given item fails
	Flakiness float64 `json:"flakiness" validate:"min=0,max=1"`
}

// parameters for the throw-above-threshold task type
type ThrowAboveThresholdParams struct {
	// IDs greater than this value fail
	Threshold int64 `json:"threshold" validate:"min=0"`
}

func init() {
	fetch.Register(Name, "flaky", fetch.Registration{
		NewParams: func() any { return &FlakyParams{Flakiness: 0.1} },
		New:       newFlaky,
	})
	fetch.Register(Name, "throw-above-threshold", fetch.Registration{
		NewParams: func() any { return &ThrowAboveThresholdParams{Threshold: 10} },
		New:       newThrowAboveThreshold,
	})
}

func newFlaky(params any) (fetch.Function, error) {
	flakiness := params.(*FlakyParams).Flakiness
	logger := fetch.ClientLogger(Name)
	return fetch.Function{
		Single: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			id, err := parseId(input)
			if err != nil {
				return nil, err
			}
			logger.Info(fmt.Sprintf("Dummy API called with id %d", id))
			if err := simulateLatency(ctx); err != nil {
				return nil, err
			}
			if rand.Float64() < flakiness {
				logger.Error(fmt.Sprintf("Dummy API randomly failing for id %d", id))
				return nil, fmt.Errorf("Dummy API error: random failure for id %d", id)
			}
			return dummyItem(id), nil
		},
	}, nil
}

func newThrowAboveThreshold(params any) (fetch.Function, error) {
	threshold := params.(*ThrowAboveThresholdParams).Threshold
	logger := fetch.ClientLogger(Name)
	return fetch.Function{
		Single: func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
			id, err := parseId(input)
			if err != nil {
				return nil, err
			}
			logger.Info(fmt.Sprintf("Dummy API called with id %d", id))
			if err := simulateLatency(ctx); err != nil {
				return nil, err
			}
			if id > threshold {
				logger.Error(fmt.Sprintf("Dummy API failing: id %d exceeds threshold %d",
					id, threshold))
				return nil, fmt.Errorf("Dummy API error: id %d is greater than threshold %d",
					id, threshold)
			}
			return dummyItem(id), nil
		},
	}, nil
}

//-----------
// Internals
//-----------

func parseId(input json.RawMessage) (int64, error) {
	var id int64
	if err := json.Unmarshal(input, &id); err != nil {
		return 0, fmt.Errorf("Dummy API inputs must be integer ids: %s", input)
	}
	return id, nil
}

func dummyItem(id int64) json.RawMessage {
	item, _ := json.Marshal(map[string]any{"id": id, "data": "dummy data"})
	return item
}

func simulateLatency(ctx context.Context) error {
	delay := MinLatency
	if MaxLatency > MinLatency {
		delay += time.Duration(rand.Int63n(int64(MaxLatency - MinLatency)))
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
