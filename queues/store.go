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

// This package implements the durable queue storage backing each fetch task:
// four FIFO queues in a single SQLite file, with deferred removal of popped
// items so that a crash between a pop and its acknowledgement leaves the
// items in place (at-least-once processing).
package queues

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/datafetch/dfe/config"
)

// identifies one of the four queues belonging to a task
type Queue string

const (
	Inputs              Queue = "inputs"
	Successes           Queue = "successes"
	Failures            Queue = "failures"
	InputsWithoutOutput Queue = "inputs_without_output"
)

// the SQLite table backing each queue
var tableNames = map[Queue]string{
	Inputs:              "unique_queue_inputs",
	Successes:           "queue_successes",
	Failures:            "queue_failures",
	InputsWithoutOutput: "queue_inputs_without_output",
}

// Returns the Queue named by the given string, or an UnknownQueueError.
func ParseQueue(name string) (Queue, error) {
	queue := Queue(name)
	if _, found := tableNames[queue]; !found {
		return "", UnknownQueueError{Name: name}
	}
	return queue, nil
}

// a single durable queue item
type Item struct {
	// monotonically increasing ID, local to the queue
	Id int64 `json:"id"`
	// the opaque JSON payload
	Data json.RawMessage `json:"data"`
	// insertion time (seconds since the Unix epoch)
	Timestamp float64 `json:"timestamp"`
}

// a snapshot of the number of items in each queue
type Counts struct {
	Inputs              int64 `json:"inputs"`
	Successes           int64 `json:"successes"`
	Failures            int64 `json:"failures"`
	InputsWithoutOutput int64 `json:"inputs_without_output"`
}

// a page of queue items plus pagination bookkeeping
type Page struct {
	Items []Item `json:"items"`
	// the ID at which the next page starts (nil past the last item)
	NextCursor *int64 `json:"next_cursor"`
	// total number of items in the queue
	Total int64 `json:"total"`
}

const schema = `
CREATE TABLE IF NOT EXISTS unique_queue_inputs (
  _id INTEGER PRIMARY KEY AUTOINCREMENT,
  data TEXT NOT NULL UNIQUE,
  timestamp REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS queue_successes (
  _id INTEGER PRIMARY KEY AUTOINCREMENT,
  data TEXT NOT NULL,
  timestamp REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS queue_failures (
  _id INTEGER PRIMARY KEY AUTOINCREMENT,
  data TEXT NOT NULL,
  timestamp REAL NOT NULL
);
CREATE TABLE IF NOT EXISTS queue_inputs_without_output (
  _id INTEGER PRIMARY KEY AUTOINCREMENT,
  data TEXT NOT NULL,
  timestamp REAL NOT NULL
);
`

// Store is the durable queue storage for a single task. Popped input items
// are not removed from the database until Ack commits them together with any
// staged terminal-queue appends, so the four queues never disagree about
// which items are in flight.
type Store struct {
	TaskId int64

	mutex sync.Mutex
	conn  *sqlite.Conn

	// inputs popped since the last Ack/Restore (removed on Ack)
	poppedIds  []int64
	lastPopped int64

	// terminal-queue appends staged since the last Ack/Restore
	staged map[Queue][]json.RawMessage
}

// Opens (creating if necessary) the queue database for the given task at
// {task_progress_dbs_dir}/{task_id}.db.
func Open(taskId int64) (*Store, error) {
	if err := os.MkdirAll(config.Dirs.QueueDir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(config.Dirs.QueueDir, fmt.Sprintf("%d.db", taskId))
	conn, err := sqlite.OpenConn(path)
	if err != nil {
		return nil, err
	}
	conn.SetBusyTimeout(10 * time.Second)
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &Store{
		TaskId: taskId,
		conn:   conn,
		staged: make(map[Queue][]json.RawMessage),
	}, nil
}

// Closes the store, discarding any unacknowledged pops and staged appends.
func (s *Store) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clearPending()
	return s.conn.Close()
}

// Removes the queue database file for the given task (used when a task is
// torn down in tests).
func Remove(taskId int64) error {
	path := filepath.Join(config.Dirs.QueueDir, fmt.Sprintf("%d.db", taskId))
	return os.Remove(path)
}

// Inserts the given payloads into the inputs queue, silently ignoring any
// payload already present there. Returns the number of payloads actually
// inserted. The insertion is committed before the call returns.
func (s *Store) AddInputs(payloads []json.RawMessage) (int, error) {
	if len(payloads) == 0 {
		return 0, NoInputsError{}
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var err error
	defer sqlitex.Save(s.conn)(&err)

	inserted := 0
	now := epochSeconds()
	for _, payload := range payloads {
		err = sqlitex.Execute(s.conn,
			`INSERT OR IGNORE INTO unique_queue_inputs (data, timestamp) VALUES (?, ?)`,
			&sqlitex.ExecOptions{Args: []any{string(payload), now}})
		if err != nil {
			return inserted, err
		}
		inserted += s.conn.Changes()
	}
	return inserted, nil
}

// Appends a payload to the given queue. Appends to the inputs queue are
// committed immediately (with deduplication); appends to the terminal queues
// are staged and committed by the next Ack.
func (s *Store) Append(queue Queue, payload json.RawMessage) error {
	if _, found := tableNames[queue]; !found {
		return UnknownQueueError{Name: string(queue)}
	}
	if queue == Inputs {
		_, err := s.AddInputs([]json.RawMessage{payload})
		return err
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.staged[queue] = append(s.staged[queue], payload)
	return nil
}

// Returns the next available input item without popping it.
func (s *Store) PeekNext() (Item, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	items, err := s.nextInputs(1)
	if err != nil {
		return Item{}, err
	}
	if len(items) == 0 {
		return Item{}, EmptyQueueError{Queue: Inputs}
	}
	return items[0], nil
}

// Pops the next available input item. The item remains in the database until
// Ack is called; Restore makes it available for popping again.
func (s *Store) PopNext() (Item, error) {
	items, err := s.PopBatch(1)
	if err != nil {
		return Item{}, err
	}
	return items[0], nil
}

// Pops up to n input items in FIFO order (at least one, or an
// EmptyQueueError). The items remain in the database until Ack is called.
func (s *Store) PopBatch(n int) ([]Item, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	items, err := s.nextInputs(n)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, EmptyQueueError{Queue: Inputs}
	}
	for _, item := range items {
		s.poppedIds = append(s.poppedIds, item.Id)
		s.lastPopped = item.Id
	}
	return items, nil
}

// Commits the current work unit: removes all popped input items and inserts
// all staged terminal-queue appends in a single transaction.
func (s *Store) Ack() (err error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.poppedIds) == 0 && len(s.staged) == 0 {
		return nil
	}

	defer sqlitex.Save(s.conn)(&err)

	for _, id := range s.poppedIds {
		err = sqlitex.Execute(s.conn,
			`DELETE FROM unique_queue_inputs WHERE _id = ?`,
			&sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return err
		}
	}
	now := epochSeconds()
	for queue, payloads := range s.staged {
		for _, payload := range payloads {
			err = sqlitex.Execute(s.conn,
				fmt.Sprintf(`INSERT INTO %s (data, timestamp) VALUES (?, ?)`,
					tableNames[queue]),
				&sqlitex.ExecOptions{Args: []any{string(payload), now}})
			if err != nil {
				return err
			}
		}
	}
	s.clearPending()
	return nil
}

// Discards the current work unit: popped input items become available again
// and staged appends are dropped. Used after a fatal error so that the
// in-flight inputs are retried when the task resumes.
func (s *Store) Restore() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.clearPending()
}

// Returns the number of committed items in the given queue. Popped but
// unacknowledged inputs are still counted.
func (s *Store) Count(queue Queue) (int64, error) {
	table, found := tableNames[queue]
	if !found {
		return 0, UnknownQueueError{Name: string(queue)}
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.countTable(table)
}

// Returns the sizes of all four queues.
func (s *Store) Counts() (Counts, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var counts Counts
	var err error
	if counts.Inputs, err = s.countTable(tableNames[Inputs]); err != nil {
		return counts, err
	}
	if counts.Successes, err = s.countTable(tableNames[Successes]); err != nil {
		return counts, err
	}
	if counts.Failures, err = s.countTable(tableNames[Failures]); err != nil {
		return counts, err
	}
	counts.InputsWithoutOutput, err = s.countTable(tableNames[InputsWithoutOutput])
	return counts, err
}

// Returns up to limit committed items with IDs at or above the given cursor,
// in ascending ID order, along with the cursor for the following page (nil
// when the page reaches the end of the queue) and the queue's total size.
func (s *Store) ListPage(queue Queue, cursor int64, limit int) (Page, error) {
	table, found := tableNames[queue]
	if !found {
		return Page{}, UnknownQueueError{Name: string(queue)}
	}
	if limit <= 0 {
		limit = 100
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var page Page
	page.Items = make([]Item, 0, limit)

	// fetch one extra row: its ID is the next cursor
	err := sqlitex.Execute(s.conn,
		fmt.Sprintf(`SELECT _id, data, timestamp FROM %s WHERE _id >= ?
			ORDER BY _id LIMIT ?`, table),
		&sqlitex.ExecOptions{
			Args: []any{cursor, limit + 1},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				if len(page.Items) == limit {
					next := stmt.ColumnInt64(0)
					page.NextCursor = &next
					return nil
				}
				page.Items = append(page.Items, Item{
					Id:        stmt.ColumnInt64(0),
					Data:      json.RawMessage(stmt.ColumnText(1)),
					Timestamp: stmt.ColumnFloat(2),
				})
				return nil
			},
		})
	if err != nil {
		return Page{}, err
	}
	page.Total, err = s.countTable(table)
	return page, err
}

// Unconditionally deletes the items with the given IDs from the given queue,
// returning the number of rows removed.
func (s *Store) DeleteByIds(queue Queue, ids []int64) (removed int64, err error) {
	table, found := tableNames[queue]
	if !found {
		return 0, UnknownQueueError{Name: string(queue)}
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	defer sqlitex.Save(s.conn)(&err)
	for _, id := range ids {
		err = sqlitex.Execute(s.conn,
			fmt.Sprintf(`DELETE FROM %s WHERE _id = ?`, table),
			&sqlitex.ExecOptions{Args: []any{id}})
		if err != nil {
			return removed, err
		}
		removed += int64(s.conn.Changes())
	}
	return removed, nil
}

//-----------
// Internals
//-----------

func epochSeconds() float64 {
	return float64(time.Now().UnixMicro()) / 1e6
}

func (s *Store) clearPending() {
	s.poppedIds = s.poppedIds[:0]
	s.lastPopped = 0
	s.staged = make(map[Queue][]json.RawMessage)
}

// Fetches up to n input items beyond the already-popped ones. New inputs are
// always assigned higher IDs (AUTOINCREMENT), so everything past the highest
// popped ID is available.
func (s *Store) nextInputs(n int) ([]Item, error) {
	var items []Item
	err := sqlitex.Execute(s.conn,
		`SELECT _id, data, timestamp FROM unique_queue_inputs WHERE _id > ?
			ORDER BY _id LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{s.lastPopped, n},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				items = append(items, Item{
					Id:        stmt.ColumnInt64(0),
					Data:      json.RawMessage(stmt.ColumnText(1)),
					Timestamp: stmt.ColumnFloat(2),
				})
				return nil
			},
		})
	return items, err
}

func (s *Store) countTable(table string) (int64, error) {
	var count int64
	err := sqlitex.Execute(s.conn,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table),
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	return count, err
}
