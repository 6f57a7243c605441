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
	"os"
	"path/filepath"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/datafetch/dfe/config"
	"github.com/datafetch/dfe/output"
)

const metadataSchema = `
CREATE TABLE IF NOT EXISTS tasks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  data_source TEXT NOT NULL,
  task_type TEXT NOT NULL,
  params TEXT,
  status TEXT NOT NULL,
  s3_prefix TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS file_uploads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id INTEGER NOT NULL REFERENCES tasks(id),
  s3_key TEXT NOT NULL,
  s3_bucket TEXT NOT NULL,
  s3_endpoint_url TEXT NOT NULL,
  size_bytes INTEGER NOT NULL,
  uploaded_at TEXT NOT NULL
);
`

// Store is the canonical home of task metadata: the task rows themselves and
// the append-only upload records belonging to each.
type Store struct {
	pool *sqlitex.Pool
}

// Opens the metadata store at the configured database_file_path, creating
// the file and its tables if needed.
func OpenStore(ctx context.Context) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(config.Dirs.DatabaseFile), 0755); err != nil {
		return nil, err
	}
	pool, err := sqlitex.NewPool(config.Dirs.DatabaseFile, sqlitex.PoolOptions{
		PoolSize: 4,
	})
	if err != nil {
		return nil, err
	}
	conn, err := pool.Take(ctx)
	if err != nil {
		pool.Close()
		return nil, err
	}
	err = sqlitex.ExecuteScript(conn, metadataSchema, nil)
	pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	return s.pool.Close()
}

// Creates a task in the paused state with an upload prefix derived from its
// data source and task type.
func (s *Store) CreateTask(ctx context.Context, dataSource, taskType string,
	params json.RawMessage) (Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Task{}, err
	}
	defer s.pool.Put(conn)

	now := time.Now().UTC()
	task := Task{
		DataSource:  dataSource,
		TaskType:    taskType,
		Params:      params,
		Status:      StatusPaused,
		S3Prefix:    dataSource + "/" + taskType,
		FileUploads: []output.UploadRecord{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO tasks (data_source, task_type, params, status, s3_prefix,
			created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			task.DataSource, task.TaskType, paramsText(task.Params),
			string(task.Status), task.S3Prefix,
			formatTime(now), formatTime(now),
		}})
	if err != nil {
		return Task{}, err
	}
	task.Id = conn.LastInsertRowID()
	return task, nil
}

// Returns the task with the given ID (with its upload records), or a
// NotFoundError.
func (s *Store) GetTask(ctx context.Context, id int64) (Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Task{}, err
	}
	defer s.pool.Put(conn)
	return getTask(conn, id)
}

// Returns a page of tasks in creation order, newest first. A zero cursor
// starts at the newest task; the returned cursor (if any) fetches the next
// page.
func (s *Store) ListTasks(ctx context.Context, cursor int64, limit int) ([]Task, *int64, error) {
	if limit <= 0 {
		limit = 50
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer s.pool.Put(conn)

	// ids increase monotonically with created_at, so newest-first pagination
	// walks ids downward
	query := `SELECT id FROM tasks ORDER BY id DESC LIMIT ?`
	args := []any{limit + 1}
	if cursor > 0 {
		query = `SELECT id FROM tasks WHERE id <= ? ORDER BY id DESC LIMIT ?`
		args = []any{cursor, limit + 1}
	}
	var ids []int64
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			ids = append(ids, stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return nil, nil, err
	}

	var nextCursor *int64
	if len(ids) > limit {
		next := ids[limit]
		nextCursor = &next
		ids = ids[:limit]
	}
	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		task, err := getTask(conn, id)
		if err != nil {
			return nil, nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nextCursor, nil
}

// Returns all tasks currently in any of the given statuses.
func (s *Store) TasksWithStatus(ctx context.Context, statuses ...Status) ([]Task, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	var ids []int64
	for _, status := range statuses {
		err = sqlitex.Execute(conn,
			`SELECT id FROM tasks WHERE status = ? ORDER BY id`,
			&sqlitex.ExecOptions{
				Args: []any{string(status)},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					ids = append(ids, stmt.ColumnInt64(0))
					return nil
				},
			})
		if err != nil {
			return nil, err
		}
	}
	tasks := make([]Task, 0, len(ids))
	for _, id := range ids {
		task, err := getTask(conn, id)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// Moves the task to the given status, enforcing the state machine, and
// returns the updated task. Illegal transitions produce an
// InvalidStatusError; unknown tasks a NotFoundError.
func (s *Store) SetStatus(ctx context.Context, id int64, next Status) (task Task, err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return Task{}, err
	}
	defer s.pool.Put(conn)

	defer sqlitex.Save(conn)(&err)

	task, err = getTask(conn, id)
	if err != nil {
		return Task{}, err
	}
	if !validStatus(next) || !task.Status.canTransitionTo(next) {
		return Task{}, InvalidStatusError{Id: id, From: task.Status, To: next}
	}
	now := time.Now().UTC()
	err = sqlitex.Execute(conn,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{string(next), formatTime(now), id}})
	if err != nil {
		return Task{}, err
	}
	task.Status = next
	task.UpdatedAt = now
	return task, nil
}

// Appends an upload record to the task and touches its updated_at.
func (s *Store) AddUpload(ctx context.Context, id int64, record output.UploadRecord) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	defer sqlitex.Save(conn)(&err)

	if _, err = getTask(conn, id); err != nil {
		return err
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO file_uploads (task_id, s3_key, s3_bucket, s3_endpoint_url,
			size_bytes, uploaded_at) VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			id, record.S3Key, record.S3Bucket, record.S3EndpointURL,
			record.SizeBytes, formatTime(record.UploadedAt),
		}})
	if err != nil {
		return err
	}
	return sqlitex.Execute(conn,
		`UPDATE tasks SET updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{formatTime(time.Now().UTC()), id}})
}

//-----------
// Internals
//-----------

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(text string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, text)
	return t
}

func paramsText(params json.RawMessage) any {
	if len(params) == 0 {
		return nil
	}
	return string(params)
}

func getTask(conn *sqlite.Conn, id int64) (Task, error) {
	var task Task
	found := false
	err := sqlitex.Execute(conn,
		`SELECT id, data_source, task_type, params, status, s3_prefix,
			created_at, updated_at FROM tasks WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true
				task = Task{
					Id:          stmt.ColumnInt64(0),
					DataSource:  stmt.ColumnText(1),
					TaskType:    stmt.ColumnText(2),
					Status:      Status(stmt.ColumnText(4)),
					S3Prefix:    stmt.ColumnText(5),
					FileUploads: []output.UploadRecord{},
					CreatedAt:   parseTime(stmt.ColumnText(6)),
					UpdatedAt:   parseTime(stmt.ColumnText(7)),
				}
				if params := stmt.ColumnText(3); params != "" {
					task.Params = json.RawMessage(params)
				}
				return nil
			},
		})
	if err != nil {
		return Task{}, err
	}
	if !found {
		return Task{}, NotFoundError{Id: id}
	}

	err = sqlitex.Execute(conn,
		`SELECT s3_key, s3_bucket, s3_endpoint_url, size_bytes, uploaded_at
			FROM file_uploads WHERE task_id = ? ORDER BY id`,
		&sqlitex.ExecOptions{
			Args: []any{id},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				task.FileUploads = append(task.FileUploads, output.UploadRecord{
					S3Key:         stmt.ColumnText(0),
					S3Bucket:      stmt.ColumnText(1),
					S3EndpointURL: stmt.ColumnText(2),
					SizeBytes:     stmt.ColumnInt64(3),
					UploadedAt:    parseTime(stmt.ColumnText(4)),
				})
				return nil
			},
		})
	return task, err
}
