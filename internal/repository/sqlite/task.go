package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/model"
	"github.com/sakif/todo-api/internal/repository"
)

// COMPILE-TIME INTERFACE CHECK:
// `var _ X = (*Y)(nil)` fails to compile if *Y stops implementing X, so a
// missing method is caught here instead of wherever the store is first wired.
var _ repository.TaskRepository = (*TaskDB)(nil)

// TaskDB is the SQLite-backed task store.
type TaskDB struct {
	conn *sql.DB
}

const taskColumns = `id, user_id, title, description, completed, created_at, updated_at`

// Create inserts a new task.
//
// KEY CONCEPTS:
//
//  1. ID GENERATION WITH xid:
//     xid IDs are 20 chars, URL-safe and sortable by creation time
//     (e.g. "cv37rs3pp9olc6atsptg"), which keeps task URLs short.
//
//  2. POINTER RECEIVER (*model.Task):
//     After Create(), the caller's task has the generated ID and timestamps.
//
//  3. PARAMETERIZED QUERIES (the ? placeholders):
//     NEVER build SQL strings with fmt.Sprintf from user input. Titles and
//     descriptions are free text straight from the request body.
func (db *TaskDB) Create(ctx context.Context, task *model.Task) error {
	now := time.Now().UTC()
	task.ID = xid.New().String()
	task.CreatedAt = now
	task.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO tasks (`+taskColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID,
		task.UserID,
		task.Title,
		task.Description,
		task.Completed,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating task: %w", err)
	}
	return nil
}

// GetByID retrieves a single task by its ID, regardless of owner.
//
// The service layer uses this to tell "no such task" (404) apart from
// "someone else's task" (403) before it mutates anything.
func (db *TaskDB) GetByID(ctx context.Context, id string) (*model.Task, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)

	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("task", id)
		}
		return nil, fmt.Errorf("sqlite: getting task %s: %w", id, err)
	}
	return task, nil
}

// ListByOwner returns every task owned by ownerID, oldest first.
//
// defer rows.Close() — ABSOLUTELY CRITICAL:
// sql.Rows holds a connection from the pool. With the single-connection
// in-memory pool used in tests, a leaked Rows would deadlock the next query.
func (db *TaskDB) ListByOwner(ctx context.Context, ownerID string) ([]model.Task, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE user_id = ?
		 ORDER BY created_at ASC, id ASC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing tasks: %w", err)
	}
	defer rows.Close()

	// Non-nil so an empty list encodes as [] rather than null.
	tasks := make([]model.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning task row: %w", err)
		}
		tasks = append(tasks, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating tasks: %w", err)
	}
	return tasks, nil
}

// Update writes back title, description and completed.
//
// The WHERE clause matches on BOTH id and user_id. Even if a caller forgot
// the ownership check, a foreign task simply isn't touched and the result
// is NotFound.
func (db *TaskDB) Update(ctx context.Context, task *model.Task) error {
	task.UpdatedAt = time.Now().UTC()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE tasks
		 SET title = ?, description = ?, completed = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		task.Title,
		task.Description,
		task.Completed,
		task.UpdatedAt,
		task.ID,
		task.UserID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating task %s: %w", task.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("task", task.ID)
	}
	return nil
}

// Delete removes a task owned by ownerID.
// Same pattern as Update — check RowsAffected to detect "not found".
func (db *TaskDB) Delete(ctx context.Context, id, ownerID string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ? AND user_id = ?`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting task %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperror.NotFound("task", id)
	}
	return nil
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Title,
		&t.Description,
		&t.Completed,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}
