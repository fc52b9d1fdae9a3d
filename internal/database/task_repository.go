package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"danmuhub/models"
)

// TaskRepository persists task history. The in-memory scheduler owns the
// live queues; rows here are the durable record it replays on startup.
type TaskRepository struct {
	db *sql.DB
}

func (r *TaskRepository) Insert(t *models.TaskRecord) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := r.db.Exec(
		`INSERT INTO task_history (task_id, title, status, progress, description, queue_type, unique_key, task_type, task_parameters, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.Title, string(t.Status), t.Progress, t.Description, string(t.QueueType),
		nullIfEmpty(t.UniqueKey), nullIfEmpty(t.TaskType), nullIfEmpty(t.Parameters), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

func (r *TaskRepository) Get(taskID string) (*models.TaskRecord, error) {
	row := r.db.QueryRow(
		`SELECT task_id, title, status, progress, description, queue_type, unique_key, task_type, task_parameters, created_at, updated_at, finished_at
		 FROM task_history WHERE task_id = ?`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

// UpdateProgress writes status, progress and description in one shot; the
// workers call this on every visible state transition.
func (r *TaskRepository) UpdateProgress(taskID string, status models.TaskStatus, progress int, description string) error {
	now := time.Now().UTC()
	var finished any
	if status == models.TaskStatusCompleted || status == models.TaskStatusFailed {
		finished = now
	}
	_, err := r.db.Exec(
		`UPDATE task_history SET status = ?, progress = ?, description = ?, updated_at = ?, finished_at = COALESCE(?, finished_at)
		 WHERE task_id = ?`,
		string(status), progress, description, now, finished, taskID)
	return err
}

// HasActiveDuplicate reports whether a pending or running task already
// carries the unique key.
func (r *TaskRepository) HasActiveDuplicate(uniqueKey string) (bool, error) {
	if uniqueKey == "" {
		return false, nil
	}
	var n int
	err := r.db.QueryRow(
		`SELECT COUNT(*) FROM task_history WHERE unique_key = ? AND status IN ('pending', 'running', 'paused')`,
		uniqueKey).Scan(&n)
	return n > 0, err
}

// List returns recent history, newest first, optionally filtered by a
// lifecycle bucket ("in_progress" or "completed").
func (r *TaskRepository) List(filter string, limit int) ([]models.TaskRecord, error) {
	query := `SELECT task_id, title, status, progress, description, queue_type, unique_key, task_type, task_parameters, created_at, updated_at, finished_at
		 FROM task_history`
	switch filter {
	case "in_progress":
		query += ` WHERE status IN ('pending', 'running', 'paused')`
	case "completed":
		query += ` WHERE status IN ('completed', 'failed')`
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// InterruptedTasks returns rows left pending, running or paused by a
// previous process, oldest first, for startup recovery.
func (r *TaskRepository) InterruptedTasks() ([]models.TaskRecord, error) {
	rows, err := r.db.Query(
		`SELECT task_id, title, status, progress, description, queue_type, unique_key, task_type, task_parameters, created_at, updated_at, finished_at
		 FROM task_history WHERE status IN ('pending', 'running', 'paused') ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TaskRepository) Delete(taskID string) error {
	_, err := r.db.Exec(`DELETE FROM task_history WHERE task_id = ?`, taskID)
	return err
}

// Prune deletes finished rows older than the cutoff.
func (r *TaskRepository) Prune(before time.Time) (int64, error) {
	res, err := r.db.Exec(
		`DELETE FROM task_history WHERE status IN ('completed', 'failed') AND created_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanTask(s rowScanner) (*models.TaskRecord, error) {
	var t models.TaskRecord
	var status, queue string
	var uniqueKey, taskType, params sql.NullString
	var finished sql.NullTime
	if err := s.Scan(&t.TaskID, &t.Title, &status, &t.Progress, &t.Description, &queue,
		&uniqueKey, &taskType, &params, &t.CreatedAt, &t.UpdatedAt, &finished); err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.QueueType = models.QueueType(queue)
	t.UniqueKey = uniqueKey.String
	t.TaskType = taskType.String
	t.Parameters = params.String
	if finished.Valid {
		f := finished.Time
		t.FinishedAt = &f
	}
	return &t, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
