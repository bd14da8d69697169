package db

import (
	"database/sql"
	"errors"
	"time"
)

// Inbox task statuses.
const (
	StatusQueued     = "queued"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
	StatusFailed     = "failed"
	StatusDead       = "dead" // delivery retries exhausted; never claimed again
)

// Task is one inbox row claimed for processing.
type Task struct {
	ID        int64
	UpdateID  int64
	ChatID    int64
	UserID    string
	UserEmail string
	Text      string
	Attempts  int64
	Reply     string // non-empty once a reply was resolved but not yet delivered
	Outcome   string
	UpdatedAt int64
}

// EnqueueMessage inserts an incoming message; duplicates by update_id are ignored.
func EnqueueMessage(database *sql.DB, updateID, chatID int64, userID, userEmail, text string, messageDate int64) (bool, error) {
	result, err := database.Exec(
		`INSERT OR IGNORE INTO inbox (update_id, chat_id, user_id, user_email, text, message_date, status, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, 'queued', unixepoch())`,
		updateID, chatID, userID, userEmail, text, messageDate,
	)
	if err != nil {
		return false, err
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// RetryPolicy decides whether a failed task may be claimed again.
type RetryPolicy func(attempts int64, updatedAt int64, nowUnix int64) bool

// ClaimTasks moves up to limit runnable tasks to in_progress and returns them
// in inbox order. Queued tasks come first, then failed tasks accepted by retry.
// Every failed row is considered, so rejected rows never starve later ones.
func ClaimTasks(database *sql.DB, limit int, retry RetryPolicy) ([]Task, error) {
	if limit <= 0 {
		limit = 1
	}
	tx, err := database.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tasks, err := scanTasks(tx,
		`SELECT id, update_id, chat_id, user_id, user_email, text, attempts, COALESCE(reply, ''), COALESCE(outcome, ''), updated_at
		 FROM inbox WHERE status = 'queued' ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	if len(tasks) < limit && retry != nil {
		now := time.Now().Unix()
		failed, err := scanTasksWhere(tx,
			`SELECT id, update_id, chat_id, user_id, user_email, text, attempts, COALESCE(reply, ''), COALESCE(outcome, ''), updated_at
			 FROM inbox WHERE status = 'failed' ORDER BY id`,
			limit-len(tasks), func(t Task) bool { return retry(t.Attempts, t.UpdatedAt, now) })
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, failed...)
	}

	for i := range tasks {
		if _, err := tx.Exec(
			`UPDATE inbox SET status = 'in_progress', attempts = attempts + 1,
			 locked_at = unixepoch(), error = NULL, updated_at = unixepoch()
			 WHERE id = ?`, tasks[i].ID,
		); err != nil {
			return nil, err
		}
		tasks[i].Attempts++
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func scanTasks(tx *sql.Tx, query string, limit int) ([]Task, error) {
	rows, err := tx.Query(query, limit)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows, limit, nil)
}

// scanTasksWhere reads rows in order until limit of them pass keep.
func scanTasksWhere(tx *sql.Tx, query string, limit int, keep func(Task) bool) ([]Task, error) {
	rows, err := tx.Query(query)
	if err != nil {
		return nil, err
	}
	return collectTasks(rows, limit, keep)
}

func collectTasks(rows *sql.Rows, limit int, keep func(Task) bool) ([]Task, error) {
	defer rows.Close()

	var tasks []Task
	for len(tasks) < limit && rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.UpdateID, &t.ChatID, &t.UserID, &t.UserEmail, &t.Text, &t.Attempts, &t.Reply, &t.Outcome, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if keep == nil || keep(t) {
			tasks = append(tasks, t)
		}
	}
	return tasks, rows.Err()
}

// HasRunnableTasks reports whether a claim would currently return work.
func HasRunnableTasks(database *sql.DB, retry RetryPolicy) bool {
	var exists int64
	err := database.QueryRow("SELECT 1 FROM inbox WHERE status = 'queued' ORDER BY id LIMIT 1").Scan(&exists)
	if err == nil {
		return true
	}
	if !errors.Is(err, sql.ErrNoRows) || retry == nil {
		return false
	}
	rows, err := database.Query("SELECT attempts, updated_at FROM inbox WHERE status = 'failed' ORDER BY id")
	if err != nil {
		return false
	}
	defer rows.Close()
	now := time.Now().Unix()
	for rows.Next() {
		var attempts, updatedAt int64
		if scanErr := rows.Scan(&attempts, &updatedAt); scanErr != nil {
			continue
		}
		if retry(attempts, updatedAt, now) {
			return true
		}
	}
	return false
}

// SaveReply stores the resolved reply so a delivery retry does not resolve again.
func SaveReply(database *sql.DB, taskID int64, reply, outcome string) error {
	_, err := database.Exec(
		"UPDATE inbox SET reply = ?, outcome = ?, updated_at = unixepoch() WHERE id = ?",
		reply, outcome, taskID,
	)
	return err
}

// MarkTaskDone marks a task delivered.
func MarkTaskDone(database *sql.DB, taskID int64) error {
	_, err := database.Exec("UPDATE inbox SET status = 'done', updated_at = unixepoch(), error = NULL WHERE id = ?", taskID)
	return err
}

// MarkTaskFailed marks a task failed with the given error text.
func MarkTaskFailed(database *sql.DB, taskID int64, errMsg string) error {
	_, err := database.Exec("UPDATE inbox SET status = 'failed', updated_at = unixepoch(), error = ? WHERE id = ?",
		truncate(errMsg, 1000), taskID)
	return err
}

// MarkTaskDead parks a task whose delivery retries are exhausted.
func MarkTaskDead(database *sql.DB, taskID int64, errMsg string) error {
	_, err := database.Exec("UPDATE inbox SET status = 'dead', updated_at = unixepoch(), error = ? WHERE id = ?",
		truncate(errMsg, 1000), taskID)
	return err
}

// RequeueStale returns tasks left in_progress by an interrupted worker to the
// queue. Attempts are kept so retries stay bounded.
func RequeueStale(database *sql.DB) (int64, error) {
	res, err := database.Exec("UPDATE inbox SET status = 'queued', locked_at = NULL, updated_at = unixepoch() WHERE status = 'in_progress'")
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// TaskStatus returns the status of a task, mostly for tests and tooling.
func TaskStatus(database *sql.DB, taskID int64) (string, error) {
	var status string
	err := database.QueryRow("SELECT status FROM inbox WHERE id = ?", taskID).Scan(&status)
	return status, err
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
