package sqlite

import (
	"database/sql"

	"github.com/vertextoedge/book-downloader/internal/domain"
)

const taskColumns = `book_id, state, total_bytes_written, created_at, updated_at`

// GetTask retrieves the task for a book
func (s *Store) GetTask(bookID string) (*domain.DownloadTask, error) {
	query := `SELECT ` + taskColumns + ` FROM download_tasks WHERE book_id = ?`

	task, err := scanTask(s.db.QueryRow(query, bookID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return task, err
}

// ListTasks returns all tasks ordered by creation time
func (s *Store) ListTasks() ([]*domain.DownloadTask, error) {
	rows, err := s.db.Query(`SELECT ` + taskColumns + ` FROM download_tasks ORDER BY created_at, book_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*domain.DownloadTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTaskStats returns task statistics
func (s *Store) GetTaskStats() (*domain.TaskStats, error) {
	stats := &domain.TaskStats{}

	query := `
		SELECT state, COUNT(*), COALESCE(SUM(total_bytes_written), 0)
		FROM download_tasks
		GROUP BY state
	`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var state string
		var count int
		var written int64

		if err := rows.Scan(&state, &count, &written); err != nil {
			return nil, err
		}

		switch domain.TaskState(state) {
		case domain.TaskStateQueued:
			stats.QueuedCount = count
		case domain.TaskStateDownloading:
			stats.DownloadingCount = count
		case domain.TaskStatePaused:
			stats.PausedCount = count
		}
		stats.TotalBytesWritten += written
	}

	return stats, rows.Err()
}

// BeginDownload sets the book to downloading and (re)creates its queued task
func (s *Store) BeginDownload(bookID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			"UPDATE books SET state = ?, updated_at = datetime('now') WHERE id = ?",
			string(domain.BookStateDownloading), bookID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.ErrBookNotFound
		}

		query := `
			INSERT INTO download_tasks (book_id, state, total_bytes_written)
			VALUES (?, ?, 0)
			ON CONFLICT(book_id) DO UPDATE SET
				state = excluded.state,
				total_bytes_written = 0,
				updated_at = datetime('now')
		`
		if _, err := tx.Exec(query, bookID, string(domain.TaskStateQueued)); err != nil {
			return err
		}

		_, err = tx.Exec("DELETE FROM resume_tokens WHERE book_id = ?", bookID)
		return err
	})
}

// RequeueDownload sets the task back to queued and consumes the resume token
func (s *Store) RequeueDownload(bookID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"UPDATE books SET state = ?, updated_at = datetime('now') WHERE id = ?",
			string(domain.BookStateDownloading), bookID); err != nil {
			return err
		}

		// Bytes persisted before the pause remain the checkpoint
		query := `
			INSERT INTO download_tasks (book_id, state)
			SELECT id, ? FROM books WHERE id = ?
			ON CONFLICT(book_id) DO UPDATE SET
				state = excluded.state,
				updated_at = datetime('now')
		`
		if _, err := tx.Exec(query, string(domain.TaskStateQueued), bookID); err != nil {
			return err
		}

		_, err := tx.Exec("DELETE FROM resume_tokens WHERE book_id = ?", bookID)
		return err
	})
}

// MarkDownloading sets the task and its book to downloading
func (s *Store) MarkDownloading(bookID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE download_tasks SET state = ?, updated_at = datetime('now')
			WHERE book_id = ? AND state != ?`,
			string(domain.TaskStateDownloading), bookID, string(domain.TaskStateDownloading))
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil || n == 0 {
			return err
		}

		_, err = tx.Exec(
			"UPDATE books SET state = ?, updated_at = datetime('now') WHERE id = ? AND state != ?",
			string(domain.BookStateDownloading), bookID, string(domain.BookStateDownloading))
		return err
	})
}

// UpdateProgress persists the byte checkpoint
func (s *Store) UpdateProgress(bookID string, totalBytesWritten int64) error {
	query := `
		UPDATE download_tasks
		SET total_bytes_written = ?, updated_at = datetime('now')
		WHERE book_id = ?
	`

	_, err := s.db.Exec(query, totalBytesWritten, bookID)
	return err
}

// PauseDownload sets the task to paused
func (s *Store) PauseDownload(bookID string) error {
	_, err := s.db.Exec(
		"UPDATE download_tasks SET state = ?, updated_at = datetime('now') WHERE book_id = ?",
		string(domain.TaskStatePaused), bookID)
	return err
}

// CompleteDownload sets the book to local and deletes its task
func (s *Store) CompleteDownload(bookID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec("DELETE FROM download_tasks WHERE book_id = ?", bookID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return domain.ErrTaskNotFound
		}

		if _, err := tx.Exec(
			"UPDATE books SET state = ?, updated_at = datetime('now') WHERE id = ?",
			string(domain.BookStateLocal), bookID); err != nil {
			return err
		}

		_, err = tx.Exec("DELETE FROM resume_tokens WHERE book_id = ?", bookID)
		return err
	})
}

// CancelDownload deletes the task and token, then reverts or deletes the book
func (s *Store) CancelDownload(bookID string) (domain.BookState, error) {
	state := domain.BookStateDeleted

	err := s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM download_tasks WHERE book_id = ?", bookID); err != nil {
			return err
		}
		if _, err := tx.Exec("DELETE FROM resume_tokens WHERE book_id = ?", bookID); err != nil {
			return err
		}

		var meta4URL string
		err := tx.QueryRow("SELECT meta4_url FROM books WHERE id = ?", bookID).Scan(&meta4URL)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		if meta4URL != "" {
			state = domain.BookStateRemote
			_, err = tx.Exec(
				"UPDATE books SET state = ?, updated_at = datetime('now') WHERE id = ?",
				string(domain.BookStateRemote), bookID)
			return err
		}

		_, err = tx.Exec("DELETE FROM books WHERE id = ?", bookID)
		return err
	})
	if err != nil {
		return "", err
	}
	return state, nil
}

func scanTask(row rowScanner) (*domain.DownloadTask, error) {
	task := &domain.DownloadTask{}
	var state string
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(&task.BookID, &state, &task.TotalBytesWritten, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	task.State = domain.TaskState(state)
	if createdAt.Valid {
		task.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		task.UpdatedAt = updatedAt.Time
	}
	return task, nil
}
