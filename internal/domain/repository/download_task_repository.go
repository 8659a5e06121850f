package repository

import (
	"github.com/vertextoedge/book-downloader/internal/domain"
)

// DownloadTaskRepository defines the download task operations.
// Every method that changes more than one row runs in a single transaction so
// that a task exists exactly while its book is downloading.
type DownloadTaskRepository interface {
	// GetTask retrieves the task for a book
	// Returns nil, nil if there is none
	GetTask(bookID string) (*domain.DownloadTask, error)

	// ListTasks returns all tasks ordered by creation time
	ListTasks() ([]*domain.DownloadTask, error)

	// GetTaskStats returns task statistics
	GetTaskStats() (*domain.TaskStats, error)

	// BeginDownload sets the book to downloading and creates (or resets) its
	// task in the queued state with zero bytes. Any stale resume token is dropped.
	BeginDownload(bookID string) error

	// RequeueDownload sets an existing task back to queued after a resume,
	// keeping its byte checkpoint, and consumes the book's resume token.
	RequeueDownload(bookID string) error

	// MarkDownloading sets the task (and book) to downloading.
	// No-op if the task no longer exists.
	MarkDownloading(bookID string) error

	// UpdateProgress persists the byte checkpoint.
	// No-op if the task no longer exists.
	UpdateProgress(bookID string, totalBytesWritten int64) error

	// PauseDownload sets the task to paused.
	// No-op if the task no longer exists.
	PauseDownload(bookID string) error

	// CompleteDownload sets the book to local and deletes its task
	// Returns domain.ErrTaskNotFound if there was no task to complete
	CompleteDownload(bookID string) error

	// CancelDownload deletes the task and resume token. A book with remote
	// origin metadata reverts to remote; any other book is deleted.
	// Returns the resulting book state (remote or deleted).
	CancelDownload(bookID string) (domain.BookState, error)
}
