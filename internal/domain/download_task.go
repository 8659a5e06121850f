package domain

import "time"

// TaskState is the transfer state of a download task
type TaskState string

// Task state constants
const (
	TaskStateQueued      TaskState = "queued"
	TaskStateDownloading TaskState = "downloading"
	TaskStatePaused      TaskState = "paused"
)

// DownloadTask is the persisted record of an outstanding transfer.
// A task exists for a book exactly while the book is in BookStateDownloading.
type DownloadTask struct {
	BookID string
	State  TaskState

	// Last persisted checkpoint, not the live byte count
	TotalBytesWritten int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsPaused returns true if the task was paused
func (t *DownloadTask) IsPaused() bool {
	return t.State == TaskStatePaused
}

// NeedsTransfer returns true if the task expects a live transfer.
// Queued and downloading tasks without one are stuck and need recovery.
func (t *DownloadTask) NeedsTransfer() bool {
	return t.State == TaskStateQueued || t.State == TaskStateDownloading
}

// Progress returns the completed fraction of size, clamped to [0, 1].
// Returns 0 when size is unknown.
func (t *DownloadTask) Progress(size int64) float64 {
	if size <= 0 {
		return 0
	}
	p := float64(t.TotalBytesWritten) / float64(size)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// TaskStats summarises persisted download tasks
type TaskStats struct {
	QueuedCount       int
	DownloadingCount  int
	PausedCount       int
	TotalBytesWritten int64
}
