package port

import (
	"time"
)

// TempFileExt marks in-flight transfer files in the temp directory
const TempFileExt = ".download"

// FileSystem defines the interface for local file placement
type FileSystem interface {
	// DocumentsDir returns the directory completed books are moved into
	DocumentsDir() string

	// TempDir returns the directory transfers write into
	TempDir() string

	// MoveToDocuments moves the file at from into the documents directory
	// under name, replacing any existing file.
	// Returns the destination path.
	MoveToDocuments(from, name string) (string, error)

	// GetFileSize returns the size of a file
	GetFileSize(path string) (int64, error)

	// DeleteFile removes a file (no error if it does not exist)
	DeleteFile(path string) error

	// CleanOldTempFiles removes temp files older than the specified duration
	// Returns the number of files deleted
	CleanOldTempFiles(olderThan time.Duration) (int, error)
}
