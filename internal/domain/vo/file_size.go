package vo

import (
	"errors"

	"github.com/dustin/go-humanize"
)

// FileSize represents a file size value object.
// It provides type-safe comparison and human-readable formatting.
type FileSize struct {
	bytes int64
}

var (
	ErrNegativeSize = errors.New("file size cannot be negative")
)

// NewFileSize creates a new FileSize value object.
func NewFileSize(bytes int64) (FileSize, error) {
	if bytes < 0 {
		return FileSize{}, ErrNegativeSize
	}
	return FileSize{bytes: bytes}, nil
}

// MustFileSize creates a new FileSize, panicking if invalid.
func MustFileSize(bytes int64) FileSize {
	fs, err := NewFileSize(bytes)
	if err != nil {
		panic(err)
	}
	return fs
}

// ZeroSize returns a zero FileSize.
func ZeroSize() FileSize {
	return FileSize{}
}

// ParseFileSize parses a human-readable size such as "100 MB" or "1.5GiB".
func ParseFileSize(s string) (FileSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return FileSize{}, err
	}
	return NewFileSize(int64(n))
}

// Bytes returns the size in bytes.
func (fs FileSize) Bytes() int64 {
	return fs.bytes
}

// IsZero returns true if the size is zero.
func (fs FileSize) IsZero() bool {
	return fs.bytes == 0
}

// ExceedsLimit checks if this size exceeds the given limit.
func (fs FileSize) ExceedsLimit(limit FileSize) bool {
	return fs.bytes > limit.bytes
}

// String returns a human-readable SI representation, e.g. "82 MB".
func (fs FileSize) String() string {
	return humanize.Bytes(uint64(fs.bytes))
}
