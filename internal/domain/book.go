package domain

import (
	"time"

	"github.com/vertextoedge/book-downloader/internal/domain/vo"
)

// BookState is the lifecycle state of a book
type BookState string

// Book state constants
const (
	BookStateRemote      BookState = "remote"
	BookStateDownloading BookState = "downloading"
	BookStateLocal       BookState = "local"
	BookStateDeleted     BookState = "deleted"
)

// DefaultBookTitle is used in notifications when a book has no title
const DefaultBookTitle = "Book"

// Valid returns true if s is a known book state
func (s BookState) Valid() bool {
	switch s {
	case BookStateRemote, BookStateDownloading, BookStateLocal, BookStateDeleted:
		return true
	}
	return false
}

// Book represents a downloadable content package
type Book struct {
	ID       string
	Title    string
	URL      string
	Meta4URL string // remote origin metadata; empty when the book was side-loaded
	FileSize int64
	State    BookState

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasRemoteOrigin reports whether the book can be fetched again after a cancel
func (b *Book) HasRemoteOrigin() bool {
	return b.Meta4URL != ""
}

// DisplayTitle returns the title, or DefaultBookTitle if empty
func (b *Book) DisplayTitle() string {
	if b.Title == "" {
		return DefaultBookTitle
	}
	return b.Title
}

// Size returns the declared file size as a value object
func (b *Book) Size() vo.FileSize {
	if b.FileSize < 0 {
		return vo.ZeroSize()
	}
	return vo.MustFileSize(b.FileSize)
}

// SizeDescription returns a human-readable declared size
func (b *Book) SizeDescription() string {
	return b.Size().String()
}
