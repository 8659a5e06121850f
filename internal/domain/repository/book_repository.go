package repository

import (
	"github.com/vertextoedge/book-downloader/internal/domain"
)

// BookRepository defines the interface for book persistence operations
type BookRepository interface {
	// GetBook retrieves a book by ID
	// Returns nil, nil if the book does not exist
	GetBook(id string) (*domain.Book, error)

	// ListBooks returns all books ordered by ID
	ListBooks() ([]*domain.Book, error)

	// UpsertBook creates a book in BookStateRemote or updates its metadata.
	// The lifecycle state of an existing book is never touched; it is owned
	// by the download manager.
	UpsertBook(book *domain.Book) error
}
