package sqlite

import (
	"database/sql"

	"github.com/vertextoedge/book-downloader/internal/domain"
)

const bookColumns = `id, title, url, meta4_url, file_size, state, created_at, updated_at`

// GetBook retrieves a book by ID
func (s *Store) GetBook(id string) (*domain.Book, error) {
	query := `SELECT ` + bookColumns + ` FROM books WHERE id = ?`

	book, err := scanBook(s.db.QueryRow(query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return book, err
}

// ListBooks returns all books ordered by ID
func (s *Store) ListBooks() ([]*domain.Book, error) {
	rows, err := s.db.Query(`SELECT ` + bookColumns + ` FROM books ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*domain.Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// UpsertBook creates a book or updates its metadata without touching its state
func (s *Store) UpsertBook(book *domain.Book) error {
	if book.ID == "" {
		return domain.ErrInvalidInput
	}

	query := `
		INSERT INTO books (id, title, url, meta4_url, file_size, state)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			url = excluded.url,
			meta4_url = excluded.meta4_url,
			file_size = excluded.file_size,
			updated_at = datetime('now')
	`

	_, err := s.db.Exec(query,
		book.ID, book.Title, book.URL, book.Meta4URL, book.FileSize, string(domain.BookStateRemote))
	return err
}

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBook(row rowScanner) (*domain.Book, error) {
	book := &domain.Book{}
	var state string
	var createdAt, updatedAt sql.NullTime

	err := row.Scan(
		&book.ID, &book.Title, &book.URL, &book.Meta4URL, &book.FileSize,
		&state, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	book.State = domain.BookState(state)
	if createdAt.Valid {
		book.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		book.UpdatedAt = updatedAt.Time
	}
	return book, nil
}
