package sqlite

import (
	"database/sql"
)

// GetResumeToken returns the stored token for a book, or nil if none
func (s *Store) GetResumeToken(bookID string) ([]byte, error) {
	var token []byte
	err := s.db.QueryRow("SELECT token FROM resume_tokens WHERE book_id = ?", bookID).Scan(&token)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return token, nil
}

// SetResumeToken stores or replaces the token for a book
func (s *Store) SetResumeToken(bookID string, token []byte) error {
	query := `
		INSERT INTO resume_tokens (book_id, token) VALUES (?, ?)
		ON CONFLICT(book_id) DO UPDATE SET token = excluded.token, updated_at = datetime('now')
	`
	_, err := s.db.Exec(query, bookID, token)
	return err
}

// DeleteResumeToken removes the token for a book
func (s *Store) DeleteResumeToken(bookID string) error {
	_, err := s.db.Exec("DELETE FROM resume_tokens WHERE book_id = ?", bookID)
	return err
}
