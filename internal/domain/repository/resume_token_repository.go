package repository

// ResumeTokenRepository stores opaque engine resume tokens keyed by book ID.
// Tokens survive process restarts; cancelling a download removes its token.
type ResumeTokenRepository interface {
	// GetResumeToken returns the token for a book
	// Returns nil, nil if none is stored
	GetResumeToken(bookID string) ([]byte, error)

	// SetResumeToken stores or replaces the token for a book
	SetResumeToken(bookID string, token []byte) error

	// DeleteResumeToken removes the token for a book (no-op if absent)
	DeleteResumeToken(bookID string) error
}
