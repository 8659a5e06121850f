package repository

// Store combines all repository interfaces
type Store interface {
	BookRepository
	DownloadTaskRepository
	ResumeTokenRepository

	// Close closes the database connection
	Close() error

	// Ping checks database connectivity
	Ping() error
}
