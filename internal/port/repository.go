package port

import (
	"github.com/vertextoedge/book-downloader/internal/domain/repository"
)

// BookRepository is an alias to domain repository interface
type BookRepository = repository.BookRepository

// DownloadTaskRepository is an alias to domain repository interface
type DownloadTaskRepository = repository.DownloadTaskRepository

// ResumeTokenRepository is an alias to domain repository interface
type ResumeTokenRepository = repository.ResumeTokenRepository

// Store is an alias to domain repository interface
type Store = repository.Store
