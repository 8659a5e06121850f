package event

import (
	"time"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// Event names
const (
	NameDownloadStarted   = "download.started"
	NameDownloadPaused    = "download.paused"
	NameDownloadCancelled = "download.cancelled"
	NameDownloadCompleted = "download.completed"
	NameDownloadFailed    = "download.failed"
)

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// DownloadStarted is raised when a transfer is issued for a book
type DownloadStarted struct {
	BaseEvent
	BookID  string
	Session string
	Size    int64
	Resumed bool
}

// EventName returns the event name
func (e DownloadStarted) EventName() string {
	return NameDownloadStarted
}

// NewDownloadStarted creates a new DownloadStarted event
func NewDownloadStarted(bookID, session string, size int64, resumed bool) DownloadStarted {
	return DownloadStarted{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		BookID:    bookID,
		Session:   session,
		Size:      size,
		Resumed:   resumed,
	}
}

// DownloadPaused is raised when a transfer is paused
type DownloadPaused struct {
	BaseEvent
	BookID string
}

// EventName returns the event name
func (e DownloadPaused) EventName() string {
	return NameDownloadPaused
}

// NewDownloadPaused creates a new DownloadPaused event
func NewDownloadPaused(bookID string) DownloadPaused {
	return DownloadPaused{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		BookID:    bookID,
	}
}

// DownloadCancelled is raised when a transfer is cancelled without resume data
type DownloadCancelled struct {
	BaseEvent
	BookID    string
	BookState string // "remote" when the book was kept, "deleted" otherwise
}

// EventName returns the event name
func (e DownloadCancelled) EventName() string {
	return NameDownloadCancelled
}

// NewDownloadCancelled creates a new DownloadCancelled event
func NewDownloadCancelled(bookID, bookState string) DownloadCancelled {
	return DownloadCancelled{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		BookID:    bookID,
		BookState: bookState,
	}
}

// DownloadCompleted is raised when a book file has been moved into place
type DownloadCompleted struct {
	BaseEvent
	BookID   string
	Path     string
	Size     int64
	Duration time.Duration
}

// EventName returns the event name
func (e DownloadCompleted) EventName() string {
	return NameDownloadCompleted
}

// NewDownloadCompleted creates a new DownloadCompleted event
func NewDownloadCompleted(bookID, path string, size int64, duration time.Duration) DownloadCompleted {
	return DownloadCompleted{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		BookID:    bookID,
		Path:      path,
		Size:      size,
		Duration:  duration,
	}
}

// DownloadFailed is raised when a transfer ends with an error other than cancellation
type DownloadFailed struct {
	BaseEvent
	BookID    string
	Error     string
	Resumable bool
	Retrying  bool
}

// EventName returns the event name
func (e DownloadFailed) EventName() string {
	return NameDownloadFailed
}

// NewDownloadFailed creates a new DownloadFailed event
func NewDownloadFailed(bookID, err string, resumable, retrying bool) DownloadFailed {
	return DownloadFailed{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		BookID:    bookID,
		Error:     err,
		Resumable: resumable,
		Retrying:  retrying,
	}
}
