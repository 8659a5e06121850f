package port

import (
	"context"
)

// ActivityTracker drives the "network activity in progress" indicator.
// Calls are fire-and-forget.
type ActivityTracker interface {
	TaskStarted(bookID string)
	TaskFinished(bookID string)
}

// Notifier delivers user-facing notifications
type Notifier interface {
	DownloadFinished(ctx context.Context, bookID, title, sizeDescription string) error
}

// Preferences exposes user preferences, read at call time
type Preferences interface {
	DownloadFinishedNotifications() bool
}
