package downloader

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"time"

	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/domain/event"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

func (m *Manager) handleEvent(ev port.Event) {
	switch e := ev.(type) {
	case port.ProgressEvent:
		m.handleProgress(e)
	case port.FinishedEvent:
		m.handleFinished(e)
	case port.CompletedEvent:
		m.handleCompleted(e)
	default:
		m.logger.Warn("unknown engine event",
			zap.String("tag", ev.EventTag()),
			zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

// handleFinished moves the payload into the documents directory and marks
// the book local. A failed move reverts the book like a cancel.
func (m *Manager) handleFinished(e port.FinishedEvent) {
	bookID := e.Tag
	log := m.logger.With(zap.String("book_id", bookID))

	book, err := m.store.GetBook(bookID)
	if err != nil {
		log.Error("failed to get book", zap.Error(err))
		return
	}
	task, err := m.store.GetTask(bookID)
	if err != nil {
		log.Error("failed to get task", zap.Error(err))
		return
	}
	if book == nil || task == nil {
		log.Warn("finished transfer has no book or task, discarding payload",
			zap.Bool("book_exists", book != nil))
		if err := m.fs.DeleteFile(e.Location); err != nil {
			log.Warn("failed to delete payload", zap.String("path", e.Location), zap.Error(err))
		}
		return
	}

	name := destinationFilename(e.SuggestedFilename, e.RequestURL, bookID)
	dest, err := m.fs.MoveToDocuments(e.Location, name)
	if err != nil {
		moveErr := fmt.Errorf("%w: %v", domain.ErrRelocationFailed, err)
		log.Error("download failed", zap.String("filename", name), zap.Error(moveErr))

		if err := m.fs.DeleteFile(e.Location); err != nil {
			log.Warn("failed to delete payload", zap.String("path", e.Location), zap.Error(err))
		}
		if _, err := m.store.CancelDownload(bookID); err != nil {
			log.Error("failed to revert download", zap.Error(err))
		}
		m.dispatcher.Dispatch(event.NewDownloadFailed(bookID, moveErr.Error(), false, false))
		return
	}

	if err := m.store.CompleteDownload(bookID); err != nil {
		log.Error("failed to record download completion", zap.String("path", dest), zap.Error(err))
		return
	}
	delete(m.retries, bookID)

	if book.FileSize <= 0 {
		// Size unknown up front; report what arrived
		if size, err := m.fs.GetFileSize(dest); err == nil {
			book.FileSize = size
		} else {
			log.Warn("failed to stat downloaded file", zap.String("path", dest), zap.Error(err))
		}
	}

	var duration time.Duration
	if entry, ok := m.active[bookID]; ok {
		duration = time.Since(entry.startedAt)
	}

	log.Info("download completed", zap.String("path", dest), zap.Duration("duration", duration))
	m.dispatcher.Dispatch(event.NewDownloadCompleted(bookID, dest, book.FileSize, duration))

	if m.prefs.DownloadFinishedNotifications() {
		m.notify(book)
	}
}

// handleCompleted is the last event of every transfer
func (m *Manager) handleCompleted(e port.CompletedEvent) {
	bookID := e.Tag

	switch {
	case e.Cancelled():
		if len(e.ResumeToken) > 0 && !m.pool.DiscardsToken(bookID) {
			m.saveResumeToken(bookID, e.ResumeToken)
		}
	case e.Err != nil:
		if m.pool.IsCancelling(bookID) {
			// Failed while stopping; a cancel never keeps a failure token
			break
		}
		m.handleFailure(bookID, e)
	}

	m.untrack(bookID, true)
	m.pool.Release(bookID)
	m.activity.TaskFinished(bookID)

	if m.pool.SessionIdle(e.Session) {
		m.runCompletionHandler(e.Session)
	}

	if m.pendingResume[bookID] {
		delete(m.pendingResume, bookID)
		if !m.shuttingDown {
			m.resume(bookID)
		}
	}
}

// handleFailure keeps a failed download resumable. With a token the task is
// paused; without one it stays queued for the reconciler.
func (m *Manager) handleFailure(bookID string, e port.CompletedEvent) {
	log := m.logger.With(zap.String("book_id", bookID))

	task, err := m.store.GetTask(bookID)
	if err != nil {
		log.Error("failed to get task", zap.Error(err))
		return
	}
	if task == nil {
		log.Debug("transfer failed after its task was removed", zap.Error(e.Err))
		return
	}

	resumable := len(e.ResumeToken) > 0
	transient := domain.IsRetryable(e.Err)

	if resumable {
		m.saveResumeToken(bookID, e.ResumeToken)
	}
	if resumable || !transient {
		if err := m.store.PauseDownload(bookID); err != nil {
			log.Error("failed to pause download", zap.Error(err))
		}
	}

	retrying := false
	if transient && !m.shuttingDown && m.retries[bookID] < m.config.AutoResumeAttempts {
		m.retries[bookID]++
		delay := m.config.AutoResumeDelay
		if after, _ := domain.GetRetryAfter(e.Err); after > delay {
			delay = after
		}
		m.scheduleRetry(bookID, delay)
		retrying = true
	}

	log.Warn("transfer failed",
		zap.Bool("transient", transient),
		zap.Bool("resumable", resumable),
		zap.Bool("retrying", retrying),
		zap.Int("attempt", m.retries[bookID]),
		zap.Error(e.Err))
	m.dispatcher.Dispatch(event.NewDownloadFailed(bookID, e.Err.Error(), resumable, retrying))
}

func (m *Manager) saveResumeToken(bookID string, token []byte) {
	if err := m.store.SetResumeToken(bookID, token); err != nil {
		m.logger.Error("failed to save resume token", zap.String("book_id", bookID), zap.Error(err))
		return
	}
	m.logger.Debug("resume token saved", zap.String("book_id", bookID), zap.Int("size", len(token)))
}

// notify sends the completion notification without blocking the loop
func (m *Manager) notify(book *domain.Book) {
	bookID, title, size := book.ID, book.DisplayTitle(), book.SizeDescription()

	m.notifyWG.Add(1)
	go func() {
		defer m.notifyWG.Done()

		ctx, cancel := context.WithTimeout(context.Background(), m.config.NotifyTimeout)
		defer cancel()

		if err := m.notifier.DownloadFinished(ctx, bookID, title, size); err != nil {
			m.logger.Warn("failed to send download notification",
				zap.String("book_id", bookID),
				zap.Error(err))
		}
	}()
}

// destinationFilename picks the suggested name, else the last path segment
// of the request URL, else the book ID
func destinationFilename(suggested, requestURL, bookID string) string {
	if suggested != "" {
		return suggested
	}

	if u, err := url.Parse(requestURL); err == nil {
		switch base := path.Base(u.Path); base {
		case "", ".", "/":
		default:
			return base
		}
	}

	return bookID
}
