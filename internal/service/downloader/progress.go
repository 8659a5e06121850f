package downloader

import (
	"time"

	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

// handleProgress records bytes for an active book. The first progress of a
// transfer moves its task and book to downloading.
func (m *Manager) handleProgress(e port.ProgressEvent) {
	entry, ok := m.active[e.Tag]
	if !ok {
		return
	}

	entry.bytesWritten = e.BytesWritten

	if !entry.downloading {
		entry.downloading = true
		if err := m.store.MarkDownloading(e.Tag); err != nil {
			m.logger.Warn("failed to mark download as downloading",
				zap.String("book_id", e.Tag),
				zap.Error(err))
		}
	}
}

// flush persists byte counts that changed since the last flush.
// Books whose task is gone are skipped by the store.
func (m *Manager) flush() {
	for bookID, entry := range m.active {
		if entry.bytesWritten == entry.flushedBytes {
			continue
		}
		if err := m.store.UpdateProgress(bookID, entry.bytesWritten); err != nil {
			m.logger.Warn("failed to save progress",
				zap.String("book_id", bookID),
				zap.Int64("bytes_written", entry.bytesWritten),
				zap.Error(err))
			continue
		}
		entry.flushedBytes = entry.bytesWritten
	}
}

func (m *Manager) armFlush() {
	if m.flushTicker != nil {
		return
	}
	m.flushTicker = time.NewTicker(m.config.FlushInterval)
	m.flushC = m.flushTicker.C
	m.logger.Debug("progress flush armed")
}

func (m *Manager) disarmFlush() {
	if m.flushTicker == nil {
		return
	}
	m.flushTicker.Stop()
	m.flushTicker = nil
	m.flushC = nil
	m.logger.Debug("progress flush disarmed")
}
