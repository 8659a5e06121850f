package downloader

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/domain/event"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const mb = 1000 * 1000

func TestManager_EndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", Title: "Wikipedia", URL: "https://example.com/files/wikipedia.zim", FileSize: 10 * mb})

	h.do(h.manager.Start(context.Background(), "book-1", nil))

	s := h.snapshot()
	assert.Equal(t, map[string]int64{"book-1": 0}, s.Active)
	assert.Equal(t, SessionUnrestricted, s.Sessions["book-1"])
	assert.True(t, s.FlushArmed)
	assert.Equal(t, SessionUnrestricted, h.engine.last(t, "book-1").session)
	assert.Equal(t, domain.TaskStateQueued, h.task("book-1").State)
	assert.Equal(t, domain.BookStateDownloading, h.book("book-1").State)
	h.checkInvariants()

	h.progress("book-1", 1000)
	assert.Equal(t, domain.TaskStateDownloading, h.task("book-1").State)
	assert.Equal(t, domain.BookStateDownloading, h.book("book-1").State)
	assert.Equal(t, int64(1000), h.snapshot().Active["book-1"])
	h.checkInvariants()

	h.finish("book-1", "", "zim payload")

	s = h.snapshot()
	assert.Empty(t, s.Active)
	assert.False(t, s.FlushArmed)
	assert.Equal(t, domain.BookStateLocal, h.book("book-1").State)
	assert.Nil(t, h.task("book-1"))
	h.checkInvariants()

	data, err := afero.ReadFile(h.fs, filepath.Join(testDocumentsDir, "wikipedia.zim"))
	require.NoError(t, err)
	assert.Equal(t, "zim payload", string(data))

	select {
	case n := <-h.notifier.sent:
		assert.Equal(t, notification{bookID: "book-1", title: "Wikipedia", size: "10 MB"}, n)
	case <-time.After(5 * time.Second):
		t.Fatal("no completion notification")
	}

	started, finished := h.activity.counts()
	assert.Equal(t, 1, started)
	assert.Equal(t, 1, finished)
	assert.Equal(t, []string{event.NameDownloadStarted, event.NameDownloadCompleted}, h.recorder.names())
}

func TestManager_StartPolicy(t *testing.T) {
	tests := []struct {
		name        string
		size        int64
		override    *bool
		wantSession string
	}{
		{name: "small book", size: 50 * mb, wantSession: SessionUnrestricted},
		{name: "large book", size: 150 * mb, wantSession: SessionRestricted},
		{name: "at threshold", size: domain.DefaultSizeThreshold, wantSession: SessionUnrestricted},
		{name: "large book allowed unrestricted", size: 150 * mb, override: boolPtr(true), wantSession: SessionUnrestricted},
		{name: "small book kept restricted", size: 50 * mb, override: boolPtr(false), wantSession: SessionRestricted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim", FileSize: tt.size})

			h.do(h.manager.Start(context.Background(), "book-1", tt.override))
			h.checkInvariants()

			assert.Equal(t, tt.wantSession, h.engine.last(t, "book-1").session)
		})
	}
}

func TestManager_StartValidation(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "no-url"})

	err := h.manager.Start(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrBookNotFound)

	err = h.manager.Start(context.Background(), "no-url", nil)
	assert.ErrorIs(t, err, domain.ErrNoSourceURL)

	h.checkInvariants()
	assert.Empty(t, h.engine.transfersFor("no-url"))
}

func TestManager_DuplicateStartIsIgnored(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	h.do(h.manager.Start(context.Background(), "book-1", nil))
	h.progress("book-1", 700)
	h.do(h.manager.Start(context.Background(), "book-1", nil))
	h.checkInvariants()

	assert.Len(t, h.engine.transfersFor("book-1"), 1)
	assert.Equal(t, int64(700), h.snapshot().Active["book-1"], "duplicate start must not reset progress")
}

func TestManager_PauseThenResume(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim", FileSize: 150 * mb})

	h.do(h.manager.Start(context.Background(), "book-1", boolPtr(true)))
	h.progress("book-1", 500)

	h.do(h.manager.Pause(context.Background(), "book-1"))
	h.checkInvariants()

	s := h.snapshot()
	assert.Empty(t, s.Active)
	assert.False(t, s.FlushArmed)
	assert.Equal(t, domain.TaskStatePaused, h.task("book-1").State)
	assert.EqualValues(t, 500, h.task("book-1").TotalBytesWritten, "pause keeps the byte checkpoint")
	assert.Equal(t, domain.BookStateDownloading, h.book("book-1").State)

	first := h.engine.last(t, "book-1")
	cancelled, produce := first.isCancelled()
	assert.True(t, cancelled)
	assert.True(t, produce)

	token := h.ackCancel("book-1")
	assert.Equal(t, token, h.token("book-1"))
	h.checkInvariants()

	h.do(h.manager.Resume(context.Background(), "book-1"))
	h.checkInvariants()

	second := h.engine.last(t, "book-1")
	require.NotSame(t, first, second)
	assert.Equal(t, token, second.token)
	// Resume re-derives the policy from size; the start override is gone
	assert.Equal(t, SessionRestricted, second.session)
	assert.Nil(t, h.token("book-1"), "resume consumes the token")
	assert.Equal(t, domain.TaskStateQueued, h.task("book-1").State)
	assert.EqualValues(t, 500, h.task("book-1").TotalBytesWritten)
	assert.Contains(t, h.snapshot().Active, "book-1")
}

func TestManager_ResumeBeforeCancelAcknowledged(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	h.do(h.manager.Start(context.Background(), "book-1", nil))
	h.do(h.manager.Pause(context.Background(), "book-1"))
	h.ackCancel("book-1")
	h.do(h.manager.Resume(context.Background(), "book-1"))
	h.checkInvariants()

	// Pause again and resume before the engine acknowledges
	h.do(h.manager.Pause(context.Background(), "book-1"))
	h.do(h.manager.Resume(context.Background(), "book-1"))
	h.checkInvariants()
	assert.Len(t, h.engine.transfersFor("book-1"), 2, "resume must wait for the cancel acknowledgement")

	latest := h.ackCancel("book-1")
	h.checkInvariants()

	transfers := h.engine.transfersFor("book-1")
	require.Len(t, transfers, 3)
	assert.Equal(t, latest, transfers[2].token, "resume must use the most recent token")
	assert.Equal(t, 1, h.engine.runningCount("book-1"))
	assert.Nil(t, h.token("book-1"))
}

func TestManager_ResumeWithoutTokenIsNoOp(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	h.do(h.manager.Resume(context.Background(), "book-1"))
	h.checkInvariants()

	assert.Empty(t, h.engine.transfersFor("book-1"))
	assert.Nil(t, h.task("book-1"))
	assert.Equal(t, domain.BookStateRemote, h.book("book-1").State)
}

func TestManager_ResumeWithCorruptTokenDropsIt(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})
	require.NoError(t, h.store.BeginDownload("book-1"))
	require.NoError(t, h.store.PauseDownload("book-1"))
	require.NoError(t, h.store.SetResumeToken("book-1", []byte("corrupt")))

	h.do(h.manager.Resume(context.Background(), "book-1"))
	h.checkInvariants()

	assert.Empty(t, h.engine.transfersFor("book-1"))
	assert.Nil(t, h.token("book-1"))
}

func TestManager_Cancel(t *testing.T) {
	tests := []struct {
		name      string
		book      *domain.Book
		wantState domain.BookState
	}{
		{
			name:      "book with remote origin reverts to remote",
			book:      &domain.Book{ID: "book-1", URL: "https://example.com/a.zim", Meta4URL: "https://example.com/a.zim.meta4"},
			wantState: domain.BookStateRemote,
		},
		{
			name:      "book without remote origin is deleted",
			book:      &domain.Book{ID: "book-1", URL: "https://example.com/a.zim"},
			wantState: domain.BookStateDeleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.seed(tt.book)

			h.do(h.manager.Start(context.Background(), "book-1", nil))
			h.progress("book-1", 100)
			h.do(h.manager.Cancel(context.Background(), "book-1"))
			h.checkInvariants()

			_, produce := h.engine.last(t, "book-1").isCancelled()
			assert.False(t, produce, "cancel must not ask for a token")

			// A late progress event is harmless
			h.send(port.ProgressEvent{Tag: "book-1", Session: SessionUnrestricted, BytesWritten: 200})
			h.ackCancel("book-1")
			h.checkInvariants()

			book := h.book("book-1")
			if tt.wantState == domain.BookStateDeleted {
				assert.Nil(t, book)
			} else {
				require.NotNil(t, book)
				assert.Equal(t, tt.wantState, book.State)
			}
			assert.Nil(t, h.task("book-1"))
			assert.Nil(t, h.token("book-1"))
			assert.Contains(t, h.recorder.names(), event.NameDownloadCancelled)
		})
	}
}

func TestManager_CancelWhilePauseUnacknowledged(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim", Meta4URL: "https://example.com/a.meta4"})

	h.do(h.manager.Start(context.Background(), "book-1", nil))
	h.do(h.manager.Pause(context.Background(), "book-1"))
	h.do(h.manager.Resume(context.Background(), "book-1"))
	h.do(h.manager.Cancel(context.Background(), "book-1"))

	// The engine still honours the first cancel and produces a token
	token := h.ackCancel("book-1")
	require.NotNil(t, token)
	h.checkInvariants()

	assert.Nil(t, h.token("book-1"), "token of a cancelled download must be dropped")
	assert.Len(t, h.engine.transfersFor("book-1"), 1, "cancel clears the deferred resume")
	assert.Equal(t, domain.BookStateRemote, h.book("book-1").State)
}

func TestManager_PauseWhilePausedIsHarmless(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	h.do(h.manager.Pause(context.Background(), "book-1"))
	h.checkInvariants()
	assert.Nil(t, h.task("book-1"))
	assert.NotContains(t, h.recorder.names(), event.NameDownloadPaused)
}

func TestManager_FlushPersistsProgress(t *testing.T) {
	cfg := testConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	h := newHarness(t, cfg)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	h.do(h.manager.Start(context.Background(), "book-1", nil))
	h.progress("book-1", 1000)
	h.progress("book-1", 4096)

	require.Eventually(t, func() bool {
		task := h.task("book-1")
		return task != nil && task.TotalBytesWritten == 4096
	}, 5*time.Second, 10*time.Millisecond)
	h.checkInvariants()
}

func TestManager_FlushTickerFollowsActiveSet(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "a", URL: "https://example.com/a.zim"})
	h.seed(&domain.Book{ID: "b", URL: "https://example.com/b.zim"})

	assert.False(t, h.snapshot().FlushArmed)

	h.do(h.manager.Start(context.Background(), "a", nil))
	h.checkInvariants()
	h.do(h.manager.Start(context.Background(), "b", nil))
	h.checkInvariants()

	h.finish("a", "a.zim", "A")
	h.checkInvariants()
	assert.True(t, h.snapshot().FlushArmed)

	h.do(h.manager.Pause(context.Background(), "b"))
	h.checkInvariants()
	assert.False(t, h.snapshot().FlushArmed)

	h.ackCancel("b")
	h.do(h.manager.Resume(context.Background(), "b"))
	h.checkInvariants()
	assert.True(t, h.snapshot().FlushArmed)

	h.finish("b", "", "B")
	h.checkInvariants()
	assert.False(t, h.snapshot().FlushArmed)
}

func TestManager_RelocationFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim", Meta4URL: "https://example.com/a.meta4"})

	h.do(h.manager.Start(context.Background(), "book-1", nil))
	transfer := h.engine.last(t, "book-1")

	// The payload is missing from its temp location
	h.send(port.FinishedEvent{
		Tag:        "book-1",
		Session:    transfer.session,
		Location:   filepath.Join(testTempDir, "gone.download"),
		RequestURL: transfer.url,
	})
	h.send(port.CompletedEvent{Tag: "book-1", Session: transfer.session})
	h.checkInvariants()

	assert.Equal(t, domain.BookStateRemote, h.book("book-1").State)
	assert.Nil(t, h.task("book-1"))
	assert.Contains(t, h.recorder.names(), event.NameDownloadFailed)
	assert.NotContains(t, h.recorder.names(), event.NameDownloadCompleted)

	select {
	case n := <-h.notifier.sent:
		t.Fatalf("unexpected notification %+v", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_NotificationPreference(t *testing.T) {
	h := newHarness(t, nil)
	h.prefs.set(false)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	h.do(h.manager.Start(context.Background(), "book-1", nil))
	h.finish("book-1", "a.zim", "A")
	assert.Equal(t, domain.BookStateLocal, h.book("book-1").State)

	select {
	case n := <-h.notifier.sent:
		t.Fatalf("notification sent with preference off: %+v", n)
	case <-time.After(50 * time.Millisecond):
	}

	// The preference is read at completion time
	h.prefs.set(true)
	h.seed(&domain.Book{ID: "book-2", URL: "https://example.com/b.zim"})
	h.do(h.manager.Start(context.Background(), "book-2", nil))
	h.finish("book-2", "b.zim", "B")

	select {
	case n := <-h.notifier.sent:
		assert.Equal(t, "book-2", n.bookID)
		assert.Equal(t, domain.DefaultBookTitle, n.title)
		assert.Equal(t, "1 B", n.size, "undeclared size falls back to the file on disk")
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after preference turned on")
	}
}

func TestManager_TransientFailureAutoResumes(t *testing.T) {
	cfg := testConfig()
	cfg.AutoResumeAttempts = 1
	h := newHarness(t, cfg)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	h.do(h.manager.Start(context.Background(), "book-1", nil))
	h.progress("book-1", 300)

	transient := domain.NewRetryableError(errors.New("connection reset"), 0)
	h.send(port.CompletedEvent{Tag: "book-1", Session: SessionUnrestricted, Err: transient, ResumeToken: []byte("partial")})

	require.Eventually(t, func() bool {
		return len(h.engine.transfersFor("book-1")) == 2
	}, 5*time.Second, 5*time.Millisecond)
	h.checkInvariants()

	assert.Equal(t, []byte("partial"), h.engine.last(t, "book-1").token)
	assert.Equal(t, domain.TaskStateQueued, h.task("book-1").State)

	// Attempts are exhausted: the second failure leaves the book paused
	h.send(port.CompletedEvent{Tag: "book-1", Session: SessionUnrestricted, Err: transient, ResumeToken: []byte("partial-2")})
	time.Sleep(50 * time.Millisecond)
	h.checkInvariants()

	assert.Len(t, h.engine.transfersFor("book-1"), 2)
	assert.Equal(t, domain.TaskStatePaused, h.task("book-1").State)
	assert.Equal(t, []byte("partial-2"), h.token("book-1"))
}

func TestManager_AutoResumeHonoursRetryAfter(t *testing.T) {
	cfg := testConfig()
	cfg.AutoResumeAttempts = 1
	h := newHarness(t, cfg)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	h.do(h.manager.Start(context.Background(), "book-1", nil))
	h.progress("book-1", 300)

	throttled := domain.NewRetryableError(errors.New("unexpected status: 429 Too Many Requests"), time.Hour)
	h.send(port.CompletedEvent{Tag: "book-1", Session: SessionUnrestricted, Err: throttled, ResumeToken: []byte("partial")})

	// The auto-resume delay alone would have fired by now
	time.Sleep(100 * time.Millisecond)
	h.checkInvariants()

	assert.Len(t, h.engine.transfersFor("book-1"), 1)
	assert.Equal(t, domain.TaskStatePaused, h.task("book-1").State)

	// An explicit resume does not wait for the server's hint
	h.do(h.manager.Resume(context.Background(), "book-1"))
	require.Eventually(t, func() bool {
		return len(h.engine.transfersFor("book-1")) == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("partial"), h.engine.last(t, "book-1").token)
}

func TestManager_FailureWithoutToken(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantState domain.TaskState
	}{
		{
			name:      "transient failure stays queued for the reconciler",
			err:       domain.NewRetryableError(errors.New("timeout"), 0),
			wantState: domain.TaskStateDownloading,
		},
		{
			name:      "permanent failure is paused",
			err:       errors.New("unexpected status: 404 Not Found"),
			wantState: domain.TaskStatePaused,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

			h.do(h.manager.Start(context.Background(), "book-1", nil))
			h.progress("book-1", 10)
			h.send(port.CompletedEvent{Tag: "book-1", Session: SessionUnrestricted, Err: tt.err})
			h.checkInvariants()

			assert.Equal(t, tt.wantState, h.task("book-1").State)
			assert.Nil(t, h.token("book-1"))
			assert.Empty(t, h.snapshot().Active)
			assert.Contains(t, h.recorder.names(), event.NameDownloadFailed)

			_, finished := h.activity.counts()
			assert.Equal(t, 1, finished)
		})
	}
}

func TestManager_Recover(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "fresh", URL: "https://example.com/a.zim"})
	h.seed(&domain.Book{ID: "partial", URL: "https://example.com/b.zim"})
	h.seed(&domain.Book{ID: "paused", URL: "https://example.com/c.zim"})

	// State left behind by a previous process
	require.NoError(t, h.store.BeginDownload("fresh"))
	require.NoError(t, h.store.BeginDownload("partial"))
	require.NoError(t, h.store.SetResumeToken("partial", []byte("saved")))
	require.NoError(t, h.store.BeginDownload("paused"))
	require.NoError(t, h.store.PauseDownload("paused"))

	for _, id := range []string{"fresh", "partial", "paused", "unknown"} {
		h.do(h.manager.Recover(context.Background(), id))
	}
	h.checkInvariants()

	require.Len(t, h.engine.transfersFor("fresh"), 1)
	assert.Nil(t, h.engine.last(t, "fresh").token)

	require.Len(t, h.engine.transfersFor("partial"), 1)
	assert.Equal(t, []byte("saved"), h.engine.last(t, "partial").token)

	assert.Empty(t, h.engine.transfersFor("paused"), "paused tasks wait for the user")

	// Recovering an active book is a no-op
	h.do(h.manager.Recover(context.Background(), "fresh"))
	h.checkInvariants()
	assert.Len(t, h.engine.transfersFor("fresh"), 1)
}

func TestManager_ShutdownSavesResumeTokens(t *testing.T) {
	cfg := testConfig()
	cfg.ShutdownTimeout = 5 * time.Second
	h := newHarness(t, cfg)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	h.do(h.manager.Start(context.Background(), "book-1", nil))
	h.progress("book-1", 2048)

	h.cancel()

	transfer := h.engine.last(t, "book-1")
	require.Eventually(t, func() bool {
		cancelled, produce := transfer.isCancelled()
		return cancelled && produce
	}, 5*time.Second, 5*time.Millisecond)

	h.send(port.CompletedEvent{Tag: "book-1", Session: transfer.session, Err: port.ErrCancelled, ResumeToken: []byte("shutdown")})
	h.stop()

	assert.Equal(t, []byte("shutdown"), h.token("book-1"))
	task := h.task("book-1")
	require.NotNil(t, task)
	assert.True(t, task.NeedsTransfer(), "shutdown leaves the task for the reconciler")
	assert.EqualValues(t, 2048, task.TotalBytesWritten)

	assert.True(t, h.engine.session(SessionRestricted).isClosed())
	assert.True(t, h.engine.session(SessionUnrestricted).isClosed())

	err := h.manager.Start(context.Background(), "book-1", nil)
	assert.ErrorIs(t, err, domain.ErrManagerStopped)
	_, err = h.manager.Snapshot(context.Background())
	assert.ErrorIs(t, err, domain.ErrManagerStopped)
}

func TestManager_BackgroundCompletionHandler(t *testing.T) {
	h := newHarness(t, nil)
	h.seed(&domain.Book{ID: "a", URL: "https://example.com/a.zim"})
	h.seed(&domain.Book{ID: "b", URL: "https://example.com/b.zim"})

	calls := make(chan string, 4)

	// An idle session runs the handler at once
	h.do(h.manager.SetBackgroundCompletionHandler(context.Background(), SessionRestricted, func() { calls <- SessionRestricted }))
	h.snapshot()
	assert.Equal(t, SessionRestricted, <-calls)

	h.do(h.manager.Start(context.Background(), "a", nil))
	h.do(h.manager.Start(context.Background(), "b", nil))
	h.do(h.manager.SetBackgroundCompletionHandler(context.Background(), SessionUnrestricted, func() { calls <- SessionUnrestricted }))

	h.finish("a", "a.zim", "A")
	assert.Empty(t, calls, "handler must wait for every transfer of the session")

	h.finish("b", "b.zim", "B")
	h.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, SessionUnrestricted, <-calls)

	// The handler runs once
	h.do(h.manager.Start(context.Background(), "a", nil))
	h.finish("a", "a.zim", "A")
	h.snapshot()
	assert.Empty(t, calls)
}

func TestManager_EventsForUnknownBooks(t *testing.T) {
	h := newHarness(t, nil)

	h.send(port.ProgressEvent{Tag: "ghost", Session: SessionRestricted, BytesWritten: 10})
	h.send(port.CompletedEvent{Tag: "ghost", Session: SessionRestricted, Err: port.ErrCancelled})
	h.checkInvariants()

	_, finished := h.activity.counts()
	assert.Equal(t, 1, finished)
	assert.Empty(t, h.recorder.names())
}

func TestDestinationFilename(t *testing.T) {
	tests := []struct {
		name       string
		suggested  string
		requestURL string
		want       string
	}{
		{"suggested name wins", "server.zim", "https://example.com/files/url.zim", "server.zim"},
		{"last url path component", "", "https://example.com/files/url.zim?sig=abc", "url.zim"},
		{"no path falls back to book id", "", "https://example.com", "book-1"},
		{"root path falls back to book id", "", "https://example.com/", "book-1"},
		{"unparsable url falls back to book id", "", "://bad", "book-1"},
		{"empty url falls back to book id", "", "", "book-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := destinationFilename(tt.suggested, tt.requestURL, "book-1"); got != tt.want {
				t.Errorf("destinationFilename() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestManager_CommandsQueuedBeforeRun(t *testing.T) {
	h := newIdleHarness(t, nil)
	h.seed(&domain.Book{ID: "book-1", URL: "https://example.com/a.zim"})

	require.NoError(t, h.manager.Start(context.Background(), "book-1", nil))
	assert.Empty(t, h.engine.transfersFor("book-1"))

	h.run()
	h.sync()
	h.checkInvariants()

	assert.Len(t, h.engine.transfersFor("book-1"), 1, "a command accepted before Run executes once the loop starts")
	assert.Equal(t, domain.TaskStateQueued, h.task("book-1").State)
}

func TestManager_AutoResumeAfterStopIsLogged(t *testing.T) {
	h := newHarness(t, nil)
	h.stop()

	core, logs := observer.New(zap.DebugLevel)
	h.manager.logger = zap.New(core)
	h.manager.scheduleRetry("book-1", time.Millisecond)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("automatic resume dropped").Len() == 1
	}, 5*time.Second, 5*time.Millisecond)

	entry := logs.FilterMessage("automatic resume dropped").All()[0]
	assert.Equal(t, "book-1", entry.ContextMap()["book_id"])
	assert.Equal(t, domain.ErrManagerStopped.Error(), entry.ContextMap()["error"])
	assert.Empty(t, h.engine.transfersFor("book-1"))
}
