package downloader

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"github.com/vertextoedge/book-downloader/internal/adapter/filesystem"
	"github.com/vertextoedge/book-downloader/internal/adapter/sqlite"
	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/domain/event"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

const (
	testDocumentsDir = "/docs"
	testTempDir      = "/tmp/transfers"
)

// fakeEngine hands transfers to the test, which emits their events by hand
type fakeEngine struct {
	events chan port.Event

	mu        sync.Mutex
	sessions  map[string]*fakeSession
	transfers []*fakeTransfer
	tokens    int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		events:   make(chan port.Event),
		sessions: make(map[string]*fakeSession),
	}
}

func (e *fakeEngine) NewSession(cfg port.SessionConfig) (port.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.sessions[cfg.Identifier]; ok {
		return nil, domain.ErrAlreadyExists
	}
	s := &fakeSession{engine: e, config: cfg}
	e.sessions[cfg.Identifier] = s
	return s, nil
}

func (e *fakeEngine) Events() <-chan port.Event {
	return e.events
}

func (e *fakeEngine) add(s *fakeSession, tag, url string, token []byte) *fakeTransfer {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := &fakeTransfer{tag: tag, session: s.config.Identifier, url: url, token: token}
	e.transfers = append(e.transfers, t)
	return t
}

func (e *fakeEngine) session(id string) *fakeSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[id]
}

// transfersFor returns every transfer issued for tag, oldest first
func (e *fakeEngine) transfersFor(tag string) []*fakeTransfer {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []*fakeTransfer
	for _, t := range e.transfers {
		if t.tag == tag {
			out = append(out, t)
		}
	}
	return out
}

func (e *fakeEngine) last(tb testing.TB, tag string) *fakeTransfer {
	tb.Helper()
	transfers := e.transfersFor(tag)
	require.NotEmpty(tb, transfers, "no transfer issued for %s", tag)
	return transfers[len(transfers)-1]
}

// liveTags returns tags with an un-cancelled, uncompleted transfer, sorted
func (e *fakeEngine) liveTags() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	seen := make(map[string]bool)
	for _, t := range e.transfers {
		if t.live() {
			seen[t.tag] = true
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// runningCount counts transfers for tag the engine still runs, cancelled or not
func (e *fakeEngine) runningCount(tag string) int {
	count := 0
	for _, t := range e.transfersFor(tag) {
		if !t.isCompleted() {
			count++
		}
	}
	return count
}

func (e *fakeEngine) nextToken() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens++
	return []byte("token-" + string(rune('0'+e.tokens)))
}

type fakeSession struct {
	engine *fakeEngine
	config port.SessionConfig

	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) Identifier() string {
	return s.config.Identifier
}

func (s *fakeSession) NewTransfer(tag, url string) (port.Transfer, error) {
	return s.engine.add(s, tag, url, nil), nil
}

func (s *fakeSession) NewTransferWithResumeToken(tag string, token []byte) (port.Transfer, error) {
	if string(token) == "corrupt" {
		return nil, domain.ErrInvalidInput
	}
	return s.engine.add(s, tag, "", token), nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeTransfer struct {
	tag     string
	session string
	url     string
	token   []byte

	mu           sync.Mutex
	cancelled    bool
	produceToken bool
	cancelCalls  int
	completed    bool
}

func (t *fakeTransfer) Tag() string {
	return t.tag
}

func (t *fakeTransfer) Cancel(produceResumeToken bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelCalls++
	if !t.cancelled {
		t.cancelled = true
		t.produceToken = produceResumeToken
	}
}

func (t *fakeTransfer) live() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.cancelled && !t.completed
}

func (t *fakeTransfer) isCancelled() (bool, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled, t.produceToken
}

func (t *fakeTransfer) isCompleted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

func (t *fakeTransfer) markCompleted() {
	t.mu.Lock()
	t.completed = true
	t.mu.Unlock()
}

type fakeActivity struct {
	mu       sync.Mutex
	started  []string
	finished []string
}

func (a *fakeActivity) TaskStarted(bookID string) {
	a.mu.Lock()
	a.started = append(a.started, bookID)
	a.mu.Unlock()
}

func (a *fakeActivity) TaskFinished(bookID string) {
	a.mu.Lock()
	a.finished = append(a.finished, bookID)
	a.mu.Unlock()
}

func (a *fakeActivity) counts() (int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.started), len(a.finished)
}

type notification struct {
	bookID, title, size string
}

type fakeNotifier struct {
	sent chan notification
}

func (n *fakeNotifier) DownloadFinished(ctx context.Context, bookID, title, sizeDescription string) error {
	n.sent <- notification{bookID: bookID, title: title, size: sizeDescription}
	return nil
}

type fakePrefs struct {
	mu      sync.Mutex
	enabled bool
}

func (p *fakePrefs) DownloadFinishedNotifications() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

func (p *fakePrefs) set(enabled bool) {
	p.mu.Lock()
	p.enabled = enabled
	p.mu.Unlock()
}

type recordingHandler struct {
	mu     sync.Mutex
	events []event.DomainEvent
}

func (r *recordingHandler) Handle(e event.DomainEvent) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *recordingHandler) HandledEvents() []string {
	return []string{"*"}
}

func (r *recordingHandler) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, e := range r.events {
		names = append(names, e.EventName())
	}
	return names
}

type harness struct {
	t        *testing.T
	manager  *Manager
	engine   *fakeEngine
	store    *sqlite.Store
	fs       afero.Fs
	activity *fakeActivity
	notifier *fakeNotifier
	prefs    *fakePrefs
	recorder *recordingHandler

	cancel  context.CancelFunc
	stopped chan struct{}
}

func testConfig() *Config {
	return &Config{
		SizeThreshold:   domain.DefaultSizeThreshold,
		FlushInterval:   time.Hour,
		AutoResumeDelay: 10 * time.Millisecond,
		ShutdownTimeout: 50 * time.Millisecond,
		NotifyTimeout:   time.Second,
	}
}

func newHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()
	h := newIdleHarness(t, cfg)
	h.run()
	return h
}

// newIdleHarness builds the manager and its fakes without starting the loop
func newIdleHarness(t *testing.T, cfg *Config) *harness {
	t.Helper()

	if cfg == nil {
		cfg = testConfig()
	}

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "books.db"))
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	files, err := filesystem.NewManager(fs, testDocumentsDir, testTempDir)
	require.NoError(t, err)

	h := &harness{
		t:        t,
		engine:   newFakeEngine(),
		store:    store,
		fs:       fs,
		activity: &fakeActivity{},
		notifier: &fakeNotifier{sent: make(chan notification, 8)},
		prefs:    &fakePrefs{enabled: true},
		recorder: &recordingHandler{},
		stopped:  make(chan struct{}),
	}

	dispatcher := event.NewInMemoryDispatcher(false, zap.NewNop())
	dispatcher.Subscribe(h.recorder)

	h.manager, err = New(cfg, store, h.engine, files, h.activity, h.notifier, h.prefs, dispatcher, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		h.stop()
		store.Close()
	})

	return h
}

// run starts the manager loop
func (h *harness) run() {
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.stopped)
		h.manager.Run(ctx)
	}()
}

// stop stops the manager and waits for Run to return
func (h *harness) stop() {
	if h.cancel == nil {
		return
	}
	h.cancel()
	select {
	case <-h.stopped:
	case <-time.After(5 * time.Second):
		h.t.Fatal("manager did not stop")
	}
}

func (h *harness) seed(book *domain.Book) {
	h.t.Helper()
	require.NoError(h.t, h.store.UpsertBook(book))
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := h.manager.Snapshot(ctx)
	require.NoError(h.t, err)
	return s
}

// sync returns once the loop has run everything queued before the call.
// Commands and events are handled in order on one goroutine, so a
// snapshot round trip is a barrier.
func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := h.manager.Snapshot(ctx); err != nil && !errors.Is(err, domain.ErrManagerStopped) {
		require.NoError(h.t, err)
	}
}

// do checks the result of a manager command and waits for the loop to run it
func (h *harness) do(err error) {
	h.t.Helper()
	require.NoError(h.t, err)
	h.sync()
}

// send delivers an engine event and waits until the loop has handled it
func (h *harness) send(ev port.Event) {
	h.t.Helper()

	if c, ok := ev.(port.CompletedEvent); ok {
		if transfers := h.engine.transfersFor(c.Tag); len(transfers) > 0 {
			for _, t := range transfers {
				if !t.isCompleted() {
					t.markCompleted()
					break
				}
			}
		}
	}

	select {
	case h.engine.events <- ev:
	case <-time.After(5 * time.Second):
		h.t.Fatalf("engine event %T for %s not consumed", ev, ev.EventTag())
	}
	h.sync()
}

func (h *harness) progress(bookID string, bytesWritten int64) {
	h.t.Helper()
	t := h.engine.last(h.t, bookID)
	h.send(port.ProgressEvent{Tag: bookID, Session: t.session, BytesWritten: bytesWritten, TotalExpected: -1})
}

// finish writes payload to the temp location and reports success
func (h *harness) finish(bookID, suggested, payload string) string {
	h.t.Helper()
	t := h.engine.last(h.t, bookID)

	location := filepath.Join(testTempDir, bookID+port.TempFileExt)
	require.NoError(h.t, afero.WriteFile(h.fs, location, []byte(payload), 0644))

	h.send(port.FinishedEvent{
		Tag:               bookID,
		Session:           t.session,
		Location:          location,
		SuggestedFilename: suggested,
		RequestURL:        t.url,
	})
	h.send(port.CompletedEvent{Tag: bookID, Session: t.session})
	return location
}

// ackCancel acknowledges the pending cancel of bookID's oldest running
// transfer, with a fresh token when one was requested. Returns the token.
func (h *harness) ackCancel(bookID string) []byte {
	h.t.Helper()

	var target *fakeTransfer
	for _, t := range h.engine.transfersFor(bookID) {
		if !t.isCompleted() {
			target = t
			break
		}
	}
	require.NotNil(h.t, target, "no running transfer for %s", bookID)

	cancelled, produce := target.isCancelled()
	require.True(h.t, cancelled, "transfer for %s was not cancelled", bookID)

	var token []byte
	if produce {
		token = h.engine.nextToken()
	}
	h.send(port.CompletedEvent{Tag: bookID, Session: target.session, Err: port.ErrCancelled, ResumeToken: token})
	return token
}

func (h *harness) book(id string) *domain.Book {
	h.t.Helper()
	b, err := h.store.GetBook(id)
	require.NoError(h.t, err)
	return b
}

func (h *harness) task(id string) *domain.DownloadTask {
	h.t.Helper()
	task, err := h.store.GetTask(id)
	require.NoError(h.t, err)
	return task
}

func (h *harness) token(id string) []byte {
	h.t.Helper()
	token, err := h.store.GetResumeToken(id)
	require.NoError(h.t, err)
	return token
}

// checkInvariants asserts the properties that must hold between operations
func (h *harness) checkInvariants() {
	h.t.Helper()
	s := h.snapshot()

	// Active set ⇔ live un-cancelled transfer
	active := make([]string, 0, len(s.Active))
	for id := range s.Active {
		active = append(active, id)
	}
	sort.Strings(active)
	require.Equal(h.t, h.engine.liveTags(), active, "active set must match live transfers")

	// Flush ticker ⇔ non-empty active set
	require.Equal(h.t, len(s.Active) > 0, s.FlushArmed, "flush ticker must run exactly while transfers are active")

	// Task ⇔ book downloading
	books, err := h.store.ListBooks()
	require.NoError(h.t, err)
	for _, b := range books {
		task := h.task(b.ID)
		require.Equal(h.t, b.State == domain.BookStateDownloading, task != nil,
			"book %s in state %s, task present: %v", b.ID, b.State, task != nil)
	}

	// Never two running transfers per tag
	for _, id := range h.engine.liveTags() {
		require.LessOrEqual(h.t, h.engine.runningCount(id), 1, "two running transfers for %s", id)
	}
}

func boolPtr(v bool) *bool {
	return &v
}
