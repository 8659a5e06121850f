package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/domain/event"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

// Config contains download manager configuration
type Config struct {
	// SizeThreshold is the size above which books default to the restricted session
	SizeThreshold int64

	// FlushInterval is how often in-memory progress is persisted
	FlushInterval time.Duration

	// AutoResumeAttempts is how many times a transient failure is resumed
	// automatically; 0 leaves recovery to the maintenance reconciler
	AutoResumeAttempts int

	// AutoResumeDelay is the wait before an automatic resume
	AutoResumeDelay time.Duration

	// ShutdownTimeout bounds the wait for resume tokens on shutdown
	ShutdownTimeout time.Duration

	// NotifyTimeout bounds one completion notification
	NotifyTimeout time.Duration

	// CommandBuffer is the command queue capacity
	CommandBuffer int
}

// DefaultConfig returns default download manager configuration
func DefaultConfig() *Config {
	return &Config{
		SizeThreshold:   domain.DefaultSizeThreshold,
		FlushInterval:   time.Second,
		AutoResumeDelay: 30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		NotifyTimeout:   30 * time.Second,
		CommandBuffer:   64,
	}
}

// activeTransfer is one entry of the active transfer set
type activeTransfer struct {
	session      string
	bytesWritten int64
	flushedBytes int64
	downloading  bool
	startedAt    time.Time
}

// Snapshot is a point-in-time view of the manager's in-memory state
type Snapshot struct {
	// Active maps book ID to bytes written so far
	Active map[string]int64

	// Sessions maps book ID to the session carrying its live transfer
	Sessions map[string]string

	// FlushArmed reports whether the progress flush ticker is running
	FlushArmed bool
}

// Manager runs the download lifecycle. Every state change happens on the
// single goroutine running Run; the public operations only enqueue commands.
type Manager struct {
	config     *Config
	store      port.Store
	engine     port.Engine
	pool       *Pool
	fs         port.FileSystem
	activity   port.ActivityTracker
	notifier   port.Notifier
	prefs      port.Preferences
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	commands chan func()
	done     chan struct{}

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	notifyWG sync.WaitGroup

	// Owned by the Run goroutine
	active             map[string]*activeTransfer
	flushTicker        *time.Ticker
	flushC             <-chan time.Time
	pendingResume      map[string]bool
	retries            map[string]int
	retryTimers        map[string]*time.Timer
	completionHandlers map[string]func()
	shuttingDown       bool
}

// New creates a Manager and its session pool. A nil dispatcher disables events.
func New(
	cfg *Config,
	store port.Store,
	engine port.Engine,
	fs port.FileSystem,
	activity port.ActivityTracker,
	notifier port.Notifier,
	prefs port.Preferences,
	dispatcher event.EventDispatcher,
	logger *zap.Logger,
) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.AutoResumeDelay <= 0 {
		cfg.AutoResumeDelay = 30 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 30 * time.Second
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 64
	}
	if dispatcher == nil {
		dispatcher = event.NewNullDispatcher()
	}

	pool, err := NewPool(engine, logger)
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:             cfg,
		store:              store,
		engine:             engine,
		pool:               pool,
		fs:                 fs,
		activity:           activity,
		notifier:           notifier,
		prefs:              prefs,
		dispatcher:         dispatcher,
		logger:             logger,
		commands:           make(chan func(), cfg.CommandBuffer),
		done:               make(chan struct{}),
		active:             make(map[string]*activeTransfer),
		pendingResume:      make(map[string]bool),
		retries:            make(map[string]int),
		retryTimers:        make(map[string]*time.Timer),
		completionHandlers: make(map[string]func()),
	}, nil
}

// Run processes commands, engine events and flush ticks until ctx is done
// or Stop is called. On the way out it asks live transfers for resume tokens
// and stores them, leaving their tasks for the reconciler.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("download manager already running")
	}
	m.running = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.logger.Info("download manager started",
		zap.Int64("size_threshold", m.config.SizeThreshold),
		zap.Duration("flush_interval", m.config.FlushInterval),
		zap.Int("auto_resume_attempts", m.config.AutoResumeAttempts))

	m.loop(ctx)
	close(m.done)

	m.shutdown()
	m.notifyWG.Wait()

	m.logger.Info("download manager stopped")
	return nil
}

// Stop stops the manager
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Manager) loop(ctx context.Context) {
	events := m.engine.Events()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-m.commands:
			fn()
		case ev, ok := <-events:
			if !ok {
				m.logger.Warn("engine event channel closed")
				events = nil
				continue
			}
			m.handleEvent(ev)
		case <-m.flushC:
			m.flush()
		}
	}
}

func (m *Manager) shutdown() {
	m.shuttingDown = true
	for bookID, timer := range m.retryTimers {
		timer.Stop()
		delete(m.retryTimers, bookID)
	}
	clear(m.pendingResume)

	m.flush()

	if len(m.active) > 0 {
		m.logger.Info("saving resume tokens for live transfers", zap.Int("count", len(m.active)))

		for bookID := range m.active {
			m.pool.CancelTransfer(bookID, true)
		}

		timeout := time.NewTimer(m.config.ShutdownTimeout)
		defer timeout.Stop()

		events := m.engine.Events()
	drain:
		for len(m.active) > 0 || len(m.pool.Tags()) > 0 {
			select {
			case ev, ok := <-events:
				if !ok {
					break drain
				}
				m.handleEvent(ev)
			case <-timeout.C:
				m.logger.Warn("shutdown timed out waiting for transfers",
					zap.Strings("book_ids", m.pool.Tags()))
				break drain
			}
		}
	}

	m.disarmFlush()
	if err := m.pool.Close(); err != nil {
		m.logger.Warn("failed to close sessions", zap.Error(err))
	}
}

// enqueue hands fn to the Run goroutine
func (m *Manager) enqueue(ctx context.Context, fn func()) error {
	select {
	case <-m.done:
		return domain.ErrManagerStopped
	default:
	}

	select {
	case m.commands <- fn:
		return nil
	case <-m.done:
		return domain.ErrManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start begins downloading a book. A nil allowUnrestricted selects the session
// by size. Starting a book that is already transferring is a logged no-op.
func (m *Manager) Start(ctx context.Context, bookID string, allowUnrestricted *bool) error {
	book, err := m.store.GetBook(bookID)
	if err != nil {
		return fmt.Errorf("failed to get book: %w", err)
	}
	if book == nil {
		return domain.ErrBookNotFound
	}
	if book.URL == "" {
		return domain.ErrNoSourceURL
	}

	var override *bool
	if allowUnrestricted != nil {
		v := *allowUnrestricted
		override = &v
	}

	return m.enqueue(ctx, func() {
		m.resetRetries(bookID)
		m.start(bookID, override)
	})
}

// Pause cancels the book's transfer asking for a resume token
func (m *Manager) Pause(ctx context.Context, bookID string) error {
	return m.enqueue(ctx, func() {
		m.resetRetries(bookID)
		m.pause(bookID)
	})
}

// Resume continues a paused book from its stored resume token.
// Without a token it does nothing.
func (m *Manager) Resume(ctx context.Context, bookID string) error {
	return m.enqueue(ctx, func() {
		m.resetRetries(bookID)
		m.resume(bookID)
	})
}

// Cancel stops the book's transfer and discards all progress
func (m *Manager) Cancel(ctx context.Context, bookID string) error {
	return m.enqueue(ctx, func() {
		m.resetRetries(bookID)
		m.cancelDownload(bookID)
	})
}

// Recover restarts a queued or downloading task that has no live transfer,
// resuming from its token when one is stored
func (m *Manager) Recover(ctx context.Context, bookID string) error {
	return m.enqueue(ctx, func() {
		task, err := m.store.GetTask(bookID)
		if err != nil {
			m.logger.Error("failed to get task", zap.String("book_id", bookID), zap.Error(err))
			return
		}
		if task == nil || !task.NeedsTransfer() {
			return
		}
		m.restartTransfer(bookID)
	})
}

// SetBackgroundCompletionHandler registers fn to run once every transfer
// of the session has delivered its completion
func (m *Manager) SetBackgroundCompletionHandler(ctx context.Context, sessionID string, fn func()) error {
	return m.enqueue(ctx, func() {
		m.completionHandlers[sessionID] = fn
		if m.pool.SessionIdle(sessionID) {
			m.runCompletionHandler(sessionID)
		}
	})
}

// Snapshot returns a copy of the manager's in-memory state
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	result := make(chan Snapshot, 1)
	if err := m.enqueue(ctx, func() { result <- m.snapshot() }); err != nil {
		return Snapshot{}, err
	}

	select {
	case s := <-result:
		return s, nil
	case <-m.done:
		return Snapshot{}, domain.ErrManagerStopped
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (m *Manager) snapshot() Snapshot {
	s := Snapshot{
		Active:     make(map[string]int64, len(m.active)),
		Sessions:   m.pool.Sessions(),
		FlushArmed: m.flushC != nil,
	}
	for bookID, entry := range m.active {
		s.Active[bookID] = entry.bytesWritten
	}
	return s
}

func (m *Manager) start(bookID string, allowUnrestricted *bool) {
	log := m.logger.With(zap.String("book_id", bookID))

	if _, ok := m.active[bookID]; ok || m.pool.Has(bookID) {
		log.Info("start ignored, transfer already active")
		return
	}
	if m.pool.IsCancelling(bookID) {
		log.Warn("start ignored, previous transfer still stopping")
		return
	}

	book, err := m.store.GetBook(bookID)
	if err != nil {
		log.Error("failed to get book", zap.Error(err))
		return
	}
	if book == nil {
		log.Warn("start ignored", zap.Error(domain.ErrBookNotFound))
		return
	}
	if book.URL == "" {
		log.Warn("start ignored", zap.Error(domain.ErrNoSourceURL))
		return
	}

	policy := domain.SelectPolicy(book.FileSize, m.config.SizeThreshold, allowUnrestricted)
	session, err := m.pool.StartTransfer(bookID, book.URL, policy)
	if err != nil {
		log.Error("failed to start transfer", zap.Stringer("policy", policy), zap.Error(err))
		return
	}

	if err := m.store.BeginDownload(bookID); err != nil {
		log.Error("failed to record download start", zap.Error(err))
		m.pool.CancelTransfer(bookID, false)
		return
	}

	m.track(bookID, session)
	log.Info("transfer started", zap.Stringer("policy", policy), zap.String("session", session))
	m.dispatcher.Dispatch(event.NewDownloadStarted(bookID, session, book.FileSize, false))
}

func (m *Manager) pause(bookID string) {
	log := m.logger.With(zap.String("book_id", bookID))
	delete(m.pendingResume, bookID)

	cancelled := m.pool.CancelTransfer(bookID, true)
	m.untrack(bookID, true)

	task, err := m.store.GetTask(bookID)
	if err != nil {
		log.Error("failed to get task", zap.Error(err))
		return
	}
	if task == nil {
		log.Debug("pause ignored, no download task", zap.Bool("cancelled_transfer", cancelled))
		return
	}

	if err := m.store.PauseDownload(bookID); err != nil {
		log.Error("failed to pause download", zap.Error(err))
		return
	}

	log.Info("transfer paused", zap.Bool("cancelled_transfer", cancelled))
	m.dispatcher.Dispatch(event.NewDownloadPaused(bookID))
}

func (m *Manager) resume(bookID string) {
	log := m.logger.With(zap.String("book_id", bookID))

	if m.pool.IsCancelling(bookID) {
		// The acknowledgement brings the newest token; resume then
		m.pendingResume[bookID] = true
		log.Debug("resume deferred until previous transfer stops")
		return
	}
	if _, ok := m.active[bookID]; ok || m.pool.Has(bookID) {
		log.Debug("resume ignored, transfer already active")
		return
	}

	token, err := m.store.GetResumeToken(bookID)
	if err != nil {
		log.Error("failed to get resume token", zap.Error(err))
		return
	}
	if token == nil {
		log.Debug("resume ignored", zap.Error(domain.ErrNoResumeToken))
		return
	}

	book, err := m.store.GetBook(bookID)
	if err != nil {
		log.Error("failed to get book", zap.Error(err))
		return
	}

	// Unknown size is treated as large
	policy := domain.PolicyRestricted
	var size int64
	if book != nil {
		size = book.FileSize
		policy = domain.SelectPolicy(size, m.config.SizeThreshold, nil)
	}

	session, err := m.pool.ResumeTransfer(bookID, token, policy)
	if err != nil {
		log.Error("failed to resume transfer", zap.Stringer("policy", policy), zap.Error(err))
		if errors.Is(err, domain.ErrInvalidInput) {
			if err := m.store.DeleteResumeToken(bookID); err != nil {
				log.Warn("failed to delete unusable resume token", zap.Error(err))
			}
		}
		return
	}

	if err := m.store.RequeueDownload(bookID); err != nil {
		log.Error("failed to record download resume", zap.Error(err))
	}

	m.track(bookID, session)
	log.Info("transfer resumed", zap.Stringer("policy", policy), zap.String("session", session))
	m.dispatcher.Dispatch(event.NewDownloadStarted(bookID, session, size, true))
}

func (m *Manager) cancelDownload(bookID string) {
	log := m.logger.With(zap.String("book_id", bookID))
	delete(m.pendingResume, bookID)

	cancelled := m.pool.CancelTransfer(bookID, false)
	m.untrack(bookID, false)

	state, err := m.store.CancelDownload(bookID)
	if err != nil {
		log.Error("failed to cancel download", zap.Error(err))
		return
	}

	log.Info("transfer cancelled",
		zap.Bool("cancelled_transfer", cancelled),
		zap.String("book_state", string(state)))
	m.dispatcher.Dispatch(event.NewDownloadCancelled(bookID, string(state)))
}

// restartTransfer resumes from a stored token, or starts afresh without one
func (m *Manager) restartTransfer(bookID string) {
	if _, ok := m.active[bookID]; ok || m.pool.Has(bookID) || m.pool.IsCancelling(bookID) {
		return
	}

	token, err := m.store.GetResumeToken(bookID)
	if err != nil {
		m.logger.Error("failed to get resume token", zap.String("book_id", bookID), zap.Error(err))
		return
	}

	if token != nil {
		m.resume(bookID)
		return
	}
	m.start(bookID, nil)
}

// track adds bookID to the active set and arms the flush ticker on the first entry
func (m *Manager) track(bookID, session string) {
	m.active[bookID] = &activeTransfer{session: session, startedAt: time.Now()}
	if len(m.active) == 1 {
		m.armFlush()
	}
	m.activity.TaskStarted(bookID)
}

// untrack removes bookID from the active set, optionally saving its last
// byte count, and disarms the flush ticker once the set is empty
func (m *Manager) untrack(bookID string, checkpoint bool) {
	entry, ok := m.active[bookID]
	if !ok {
		return
	}

	if checkpoint && entry.bytesWritten != entry.flushedBytes {
		if err := m.store.UpdateProgress(bookID, entry.bytesWritten); err != nil {
			m.logger.Warn("failed to save progress", zap.String("book_id", bookID), zap.Error(err))
		}
	}

	delete(m.active, bookID)
	if len(m.active) == 0 {
		m.disarmFlush()
	}
}

func (m *Manager) resetRetries(bookID string) {
	delete(m.retries, bookID)
	if timer, ok := m.retryTimers[bookID]; ok {
		timer.Stop()
		delete(m.retryTimers, bookID)
	}
}

// scheduleRetry restarts bookID after delay
func (m *Manager) scheduleRetry(bookID string, delay time.Duration) {
	if timer, ok := m.retryTimers[bookID]; ok {
		timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		err := m.enqueue(context.Background(), func() {
			if m.retryTimers[bookID] != timer {
				return
			}
			delete(m.retryTimers, bookID)
			m.restartTransfer(bookID)
		})
		if err != nil {
			m.logger.Debug("automatic resume dropped", zap.String("book_id", bookID), zap.Error(err))
		}
	})
	m.retryTimers[bookID] = timer
}

func (m *Manager) runCompletionHandler(sessionID string) {
	fn, ok := m.completionHandlers[sessionID]
	if !ok {
		return
	}
	delete(m.completionHandlers, sessionID)
	if fn != nil {
		fn()
	}
}
