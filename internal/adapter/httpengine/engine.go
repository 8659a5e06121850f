package httpengine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/spf13/afero"
	"github.com/vertextoedge/book-downloader/internal/adapter/httpclient"
	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

var (
	// ErrEngineClosed is returned when the engine no longer accepts work
	ErrEngineClosed = errors.New("transfer engine closed")

	// ErrSessionClosed is returned when a closed session is asked for a transfer
	ErrSessionClosed = errors.New("transfer session closed")
)

// Config contains engine configuration
type Config struct {
	TempDir          string
	BufferSizeKB     int
	ProgressInterval time.Duration
	EventBuffer      int
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSizeKB:     256,
		ProgressInterval: 250 * time.Millisecond,
		EventBuffer:      64,
	}
}

// Engine downloads over HTTP into temp files and reports on one event channel
type Engine struct {
	config *Config
	client *retryablehttp.Client
	fs     afero.Fs
	logger *zap.Logger
	events chan port.Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
}

// Ensure Engine implements port.Engine
var _ port.Engine = (*Engine)(nil)

// New creates a new engine. A nil client gets the default retrying client.
func New(cfg *Config, client *retryablehttp.Client, fs afero.Fs, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.TempDir == "" {
		return nil, fmt.Errorf("%w: temp dir is required", domain.ErrInvalidInput)
	}
	if cfg.BufferSizeKB <= 0 {
		cfg.BufferSizeKB = 256
	}
	if cfg.EventBuffer < 0 {
		cfg.EventBuffer = 0
	}
	if client == nil {
		client = httpclient.New(nil, logger)
	}

	if err := fs.MkdirAll(cfg.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		config:   cfg,
		client:   client,
		fs:       fs,
		logger:   logger,
		events:   make(chan port.Event, cfg.EventBuffer),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}, nil
}

// NewSession creates a session; identifiers are unique per engine
func (e *Engine) NewSession(cfg port.SessionConfig) (port.Session, error) {
	if cfg.Identifier == "" {
		return nil, fmt.Errorf("%w: session identifier is required", domain.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrEngineClosed
	}
	if _, exists := e.sessions[cfg.Identifier]; exists {
		return nil, fmt.Errorf("session %q: %w", cfg.Identifier, domain.ErrAlreadyExists)
	}

	s := &session{
		engine:    e,
		config:    cfg,
		logger:    e.logger.With(zap.String("session", cfg.Identifier)),
		transfers: make(map[*transfer]struct{}),
	}
	e.sessions[cfg.Identifier] = s

	e.logger.Info("transfer session created",
		zap.String("session", cfg.Identifier),
		zap.Bool("allow_restricted_transport", cfg.AllowRestrictedTransport),
		zap.Bool("discretionary", cfg.Discretionary))

	return s, nil
}

// Events returns the channel every session reports on.
// It is closed by Close once all transfers have stopped.
func (e *Engine) Events() <-chan port.Event {
	return e.events
}

// Close aborts every transfer, waits for them and closes the event channel.
// Transfers aborted here keep their temp files.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	close(e.events)

	e.logger.Info("transfer engine closed")
	return nil
}

// start runs t on its own goroutine
func (e *Engine) start(t *transfer) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	e.wg.Add(1)
	go t.run()
	return nil
}

func (e *Engine) removeSession(id string) {
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()
}

// emit blocks until the event is consumed or the engine closes
func (e *Engine) emit(ev port.Event) {
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
		e.logger.Debug("engine closed, dropping event",
			zap.String("tag", ev.EventTag()),
			zap.String("type", fmt.Sprintf("%T", ev)))
	}
}

// tempPath is the temp file a tag downloads into
func (e *Engine) tempPath(tag string) string {
	return filepath.Join(e.config.TempDir, url.PathEscape(tag)+port.TempFileExt)
}
