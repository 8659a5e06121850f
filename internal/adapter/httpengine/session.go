package httpengine

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

type session struct {
	engine *Engine
	config port.SessionConfig
	logger *zap.Logger

	mu        sync.Mutex
	closed    bool
	transfers map[*transfer]struct{}
}

func (s *session) Identifier() string {
	return s.config.Identifier
}

func (s *session) NewTransfer(tag, rawURL string) (port.Transfer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported url scheme %q", domain.ErrInvalidInput, u.Scheme)
	}

	return s.launch(tag, rawURL, nil)
}

func (s *session) NewTransferWithResumeToken(tag string, token []byte) (port.Transfer, error) {
	rt, err := decodeResumeToken(token)
	if err != nil {
		return nil, err
	}

	return s.launch(tag, rt.URL, rt)
}

func (s *session) launch(tag, rawURL string, rt *resumeToken) (*transfer, error) {
	if tag == "" {
		return nil, fmt.Errorf("%w: transfer tag is required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSessionClosed
	}

	t := newTransfer(s, tag, rawURL, rt)
	s.transfers[t] = struct{}{}

	if err := s.engine.start(t); err != nil {
		delete(s.transfers, t)
		t.cancel()
		return nil, err
	}

	s.logger.Debug("transfer started",
		zap.String("tag", tag),
		zap.Bool("resumed", rt != nil))

	return t, nil
}

func (s *session) done(t *transfer) {
	s.mu.Lock()
	delete(s.transfers, t)
	s.mu.Unlock()
}

// Close stops accepting transfers and cancels the running ones with resume tokens
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	running := make([]*transfer, 0, len(s.transfers))
	for t := range s.transfers {
		running = append(running, t)
	}
	s.mu.Unlock()

	for _, t := range running {
		t.Cancel(true)
	}

	s.engine.removeSession(s.config.Identifier)
	return nil
}
