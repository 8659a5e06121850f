package downloader

import (
	"errors"
	"fmt"
	"sort"

	"github.com/vertextoedge/book-downloader/internal/domain"
	"github.com/vertextoedge/book-downloader/internal/port"
	"go.uber.org/zap"
)

// Session identifiers; they round-trip in every engine event
const (
	SessionRestricted   = "restricted"
	SessionUnrestricted = "unrestricted"
)

type poolEntry struct {
	transfer   port.Transfer
	session    string
	cancelling bool
	keepToken  bool
}

// Pool owns the two transfer sessions and indexes live transfers by tag.
// It is not safe for concurrent use; the Manager loop owns it.
type Pool struct {
	restricted   port.Session
	unrestricted port.Session
	transfers    map[string]*poolEntry
	logger       *zap.Logger
}

// NewPool creates both sessions on engine. Neither is discretionary.
func NewPool(engine port.Engine, logger *zap.Logger) (*Pool, error) {
	restricted, err := engine.NewSession(port.SessionConfig{
		Identifier:               SessionRestricted,
		AllowRestrictedTransport: false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create %s session: %w", SessionRestricted, err)
	}

	unrestricted, err := engine.NewSession(port.SessionConfig{
		Identifier:               SessionUnrestricted,
		AllowRestrictedTransport: true,
	})
	if err != nil {
		restricted.Close()
		return nil, fmt.Errorf("failed to create %s session: %w", SessionUnrestricted, err)
	}

	return &Pool{
		restricted:   restricted,
		unrestricted: unrestricted,
		transfers:    make(map[string]*poolEntry),
		logger:       logger,
	}, nil
}

func (p *Pool) session(policy domain.TransferPolicy) port.Session {
	if policy == domain.PolicyUnrestricted {
		return p.unrestricted
	}
	return p.restricted
}

// StartTransfer issues a new transfer tagged bookID and returns its session id
func (p *Pool) StartTransfer(bookID, url string, policy domain.TransferPolicy) (string, error) {
	if _, exists := p.transfers[bookID]; exists {
		return "", domain.ErrAlreadyActive
	}

	s := p.session(policy)
	t, err := s.NewTransfer(bookID, url)
	if err != nil {
		return "", fmt.Errorf("failed to start transfer: %w", err)
	}

	p.transfers[bookID] = &poolEntry{transfer: t, session: s.Identifier()}
	return s.Identifier(), nil
}

// ResumeTransfer re-issues a transfer from token and returns its session id
func (p *Pool) ResumeTransfer(bookID string, token []byte, policy domain.TransferPolicy) (string, error) {
	if _, exists := p.transfers[bookID]; exists {
		return "", domain.ErrAlreadyActive
	}

	s := p.session(policy)
	t, err := s.NewTransferWithResumeToken(bookID, token)
	if err != nil {
		return "", fmt.Errorf("failed to resume transfer: %w", err)
	}

	p.transfers[bookID] = &poolEntry{transfer: t, session: s.Identifier()}
	return s.Identifier(), nil
}

// CancelTransfer cancels the transfer tagged bookID. Unknown tags are a no-op
// and report false. A later cancel without a token overrides an earlier one
// that asked for a token.
func (p *Pool) CancelTransfer(bookID string, produceResumeToken bool) bool {
	e, ok := p.transfers[bookID]
	if !ok {
		return false
	}

	if e.cancelling {
		if !produceResumeToken {
			e.keepToken = false
		}
		return true
	}

	e.cancelling = true
	e.keepToken = produceResumeToken
	e.transfer.Cancel(produceResumeToken)
	return true
}

// Has reports a live, un-cancelled transfer tagged bookID
func (p *Pool) Has(bookID string) bool {
	e, ok := p.transfers[bookID]
	return ok && !e.cancelling
}

// IsCancelling reports a cancelled transfer the engine has not acknowledged yet
func (p *Pool) IsCancelling(bookID string) bool {
	e, ok := p.transfers[bookID]
	return ok && e.cancelling
}

// DiscardsToken reports whether a resume token for bookID must be dropped
func (p *Pool) DiscardsToken(bookID string) bool {
	e, ok := p.transfers[bookID]
	return ok && e.cancelling && !e.keepToken
}

// Release drops the index entry once the engine reports completion
func (p *Pool) Release(bookID string) {
	delete(p.transfers, bookID)
}

// SessionIdle reports whether no transfer remains on the session
func (p *Pool) SessionIdle(sessionID string) bool {
	for _, e := range p.transfers {
		if e.session == sessionID {
			return false
		}
	}
	return true
}

// Sessions returns the session of every live, un-cancelled transfer by tag
func (p *Pool) Sessions() map[string]string {
	sessions := make(map[string]string, len(p.transfers))
	for tag, e := range p.transfers {
		if !e.cancelling {
			sessions[tag] = e.session
		}
	}
	return sessions
}

// Tags returns the tags of every transfer the pool still tracks, sorted
func (p *Pool) Tags() []string {
	tags := make([]string, 0, len(p.transfers))
	for tag := range p.transfers {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Close closes both sessions
func (p *Pool) Close() error {
	return errors.Join(p.restricted.Close(), p.unrestricted.Close())
}
