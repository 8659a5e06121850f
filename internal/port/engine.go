package port

import (
	"errors"
)

// ErrCancelled is reported in CompletedEvent.Err when a transfer was cancelled
// on request. It is a control-flow outcome, not a failure.
var ErrCancelled = errors.New("transfer cancelled")

// SessionConfig configures a long-lived transfer session
type SessionConfig struct {
	// Identifier is unique per engine and round-trips in every event
	Identifier string

	// AllowRestrictedTransport permits the metered/restricted transport
	AllowRestrictedTransport bool

	// Discretionary lets the engine defer transfers; false starts them promptly
	Discretionary bool
}

// Engine is the background transfer mechanism.
// Every session delivers its events on the single Events channel.
type Engine interface {
	NewSession(cfg SessionConfig) (Session, error)
	Events() <-chan Event
}

// Session issues transfers under one SessionConfig
type Session interface {
	Identifier() string

	// NewTransfer starts downloading url; tag round-trips in events
	NewTransfer(tag, url string) (Transfer, error)

	// NewTransferWithResumeToken continues a transfer from a token produced by a cancel
	NewTransferWithResumeToken(tag string, token []byte) (Transfer, error)

	Close() error
}

// Transfer is a handle to one in-flight transfer
type Transfer interface {
	Tag() string

	// Cancel stops the transfer. The engine acknowledges with a CompletedEvent
	// whose Err is ErrCancelled, carrying a resume token if one was requested.
	Cancel(produceResumeToken bool)
}

// Event is delivered by the engine for a tagged transfer
type Event interface {
	EventTag() string
	EventSession() string
}

// ProgressEvent reports bytes written so far
type ProgressEvent struct {
	Tag           string
	Session       string
	BytesWritten  int64
	TotalExpected int64 // -1 when unknown
}

// FinishedEvent reports that the payload is complete in a temporary location.
// It is always followed by a CompletedEvent with a nil Err.
type FinishedEvent struct {
	Tag               string
	Session           string
	Location          string
	SuggestedFilename string
	RequestURL        string
}

// CompletedEvent is the last event for a transfer, whatever the outcome
type CompletedEvent struct {
	Tag         string
	Session     string
	Err         error
	ResumeToken []byte
}

func (e ProgressEvent) EventTag() string      { return e.Tag }
func (e ProgressEvent) EventSession() string  { return e.Session }
func (e FinishedEvent) EventTag() string      { return e.Tag }
func (e FinishedEvent) EventSession() string  { return e.Session }
func (e CompletedEvent) EventTag() string     { return e.Tag }
func (e CompletedEvent) EventSession() string { return e.Session }

// Cancelled reports whether the transfer ended because it was cancelled
func (e CompletedEvent) Cancelled() bool {
	return errors.Is(e.Err, ErrCancelled)
}
