package core

import (
	"context"
	"time"

	"github.com/ajitpratap0/nebula-sheets/pkg/models"
)

// ConnectorType represents the type of connector
type ConnectorType string

const (
	ConnectorTypeSource ConnectorType = "source"
	ConnectorTypeSink   ConnectorType = "sink"
)

// Message is one item pulled from a stream source. Payload holds the raw
// record bytes; Offset is a source-specific position used only for logging.
type Message struct {
	Payload   []byte
	Offset    string
	Timestamp time.Time

	// Handle is owned by the source that produced the message and is used to
	// acknowledge it.
	Handle interface{}
}

// Source is an ordered stream of messages.
//
// Next blocks until a message is available, the context is done, or the
// stream ends. End of stream is reported as io.EOF. Any other error is a
// failure of the source itself.
type Source interface {
	Next(ctx context.Context) (*Message, error)
	// Ack marks a message as processed. A message that is never acked may be
	// delivered again after a restart.
	Ack(ctx context.Context, msg *Message) error
	Close() error
}

// Sink opens connections to the remote write endpoint.
type Sink interface {
	// Connect performs a single connection attempt. Configuration problems are
	// returned as errors.ErrorTypeConfig; everything else is a connect failure.
	Connect(ctx context.Context) (Connection, error)
}

// Connection is an established, exclusively owned link to the remote endpoint.
type Connection interface {
	// Deliver sends one record. Remote failures come back as a rejected
	// Outcome; the error return is reserved for misuse of the connection.
	Deliver(ctx context.Context, record *models.Record) (Outcome, error)
	Close() error
}

// RejectReason classifies why the remote endpoint did not accept a record.
type RejectReason string

const (
	RejectTransport        RejectReason = "transport"
	RejectAuthentication   RejectReason = "authentication"
	RejectCancelled        RejectReason = "cancelled"
	RejectPayloadTooLarge  RejectReason = "payload_too_large"
	RejectMalformedRequest RejectReason = "malformed_request"
	RejectServerFailure    RejectReason = "server_failure"
	RejectResponseDecode   RejectReason = "response_decode"
)

// ConnectionLost reports whether the rejection suggests the connection itself
// is no longer usable.
func (r RejectReason) ConnectionLost() bool {
	return r == RejectTransport || r == RejectAuthentication
}

// Outcome is the result of one Deliver call.
type Outcome struct {
	Delivered bool

	// set when Delivered
	Status       int
	UpdatedRange string
	UpdatedRows  int64
	UpdatedCells int64

	// set when rejected
	Reason RejectReason
	Err    error
}

// Delivered builds a successful outcome.
func Delivered(status int, updatedRange string, rows, cells int64) Outcome {
	return Outcome{Delivered: true, Status: status, UpdatedRange: updatedRange, UpdatedRows: rows, UpdatedCells: cells}
}

// Rejected builds a rejected outcome.
func Rejected(reason RejectReason, err error) Outcome {
	return Outcome{Reason: reason, Err: err}
}

// RateLimiter provides rate limiting capabilities
type RateLimiter interface {
	Allow() bool
	Wait(ctx context.Context) error
}

// ConnectorMetadata describes a registered source or sink
type ConnectorMetadata struct {
	Name        string        `json:"name"`
	Type        ConnectorType `json:"type"`
	Description string        `json:"description"`
}
