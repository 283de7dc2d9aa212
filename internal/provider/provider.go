// Package provider contains the transport adapters that deliver one email.
//
// Adapters are split into individual files:
//   - smtp.go:   raw SMTP client with connection reuse across a group
//   - ses.go:    AWS SES query API with hand-computed SigV4 signing
//   - sigv4.go:  the request signing algorithm
//   - message.go: RFC 5322 message assembly shared by connection transports
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Email is one fully-prepared outbound message: tracking is already injected
// into HTMLBody by the caller.
type Email struct {
	MessageID  uuid.UUID
	CampaignID uuid.UUID
	FromName   string
	FromEmail  string
	ToEmail    string
	Subject    string
	HTMLBody   string
	Headers    map[string]string // extra headers for connection transports
}

// SendResult contains the result of a successful send attempt.
type SendResult struct {
	MessageID string // provider-assigned or generated Message-ID
	SentAt    time.Time
}

// Adapter delivers a single email. Connection-oriented adapters also
// implement Closer and must be used sequentially; stateless adapters are
// safe for concurrent sends.
type Adapter interface {
	Send(ctx context.Context, email *Email) (*SendResult, error)
}

// Closer is implemented by adapters that hold a session open across sends.
type Closer interface {
	Close() error
}

// Mode describes an adapter's session model, which decides how the engine
// schedules sends and propagates failures within one account's group.
type Mode int

const (
	// ModeConnection: strictly sequential sends on a shared session; a
	// transport failure fails the remaining group.
	ModeConnection Mode = iota
	// ModeStateless: each send is an independent call; failures stay
	// per-message and sends may be issued concurrently.
	ModeStateless
)

// ConfigError means the account has missing or unusable transport
// credentials. The message fails immediately and no quota is consumed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "transport configuration: " + e.Reason
}

// TransportError is a connection, TLS, handshake or auth failure. For
// connection transports it fails every not-yet-attempted message in the
// account's group for this invocation.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return "transport: " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectionError is a per-message rejection by the server or API; the
// session stays usable for subsequent messages.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rejected (%s): %s", e.Code, e.Message)
	}
	return "rejected: " + e.Message
}

// IsConfig reports whether err is a configuration error.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsTransport reports whether err is a connection-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsRejection reports whether err is a per-message rejection.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}
