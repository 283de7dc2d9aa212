package model

import (
	"time"

	"github.com/google/uuid"
)

// SMTPEncryption selects how the SMTP connection is secured.
type SMTPEncryption string

const (
	// EncryptionImplicitTLS performs the TLS handshake immediately after
	// the TCP connect, before any SMTP exchange (typically port 465).
	EncryptionImplicitTLS SMTPEncryption = "tls"
	// EncryptionSTARTTLS upgrades a plaintext session via the STARTTLS
	// verb after the initial EHLO (typically port 587).
	EncryptionSTARTTLS SMTPEncryption = "starttls"
)

// SMTPConfig holds an account's own-server transport credentials.
type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Encryption SMTPEncryption
}

// SESConfig holds an account's managed-provider credentials.
type SESConfig struct {
	AccessKey string
	SecretKey string
	Region    string
}

// SendingAccount carries an account's throughput counters and transport
// configuration. Counters are zeroed when a rolling window elapses and
// incremented by the rate limiter when an attempt is admitted.
type SendingAccount struct {
	ID            uuid.UUID
	HourlyLimit   int
	DailyLimit    int
	SentThisHour  int
	SentToday     int
	HourlyResetAt time.Time
	DailyResetAt  time.Time

	// At most one transport is used per send; SMTP wins when both are set.
	SMTP *SMTPConfig
	SES  *SESConfig
}

// SendingIdentity is a verified from-address bound to an account. The
// dispatch engine treats it as read-only; verification happens upstream.
type SendingIdentity struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	FromEmail string
	FromName  string
	Verified  bool
}
