package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// SMTPSettings holds one account's relay configuration.
type SMTPSettings struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Encryption string // "tls" for implicit TLS, "starttls" for upgrade
}

// SMTPClient speaks raw SMTP over a single session. It dials lazily on the
// first Send and reuses the session for the rest of the account's group, so
// it must be driven sequentially. A transport failure tears the session down.
type SMTPClient struct {
	settings  SMTPSettings
	timeout   time.Duration
	tlsConfig *tls.Config // test override; nil means verify against Host

	conn   net.Conn
	client *smtp.Client
}

// NewSMTPClient builds a client; no connection is made until the first Send.
func NewSMTPClient(settings SMTPSettings, timeout time.Duration) *SMTPClient {
	return &SMTPClient{settings: settings, timeout: timeout}
}

func (c *SMTPClient) connect(ctx context.Context) error {
	if c.settings.Host == "" || c.settings.Port == 0 {
		return &ConfigError{Reason: "SMTP host or port missing"}
	}

	addr := net.JoinHostPort(c.settings.Host, strconv.Itoa(c.settings.Port))
	dialer := &net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &TransportError{Err: fmt.Errorf("dial %s: %w", addr, err)}
	}
	conn.SetDeadline(time.Now().Add(c.timeout))

	tlsCfg := c.tlsConfig
	if tlsCfg == nil {
		tlsCfg = &tls.Config{ServerName: c.settings.Host}
	}

	if c.settings.Encryption == "tls" {
		conn = tls.Client(conn, tlsCfg)
	}

	client, err := smtp.NewClient(conn, c.settings.Host)
	if err != nil {
		conn.Close()
		return &TransportError{Err: fmt.Errorf("greeting from %s: %w", addr, err)}
	}

	if c.settings.Encryption == "starttls" {
		// StartTLS re-issues EHLO on the upgraded channel.
		if err := client.StartTLS(tlsCfg); err != nil {
			client.Close()
			return &TransportError{Err: fmt.Errorf("starttls with %s: %w", addr, err)}
		}
	}

	if c.settings.Username != "" {
		auth := &loginAuth{username: c.settings.Username, password: c.settings.Password}
		if err := client.Auth(auth); err != nil {
			client.Close()
			return &TransportError{Err: fmt.Errorf("auth as %s: %w", c.settings.Username, err)}
		}
	}

	c.conn = conn
	c.client = client
	return nil
}

// Send delivers one message on the shared session, connecting first if
// needed. A protocol rejection fails only this message and resets the
// session; any other failure is a transport error and drops the session.
func (c *SMTPClient) Send(ctx context.Context, email *Email) (*SendResult, error) {
	if c.client == nil {
		if err := c.connect(ctx); err != nil {
			return nil, err
		}
	}
	c.conn.SetDeadline(time.Now().Add(c.timeout))

	now := time.Now()
	messageID, raw := BuildMIME(email, now)

	if err := c.client.Mail(email.FromEmail); err != nil {
		return nil, c.commandErr("MAIL FROM", err)
	}
	if err := c.client.Rcpt(email.ToEmail); err != nil {
		return nil, c.commandErr("RCPT TO", err)
	}
	w, err := c.client.Data()
	if err != nil {
		return nil, c.commandErr("DATA", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		c.teardown()
		return nil, &TransportError{Err: fmt.Errorf("write message body: %w", err)}
	}
	// The final 250 arrives on Close; a rejection here is still per-message.
	if err := w.Close(); err != nil {
		return nil, c.commandErr("end of DATA", err)
	}

	return &SendResult{MessageID: messageID, SentAt: now}, nil
}

// commandErr classifies a command failure. A textproto error is the server
// rejecting this message, so the session is reset and kept; anything else
// means the connection is gone.
func (c *SMTPClient) commandErr(step string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		c.client.Reset()
		return &RejectionError{Code: strconv.Itoa(tpErr.Code), Message: fmt.Sprintf("%s: %s", step, tpErr.Msg)}
	}
	c.teardown()
	return &TransportError{Err: fmt.Errorf("%s: %w", step, err)}
}

func (c *SMTPClient) teardown() {
	if c.client != nil {
		c.client.Close()
	}
	c.client = nil
	c.conn = nil
}

// Close quits the session politely after the group is drained.
func (c *SMTPClient) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Quit()
	c.client = nil
	c.conn = nil
	return err
}

// loginAuth implements AUTH LOGIN, which many relay providers require
// instead of PLAIN.
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(_ *smtp.ServerInfo) (string, []byte, error) {
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	if strings.Contains(strings.ToLower(string(fromServer)), "username") {
		return []byte(a.username), nil
	}
	return []byte(a.password), nil
}
