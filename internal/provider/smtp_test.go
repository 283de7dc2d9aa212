package provider

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedSMTP is a single-connection SMTP server driven over plaintext.
type scriptedSMTP struct {
	ln       net.Listener
	greeting string
	rejectTo string // RCPT containing this address gets a 550

	mu          sync.Mutex
	messages    []string
	connections int
}

func newScriptedSMTP(t *testing.T) *scriptedSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &scriptedSMTP{ln: ln, greeting: "220 fake ESMTP ready"}
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *scriptedSMTP) start() {
	go func() {
		for {
			conn, err := s.ln.Accept()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.connections++
			s.mu.Unlock()
			s.handle(conn)
		}
	}()
}

func (s *scriptedSMTP) handle(conn net.Conn) {
	defer conn.Close()
	tc := textproto.NewConn(conn)
	tc.PrintfLine("%s", s.greeting)
	if !strings.HasPrefix(s.greeting, "220") {
		return
	}
	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(verb, "EHLO"), strings.HasPrefix(verb, "HELO"):
			tc.PrintfLine("250-fake")
			tc.PrintfLine("250 AUTH LOGIN PLAIN")
		case strings.HasPrefix(verb, "AUTH LOGIN"):
			tc.PrintfLine("334 VXNlcm5hbWU6")
			tc.ReadLine()
			tc.PrintfLine("334 UGFzc3dvcmQ6")
			tc.ReadLine()
			tc.PrintfLine("235 2.7.0 authenticated")
		case strings.HasPrefix(verb, "STARTTLS"):
			tc.PrintfLine("454 4.7.0 TLS not available")
		case strings.HasPrefix(verb, "MAIL"):
			tc.PrintfLine("250 sender ok")
		case strings.HasPrefix(verb, "RCPT"):
			if s.rejectTo != "" && strings.Contains(line, s.rejectTo) {
				tc.PrintfLine("550 5.1.1 no such user")
			} else {
				tc.PrintfLine("250 recipient ok")
			}
		case strings.HasPrefix(verb, "DATA"):
			tc.PrintfLine("354 end with <CRLF>.<CRLF>")
			var b strings.Builder
			for {
				dl, err := tc.ReadLine()
				if err != nil {
					return
				}
				if dl == "." {
					break
				}
				b.WriteString(dl)
				b.WriteString("\n")
			}
			s.mu.Lock()
			s.messages = append(s.messages, b.String())
			s.mu.Unlock()
			tc.PrintfLine("250 queued")
		case strings.HasPrefix(verb, "RSET"):
			tc.PrintfLine("250 flushed")
		case strings.HasPrefix(verb, "QUIT"):
			tc.PrintfLine("221 bye")
			return
		default:
			tc.PrintfLine("250 ok")
		}
	}
}

func (s *scriptedSMTP) settings() SMTPSettings {
	addr := s.ln.Addr().(*net.TCPAddr)
	return SMTPSettings{Host: "127.0.0.1", Port: addr.Port}
}

func (s *scriptedSMTP) receivedMessages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

func (s *scriptedSMTP) connectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func TestSMTPSend_DeliversAndReusesSession(t *testing.T) {
	srv := newScriptedSMTP(t)
	srv.start()

	settings := srv.settings()
	settings.Username = "mailer"
	settings.Password = "hunter2"

	c := NewSMTPClient(settings, 5*time.Second)
	defer c.Close()

	first := testEmail()
	res, err := c.Send(context.Background(), first)
	if err != nil {
		t.Fatalf("first Send() error: %v", err)
	}
	if !strings.HasSuffix(res.MessageID, "@ember.example") {
		t.Errorf("message id = %q", res.MessageID)
	}

	second := testEmail()
	second.ToEmail = "bob@example.com"
	if _, err := c.Send(context.Background(), second); err != nil {
		t.Fatalf("second Send() error: %v", err)
	}

	msgs := srv.receivedMessages()
	if len(msgs) != 2 {
		t.Fatalf("server received %d messages, want 2", len(msgs))
	}
	if !strings.Contains(msgs[0], "To: alice@example.com") {
		t.Errorf("first message headers wrong:\n%s", msgs[0])
	}
	if !strings.Contains(msgs[0], "Subject: Welcome aboard") {
		t.Errorf("first message missing subject:\n%s", msgs[0])
	}
	if !strings.Contains(msgs[1], "To: bob@example.com") {
		t.Errorf("second message headers wrong:\n%s", msgs[1])
	}

	if n := srv.connectionCount(); n != 1 {
		t.Errorf("server saw %d connections, want 1 reused session", n)
	}
}

func TestSMTPSend_RejectedRecipientKeepsSession(t *testing.T) {
	srv := newScriptedSMTP(t)
	srv.rejectTo = "bounce@example.com"
	srv.start()

	c := NewSMTPClient(srv.settings(), 5*time.Second)
	defer c.Close()

	rejected := testEmail()
	rejected.ToEmail = "bounce@example.com"
	_, err := c.Send(context.Background(), rejected)
	if !IsRejection(err) {
		t.Fatalf("err = %v, want rejection", err)
	}
	var re *RejectionError
	if errors.As(err, &re) && re.Code != "550" {
		t.Errorf("code = %q, want 550", re.Code)
	}

	// The session survives and delivers the next message.
	if _, err := c.Send(context.Background(), testEmail()); err != nil {
		t.Fatalf("Send() after rejection error: %v", err)
	}
	if n := srv.connectionCount(); n != 1 {
		t.Errorf("server saw %d connections, want 1", n)
	}
}

func TestSMTPSend_BadGreeting(t *testing.T) {
	srv := newScriptedSMTP(t)
	srv.greeting = "554 go away"
	srv.start()

	c := NewSMTPClient(srv.settings(), 2*time.Second)
	_, err := c.Send(context.Background(), testEmail())
	if !IsTransport(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestSMTPSend_StartTLSRefused(t *testing.T) {
	srv := newScriptedSMTP(t)
	srv.start()

	settings := srv.settings()
	settings.Encryption = "starttls"

	c := NewSMTPClient(settings, 2*time.Second)
	_, err := c.Send(context.Background(), testEmail())
	if !IsTransport(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestSMTPSend_MissingHostIsConfigError(t *testing.T) {
	c := NewSMTPClient(SMTPSettings{}, time.Second)
	_, err := c.Send(context.Background(), testEmail())
	if !IsConfig(err) {
		t.Fatalf("err = %v, want config error", err)
	}
}
