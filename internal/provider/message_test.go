package provider

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testEmail() *Email {
	return &Email{
		MessageID:  uuid.New(),
		CampaignID: uuid.New(),
		FromName:   "Ember News",
		FromEmail:  "news@ember.example",
		ToEmail:    "alice@example.com",
		Subject:    "Welcome aboard",
		HTMLBody:   "<html><body><p>Hello Alice</p></body></html>",
	}
}

func TestBuildMIME_RequiredHeaders(t *testing.T) {
	e := testEmail()
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	messageID, raw := BuildMIME(e, now)
	msg := string(raw)

	if !strings.HasSuffix(messageID, "@ember.example") {
		t.Errorf("message id %q not anchored to sender domain", messageID)
	}

	for _, want := range []string{
		"From: Ember News <news@ember.example>\r\n",
		"To: alice@example.com\r\n",
		"Subject: Welcome aboard\r\n",
		"Date: Sat, 14 Mar 2026 09:30:00 +0000\r\n",
		"Message-ID: <" + messageID + ">\r\n",
		"MIME-Version: 1.0\r\n",
		"Content-Type: text/html; charset=\"UTF-8\"\r\n",
		"Content-Transfer-Encoding: quoted-printable\r\n",
		"List-Unsubscribe: <mailto:unsubscribe@ember.example>\r\n",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("missing header %q in:\n%s", want, msg)
		}
	}
	if !strings.Contains(msg, "<p>Hello Alice</p>") {
		t.Errorf("body missing from message:\n%s", msg)
	}
}

func TestBuildMIME_TrackedUnsubscribe(t *testing.T) {
	e := testEmail()
	e.Headers = map[string]string{
		"List-Unsubscribe-URL": "https://track.ember.example/track/unsubscribe/abc/def",
	}
	_, raw := BuildMIME(e, time.Now())

	want := "List-Unsubscribe: <mailto:unsubscribe@ember.example>, <https://track.ember.example/track/unsubscribe/abc/def>\r\n"
	if !strings.Contains(string(raw), want) {
		t.Errorf("missing combined List-Unsubscribe header in:\n%s", raw)
	}
}

func TestBuildMIME_QuotedPrintableBody(t *testing.T) {
	e := testEmail()
	e.HTMLBody = `<a href="https://example.com/?a=1&b=2">link</a>`
	_, raw := BuildMIME(e, time.Now())

	if !strings.Contains(string(raw), "a=3D1&b=3D2") {
		t.Errorf("body not quoted-printable encoded:\n%s", raw)
	}
}

func TestBuildMIME_ExtraHeaders(t *testing.T) {
	e := testEmail()
	e.Headers = map[string]string{
		"X-Campaign-ID": e.CampaignID.String(),
	}
	_, raw := BuildMIME(e, time.Now())

	if !strings.Contains(string(raw), "X-Campaign-ID: "+e.CampaignID.String()+"\r\n") {
		t.Errorf("extra header not written:\n%s", raw)
	}
}

func TestSenderDomain(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"news@ember.example", "ember.example"},
		{"no-at-sign", "localhost"},
		{"trailing@", "localhost"},
	}
	for _, tt := range tests {
		if got := senderDomain(tt.addr); got != tt.want {
			t.Errorf("senderDomain(%q) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
