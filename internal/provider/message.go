package provider

import (
	"bytes"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BuildMIME assembles the full RFC 5322 message for connection transports.
// It returns the generated Message-ID (without angle brackets) and the raw
// bytes ready for the DATA phase.
func BuildMIME(e *Email, now time.Time) (string, []byte) {
	domain := senderDomain(e.FromEmail)
	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), domain)

	var buf bytes.Buffer
	writeHeader(&buf, "From", formatAddress(e.FromName, e.FromEmail))
	writeHeader(&buf, "To", e.ToEmail)
	writeHeader(&buf, "Subject", encodeSubject(e.Subject))
	writeHeader(&buf, "Date", now.UTC().Format(time.RFC1123Z))
	writeHeader(&buf, "Message-ID", "<"+messageID+">")
	writeHeader(&buf, "MIME-Version", "1.0")
	writeHeader(&buf, "Content-Type", `text/html; charset="UTF-8"`)
	writeHeader(&buf, "Content-Transfer-Encoding", "quoted-printable")
	writeHeader(&buf, "List-Unsubscribe", listUnsubscribe(domain, e.Headers["List-Unsubscribe-URL"]))

	// Caller-supplied headers last, in a stable order.
	extra := make([]string, 0, len(e.Headers))
	for k := range e.Headers {
		if k == "List-Unsubscribe-URL" {
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	for _, k := range extra {
		writeHeader(&buf, k, e.Headers[k])
	}

	buf.WriteString("\r\n")
	qp := quotedprintable.NewWriter(&buf)
	qp.Write([]byte(e.HTMLBody))
	qp.Close()

	return messageID, buf.Bytes()
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func formatAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("UTF-8", name), email)
}

func encodeSubject(subject string) string {
	return mime.QEncoding.Encode("UTF-8", subject)
}

// listUnsubscribe always carries the mailto form; the https form is added
// when the caller provides a tracked unsubscribe URL.
func listUnsubscribe(domain, trackedURL string) string {
	v := fmt.Sprintf("<mailto:unsubscribe@%s>", domain)
	if trackedURL != "" {
		v += fmt.Sprintf(", <%s>", trackedURL)
	}
	return v
}

func senderDomain(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
