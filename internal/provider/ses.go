package provider

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// SESAdapter sends through the AWS SES v1 query API. It holds no session
// state: every Send is an independent signed HTTP request, so the engine may
// issue sends concurrently.
type SESAdapter struct {
	creds    SESCredentials
	endpoint string
	client   *http.Client
}

// SESCredentials are the per-account signing inputs.
type SESCredentials struct {
	AccessKey string
	SecretKey string
	Region    string
}

// NewSESAdapter builds an adapter for one account's credentials. endpoint
// overrides the regional SES URL, used for local stacks and tests.
func NewSESAdapter(creds SESCredentials, endpoint string, timeout time.Duration) *SESAdapter {
	if creds.Region == "" {
		creds.Region = "us-east-1"
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://email.%s.amazonaws.com/", creds.Region)
	}
	return &SESAdapter{
		creds:    creds,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type sesSendEmailResponse struct {
	XMLName xml.Name `xml:"SendEmailResponse"`
	Result  struct {
		MessageID string `xml:"MessageId"`
	} `xml:"SendEmailResult"`
}

type sesErrorResponse struct {
	XMLName xml.Name `xml:"ErrorResponse"`
	Error   struct {
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	} `xml:"Error"`
}

// Send posts one SendEmail action and parses the XML response.
func (a *SESAdapter) Send(ctx context.Context, email *Email) (*SendResult, error) {
	if a.creds.AccessKey == "" || a.creds.SecretKey == "" {
		return nil, &ConfigError{Reason: "SES credentials missing"}
	}

	form := url.Values{}
	form.Set("Action", "SendEmail")
	form.Set("Version", "2010-12-01")
	form.Set("Source", formatAddress(email.FromName, email.FromEmail))
	form.Set("Destination.ToAddresses.member.1", email.ToEmail)
	form.Set("Message.Subject.Data", email.Subject)
	form.Set("Message.Subject.Charset", "UTF-8")
	form.Set("Message.Body.Html.Data", email.HTMLBody)
	form.Set("Message.Body.Html.Charset", "UTF-8")
	payload := []byte(form.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("build SES request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	signer := &Signer{
		AccessKey: a.creds.AccessKey,
		SecretKey: a.creds.SecretKey,
		Region:    a.creds.Region,
		Service:   "ses",
	}
	signer.Sign(req, payload, time.Now())

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read SES response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp sesErrorResponse
		if xml.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return nil, &RejectionError{Code: errResp.Error.Code, Message: errResp.Error.Message}
		}
		return nil, &RejectionError{Code: fmt.Sprintf("%d", resp.StatusCode), Message: http.StatusText(resp.StatusCode)}
	}

	var ok sesSendEmailResponse
	if err := xml.Unmarshal(body, &ok); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("parse SES response: %w", err)}
	}
	return &SendResult{MessageID: ok.Result.MessageID, SentAt: time.Now()}, nil
}
