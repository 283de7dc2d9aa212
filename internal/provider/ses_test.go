package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const sesSuccessXML = `<SendEmailResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <SendEmailResult>
    <MessageId>0100018c1234abcd-11112222-3333-4444-5555-666677778888-000000</MessageId>
  </SendEmailResult>
  <ResponseMetadata>
    <RequestId>aaaa1111-bbbb-2222-cccc-333344445555</RequestId>
  </ResponseMetadata>
</SendEmailResponse>`

const sesRejectedXML = `<ErrorResponse xmlns="http://ses.amazonaws.com/doc/2010-12-01/">
  <Error>
    <Type>Sender</Type>
    <Code>MessageRejected</Code>
    <Message>Email address is not verified.</Message>
  </Error>
  <RequestId>aaaa1111-bbbb-2222-cccc-333344445555</RequestId>
</ErrorResponse>`

func testCreds() SESCredentials {
	return SESCredentials{AccessKey: "AKIDEXAMPLE", SecretKey: "secret", Region: "us-east-1"}
}

func TestSESSend_Success(t *testing.T) {
	var gotForm map[string]string
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotForm = map[string]string{
			"Action":                          r.PostFormValue("Action"),
			"Version":                         r.PostFormValue("Version"),
			"Source":                          r.PostFormValue("Source"),
			"Destination.ToAddresses.member.1": r.PostFormValue("Destination.ToAddresses.member.1"),
			"Message.Subject.Data":            r.PostFormValue("Message.Subject.Data"),
		}
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(sesSuccessXML))
	}))
	defer srv.Close()

	a := NewSESAdapter(testCreds(), srv.URL, 5*time.Second)
	res, err := a.Send(context.Background(), testEmail())
	if err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if !strings.HasPrefix(res.MessageID, "0100018c1234abcd") {
		t.Errorf("message id = %q", res.MessageID)
	}

	if gotForm["Action"] != "SendEmail" || gotForm["Version"] != "2010-12-01" {
		t.Errorf("action/version = %q/%q", gotForm["Action"], gotForm["Version"])
	}
	if gotForm["Source"] != "Ember News <news@ember.example>" {
		t.Errorf("source = %q", gotForm["Source"])
	}
	if gotForm["Destination.ToAddresses.member.1"] != "alice@example.com" {
		t.Errorf("destination = %q", gotForm["Destination.ToAddresses.member.1"])
	}
	if gotForm["Message.Subject.Data"] != "Welcome aboard" {
		t.Errorf("subject = %q", gotForm["Message.Subject.Data"])
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AKIDEXAMPLE/") {
		t.Errorf("authorization = %q", gotAuth)
	}
	if !strings.Contains(gotAuth, "SignedHeaders=content-type;host;x-amz-date") {
		t.Errorf("authorization missing signed headers: %q", gotAuth)
	}
}

func TestSESSend_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(sesRejectedXML))
	}))
	defer srv.Close()

	a := NewSESAdapter(testCreds(), srv.URL, 5*time.Second)
	_, err := a.Send(context.Background(), testEmail())
	if !IsRejection(err) {
		t.Fatalf("err = %v, want rejection", err)
	}

	var re *RejectionError
	if !errors.As(err, &re) {
		t.Fatal("could not unwrap rejection")
	}
	if re.Code != "MessageRejected" {
		t.Errorf("code = %q, want MessageRejected", re.Code)
	}
	if !strings.Contains(re.Message, "not verified") {
		t.Errorf("message = %q", re.Message)
	}
}

func TestSESSend_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	a := NewSESAdapter(testCreds(), srv.URL, time.Second)
	_, err := a.Send(context.Background(), testEmail())
	if !IsTransport(err) {
		t.Fatalf("err = %v, want transport error", err)
	}
}

func TestSESSend_MissingCredentials(t *testing.T) {
	a := NewSESAdapter(SESCredentials{}, "http://127.0.0.1:1", time.Second)
	_, err := a.Send(context.Background(), testEmail())
	if !IsConfig(err) {
		t.Fatalf("err = %v, want config error", err)
	}
}

func TestNewSESAdapter_DefaultEndpoint(t *testing.T) {
	a := NewSESAdapter(SESCredentials{AccessKey: "k", SecretKey: "s", Region: "eu-west-1"}, "", time.Second)
	if a.endpoint != "https://email.eu-west-1.amazonaws.com/" {
		t.Errorf("endpoint = %q", a.endpoint)
	}
}
