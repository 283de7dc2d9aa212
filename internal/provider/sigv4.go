package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

const signingAlgorithm = "AWS4-HMAC-SHA256"

// Signer computes AWS Signature Version 4 for query-API requests. Per-account
// credentials make the shared SDK credential chain a poor fit, so the
// signature is computed directly.
type Signer struct {
	AccessKey string
	SecretKey string
	Region    string
	Service   string
}

// Sign adds X-Amz-Date and Authorization headers to req. The payload must be
// the exact request body bytes.
func (s *Signer) Sign(req *http.Request, payload []byte, now time.Time) {
	amzDate := now.UTC().Format("20060102T150405Z")
	dateStamp := now.UTC().Format("20060102")
	req.Header.Set("X-Amz-Date", amzDate)

	headers := [][2]string{
		{"content-type", req.Header.Get("Content-Type")},
		{"host", req.Host},
		{"x-amz-date", amzDate},
	}
	payloadHash := hashHex(payload)

	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	canonical, signedHeaders := canonicalRequest(req.Method, path, req.URL.RawQuery, headers, payloadHash)

	scope := strings.Join([]string{dateStamp, s.Region, s.Service, "aws4_request"}, "/")
	sts := stringToSign(amzDate, scope, hashHex([]byte(canonical)))
	key := signingKey(s.SecretKey, dateStamp, s.Region, s.Service)
	signature := hex.EncodeToString(hmacSHA256(key, []byte(sts)))

	req.Header.Set("Authorization", fmt.Sprintf("%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		signingAlgorithm, s.AccessKey, scope, signedHeaders, signature))
}

// canonicalRequest builds the canonical form of the request and returns it
// with the semicolon-joined signed header list.
func canonicalRequest(method, path, query string, headers [][2]string, payloadHash string) (string, string) {
	sort.Slice(headers, func(i, j int) bool { return headers[i][0] < headers[j][0] })

	var canonicalHeaders strings.Builder
	names := make([]string, 0, len(headers))
	for _, h := range headers {
		canonicalHeaders.WriteString(h[0])
		canonicalHeaders.WriteString(":")
		canonicalHeaders.WriteString(strings.Join(strings.Fields(h[1]), " "))
		canonicalHeaders.WriteString("\n")
		names = append(names, h[0])
	}
	signedHeaders := strings.Join(names, ";")

	cr := strings.Join([]string{
		method,
		path,
		query,
		canonicalHeaders.String(),
		signedHeaders,
		payloadHash,
	}, "\n")
	return cr, signedHeaders
}

func stringToSign(amzDate, scope, canonicalHash string) string {
	return strings.Join([]string{signingAlgorithm, amzDate, scope, canonicalHash}, "\n")
}

// signingKey derives the per-day key through the chained HMAC steps.
func signingKey(secret, dateStamp, region, service string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secret), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(service))
	return hmacSHA256(kService, []byte("aws4_request"))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
