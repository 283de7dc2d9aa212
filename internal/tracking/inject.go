package tracking

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var hrefPattern = regexp.MustCompile(`href=["'](https?://[^"']+)["']`)

// Injector rewrites campaign HTML for engagement tracking. Injection is
// deterministic: the same input always produces the same output, so retried
// sends carry identical tracking URLs.
type Injector struct {
	signingKey []byte
	baseURL    string
}

// NewInjector builds an injector for the collector at baseURL (no trailing
// slash).
func NewInjector(signingSecret, baseURL string) *Injector {
	return &Injector{
		signingKey: []byte(signingSecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Inject rewrites every absolute http(s) link through the click collector
// and appends the open pixel before the closing body tag. Links that already
// point at the collector are left alone.
func (in *Injector) Inject(html string, accountID, campaignID, messageID uuid.UUID) string {
	rewritten := hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
		sub := hrefPattern.FindStringSubmatch(match)
		original := sub[1]
		if strings.Contains(original, "/track/") {
			return match
		}
		quote := match[len("href=") : len("href=")+1]
		return fmt.Sprintf("href=%s%s%s", quote, in.ClickURL(accountID, campaignID, messageID, original), quote)
	})

	pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none;" alt="" />`,
		in.PixelURL(accountID, campaignID, messageID))

	if idx := strings.LastIndex(strings.ToLower(rewritten), "</body>"); idx >= 0 {
		return rewritten[:idx] + pixel + rewritten[idx:]
	}
	return rewritten + pixel
}

// PixelURL returns the signed open-tracking pixel URL.
func (in *Injector) PixelURL(accountID, campaignID, messageID uuid.UUID) string {
	data := fmt.Sprintf("%s|%s|%s", accountID, campaignID, messageID)
	return fmt.Sprintf("%s/track/open/%s/%s", in.baseURL, encode(data), in.sign(data))
}

// ClickURL returns the signed redirect URL wrapping originalURL.
func (in *Injector) ClickURL(accountID, campaignID, messageID uuid.UUID, originalURL string) string {
	data := fmt.Sprintf("%s|%s|%s|%s", accountID, campaignID, messageID, originalURL)
	return fmt.Sprintf("%s/track/click/%s/%s", in.baseURL, encode(data), in.sign(data))
}

// UnsubscribeURL returns the signed one-click unsubscribe URL carried in the
// List-Unsubscribe header.
func (in *Injector) UnsubscribeURL(accountID, campaignID, messageID uuid.UUID) string {
	data := fmt.Sprintf("%s|%s|%s", accountID, campaignID, messageID)
	return fmt.Sprintf("%s/track/unsubscribe/%s/%s", in.baseURL, encode(data), in.sign(data))
}

// Verify checks a collector-side signature against the decoded payload.
func (in *Injector) Verify(data, signature string) bool {
	return hmac.Equal([]byte(in.sign(data)), []byte(signature))
}

func (in *Injector) sign(data string) string {
	h := hmac.New(sha256.New, in.signingKey)
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func encode(data string) string {
	return base64.URLEncoding.EncodeToString([]byte(data))
}
