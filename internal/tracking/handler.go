package tracking

import (
	"encoding/base64"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/embermail/dispatch/internal/model"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Handler is the public collector surface. Endpoints degrade gracefully: an
// open request always gets the pixel and a click request with a recoverable
// URL always gets its redirect, whether or not the event is recorded.
type Handler struct {
	sink Sink
	inj  *Injector
}

func NewHandler(sink Sink, inj *Injector) *Handler {
	return &Handler{sink: sink, inj: inj}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/track/open/{data}/{sig}", h.HandleOpen)
	r.Get("/track/click/{data}/{sig}", h.HandleClick)
	r.Get("/track/unsubscribe/{data}/{sig}", h.HandleUnsubscribe)
	r.Get("/health", h.HandleHealth)
	return r
}

func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	encoded := chi.URLParam(r, "data")
	sig := chi.URLParam(r, "sig")

	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		h.servePixel(w)
		return
	}

	data := string(decoded)
	parts := strings.Split(data, "|")
	if len(parts) != 3 || !h.inj.Verify(data, sig) {
		h.servePixel(w)
		return
	}

	evt := Event{
		EventType:  model.EventOpen,
		AccountID:  parts[0],
		CampaignID: parts[1],
		MessageID:  parts[2],
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		Timestamp:  time.Now().UTC(),
	}
	h.sink.Publish(r.Context(), evt)

	log.Printf("OPEN campaign=%s message=%s", evt.CampaignID, evt.MessageID)
	h.servePixel(w)
}

func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	encoded := chi.URLParam(r, "data")
	sig := chi.URLParam(r, "sig")

	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	data := string(decoded)
	// The destination URL is the final field and may itself contain pipes.
	parts := strings.SplitN(data, "|", 4)
	if len(parts) != 4 {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}
	originalURL := parts[3]

	// Tampered signature: the recipient still gets their destination, but
	// nothing is recorded.
	if !h.inj.Verify(data, sig) {
		http.Redirect(w, r, originalURL, http.StatusTemporaryRedirect)
		return
	}

	evt := Event{
		EventType:  model.EventClick,
		AccountID:  parts[0],
		CampaignID: parts[1],
		MessageID:  parts[2],
		LinkURL:    originalURL,
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		Timestamp:  time.Now().UTC(),
	}
	h.sink.Publish(r.Context(), evt)

	log.Printf("CLICK campaign=%s message=%s url=%s", evt.CampaignID, evt.MessageID, originalURL)
	http.Redirect(w, r, originalURL, http.StatusTemporaryRedirect)
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	encoded := chi.URLParam(r, "data")
	sig := chi.URLParam(r, "sig")

	decoded, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	data := string(decoded)
	parts := strings.Split(data, "|")
	if len(parts) != 3 || !h.inj.Verify(data, sig) {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	evt := Event{
		EventType:  model.EventUnsubscribe,
		AccountID:  parts[0],
		CampaignID: parts[1],
		MessageID:  parts[2],
		IPAddress:  realIP(r),
		UserAgent:  r.UserAgent(),
		Timestamp:  time.Now().UTC(),
	}
	h.sink.Publish(r.Context(), evt)

	log.Printf("UNSUB campaign=%s message=%s", evt.CampaignID, evt.MessageID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(`<!DOCTYPE html><html><body style="font-family:Arial,sans-serif;text-align:center;padding:50px;">
		<h1>You have been unsubscribed</h1>
		<p>You will no longer receive emails from us.</p>
	</body></html>`))
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		host = host[:idx]
	}
	return host
}
