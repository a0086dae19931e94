// Package webhook receives GitHub webhooks, verifies and de-duplicates them
// and feeds the translated events to the router one at a time.
package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/go-github/v68/github"

	"coddy/internal/clock"
	"coddy/internal/logging"
	"coddy/internal/router"
)

// maxBodySize caps webhook payloads. GitHub documents ~25 MB for the
// largest push events.
const maxBodySize = 32 * 1024 * 1024

// DedupWindow is how long delivery ids are remembered.
const DedupWindow = time.Hour

// Dispatcher applies a translated event.
type Dispatcher interface {
	Handle(ctx context.Context, ev router.Event) error
}

// Handler is the webhook endpoint.
type Handler struct {
	// Secret verifies X-Hub-Signature-256. Empty disables verification.
	Secret     []byte
	Dispatcher Dispatcher
	Clock      clock.Clock
	Logger     *slog.Logger

	mu         sync.Mutex
	deliveries map[string]time.Time
}

func (h *Handler) logger() *slog.Logger { return logging.OrDiscard(h.Logger) }

func (h *Handler) now() time.Time {
	if h.Clock == nil {
		return time.Now()
	}
	return h.Clock.Now()
}

// ServeHTTP handles a single webhook delivery.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "", http.StatusMethodNotAllowed)
		return
	}
	log := h.logger()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	payload, err := github.ValidatePayload(r, h.Secret)
	if err != nil {
		log.Warn("webhook rejected", "error", err, "remote_addr", r.RemoteAddr)
		http.Error(w, "", http.StatusUnauthorized)
		return
	}

	eventType := github.WebHookType(r)
	deliveryID := github.DeliveryID(r)
	if eventType == "" {
		http.Error(w, "missing X-GitHub-Event", http.StatusBadRequest)
		return
	}
	log = log.With("event_type", eventType, "delivery_id", deliveryID)

	if !handled(eventType) {
		log.Debug("webhook ignored")
		w.WriteHeader(http.StatusOK)
		return
	}
	if deliveryID != "" && h.seen(deliveryID) {
		log.Debug("duplicate delivery ignored")
		w.WriteHeader(http.StatusOK)
		return
	}

	raw, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		// Retrying will not fix a malformed payload.
		log.Error("webhook parse failed", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	events := Translate(raw)
	log.Info("webhook received", "events", len(events))

	// The sender may hang up before a slow transition finishes; the event
	// must still be applied.
	if err := h.dispatch(context.WithoutCancel(r.Context()), events); err != nil {
		log.Error("webhook dispatch failed", "error", err)
		h.forget(deliveryID)
		http.Error(w, "", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) dispatch(ctx context.Context, events []router.Event) error {
	for _, ev := range events {
		if err := h.Dispatcher.Handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func handled(eventType string) bool {
	switch eventType {
	case "issues", "issue_comment", "pull_request", "pull_request_review_comment":
		return true
	}
	return false
}

// seen records a delivery id and reports whether it was already processed
// within DedupWindow. Expired entries are pruned on every call.
func (h *Handler) seen(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	if h.deliveries == nil {
		h.deliveries = make(map[string]time.Time)
	}
	for k, at := range h.deliveries {
		if now.Sub(at) > DedupWindow {
			delete(h.deliveries, k)
		}
	}
	if _, ok := h.deliveries[id]; ok {
		return true
	}
	h.deliveries[id] = now
	return false
}

// forget drops a delivery id so a retry of a failed delivery is processed.
func (h *Handler) forget(id string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.deliveries, id)
}
