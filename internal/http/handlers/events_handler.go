package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/cache"
	applog "storefront/internal/log"
	"storefront/internal/notify"
)

// EventsHandler streams the session's cache writes and toasts as
// server-sent events.
type EventsHandler struct {
	// MaxAge ends a stream so the client reconnects. Zero means five minutes.
	MaxAge    time.Duration
	Heartbeat time.Duration
}

type cacheEvent struct {
	Key     string `json:"key"`
	Present bool   `json:"present"`
	Value   any    `json:"value,omitempty"`
}

func writeEvent(w *bufio.Writer, name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, b); err != nil {
		return err
	}
	return w.Flush()
}

func (h *EventsHandler) Stream(c *fiber.Ctx) error {
	s := sessionOf(c)
	maxAge, beat := h.MaxAge, h.Heartbeat
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	if beat <= 0 {
		beat = 25 * time.Second
	}

	// subscribe before returning so nothing written after the request is missed
	events := make(chan cacheEvent, 64)
	unsub := s.Store.SubscribeAll(func(ev cache.Event) {
		select {
		case events <- cacheEvent{Key: ev.Key.String(), Present: ev.Present, Value: ev.Value}:
		default:
		}
	})
	toasts := make(chan notify.Toast, 16)
	unwatch := s.Inbox.Watch(toasts)

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	applog.Info(c, "events.open", nil)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsub()
		defer unwatch()
		deadline := time.NewTimer(maxAge)
		defer deadline.Stop()
		tick := time.NewTicker(beat)
		defer tick.Stop()

		if _, err := w.WriteString(": connected\n\n"); err != nil || w.Flush() != nil {
			return
		}
		for {
			var err error
			select {
			case ev := <-events:
				err = writeEvent(w, "cache", ev)
			case t := <-toasts:
				err = writeEvent(w, "toast", t)
			case <-tick.C:
				if _, err = w.WriteString(": ping\n\n"); err == nil {
					err = w.Flush()
				}
			case <-deadline.C:
				return
			}
			if err != nil {
				// client went away
				return
			}
		}
	})
	return nil
}
