package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/opsdeck/opsdeck/internal/broadcast"
	"github.com/opsdeck/opsdeck/internal/domain/session"
	"github.com/opsdeck/opsdeck/internal/utils"
)

// EventsHandler streams the caller's invalidation events over SSE.
// The server pre-filters on account id; the finer self-filtering
// (old-session-id matching) is the client listener's job, since only
// the client knows which session id it holds.
func EventsHandler(sub broadcast.Subscriber) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess := session.FromCtx(c)
		if sess == nil {
			return utils.ErrNotAuthenticated
		}
		accountID := sess.Account.ID.String()

		ctx, cancel := context.WithCancel(context.Background())
		events, stop, err := sub.Subscribe(ctx)
		if err != nil {
			cancel()
			return utils.ErrorResponse(c, "subscribe_failed", fiber.StatusInternalServerError)
		}

		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
			defer cancel()
			defer stop()

			heartbeat := time.NewTicker(15 * time.Second)
			defer heartbeat.Stop()

			streamEvents(w, events, accountID, heartbeat.C)
		}))

		return nil
	}
}

// streamEvents writes SSE frames for every event addressed to
// accountID until the events channel closes or the peer goes away.
// Heartbeat ticks emit a comment line that keeps intermediaries from
// closing the idle connection.
func streamEvents(w *bufio.Writer, events <-chan broadcast.Event, accountID string, heartbeat <-chan time.Time) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.UserID != accountID {
				continue
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("Failed to encode broadcast event", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		case <-heartbeat:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}
