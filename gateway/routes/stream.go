package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"mintgate/events"
	"mintgate/session"
)

const streamWriteTimeout = 5 * time.Second

// StreamFrame is one websocket message on a session stream.
type StreamFrame struct {
	Topic string `json:"topic"`
	Event any    `json:"event"`
}

// sessionOf returns the session id carried by a published payload.
func sessionOf(event any) string {
	switch ev := event.(type) {
	case session.GatewaySession:
		return ev.ID
	case session.DepositEvent:
		return ev.SessionID
	default:
		return ""
	}
}

func (a *api) stream(w http.ResponseWriter, r *http.Request) {
	s, ok := a.lookup(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	// Subscribe before the upgrade so nothing published in between is lost.
	sub, cancel := a.cfg.Events.Subscribe()
	defer cancel()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		a.logger.Warn("stream upgrade failed", slog.String("session", id), slog.Any("error", err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	ctx := conn.CloseRead(r.Context())
	if err := writeFrame(ctx, conn, StreamFrame{Topic: "snapshot", Event: s.Snapshot()}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-sub:
			if !open {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if sessionOf(msg.Event) != id {
				continue
			}
			if err := writeFrame(ctx, conn, StreamFrame{Topic: msg.Topic, Event: msg.Event}); err != nil {
				a.logger.Debug("stream write failed", slog.String("session", id), slog.Any("error", err))
				return
			}
			if msg.Topic == events.TopicSessionCompleted {
				conn.Close(websocket.StatusNormalClosure, "session completed")
				return
			}
		}
	}
}

func writeFrame(ctx context.Context, conn *websocket.Conn, frame StreamFrame) error {
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, frame)
}
