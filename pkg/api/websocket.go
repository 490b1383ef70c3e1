package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4 << 10
)

// Frame is a message written to WebSocket clients.
type Frame struct {
	Type         string                      `json:"type"` // hello, notification, unread, pong, error
	UnreadCount  *int                        `json:"unread_count,omitempty"`
	Notification *notifications.Notification `json:"notification,omitempty"`
	Error        string                      `json:"error,omitempty"`
}

// control is a message read from WebSocket clients.
type control struct {
	Action string `json:"action"` // ping, mark_read, mark_all_read
	ID     string `json:"id,omitempty"`
}

func (a *API) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     a.checkOrigin,
	}
}

// checkOrigin accepts same-host origins, loopback and the configured list.
func (a *API) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if slices.Contains(a.allowedOrigins, origin) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	originHost := hostOnly(u.Host)
	if originHost == hostOnly(r.Host) {
		return true
	}
	ip := net.ParseIP(originHost)
	return originHost == "localhost" || (ip != nil && ip.IsLoopback())
}

func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return h
	}
	return hostport
}

func (a *API) websocketStream(w http.ResponseWriter, r *http.Request) {
	if a.deps.Streams == nil {
		a.writeError(w, r, ErrNotAvailable)
		return
	}
	userID, _ := UserID(r.Context())

	conn, err := a.upgrader().Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already answered
		a.logger.LogAttrs(r.Context(), slog.LevelDebug, "websocket upgrade failed",
			logger.UserID(userID), logger.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := a.deps.Streams.Subscribe(ctx, userID)
	defer sub.Close()

	a.metrics.AdjustRealtimeSessions("websocket", 1)
	defer a.metrics.AdjustRealtimeSessions("websocket", -1)

	hello := Frame{Type: "hello"}
	if count, err := a.deps.Notifications.UnreadCount(ctx, userID); err == nil {
		hello.UnreadCount = &count
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := conn.WriteJSON(hello); err != nil {
		return
	}

	out := make(chan Frame, 8)
	go a.readPump(ctx, cancel, conn, userID, out)

	a.writePump(ctx, conn, userID, sub.C(), out)
}

// writePump owns every write to conn.
func (a *API) writePump(ctx context.Context, conn *websocket.Conn, userID string, notes <-chan notifications.Notification, out <-chan Frame) {
	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	refresh := time.NewTicker(a.refresh)
	defer refresh.Stop()

	write := func(f Frame) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(f) == nil
	}

	for {
		select {
		case <-ctx.Done():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		case n, ok := <-notes:
			if !ok {
				// dropped as a slow consumer or hub closed
				_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "session ended"))
				return
			}
			f := Frame{Type: "notification", Notification: &n}
			if count, err := a.deps.Notifications.UnreadCount(ctx, userID); err == nil {
				f.UnreadCount = &count
			}
			if !write(f) {
				return
			}
		case f := <-out:
			if !write(f) {
				return
			}
		case <-refresh.C:
			count, err := a.deps.Notifications.UnreadCount(ctx, userID)
			if err != nil {
				continue
			}
			if !write(Frame{Type: "unread", UnreadCount: &count}) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump handles client control messages and cancels ctx when the client
// goes away.
func (a *API) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, userID string, out chan<- Frame) {
	defer cancel()

	conn.SetReadLimit(wsMaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	reply := func(f Frame) {
		select {
		case out <- f:
		case <-ctx.Done():
		}
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				a.logger.LogAttrs(ctx, slog.LevelDebug, "websocket closed unexpectedly",
					logger.UserID(userID), logger.Error(err))
			}
			return
		}

		var c control
		if err := json.Unmarshal(payload, &c); err != nil {
			reply(Frame{Type: "error", Error: "malformed control message"})
			continue
		}

		switch c.Action {
		case "ping":
			reply(Frame{Type: "pong"})
		case "mark_read":
			err := a.deps.Notifications.MarkRead(ctx, userID, c.ID)
			a.replyUnread(ctx, userID, err, reply)
		case "mark_all_read":
			_, err := a.deps.Notifications.MarkAllRead(ctx, userID)
			a.replyUnread(ctx, userID, err, reply)
		default:
			reply(Frame{Type: "error", Error: "unsupported action"})
		}
	}
}

func (a *API) replyUnread(ctx context.Context, userID string, err error, reply func(Frame)) {
	if err != nil {
		msg := "request failed"
		if errors.Is(err, notifications.ErrNotFound) {
			msg = "not found"
		}
		reply(Frame{Type: "error", Error: msg})
		return
	}
	count, err := a.deps.Notifications.UnreadCount(ctx, userID)
	if err != nil {
		reply(Frame{Type: "error", Error: "request failed"})
		return
	}
	reply(Frame{Type: "unread", UnreadCount: &count})
}
