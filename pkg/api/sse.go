package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/starfederation/datastar-go/datastar"

	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
)

// streamSignals is the Datastar signal set patched into the page.
type streamSignals struct {
	UnreadCount int                         `json:"unreadCount"`
	Latest      *notifications.Notification `json:"latest,omitempty"`
}

// signalStream keeps a Datastar page in sync with the inbox over SSE.
func (a *API) signalStream(w http.ResponseWriter, r *http.Request) {
	if a.deps.Streams == nil {
		a.writeError(w, r, ErrNotAvailable)
		return
	}
	ctx := r.Context()
	userID, _ := UserID(ctx)

	sub := a.deps.Streams.Subscribe(ctx, userID)
	defer sub.Close()

	a.metrics.AdjustRealtimeSessions("sse", 1)
	defer a.metrics.AdjustRealtimeSessions("sse", -1)

	sse := datastar.NewSSE(w, r)

	last, err := a.deps.Notifications.UnreadCount(ctx, userID)
	if err != nil {
		a.logger.LogAttrs(ctx, slog.LevelWarn, "unread count unavailable",
			logger.UserID(userID), logger.Error(err))
		last = 0
	}
	if err := patchSignals(sse, streamSignals{UnreadCount: last}); err != nil {
		return
	}

	refresh := time.NewTicker(a.refresh)
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-sub.C():
			if !ok {
				return
			}
			count := a.countOr(ctx, userID, last+1)
			if err := patchSignals(sse, streamSignals{UnreadCount: count, Latest: &n}); err != nil {
				return
			}
			last = count
		case <-refresh.C:
			count := a.countOr(ctx, userID, last)
			if count == last {
				continue
			}
			if err := patchSignals(sse, streamSignals{UnreadCount: count}); err != nil {
				return
			}
			last = count
		}
	}
}

func (a *API) countOr(ctx context.Context, userID string, fallback int) int {
	count, err := a.deps.Notifications.UnreadCount(ctx, userID)
	if err != nil {
		return fallback
	}
	return count
}

func patchSignals(sse *datastar.ServerSentEventGenerator, s streamSignals) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return sse.PatchSignals(b)
}
