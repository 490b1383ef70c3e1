package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/notifier/pkg/dispatch"
	"github.com/dmitrymomot/notifier/pkg/notifications"
	"github.com/dmitrymomot/notifier/pkg/preferences"
	"github.com/dmitrymomot/notifier/pkg/push"
)

func (a *API) createEvent(w http.ResponseWriter, r *http.Request) {
	var e dispatch.Event
	if err := decode(w, r, &e); err != nil {
		a.writeError(w, r, err)
		return
	}
	n, err := a.deps.Dispatcher.Dispatch(r.Context(), e)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

type listResponse struct {
	Notifications []notifications.Notification `json:"notifications"`
	Limit         int                          `json:"limit"`
	Offset        int                          `json:"offset"`
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	q := r.URL.Query()

	opts := notifications.ListOptions{Limit: a.defaultLimit}
	if v := q.Get("unread"); v != "" {
		unread, err := strconv.ParseBool(v)
		if err != nil {
			a.writeError(w, r, fmt.Errorf("%w: unread must be a boolean", ErrBadRequest))
			return
		}
		opts.UnreadOnly = unread
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			a.writeError(w, r, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest))
			return
		}
		opts.Limit = min(limit, a.maxLimit)
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			a.writeError(w, r, fmt.Errorf("%w: offset must be a non-negative integer", ErrBadRequest))
			return
		}
		opts.Offset = offset
	}

	list, err := a.deps.Notifications.List(r.Context(), userID, opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []notifications.Notification{}
	}
	writeJSON(w, http.StatusOK, listResponse{Notifications: list, Limit: opts.Limit, Offset: opts.Offset})
}

func (a *API) getNotification(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	n, err := a.deps.Notifications.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	count, err := a.deps.Notifications.UnreadCount(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (a *API) markRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	if err := a.deps.Notifications.MarkRead(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) markAllRead(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	updated, err := a.deps.Notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (a *API) deleteNotification(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	if err := a.deps.Notifications.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) vapidKey(w http.ResponseWriter, r *http.Request) {
	if a.vapidPublicKey == "" {
		a.writeError(w, r, ErrNotAvailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"public_key": a.vapidPublicKey})
}

type subscriptionRequest struct {
	Endpoint string    `json:"endpoint"`
	Keys     push.Keys `json:"keys"`
	// sent by PushSubscription.toJSON(), ignored
	ExpirationTime *int64 `json:"expirationTime,omitempty"`
}

type subscriptionResponse struct {
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
	Created  string `json:"created_at"`
}

func toSubscriptionResponse(s push.Subscription) subscriptionResponse {
	return subscriptionResponse{ID: s.ID, Endpoint: s.Endpoint, Created: s.CreatedAt.UTC().Format(time.RFC3339)}
}

func (a *API) registerSubscription(w http.ResponseWriter, r *http.Request) {
	if a.deps.Subscriptions == nil {
		a.writeError(w, r, ErrNotAvailable)
		return
	}
	userID, _ := UserID(r.Context())
	var req subscriptionRequest
	if err := decode(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}
	sub, err := a.deps.Subscriptions.Register(r.Context(), userID, req.Endpoint, req.Keys)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

func (a *API) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	if a.deps.Subscriptions == nil {
		a.writeError(w, r, ErrNotAvailable)
		return
	}
	userID, _ := UserID(r.Context())
	subs, err := a.deps.Subscriptions.List(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubscriptionResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}

func (a *API) unregisterSubscription(w http.ResponseWriter, r *http.Request) {
	if a.deps.Subscriptions == nil {
		a.writeError(w, r, ErrNotAvailable)
		return
	}
	userID, _ := UserID(r.Context())
	if err := a.deps.Subscriptions.Unregister(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) getPreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	p, err := a.deps.Preferences.Get(r.Context(), userID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) updatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserID(r.Context())
	var patch preferences.Patch
	if err := decode(w, r, &patch); err != nil {
		a.writeError(w, r, err)
		return
	}
	p, err := a.deps.Preferences.Update(r.Context(), userID, patch)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
