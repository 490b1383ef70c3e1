// Package api exposes the notifier over HTTP with chi.
//
// Identity is taken from the X-User-ID header, which an upstream
// authentication proxy is trusted to set; requests to user routes without it
// are rejected with 401. POST /events is meant for internal producers and
// carries the recipient in the body.
//
// Errors are rendered as {"error": "..."}: not found maps to 404, validation
// failures to 400 and an unavailable store to 503.
//
// Two realtime transports are served: a WebSocket stream of JSON frames at
// /notifications/ws and a Datastar SSE stream at /notifications/stream that
// patches the unreadCount and latest signals.
package api
