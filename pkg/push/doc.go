// Package push manages browser push subscriptions and delivers payloads to
// every endpoint of a user.
//
// Deliveries for all users share one bounded pool, and each endpoint gets its
// own timeout. A failing endpoint never affects the others. Endpoints that
// report they are gone (HTTP 404/410) are pruned from the store unless
// pruning is disabled.
//
// The Transport interface isolates the wire protocol. WebPushTransport sends
// VAPID-signed Web Push messages; tests use an in-memory fake.
package push
