// Package redis provides the Redis-backed pieces of the notifier: client
// bootstrap, the shared unread count cache, digest markers and a realtime hub
// that fans notifications out across instances over pub/sub.
//
// All keys share a configurable prefix ("notifier:" by default):
//
//	notifier:unread:<user>                     unread count
//	notifier:digest:<user>:<period>:<unix>     digest marker, "pending" or "sent"
//	notifier:user:<user>                       pub/sub channel of a user
package redis
