// Package realtime fans freshly created notifications out to the open
// sessions of their recipient.
//
// Each user has one topic with zero or more sessions (browser tabs, devices).
// Publishing never blocks: a session whose buffer is full is dropped and its
// channel closed, so the client reconnects and resynchronizes from the
// repository. Messages reach each session in publish order.
//
// MemoryHub serves a single process. redis.Hub relays topics between
// instances over Redis pub/sub, and Relay turns a database change feed into
// local publishes so every instance sees inserts made by any other.
package realtime
