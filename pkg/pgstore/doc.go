// Package pgstore implements the notification storage interfaces on
// PostgreSQL through pgx/v5.
//
// The schema lives in embedded goose migrations (see Migrations). Inserts into
// the notifications table fire pg_notify on the notification_inserted channel,
// which ChangeFeed turns into realtime.Change events so every instance can fan
// out notifications created elsewhere.
package pgstore
