// Package dispatch turns domain events into notifications and routes them to
// the delivery channels a user has enabled.
//
// Dispatch persists the notification on the caller's goroutine and returns as
// soon as the row exists. Realtime, push and email delivery then run as
// background tasks detached from the caller's context; their failures are
// logged and counted but never returned. Shutdown cancels outstanding tasks
// and waits for them to exit.
//
// Realtime publishes for one user run on a per-user queue filled under the
// same lock as the persist, so sessions see a user's notifications in the
// order they were stored. Preferences are loaded off the caller's path too.
//
// Push is gated by the user's push toggle for the event category and by
// quiet hours. Email is gated by the email toggle only. Digests need no
// action at dispatch time: every persisted notification is eligible for the
// digest window it falls in.
package dispatch
