// Package preferences stores per-user channel preferences: which categories
// may reach the user by email or push, digest subscriptions, quiet hours and
// timezone.
//
// A preference row is created lazily with defaults the first time it is read,
// so callers never observe a missing row. Updates are partial: only the
// fields set in a Patch are changed.
package preferences
