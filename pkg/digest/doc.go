// Package digest sends periodic summaries of the notifications a user
// received during the last complete day or ISO week of their local time.
//
// Each (user, period, window) is guarded by a marker. A run claims the marker
// before sending and marks it sent afterwards, so overlapping or repeated
// runs deliver each window at most once. A failed send releases the claim
// and a later run retries. Windows without notifications are marked sent
// without any delivery.
//
// A window is delivered once the user's local clock reaches the configured
// send hour on the day the window ends. The scheduler fires hourly by
// default, so users in every timezone get the window that just closed.
//
// Scheduler triggers Job runs from cron specs; RunNow runs a job on demand.
package digest
