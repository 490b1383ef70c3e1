// Package quiethours decides whether a push notification must be held back
// because the recipient is inside their configured quiet window.
//
// Windows are expressed in the user's local wall-clock time and may wrap
// midnight (22:00-08:00). Equal bounds describe an empty window. High
// priority notifications always bypass the window, and only the push
// channel is gated; in-app and email delivery are never affected.
//
//	w, _ := quiethours.ParseWindow("22:00", "08:00")
//	d := quiethours.Evaluate(&w, "Europe/Berlin", time.Now(), notifications.PriorityMedium)
//	if d.SuppressPush {
//	    // skip push
//	}
package quiethours
