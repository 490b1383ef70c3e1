package templates

import (
	"fmt"
	"time"
)

// NotificationData is the view model of a single notification email.
type NotificationData struct {
	Title     string
	Message   string
	ActionURL string
	AppURL    string
}

// DigestItem is one line of a digest email.
type DigestItem struct {
	Title     string
	Message   string
	URL       string
	Read      bool
	CreatedAt time.Time
}

// DigestData is the view model of a digest email. Times are rendered in the
// location of Start.
type DigestData struct {
	Heading string // e.g. "Your daily digest"
	Start   time.Time
	End     time.Time
	Unread  int
	Items   []DigestItem
	AppURL  string
}

func (d DigestData) rangeLabel() string {
	return fmt.Sprintf("%s to %s", d.Start.Format("Jan 2, 2006"), d.End.Add(-time.Second).Format("Jan 2, 2006"))
}

func (d DigestData) summary() string {
	return fmt.Sprintf("%d notifications, %d unread", len(d.Items), d.Unread)
}

func (d DigestData) itemTime(it DigestItem) string {
	return it.CreatedAt.In(d.Start.Location()).Format("Mon 15:04")
}

func settingsURL(appURL string) string {
	return appURL + "/settings/notifications"
}
