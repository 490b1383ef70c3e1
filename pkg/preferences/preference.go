package preferences

import (
	"time"

	"github.com/dmitrymomot/notifier/pkg/quiethours"
)

// Category groups events for preference lookups.
type Category string

const (
	CategoryAssignments Category = "assignments"
	CategoryGrades      Category = "grades"
	CategoryMessages    Category = "messages"
	CategorySystem      Category = "system"
)

// DigestPeriod identifies a digest subscription.
type DigestPeriod string

const (
	DigestDaily  DigestPeriod = "daily"
	DigestWeekly DigestPeriod = "weekly"
)

// Toggles enables a channel per category.
type Toggles struct {
	Assignments bool `json:"assignments"`
	Grades      bool `json:"grades"`
	Messages    bool `json:"messages"`
	System      bool `json:"system"`
}

// Enabled reports the toggle for c. Unknown categories are disabled.
func (t Toggles) Enabled(c Category) bool {
	switch c {
	case CategoryAssignments:
		return t.Assignments
	case CategoryGrades:
		return t.Grades
	case CategoryMessages:
		return t.Messages
	case CategorySystem:
		return t.System
	}
	return false
}

// Preference is the per-user preference row.
type Preference struct {
	UserID          string             `json:"user_id"`
	Email           Toggles            `json:"email"`
	Push            Toggles            `json:"push"`
	DailyDigest     bool               `json:"daily_digest"`
	WeeklySummary   bool               `json:"weekly_summary"`
	MarketingEmails bool               `json:"marketing_emails"`
	QuietHours      *quiethours.Window `json:"quiet_hours,omitempty"`
	Timezone        string             `json:"timezone"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// Defaults returns the preference a user starts with.
func Defaults(userID string) Preference {
	all := Toggles{Assignments: true, Grades: true, Messages: true, System: true}
	return Preference{
		UserID:        userID,
		Email:         all,
		Push:          all,
		WeeklySummary: true,
		Timezone:      "UTC",
	}
}

// Digest reports whether the user subscribed to the given digest.
func (p Preference) Digest(period DigestPeriod) bool {
	switch period {
	case DigestDaily:
		return p.DailyDigest
	case DigestWeekly:
		return p.WeeklySummary
	}
	return false
}

// Location returns the user's timezone, UTC when unknown.
func (p Preference) Location() *time.Location {
	return quiethours.Location(p.Timezone)
}
