package preferences

import (
	"github.com/dmitrymomot/notifier/pkg/quiethours"
)

// TogglesPatch changes individual category toggles.
type TogglesPatch struct {
	Assignments *bool `json:"assignments,omitempty"`
	Grades      *bool `json:"grades,omitempty"`
	Messages    *bool `json:"messages,omitempty"`
	System      *bool `json:"system,omitempty"`
}

func (p *TogglesPatch) apply(t *Toggles) {
	if p == nil {
		return
	}
	setBool(&t.Assignments, p.Assignments)
	setBool(&t.Grades, p.Grades)
	setBool(&t.Messages, p.Messages)
	setBool(&t.System, p.System)
}

// Patch is a partial preference update. Nil fields are left unchanged.
// ClearQuietHours removes the quiet window and wins over QuietHours.
type Patch struct {
	Email           *TogglesPatch      `json:"email,omitempty"`
	Push            *TogglesPatch      `json:"push,omitempty"`
	DailyDigest     *bool              `json:"daily_digest,omitempty"`
	WeeklySummary   *bool              `json:"weekly_summary,omitempty"`
	MarketingEmails *bool              `json:"marketing_emails,omitempty"`
	QuietHours      *quiethours.Window `json:"quiet_hours,omitempty"`
	ClearQuietHours bool               `json:"clear_quiet_hours,omitempty"`
	Timezone        *string            `json:"timezone,omitempty"`
}

// Validate checks the patch without applying it.
func (p Patch) Validate() error {
	if p.Timezone != nil {
		if _, err := quiethours.LoadLocation(*p.Timezone); err != nil {
			return ErrInvalidTimezone
		}
	}
	if w := p.QuietHours; w != nil && !p.ClearQuietHours {
		if w.Start < 0 || w.Start >= 24*60 || w.End < 0 || w.End >= 24*60 {
			return ErrInvalidQuietHour
		}
	}
	return nil
}

// Apply returns pref with the patch applied.
func (p Patch) Apply(pref Preference) Preference {
	p.Email.apply(&pref.Email)
	p.Push.apply(&pref.Push)
	setBool(&pref.DailyDigest, p.DailyDigest)
	setBool(&pref.WeeklySummary, p.WeeklySummary)
	setBool(&pref.MarketingEmails, p.MarketingEmails)

	switch {
	case p.ClearQuietHours:
		pref.QuietHours = nil
	case p.QuietHours != nil:
		w := *p.QuietHours
		pref.QuietHours = &w
	}

	if p.Timezone != nil {
		pref.Timezone = *p.Timezone
		if pref.Timezone == "" {
			pref.Timezone = "UTC"
		}
	}
	return pref
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
