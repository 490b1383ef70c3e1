package digest

import "time"

// Config holds digest scheduling settings.
type Config struct {
	Enabled     bool          `env:"DIGEST_ENABLED" envDefault:"true"`
	DailySpec   string        `env:"DIGEST_DAILY_SPEC" envDefault:"0 * * * *"`
	WeeklySpec  string        `env:"DIGEST_WEEKLY_SPEC" envDefault:"0 * * * *"`
	Timezone    string        `env:"DIGEST_CRON_TZ" envDefault:"UTC"`   // zone the cron specs are evaluated in
	SendHour    int           `env:"DIGEST_SEND_HOUR" envDefault:"7"`   // local hour in each user's timezone
	ClaimTTL    time.Duration `env:"DIGEST_CLAIM_TTL" envDefault:"30m"` // a pending claim older than this can be retaken
	Concurrency int           `env:"DIGEST_CONCURRENCY" envDefault:"4"`
}
