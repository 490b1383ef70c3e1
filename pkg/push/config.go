package push

import "time"

// Config holds push delivery settings.
type Config struct {
	VAPIDPublicKey  string        `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string        `env:"VAPID_PRIVATE_KEY"`
	Subscriber      string        `env:"VAPID_SUBSCRIBER" envDefault:"mailto:notifications@example.com"` // contact URI sent to push services
	TTL             time.Duration `env:"PUSH_TTL" envDefault:"24h"`                                        // how long push services keep undelivered messages
	MaxInFlight     int64         `env:"PUSH_MAX_IN_FLIGHT" envDefault:"16"`                               // deliveries in flight across all users
	EndpointTimeout time.Duration `env:"PUSH_ENDPOINT_TIMEOUT" envDefault:"10s"`
	PruneGone       bool          `env:"PUSH_PRUNE_GONE" envDefault:"true"`
}

// Enabled reports whether VAPID keys are configured.
func (c Config) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}
