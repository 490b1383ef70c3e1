package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/SherClockHolmes/webpush-go"
)

// WebPushTransport delivers VAPID-signed Web Push messages.
type WebPushTransport struct {
	publicKey  string
	privateKey string
	subscriber string
	ttl        time.Duration
	client     webpush.HTTPClient
}

// WebPushOption configures a WebPushTransport.
type WebPushOption func(*WebPushTransport)

// WithHTTPClient overrides the HTTP client used to reach push services.
func WithHTTPClient(c webpush.HTTPClient) WebPushOption {
	return func(t *WebPushTransport) {
		if c != nil {
			t.client = c
		}
	}
}

// NewWebPushTransport creates a Web Push transport from cfg.
func NewWebPushTransport(cfg Config, opts ...WebPushOption) (*WebPushTransport, error) {
	if !cfg.Enabled() {
		return nil, errors.New("push: VAPID keys are not configured")
	}
	t := &WebPushTransport{
		publicKey:  cfg.VAPIDPublicKey,
		privateKey: cfg.VAPIDPrivateKey,
		subscriber: strings.TrimPrefix(cfg.Subscriber, "mailto:"),
		ttl:        cfg.TTL,
		client:     &http.Client{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *WebPushTransport) Send(ctx context.Context, sub Subscription, payload Payload) error {
	body, err := payload.Marshal()
	if err != nil {
		return &DeliveryError{Kind: KindOther, Err: err}
	}

	urgency := webpush.UrgencyNormal
	switch payload.Urgency {
	case UrgencyHigh:
		urgency = webpush.UrgencyHigh
	case UrgencyLow:
		urgency = webpush.UrgencyLow
	}

	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{Auth: sub.Keys.Auth, P256dh: sub.Keys.P256dh},
	}, &webpush.Options{
		HTTPClient:      t.client,
		Subscriber:      t.subscriber,
		VAPIDPublicKey:  t.publicKey,
		VAPIDPrivateKey: t.privateKey,
		TTL:             int(t.ttl.Seconds()),
		Urgency:         urgency,
	})
	if err != nil {
		return &DeliveryError{Kind: Classify(err), Err: err}
	}
	defer resp.Body.Close()

	kind := KindForStatus(resp.StatusCode)
	if kind == "" {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &DeliveryError{
		Kind:       kind,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("push service responded %s: %s", resp.Status, strings.TrimSpace(string(msg))),
	}
}
