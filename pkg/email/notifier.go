package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dmitrymomot/notifier/pkg/digest"
	"github.com/dmitrymomot/notifier/pkg/email/templates"
	"github.com/dmitrymomot/notifier/pkg/logger"
	"github.com/dmitrymomot/notifier/pkg/notifications"
)

// RecipientResolver looks up a user's email address.
// It returns ErrRecipientNotFound when the user has none.
type RecipientResolver interface {
	Email(ctx context.Context, userID string) (string, error)
}

// ResolverFunc adapts a function to RecipientResolver.
type ResolverFunc func(ctx context.Context, userID string) (string, error)

func (f ResolverFunc) Email(ctx context.Context, userID string) (string, error) {
	return f(ctx, userID)
}

// StaticResolver resolves addresses from a fixed map.
type StaticResolver map[string]string

func (s StaticResolver) Email(_ context.Context, userID string) (string, error) {
	addr, ok := s[userID]
	if !ok || addr == "" {
		return "", ErrRecipientNotFound
	}
	return addr, nil
}

// Notifier renders notifications and digests and hands them to an EmailSender.
type Notifier struct {
	sender    EmailSender
	resolver  RecipientResolver
	appURL    string
	subjectFn func(notifications.Notification) string
	logger    *slog.Logger
}

// NotifierOption configures a Notifier.
type NotifierOption func(*Notifier)

// WithAppURL sets the base URL used for settings links and relative action URLs.
func WithAppURL(u string) NotifierOption {
	return func(n *Notifier) {
		n.appURL = strings.TrimRight(u, "/")
	}
}

// WithSubject overrides how a notification subject line is built.
func WithSubject(fn func(notifications.Notification) string) NotifierOption {
	return func(n *Notifier) {
		if fn != nil {
			n.subjectFn = fn
		}
	}
}

// WithNotifierLogger sets the logger.
func WithNotifierLogger(l *slog.Logger) NotifierOption {
	return func(n *Notifier) {
		if l != nil {
			n.logger = l
		}
	}
}

// NewNotifier creates a Notifier.
func NewNotifier(sender EmailSender, resolver RecipientResolver, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		sender:    sender,
		resolver:  resolver,
		subjectFn: func(n notifications.Notification) string { return n.Title },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SendNotification emails a single notification to its owner.
func (n *Notifier) SendNotification(ctx context.Context, notif notifications.Notification) error {
	to, err := n.recipient(ctx, notif.UserID)
	if err != nil {
		return err
	}

	body, err := templates.Render(ctx, templates.NotificationEmail(templates.NotificationData{
		Title:     notif.Title,
		Message:   notif.Message,
		ActionURL: n.absolute(notif.ActionURL),
		AppURL:    n.appURL,
	}))
	if err != nil {
		return errors.Join(ErrRenderFailed, err)
	}

	if err := n.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   to,
		Subject:  n.subjectFn(notif),
		BodyHTML: body,
		Tag:      "notification-" + string(notif.Type),
	}); err != nil {
		return err
	}

	n.logger.LogAttrs(ctx, slog.LevelDebug, "notification email sent",
		logger.UserID(notif.UserID),
		logger.NotificationID(notif.ID),
	)
	return nil
}

// SendDigest emails an aggregate digest.
func (n *Notifier) SendDigest(ctx context.Context, d digest.Digest) error {
	to, err := n.recipient(ctx, d.UserID)
	if err != nil {
		return err
	}

	items := make([]templates.DigestItem, 0, len(d.Notifications))
	for _, notif := range d.Notifications {
		items = append(items, templates.DigestItem{
			Title:     notif.Title,
			Message:   notif.Message,
			URL:       n.absolute(notif.ActionURL),
			Read:      notif.Read,
			CreatedAt: notif.CreatedAt,
		})
	}

	heading := digestHeading(d.Period)
	body, err := templates.Render(ctx, templates.DigestEmail(templates.DigestData{
		Heading: heading,
		Start:   d.Start,
		End:     d.End,
		Unread:  d.Unread,
		Items:   items,
		AppURL:  n.appURL,
	}))
	if err != nil {
		return errors.Join(ErrRenderFailed, err)
	}

	if err := n.sender.SendEmail(ctx, SendEmailParams{
		SendTo:   to,
		Subject:  fmt.Sprintf("%s: %d new", heading, len(d.Notifications)),
		BodyHTML: body,
		Tag:      "digest-" + string(d.Period),
	}); err != nil {
		return err
	}

	n.logger.LogAttrs(ctx, slog.LevelDebug, "digest email sent",
		logger.UserID(d.UserID),
		logger.Period(string(d.Period)),
		logger.Count(len(d.Notifications)),
	)
	return nil
}

func (n *Notifier) recipient(ctx context.Context, userID string) (string, error) {
	to, err := n.resolver.Email(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrRecipientNotFound) {
			return "", err
		}
		return "", fmt.Errorf("email: resolve recipient: %w", err)
	}
	if to == "" {
		return "", ErrRecipientNotFound
	}
	return to, nil
}

// absolute prefixes site-relative links with the app URL.
func (n *Notifier) absolute(u string) string {
	if n.appURL != "" && strings.HasPrefix(u, "/") && !strings.HasPrefix(u, "//") {
		return n.appURL + u
	}
	return u
}

func digestHeading(p digest.Period) string {
	switch p {
	case digest.Daily:
		return "Your daily digest"
	case digest.Weekly:
		return "Your weekly summary"
	}
	return "Your digest"
}
