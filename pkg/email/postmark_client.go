package email

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mrz1836/postmark"
)

// postmarkAPI is the part of *postmark.Client the sender uses.
type postmarkAPI interface {
	SendEmail(ctx context.Context, email postmark.Email) (postmark.EmailResponse, error)
}

// PostmarkSender delivers mail through Postmark's transactional API.
// Replies go to the support address; open tracking is off.
type PostmarkSender struct {
	api     postmarkAPI
	from    string
	replyTo string
	logger  *slog.Logger
}

// PostmarkOption configures a PostmarkSender.
type PostmarkOption func(*PostmarkSender)

// WithPostmarkLogger sets the sender logger.
func WithPostmarkLogger(l *slog.Logger) PostmarkOption {
	return func(s *PostmarkSender) {
		if l != nil {
			s.logger = l
		}
	}
}

func withPostmarkAPI(api postmarkAPI) PostmarkOption {
	return func(s *PostmarkSender) { s.api = api }
}

// NewPostmarkClient validates cfg and creates a Postmark sender.
func NewPostmarkClient(cfg Config, opts ...PostmarkOption) (*PostmarkSender, error) {
	if err := cfg.validatePostmark(); err != nil {
		return nil, err
	}

	s := &PostmarkSender{
		from:    cfg.SenderEmail,
		replyTo: cfg.SupportEmail,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.api == nil {
		s.api = postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken)
	}
	return s, nil
}

func (c Config) validatePostmark() error {
	var errs []error
	if !c.PostmarkEnabled() {
		errs = append(errs, errors.New("postmark server and account tokens are required"))
	}
	if !emailRegex.MatchString(c.SenderEmail) {
		errs = append(errs, fmt.Errorf("invalid sender address %q", c.SenderEmail))
	}
	if !emailRegex.MatchString(c.SupportEmail) {
		errs = append(errs, fmt.Errorf("invalid support address %q", c.SupportEmail))
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{ErrInvalidConfig}, errs...)...)
	}
	return nil
}

func (s *PostmarkSender) SendEmail(ctx context.Context, params SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := s.api.SendEmail(ctx, postmark.Email{
		From:       s.from,
		ReplyTo:    s.replyTo,
		To:         params.SendTo,
		Subject:    params.Subject,
		Tag:        params.Tag,
		HTMLBody:   params.BodyHTML,
		TrackOpens: false,
	})
	if err != nil {
		return errors.Join(ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(ErrFailedToSendEmail, fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message))
	}

	s.logger.LogAttrs(ctx, slog.LevelDebug, "email accepted by postmark",
		slog.String("tag", params.Tag),
		slog.String("message_id", resp.MessageID),
	)
	return nil
}
