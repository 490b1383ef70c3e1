package email

import "errors"

var (
	ErrFailedToSendEmail  = errors.New("email: failed to send email")
	ErrInvalidConfig      = errors.New("email: invalid config")
	ErrInvalidParams      = errors.New("email: invalid email params")
	ErrRecipientNotFound  = errors.New("email: recipient has no email address")
	ErrRenderFailed       = errors.New("email: failed to render template")
)
