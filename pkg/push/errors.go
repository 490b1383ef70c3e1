package push

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotFound                   = errors.New("push: subscription not found")
	ErrInvalidSubscription        = errors.New("push: endpoint and keys are required")
	ErrEndpointOwnedByAnotherUser = errors.New("push: endpoint is registered by another user")
	ErrDuplicateEndpoint          = errors.New("push: endpoint already registered")
	ErrStoreUnavailable           = errors.New("push: store unavailable")

	// ErrEndpointGone means the push service no longer accepts messages for the endpoint.
	ErrEndpointGone = errors.New("push: endpoint gone")
	// ErrTransient means the delivery may succeed if retried later.
	ErrTransient = errors.New("push: transient delivery failure")
	// ErrDeliveryFailed covers every other rejection.
	ErrDeliveryFailed = errors.New("push: delivery failed")
)

// Kind classifies a delivery failure.
type Kind string

const (
	KindGone      Kind = "gone"
	KindTransient Kind = "transient"
	KindOther     Kind = "other"
)

func (k Kind) sentinel() error {
	switch k {
	case KindGone:
		return ErrEndpointGone
	case KindTransient:
		return ErrTransient
	}
	return ErrDeliveryFailed
}

// DeliveryError is returned by transports for a failed delivery.
type DeliveryError struct {
	Kind       Kind
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("push: %s delivery failure (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("push: %s delivery failure: %v", e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{e.Kind.sentinel(), e.Err}
}

// Classify maps any transport error to a Kind. Timeouts and network errors
// are transient.
func Classify(err error) Kind {
	var de *DeliveryError
	switch {
	case errors.As(err, &de):
		return de.Kind
	case errors.Is(err, ErrEndpointGone):
		return KindGone
	case errors.Is(err, ErrTransient), errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return KindTransient
	}
	return KindOther
}

// KindForStatus maps a push service HTTP status to a Kind. Success codes
// return the empty Kind.
func KindForStatus(code int) Kind {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code == 404 || code == 410:
		return KindGone
	case code == 408 || code == 429 || code >= 500:
		return KindTransient
	}
	return KindOther
}
