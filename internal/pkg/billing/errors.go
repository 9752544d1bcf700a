package billing

import "errors"

// Error taxonomy for the reconciliation engine. The HTTP layer maps these
// to permanent (4xx) or transient (5xx) responses; anything not listed here
// is treated as transient so the gateway redelivers.
var (
	ErrBadSignature         = errors.New("billing: invalid webhook signature")
	ErrMalformedPayload     = errors.New("billing: malformed webhook payload")
	ErrUnknownGateway       = errors.New("billing: unknown gateway")
	ErrUnknownTier          = errors.New("billing: unknown tier")
	ErrUnsupportedCurrency  = errors.New("billing: unsupported currency")
	ErrAlreadyOnTier        = errors.New("billing: member already on requested tier")
	ErrNoActiveSubscription = errors.New("billing: no active subscription")
	ErrGatewayMismatch      = errors.New("billing: member is billed through a different gateway")
	ErrSubjectUnresolved    = errors.New("billing: webhook subject could not be resolved")
)

// IsPermanent reports whether an error must not trigger gateway redelivery.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrBadSignature) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrUnknownGateway)
}
