package billing

import (
	"context"

	"github.com/inkpress/inkpress/app/models"
)

// HeaderFunc returns the value of a request header by name. The HTTP layer
// passes its header accessor so adapters can read provider-specific
// signature headers without depending on the web framework.
type HeaderFunc func(key string) string

// CheckoutParams is everything an adapter needs to open a hosted checkout.
// MemberID and Tier are embedded in session metadata so the webhook path
// can resolve the member without a separate lookup.
type CheckoutParams struct {
	Member     *models.Member
	CustomerID string
	Tier       string
	Price      ResolvedPrice
	SuccessURL string
	CancelURL  string
}

// Gateway wraps one payment provider behind a uniform interface. Adapters
// are constructed once from configuration and injected; they hold their own
// API client state.
type Gateway interface {
	Name() string

	// VerifySignature authenticates the exact raw bytes received. It must
	// not re-serialize the payload. Returns ErrBadSignature on failure.
	VerifySignature(ctx context.Context, payload []byte, header HeaderFunc) error

	// Normalize parses the provider's event envelope into the common shape.
	// Unknown event types come back as EventUnrecognized, not an error.
	Normalize(payload []byte) (*NormalizedEvent, error)

	// CreateCustomer creates the provider-side customer object for a member.
	// Providers without customer objects return ("", nil); the link is
	// recorded when the first webhook carrying a customer reference arrives.
	CreateCustomer(ctx context.Context, m *models.Member) (string, error)

	// CreateCheckoutSession opens a hosted checkout and returns the URL the
	// member is redirected to.
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (string, error)

	// CreatePortalSession returns a URL where the member manages an
	// existing subscription.
	CreatePortalSession(ctx context.Context, customerID, subscriptionID, returnURL string) (string, error)
}
