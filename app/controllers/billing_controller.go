package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/inkpress/inkpress/app/models"
	"github.com/inkpress/inkpress/app/repository"
	"github.com/inkpress/inkpress/internal/pkg/billing"
	"github.com/inkpress/inkpress/internal/pkg/database"
	"github.com/inkpress/inkpress/internal/pkg/usercontext"
)

var billingService *billing.Service

// SetBillingService injects the shared billing service at startup.
func SetBillingService(s *billing.Service) {
	billingService = s
}

// HandleGatewayWebhook receives one raw webhook delivery. The body is
// passed to the engine untouched; signature schemes sign the exact bytes.
func HandleGatewayWebhook(c *fiber.Ctx) error {
	if billingService == nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Billing not configured"})
	}

	gateway := c.Params("gateway")
	payload := c.Body()

	outcome, err := billingService.HandleWebhook(c.UserContext(), gateway, payload, func(key string) string { return c.Get(key) })
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownGateway):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_gateway"})
		case errors.Is(err, billing.ErrBadSignature):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		case errors.Is(err, billing.ErrMalformedPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed_payload"})
		default:
			// Transient: a 5xx makes the gateway redeliver.
			log.Errorf("[Billing] Webhook processing failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
	}

	resp := fiber.Map{"ok": true}
	if outcome == billing.OutcomeDuplicate {
		resp["duplicate"] = true
	}
	return c.JSON(resp)
}

type checkoutRequest struct {
	Gateway  string `json:"gateway"`
	Tier     string `json:"tier"`
	Currency string `json:"currency"`
}

// HandleCheckout starts a hosted checkout and returns the redirect URL.
func HandleCheckout(c *fiber.Ctx) error {
	memberCtx := usercontext.GetMemberContext(c)
	if !memberCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	member, err := loadMember(memberCtx.MemberID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load account"})
	}

	url, err := billingService.Checkout().StartCheckout(c.UserContext(), member, req.Gateway, strings.ToLower(req.Tier), req.Currency)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownGateway):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_gateway"})
		case errors.Is(err, billing.ErrUnknownTier):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_tier"})
		case errors.Is(err, billing.ErrUnsupportedCurrency):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unsupported_currency"})
		case errors.Is(err, billing.ErrAlreadyOnTier):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_on_tier"})
		case errors.Is(err, billing.ErrGatewayMismatch):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "gateway_mismatch"})
		default:
			log.Errorf("[Billing] Checkout failed for member %d: %v", member.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
	}

	return c.JSON(fiber.Map{"redirect_url": url})
}

type portalRequest struct {
	Gateway string `json:"gateway"`
}

// HandleBillingPortal returns a redirect URL to the gateway's self-service
// portal for the member's current subscription.
func HandleBillingPortal(c *fiber.Ctx) error {
	memberCtx := usercontext.GetMemberContext(c)
	if !memberCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var req portalRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid JSON body"})
	}

	member, err := loadMember(memberCtx.MemberID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load account"})
	}

	gateway := req.Gateway
	if gateway == "" {
		gateway = member.Gateway
	}

	url, err := billingService.Checkout().StartPortalSession(c.UserContext(), member, gateway)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrUnknownGateway):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "unknown_gateway"})
		case errors.Is(err, billing.ErrNoActiveSubscription):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no_active_subscription"})
		default:
			log.Errorf("[Billing] Portal session failed for member %d: %v", member.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
		}
	}

	return c.JSON(fiber.Map{"redirect_url": url})
}

// HandleSubscriptionStatus reports the member's current tier and status.
func HandleSubscriptionStatus(c *fiber.Ctx) error {
	memberCtx := usercontext.GetMemberContext(c)
	if !memberCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	status, err := billingService.GetSubscriptionStatus(memberCtx.MemberID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.JSON(status)
}

// HandlePaymentHistory lists the member's payment ledger entries.
func HandlePaymentHistory(c *fiber.Ctx) error {
	memberCtx := usercontext.GetMemberContext(c)
	if !memberCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	entries, err := billingService.Repository().ListLedgerEntriesByMember(memberCtx.MemberID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	payments := make([]fiber.Map, 0, len(entries))
	for _, e := range entries {
		payments = append(payments, fiber.Map{
			"gateway":     e.Gateway,
			"payment_id":  e.GatewayPaymentID,
			"amount":      e.Amount,
			"currency":    e.Currency,
			"status":      e.Status,
			"description": e.Description,
			"created_at":  e.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	return c.JSON(fiber.Map{"payments": payments})
}

func loadMember(id uint) (*models.Member, error) {
	return repository.GetGlobalFactory(database.GetDB()).GetMemberRepository().GetByID(id)
}
