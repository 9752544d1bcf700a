package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	ROLE_USER  = "user"
	ROLE_ADMIN = "admin"
)

// Membership tiers. Tier is the product level a member is entitled to;
// it is written exclusively by the billing state machine.
const (
	TierFree    = "free"
	TierPremium = "premium"
	TierVIP     = "vip"
)

// Billing statuses a member can be in.
const (
	SubscriptionStatusNone     = "none"
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusCanceled = "canceled"
)

// Supported payment gateways.
const (
	GatewayStripe   = "stripe"
	GatewayPayPal   = "paypal"
	GatewayPaystack = "paystack"
)

// Member is a platform account together with its billing state. The billing
// fields (Tier, SubscriptionStatus, Gateway, GatewaySubscriptionID and the
// subscription window) are only ever written through the billing repository's
// compare-and-set update, keyed on Version.
type Member struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Name     string `gorm:"type:varchar(150)" json:"name" validate:"required,min=3,max=150"`
	Email    string `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,min=5,max=200"`
	Password string `gorm:"type:text" json:"-" validate:"required,min=6"`
	Role     string `gorm:"type:varchar(50);default:'user'" json:"role" validate:"oneof=user admin"`

	Tier                  string     `gorm:"type:varchar(20);not null;default:'free';index" json:"tier"`
	SubscriptionStatus    string     `gorm:"type:varchar(20);not null;default:'none';index" json:"subscription_status"`
	Gateway               string     `gorm:"type:varchar(20);default:''" json:"gateway,omitempty"`
	GatewaySubscriptionID string     `gorm:"type:varchar(191);default:'';index:idx_members_gateway_sub" json:"gateway_subscription_id,omitempty"`
	SubscriptionStartDate *time.Time `gorm:"type:timestamp;default:null" json:"subscription_start_date,omitempty"`
	SubscriptionEndDate   *time.Time `gorm:"type:timestamp;default:null" json:"subscription_end_date,omitempty"`
	// CanceledAt is the gateway-side timestamp of the most recent
	// cancellation. Events that predate it must not resurrect the member.
	CanceledAt *time.Time `gorm:"type:timestamp;default:null" json:"-"`

	// Version guards all billing-field writes (optimistic CAS).
	Version uint64 `gorm:"not null;default:0" json:"-"`

	LastLoginAt *time.Time     `gorm:"type:timestamp;default:null" json:"last_login_at"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}

func (m *Member) Validate() error {
	v := validator.New()
	return v.Struct(m)
}

// CreateMember builds a new member with defaults (FREE tier, NONE status)
// and a hashed password. The caller persists it.
func CreateMember(name, email, password string) (*Member, error) {
	pw, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	m := &Member{
		Name:               name,
		Email:              email,
		Password:           pw,
		Role:               ROLE_USER,
		Tier:               TierFree,
		SubscriptionStatus: SubscriptionStatusNone,
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	return string(bytes), err
}

func (m *Member) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(m.Password), []byte(password))
	return err == nil
}

// IsKnownGateway reports whether g names one of the supported gateways.
func IsKnownGateway(g string) bool {
	switch g {
	case GatewayStripe, GatewayPayPal, GatewayPaystack:
		return true
	default:
		return false
	}
}

// IsKnownTier reports whether t is a purchasable tier (FREE is not).
func IsKnownTier(t string) bool {
	switch t {
	case TierPremium, TierVIP:
		return true
	default:
		return false
	}
}

// HasActiveSubscription reports whether the member currently holds a paid
// billing relationship (trial counts, past-due still does until the
// gateway cancels).
func (m *Member) HasActiveSubscription() bool {
	switch m.SubscriptionStatus {
	case SubscriptionStatusActive, SubscriptionStatusTrialing, SubscriptionStatusPastDue:
		return true
	default:
		return false
	}
}
