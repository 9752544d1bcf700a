package entitlements

import (
	"strings"

	"github.com/inkpress/inkpress/app/models"
)

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
	TierVIP     Tier = "vip"
)

// TierRank orders tiers so that entitlement checks can compare them.
func TierRank(tier string) int {
	switch Tier(strings.ToLower(strings.TrimSpace(tier))) {
	case TierVIP:
		return 2
	case TierPremium:
		return 1
	default:
		return 0
	}
}

// IsEntitledStatus reports whether a billing status grants access to paid
// content. Anything other than ACTIVE or TRIALING is non-entitled; a member
// in PAST_DUE or CANCELED keeps only free access.
func IsEntitledStatus(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive, models.SubscriptionStatusTrialing:
		return true
	default:
		return false
	}
}

// requiredRank maps an article access level to the minimum tier rank.
func requiredRank(access string) int {
	switch strings.ToLower(strings.TrimSpace(access)) {
	case models.ArticleAccessVIP:
		return 2
	case models.ArticleAccessPremium:
		return 1
	default:
		return 0
	}
}

// CanReadArticle decides full-body visibility for a member with the given
// tier and billing status. Public articles are always readable; paid
// articles require an entitled status and a sufficient tier.
func CanReadArticle(tier, status, access string) bool {
	need := requiredRank(access)
	if need == 0 {
		return true
	}
	if !IsEntitledStatus(status) {
		return false
	}
	return TierRank(tier) >= need
}
