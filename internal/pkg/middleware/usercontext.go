package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/inkpress/inkpress/app/models"
	"github.com/inkpress/inkpress/internal/pkg/database"
	"github.com/inkpress/inkpress/internal/pkg/session"
	"github.com/inkpress/inkpress/internal/pkg/usercontext"
)

// MemberContextMiddleware sets up the complete member context for every
// request. This centralizes session handling so controllers read one
// Locals value instead of poking the session store themselves.
func MemberContextMiddleware(c *fiber.Ctx) error {
	anonymous := func() error {
		c.Locals("MEMBER_CONTEXT", usercontext.MemberContext{
			IsLoggedIn: false,
			IsAdmin:    false,
			Tier:       models.TierFree,
		})
		c.Locals(usercontext.KeyFromProtected, false)
		c.Locals(usercontext.KeyIsAdmin, false)
		return c.Next()
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return anonymous()
	}

	memberID := sess.Get(usercontext.KeyMemberID)
	if memberID == nil {
		return anonymous()
	}
	id, ok := memberID.(uint)
	if !ok {
		return anonymous()
	}

	name := session.GetSessionValue(c, usercontext.KeyMemberName)
	isAdmin := sess.Get(usercontext.KeyIsAdmin)

	// Tier and status are read fresh from the database: webhook
	// reconciliation changes them out-of-band and entitlement checks must
	// not trust a stale session copy.
	tier := models.TierFree
	status := models.SubscriptionStatusNone
	if db := database.GetDB(); db != nil {
		var m models.Member
		if err := db.Select("tier", "subscription_status").First(&m, id).Error; err == nil {
			tier = m.Tier
			status = m.SubscriptionStatus
		}
	}

	c.Locals("MEMBER_CONTEXT", usercontext.MemberContext{
		MemberID:   id,
		Name:       name,
		IsLoggedIn: true,
		IsAdmin:    isAdmin != nil && isAdmin == true,
		Tier:       tier,
		Status:     status,
	})

	c.Locals(usercontext.KeyFromProtected, true)
	c.Locals(usercontext.KeyMemberName, name)
	c.Locals(usercontext.KeyMemberID, id)
	c.Locals(usercontext.KeyIsAdmin, isAdmin != nil && isAdmin == true)

	return c.Next()
}
