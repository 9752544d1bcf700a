package usercontext

import "github.com/gofiber/fiber/v2"

// MemberContext represents the complete member context for a request
type MemberContext struct {
	MemberID   uint   `json:"member_id"`
	Name       string `json:"name"`
	IsLoggedIn bool   `json:"is_logged_in"`
	IsAdmin    bool   `json:"is_admin"`
	Tier       string `json:"tier"`
	Status     string `json:"status"`
}

// GetMemberContext retrieves the member context from fiber context.
// Returns a default anonymous context if none is set
func GetMemberContext(c *fiber.Ctx) MemberContext {
	if ctx := c.Locals("MEMBER_CONTEXT"); ctx != nil {
		return ctx.(MemberContext)
	}
	return MemberContext{IsLoggedIn: false, IsAdmin: false}
}

// IsLoggedIn checks if the current member is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetMemberContext(c).IsLoggedIn
}

// IsAdmin checks if the current member is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetMemberContext(c).IsAdmin
}

// GetMemberID returns the current member's ID, or 0 if not logged in
func GetMemberID(c *fiber.Ctx) uint {
	return GetMemberContext(c).MemberID
}
