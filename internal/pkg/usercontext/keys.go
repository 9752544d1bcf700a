package usercontext

// Shared Locals/session keys used across controllers and middlewares
const (
	AuthKey          = "authenticated"
	KeyMemberID      = "member_id"
	KeyMemberName    = "member_name"
	KeyIsAdmin       = "isAdmin"
	KeyFromProtected = "from_protected"
)
