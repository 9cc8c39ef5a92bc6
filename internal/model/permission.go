// Package model defines the data structures used throughout the application.
package model

// Permission is a bitmask of capabilities. Individual permissions are powers
// of two and combine with bitwise OR:
//
//	Follow | Comment | WriteArticles  →  0x07
type Permission int

const (
	PermFollow           Permission = 0x01
	PermComment          Permission = 0x02
	PermWriteArticles    Permission = 0x04
	PermModerateComments Permission = 0x08
	PermAdminister       Permission = 0x80

	// PermAll is the mask held by the administrator role.
	PermAll Permission = 0xFF
)

// Role aggregates permissions under a unique name. Exactly one role is
// flagged IsDefault; the seeding routine keeps it that way.
type Role struct {
	ID          string     `json:"id"          db:"id"`
	Name        string     `json:"name"        db:"name"`
	IsDefault   bool       `json:"isDefault"   db:"is_default"`
	Permissions Permission `json:"permissions" db:"permissions"`
}

// Has reports whether every bit in required is set on the role.
// A nil role has no permissions.
func (r *Role) Has(required Permission) bool {
	return r != nil && r.Permissions&required == required
}

// HasPermission is the free-function form of Role.Has.
func HasPermission(role *Role, required Permission) bool {
	return role.Has(required)
}

// IsAdministrator reports whether role carries the ADMINISTER bit.
func IsAdministrator(role *Role) bool {
	return role.Has(PermAdminister)
}

// Principal is an authenticated caller: the user plus their resolved role.
//
// A nil *Principal is an anonymous caller. A Principal whose Role is nil is
// authenticated but holds no permissions. The two are different states and
// the authorization gate reports them differently (401 vs 403).
type Principal struct {
	User *User
	Role *Role
}

// Can reports whether the principal holds every bit in required.
func (p *Principal) Can(required Permission) bool {
	return p != nil && p.Role.Has(required)
}

// IsAdministrator reports whether the principal holds ADMINISTER.
func (p *Principal) IsAdministrator() bool {
	return p.Can(PermAdminister)
}

// UserID returns the principal's user ID, or "" for an anonymous caller.
func (p *Principal) UserID() string {
	if p == nil || p.User == nil {
		return ""
	}
	return p.User.ID
}
