// Package permission decides whether a guild member may use a command or a
// component.
package permission

import "github.com/bwmarrin/discordgo"

// Administrator grants every permission flag, the same way the platform treats
// it when computing channel permissions.
const Administrator int64 = discordgo.PermissionAdministrator

// AccessRule gates a module or a command. A member satisfies the rule when they
// hold ANY of the listed roles OR ANY of the listed permission flags.
type AccessRule struct {
	Roles       []string `json:"roles,omitempty"`
	Permissions []int64  `json:"permissions,omitempty"`
}

// Member is the acting guild member as seen by the resolver.
type Member struct {
	UserID      string
	UserName    string
	Roles       []string
	Permissions int64
}

// HasRole reports whether the member holds the given role.
func (m *Member) HasRole(id string) bool {
	for _, r := range m.Roles {
		if r == id {
			return true
		}
	}
	return false
}

// HasPermission reports whether the member's permission bitset contains the
// flag. Administrators hold every flag.
func (m *Member) HasPermission(flag int64) bool {
	if m.Permissions&Administrator == Administrator {
		return true
	}
	return flag != 0 && m.Permissions&flag == flag
}

// Resolve picks the rule that applies to an action. A command rule is used
// exclusively when present, otherwise the owning module's rule applies. A nil
// result means the action is open.
func Resolve(command, module *AccessRule) *AccessRule {
	if command != nil {
		return command
	}
	return module
}

// IsAllowed evaluates a resolved rule against a member. A missing member is
// always denied and a missing rule always allows.
func IsAllowed(rule *AccessRule, member *Member) bool {
	if member == nil {
		return false
	}
	if rule == nil {
		return true
	}
	for _, id := range rule.Roles {
		if member.HasRole(id) {
			return true
		}
	}
	for _, flag := range rule.Permissions {
		if member.HasPermission(flag) {
			return true
		}
	}
	return false
}

// Check resolves the applicable rule and evaluates it in one step.
func Check(command, module *AccessRule, member *Member) bool {
	return IsAllowed(Resolve(command, module), member)
}
