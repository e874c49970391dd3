package dynvoice

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/bwmarrin/discordgo"
)

// Permission is a capability which can be granted to roles via
// [DiscordConfig.Permissions].
type Permission string

const (
	// PermissionOverrideOwner lets a member manage any dynamic channel as if
	// they owned it
	PermissionOverrideOwner Permission = "override_owner"

	PermissionDynRead   Permission = "dyn_read"
	PermissionDynWrite  Permission = "dyn_write"
	PermissionDynRename Permission = "dyn_rename"

	PermissionLinkRead  Permission = "link_read"
	PermissionLinkWrite Permission = "link_write"

	PermissionWhitelistRead       Permission = "dyn_whitelist_read"
	PermissionWhitelistWrite      Permission = "dyn_whitelist_write"
	PermissionWhitelistCheck      Permission = "dyn_whitelist_check"
	PermissionWhitelistCheckParts Permission = "dyn_whitelist_check_parts"
	PermissionWhitelistList       Permission = "dyn_whitelist_list"
)

func permissions() []Permission {
	return []Permission{
		PermissionOverrideOwner,
		PermissionDynRead,
		PermissionDynWrite,
		PermissionDynRename,
		PermissionLinkRead,
		PermissionLinkWrite,
		PermissionWhitelistRead,
		PermissionWhitelistWrite,
		PermissionWhitelistCheck,
		PermissionWhitelistCheckParts,
		PermissionWhitelistList,
	}
}

// ParsePermission returns the Permission named s
func ParsePermission(s string) (Permission, error) {
	p := Permission(s)
	if slices.Contains(permissions(), p) {
		return p, nil
	}
	return "", fmt.Errorf("unknown permission: %q", s)
}

// Actor is whoever invokes an Engine operation.
type Actor struct {
	MemberID string
	RoleIDs  []string
	system   bool
}

// MemberActor returns an Actor for a guild member
func MemberActor(m *discordgo.Member) Actor {
	a := Actor{MemberID: memberID(m)}
	if m != nil {
		a.RoleIDs = m.Roles
	}
	return a
}

// SystemActor returns an Actor which passes every authorization check.
// It's used for operations triggered by the admin API.
func SystemActor() Actor {
	return Actor{system: true}
}

// IsSystem reports whether a was created by SystemActor
func (a Actor) IsSystem() bool {
	return a.system
}

// Authorizer answers whether an actor holds a capability.
type Authorizer interface {
	HasPermission(ctx context.Context, actor Actor, perm Permission) bool
}

// RoleAuthorizer grants permissions to members holding specific roles
type RoleAuthorizer struct {
	grants map[Permission]map[string]struct{}
}

// NewRoleAuthorizer builds a RoleAuthorizer from a map of permission
// names to role IDs. Unknown permission names are an error.
func NewRoleAuthorizer(grants map[string][]string) (*RoleAuthorizer, error) {
	a := &RoleAuthorizer{grants: map[Permission]map[string]struct{}{}}
	for name, roleIDs := range grants {
		p, err := ParsePermission(name)
		if err != nil {
			return nil, err
		}
		roles, ok := a.grants[p]
		if !ok {
			roles = map[string]struct{}{}
			a.grants[p] = roles
		}
		for _, r := range roleIDs {
			roles[r] = struct{}{}
		}
	}
	return a, nil
}

func (a *RoleAuthorizer) HasPermission(_ context.Context, actor Actor, perm Permission) bool {
	if actor.system {
		return true
	}
	roles := a.grants[perm]
	for _, r := range actor.RoleIDs {
		if _, ok := roles[r]; ok {
			return true
		}
	}
	return false
}

// Grants returns the role IDs granted perm, sorted
func (a *RoleAuthorizer) Grants(perm Permission) []string {
	rv := make([]string, 0, len(a.grants[perm]))
	for r := range a.grants[perm] {
		rv = append(rv, r)
	}
	sort.Strings(rv)
	return rv
}
