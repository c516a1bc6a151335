package rbac

import (
	"sort"

	"github.com/staykeeper/gatehouse/pkg/auth"
)

// Mode selects how a set of required permissions is evaluated.
type Mode int

const (
	// ModeAll requires every listed permission.
	ModeAll Mode = iota
	// ModeAny requires at least one listed permission.
	ModeAny
)

// Filter is an ownership constraint hint returned to callers. The caller
// applies it to its own queries; the resolver does not enforce it.
type Filter struct {
	Field string
	Value string
}

// Resolver merges the static permission floor with stored role grants and
// answers authority questions.
type Resolver struct {
	floor  map[string][]string
	levels map[string]int
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFloor replaces the static role→permission floor table.
func WithFloor(floor map[string][]string) ResolverOption {
	return func(r *Resolver) {
		if floor != nil {
			r.floor = floor
		}
	}
}

// WithAuthorityLevels replaces the role authority table.
func WithAuthorityLevels(levels map[string]int) ResolverOption {
	return func(r *Resolver) {
		if levels != nil {
			r.levels = levels
		}
	}
}

// NewResolver creates a resolver with the default hotel back-office floor
// and authority tables.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		floor:  defaultFloor(),
		levels: defaultAuthorityLevels(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultFloor() map[string][]string {
	return map[string][]string{
		auth.RoleHousekeeping: {
			"view_rooms",
			"update_room_status",
		},
		auth.RoleReceptionist: {
			"view_rooms",
			"view_guests",
			"manage_reservations",
			"check_in",
			"check_out",
		},
		auth.RoleManager: {
			"view_rooms",
			"view_guests",
			"manage_reservations",
			"check_in",
			"check_out",
			"manage_payments",
			"manage_rates",
			"view_reports",
		},
		auth.RoleAdmin: {
			"view_rooms",
			"view_guests",
			"manage_reservations",
			"check_in",
			"check_out",
			"manage_payments",
			"manage_rates",
			"view_reports",
			"manage_staff",
			"manage_roles",
		},
	}
}

func defaultAuthorityLevels() map[string]int {
	return map[string]int{
		auth.RoleHousekeeping: 10,
		auth.RoleReceptionist: 20,
		auth.RoleManager:      30,
		auth.RoleAdmin:        40,
	}
}

// Resolve returns the role's effective permission set: the static floor
// for its name unioned with its stored grants, sorted. Stored grants never
// remove floor permissions.
func (r *Resolver) Resolve(role *auth.Role) []string {
	set := make(map[string]struct{}, len(role.Permissions)+8)
	for _, p := range r.floor[role.Name] {
		set[p] = struct{}{}
	}
	for _, p := range role.Permissions {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Authorize reports whether the role's resolved permission set satisfies
// the required permissions under the given mode.
func (r *Resolver) Authorize(role *auth.Role, required []string, mode Mode) bool {
	if len(required) == 0 {
		return true
	}
	resolved := make(map[string]struct{})
	for _, p := range r.Resolve(role) {
		resolved[p] = struct{}{}
	}
	switch mode {
	case ModeAny:
		for _, p := range required {
			if _, ok := resolved[p]; ok {
				return true
			}
		}
		return false
	default:
		for _, p := range required {
			if _, ok := resolved[p]; !ok {
				return false
			}
		}
		return true
	}
}

// Authority returns the authority level for a role name; unknown roles
// rank below every known role.
func (r *Resolver) Authority(roleName string) int {
	return r.levels[roleName]
}

// MeetsAuthority reports whether the role's authority is at or above the
// floor role's authority.
func (r *Resolver) MeetsAuthority(roleName, floorRole string) bool {
	return r.Authority(roleName) >= r.Authority(floorRole)
}

// CanAssign reports whether an actor holding actorRole may assign
// requestedRole. The comparison is strictly less-than: equal authority is
// denied, so an admin cannot grant admin through this path.
func (r *Resolver) CanAssign(actorRole, requestedRole string) bool {
	return r.Authority(requestedRole) < r.Authority(actorRole)
}

// OwnershipFilter returns nil when the actor's authority is at or above
// the bypass role (full access), otherwise a filter constraining queries
// to records owned by the actor. The filter is a hint; enforcement is the
// caller's responsibility.
func (r *Resolver) OwnershipFilter(actorRole, bypassRole, ownerField, actorID string) *Filter {
	if r.MeetsAuthority(actorRole, bypassRole) {
		return nil
	}
	return &Filter{Field: ownerField, Value: actorID}
}
