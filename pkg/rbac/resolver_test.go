package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/staykeeper/gatehouse/pkg/auth"
)

func TestResolve_UnionNeverRemoves(t *testing.T) {
	r := NewResolver()

	// Stored grants that try to "replace" the floor with less still end up
	// unioned with it.
	role := &auth.Role{Name: auth.RoleHousekeeping, Permissions: []string{"view_lost_and_found"}}
	resolved := r.Resolve(role)

	assert.Contains(t, resolved, "view_rooms")
	assert.Contains(t, resolved, "update_room_status")
	assert.Contains(t, resolved, "view_lost_and_found")
}

func TestResolve_DeduplicatesAndSorts(t *testing.T) {
	r := NewResolver()

	role := &auth.Role{Name: auth.RoleHousekeeping, Permissions: []string{"view_rooms", "view_rooms", ""}}
	resolved := r.Resolve(role)

	assert.Equal(t, []string{"update_room_status", "view_rooms"}, resolved)
}

func TestResolve_UnknownRoleGetsOnlyStoredGrants(t *testing.T) {
	r := NewResolver()

	role := &auth.Role{Name: "contractor", Permissions: []string{"view_rooms"}}
	assert.Equal(t, []string{"view_rooms"}, r.Resolve(role))
}

func TestAuthorize(t *testing.T) {
	r := NewResolver()
	receptionist := &auth.Role{Name: auth.RoleReceptionist}

	tests := []struct {
		name     string
		required []string
		mode     Mode
		want     bool
	}{
		{"empty requirement always passes", nil, ModeAll, true},
		{"all present", []string{"check_in", "check_out"}, ModeAll, true},
		{"one missing under all", []string{"check_in", "manage_rates"}, ModeAll, false},
		{"one present under any", []string{"check_in", "manage_rates"}, ModeAny, true},
		{"none present under any", []string{"manage_rates", "manage_staff"}, ModeAny, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Authorize(receptionist, tt.required, tt.mode))
		})
	}
}

func TestAuthority(t *testing.T) {
	r := NewResolver()

	assert.True(t, r.MeetsAuthority(auth.RoleManager, auth.RoleReceptionist))
	assert.True(t, r.MeetsAuthority(auth.RoleManager, auth.RoleManager))
	assert.False(t, r.MeetsAuthority(auth.RoleReceptionist, auth.RoleManager))

	// Unknown roles rank below everything.
	assert.False(t, r.MeetsAuthority("contractor", auth.RoleHousekeeping))
}

func TestCanAssign_StrictlyBelow(t *testing.T) {
	r := NewResolver()

	assert.True(t, r.CanAssign(auth.RoleAdmin, auth.RoleManager))
	assert.True(t, r.CanAssign(auth.RoleManager, auth.RoleReceptionist))

	// Equal authority is denied: a manager cannot mint managers.
	assert.False(t, r.CanAssign(auth.RoleManager, auth.RoleManager))
	assert.False(t, r.CanAssign(auth.RoleManager, auth.RoleAdmin))
	assert.False(t, r.CanAssign(auth.RoleAdmin, auth.RoleAdmin))
}

func TestOwnershipFilter(t *testing.T) {
	r := NewResolver()

	// Below the bypass rank the caller only sees its own records.
	filter := r.OwnershipFilter(auth.RoleReceptionist, auth.RoleManager, "created_by", "id-1")
	assert.Equal(t, &Filter{Field: "created_by", Value: "id-1"}, filter)

	// At or above the bypass rank there is no constraint.
	assert.Nil(t, r.OwnershipFilter(auth.RoleManager, auth.RoleManager, "created_by", "id-2"))
	assert.Nil(t, r.OwnershipFilter(auth.RoleAdmin, auth.RoleManager, "created_by", "id-3"))
}

func TestWithFloorAndLevels(t *testing.T) {
	r := NewResolver(
		WithFloor(map[string][]string{"auditor": {"view_reports"}}),
		WithAuthorityLevels(map[string]int{"auditor": 25}),
	)

	assert.Equal(t, []string{"view_reports"}, r.Resolve(&auth.Role{Name: "auditor"}))
	assert.Equal(t, 25, r.Authority("auditor"))
}
