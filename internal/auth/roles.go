package auth

import (
	"fmt"
	"strings"
)

// Role is a named authorization tier assigned to a user.
type Role string

const (
	RoleSuperadmin        Role = "superadmin"
	RoleAdministrator     Role = "administrator"
	RolePropertyManager   Role = "property_manager"
	RoleConcierge         Role = "concierge"
	RoleHousekeepingStaff Role = "housekeeping_staff"
	RoleMaintenanceStaff  Role = "maintenance_staff"
	RoleInventoryManager  Role = "inventory_manager"
	RoleHousekeeper       Role = "housekeeper"
	RoleManager           Role = "manager"
	RolePoolService       Role = "pool_service"
	RoleExternalPartner   Role = "external_partner"
)

// roleRanks orders roles by privilege. Only ordinal comparisons are meaningful.
var roleRanks = map[Role]int{
	RoleSuperadmin:        100,
	RoleAdministrator:     90,
	RolePropertyManager:   80,
	RoleManager:           75,
	RoleConcierge:         70,
	RoleMaintenanceStaff:  60,
	RoleInventoryManager:  55,
	RoleHousekeepingStaff: 50,
	RolePoolService:       45,
	RoleHousekeeper:       40,
	RoleExternalPartner:   10,
}

var allRoles = []Role{
	RoleSuperadmin,
	RoleAdministrator,
	RolePropertyManager,
	RoleManager,
	RoleConcierge,
	RoleMaintenanceStaff,
	RoleInventoryManager,
	RoleHousekeepingStaff,
	RolePoolService,
	RoleHousekeeper,
	RoleExternalPartner,
}

// Roles returns every known role ordered from most to least privileged.
func Roles() []Role {
	out := make([]Role, len(allRoles))
	copy(out, allRoles)
	return out
}

// Valid reports whether r is part of the role vocabulary.
func (r Role) Valid() bool {
	_, ok := roleRanks[r]
	return ok
}

func (r Role) String() string { return string(r) }

// ParseRole normalises raw and returns the matching role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, raw)
	}
	return role, nil
}

// ParseRoles parses every entry of raw, skipping blanks and duplicates.
func ParseRoles(raw []string) ([]Role, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seen := make(map[Role]struct{}, len(raw))
	out := make([]Role, 0, len(raw))
	for _, v := range raw {
		if strings.TrimSpace(v) == "" {
			continue
		}
		role, err := ParseRole(v)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out, nil
}

// RankOf returns the hierarchy rank of role. Unknown roles rank 0.
func RankOf(role Role) int {
	return defaultPolicy.RankOf(role)
}
