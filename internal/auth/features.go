package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Feature identifies a gated capability or application area.
type Feature string

const (
	FeatureUserManagement      Feature = "user_management"
	FeatureSystemSettings      Feature = "system_settings"
	FeaturePropertyManagement  Feature = "property_management"
	FeatureTaskManagement      Feature = "task_management"
	FeatureInventoryManagement Feature = "inventory_management"
	FeatureInventoryAccess     Feature = "inventory_access"
	FeatureReports             Feature = "reports"
	FeatureGuestServices       Feature = "guest_services"
	FeatureMaintenanceTasks    Feature = "maintenance_tasks"
	FeatureCleaningTasks       Feature = "cleaning_tasks"
	FeaturePoolMaintenance     Feature = "pool_maintenance"
	FeatureAnalytics           Feature = "analytics"
)

// featureRoles lists the roles granted each feature by default. Superadmin is
// never listed: it bypasses every check.
var featureRoles = map[Feature][]Role{
	FeatureUserManagement: {
		RoleAdministrator,
	},
	FeatureSystemSettings: {
		RoleAdministrator,
	},
	FeaturePropertyManagement: {
		RoleAdministrator,
		RolePropertyManager,
		RoleManager,
	},
	FeatureTaskManagement: {
		RoleAdministrator,
		RolePropertyManager,
		RoleManager,
		RoleConcierge,
	},
	FeatureInventoryManagement: {
		RoleAdministrator,
		RolePropertyManager,
		RoleInventoryManager,
	},
	FeatureInventoryAccess: {
		RoleAdministrator,
		RolePropertyManager,
		RoleManager,
		RoleInventoryManager,
		RoleConcierge,
		RoleHousekeepingStaff,
		RoleMaintenanceStaff,
		RoleHousekeeper,
	},
	FeatureReports: {
		RoleAdministrator,
		RolePropertyManager,
		RoleManager,
	},
	FeatureGuestServices: {
		RoleAdministrator,
		RolePropertyManager,
		RoleManager,
		RoleConcierge,
	},
	FeatureMaintenanceTasks: {
		RoleAdministrator,
		RolePropertyManager,
		RoleManager,
		RoleMaintenanceStaff,
	},
	FeatureCleaningTasks: {
		RoleAdministrator,
		RolePropertyManager,
		RoleManager,
		RoleHousekeepingStaff,
		RoleHousekeeper,
	},
	FeaturePoolMaintenance: {
		RoleAdministrator,
		RolePropertyManager,
		RolePoolService,
	},
	FeatureAnalytics: {
		RoleAdministrator,
		RolePropertyManager,
	},
}

// Features returns the closed feature vocabulary in lexical order.
func Features() []Feature {
	out := make([]Feature, 0, len(featureRoles))
	for f := range featureRoles {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether f belongs to the feature vocabulary.
func (f Feature) Valid() bool {
	_, ok := featureRoles[f]
	return ok
}

func (f Feature) String() string { return string(f) }

// ParseFeature normalises raw and returns the matching feature key.
func ParseFeature(raw string) (Feature, error) {
	f := Feature(strings.TrimSpace(strings.ToLower(raw)))
	if !f.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidFeature, raw)
	}
	return f, nil
}

// AllowedRoles returns the roles granted feature by default. Unknown
// features yield an empty set.
func AllowedRoles(feature Feature) []Role {
	return defaultPolicy.AllowedRoles(feature)
}

// NormalizePermissions converts loosely typed overrides into the closed
// feature enumeration. Unknown keys are returned separately so callers can
// report them.
func NormalizePermissions(raw map[string]bool) (map[Feature]bool, []string) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[Feature]bool, len(raw))
	var dropped []string
	for k, v := range raw {
		f, err := ParseFeature(k)
		if err != nil {
			dropped = append(dropped, k)
			continue
		}
		out[f] = v
	}
	sort.Strings(dropped)
	if len(out) == 0 {
		out = nil
	}
	return out, dropped
}
