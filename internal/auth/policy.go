package auth

// Checker answers access questions about a user. Consumers accept a Checker
// instead of reaching for package state.
type Checker interface {
	CheckRolePermission(user *User, allowed []Role) bool
	CheckFeatureAccess(user *User, feature Feature) bool
	HasHigherRole(a, b Role) bool
	CanManageUser(actor, target *User) bool
}

// Policy holds the immutable rank table and feature map used to resolve
// permissions. The zero value denies everything except superadmin.
type Policy struct {
	ranks    map[Role]int
	features map[Feature][]Role
	staff    map[Role]struct{}
}

var _ Checker = Policy{}

// propertyManagerStaff is the fixed set of roles a property manager may manage.
var propertyManagerStaff = []Role{
	RoleHousekeepingStaff,
	RoleMaintenanceStaff,
	RoleHousekeeper,
	RolePoolService,
	RoleExternalPartner,
}

var defaultPolicy = NewPolicy(roleRanks, featureRoles)

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy { return defaultPolicy }

// NewPolicy copies ranks and features into a new Policy.
func NewPolicy(ranks map[Role]int, features map[Feature][]Role) Policy {
	p := Policy{
		ranks:    make(map[Role]int, len(ranks)),
		features: make(map[Feature][]Role, len(features)),
		staff:    make(map[Role]struct{}, len(propertyManagerStaff)),
	}
	for r, n := range ranks {
		p.ranks[r] = n
	}
	for f, roles := range features {
		cp := make([]Role, len(roles))
		copy(cp, roles)
		p.features[f] = cp
	}
	for _, r := range propertyManagerStaff {
		p.staff[r] = struct{}{}
	}
	return p
}

// RankOf returns the rank of role, or 0 when the role is unknown.
func (p Policy) RankOf(role Role) int {
	return p.ranks[role]
}

// AllowedRoles returns a copy of the default role set for feature.
func (p Policy) AllowedRoles(feature Feature) []Role {
	roles, ok := p.features[feature]
	if !ok {
		return []Role{}
	}
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// CheckRolePermission reports whether user holds, as primary or secondary
// role, one of allowed. Membership is exact; rank never subsumes.
func (p Policy) CheckRolePermission(user *User, allowed []Role) bool {
	if user == nil {
		return false
	}
	if user.Role == RoleSuperadmin {
		return true
	}
	for _, r := range allowed {
		if user.Role == r {
			return true
		}
	}
	for _, sr := range user.SecondaryRoles {
		for _, r := range allowed {
			if sr == r {
				return true
			}
		}
	}
	return false
}

// CheckFeatureAccess resolves feature for user. A custom override always
// wins over the role defaults, except for superadmin who is always allowed.
func (p Policy) CheckFeatureAccess(user *User, feature Feature) bool {
	if user == nil {
		return false
	}
	if user.Role == RoleSuperadmin {
		return true
	}
	// Overrides win over the map. Keys outside the vocabulary never reach a
	// User because NormalizePermissions drops them.
	if allowed, ok := user.Override(feature); ok {
		return allowed
	}
	roles, known := p.features[feature]
	if !known {
		return false
	}
	return p.CheckRolePermission(user, roles)
}

// HasHigherRole reports whether a ranks strictly above b.
func (p Policy) HasHigherRole(a, b Role) bool {
	return p.RankOf(a) > p.RankOf(b)
}

// CanManageUser reports whether actor may administer target's account.
func (p Policy) CanManageUser(actor, target *User) bool {
	if actor == nil || target == nil {
		return false
	}
	switch actor.Role {
	case RoleSuperadmin:
		return true
	case RoleAdministrator:
		return target.Role != RoleSuperadmin
	case RolePropertyManager:
		_, ok := p.staff[target.Role]
		return ok
	default:
		return false
	}
}

// AccessibleFeatures lists the features user can open, in lexical order.
func (p Policy) AccessibleFeatures(user *User) []Feature {
	if user == nil {
		return nil
	}
	var out []Feature
	for _, f := range Features() {
		if p.CheckFeatureAccess(user, f) {
			out = append(out, f)
		}
	}
	return out
}

// ManageableRoles lists the roles whose holders actor may manage.
func (p Policy) ManageableRoles(actor *User) []Role {
	if actor == nil {
		return nil
	}
	var out []Role
	for _, r := range allRoles {
		if p.CanManageUser(actor, &User{Role: r}) {
			out = append(out, r)
		}
	}
	return out
}

// CheckRolePermission applies the default policy.
func CheckRolePermission(user *User, allowed []Role) bool {
	return defaultPolicy.CheckRolePermission(user, allowed)
}

// CheckFeatureAccess applies the default policy.
func CheckFeatureAccess(user *User, feature Feature) bool {
	return defaultPolicy.CheckFeatureAccess(user, feature)
}

// HasHigherRole applies the default policy.
func HasHigherRole(a, b Role) bool {
	return defaultPolicy.HasHigherRole(a, b)
}

// CanManageUser applies the default policy.
func CanManageUser(actor, target *User) bool {
	return defaultPolicy.CanManageUser(actor, target)
}
