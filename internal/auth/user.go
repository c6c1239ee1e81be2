package auth

// User carries identity and authorization attributes resolved at sign-in.
type User struct {
	ID                string           `json:"id"`
	Email             string           `json:"email"`
	Name              string           `json:"name"`
	Role              Role             `json:"role"`
	SecondaryRoles    []Role           `json:"secondary_roles,omitempty"`
	CustomPermissions map[Feature]bool `json:"custom_permissions,omitempty"`
	Avatar            string           `json:"avatar,omitempty"`
	Phone             string           `json:"phone,omitempty"`
}

// IsSuperadmin reports whether u holds the superadmin primary role.
func (u *User) IsSuperadmin() bool {
	return u != nil && u.Role == RoleSuperadmin
}

// Override returns the explicit per-user override for feature, if any.
func (u *User) Override(feature Feature) (allowed, ok bool) {
	if u == nil || u.CustomPermissions == nil {
		return false, false
	}
	allowed, ok = u.CustomPermissions[feature]
	return allowed, ok
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	if u.SecondaryRoles != nil {
		out.SecondaryRoles = make([]Role, len(u.SecondaryRoles))
		copy(out.SecondaryRoles, u.SecondaryRoles)
	}
	if u.CustomPermissions != nil {
		out.CustomPermissions = make(map[Feature]bool, len(u.CustomPermissions))
		for k, v := range u.CustomPermissions {
			out.CustomPermissions[k] = v
		}
	}
	return &out
}
