package session

import (
	"fmt"
	"strings"

	"villaops.org/internal/auth"
	"villaops.org/internal/obs"
)

// BuildUser merges the provider payload and the stored profile into an
// auth.User. Unknown permission keys are dropped with a warning.
func BuildUser(pu ProviderUser, p Profile) (*auth.User, error) {
	if strings.TrimSpace(pu.ID) == "" {
		return nil, fmt.Errorf("%w: provider user id is empty", auth.ErrInvalidInput)
	}
	if p.ID != "" && p.ID != pu.ID {
		return nil, fmt.Errorf("%w: profile %s does not belong to user %s", auth.ErrInvalidInput, p.ID, pu.ID)
	}
	if !p.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", auth.ErrInvalidRole, p.Role)
	}
	var secondary []auth.Role
	for _, r := range p.SecondaryRoles {
		if !r.Valid() {
			obs.Logger().Warn("dropping unknown secondary role", "user_id", pu.ID, "role", string(r))
			continue
		}
		if r != p.Role {
			secondary = append(secondary, r)
		}
	}
	perms, dropped := auth.NormalizePermissions(p.CustomPermissions)
	if len(dropped) > 0 {
		obs.Logger().Warn("dropping unknown permission keys", "user_id", pu.ID, "keys", dropped)
	}
	email := pu.Email
	if email == "" {
		email = p.Email
	}
	return &auth.User{
		ID:                pu.ID,
		Email:             email,
		Name:              p.Name,
		Role:              p.Role,
		SecondaryRoles:    secondary,
		CustomPermissions: perms,
		Avatar:            p.Avatar,
		Phone:             p.Phone,
	}, nil
}
