package httpapi

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"villaops.org/internal/audit"
	"villaops.org/internal/auth"
	"villaops.org/internal/obs"
	"villaops.org/internal/session"
)

// profileRequest mirrors session.Profile so clients can PUT back what they
// read. Nil fields are left unchanged; id and updated_at are ignored.
type profileRequest struct {
	ID                *string          `json:"id"`
	Email             *string          `json:"email"`
	Name              *string          `json:"name"`
	Role              *string          `json:"role"`
	SecondaryRoles    *[]string        `json:"secondary_roles"`
	Avatar            *string          `json:"avatar"`
	Phone             *string          `json:"phone"`
	CustomPermissions *map[string]bool `json:"custom_permissions"`
	UpdatedAt         *time.Time       `json:"updated_at"`
}

type accessResponse struct {
	UserID          string                `json:"user_id"`
	Role            auth.Role             `json:"role"`
	SecondaryRoles  []auth.Role           `json:"secondary_roles,omitempty"`
	Features        map[auth.Feature]bool `json:"features"`
	ManageableRoles []auth.Role           `json:"manageable_roles"`
}

type accessCheckRequest struct {
	Feature string   `json:"feature"`
	Roles   []string `json:"roles"`
}

func (a *API) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.requireFeature(w, r, auth.FeatureUserManagement)
	if !ok {
		return
	}
	lister, ok := a.profiles.(profileLister)
	if !ok {
		writeError(w, r, http.StatusNotImplemented, "profile listing unavailable")
		return
	}
	all, err := lister.ListProfiles(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "profile lookup failed")
		return
	}
	out := make([]session.Profile, 0, len(all))
	for _, p := range all {
		if p.ID == actor.ID || a.policy.CanManageUser(actor, profileUser(p)) {
			out = append(out, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (a *API) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	p, err := a.profiles.ProfileByID(r.Context(), id)
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	if id != actor.ID && !a.canAdminister(actor, profileUser(p)) {
		writeErrorKind(w, r, http.StatusForbidden, session.KindForbidden, "cannot view this profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
		return
	}
	if req.ID != nil && *req.ID != id {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, "id does not match path")
		return
	}

	cur, err := a.profiles.ProfileByID(r.Context(), id)
	exists := err == nil
	if err != nil && !errors.Is(err, session.ErrProfileNotFound) {
		handleProfileError(w, r, err)
		return
	}
	if !exists {
		cur = session.Profile{ID: id}
	}

	next, err := applyProfileRequest(cur, req)
	if err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
		return
	}
	if exists && next.Email != cur.Email {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, "email is managed by the identity provider")
		return
	}

	privileged := !exists || next.Role != cur.Role ||
		!sameRoles(next.SecondaryRoles, cur.SecondaryRoles) ||
		!samePermissions(next.CustomPermissions, cur.CustomPermissions)
	switch {
	case privileged:
		if !a.policy.CheckFeatureAccess(actor, auth.FeatureUserManagement) ||
			(exists && !a.policy.CanManageUser(actor, profileUser(cur))) ||
			!a.policy.CanManageUser(actor, profileUser(next)) ||
			!a.withinAuthority(actor, cur, next) {
			obs.ObserveAccess("manage_user", false)
			writeErrorKind(w, r, http.StatusForbidden, session.KindForbidden, "cannot change role or permissions for this user")
			return
		}
		obs.ObserveAccess("manage_user", true)
	case id != actor.ID:
		if !a.canAdminister(actor, profileUser(cur)) {
			writeErrorKind(w, r, http.StatusForbidden, session.KindForbidden, "cannot edit this profile")
			return
		}
	}

	saved, err := a.profiles.UpsertProfile(r.Context(), next)
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "profile.updated", map[string]any{
		"target_id":  saved.ID,
		"role":       string(saved.Role),
		"privileged": privileged,
	})
	a.publish(session.EventUserUpdated, saved.ID)
	writeJSON(w, http.StatusOK, saved)
}

func (a *API) handleAccess(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	features := make(map[auth.Feature]bool, len(auth.Features()))
	for _, f := range auth.Features() {
		features[f] = false
	}
	for _, f := range a.policy.AccessibleFeatures(u) {
		features[f] = true
	}
	roles := a.policy.ManageableRoles(u)
	if roles == nil {
		roles = []auth.Role{}
	}
	writeJSON(w, http.StatusOK, accessResponse{
		UserID:          u.ID,
		Role:            u.Role,
		SecondaryRoles:  u.SecondaryRoles,
		Features:        features,
		ManageableRoles: roles,
	})
}

func (a *API) handleAccessCheck(w http.ResponseWriter, r *http.Request) {
	u, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req accessCheckRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
		return
	}
	feature := strings.TrimSpace(req.Feature)
	switch {
	case feature != "" && len(req.Roles) == 0:
		allowed := a.policy.CheckFeatureAccess(u, auth.Feature(feature))
		obs.ObserveAccess("feature", allowed)
		writeJSON(w, http.StatusOK, map[string]any{"feature": feature, "allowed": allowed})
	case feature == "" && len(req.Roles) > 0:
		roles, err := auth.ParseRoles(req.Roles)
		if err != nil {
			writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
			return
		}
		allowed := a.policy.CheckRolePermission(u, roles)
		obs.ObserveAccess("roles", allowed)
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles, "allowed": allowed})
	default:
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, "exactly one of feature or roles is required")
	}
}

func (a *API) handleCanManage(w http.ResponseWriter, r *http.Request) {
	actor, ok := currentUser(w, r)
	if !ok {
		return
	}
	p, err := a.profiles.ProfileByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleProfileError(w, r, err)
		return
	}
	allowed := a.policy.CanManageUser(actor, profileUser(p))
	obs.ObserveAccess("manage_user", allowed)
	writeJSON(w, http.StatusOK, map[string]any{
		"target_id":  p.ID,
		"role":       p.Role,
		"can_manage": allowed,
	})
}

// canAdminister reports whether actor may view or edit target's profile
// without being target.
func (a *API) canAdminister(actor, target *auth.User) bool {
	return a.policy.CheckFeatureAccess(actor, auth.FeatureUserManagement) && a.policy.CanManageUser(actor, target)
}

func applyProfileRequest(p session.Profile, req profileRequest) (session.Profile, error) {
	p = session.ProfileUpdate{Name: req.Name, Avatar: req.Avatar, Phone: req.Phone}.Apply(p)
	if req.Email != nil {
		p.Email = strings.TrimSpace(*req.Email)
	}
	if req.Role != nil {
		role, err := auth.ParseRole(*req.Role)
		if err != nil {
			return p, err
		}
		p.Role = role
	}
	if p.Role == "" {
		return p, errors.New("role is required")
	}
	if req.SecondaryRoles != nil {
		roles, err := auth.ParseRoles(*req.SecondaryRoles)
		if err != nil {
			return p, err
		}
		p.SecondaryRoles = roles
	}
	if req.CustomPermissions != nil {
		perms, dropped := auth.NormalizePermissions(*req.CustomPermissions)
		if len(dropped) > 0 {
			return p, errors.New("unknown permission keys: " + strings.Join(dropped, ", "))
		}
		p.CustomPermissions = make(map[string]bool, len(perms))
		for f, v := range perms {
			p.CustomPermissions[string(f)] = v
		}
	}
	return p, nil
}

func profileUser(p session.Profile) *auth.User {
	u, err := session.BuildUser(session.ProviderUser{ID: p.ID, Email: p.Email}, p)
	if err != nil {
		return &auth.User{ID: p.ID, Role: p.Role}
	}
	return u
}

// withinAuthority reports whether every secondary role and permission that
// next adds over cur is one actor could hand out itself.
func (a *API) withinAuthority(actor *auth.User, cur, next session.Profile) bool {
	held := make(map[auth.Role]bool, len(cur.SecondaryRoles))
	for _, r := range cur.SecondaryRoles {
		held[r] = true
	}
	for _, r := range next.SecondaryRoles {
		if !held[r] && !a.policy.CanManageUser(actor, &auth.User{Role: r}) {
			return false
		}
	}
	for k, on := range next.CustomPermissions {
		if on && !cur.CustomPermissions[k] && !a.policy.CheckFeatureAccess(actor, auth.Feature(k)) {
			return false
		}
	}
	return true
}

func sameRoles(a, b []auth.Role) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]auth.Role(nil), a...)
	y := append([]auth.Role(nil), b...)
	sort.Slice(x, func(i, j int) bool { return x[i] < x[j] })
	sort.Slice(y, func(i, j int) bool { return y[i] < y[j] })
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func samePermissions(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func handleProfileError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrProfileNotFound), errors.Is(err, auth.ErrNotFound):
		writeErrorKind(w, r, http.StatusNotFound, session.KindNotFound, "profile not found")
	case errors.Is(err, auth.ErrInvalidInput), errors.Is(err, auth.ErrInvalidRole):
		writeErrorKind(w, r, http.StatusBadRequest, session.KindInvalidInput, err.Error())
	case errors.Is(err, auth.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "profile operation failed")
	}
}
