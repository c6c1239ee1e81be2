package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"villaops.org/internal/auth"
	"villaops.org/internal/session"
)

const profileColumns = `id, email, name, role, secondary_roles, avatar, phone, custom_permissions, updated_at`

func (s *Store) ProfileByID(ctx context.Context, id string) (session.Profile, error) {
	if s.db == nil {
		return session.Profile{}, errNoDB
	}
	row := s.db.QueryRowContext(ctx, `select `+profileColumns+` from profiles where id = $1`, id)
	p, err := scanProfile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Profile{}, session.ErrProfileNotFound
	}
	return p, err
}

func (s *Store) UpsertProfile(ctx context.Context, p session.Profile) (session.Profile, error) {
	if s.db == nil {
		return session.Profile{}, errNoDB
	}
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return session.Profile{}, auth.ErrInvalidInput
	}
	if !p.Role.Valid() {
		return session.Profile{}, auth.ErrInvalidRole
	}
	roles, err := json.Marshal(rolesOrEmpty(p.SecondaryRoles))
	if err != nil {
		return session.Profile{}, fmt.Errorf("marshal secondary roles: %w", err)
	}
	perms, err := json.Marshal(permsOrEmpty(p.CustomPermissions))
	if err != nil {
		return session.Profile{}, fmt.Errorf("marshal permissions: %w", err)
	}
	row := s.db.QueryRowContext(ctx, `
		insert into profiles (id, email, name, role, secondary_roles, avatar, phone, custom_permissions, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, now())
		on conflict (id) do update set
			email = excluded.email,
			name = excluded.name,
			role = excluded.role,
			secondary_roles = excluded.secondary_roles,
			avatar = excluded.avatar,
			phone = excluded.phone,
			custom_permissions = excluded.custom_permissions,
			updated_at = now()
		returning `+profileColumns,
		p.ID, p.Email, p.Name, string(p.Role), roles, p.Avatar, p.Phone, perms)
	out, err := scanProfile(row)
	if err != nil {
		if isUniqueViolation(err) {
			return session.Profile{}, auth.ErrConflict
		}
		return session.Profile{}, err
	}
	return out, nil
}

// ListProfiles returns every profile ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]session.Profile, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+profileColumns+` from profiles order by name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []session.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (session.Profile, error) {
	var (
		p                  session.Profile
		role               string
		rawRoles, rawPerms []byte
		updated            time.Time
	)
	if err := row.Scan(&p.ID, &p.Email, &p.Name, &role, &rawRoles, &p.Avatar, &p.Phone, &rawPerms, &updated); err != nil {
		return session.Profile{}, err
	}
	p.Role = auth.Role(role)
	p.UpdatedAt = updated.UTC()
	if len(rawRoles) > 0 {
		if err := json.Unmarshal(rawRoles, &p.SecondaryRoles); err != nil {
			return session.Profile{}, fmt.Errorf("decode secondary roles: %w", err)
		}
	}
	if len(rawPerms) > 0 {
		if err := json.Unmarshal(rawPerms, &p.CustomPermissions); err != nil {
			return session.Profile{}, fmt.Errorf("decode permissions: %w", err)
		}
	}
	if len(p.SecondaryRoles) == 0 {
		p.SecondaryRoles = nil
	}
	if len(p.CustomPermissions) == 0 {
		p.CustomPermissions = nil
	}
	return p, nil
}

func rolesOrEmpty(r []auth.Role) []auth.Role {
	if r == nil {
		return []auth.Role{}
	}
	return r
}

func permsOrEmpty(m map[string]bool) map[string]bool {
	if m == nil {
		return map[string]bool{}
	}
	return m
}
