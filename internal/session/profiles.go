package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"villaops.org/internal/auth"
)

// InMemoryProfiles implements ProfileStore with in-process concurrency safety.
type InMemoryProfiles struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewInMemoryProfiles returns an empty profile store.
func NewInMemoryProfiles() *InMemoryProfiles {
	return &InMemoryProfiles{profiles: make(map[string]Profile)}
}

func (s *InMemoryProfiles) ProfileByID(ctx context.Context, id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return cloneProfile(p), nil
}

func (s *InMemoryProfiles) UpsertProfile(ctx context.Context, p Profile) (Profile, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		return Profile{}, auth.ErrInvalidInput
	}
	if !p.Role.Valid() {
		return Profile{}, auth.ErrInvalidRole
	}
	p.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	s.profiles[p.ID] = cloneProfile(p)
	s.mu.Unlock()
	return cloneProfile(p), nil
}

// ListProfiles returns every profile ordered by name.
func (s *InMemoryProfiles) ListProfiles(ctx context.Context) ([]Profile, error) {
	s.mu.RLock()
	out := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, cloneProfile(p))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func cloneProfile(p Profile) Profile {
	if p.SecondaryRoles != nil {
		roles := make([]auth.Role, len(p.SecondaryRoles))
		copy(roles, p.SecondaryRoles)
		p.SecondaryRoles = roles
	}
	if p.CustomPermissions != nil {
		perms := make(map[string]bool, len(p.CustomPermissions))
		for k, v := range p.CustomPermissions {
			perms[k] = v
		}
		p.CustomPermissions = perms
	}
	return p
}
