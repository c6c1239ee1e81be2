package session

import (
	"context"
	"errors"
	"time"

	"villaops.org/internal/auth"
)

// ErrProfileNotFound is returned by ProfileStore when no profile exists
// for the requested id.
var ErrProfileNotFound = errors.New("session: profile not found")

// ProviderUser is the identity provider's raw user payload.
type ProviderUser struct {
	ID       string         `json:"id"`
	Email    string         `json:"email"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Session is the token bundle issued by the identity provider.
type Session struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    time.Time    `json:"expires_at"`
	User         ProviderUser `json:"user"`
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

// ErrorKind classifies expected provider failures.
type ErrorKind string

const (
	KindInvalidCredentials ErrorKind = "invalid_credentials"
	KindUserExists         ErrorKind = "user_exists"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindInvalidToken       ErrorKind = "invalid_token"
	KindNoSession          ErrorKind = "no_session"
	KindNotFound           ErrorKind = "not_found"
	KindForbidden          ErrorKind = "forbidden"
	KindRateLimited        ErrorKind = "rate_limited"
)

// ProviderError is an expected failure reported by a Provider, such as bad
// credentials. Any other error from a Provider is a transport failure.
type ProviderError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"error"`
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

// NewProviderError builds a ProviderError.
func NewProviderError(kind ErrorKind, msg string) *ProviderError {
	return &ProviderError{Kind: kind, Message: msg}
}

// SignUpRequest carries the fields accepted at registration.
type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Provider is the external identity provider.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (Session, error)
	SignUp(ctx context.Context, req SignUpRequest) (Session, error)
	SignOut(ctx context.Context, accessToken string) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	GetUser(ctx context.Context, accessToken string) (ProviderUser, error)
	Refresh(ctx context.Context, refreshToken string) (Session, error)
}

// Profile is the application's record for a user, keyed by provider id.
// CustomPermissions is stored loosely typed and normalised by BuildUser.
type Profile struct {
	ID                string          `json:"id"`
	Email             string          `json:"email"`
	Name              string          `json:"name"`
	Role              auth.Role       `json:"role"`
	SecondaryRoles    []auth.Role     `json:"secondary_roles,omitempty"`
	Avatar            string          `json:"avatar,omitempty"`
	Phone             string          `json:"phone,omitempty"`
	CustomPermissions map[string]bool `json:"custom_permissions,omitempty"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ProfileStore looks up and writes profiles.
type ProfileStore interface {
	ProfileByID(ctx context.Context, id string) (Profile, error)
	UpsertProfile(ctx context.Context, p Profile) (Profile, error)
}

// ProfileUpdate lists the fields a user may change on their own profile.
// Nil fields are left untouched.
type ProfileUpdate struct {
	Name   *string `json:"name,omitempty"`
	Avatar *string `json:"avatar,omitempty"`
	Phone  *string `json:"phone,omitempty"`
}

// Apply copies the set fields of u onto p.
func (u ProfileUpdate) Apply(p Profile) Profile {
	if u.Name != nil {
		p.Name = *u.Name
	}
	if u.Avatar != nil {
		p.Avatar = *u.Avatar
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	return p
}
