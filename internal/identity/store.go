package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrCredentialNotFound = errors.New("identity: credential not found")
	ErrEmailTaken         = errors.New("identity: email already registered")
	ErrTokenNotFound      = errors.New("identity: token not found")
)

// Credential is a user's login record.
type Credential struct {
	UserID       string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// CredentialStore persists credentials. Emails are compared lower-cased.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c Credential) error
	CredentialByEmail(ctx context.Context, email string) (Credential, error)
	CredentialByUserID(ctx context.Context, userID string) (Credential, error)
	UpdatePassword(ctx context.Context, userID, hash string) error
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// InMemoryCredentials implements CredentialStore in process.
type InMemoryCredentials struct {
	mu      sync.RWMutex
	byEmail map[string]Credential
	byID    map[string]string
}

func NewInMemoryCredentials() *InMemoryCredentials {
	return &InMemoryCredentials{
		byEmail: make(map[string]Credential),
		byID:    make(map[string]string),
	}
}

func (s *InMemoryCredentials) CreateCredential(ctx context.Context, c Credential) error {
	c.Email = NormalizeEmail(c.Email)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[c.Email]; ok {
		return ErrEmailTaken
	}
	s.byEmail[c.Email] = c
	s.byID[c.UserID] = c.Email
	return nil
}

func (s *InMemoryCredentials) CredentialByEmail(ctx context.Context, email string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return c, nil
}

func (s *InMemoryCredentials) CredentialByUserID(ctx context.Context, userID string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	email, ok := s.byID[userID]
	if !ok {
		return Credential{}, ErrCredentialNotFound
	}
	return s.byEmail[email], nil
}

func (s *InMemoryCredentials) UpdatePassword(ctx context.Context, userID, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email, ok := s.byID[userID]
	if !ok {
		return ErrCredentialNotFound
	}
	c := s.byEmail[email]
	c.PasswordHash = hash
	c.UpdatedAt = time.Now().UTC()
	s.byEmail[email] = c
	return nil
}
