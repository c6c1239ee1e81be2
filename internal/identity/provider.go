package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"villaops.org/internal/audit"
	"villaops.org/internal/auth"
	"villaops.org/internal/ids"
	"villaops.org/internal/mailer"
	"villaops.org/internal/obs"
	"villaops.org/internal/session"
)

const (
	refreshPrefix = "refresh:"
	revokedPrefix = "revoked:"
	resetPrefix   = "reset:"
	failPrefix    = "login_fail:"
)

// Config tunes the local provider.
type Config struct {
	RefreshTTL    time.Duration
	ResetTTL      time.Duration
	SignupRole    auth.Role
	MaxFailures   int64
	LockoutWindow time.Duration
	ResetURL      string
	AllowSignup   bool
}

func (c *Config) withDefaults() {
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * 24 * time.Hour
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = 30 * time.Minute
	}
	if !c.SignupRole.Valid() {
		c.SignupRole = auth.RoleExternalPartner
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.LockoutWindow <= 0 {
		c.LockoutWindow = 15 * time.Minute
	}
}

// Local is the built-in identity provider: bcrypt credentials, JWT access
// tokens and rotating opaque refresh tokens.
type Local struct {
	cfg      Config
	issuer   *Issuer
	creds    CredentialStore
	profiles session.ProfileStore
	tokens   TokenStore
	mail     mailer.Sender
	logger   *slog.Logger
	now      func() time.Time
}

var _ session.Provider = (*Local)(nil)

// NewLocal wires a Local provider.
func NewLocal(cfg Config, issuer *Issuer, creds CredentialStore, profiles session.ProfileStore, tokens TokenStore, mail mailer.Sender) *Local {
	cfg.withDefaults()
	if mail == nil {
		mail = mailer.NewLogSender()
	}
	return &Local{
		cfg:      cfg,
		issuer:   issuer,
		creds:    creds,
		profiles: profiles,
		tokens:   tokens,
		mail:     mail,
		logger:   obs.Logger(),
		now:      time.Now,
	}
}

func (l *Local) SignInWithPassword(ctx context.Context, email, password string) (session.Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return session.Session{}, session.NewProviderError(session.KindInvalidInput, "email and password are required")
	}
	n, err := l.tokens.Get(ctx, failPrefix+email)
	if err != nil && !errors.Is(err, ErrTokenNotFound) {
		return session.Session{}, err
	}
	if fails, _ := strconv.ParseInt(n, 10, 64); fails >= l.cfg.MaxFailures {
		return session.Session{}, session.NewProviderError(session.KindRateLimited, "too many failed attempts, try again later")
	}

	cred, err := l.creds.CredentialByEmail(ctx, email)
	if errors.Is(err, ErrCredentialNotFound) {
		return session.Session{}, l.failedLogin(ctx, email)
	}
	if err != nil {
		return session.Session{}, err
	}
	if err := VerifyPassword(cred.PasswordHash, password); err != nil {
		return session.Session{}, l.failedLogin(ctx, email)
	}
	_ = l.tokens.Delete(ctx, failPrefix+email)
	_ = audit.LogEvent(ctx, "auth.sign_in", map[string]any{"user_id": cred.UserID})
	return l.newSession(ctx, cred.UserID, cred.Email, "")
}

func (l *Local) SignUp(ctx context.Context, req session.SignUpRequest) (session.Session, error) {
	if !l.cfg.AllowSignup {
		return session.Session{}, session.NewProviderError(session.KindForbidden, "sign-up is disabled")
	}
	email := NormalizeEmail(req.Email)
	if email == "" || !strings.Contains(email, "@") {
		return session.Session{}, session.NewProviderError(session.KindInvalidInput, "a valid email is required")
	}
	if len(req.Password) < MinPasswordLength {
		return session.Session{}, session.NewProviderError(session.KindInvalidInput, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return session.Session{}, err
	}
	now := l.now().UTC()
	cred := Credential{UserID: ids.NewAt(now), Email: email, PasswordHash: hash, CreatedAt: now, UpdatedAt: now}
	if err := l.creds.CreateCredential(ctx, cred); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return session.Session{}, session.NewProviderError(session.KindUserExists, "user already registered")
		}
		return session.Session{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = strings.SplitN(email, "@", 2)[0]
	}
	if _, err := l.profiles.UpsertProfile(ctx, session.Profile{
		ID:    cred.UserID,
		Email: email,
		Name:  name,
		Role:  l.cfg.SignupRole,
	}); err != nil {
		return session.Session{}, err
	}
	_ = audit.LogEvent(ctx, "auth.sign_up", map[string]any{"user_id": cred.UserID, "role": string(l.cfg.SignupRole)})
	return l.newSession(ctx, cred.UserID, email, "")
}

// SignOut revokes the session behind accessToken until it would expire.
func (l *Local) SignOut(ctx context.Context, accessToken string) error {
	claims, err := l.verify(ctx, accessToken)
	if err != nil {
		return err
	}
	ttl := claims.ExpiresAt.Time.Sub(l.now())
	if ttl < l.cfg.RefreshTTL {
		ttl = l.cfg.RefreshTTL
	}
	if err := l.tokens.Put(ctx, revokedPrefix+claims.ID, claims.Subject, ttl); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.sign_out", map[string]any{"user_id": claims.Subject})
	return nil
}

// ResetPasswordForEmail mails a reset token. Unknown addresses succeed
// silently so callers cannot probe for accounts.
func (l *Local) ResetPasswordForEmail(ctx context.Context, email string) error {
	email = NormalizeEmail(email)
	if email == "" {
		return session.NewProviderError(session.KindInvalidInput, "email is required")
	}
	cred, err := l.creds.CredentialByEmail(ctx, email)
	if errors.Is(err, ErrCredentialNotFound) {
		l.logger.InfoContext(ctx, "password reset for unknown email")
		return nil
	}
	if err != nil {
		return err
	}
	token := uuid.NewString()
	if err := l.tokens.Put(ctx, resetPrefix+token, cred.UserID, l.cfg.ResetTTL); err != nil {
		return err
	}
	var name string
	if p, err := l.profiles.ProfileByID(ctx, cred.UserID); err == nil {
		name = p.Name
	}
	link := ""
	if l.cfg.ResetURL != "" {
		link = l.cfg.ResetURL + "?token=" + url.QueryEscape(token)
	}
	msg, err := mailer.PasswordReset(cred.Email, mailer.ResetData{Name: name, Token: token, Link: link})
	if err != nil {
		return err
	}
	if err := l.mail.Send(ctx, msg); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.password_reset_requested", map[string]any{"user_id": cred.UserID})
	return nil
}

// ConfirmPasswordReset consumes a reset token and sets a new password.
func (l *Local) ConfirmPasswordReset(ctx context.Context, token, password string) error {
	if len(password) < MinPasswordLength {
		return session.NewProviderError(session.KindInvalidInput, fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	userID, err := l.tokens.Take(ctx, resetPrefix+strings.TrimSpace(token))
	if errors.Is(err, ErrTokenNotFound) {
		return session.NewProviderError(session.KindInvalidToken, "reset token is invalid or expired")
	}
	if err != nil {
		return err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := l.creds.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	_ = audit.LogEvent(ctx, "auth.password_reset", map[string]any{"user_id": userID})
	return nil
}

func (l *Local) GetUser(ctx context.Context, accessToken string) (session.ProviderUser, error) {
	claims, err := l.verify(ctx, accessToken)
	if err != nil {
		return session.ProviderUser{}, err
	}
	return session.ProviderUser{ID: claims.Subject, Email: claims.Email}, nil
}

// Refresh rotates refreshToken: the old token is consumed and a new pair is
// issued for the same session.
func (l *Local) Refresh(ctx context.Context, refreshToken string) (session.Session, error) {
	val, err := l.tokens.Take(ctx, refreshPrefix+strings.TrimSpace(refreshToken))
	if errors.Is(err, ErrTokenNotFound) {
		return session.Session{}, session.NewProviderError(session.KindInvalidToken, "refresh token is invalid or expired")
	}
	if err != nil {
		return session.Session{}, err
	}
	userID, sid, ok := strings.Cut(val, "|")
	if !ok {
		return session.Session{}, session.NewProviderError(session.KindInvalidToken, "refresh token is malformed")
	}
	if revoked, err := l.revoked(ctx, sid); err != nil {
		return session.Session{}, err
	} else if revoked {
		return session.Session{}, session.NewProviderError(session.KindInvalidToken, "session was signed out")
	}
	cred, err := l.creds.CredentialByUserID(ctx, userID)
	if errors.Is(err, ErrCredentialNotFound) {
		return session.Session{}, session.NewProviderError(session.KindInvalidToken, "account no longer exists")
	}
	if err != nil {
		return session.Session{}, err
	}
	return l.newSession(ctx, userID, cred.Email, sid)
}

func (l *Local) verify(ctx context.Context, accessToken string) (*Claims, error) {
	claims, err := l.issuer.Parse(accessToken)
	if err != nil {
		return nil, session.NewProviderError(session.KindInvalidToken, "invalid or expired token")
	}
	revoked, err := l.revoked(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, session.NewProviderError(session.KindInvalidToken, "session was signed out")
	}
	return claims, nil
}

func (l *Local) revoked(ctx context.Context, sid string) (bool, error) {
	_, err := l.tokens.Get(ctx, revokedPrefix+sid)
	if errors.Is(err, ErrTokenNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (l *Local) newSession(ctx context.Context, userID, email, sid string) (session.Session, error) {
	access, claims, err := l.issuer.Issue(userID, email, sid)
	if err != nil {
		return session.Session{}, err
	}
	refresh := uuid.NewString()
	if err := l.tokens.Put(ctx, refreshPrefix+refresh, userID+"|"+claims.ID, l.cfg.RefreshTTL); err != nil {
		return session.Session{}, err
	}
	return session.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(l.issuer.TTL() / time.Second),
		ExpiresAt:    claims.ExpiresAt.Time,
		User:         session.ProviderUser{ID: userID, Email: email},
	}, nil
}

func (l *Local) failedLogin(ctx context.Context, email string) error {
	if _, err := l.tokens.Incr(ctx, failPrefix+email, l.cfg.LockoutWindow); err != nil {
		l.logger.WarnContext(ctx, "login failure counter", "error", err.Error())
	}
	return session.NewProviderError(session.KindInvalidCredentials, "invalid login credentials")
}
