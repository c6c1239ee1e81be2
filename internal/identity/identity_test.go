package identity

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"villaops.org/internal/auth"
	"villaops.org/internal/mailer"
	"villaops.org/internal/session"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type captureSender struct {
	mu   sync.Mutex
	sent []mailer.Message
}

func (c *captureSender) Send(ctx context.Context, msg mailer.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func newTestLocal(t *testing.T) (*Local, *session.InMemoryProfiles, *captureSender) {
	t.Helper()
	issuer, err := NewIssuer(testSecret, 15*time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	profiles := session.NewInMemoryProfiles()
	mail := &captureSender{}
	l := NewLocal(Config{AllowSignup: true, MaxFailures: 3, ResetURL: "https://villa.test/reset"}, issuer, NewInMemoryCredentials(), profiles, NewMemoryTokens(), mail)
	return l, profiles, mail
}

func kindOf(err error) session.ErrorKind {
	var pe *session.ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

func TestIssuerRoundTrip(t *testing.T) {
	if _, err := NewIssuer("short", time.Minute); err == nil {
		t.Fatal("expected error for short secret")
	}
	iss, _ := NewIssuer(testSecret, time.Minute)
	tok, claims, err := iss.Issue("u-1", "a@villa.test", "")
	if err != nil {
		t.Fatal(err)
	}
	got, err := iss.Parse(tok)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Subject != "u-1" || got.ID != claims.ID || got.Email != "a@villa.test" {
		t.Fatalf("unexpected claims: %+v", got)
	}

	other, _ := NewIssuer("ffffffffffffffffffffffffffffffff", time.Minute)
	if _, err := other.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign signature, got %v", err)
	}

	iss.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := iss.Parse(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatal(err)
	}
	if err := VerifyPassword(hash, "correct horse"); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("wrong password accepted")
	}
	if _, err := HashPassword(""); err == nil {
		t.Fatal("empty password accepted")
	}
}

func TestSignUpCreatesProfileAndSession(t *testing.T) {
	l, profiles, _ := newTestLocal(t)
	ctx := context.Background()

	sess, err := l.SignUp(ctx, session.SignUpRequest{Email: " New@Villa.test ", Password: "longenough", Name: "Nia"})
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if sess.AccessToken == "" || sess.RefreshToken == "" || sess.User.Email != "new@villa.test" {
		t.Fatalf("unexpected session: %+v", sess)
	}
	p, err := profiles.ProfileByID(ctx, sess.User.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != auth.RoleExternalPartner || p.Name != "Nia" {
		t.Fatalf("unexpected profile: %+v", p)
	}

	_, err = l.SignUp(ctx, session.SignUpRequest{Email: "new@villa.test", Password: "longenough"})
	if kindOf(err) != session.KindUserExists {
		t.Fatalf("expected user_exists, got %v", err)
	}
	_, err = l.SignUp(ctx, session.SignUpRequest{Email: "x@villa.test", Password: "short"})
	if kindOf(err) != session.KindInvalidInput {
		t.Fatalf("expected invalid_input, got %v", err)
	}
}

func TestSignInLockout(t *testing.T) {
	l, _, _ := newTestLocal(t)
	ctx := context.Background()
	if _, err := l.SignUp(ctx, session.SignUpRequest{Email: "mira@villa.test", Password: "longenough"}); err != nil {
		t.Fatal(err)
	}
	if _, err := l.SignInWithPassword(ctx, "mira@villa.test", "longenough"); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	for i := 0; i < 3; i++ {
		_, err := l.SignInWithPassword(ctx, "mira@villa.test", "bad")
		if kindOf(err) != session.KindInvalidCredentials {
			t.Fatalf("attempt %d: expected invalid_credentials, got %v", i, err)
		}
	}
	_, err := l.SignInWithPassword(ctx, "mira@villa.test", "longenough")
	if kindOf(err) != session.KindRateLimited {
		t.Fatalf("expected lockout, got %v", err)
	}
	_, err = l.SignInWithPassword(ctx, "ghost@villa.test", "whatever")
	if kindOf(err) != session.KindInvalidCredentials {
		t.Fatalf("unknown email: expected invalid_credentials, got %v", err)
	}
}

func TestRefreshRotatesAndSignOutRevokes(t *testing.T) {
	l, _, _ := newTestLocal(t)
	ctx := context.Background()
	first, err := l.SignUp(ctx, session.SignUpRequest{Email: "mira@villa.test", Password: "longenough"})
	if err != nil {
		t.Fatal(err)
	}

	second, err := l.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token not rotated")
	}
	if _, err := l.Refresh(ctx, first.RefreshToken); kindOf(err) != session.KindInvalidToken {
		t.Fatalf("reused refresh token: expected invalid_token, got %v", err)
	}

	pu, err := l.GetUser(ctx, second.AccessToken)
	if err != nil || pu.ID != first.User.ID {
		t.Fatalf("GetUser: %+v %v", pu, err)
	}

	if err := l.SignOut(ctx, second.AccessToken); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, err := l.GetUser(ctx, second.AccessToken); kindOf(err) != session.KindInvalidToken {
		t.Fatalf("revoked token accepted: %v", err)
	}
	if _, err := l.GetUser(ctx, first.AccessToken); kindOf(err) != session.KindInvalidToken {
		t.Fatalf("token of the same session accepted after sign-out: %v", err)
	}
	if _, err := l.Refresh(ctx, second.RefreshToken); kindOf(err) != session.KindInvalidToken {
		t.Fatalf("refresh after sign-out: expected invalid_token, got %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	l, _, mail := newTestLocal(t)
	ctx := context.Background()
	if _, err := l.SignUp(ctx, session.SignUpRequest{Email: "mira@villa.test", Password: "longenough", Name: "Mira"}); err != nil {
		t.Fatal(err)
	}
	if err := l.ResetPasswordForEmail(ctx, "nobody@villa.test"); err != nil {
		t.Fatalf("unknown email should succeed silently: %v", err)
	}
	if len(mail.sent) != 0 {
		t.Fatal("mail sent for unknown address")
	}
	if err := l.ResetPasswordForEmail(ctx, "MIRA@villa.test"); err != nil {
		t.Fatal(err)
	}
	if len(mail.sent) != 1 {
		t.Fatalf("expected one mail, got %d", len(mail.sent))
	}
	msg := mail.sent[0]
	idx := strings.Index(msg.Text, "password: ")
	if idx < 0 {
		t.Fatalf("token missing from mail: %q", msg.Text)
	}
	token := strings.TrimSpace(strings.SplitN(msg.Text[idx+len("password: "):], "\n", 2)[0])
	if !strings.Contains(msg.HTML, "https://villa.test/reset?token="+token) {
		t.Fatalf("reset link missing: %q", msg.HTML)
	}

	if err := l.ConfirmPasswordReset(ctx, token, "brand-new-pass"); err != nil {
		t.Fatalf("ConfirmPasswordReset: %v", err)
	}
	if err := l.ConfirmPasswordReset(ctx, token, "brand-new-pass"); kindOf(err) != session.KindInvalidToken {
		t.Fatalf("reset token reused: %v", err)
	}
	if _, err := l.SignInWithPassword(ctx, "mira@villa.test", "brand-new-pass"); err != nil {
		t.Fatalf("sign in with new password: %v", err)
	}
}

func TestFacadeOverLocalProvider(t *testing.T) {
	l, profiles, _ := newTestLocal(t)
	ctx := context.Background()
	sess, err := l.SignUp(ctx, session.SignUpRequest{Email: "pm@villa.test", Password: "longenough", Name: "Pat"})
	if err != nil {
		t.Fatal(err)
	}
	p, _ := profiles.ProfileByID(ctx, sess.User.ID)
	p.Role = auth.RolePropertyManager
	if _, err := profiles.UpsertProfile(ctx, p); err != nil {
		t.Fatal(err)
	}

	f := session.NewFacade(l, profiles)
	res, err := f.SignIn(ctx, "pm@villa.test", "longenough")
	if err != nil || !res.OK() {
		t.Fatalf("SignIn: %+v %v", res, err)
	}
	if !auth.CheckFeatureAccess(res.User, auth.FeatureReports) {
		t.Fatal("property manager should see reports")
	}
}

func TestMemoryTokensExpiry(t *testing.T) {
	s := NewMemoryTokens()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_ = s.Put(ctx, "k", "v", time.Minute)
	if v, err := s.Get(ctx, "k"); err != nil || v != "v" {
		t.Fatalf("Get: %q %v", v, err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}

	for i := 1; i <= 3; i++ {
		n, _ := s.Incr(ctx, "c", time.Minute)
		if n != int64(i) {
			t.Fatalf("Incr = %d, want %d", n, i)
		}
	}
	_ = s.Put(ctx, "once", "x", 0)
	if _, err := s.Take(ctx, "once"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Take(ctx, "once"); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("Take twice: %v", err)
	}
}
