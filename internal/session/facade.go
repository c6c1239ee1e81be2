package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"villaops.org/internal/auth"
	"villaops.org/internal/obs"
)

// Error is the expected-failure half of a Result.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Result is the outcome of a sign-in style operation. Exactly one of
// (User/Session) or Err is meaningful; User may still be nil on success
// when no profile exists yet.
type Result struct {
	User    *auth.User
	Session *Session
	Err     *Error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Facade keeps one client's session and user, and broadcasts their changes.
// Concurrent calls are allowed; the last write to local state wins.
type Facade struct {
	provider Provider
	profiles ProfileStore
	hub      *Hub
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu      sync.RWMutex
	session *Session
	user    *auth.User
}

// Option configures a Facade.
type Option func(*Facade)

// WithHub shares an existing event hub.
func WithHub(h *Hub) Option {
	return func(f *Facade) {
		if h != nil {
			f.hub = h
		}
	}
}

// WithLogger overrides the logger used for warnings.
func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) {
		if now != nil {
			f.now = now
		}
	}
}

// NewFacade constructs a Facade over provider and profiles.
func NewFacade(provider Provider, profiles ProfileStore, opts ...Option) *Facade {
	f := &Facade{
		provider: provider,
		profiles: profiles,
		hub:      NewHub(),
		logger:   obs.Logger(),
		tracer:   obs.Tracer("session"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SignIn authenticates with email and password and loads the profile.
func (f *Facade) SignIn(ctx context.Context, email, password string) (Result, error) {
	ctx, span := f.tracer.Start(ctx, "session.sign_in")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return failed(KindInvalidInput, "email and password are required"), nil
	}
	sess, err := f.provider.SignInWithPassword(ctx, email, password)
	if res, done, err := expected(span, err); done {
		return res, err
	}
	return f.establish(ctx, sess, EventSignedIn)
}

// SignUp registers a new account. The provider may or may not return a
// usable session straight away.
func (f *Facade) SignUp(ctx context.Context, req SignUpRequest) (Result, error) {
	ctx, span := f.tracer.Start(ctx, "session.sign_up")
	defer span.End()

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		return failed(KindInvalidInput, "email and password are required"), nil
	}
	sess, err := f.provider.SignUp(ctx, req)
	if res, done, err := expected(span, err); done {
		return res, err
	}
	if sess.AccessToken == "" {
		return Result{}, nil
	}
	return f.establish(ctx, sess, EventSignedIn)
}

// SignOut ends the current session. Without a session it is a no-op.
func (f *Facade) SignOut(ctx context.Context) (Result, error) {
	ctx, span := f.tracer.Start(ctx, "session.sign_out")
	defer span.End()

	f.mu.RLock()
	sess := f.session
	f.mu.RUnlock()
	if sess == nil {
		return Result{}, nil
	}
	// A rejected token (expired, already revoked) still ends the local
	// session. Transport failures keep it so the caller can retry.
	res, done, err := expected(span, f.provider.SignOut(ctx, sess.AccessToken))
	if done && err != nil {
		return res, err
	}
	f.mu.Lock()
	f.session = nil
	f.user = nil
	f.mu.Unlock()
	f.hub.Publish(Event{Type: EventSignedOut, UserID: sess.User.ID, At: f.now().UTC()})
	return res, nil
}

// ResetPassword asks the provider to send a recovery mail to email.
func (f *Facade) ResetPassword(ctx context.Context, email string) (Result, error) {
	ctx, span := f.tracer.Start(ctx, "session.reset_password")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" {
		return failed(KindInvalidInput, "email is required"), nil
	}
	err := f.provider.ResetPasswordForEmail(ctx, email)
	if res, done, err := expected(span, err); done {
		return res, err
	}
	f.hub.Publish(Event{Type: EventPasswordRecovery, At: f.now().UTC()})
	return Result{}, nil
}

// RefreshSession exchanges the refresh token for a new session.
func (f *Facade) RefreshSession(ctx context.Context) (Result, error) {
	ctx, span := f.tracer.Start(ctx, "session.refresh")
	defer span.End()

	f.mu.RLock()
	cur := f.session
	f.mu.RUnlock()
	if cur == nil || cur.RefreshToken == "" {
		return failed(KindNoSession, "no active session"), nil
	}
	sess, err := f.provider.Refresh(ctx, cur.RefreshToken)
	if res, done, err := expected(span, err); done {
		return res, err
	}
	return f.establish(ctx, sess, EventTokenRefreshed)
}

// GetCurrentSession returns a copy of the current session, or nil.
func (f *Facade) GetCurrentSession() *Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.session == nil {
		return nil
	}
	cp := *f.session
	return &cp
}

// GetCurrentUser loads the profile for the session's user. A missing
// profile is logged and reported as no user.
func (f *Facade) GetCurrentUser(ctx context.Context) (*auth.User, error) {
	ctx, span := f.tracer.Start(ctx, "session.current_user")
	defer span.End()

	f.mu.RLock()
	sess := f.session
	f.mu.RUnlock()
	if sess == nil {
		return nil, nil
	}
	u, err := f.loadUser(ctx, *sess)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	f.mu.Lock()
	if f.session != nil && f.session.User.ID == sess.User.ID {
		f.user = u
	}
	f.mu.Unlock()
	return u.Clone(), nil
}

// UpdateProfile changes the signed-in user's own profile fields.
func (f *Facade) UpdateProfile(ctx context.Context, upd ProfileUpdate) (Result, error) {
	ctx, span := f.tracer.Start(ctx, "session.update_profile")
	defer span.End()

	f.mu.RLock()
	sess := f.session
	f.mu.RUnlock()
	if sess == nil {
		return failed(KindNoSession, "no active session"), nil
	}
	ctx = auth.ContextWithToken(ctx, sess.AccessToken)
	p, err := f.profiles.ProfileByID(ctx, sess.User.ID)
	if errors.Is(err, ErrProfileNotFound) {
		return failed(KindNotFound, "profile not found"), nil
	}
	if res, done, err := expected(span, err); done {
		return res, err
	}
	p, err = f.profiles.UpsertProfile(ctx, upd.Apply(p))
	if res, done, err := expected(span, err); done {
		return res, err
	}
	u, err := BuildUser(sess.User, p)
	if err != nil {
		return failed(KindInvalidInput, err.Error()), nil
	}
	f.mu.Lock()
	f.user = u
	f.mu.Unlock()
	f.hub.Publish(Event{Type: EventUserUpdated, UserID: u.ID, At: f.now().UTC()})
	cp := *sess
	return Result{User: u.Clone(), Session: &cp}, nil
}

// OnAuthStateChange calls cb for every auth event until the returned
// function is called. Events are delivered in order on one goroutine.
func (f *Facade) OnAuthStateChange(cb func(Event)) (unsubscribe func()) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := f.hub.Subscribe(ctx)
	go func() {
		for evt := range ch {
			cb(evt)
		}
	}()
	return cancel
}

func (f *Facade) establish(ctx context.Context, sess Session, evt EventType) (Result, error) {
	if sess.ExpiresAt.IsZero() && sess.ExpiresIn > 0 {
		sess.ExpiresAt = f.now().UTC().Add(time.Duration(sess.ExpiresIn) * time.Second)
	}
	u, err := f.loadUser(ctx, sess)
	if err != nil {
		return Result{}, err
	}
	f.mu.Lock()
	f.session = &sess
	f.user = u
	f.mu.Unlock()

	trace.SpanFromContext(ctx).SetAttributes(attribute.String("user.id", sess.User.ID))
	f.hub.Publish(Event{Type: evt, UserID: sess.User.ID, At: f.now().UTC()})
	cp := sess
	return Result{User: u.Clone(), Session: &cp}, nil
}

func (f *Facade) loadUser(ctx context.Context, sess Session) (*auth.User, error) {
	pu := sess.User
	ctx = auth.ContextWithToken(ctx, sess.AccessToken)
	p, err := f.profiles.ProfileByID(ctx, pu.ID)
	if errors.Is(err, ErrProfileNotFound) {
		f.logger.Warn("profile not found for session user", "user_id", pu.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u, err := BuildUser(pu, p)
	if err != nil {
		f.logger.Warn("profile rejected", "user_id", pu.ID, "error", err.Error())
		return nil, nil
	}
	return u, nil
}

func failed(kind ErrorKind, msg string) Result {
	return Result{Err: &Error{Kind: kind, Message: msg}}
}

// expected splits err into an expected provider failure (as a Result) or a
// transport failure. done is false when err is nil.
func expected(span trace.Span, err error) (res Result, done bool, out error) {
	if err == nil {
		return Result{}, false, nil
	}
	span.RecordError(err)
	var pe *ProviderError
	if errors.As(err, &pe) {
		return failed(pe.Kind, pe.Error()), true, nil
	}
	span.SetStatus(codes.Error, err.Error())
	return Result{}, true, err
}
