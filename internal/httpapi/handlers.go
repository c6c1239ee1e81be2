package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"villaops.org/internal/auth"
	"villaops.org/internal/obs"
	"villaops.org/internal/orders"
	"villaops.org/internal/session"
)

const serviceName = "villaops-api"

// ReadyProbe checks readiness, typically by pinging the database.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// IdentityProvider is the server-side provider: the session.Provider
// operations plus reset confirmation.
type IdentityProvider interface {
	session.Provider
	ConfirmPasswordReset(ctx context.Context, token, password string) error
}

type profileLister interface {
	ListProfiles(ctx context.Context) ([]session.Profile, error)
}

// Config wires the API to its collaborators.
type Config struct {
	Version     string
	Ready       readinessChecker
	Provider    IdentityProvider
	Profiles    session.ProfileStore
	Orders      *orders.Service
	Hub         *session.Hub
	Policy      *auth.Policy
	CORSOrigins []string
	RateBurst   int
	RatePerSec  float64
}

// API is the HTTP layer.
type API struct {
	router   chi.Router
	ready    readinessChecker
	version  string
	provider IdentityProvider
	profiles session.ProfileStore
	orders   *orders.Service
	hub      *session.Hub
	policy   auth.Policy
	origins  []string

	rateBurst  int
	ratePerSec float64
	now        func() time.Time
}

func New(cfg Config) *API {
	a := &API{
		ready:      cfg.Ready,
		version:    cfg.Version,
		provider:   cfg.Provider,
		profiles:   cfg.Profiles,
		orders:     cfg.Orders,
		hub:        cfg.Hub,
		policy:     auth.DefaultPolicy(),
		origins:    cfg.CORSOrigins,
		rateBurst:  cfg.RateBurst,
		ratePerSec: cfg.RatePerSec,
		now:        time.Now,
	}
	if cfg.Policy != nil {
		a.policy = *cfg.Policy
	}
	if a.ready == nil {
		a.ready = ReadyProbe{}
	}
	if a.hub == nil {
		a.hub = session.NewHub()
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 10
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 5
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, SecurityHeaders, CORS(a.origins), MaxBodyBytes(1<<20))
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1/auth", func(r chi.Router) {
		r.Use(RateLimit(a.rateBurst, a.ratePerSec))
		r.Post("/sign-in", a.handleSignIn)
		r.Post("/sign-up", a.handleSignUp)
		r.Post("/reset-password", a.handleResetPassword)
		r.Post("/reset-password/confirm", a.handleConfirmReset)
		r.Post("/refresh", a.handleRefresh)
		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Post("/sign-out", a.handleSignOut)
			r.Get("/session", a.handleSession)
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Get("/v1/profiles", a.handleListProfiles)
		r.Get("/v1/profiles/{id}", a.handleGetProfile)
		r.Put("/v1/profiles/{id}", a.handlePutProfile)

		r.Get("/v1/access", a.handleAccess)
		r.Post("/v1/access/check", a.handleAccessCheck)
		r.Get("/v1/access/manage/{id}", a.handleCanManage)

		r.Route("/v1/orders", func(r chi.Router) {
			r.Get("/", a.handleListOrders)
			r.Post("/", a.handleCreateOrder)
			r.Get("/{id}", a.handleGetOrder)
			r.Post("/{id}/approve", a.handleApproveOrder)
			r.Post("/{id}/reject", a.handleRejectOrder)
			r.Post("/{id}/send", a.handleSendOrder)
		})

		r.Get("/v1/events", a.handleEvents)
	})
	return r
}

// Handler returns the root handler wrapped with metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.router)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    a.now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorKind(w, r, code, "", msg)
}

func writeErrorKind(w http.ResponseWriter, r *http.Request, code int, kind session.ErrorKind, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if kind != "" {
		payload["kind"] = kind
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between " + strconv.Itoa(min) + " and " + strconv.Itoa(max))
	}
	return val, nil
}
