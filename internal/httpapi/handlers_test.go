package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"villaops.org/internal/auth"
	"villaops.org/internal/identity"
	"villaops.org/internal/mailer"
	"villaops.org/internal/orders"
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

func (c *captureSender) last() (mailer.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return mailer.Message{}, false
	}
	return c.sent[len(c.sent)-1], true
}

type apiClient struct {
	baseURL  string
	client   *http.Client
	t        *testing.T
	api      *API
	creds    *identity.InMemoryCredentials
	profiles *session.InMemoryProfiles
	mail     *captureSender
}

type testOption func(*Config)

func newTestAPI(t *testing.T, opts ...testOption) *apiClient {
	t.Helper()

	issuer, err := identity.NewIssuer(testSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	creds := identity.NewInMemoryCredentials()
	profiles := session.NewInMemoryProfiles()
	mail := &captureSender{}
	provider := identity.NewLocal(identity.Config{AllowSignup: true, MaxFailures: 5}, issuer, creds, profiles, identity.NewMemoryTokens(), mail)

	cfg := Config{
		Version:    "test",
		Provider:   provider,
		Profiles:   profiles,
		Orders:     orders.NewService(orders.NewInMemory()),
		Hub:        session.NewHub(),
		RateBurst:  100,
		RatePerSec: 100,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	api := New(cfg)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:  srv.URL,
		client:   srv.Client(),
		t:        t,
		api:      api,
		creds:    creds,
		profiles: profiles,
		mail:     mail,
	}
}

// seedUser stores a credential and profile directly and returns an access
// token obtained through the sign-in endpoint.
func (c *apiClient) seedUser(id string, role auth.Role, secondary ...auth.Role) string {
	c.t.Helper()
	return c.seedProfile(session.Profile{ID: id, Name: id, Role: role, SecondaryRoles: secondary})
}

func (c *apiClient) seedProfile(p session.Profile) string {
	c.t.Helper()
	ctx := context.Background()
	email := p.ID + "@villa.test"
	p.Email = email
	hash, err := identity.HashPassword("password-" + p.ID)
	if err != nil {
		c.t.Fatalf("hash: %v", err)
	}
	if err := c.creds.CreateCredential(ctx, identity.Credential{UserID: p.ID, Email: email, PasswordHash: hash}); err != nil {
		c.t.Fatalf("create credential: %v", err)
	}
	if _, err := c.profiles.UpsertProfile(ctx, p); err != nil {
		c.t.Fatalf("upsert profile: %v", err)
	}
	resp := c.do(http.MethodPost, "/v1/auth/sign-in", "", map[string]string{"email": email, "password": "password-" + p.ID})
	var sess session.Session
	c.decode(resp, http.StatusOK, &sess)
	return sess.AccessToken
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, token string) *http.Response {
	c.t.Helper()
	if params != nil {
		path += "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, token, nil)
}

func (c *apiClient) decode(resp *http.Response, want int, dst any) {
	c.t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		c.t.Fatalf("%s %s: expected %d, got %d: %s", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
	if dst == nil {
		return
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		c.t.Fatalf("decode: %v", err)
	}
}

type errorBody struct {
	Error     string            `json:"error"`
	Kind      session.ErrorKind `json:"kind"`
	RequestID string            `json:"request_id"`
}

type failingReadiness struct{}

func (failingReadiness) Check(context.Context) error { return errors.New("db down") }

func TestHealthReadyInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, "")
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
	var health map[string]any
	c.decode(resp, http.StatusOK, &health)
	if health["service"] != serviceName || health["version"] != "test" {
		t.Fatalf("unexpected health body: %v", health)
	}

	c.decode(c.get("/readyz", nil, ""), http.StatusOK, nil)
	c.decode(c.get("/v1/info", nil, ""), http.StatusOK, nil)

	var nf errorBody
	c.decode(c.get("/v1/nowhere", nil, ""), http.StatusNotFound, &nf)
	if nf.RequestID == "" {
		t.Fatal("expected request_id in error body")
	}

	down := newTestAPI(t, func(cfg *Config) { cfg.Ready = failingReadiness{} })
	c.decode(down.get("/readyz", nil, ""), http.StatusServiceUnavailable, nil)
}

func TestSignInSessionSignOut(t *testing.T) {
	c := newTestAPI(t)
	token := c.seedUser("hk1", auth.RoleHousekeeper, auth.RolePoolService)

	var bad errorBody
	c.decode(c.do(http.MethodPost, "/v1/auth/sign-in", "", map[string]string{"email": "hk1@villa.test", "password": "nope-nope"}), http.StatusUnauthorized, &bad)
	if bad.Kind != session.KindInvalidCredentials {
		t.Fatalf("unexpected kind: %+v", bad)
	}

	var missing errorBody
	c.decode(c.get("/v1/auth/session", nil, ""), http.StatusUnauthorized, &missing)
	if missing.Kind != session.KindInvalidToken {
		t.Fatalf("unexpected kind: %+v", missing)
	}

	var sess sessionResponse
	c.decode(c.get("/v1/auth/session", nil, token), http.StatusOK, &sess)
	if sess.User.ID != "hk1" || sess.AppUser == nil || sess.AppUser.Role != auth.RoleHousekeeper {
		t.Fatalf("unexpected session: %+v", sess)
	}
	if sess.Profile == nil || len(sess.AppUser.SecondaryRoles) != 1 {
		t.Fatalf("expected profile and secondary role: %+v", sess)
	}

	c.decode(c.do(http.MethodPost, "/v1/auth/sign-out", token, nil), http.StatusNoContent, nil)
	c.decode(c.get("/v1/auth/session", nil, token), http.StatusUnauthorized, nil)
}

func TestSignUpCreatesPartnerProfile(t *testing.T) {
	c := newTestAPI(t)

	var sess session.Session
	c.decode(c.do(http.MethodPost, "/v1/auth/sign-up", "", session.SignUpRequest{Email: "new@villa.test", Password: "long-enough", Name: "Nina"}), http.StatusCreated, &sess)
	if sess.AccessToken == "" || sess.RefreshToken == "" {
		t.Fatalf("expected tokens: %+v", sess)
	}

	var access accessResponse
	c.decode(c.get("/v1/access", nil, sess.AccessToken), http.StatusOK, &access)
	if access.Role != auth.RoleExternalPartner {
		t.Fatalf("expected external partner, got %s", access.Role)
	}

	var dup errorBody
	c.decode(c.do(http.MethodPost, "/v1/auth/sign-up", "", session.SignUpRequest{Email: "NEW@villa.test", Password: "long-enough"}), http.StatusConflict, &dup)
	if dup.Kind != session.KindUserExists {
		t.Fatalf("unexpected kind: %+v", dup)
	}

	var refreshed session.Session
	c.decode(c.do(http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: sess.RefreshToken}), http.StatusOK, &refreshed)
	if refreshed.RefreshToken == sess.RefreshToken {
		t.Fatal("refresh token should rotate")
	}
	c.decode(c.do(http.MethodPost, "/v1/auth/refresh", "", refreshRequest{RefreshToken: sess.RefreshToken}), http.StatusUnauthorized, nil)
}

func TestPasswordResetFlow(t *testing.T) {
	c := newTestAPI(t)
	c.seedUser("con1", auth.RoleConcierge)

	c.decode(c.do(http.MethodPost, "/v1/auth/reset-password", "", resetRequest{Email: "ghost@villa.test"}), http.StatusAccepted, nil)
	if _, ok := c.mail.last(); ok {
		t.Fatal("no mail expected for unknown address")
	}

	c.decode(c.do(http.MethodPost, "/v1/auth/reset-password", "", resetRequest{Email: "con1@villa.test"}), http.StatusAccepted, nil)
	msg, ok := c.mail.last()
	if !ok {
		t.Fatal("expected reset mail")
	}
	token := resetTokenFrom(t, msg.Text)

	c.decode(c.do(http.MethodPost, "/v1/auth/reset-password/confirm", "", confirmResetRequest{Token: token, Password: "brand-new-pass"}), http.StatusNoContent, nil)
	c.decode(c.do(http.MethodPost, "/v1/auth/reset-password/confirm", "", confirmResetRequest{Token: token, Password: "brand-new-pass"}), http.StatusUnauthorized, nil)
	c.decode(c.do(http.MethodPost, "/v1/auth/sign-in", "", signInRequest{Email: "con1@villa.test", Password: "brand-new-pass"}), http.StatusOK, nil)
}

func resetTokenFrom(t *testing.T, text string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		if i := strings.Index(line, "password: "); i >= 0 {
			return strings.TrimSpace(line[i+len("password: "):])
		}
	}
	t.Fatalf("no token in mail body: %q", text)
	return ""
}

func TestAccessMatrixAndChecks(t *testing.T) {
	c := newTestAPI(t)
	token := c.seedUser("hk1", auth.RoleHousekeeper, auth.RolePoolService)

	var access accessResponse
	c.decode(c.get("/v1/access", nil, token), http.StatusOK, &access)
	if len(access.Features) != len(auth.Features()) {
		t.Fatalf("expected every feature in matrix, got %d", len(access.Features))
	}
	if !access.Features[auth.FeaturePoolMaintenance] || access.Features[auth.FeatureAnalytics] {
		t.Fatalf("unexpected matrix: %v", access.Features)
	}
	if len(access.ManageableRoles) != 0 {
		t.Fatalf("housekeeper manages nobody: %v", access.ManageableRoles)
	}

	var check struct {
		Allowed bool `json:"allowed"`
	}
	c.decode(c.do(http.MethodPost, "/v1/access/check", token, accessCheckRequest{Feature: "nonexistent_key"}), http.StatusOK, &check)
	if check.Allowed {
		t.Fatal("unknown feature must be denied")
	}
	c.decode(c.do(http.MethodPost, "/v1/access/check", token, accessCheckRequest{Roles: []string{"pool_service"}}), http.StatusOK, &check)
	if !check.Allowed {
		t.Fatal("secondary role should satisfy role check")
	}
	c.decode(c.do(http.MethodPost, "/v1/access/check", token, accessCheckRequest{Roles: []string{"administrator"}}), http.StatusOK, &check)
	if check.Allowed {
		t.Fatal("housekeeper must not pass administrator check")
	}
	c.decode(c.do(http.MethodPost, "/v1/access/check", token, accessCheckRequest{Feature: "reports", Roles: []string{"manager"}}), http.StatusBadRequest, nil)
	c.decode(c.do(http.MethodPost, "/v1/access/check", token, accessCheckRequest{Roles: []string{"owner"}}), http.StatusBadRequest, nil)
}

func TestAuthenticatedWithoutProfileIsForbidden(t *testing.T) {
	c := newTestAPI(t)
	hash, err := identity.HashPassword("password-ghost")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := c.creds.CreateCredential(context.Background(), identity.Credential{UserID: "ghost", Email: "ghost@villa.test", PasswordHash: hash}); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	var signed session.Session
	c.decode(c.do(http.MethodPost, "/v1/auth/sign-in", "", signInRequest{Email: "ghost@villa.test", Password: "password-ghost"}), http.StatusOK, &signed)
	token := signed.AccessToken

	var body errorBody
	c.decode(c.get("/v1/access", nil, token), http.StatusForbidden, &body)
	if body.Kind != session.KindForbidden {
		t.Fatalf("unexpected kind: %+v", body)
	}
	var sess sessionResponse
	c.decode(c.get("/v1/auth/session", nil, token), http.StatusOK, &sess)
	if sess.AppUser != nil || sess.User.ID != "ghost" {
		t.Fatalf("expected provider user only: %+v", sess)
	}
}

func TestProfileEditsRespectManagement(t *testing.T) {
	c := newTestAPI(t)
	admin := c.seedUser("adm", auth.RoleAdministrator)
	pm := c.seedUser("pm", auth.RolePropertyManager)
	pmGranted := c.seedProfile(session.Profile{ID: "pm2", Role: auth.RolePropertyManager, CustomPermissions: map[string]bool{"user_management": true}})
	hk := c.seedUser("hk", auth.RoleHousekeeper)
	c.seedUser("super", auth.RoleSuperadmin)

	name := "Hanna"
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", hk, profileRequest{Name: &name}), http.StatusOK, nil)

	role := "administrator"
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", hk, profileRequest{Role: &role}), http.StatusForbidden, nil)

	c.decode(c.get("/v1/profiles/adm", nil, hk), http.StatusForbidden, nil)
	c.decode(c.get("/v1/profiles/hk", nil, pm), http.StatusForbidden, nil)

	pool := "pool_service"
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", pm, profileRequest{Role: &pool}), http.StatusForbidden, nil)
	var saved session.Profile
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", pmGranted, profileRequest{Role: &pool}), http.StatusOK, &saved)
	if saved.Role != auth.RolePoolService || saved.Name != "Hanna" {
		t.Fatalf("unexpected profile: %+v", saved)
	}
	concierge := "concierge"
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", pmGranted, profileRequest{Role: &concierge}), http.StatusForbidden, nil)

	superRole := "superadmin"
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", admin, profileRequest{Role: &superRole}), http.StatusForbidden, nil)
	c.decode(c.do(http.MethodPut, "/v1/profiles/super", admin, profileRequest{Name: &name}), http.StatusForbidden, nil)

	perms := map[string]bool{"analytics": true}
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", admin, profileRequest{CustomPermissions: &perms}), http.StatusOK, &saved)
	if !saved.CustomPermissions["analytics"] {
		t.Fatalf("permission not saved: %+v", saved)
	}
	bogus := map[string]bool{"chat": true}
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", admin, profileRequest{CustomPermissions: &bogus}), http.StatusBadRequest, nil)

	var manage struct {
		CanManage bool `json:"can_manage"`
	}
	c.decode(c.get("/v1/access/manage/super", nil, admin), http.StatusOK, &manage)
	if manage.CanManage {
		t.Fatal("administrator cannot manage superadmin")
	}
	c.decode(c.get("/v1/access/manage/hk", nil, pm), http.StatusOK, &manage)
	if !manage.CanManage {
		t.Fatal("property manager manages pool service staff")
	}
	c.decode(c.get("/v1/access/manage/nobody", nil, pm), http.StatusNotFound, nil)

	var list struct {
		Items []session.Profile `json:"items"`
	}
	c.decode(c.get("/v1/profiles", nil, admin), http.StatusOK, &list)
	for _, p := range list.Items {
		if p.Role == auth.RoleSuperadmin {
			t.Fatal("administrator listing should not include superadmin")
		}
	}
	c.decode(c.get("/v1/profiles", nil, hk), http.StatusForbidden, nil)
}

func TestProfileGrantsLimitedToActorAuthority(t *testing.T) {
	c := newTestAPI(t)
	pm := c.seedProfile(session.Profile{ID: "pm", Role: auth.RolePropertyManager, CustomPermissions: map[string]bool{"user_management": true}})
	c.seedUser("hk", auth.RoleHousekeeper)

	adminRole := []string{"administrator"}
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", pm, profileRequest{SecondaryRoles: &adminRole}), http.StatusForbidden, nil)
	settings := map[string]bool{"system_settings": true}
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", pm, profileRequest{CustomPermissions: &settings}), http.StatusForbidden, nil)

	stored, err := c.profiles.ProfileByID(context.Background(), "hk")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.SecondaryRoles) != 0 || len(stored.CustomPermissions) != 0 {
		t.Fatalf("refused grant was stored: %+v", stored)
	}

	poolRole := []string{"pool_service"}
	var saved session.Profile
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", pm, profileRequest{SecondaryRoles: &poolRole}), http.StatusOK, &saved)
	if len(saved.SecondaryRoles) != 1 || saved.SecondaryRoles[0] != auth.RolePoolService {
		t.Fatalf("secondary role not saved: %+v", saved)
	}
	cleaning := map[string]bool{"cleaning_tasks": true, "analytics": false}
	c.decode(c.do(http.MethodPut, "/v1/profiles/hk", pm, profileRequest{CustomPermissions: &cleaning}), http.StatusOK, &saved)
	if !saved.CustomPermissions["cleaning_tasks"] {
		t.Fatalf("permission not saved: %+v", saved)
	}
}

func TestSharedPolicyGatesAccessAndOrders(t *testing.T) {
	policy := auth.NewPolicy(
		map[auth.Role]int{auth.RoleConcierge: 2, auth.RoleHousekeeper: 1},
		map[auth.Feature][]auth.Role{auth.FeatureInventoryAccess: {auth.RoleConcierge}},
	)
	c := newTestAPI(t, func(cfg *Config) {
		cfg.Policy = &policy
		cfg.Orders = orders.NewService(orders.NewInMemory(), orders.WithChecker(policy))
	})
	hk := c.seedUser("hk", auth.RoleHousekeeper)
	con := c.seedUser("con", auth.RoleConcierge)

	var access accessResponse
	c.decode(c.get("/v1/access", nil, hk), http.StatusOK, &access)
	if access.Features[auth.FeatureInventoryAccess] {
		t.Fatal("access matrix ignores the configured policy")
	}

	in := orders.NewOrder{Department: "concierge", Items: []orders.Item{{Name: "Champagne", Quantity: 2, Unit: "btl", UnitCost: 5000}}}
	c.decode(c.do(http.MethodPost, "/v1/orders", hk, in), http.StatusForbidden, nil)
	c.decode(c.do(http.MethodPost, "/v1/orders", con, in), http.StatusCreated, nil)
}

type orderBody struct {
	orders.Order
	Total   int64          `json:"total"`
	Actions orders.Actions `json:"actions"`
}

func TestOrderWorkflowOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	hk := c.seedUser("hk", auth.RoleHousekeeper)
	pm := c.seedUser("pm", auth.RolePropertyManager)
	admin := c.seedUser("adm", auth.RoleAdministrator)
	inv := c.seedUser("inv", auth.RoleInventoryManager)
	partner := c.seedUser("partner", auth.RoleExternalPartner)

	in := orders.NewOrder{
		Department: "housekeeping",
		Priority:   orders.PriorityHigh,
		Items:      []orders.Item{{Name: "Towels", Quantity: 12, UnitCost: 900}},
	}
	c.decode(c.do(http.MethodPost, "/v1/orders", partner, in), http.StatusForbidden, nil)

	var created orderBody
	c.decode(c.do(http.MethodPost, "/v1/orders", hk, in), http.StatusCreated, &created)
	if created.Status != orders.StatusPending || created.Total != 10800 {
		t.Fatalf("unexpected order: %+v", created)
	}
	if created.Actions.Approve || created.Actions.Reject {
		t.Fatalf("housekeeper should have no workflow actions: %+v", created.Actions)
	}
	id := created.ID

	c.decode(c.do(http.MethodPost, "/v1/orders/"+id+"/approve", hk, nil), http.StatusForbidden, nil)
	c.decode(c.do(http.MethodPost, "/v1/orders/"+id+"/approve", admin, nil), http.StatusConflict, nil)

	var step orderBody
	c.decode(c.do(http.MethodPost, "/v1/orders/"+id+"/approve", pm, nil), http.StatusOK, &step)
	if step.Status != orders.StatusManagerApproved || step.ManagerApprovedBy != "pm" || step.ManagerApprovedAt == nil {
		t.Fatalf("unexpected manager approval: %+v", step)
	}

	c.decode(c.do(http.MethodPost, "/v1/orders/"+id+"/reject", admin, rejectRequest{Reason: "  "}), http.StatusBadRequest, nil)

	c.decode(c.do(http.MethodPost, "/v1/orders/"+id+"/approve", admin, nil), http.StatusOK, &step)
	if step.Status != orders.StatusApproved || step.AdminApprovedBy != "adm" {
		t.Fatalf("unexpected admin approval: %+v", step)
	}
	if !step.Actions.Send {
		t.Fatalf("administrator should be offered send: %+v", step.Actions)
	}

	c.decode(c.do(http.MethodPost, "/v1/orders/"+id+"/send", hk, nil), http.StatusForbidden, nil)
	c.decode(c.do(http.MethodPost, "/v1/orders/"+id+"/send", inv, nil), http.StatusOK, &step)
	if step.Status != orders.StatusSent || step.SentAt == nil {
		t.Fatalf("unexpected send: %+v", step)
	}
	c.decode(c.do(http.MethodPost, "/v1/orders/"+id+"/reject", admin, rejectRequest{Reason: "late"}), http.StatusForbidden, nil)

	var list struct {
		Items []orderBody `json:"items"`
	}
	c.decode(c.get("/v1/orders", url.Values{"status": {"sent"}}, pm), http.StatusOK, &list)
	if len(list.Items) != 1 || list.Items[0].ID != id {
		t.Fatalf("unexpected list: %+v", list.Items)
	}
	c.decode(c.get("/v1/orders", url.Values{"status": {"lost"}}, pm), http.StatusBadRequest, nil)
	c.decode(c.get("/v1/orders", nil, partner), http.StatusForbidden, nil)
	c.decode(c.get("/v1/orders/missing", nil, pm), http.StatusNotFound, nil)
}

func TestRejectRecordsReason(t *testing.T) {
	c := newTestAPI(t)
	hk := c.seedUser("hk", auth.RoleHousekeeper)
	mgr := c.seedUser("mgr", auth.RoleManager)

	var created orderBody
	c.decode(c.do(http.MethodPost, "/v1/orders", hk, orders.NewOrder{
		Department: "kitchen",
		Priority:   orders.PriorityNormal,
		Items:      []orders.Item{{Name: "Olive oil", Quantity: 2, UnitCost: 1500}},
	}), http.StatusCreated, &created)

	var rejected orderBody
	c.decode(c.do(http.MethodPost, "/v1/orders/"+created.ID+"/reject", mgr, rejectRequest{Reason: "over budget"}), http.StatusOK, &rejected)
	if rejected.Status != orders.StatusRejected || rejected.RejectionReason != "over budget" || rejected.RejectedBy != "mgr" {
		t.Fatalf("unexpected rejection: %+v", rejected)
	}
	if rejected.Actions != (orders.Actions{}) {
		t.Fatalf("rejected order offers no actions: %+v", rejected.Actions)
	}
}
