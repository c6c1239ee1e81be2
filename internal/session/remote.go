package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"villaops.org/internal/auth"
)

// RemoteProvider implements Provider against the villaops HTTP API.
type RemoteProvider struct {
	base   string
	client *http.Client
}

// NewRemoteProvider returns a provider talking to baseURL. A nil client
// gets a 10s timeout.
func NewRemoteProvider(baseURL string, client *http.Client) *RemoteProvider {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteProvider{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *RemoteProvider) SignInWithPassword(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := do(ctx, p.client, http.MethodPost, p.base+"/v1/auth/sign-in", "", map[string]string{
		"email":    email,
		"password": password,
	}, &out)
	return out, err
}

func (p *RemoteProvider) SignUp(ctx context.Context, req SignUpRequest) (Session, error) {
	var out Session
	err := do(ctx, p.client, http.MethodPost, p.base+"/v1/auth/sign-up", "", req, &out)
	return out, err
}

func (p *RemoteProvider) SignOut(ctx context.Context, accessToken string) error {
	return do(ctx, p.client, http.MethodPost, p.base+"/v1/auth/sign-out", accessToken, nil, nil)
}

func (p *RemoteProvider) ResetPasswordForEmail(ctx context.Context, email string) error {
	return do(ctx, p.client, http.MethodPost, p.base+"/v1/auth/reset-password", "", map[string]string{"email": email}, nil)
}

func (p *RemoteProvider) GetUser(ctx context.Context, accessToken string) (ProviderUser, error) {
	var out struct {
		User ProviderUser `json:"user"`
	}
	err := do(ctx, p.client, http.MethodGet, p.base+"/v1/auth/session", accessToken, nil, &out)
	return out.User, err
}

func (p *RemoteProvider) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	var out Session
	err := do(ctx, p.client, http.MethodPost, p.base+"/v1/auth/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	}, &out)
	return out, err
}

// RemoteProfiles implements ProfileStore against the villaops HTTP API.
// The bearer token is taken from the request context.
type RemoteProfiles struct {
	base   string
	client *http.Client
}

// NewRemoteProfiles returns a profile store talking to baseURL.
func NewRemoteProfiles(baseURL string, client *http.Client) *RemoteProfiles {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &RemoteProfiles{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (s *RemoteProfiles) ProfileByID(ctx context.Context, id string) (Profile, error) {
	token, _ := auth.TokenFromContext(ctx)
	var out Profile
	err := do(ctx, s.client, http.MethodGet, s.base+"/v1/profiles/"+url.PathEscape(id), token, nil, &out)
	if isKind(err, KindNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	return out, err
}

func (s *RemoteProfiles) UpsertProfile(ctx context.Context, p Profile) (Profile, error) {
	token, _ := auth.TokenFromContext(ctx)
	var out Profile
	err := do(ctx, s.client, http.MethodPut, s.base+"/v1/profiles/"+url.PathEscape(p.ID), token, p, &out)
	return out, err
}

// Access fetches the caller's feature matrix from the API.
func (s *RemoteProfiles) Access(ctx context.Context) (map[auth.Feature]bool, error) {
	token, _ := auth.TokenFromContext(ctx)
	var out struct {
		Features map[auth.Feature]bool `json:"features"`
	}
	err := do(ctx, s.client, http.MethodGet, s.base+"/v1/access", token, nil, &out)
	return out.Features, err
}

func do(ctx context.Context, client *http.Client, method, endpoint, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("remote %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return mapRemoteError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote %s %s: decode: %w", method, endpoint, err)
	}
	return nil
}

// mapRemoteError turns API error bodies into ProviderErrors. Server errors
// and unparseable bodies stay transport failures.
func mapRemoteError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if resp.StatusCode >= 500 {
		return fmt.Errorf("remote: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}
	var pe ProviderError
	if err := json.Unmarshal(data, &pe); err != nil || (pe.Kind == "" && pe.Message == "") {
		return fmt.Errorf("remote: status %d", resp.StatusCode)
	}
	if pe.Kind == "" {
		pe.Kind = kindForStatus(resp.StatusCode)
	}
	return &pe
}

func kindForStatus(code int) ErrorKind {
	switch code {
	case http.StatusUnauthorized:
		return KindInvalidToken
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindUserExists
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindInvalidInput
	}
}

func isKind(err error, kind ErrorKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == kind
}
