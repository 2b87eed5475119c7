package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"
	"time"

	"mercaro.shop/internal/identity"
)

type capturingDeliverer struct {
	lastCode string
}

func (d *capturingDeliverer) Deliver(_ context.Context, _ *identity.Identity, code string) error {
	d.lastCode = code
	return nil
}

type apiClient struct {
	baseURL   string
	client    *http.Client
	store     *identity.MemStore
	issuer    *identity.TokenIssuer
	deliverer *capturingDeliverer
	t         *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	store := identity.NewMemStore()
	issuer, err := identity.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("token issuer: %v", err)
	}
	deliverer := &capturingDeliverer{}
	svc, err := identity.NewService(store, issuer, identity.WithDeliverer(deliverer))
	if err != nil {
		t.Fatalf("service: %v", err)
	}

	api := New(svc, issuer, ReadyProbe{}, Options{Version: "test"})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}

	return &apiClient{
		baseURL:   srv.URL,
		client:    &http.Client{Jar: jar},
		store:     store,
		issuer:    issuer,
		deliverer: deliverer,
		t:         t,
	}
}

func (c *apiClient) seedIdentity(class identity.Class, email, password string) *identity.Identity {
	c.t.Helper()
	hash, err := identity.HashPassword(password)
	if err != nil {
		c.t.Fatalf("hash password: %v", err)
	}
	id := &identity.Identity{
		Class:        class,
		Email:        email,
		PasswordHash: hash,
		Role:         "regular",
	}
	if err := c.store.Identities(context.Background()).Create(context.Background(), id); err != nil {
		c.t.Fatalf("seed identity: %v", err)
	}
	return id
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (c *apiClient) login(prefix, email, password string, remember bool) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, prefix+"/login", map[string]any{
		"email":    email,
		"password": password,
		"remember": remember,
	}, nil)
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestHealthEndpoints(t *testing.T) {
	c := newTestAPI(t)

	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.do(http.MethodGet, path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestLoginSetsSessionCookies(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity(identity.ClassUser, "anna@acme.test", "secret")

	resp := c.login("/v1/users/auth", "anna@acme.test", "secret", true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var names []string
	for _, ck := range resp.Cookies() {
		names = append(names, ck.Name)
		if !ck.HttpOnly {
			t.Fatalf("cookie %s must be httpOnly", ck.Name)
		}
		if ck.Name == refreshCookieName && ck.Path != "/v1/users/auth" {
			t.Fatalf("refresh cookie path = %q", ck.Path)
		}
	}
	want := map[string]bool{accessCookieName: false, refreshCookieName: false}
	for _, n := range names {
		want[n] = true
	}
	for n, got := range want {
		if !got {
			t.Fatalf("cookie %s not set", n)
		}
	}

	var body sessionResponse
	decodeBody(t, resp, &body)
	if body.Identity.Email != "anna@acme.test" {
		t.Fatalf("unexpected identity in response: %+v", body.Identity)
	}
}

func TestLoginWithoutRememberOmitsRefreshCookie(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity(identity.ClassUser, "anna@acme.test", "secret")

	resp := c.login("/v1/users/auth", "anna@acme.test", "secret", false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	for _, ck := range resp.Cookies() {
		if ck.Name == refreshCookieName {
			t.Fatal("refresh cookie set without remember")
		}
	}
}

func TestLoginRejections(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity(identity.ClassUser, "anna@acme.test", "secret")
	blocked := c.seedIdentity(identity.ClassUser, "boris@acme.test", "secret")
	if err := c.store.Identities(context.Background()).SetBlocked(context.Background(), blocked.ID, true); err != nil {
		t.Fatalf("block identity: %v", err)
	}

	cases := []struct {
		name   string
		email  string
		pass   string
		status int
	}{
		{"wrong password", "anna@acme.test", "nope", http.StatusUnauthorized},
		{"unknown email", "ghost@acme.test", "secret", http.StatusUnauthorized},
		{"blocked", "boris@acme.test", "secret", http.StatusForbidden},
		{"empty password", "anna@acme.test", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		resp := c.login("/v1/users/auth", tc.email, tc.pass, false)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, resp.StatusCode)
		}
	}
}

func TestLoginClassIsolation(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity(identity.ClassUser, "anna@acme.test", "secret")

	// A user credential does not open the admin surface.
	resp := c.login("/v1/admin/auth", "anna@acme.test", "secret", false)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestRefreshTokenFlow(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity(identity.ClassUser, "anna@acme.test", "secret")

	if resp := c.login("/v1/users/auth", "anna@acme.test", "secret", true); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: got %d", resp.StatusCode)
	}

	resp := c.do(http.MethodPost, "/v1/users/auth/refresh-token", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: expected 200, got %d", resp.StatusCode)
	}
	var refreshed bool
	for _, ck := range resp.Cookies() {
		if ck.Name == accessCookieName && ck.Value != "" {
			refreshed = true
		}
	}
	if !refreshed {
		t.Fatal("refresh did not set a new access cookie")
	}
}

func TestRefreshWithoutCookie(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodPost, "/v1/users/auth/refresh-token", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestIsAuthenticated(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity(identity.ClassUser, "anna@acme.test", "secret")

	// Unauthenticated first.
	resp := c.do(http.MethodGet, "/v1/users/auth/is-authenticated", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}

	if resp := c.login("/v1/users/auth", "anna@acme.test", "secret", false); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodGet, "/v1/users/auth/is-authenticated", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var p identity.Projection
	decodeBody(t, resp, &p)
	if p.Email != "anna@acme.test" || p.Class != identity.ClassUser {
		t.Fatalf("unexpected projection: %+v", p)
	}
}

func TestIsAuthenticatedWrongClass(t *testing.T) {
	c := newTestAPI(t)
	id := c.seedIdentity(identity.ClassUser, "anna@acme.test", "secret")

	token, _, err := c.issuer.Issue(id)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	resp := c.do(http.MethodGet, "/v1/admin/auth/is-authenticated", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestLogoutClearsSession(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity(identity.ClassUser, "anna@acme.test", "secret")

	if resp := c.login("/v1/users/auth", "anna@acme.test", "secret", true); resp.StatusCode != http.StatusOK {
		t.Fatalf("login: got %d", resp.StatusCode)
	}

	resp := c.do(http.MethodPost, "/v1/users/auth/logout", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", resp.StatusCode)
	}

	// Cookies are gone, so the refresh surface rejects the caller.
	resp = c.do(http.MethodPost, "/v1/users/auth/refresh-token", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", resp.StatusCode)
	}
}

func TestOtpPasswordResetFlow(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity(identity.ClassUser, "anna@acme.test", "old-secret")

	resp := c.do(http.MethodPost, "/v1/users/auth/send-otp-code",
		map[string]any{"email": "anna@acme.test"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send-otp-code: expected 200, got %d", resp.StatusCode)
	}
	code := c.deliverer.lastCode
	if code == "" {
		t.Fatal("no code delivered")
	}

	resp = c.do(http.MethodPut, "/v1/users/auth/verify-otp-code",
		map[string]any{"email": "anna@acme.test", "code": code}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("verify-otp-code: expected 200, got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPut, "/v1/users/auth/reset-password",
		map[string]any{"email": "anna@acme.test", "password": "new-secret"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset-password: expected 200, got %d", resp.StatusCode)
	}

	if resp := c.login("/v1/users/auth", "anna@acme.test", "old-secret", false); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old password still accepted: %d", resp.StatusCode)
	}
	if resp := c.login("/v1/users/auth", "anna@acme.test", "new-secret", false); resp.StatusCode != http.StatusOK {
		t.Fatalf("new password rejected: %d", resp.StatusCode)
	}
}

func TestResetPasswordRequiresVerification(t *testing.T) {
	c := newTestAPI(t)
	c.seedIdentity(identity.ClassUser, "anna@acme.test", "secret")

	resp := c.do(http.MethodPost, "/v1/users/auth/send-otp-code",
		map[string]any{"email": "anna@acme.test"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send-otp-code: got %d", resp.StatusCode)
	}

	resp = c.do(http.MethodPut, "/v1/users/auth/reset-password",
		map[string]any{"email": "anna@acme.test", "password": "new-secret"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/users/auth/login", nil, nil)
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Allow") != http.MethodPost {
		t.Fatalf("Allow = %q", resp.Header.Get("Allow"))
	}
}

func TestUnknownPath(t *testing.T) {
	c := newTestAPI(t)

	resp := c.do(http.MethodGet, "/v1/unknown", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
