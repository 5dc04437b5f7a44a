package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"testing"

	"lmsportal.org/internal/audit"
	"lmsportal.org/internal/auth"
)

const testPassword = "Sup3rSecret"

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemoryStore
	t       *testing.T
}

func newTestAPI(t *testing.T, mutate func(*Config)) *apiClient {
	t.Helper()

	store := auth.NewMemoryStore()
	if err := store.SeedRoles(context.Background()); err != nil {
		t.Fatalf("SeedRoles: %v", err)
	}

	recorder := audit.NewSyncRecorder(store.Audit())
	tokens, err := auth.NewTokenService(store, "0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	svc := auth.NewService(store, tokens, recorder)
	imp := auth.NewImpersonationManager(store, svc, recorder)

	cfg := Config{SkipRateLimit: true, Version: "test"}
	if mutate != nil {
		mutate(&cfg)
	}

	api := New(svc, imp, recorder, ReadyProbe{}, cfg)
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	client := srv.Client()
	client.Jar = jar
	// Redirect handling is asserted explicitly where it matters.
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &apiClient{baseURL: srv.URL, client: client, store: store, t: t}
}

func (c *apiClient) createUser(email string, roles ...auth.RoleKey) *auth.User {
	c.t.Helper()
	if len(roles) == 0 {
		roles = []auth.RoleKey{auth.RoleLearner}
	}
	hash, err := auth.HashPassword(testPassword)
	if err != nil {
		c.t.Fatalf("HashPassword: %v", err)
	}
	u := &auth.User{
		TenantID:     "tenant-1",
		NodeID:       "node-1",
		Email:        email,
		PasswordHash: hash,
		Roles:        roles,
		ActiveRole:   roles[0],
		Status:       auth.StatusActive,
	}
	if err := c.store.Users().Create(context.Background(), u); err != nil {
		c.t.Fatalf("Create user: %v", err)
	}
	return u
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
	return resp
}

func (c *apiClient) get(path string) *http.Response {
	return c.do(http.MethodGet, path, nil, nil)
}

// csrfHeaders fetches a CSRF token (setting the cookie half on the jar) and
// returns the header half for a mutating request.
func (c *apiClient) csrfHeaders() map[string]string {
	c.t.Helper()
	resp := c.get("/csrf-token")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("csrf-token: status %d", resp.StatusCode)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.t.Fatalf("decode csrf token: %v", err)
	}
	return map[string]string{"X-Csrf-Token": body.Token}
}

func (c *apiClient) login(email string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": testPassword,
	}, c.csrfHeaders())
}

func (c *apiClient) mustLogin(email string) {
	c.t.Helper()
	resp := c.login(email)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", email, resp.StatusCode)
	}
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}
