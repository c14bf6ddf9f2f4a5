package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/geethx/workshop/internal/auth"
	"github.com/geethx/workshop/internal/db"
	"github.com/geethx/workshop/internal/identity"
	"github.com/geethx/workshop/internal/inventory"
	"github.com/geethx/workshop/internal/lock"
	"github.com/geethx/workshop/internal/model"
	"github.com/geethx/workshop/internal/observability"
)

const testJWTSecret = "test-secret"

type testServer struct {
	*httptest.Server
	ids *identity.Service
}

func newTestServer(t *testing.T, limiter *RateLimiter) *testServer {
	t.Helper()
	database := db.NewTestDB(t)

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	ids := identity.New(database, auth.NewIssuer(testJWTSecret, time.Hour), identity.Config{
		AllowRegistration: true,
		BcryptCost:        bcrypt.MinCost,
	})
	inv := inventory.New(database, lock.NewMemory(), metrics, inventory.Config{})

	server := httptest.NewServer(NewRouter(Deps{
		DB:           database,
		Identity:     ids,
		Inventory:    inv,
		Metrics:      metrics,
		Gatherer:     reg,
		LoginLimiter: limiter,
	}))
	t.Cleanup(server.Close)

	return &testServer{Server: server, ids: ids}
}

// provision creates an account and returns a token for it.
func (s *testServer) provision(t *testing.T, name, role string) (string, *model.User) {
	t.Helper()
	user, err := s.ids.Provision(context.Background(), name, "password", role)
	if err != nil {
		t.Fatalf("provisioning %s: %v", name, err)
	}

	resp, body := s.do(t, "POST", "/api/auth/login", "", map[string]string{"name": name, "password": "password"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login failed: %d %v", resp.StatusCode, body)
	}
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatal("empty token from login")
	}
	return token, user
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encoding body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			t.Fatalf("decoding %s %s: %v", method, path, err)
		}
	}
	return resp, decoded
}

func expectStatus(t *testing.T, resp *http.Response, body map[string]any, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d %v", resp.Request.Method, resp.Request.URL.Path, want, resp.StatusCode, body)
	}
}

func expectCode(t *testing.T, body map[string]any, want string) {
	t.Helper()
	if body["code"] != want {
		t.Fatalf("expected error code %q, got %v", want, body)
	}
}

func TestLoginEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	s.provision(t, "admin", model.RoleAdmin)

	resp, body := s.do(t, "POST", "/api/auth/login", "", map[string]string{"name": "admin", "password": "wrong"})
	expectStatus(t, resp, body, http.StatusUnauthorized)
	expectCode(t, body, "invalid_credentials")
	if body["requestId"] == "" || resp.Header.Get("X-Request-Id") == "" {
		t.Errorf("expected request id in body and header, got %v", body)
	}
}

func TestUnauthenticatedAccess(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, "GET", "/api/items", "", nil)
	expectStatus(t, resp, body, http.StatusUnauthorized)
	expectCode(t, body, "unauthorized")

	resp, body = s.do(t, "GET", "/api/items", "not-a-token", nil)
	expectStatus(t, resp, body, http.StatusUnauthorized)
}

func TestItemsAPIFlow(t *testing.T) {
	s := newTestServer(t, nil)
	token, _ := s.provision(t, "admin", model.RoleAdmin)

	resp, body := s.do(t, "POST", "/api/items", token, map[string]string{
		"code":     "drl-01",
		"name":     "Drill",
		"category": "Tools",
	})
	expectStatus(t, resp, body, http.StatusCreated)
	item := body["item"].(map[string]any)
	if item["code"] != "DRL-01" || item["status"] != model.StatusInside {
		t.Fatalf("unexpected item: %v", item)
	}

	resp, body = s.do(t, "POST", "/api/items", token, map[string]string{"code": "DRL-01", "name": "Drill", "category": "Tools"})
	expectStatus(t, resp, body, http.StatusConflict)
	expectCode(t, body, "duplicate_code")

	resp, body = s.do(t, "POST", "/api/items", token, map[string]string{"code": "X"})
	expectStatus(t, resp, body, http.StatusBadRequest)
	expectCode(t, body, "validation_error")
	if fields := body["details"].(map[string]any)["fields"].([]any); len(fields) != 2 {
		t.Errorf("expected 2 invalid fields, got %v", fields)
	}

	resp, body = s.do(t, "GET", "/api/items/code/drl-01", token, nil)
	expectStatus(t, resp, body, http.StatusOK)

	checkout := map[string]string{"code": "DRL-01", "checkoutPerson": "Alex", "projectName": "Bench Build"}
	resp, body = s.do(t, "POST", "/api/transactions/checkout", token, checkout)
	expectStatus(t, resp, body, http.StatusCreated)
	if body["item"].(map[string]any)["status"] != model.StatusOutside {
		t.Fatalf("expected Outside, got %v", body)
	}

	resp, body = s.do(t, "POST", "/api/transactions/checkout", token, checkout)
	expectStatus(t, resp, body, http.StatusConflict)
	expectCode(t, body, "invalid_transition")
	if body["details"].(map[string]any)["currentStatus"] != model.StatusOutside {
		t.Errorf("expected currentStatus Outside, got %v", body)
	}

	resp, body = s.do(t, "POST", "/api/transactions/checkin", token, map[string]string{"code": "DRL-01"})
	expectStatus(t, resp, body, http.StatusCreated)

	resp, body = s.do(t, "GET", "/api/transactions", token, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if txs := body["transactions"].([]any); len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}

	resp, body = s.do(t, "GET", "/api/transactions?action=CheckOut&startDate="+time.Now().UTC().Format("2006-01-02"), token, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if txs := body["transactions"].([]any); len(txs) != 1 {
		t.Fatalf("expected 1 checkout today, got %d", len(txs))
	}

	resp, body = s.do(t, "GET", "/api/transactions?startDate=yesterday", token, nil)
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = s.do(t, "GET", "/api/items/stats", token, nil)
	expectStatus(t, resp, body, http.StatusOK)
	stats := body["stats"].(map[string]any)
	if stats["totalItems"] != float64(1) || stats["insideCount"] != float64(1) {
		t.Errorf("unexpected stats: %v", stats)
	}

	id := int64(item["id"].(float64))
	resp, body = s.do(t, "PUT", fmt.Sprintf("/api/items/%d", id), token, map[string]string{"code": "DRL-02"})
	expectStatus(t, resp, body, http.StatusBadRequest)

	resp, body = s.do(t, "DELETE", fmt.Sprintf("/api/items/%d", id), token, nil)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = s.do(t, "GET", fmt.Sprintf("/api/transactions/item/%d", id), token, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if txs := body["transactions"].([]any); len(txs) != 2 {
		t.Errorf("expected history to survive deletion, got %d entries", len(txs))
	}
}

func TestRoleBasedAccess(t *testing.T) {
	s := newTestServer(t, nil)
	adminToken, _ := s.provision(t, "admin", model.RoleAdmin)

	resp, body := s.do(t, "POST", "/api/auth/register", "", map[string]string{"name": "sam", "password": "secret1"})
	expectStatus(t, resp, body, http.StatusCreated)
	staffToken := body["token"].(string)
	if body["user"].(map[string]any)["role"] != model.RoleStaff {
		t.Fatalf("expected staff role by default, got %v", body)
	}

	resp, body = s.do(t, "POST", "/api/items", staffToken, map[string]string{"code": "A", "name": "A", "category": "C"})
	expectStatus(t, resp, body, http.StatusForbidden)
	expectCode(t, body, "forbidden")

	resp, body = s.do(t, "POST", "/api/items", adminToken, map[string]string{"code": "A", "name": "A", "category": "C"})
	expectStatus(t, resp, body, http.StatusCreated)

	resp, body = s.do(t, "POST", "/api/transactions/checkout", staffToken, map[string]string{"code": "a", "checkoutPerson": "Sam", "projectName": "P"})
	expectStatus(t, resp, body, http.StatusCreated)

	resp, body = s.do(t, "GET", "/api/users", staffToken, nil)
	expectStatus(t, resp, body, http.StatusForbidden)

	uaToken, _ := s.provision(t, "keeper", model.RoleUserAdmin)
	resp, body = s.do(t, "GET", "/api/users", uaToken, nil)
	expectStatus(t, resp, body, http.StatusOK)
	resp, body = s.do(t, "GET", "/api/items", uaToken, nil)
	expectStatus(t, resp, body, http.StatusForbidden)
}

func TestProtectedAccounts(t *testing.T) {
	s := newTestServer(t, nil)
	adminToken, admin := s.provision(t, "admin", model.RoleAdmin)
	_, keeper := s.provision(t, "keeper", model.RoleUserAdmin)

	resp, body := s.do(t, "DELETE", fmt.Sprintf("/api/users/%d", keeper.ID), adminToken, nil)
	expectStatus(t, resp, body, http.StatusConflict)
	expectCode(t, body, "conflict")

	resp, body = s.do(t, "DELETE", fmt.Sprintf("/api/users/%d", admin.ID), adminToken, nil)
	expectStatus(t, resp, body, http.StatusConflict)

	resp, body = s.do(t, "POST", "/api/users", adminToken, map[string]string{"name": "sam", "password": "secret1", "role": model.RoleStaff})
	expectStatus(t, resp, body, http.StatusCreated)
	samID := int64(body["user"].(map[string]any)["id"].(float64))

	resp, body = s.do(t, "PUT", fmt.Sprintf("/api/users/%d", samID), adminToken, map[string]any{"isActive": false})
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = s.do(t, "POST", "/api/auth/login", "", map[string]string{"name": "sam", "password": "secret1"})
	expectStatus(t, resp, body, http.StatusUnauthorized)

	resp, body = s.do(t, "DELETE", fmt.Sprintf("/api/users/%d", samID), adminToken, nil)
	expectStatus(t, resp, body, http.StatusOK)
}

func TestLogoutRevokesToken(t *testing.T) {
	s := newTestServer(t, nil)
	token, _ := s.provision(t, "admin", model.RoleAdmin)

	resp, body := s.do(t, "GET", "/api/auth/me", token, nil)
	expectStatus(t, resp, body, http.StatusOK)
	if body["user"].(map[string]any)["name"] != "admin" {
		t.Fatalf("unexpected me: %v", body)
	}

	resp, body = s.do(t, "POST", "/api/auth/logout", token, nil)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = s.do(t, "GET", "/api/auth/me", token, nil)
	expectStatus(t, resp, body, http.StatusUnauthorized)
}

func TestBatchEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	token, _ := s.provision(t, "admin", model.RoleAdmin)

	for _, code := range []string{"A", "B"} {
		resp, body := s.do(t, "POST", "/api/items", token, map[string]string{"code": code, "name": code, "category": "Tools"})
		expectStatus(t, resp, body, http.StatusCreated)
	}
	resp, body := s.do(t, "POST", "/api/transactions/checkout", token, map[string]string{"code": "B", "checkoutPerson": "Alex", "projectName": "P"})
	expectStatus(t, resp, body, http.StatusCreated)

	resp, body = s.do(t, "POST", "/api/transactions/batch", token, map[string]any{
		"action":         model.ActionCheckOut,
		"codes":          []string{"A", "B", "UNKNOWN"},
		"checkoutPerson": "Alex",
		"projectName":    "Bench Build",
	})
	expectStatus(t, resp, body, http.StatusOK)
	if body["succeeded"] != float64(1) || body["failed"] != float64(2) {
		t.Fatalf("unexpected batch totals: %v", body)
	}

	results := body["results"].([]any)
	wantErr := []any{nil, "invalid_transition", "not_found"}
	for i, raw := range results {
		r := raw.(map[string]any)
		var got any
		if e, ok := r["error"].(map[string]any); ok {
			got = e["code"]
		}
		if got != wantErr[i] {
			t.Errorf("result %d: expected error %v, got %v", i, wantErr[i], r)
		}
	}
}

func TestExportEndpoint(t *testing.T) {
	s := newTestServer(t, nil)
	token, _ := s.provision(t, "admin", model.RoleAdmin)

	resp, body := s.do(t, "POST", "/api/items", token, map[string]string{"code": "A", "name": "Anvil", "category": "Tools"})
	expectStatus(t, resp, body, http.StatusCreated)
	resp, body = s.do(t, "POST", "/api/transactions/checkout", token, map[string]string{"code": "A", "checkoutPerson": "Alex", "projectName": "P"})
	expectStatus(t, resp, body, http.StatusCreated)

	req, _ := http.NewRequest("GET", s.URL+"/api/transactions/export", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("export request: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %s", ct)
	}
	data, _ := io.ReadAll(res.Body)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "Date,Item Code,Item Name") || !strings.Contains(lines[1], "Anvil") {
		t.Errorf("unexpected csv:\n%s", data)
	}
}

func TestLoginRateLimited(t *testing.T) {
	s := newTestServer(t, NewRateLimiter(1, 2))

	for i := range 2 {
		resp, body := s.do(t, "POST", "/api/auth/login", "", map[string]string{"name": "nobody", "password": "password"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d %v", i, resp.StatusCode, body)
		}
	}

	resp, body := s.do(t, "POST", "/api/auth/login", "", map[string]string{"name": "nobody", "password": "password"})
	expectStatus(t, resp, body, http.StatusTooManyRequests)
	expectCode(t, body, "rate_limited")
	if resp.Header.Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestLoginRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	s := newTestServer(t, NewRateLimiter(10, 1))

	allowed := 0
	for i := range 20 {
		req, _ := http.NewRequest("POST", s.URL+"/api/auth/login",
			strings.NewReader(`{"name":"nobody","password":"password"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))

		res, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("login attempt %d: %v", i, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusTooManyRequests {
			allowed++
		}
	}
	if allowed != 1 {
		t.Errorf("expected 1 attempt allowed from a single peer, got %d", allowed)
	}
}

func TestClientIP(t *testing.T) {
	rl := NewRateLimiter(10, 1).TrustProxies(netip.MustParsePrefix("10.0.0.0/8"))

	tests := []struct {
		name   string
		remote string
		xff    string
		want   string
	}{
		{"no header", "198.51.100.7:5000", "", "198.51.100.7"},
		{"untrusted peer header ignored", "198.51.100.7:5000", "203.0.113.9", "198.51.100.7"},
		{"trusted proxy", "10.0.0.2:5000", "203.0.113.9", "203.0.113.9"},
		{"spoofed left-most hop skipped", "10.0.0.2:5000", "1.2.3.4, 203.0.113.9", "203.0.113.9"},
		{"proxy chain", "10.0.0.2:5000", "203.0.113.9, 10.1.1.1", "203.0.113.9"},
		{"malformed hop", "10.0.0.2:5000", "not-an-ip", "10.0.0.2"},
		{"only proxies", "10.0.0.2:5000", "10.0.0.3", "10.0.0.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("POST", "/api/auth/login", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := rl.clientIP(r); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := s.do(t, "GET", "/healthz", "", nil)
	expectStatus(t, resp, body, http.StatusOK)

	resp, body = s.do(t, "GET", "/readyz", "", nil)
	expectStatus(t, resp, body, http.StatusOK)
	if body["ready"] != true {
		t.Errorf("expected ready, got %v", body)
	}

	res, err := http.Get(s.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(data), `workshop_http_requests_total{method="GET",route="GET /readyz",status="200"}`) {
		t.Errorf("expected request metric for /readyz, got:\n%s", data)
	}
}
