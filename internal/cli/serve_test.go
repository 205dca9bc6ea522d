package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	portal "github.com/academia-portal/portal-go"
	"github.com/academia-portal/portal-go/credential"
	"github.com/academia-portal/portal-go/fake"
	"github.com/academia-portal/portal-go/metrics"
	"github.com/academia-portal/portal-go/remote"
)

func newTestHost(t *testing.T) (*remote.Client, *httptest.Server) {
	t.Helper()
	_, api := fake.NewServer(
		fake.WithUser(fake.Student("s1", "alice"), "alice-pw"),
		fake.WithUser(fake.Admin("a1", "root"), "root-pw"),
	)
	t.Cleanup(api.Close)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	client, err := remote.NewClient(portal.Config{BaseURL: api.URL},
		remote.WithCredentialStore(credential.NewMemory()),
		remote.WithLogger(discardLogger()),
		remote.WithMetrics(m),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { client.Close() })
	if _, err := client.Session().Bootstrap(t.Context()); err != nil {
		t.Fatal(err)
	}

	host := httptest.NewServer(newWebHost(client, reg, m, discardLogger()))
	t.Cleanup(host.Close)
	return client, host
}

func hostCall(t *testing.T, host *httptest.Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, host.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	resp, err := host.Client().Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestWebHostGatesViews(t *testing.T) {
	_, host := newTestHost(t)

	if status, out := hostCall(t, host, http.MethodGet, "/student/claims", nil); status != http.StatusUnauthorized || out["redirect"] != "/login" {
		t.Errorf("signed out: %d %v", status, out)
	}

	status, out := hostCall(t, host, http.MethodPost, "/login", map[string]string{"username": "alice", "password": "alice-pw"})
	if status != http.StatusOK || out["redirect"] != "/student/dashboard" {
		t.Fatalf("login: %d %v", status, out)
	}

	status, out = hostCall(t, host, http.MethodPost, "/student/claims", map[string]string{"grade": "g-1", "reason": "missing bonus"})
	if status != http.StatusCreated || out["status"] != "pending" {
		t.Fatalf("create claim: %d %v", status, out)
	}
	status, out = hostCall(t, host, http.MethodGet, "/student/claims", nil)
	if results, _ := out["results"].([]any); status != http.StatusOK || len(results) != 1 {
		t.Errorf("list claims: %d %v", status, out)
	}

	if status, out := hostCall(t, host, http.MethodGet, "/admin/claims", nil); status != http.StatusForbidden || out["redirect"] != "/student/dashboard" {
		t.Errorf("student on admin view: %d %v", status, out)
	}
	if status, _ := hostCall(t, host, http.MethodPost, "/student/claims", map[string]string{"grade": "g-1"}); status != http.StatusBadRequest {
		t.Errorf("claim without reason status = %d", status)
	}
	if status, out := hostCall(t, host, http.MethodGet, "/profile", nil); status != http.StatusOK || out["request_id"] == "" {
		t.Errorf("profile: %d %v", status, out)
	}

	hostCall(t, host, http.MethodPost, "/logout", nil)
	if status, _ := hostCall(t, host, http.MethodGet, "/profile", nil); status != http.StatusUnauthorized {
		t.Errorf("profile after logout status = %d", status)
	}
}

func TestWebHostAdminDecides(t *testing.T) {
	_, host := newTestHost(t)
	hostCall(t, host, http.MethodPost, "/login", map[string]string{"username": "alice", "password": "alice-pw"})
	_, created := hostCall(t, host, http.MethodPost, "/student/claims", map[string]string{"grade": "g-2", "reason": "typo"})
	id, _ := created["id"].(string)
	hostCall(t, host, http.MethodPost, "/logout", nil)

	if status, out := hostCall(t, host, http.MethodPost, "/login", map[string]string{"username": "root", "password": "root-pw"}); status != http.StatusOK {
		t.Fatalf("admin login: %d %v", status, out)
	}
	status, out := hostCall(t, host, http.MethodGet, "/admin/claims?status=pending", nil)
	if results, _ := out["results"].([]any); status != http.StatusOK || len(results) != 1 {
		t.Fatalf("pending claims: %d %v", status, out)
	}

	decide := "/admin/claims/" + id + "/decide"
	if status, out := hostCall(t, host, http.MethodPost, decide, map[string]string{"outcome": "approved", "response": "fixed"}); status != http.StatusOK || out["status"] != "approved" {
		t.Errorf("decide: %d %v", status, out)
	}
	if status, _ := hostCall(t, host, http.MethodPost, decide, map[string]string{"outcome": "rejected", "response": "again"}); status != http.StatusConflict {
		t.Errorf("second decide status = %d, want 409", status)
	}
	if status, _ := hostCall(t, host, http.MethodPost, "/admin/claims/404/decide", map[string]string{"outcome": "rejected", "response": "x"}); status != http.StatusNotFound {
		t.Errorf("unknown claim status = %d, want 404", status)
	}
}

func TestWebHostHealthAndMetrics(t *testing.T) {
	_, host := newTestHost(t)
	if status, _ := hostCall(t, host, http.MethodGet, "/health", nil); status != http.StatusOK {
		t.Errorf("health status = %d", status)
	}
	hostCall(t, host, http.MethodGet, "/admin/claims", nil)

	resp, err := host.Client().Get(host.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	if !strings.Contains(buf.String(), "portal_guard_decisions_total") {
		t.Error("metrics missing guard decisions")
	}
}
