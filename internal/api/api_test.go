package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/hydrabase/realtime/internal/auth"
	"github.com/hydrabase/realtime/internal/backoff"
	"github.com/hydrabase/realtime/internal/bridge"
	"github.com/hydrabase/realtime/internal/hub"
	"github.com/hydrabase/realtime/internal/metrics"
	"github.com/hydrabase/realtime/internal/presence"
	"github.com/hydrabase/realtime/internal/registry"
	"github.com/hydrabase/realtime/internal/subscription"
)

type fixture struct {
	api *API
	reg *registry.Registry
	idx *subscription.Index
}

func newFixture(serviceKeyHash string) *fixture {
	reg := registry.New()
	idx := subscription.New()
	pres := presence.New()
	m := metrics.New()
	h := hub.New(reg, idx, m, slog.Default())
	b := bridge.New(nil, idx, h, m, slog.Default(), 0, backoff.DefaultPolicy())
	v := auth.NewVerifier("test-secret", serviceKeyHash)
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	return &fixture{
		api: New(v, reg, idx, pres, b, m, ws, slog.Default()),
		reg: reg,
		idx: idx,
	}
}

func (f *fixture) addSubscriber(user, tenant, channel string) *registry.Conn {
	c := registry.NewConn(auth.Claims{UserID: user, TenantID: tenant}, 8)
	f.reg.Add(c)
	f.idx.Subscribe(c.ID, channel)
	return c
}

func getJSON(t *testing.T, handler http.Handler, path string) map[string]any {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, rec.Code)
	}
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("GET %s: bad json: %v", path, err)
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture("")
	f.addSubscriber("u1", "t1", "orders")

	body := getJSON(t, f.api.Router(), "/health")
	if body["status"] != "ok" {
		t.Errorf("status = %v", body["status"])
	}
	if body["connections"] != float64(1) || body["channels"] != float64(1) {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestStats(t *testing.T) {
	f := newFixture("")
	f.addSubscriber("u1", "t1", "orders")
	f.addSubscriber("u2", "t1", "orders")

	body := getJSON(t, f.api.Router(), "/api/stats")
	channels, _ := body["channels"].(map[string]any)
	if channels["orders"] != float64(2) {
		t.Errorf("stats channels = %v", body["channels"])
	}
	if body["bridge"] != "disconnected" {
		t.Errorf("bridge state = %v", body["bridge"])
	}
}

func TestNotify_DeliversToSubscribers(t *testing.T) {
	f := newFixture("")
	a := f.addSubscriber("u1", "tenant-a", "orders")
	f.addSubscriber("u2", "tenant-b", "orders")

	req := httptest.NewRequest("POST", "/api/notify",
		strings.NewReader(`{"channel":"orders","data":{"id":1},"tenantId":"tenant-a"}`))
	rec := httptest.NewRecorder()
	f.api.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	if out["delivered"] != float64(1) {
		t.Errorf("delivered = %v, want 1", out["delivered"])
	}

	select {
	case msg := <-a.Outbox():
		if !strings.Contains(string(msg), "postgres_change") {
			t.Errorf("unexpected frame: %s", msg)
		}
	default:
		t.Error("subscriber did not receive injected notification")
	}
}

func TestNotify_Validation(t *testing.T) {
	f := newFixture("")

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{{{`},
		{"missing channel", `{"data":{"x":1}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/notify", strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			f.api.Router().ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestNotify_ServiceKeyGate(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("svc-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	f := newFixture(string(hash))
	router := f.api.Router()

	req := httptest.NewRequest("POST", "/api/notify",
		strings.NewReader(`{"channel":"orders","data":{}}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key: status = %d, want 401", rec.Code)
	}

	req = httptest.NewRequest("POST", "/api/notify",
		strings.NewReader(`{"channel":"orders","data":{}}`))
	req.Header.Set("X-Service-Key", "svc-key")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("with key: status = %d, want 200", rec.Code)
	}
}
