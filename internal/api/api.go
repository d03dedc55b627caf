package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hydrabase/realtime/internal/auth"
	"github.com/hydrabase/realtime/internal/bridge"
	"github.com/hydrabase/realtime/internal/metrics"
	"github.com/hydrabase/realtime/internal/presence"
	"github.com/hydrabase/realtime/internal/registry"
	"github.com/hydrabase/realtime/internal/subscription"
)

type API struct {
	verifier *auth.Verifier
	reg      *registry.Registry
	idx      *subscription.Index
	pres     *presence.Tracker
	bridge   *bridge.Bridge
	m        *metrics.Metrics
	ws       http.Handler
	log      *slog.Logger
}

func New(verifier *auth.Verifier, reg *registry.Registry, idx *subscription.Index, pres *presence.Tracker, b *bridge.Bridge, m *metrics.Metrics, ws http.Handler, log *slog.Logger) *API {
	return &API{
		verifier: verifier,
		reg:      reg,
		idx:      idx,
		pres:     pres,
		bridge:   b,
		m:        m,
		ws:       ws,
		log:      log.With("component", "api"),
	}
}

func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":      "ok",
			"connections": a.reg.Len(),
			"channels":    a.idx.Len(),
		})
	})

	r.Get("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"connections": a.reg.Len(),
			"bridge":      a.bridge.State(),
			"channels":    a.idx.Counts(),
			"presence":    a.pres.Counts(),
		})
	})

	// Trigger endpoint: other services emit a change notification here
	// instead of writing to the database. Routed exactly like a
	// database-sourced notification.
	// POST /api/notify {"channel":"orders","data":{...},"tenantId":"t1"}
	r.Post("/api/notify", func(w http.ResponseWriter, r *http.Request) {
		if err := a.verifier.VerifyServiceKey(serviceKey(r)); err != nil {
			http.Error(w, "invalid service key", http.StatusUnauthorized)
			return
		}

		var req struct {
			Channel  string          `json:"channel"`
			Data     json.RawMessage `json:"data"`
			TenantID string          `json:"tenantId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		if req.Channel == "" {
			http.Error(w, "channel required", http.StatusBadRequest)
			return
		}

		delivered := a.bridge.Inject(req.Channel, req.Data, req.TenantID)
		a.log.Debug("notify injected", "channel", req.Channel, "delivered", delivered)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"delivered": delivered,
		})
	})

	r.Handle("/metrics", a.m.Handler())
	r.Handle("/ws", a.ws)

	return r
}

func serviceKey(r *http.Request) string {
	if k := r.Header.Get("X-Service-Key"); k != "" {
		return k
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}
